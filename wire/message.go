package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
)

// HeaderSize is the fixed message header length in bytes.
const HeaderSize = 8

// MaxMessageSize is the largest encodable message. The header stores the
// total size in 16 bits, header included.
const MaxMessageSize = 1<<16 - 1

// hostOrder matches the peer: the protocol transmits native-endian words
// over a local socket, so both ends always agree.
var hostOrder = binary.NativeEndian

// Header is the fixed 8-byte message header.
//
//	0        4        6        8
//	┌────────┬────────┬────────┐
//	│ sender │ opcode │  size  │
//	│ uint32 │ uint16 │ uint16 │
//	└────────┴────────┴────────┘
//
// Size counts the whole message, header included, and is always a
// multiple of 4.
type Header struct {
	Sender ObjectID
	Opcode uint16
	Size   uint16
}

// Message is one request or event: the sending (or target) object, the
// opcode scoped to that object's interface, and the fixed argument list.
type Message struct {
	Sender ObjectID
	Opcode uint16
	Args   []Arg
}

// ParseHeader reads the header of the first message in buf without
// consuming anything. Returns ErrShortData until buf holds the complete
// message, so callers can wait for more bytes before dispatching.
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, ErrShortData
	}
	word2 := hostOrder.Uint32(buf[4:8])
	h := Header{
		Sender: ObjectID(hostOrder.Uint32(buf[0:4])),
		Opcode: uint16(word2 & 0xffff),
		Size:   uint16(word2 >> 16),
	}
	if h.Size < HeaderSize {
		return Header{}, fmt.Errorf("%w: size %d below header size", ErrMalformed, h.Size)
	}
	if int(h.Size) > len(buf) {
		return Header{}, ErrShortData
	}
	return h, nil
}

// Marshal encodes the message into wire bytes. File descriptor arguments
// occupy no payload bytes; they are appended to fds in argument order for
// the transport to carry out of band.
func Marshal(m *Message, fds *FDQueue) ([]byte, error) {
	buf := make([]byte, HeaderSize, HeaderSize+8*len(m.Args))

	// Descriptors are staged locally and handed to the queue only once
	// the whole message has encoded, so a failed marshal leaves the
	// queue untouched. Mirrors the all-or-nothing rule in Parse.
	var staged []int
	for i := range m.Args {
		var err error
		buf, err = appendArg(buf, &m.Args[i], &staged)
		if err != nil {
			return nil, err
		}
	}
	if len(buf) > MaxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(buf))
	}
	hostOrder.PutUint32(buf[0:4], uint32(m.Sender))
	hostOrder.PutUint32(buf[4:8], uint32(len(buf))<<16|uint32(m.Opcode))
	for _, fd := range staged {
		fds.Push(fd)
	}
	return buf, nil
}

func appendArg(buf []byte, a *Arg, staged *[]int) ([]byte, error) {
	switch a.Kind {
	case KindInt:
		return hostOrder.AppendUint32(buf, uint32(a.Int)), nil
	case KindUint:
		return hostOrder.AppendUint32(buf, a.Uint), nil
	case KindFixed:
		return hostOrder.AppendUint32(buf, uint32(a.Fixed)), nil
	case KindString:
		if a.Null {
			return hostOrder.AppendUint32(buf, 0), nil
		}
		if strings.IndexByte(a.Str, 0) >= 0 {
			return nil, fmt.Errorf("%w: string argument contains NUL", ErrMalformed)
		}
		// Length counts the terminating NUL.
		buf = hostOrder.AppendUint32(buf, uint32(len(a.Str)+1))
		buf = append(buf, a.Str...)
		buf = append(buf, 0)
		return appendPadding(buf, len(a.Str)+1), nil
	case KindObject, KindNewID:
		return hostOrder.AppendUint32(buf, uint32(a.Obj)), nil
	case KindArray:
		buf = hostOrder.AppendUint32(buf, uint32(len(a.Data)))
		buf = append(buf, a.Data...)
		return appendPadding(buf, len(a.Data)), nil
	case KindFD:
		*staged = append(*staged, a.FD)
		return buf, nil
	}
	return nil, fmt.Errorf("%w: unknown argument kind %d", ErrMalformed, a.Kind)
}

func appendPadding(buf []byte, n int) []byte {
	for n%4 != 0 {
		buf = append(buf, 0)
		n++
	}
	return buf
}

// Parse decodes the first message in buf against the given signature,
// consuming fds for KindFD slots in order. It returns the message and the
// unconsumed tail of buf.
//
// ErrShortData means buf does not yet hold the whole message; no fds are
// consumed in that case. Any other error is fatal for the connection.
func Parse(buf []byte, sig []ArgSpec, fds *FDQueue) (Message, []byte, error) {
	h, err := ParseHeader(buf)
	if err != nil {
		return Message{}, buf, err
	}

	// All fds must be present before any is consumed, so a failed parse
	// leaves the queue untouched.
	need := 0
	for _, spec := range sig {
		if spec.Kind == KindFD {
			need++
		}
	}
	if need > fds.Len() {
		return Message{}, buf, ErrMissingFD
	}

	payload := buf[HeaderSize:h.Size]
	rest := buf[h.Size:]
	m := Message{Sender: h.Sender, Opcode: h.Opcode, Args: make([]Arg, 0, len(sig))}

	for _, spec := range sig {
		if spec.Kind == KindFD {
			fd, _ := fds.Pop()
			m.Args = append(m.Args, FD(fd))
			continue
		}
		if len(payload) < 4 {
			return Message{}, buf, fmt.Errorf("%w: truncated argument", ErrMalformed)
		}
		word := hostOrder.Uint32(payload[0:4])
		payload = payload[4:]

		switch spec.Kind {
		case KindInt:
			m.Args = append(m.Args, Int(int32(word)))
		case KindUint:
			m.Args = append(m.Args, Uint(word))
		case KindFixed:
			m.Args = append(m.Args, FixedArg(Fixed(word)))
		case KindString:
			if word == 0 {
				if !spec.AllowNull {
					return Message{}, buf, ErrNullForbidden
				}
				m.Args = append(m.Args, NullString())
				continue
			}
			raw, tail, err := splitArray(int(word), payload)
			if err != nil {
				return Message{}, buf, err
			}
			payload = tail
			// Exactly one NUL, in the final position.
			if raw[len(raw)-1] != 0 || bytes.IndexByte(raw[:len(raw)-1], 0) >= 0 {
				return Message{}, buf, fmt.Errorf("%w: bad string termination", ErrMalformed)
			}
			m.Args = append(m.Args, String(string(raw[:len(raw)-1])))
		case KindObject:
			if word == 0 && !spec.AllowNull {
				return Message{}, buf, ErrNullForbidden
			}
			m.Args = append(m.Args, Object(ObjectID(word)))
		case KindNewID:
			if word == 0 {
				return Message{}, buf, fmt.Errorf("%w: new_id must not be null", ErrMalformed)
			}
			m.Args = append(m.Args, NewID(ObjectID(word)))
		case KindArray:
			raw, tail, err := splitArray(int(word), payload)
			if err != nil {
				return Message{}, buf, err
			}
			payload = tail
			m.Args = append(m.Args, Array(append([]byte(nil), raw...)))
		default:
			return Message{}, buf, fmt.Errorf("%w: unknown argument kind %d", ErrMalformed, spec.Kind)
		}
	}

	if len(payload) != 0 {
		return Message{}, buf, fmt.Errorf("%w: %d trailing payload bytes", ErrMalformed, len(payload))
	}
	return m, rest, nil
}

// splitArray carves a length-prefixed field body plus its padding off
// payload. The length prefix has already been consumed by the caller.
func splitArray(n int, payload []byte) ([]byte, []byte, error) {
	padded := (n + 3) &^ 3
	if padded > len(payload) {
		return nil, nil, fmt.Errorf("%w: field length %d exceeds payload", ErrMalformed, n)
	}
	return payload[:n], payload[padded:], nil
}
