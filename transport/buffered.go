package transport

import (
	"golang.org/x/sys/unix"

	"github.com/wlkit/wlkit/wire"
)

func closeFD(fd int) {
	_ = unix.Close(fd)
}

// Buffered frames complete messages out of the raw stream and batches
// outgoing messages for atomic flushes.
//
// It is not synchronized: the owning connection serializes readers with
// its read permission and writers with its send lock.
type Buffered struct {
	sock *Socket

	in    []byte
	inFDs wire.FDQueue

	out    []byte
	outFDs wire.FDQueue

	readBuf [MaxBytesOut]byte
}

func NewBuffered(sock *Socket) *Buffered {
	return &Buffered{sock: sock}
}

// Fill performs one read from the socket, growing the inbound buffer.
// Returns the number of new bytes; io.EOF surfaces a clean peer shutdown.
func (b *Buffered) Fill() (int, error) {
	n, err := b.sock.ReadMsg(b.readBuf[:], &b.inFDs)
	if n > 0 {
		b.in = append(b.in, b.readBuf[:n]...)
	}
	return n, err
}

// PeekHeader returns the header of the first complete buffered message,
// or wire.ErrShortData when more bytes are needed. Nothing is consumed.
func (b *Buffered) PeekHeader() (wire.Header, error) {
	return wire.ParseHeader(b.in)
}

// Consume decodes and removes the first buffered message using the given
// signature. Callers resolve the signature from the header first.
func (b *Buffered) Consume(sig []wire.ArgSpec) (wire.Message, error) {
	msg, rest, err := wire.Parse(b.in, sig, &b.inFDs)
	if err != nil {
		return wire.Message{}, err
	}
	b.in = b.in[len(b.in)-len(rest):]
	return msg, nil
}

// Discard drops the first complete buffered message undecoded, keeping
// the stream aligned. Used for events addressed to zombie objects, whose
// signatures are still known.
func (b *Buffered) Discard(sig []wire.ArgSpec) error {
	msg, rest, err := wire.Parse(b.in, sig, &b.inFDs)
	if err != nil {
		return err
	}
	// Descriptors for a dropped message must still be closed.
	for _, a := range msg.Args {
		if a.Kind == wire.KindFD {
			closeFD(a.FD)
		}
	}
	b.in = b.in[len(b.in)-len(rest):]
	return nil
}

// Queue marshals a message into the outbound buffer. It does not touch
// the socket; Flush does.
func (b *Buffered) Queue(m *wire.Message) error {
	data, err := wire.Marshal(m, &b.outFDs)
	if err != nil {
		return err
	}
	b.out = append(b.out, data...)
	return nil
}

// PendingOut reports buffered outbound bytes, for metrics and tests.
func (b *Buffered) PendingOut() int {
	return len(b.out)
}

// Flush writes everything queued, chunked to the transport's per-message
// byte and descriptor limits. Descriptors ride with the earliest chunks.
func (b *Buffered) Flush() error {
	for len(b.out) > 0 || b.outFDs.Len() > 0 {
		chunk := b.out
		if len(chunk) > MaxBytesOut {
			chunk = chunk[:MaxBytesOut]
		}
		var fds []int
		for len(fds) < MaxFDsOut {
			fd, ok := b.outFDs.Pop()
			if !ok {
				break
			}
			fds = append(fds, fd)
		}
		if err := b.sock.WriteMsg(chunk, fds); err != nil {
			return err
		}
		b.out = b.out[len(chunk):]
	}
	return nil
}

// Close shuts the socket down, waking any reader blocked in Fill. The
// buffers stay untouched: a concurrent reader or sender may still be
// inside them. The owner reclaims them with Release once both sides have
// stopped.
func (b *Buffered) Close() error {
	return b.sock.Close()
}

// Release drains undelivered descriptors on both directions and drops
// the buffers. May only run with the read and send permissions held, or
// after the goroutines holding them have exited. Safe to call twice.
func (b *Buffered) Release() {
	b.inFDs.Drain()
	b.outFDs.Drain()
	b.in = nil
	b.out = nil
}
