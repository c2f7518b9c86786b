package transport

import (
	"errors"
	"net"

	"golang.org/x/sys/unix"

	"github.com/wlkit/wlkit/wire"
)

// MaxFDsOut is the most file descriptors one socket message may carry.
const MaxFDsOut = 28

// MaxBytesOut is the most payload bytes sent per socket message.
const MaxBytesOut = 4096

var ErrClosed = errors.New("transport: socket closed")

// Socket is one end of a connection: a unix stream plus its out-of-band
// descriptor channel.
type Socket struct {
	conn *net.UnixConn
}

// NewSocket wraps an established unix stream connection.
func NewSocket(conn *net.UnixConn) *Socket {
	return &Socket{conn: conn}
}

// WriteMsg sends bytes and descriptors together. The descriptors travel
// in the ancillary data of the first underlying sendmsg; remaining bytes
// follow plain. The caller must serialize writers (send lock) so frames
// from concurrent senders never interleave.
func (s *Socket) WriteMsg(b []byte, fds []int) error {
	var oob []byte
	if len(fds) > 0 {
		oob = unix.UnixRights(fds...)
	}
	n, _, err := s.conn.WriteMsgUnix(b, oob, nil)
	if err != nil {
		return err
	}
	// The kernel may accept fewer bytes than offered on a stream socket;
	// the descriptors are attached to what it did take.
	for n < len(b) {
		w, err := s.conn.Write(b[n:])
		if err != nil {
			return err
		}
		n += w
	}
	return nil
}

// ReadMsg reads available bytes into buf and appends any received
// descriptors, flagged close-on-exec, to fdq. Returns the byte count; a
// clean peer shutdown surfaces as io.EOF from the net layer.
func (s *Socket) ReadMsg(buf []byte, fdq *wire.FDQueue) (int, error) {
	oob := make([]byte, unix.CmsgSpace(MaxFDsOut*4))
	n, oobn, _, _, err := s.conn.ReadMsgUnix(buf, oob)
	if oobn > 0 {
		scms, perr := unix.ParseSocketControlMessage(oob[:oobn])
		if perr == nil {
			for _, scm := range scms {
				fds, perr := unix.ParseUnixRights(&scm)
				if perr != nil {
					continue
				}
				for _, fd := range fds {
					_, _ = unix.FcntlInt(uintptr(fd), unix.F_SETFD, unix.FD_CLOEXEC)
					fdq.Push(fd)
				}
			}
		}
	}
	return n, err
}

// Close shuts the stream down. Any fds still queued belong to the
// buffered layer, which drains them.
func (s *Socket) Close() error {
	return s.conn.Close()
}

// LocalAddr exposes the bound address, mainly for logging.
func (s *Socket) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}
