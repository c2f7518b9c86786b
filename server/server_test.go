package server

import (
	"errors"
	"io"
	"net"
	"os"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/wlkit/wlkit/internal/testutil/testlog"
	"github.com/wlkit/wlkit/proto"
	"github.com/wlkit/wlkit/transport"
	"github.com/wlkit/wlkit/wire"
)

func socketFromPairFD(t *testing.T, fd int) *transport.Socket {
	t.Helper()
	f := os.NewFile(uintptr(fd), "pair")
	defer f.Close()
	conn, err := net.FileConn(f)
	if err != nil {
		t.Fatalf("fileconn: %v", err)
	}
	return transport.NewSocket(conn.(*net.UnixConn))
}

// rawPair serves one end and hands the other back as a bare wire
// endpoint, for driving the server with hand-built messages.
func rawPair(t *testing.T, opts Options) (*transport.Buffered, *Client) {
	t.Helper()
	testlog.Start(t)
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	srv := NewServer(opts)
	c := srv.ServeConn(socketFromPairFD(t, fds[1]))
	raw := transport.NewBuffered(socketFromPairFD(t, fds[0]))
	t.Cleanup(func() {
		raw.Close()
		srv.Close()
	})
	return raw, c
}

func send(t *testing.T, raw *transport.Buffered, m wire.Message) {
	t.Helper()
	if err := raw.Queue(&m); err != nil {
		t.Fatalf("queue: %v", err)
	}
	if err := raw.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

func recv(t *testing.T, raw *transport.Buffered, sig []wire.ArgSpec) wire.Message {
	t.Helper()
	for {
		if _, err := raw.PeekHeader(); err == nil {
			break
		} else if !errors.Is(err, wire.ErrShortData) {
			t.Fatalf("peek: %v", err)
		}
		if _, err := raw.Fill(); err != nil {
			t.Fatalf("fill: %v", err)
		}
	}
	msg, err := raw.Consume(sig)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	return msg
}

var (
	doneSig     = []wire.ArgSpec{{Kind: wire.KindUint}}
	deleteIDSig = []wire.ArgSpec{{Kind: wire.KindUint}}
	errorSig    = []wire.ArgSpec{
		{Kind: wire.KindObject, AllowNull: true},
		{Kind: wire.KindUint},
		{Kind: wire.KindString},
	}
)

// recvError reads until the stream ends or wl_display.error arrives.
func recvError(t *testing.T, raw *transport.Buffered) wire.Message {
	t.Helper()
	for {
		h, err := raw.PeekHeader()
		if errors.Is(err, wire.ErrShortData) {
			if _, err := raw.Fill(); err != nil {
				t.Fatalf("fill while waiting for error: %v", err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("peek: %v", err)
		}
		if h.Sender == proto.DisplayID && h.Opcode == proto.DisplayErrorEvent {
			return recv(t, raw, errorSig)
		}
		// Skip unrelated traffic (done, delete_id).
		if err := raw.Discard(deleteIDSig); err != nil {
			t.Fatalf("discard: %v", err)
		}
	}
}

func TestSyncEmitsDoneThenDeleteID(t *testing.T) {
	raw, _ := rawPair(t, Options{})

	send(t, raw, wire.Message{Sender: proto.DisplayID, Opcode: proto.DisplaySyncOp,
		Args: []wire.Arg{wire.NewID(2)}})

	done := recv(t, raw, doneSig)
	if done.Sender != 2 || done.Opcode != proto.CallbackDoneEvent {
		t.Fatalf("expected callback done, got %+v", done)
	}
	del := recv(t, raw, deleteIDSig)
	if del.Sender != proto.DisplayID || del.Opcode != proto.DisplayDeleteIDEvent {
		t.Fatalf("expected delete_id, got %+v", del)
	}
	if del.Args[0].Uint != 2 {
		t.Fatalf("delete_id names %d, want 2", del.Args[0].Uint)
	}
}

func TestCloseDuringActiveServe(t *testing.T) {
	raw, c := rawPair(t, Options{})

	for i := 0; i < 8; i++ {
		send(t, raw, wire.Message{Sender: proto.DisplayID, Opcode: proto.DisplaySyncOp,
			Args: []wire.Arg{wire.NewID(2)}})
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !errors.Is(c.Err(), ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", c.Err())
	}

	// Whatever the serve goroutine managed to emit before the close is
	// still well formed, and the stream ends in a clean hangup.
	for {
		if _, err := raw.PeekHeader(); err == nil {
			if derr := raw.Discard(deleteIDSig); derr != nil {
				t.Fatalf("discard: %v", derr)
			}
			continue
		} else if !errors.Is(err, wire.ErrShortData) {
			t.Fatalf("peek: %v", err)
		}
		if _, err := raw.Fill(); err != nil {
			if !errors.Is(err, io.EOF) {
				t.Fatalf("expected clean hangup, got %v", err)
			}
			return
		}
	}
}

func TestRequestOnUnknownObjectIsFatal(t *testing.T) {
	raw, c := rawPair(t, Options{})

	send(t, raw, wire.Message{Sender: 42, Opcode: 0, Args: []wire.Arg{wire.NewID(2)}})

	e := recvError(t, raw)
	if e.Args[1].Uint != proto.ErrCodeInvalidObject {
		t.Fatalf("expected invalid_object, got code %d (%s)", e.Args[1].Uint, e.Args[2].Str)
	}
	if _, err := raw.Fill(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected connection teardown, got %v", err)
	}
	if c.Err() == nil {
		t.Fatalf("terminal error not recorded")
	}
}

func TestUnknownOpcodeIsFatal(t *testing.T) {
	raw, _ := rawPair(t, Options{})

	send(t, raw, wire.Message{Sender: proto.DisplayID, Opcode: 9})

	e := recvError(t, raw)
	if e.Args[1].Uint != proto.ErrCodeInvalidMethod {
		t.Fatalf("expected invalid_method, got code %d (%s)", e.Args[1].Uint, e.Args[2].Str)
	}
}

func TestNewIDSkippingFreeIDsIsFatal(t *testing.T) {
	raw, _ := rawPair(t, Options{})

	// First client-allocated ID after the display must be 2, not 10.
	send(t, raw, wire.Message{Sender: proto.DisplayID, Opcode: proto.DisplaySyncOp,
		Args: []wire.Arg{wire.NewID(10)}})

	e := recvError(t, raw)
	if e.Args[1].Uint != proto.ErrCodeInvalidObject {
		t.Fatalf("expected invalid_object, got code %d (%s)", e.Args[1].Uint, e.Args[2].Str)
	}
}

func TestBindUnknownGlobalIsFatal(t *testing.T) {
	raw, _ := rawPair(t, Options{})

	send(t, raw, wire.Message{Sender: proto.DisplayID, Opcode: proto.DisplayGetRegistryOp,
		Args: []wire.Arg{wire.NewID(2)}})
	send(t, raw, wire.Message{Sender: 2, Opcode: proto.RegistryBindOp,
		Args: []wire.Arg{wire.Uint(77), wire.String("wl_callback"), wire.Uint(1), wire.NewID(3)}})

	e := recvError(t, raw)
	if e.Args[1].Uint != proto.ErrCodeInvalidObject {
		t.Fatalf("expected invalid_object, got code %d (%s)", e.Args[1].Uint, e.Args[2].Str)
	}
}

func TestBindInterfaceMismatchIsFatal(t *testing.T) {
	raw, c := rawPair(t, Options{})
	mismatch := &proto.Interface{Name: "test_global_mismatch", Version: 1}
	proto.Register(mismatch)
	name, err := c.srv.RegisterGlobal(mismatch, 1, func(*Resource) error { return nil })
	if err != nil {
		t.Fatalf("register global: %v", err)
	}

	send(t, raw, wire.Message{Sender: proto.DisplayID, Opcode: proto.DisplayGetRegistryOp,
		Args: []wire.Arg{wire.NewID(2)}})

	globalSig := []wire.ArgSpec{{Kind: wire.KindUint}, {Kind: wire.KindString}, {Kind: wire.KindUint}}
	ad := recv(t, raw, globalSig)
	if ad.Args[0].Uint != name || ad.Args[1].Str != "test_global_mismatch" {
		t.Fatalf("advertisement mismatch: %+v", ad)
	}

	send(t, raw, wire.Message{Sender: 2, Opcode: proto.RegistryBindOp,
		Args: []wire.Arg{wire.Uint(name), wire.String("something_else"), wire.Uint(1), wire.NewID(3)}})

	e := recvError(t, raw)
	if e.Args[1].Uint != proto.ErrCodeImplementation {
		t.Fatalf("expected implementation error, got code %d (%s)", e.Args[1].Uint, e.Args[2].Str)
	}
}

func TestRateLimiterDisconnectsFlooder(t *testing.T) {
	raw, c := rawPair(t, Options{RequestsPerSecond: 1, Burst: 1})

	send(t, raw, wire.Message{Sender: proto.DisplayID, Opcode: proto.DisplaySyncOp,
		Args: []wire.Arg{wire.NewID(2)}})
	send(t, raw, wire.Message{Sender: proto.DisplayID, Opcode: proto.DisplaySyncOp,
		Args: []wire.Arg{wire.NewID(2)}})

	e := recvError(t, raw)
	if e.Args[1].Uint != proto.ErrCodeImplementation {
		t.Fatalf("expected implementation error, got code %d (%s)", e.Args[1].Uint, e.Args[2].Str)
	}
	if c.Err() == nil {
		t.Fatalf("terminal error not recorded")
	}
}

func TestRegisterGlobalValidatesVersion(t *testing.T) {
	testlog.Start(t)
	srv := NewServer(Options{})
	defer srv.Close()

	if _, err := srv.RegisterGlobal(proto.Callback, 2, func(*Resource) error { return nil }); !errors.Is(err, ErrGlobalVersion) {
		t.Fatalf("expected ErrGlobalVersion, got %v", err)
	}
	if err := srv.UnregisterGlobal(99); !errors.Is(err, ErrUnknownGlobal) {
		t.Fatalf("expected ErrUnknownGlobal, got %v", err)
	}
}

func TestNextSerialIsMonotonic(t *testing.T) {
	raw, c := rawPair(t, Options{})
	_ = raw
	a := c.NextSerial()
	b := c.NextSerial()
	if b <= a {
		t.Fatalf("serials not increasing: %d then %d", a, b)
	}
}
