package client

import (
	"errors"
	"net"
	"os"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/wlkit/wlkit/internal/testutil/testlog"
	"github.com/wlkit/wlkit/proto"
	"github.com/wlkit/wlkit/server"
	"github.com/wlkit/wlkit/transport"
	"github.com/wlkit/wlkit/wire"
)

// testOutput is a stand-in for a versioned display global.
var testOutput = &proto.Interface{
	Name:    "test_output",
	Version: 3,
	Requests: []proto.MessageDesc{
		{Name: "release", Since: 1, Destructor: true},
	},
	Events: []proto.MessageDesc{
		{Name: "geometry", Since: 1, Args: []wire.ArgSpec{
			{Kind: wire.KindInt}, {Kind: wire.KindInt},
		}},
		{Name: "scale", Since: 2, Args: []wire.ArgSpec{{Kind: wire.KindInt}}},
	},
}

func init() {
	proto.Register(testOutput)
}

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

func pairDisplay(t *testing.T, opts server.Options) (*Display, *server.Server) {
	t.Helper()
	testlog.Start(t)
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	srv := server.NewServer(opts)
	srv.ServeConn(socketFromPairFD(t, fds[1]))
	d := New(socketFromPairFD(t, fds[0]))
	t.Cleanup(func() {
		d.Close()
		srv.Close()
	})
	return d, srv
}

// registerOutput registers the test global and hands back each bound
// resource. The bind handler posts geometry always and scale only at
// version 2 or above.
func registerOutput(t *testing.T, srv *server.Server, version uint32) (uint32, chan *server.Resource) {
	t.Helper()
	bound := make(chan *server.Resource, 4)
	name, err := srv.RegisterGlobal(testOutput, version, func(res *server.Resource) error {
		if err := res.Post(0, wire.Int(1920), wire.Int(1080)); err != nil {
			return err
		}
		if res.Version() >= 2 {
			if err := res.Post(1, wire.Int(2)); err != nil {
				return err
			}
		}
		bound <- res
		return nil
	})
	if err != nil {
		t.Fatalf("register global: %v", err)
	}
	return name, bound
}

type eventRecorder struct {
	events []Event
}

func (r *eventRecorder) Dispatch(ev Event) { r.events = append(r.events, ev) }

func TestRoundtrip(t *testing.T) {
	d, _ := pairDisplay(t, server.Options{})
	for i := 0; i < 3; i++ {
		if err := d.Roundtrip(); err != nil {
			t.Fatalf("roundtrip %d: %v", i, err)
		}
	}
}

func TestSyncCallbackCarriesIncreasingSerials(t *testing.T) {
	d, _ := pairDisplay(t, server.Options{})

	var serials []uint32
	for i := 0; i < 3; i++ {
		if _, err := d.Sync(func(s uint32) { serials = append(serials, s) }); err != nil {
			t.Fatalf("sync: %v", err)
		}
	}
	if err := d.Roundtrip(); err != nil {
		t.Fatalf("roundtrip: %v", err)
	}
	if len(serials) != 3 {
		t.Fatalf("expected 3 callbacks, got %d", len(serials))
	}
	for i := 1; i < len(serials); i++ {
		if serials[i] <= serials[i-1] {
			t.Fatalf("serials not increasing: %v", serials)
		}
	}
}

func TestRegistryAdvertisesGlobals(t *testing.T) {
	d, srv := pairDisplay(t, server.Options{})
	name, _ := registerOutput(t, srv, 2)

	reg, err := d.GetRegistry()
	if err != nil {
		t.Fatalf("get registry: %v", err)
	}
	if err := d.Roundtrip(); err != nil {
		t.Fatalf("roundtrip: %v", err)
	}

	g, ok := reg.Find("test_output")
	if !ok {
		t.Fatalf("global not advertised")
	}
	if g.Name != name || g.Version != 2 {
		t.Fatalf("advertisement mismatch: %+v", g)
	}
}

func TestBindNegotiatesVersion(t *testing.T) {
	d, srv := pairDisplay(t, server.Options{})
	name, bound := registerOutput(t, srv, 2)

	reg, err := d.GetRegistry()
	if err != nil {
		t.Fatalf("get registry: %v", err)
	}
	if err := d.Roundtrip(); err != nil {
		t.Fatalf("roundtrip: %v", err)
	}

	rec := &eventRecorder{}
	p, err := reg.Bind(name, testOutput, 2, rec)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	if p.Version() != 2 {
		t.Fatalf("negotiated version: %d", p.Version())
	}
	if err := d.Roundtrip(); err != nil {
		t.Fatalf("roundtrip: %v", err)
	}

	res := <-bound
	if res.Version() != 2 {
		t.Fatalf("server-side version: %d", res.Version())
	}
	if len(rec.events) != 2 {
		t.Fatalf("expected geometry+scale, got %d events", len(rec.events))
	}
	if rec.events[0].Name != "geometry" || rec.events[0].Args[0].Int != 1920 {
		t.Fatalf("geometry mismatch: %+v", rec.events[0])
	}
	if rec.events[1].Name != "scale" || rec.events[1].Args[0].Int != 2 {
		t.Fatalf("scale mismatch: %+v", rec.events[1])
	}
}

func TestBindAtVersionOneOmitsNewerEvents(t *testing.T) {
	d, srv := pairDisplay(t, server.Options{})
	name, _ := registerOutput(t, srv, 2)

	reg, _ := d.GetRegistry()
	if err := d.Roundtrip(); err != nil {
		t.Fatalf("roundtrip: %v", err)
	}

	rec := &eventRecorder{}
	if _, err := reg.Bind(name, testOutput, 1, rec); err != nil {
		t.Fatalf("bind v1: %v", err)
	}
	if err := d.Roundtrip(); err != nil {
		t.Fatalf("roundtrip: %v", err)
	}
	if len(rec.events) != 1 || rec.events[0].Name != "geometry" {
		t.Fatalf("expected only geometry at v1, got %+v", rec.events)
	}
}

func TestBindValidation(t *testing.T) {
	d, srv := pairDisplay(t, server.Options{})
	name, _ := registerOutput(t, srv, 2)

	reg, _ := d.GetRegistry()
	if err := d.Roundtrip(); err != nil {
		t.Fatalf("roundtrip: %v", err)
	}

	if _, err := reg.Bind(name+100, testOutput, 1, nil); !errors.Is(err, ErrUnknownGlobal) {
		t.Fatalf("expected ErrUnknownGlobal, got %v", err)
	}
	if _, err := reg.Bind(name, proto.Callback, 1, nil); !errors.Is(err, ErrGlobalMismatch) {
		t.Fatalf("expected ErrGlobalMismatch, got %v", err)
	}
	if _, err := reg.Bind(name, testOutput, 3, nil); !errors.Is(err, ErrGlobalVersion) {
		t.Fatalf("expected ErrGlobalVersion, got %v", err)
	}
}

func TestGlobalHotPlug(t *testing.T) {
	d, srv := pairDisplay(t, server.Options{})

	reg, err := d.GetRegistry()
	if err != nil {
		t.Fatalf("get registry: %v", err)
	}
	var added, removed []uint32
	reg.OnGlobal = func(g Global) { added = append(added, g.Name) }
	reg.OnGlobalRemove = func(name uint32) { removed = append(removed, name) }
	if err := d.Roundtrip(); err != nil {
		t.Fatalf("roundtrip: %v", err)
	}

	name, _ := registerOutput(t, srv, 2)
	if err := d.Roundtrip(); err != nil {
		t.Fatalf("roundtrip: %v", err)
	}
	if len(added) != 1 || added[0] != name {
		t.Fatalf("hot-plug add not seen: %v", added)
	}
	if _, ok := reg.Find("test_output"); !ok {
		t.Fatalf("global missing from table")
	}

	if err := srv.UnregisterGlobal(name); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if err := d.Roundtrip(); err != nil {
		t.Fatalf("roundtrip: %v", err)
	}
	if len(removed) != 1 || removed[0] != name {
		t.Fatalf("hot-plug remove not seen: %v", removed)
	}
	if _, err := reg.Bind(name, testOutput, 1, nil); !errors.Is(err, ErrUnknownGlobal) {
		t.Fatalf("bind after removal: %v", err)
	}
}

func TestUseAfterDestroyIsALocalError(t *testing.T) {
	d, srv := pairDisplay(t, server.Options{})
	name, _ := registerOutput(t, srv, 2)

	reg, _ := d.GetRegistry()
	if err := d.Roundtrip(); err != nil {
		t.Fatalf("roundtrip: %v", err)
	}
	p, err := reg.Bind(name, testOutput, 1, nil)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}

	if err := p.Destroy(0); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if err := p.Send(0); !errors.Is(err, ErrDeadProxy) {
		t.Fatalf("expected ErrDeadProxy, got %v", err)
	}
	// The connection itself stays healthy.
	if err := d.Roundtrip(); err != nil {
		t.Fatalf("roundtrip after destroy: %v", err)
	}
}

func TestDestroyedIDIsReusedAfterAcknowledgment(t *testing.T) {
	d, srv := pairDisplay(t, server.Options{})
	name, _ := registerOutput(t, srv, 2)

	reg, _ := d.GetRegistry()
	if err := d.Roundtrip(); err != nil {
		t.Fatalf("roundtrip: %v", err)
	}

	p, err := reg.Bind(name, testOutput, 1, nil)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	id := p.ID()
	if err := p.Destroy(0); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	// Before the delete_id acknowledgment the ID must stay reserved.
	q, err := reg.Bind(name, testOutput, 1, nil)
	if err != nil {
		t.Fatalf("bind while pending: %v", err)
	}
	if q.ID() == id {
		t.Fatalf("id %d recycled before acknowledgment", id)
	}

	if err := d.Roundtrip(); err != nil {
		t.Fatalf("roundtrip: %v", err)
	}
	r, err := reg.Bind(name, testOutput, 1, nil)
	if err != nil {
		t.Fatalf("bind after ack: %v", err)
	}
	if r.ID() != id {
		t.Fatalf("expected id %d reused after ack, got %d", id, r.ID())
	}
}

func TestEventsForZombieObjectsAreDropped(t *testing.T) {
	d, srv := pairDisplay(t, server.Options{})
	name, bound := registerOutput(t, srv, 2)

	reg, _ := d.GetRegistry()
	if err := d.Roundtrip(); err != nil {
		t.Fatalf("roundtrip: %v", err)
	}

	rec := &eventRecorder{}
	p, err := reg.Bind(name, testOutput, 2, rec)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := d.Roundtrip(); err != nil {
		t.Fatalf("roundtrip: %v", err)
	}
	res := <-bound
	got := len(rec.events)

	// The event is flushed to the client before the destructor is sent:
	// it is already in flight when the object dies locally.
	if err := res.Post(0, wire.Int(800), wire.Int(600)); err != nil {
		t.Fatalf("post: %v", err)
	}
	if err := p.Destroy(0); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if err := d.Roundtrip(); err != nil {
		t.Fatalf("roundtrip: %v", err)
	}
	if len(rec.events) != got {
		t.Fatalf("zombie event delivered: %+v", rec.events[got:])
	}

	// The server has processed the destructor by now.
	if err := res.Post(0, wire.Int(1), wire.Int(1)); !errors.Is(err, server.ErrDeadResource) {
		t.Fatalf("expected ErrDeadResource, got %v", err)
	}
}

func TestSeparateEventQueues(t *testing.T) {
	d, srv := pairDisplay(t, server.Options{})
	name, bound := registerOutput(t, srv, 2)

	reg, _ := d.GetRegistry()
	if err := d.Roundtrip(); err != nil {
		t.Fatalf("roundtrip: %v", err)
	}

	rec := &eventRecorder{}
	p, err := reg.Bind(name, testOutput, 2, rec)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := d.Roundtrip(); err != nil {
		t.Fatalf("roundtrip: %v", err)
	}
	res := <-bound
	got := len(rec.events)

	q := d.NewQueue()
	p.SetQueue(q)

	if err := res.Post(1, wire.Int(3)); err != nil {
		t.Fatalf("post: %v", err)
	}
	if err := d.Roundtrip(); err != nil {
		t.Fatalf("roundtrip: %v", err)
	}
	// The event was routed to q, not dispatched by the default queue.
	if len(rec.events) != got {
		t.Fatalf("event leaked to default queue: %+v", rec.events[got:])
	}
	if n := q.DispatchPending(); n != 1 {
		t.Fatalf("expected 1 pending event on queue, got %d", n)
	}
	if rec.events[len(rec.events)-1].Name != "scale" {
		t.Fatalf("wrong event delivered: %+v", rec.events[len(rec.events)-1])
	}
}

func TestVersionGatedRequestRejectedLocally(t *testing.T) {
	d, srv := pairDisplay(t, server.Options{})
	name, _ := registerOutput(t, srv, 2)

	reg, _ := d.GetRegistry()
	if err := d.Roundtrip(); err != nil {
		t.Fatalf("roundtrip: %v", err)
	}
	p, err := reg.Bind(name, testOutput, 1, nil)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := p.Send(5); !errors.Is(err, proto.ErrUnknownOpcode) {
		t.Fatalf("expected ErrUnknownOpcode, got %v", err)
	}
}

func TestCloseMakesEverythingFail(t *testing.T) {
	d, _ := pairDisplay(t, server.Options{})
	if err := d.Roundtrip(); err != nil {
		t.Fatalf("roundtrip: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := d.Roundtrip(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := d.Sync(func(uint32) {}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestCloseAbortsBlockedDispatch(t *testing.T) {
	d, _ := pairDisplay(t, server.Options{})
	if err := d.Roundtrip(); err != nil {
		t.Fatalf("roundtrip: %v", err)
	}

	errc := make(chan error, 1)
	go func() {
		for {
			if err := d.Queue().Dispatch(); err != nil {
				errc <- err
				return
			}
		}
	}()

	if err := d.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := <-errc; !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestServerShutdownSurfacesAsClosed(t *testing.T) {
	d, srv := pairDisplay(t, server.Options{})
	if err := d.Roundtrip(); err != nil {
		t.Fatalf("roundtrip: %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Fatalf("server close: %v", err)
	}
	if err := d.Roundtrip(); err == nil {
		t.Fatalf("expected roundtrip failure after server shutdown")
	}
	if d.Err() == nil {
		t.Fatalf("terminal error not recorded")
	}
}
