package client

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/wlkit/wlkit/internal/logging"
	"github.com/wlkit/wlkit/internal/observability"
	"github.com/wlkit/wlkit/objmap"
	"github.com/wlkit/wlkit/proto"
	"github.com/wlkit/wlkit/transport"
	"github.com/wlkit/wlkit/wire"
)

const metricsRole = "client"

// Connection states. The only transitions are Connected -> Error (any
// protocol or transport violation) and Connected -> Closed (local Close
// or clean peer shutdown); both are terminal.
const (
	stateConnected int32 = iota
	stateError
	stateClosed
)

// Display is the root of a client session: it owns the transport, the
// object table and the event queues multiplexed over the connection.
type Display struct {
	sock  *transport.Buffered
	log   zerolog.Logger
	trace bool

	// mu guards the object table and the fatal error. The dispatch path
	// is the only writer of table contents (single-writer discipline);
	// request submission takes it briefly to validate liveness and to
	// allocate IDs.
	mu      sync.Mutex
	objects *objmap.Map
	fatal   error

	// sendMu serializes queue+flush so frames from concurrent senders
	// never interleave mid-message.
	sendMu sync.Mutex

	// readMu is the read permission: whichever queue holds it is the one
	// goroutine allowed to pull bytes off the transport.
	readMu sync.Mutex

	state atomic.Int32

	displayProxy *Proxy
	defaultQueue *EventQueue

	registryOnce sync.Once
	registry     *Registry
	registryErr  error
}

// Connect establishes a session using the environment contract
// (WAYLAND_SOCKET, WAYLAND_DISPLAY, XDG_RUNTIME_DIR).
func Connect() (*Display, error) {
	sock, err := transport.Connect()
	if err != nil {
		return nil, err
	}
	return New(sock), nil
}

// ConnectPath establishes a session on an explicit socket path.
func ConnectPath(path string) (*Display, error) {
	sock, err := transport.ConnectPath(path)
	if err != nil {
		return nil, err
	}
	return New(sock), nil
}

// New wraps an established socket. The wl_display object (ID 1) exists
// immediately; everything else is created through it.
func New(sock *transport.Socket) *Display {
	d := &Display{
		sock:    transport.NewBuffered(sock),
		log:     logging.Logger("client"),
		trace:   logging.WireTraceEnabled(),
		objects: objmap.New(),
	}
	d.defaultQueue = &EventQueue{display: d}

	obj, _ := d.objects.InsertAt(proto.DisplayID, proto.Display, 1, nil)
	d.displayProxy = &Proxy{display: d, id: proto.DisplayID, iface: proto.Display, version: 1, queue: d.defaultQueue}
	obj.Data = d.displayProxy
	return d
}

// Proxy returns the wl_display proxy itself, for sending core requests.
func (d *Display) Proxy() *Proxy { return d.displayProxy }

// Queue returns the default event queue.
func (d *Display) Queue() *EventQueue { return d.defaultQueue }

// NewQueue creates an additional logical queue sharing this connection.
func (d *Display) NewQueue() *EventQueue {
	return &EventQueue{display: d}
}

// Err returns the terminal error of the connection, nil while healthy.
func (d *Display) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fatal
}

// Close shuts the connection down. Pending dispatch is aborted and every
// blocked or future operation fails with ErrClosed.
func (d *Display) Close() error {
	d.state.CompareAndSwap(stateConnected, stateClosed)
	d.mu.Lock()
	if d.fatal == nil {
		d.fatal = ErrClosed
	}
	d.mu.Unlock()
	err := d.sock.Close()

	// Reclaiming the buffers needs both permissions; the socket close
	// above has already woken any reader blocked in Fill.
	d.readMu.Lock()
	d.sendMu.Lock()
	d.sock.Release()
	d.sendMu.Unlock()
	d.readMu.Unlock()
	return err
}

// guard rejects operations on a dead connection.
func (d *Display) guard() error {
	switch d.state.Load() {
	case stateConnected:
		return nil
	case stateClosed:
		return ErrClosed
	default:
		return d.Err()
	}
}

// fail records the first terminal error, moves to the Error state and
// tears the transport down, waking any blocked reader. Always returns
// the recorded (possibly earlier) terminal error.
func (d *Display) fail(err error, class string) error {
	d.mu.Lock()
	if d.fatal == nil {
		d.fatal = err
		d.log.Error().Err(err).Msg("connection failed")
	}
	err = d.fatal
	d.mu.Unlock()
	if d.state.CompareAndSwap(stateConnected, stateError) {
		observability.RecordProtocolError(metricsRole, class)
		d.sock.Close()
	}
	return err
}

// Sync sends wl_display.sync; cb runs with the event serial once every
// prior request has been processed by the server.
func (d *Display) Sync(cb func(serial uint32)) (*Proxy, error) {
	return d.displayProxy.SendConstructor(proto.DisplaySyncOp, DispatcherFunc(func(ev Event) {
		if ev.Opcode == proto.CallbackDoneEvent {
			cb(ev.Args[0].Uint)
		}
	}), wire.Arg{})
}

// Roundtrip blocks until the server has processed every request sent so
// far, dispatching the default queue while it waits.
func (d *Display) Roundtrip() error {
	var done atomic.Bool
	if _, err := d.Sync(func(uint32) { done.Store(true) }); err != nil {
		return err
	}
	for !done.Load() {
		if err := d.defaultQueue.Dispatch(); err != nil {
			return err
		}
	}
	return nil
}

// sendRequest validates and transmits one request. Destructor requests
// mark the object dead before anything hits the wire, so a racing second
// request on the same object is rejected locally.
func (d *Display) sendRequest(p *Proxy, opcode uint16, args []wire.Arg) error {
	if err := d.guard(); err != nil {
		return err
	}
	desc, err := p.iface.Request(opcode, p.version)
	if err != nil {
		return err
	}
	if err := checkArgs(desc, args); err != nil {
		return err
	}

	d.mu.Lock()
	if _, lerr := d.objects.Lookup(p.id); lerr != nil {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s@%d", ErrDeadProxy, p.iface.Name, p.id)
	}
	if desc.Destructor {
		_ = d.objects.MarkDead(p.id)
	}
	d.mu.Unlock()

	return d.transmit(p, desc, opcode, args)
}

// sendConstructor allocates the created object, registers it, fills the
// new_id slot and transmits. The interface comes from the request schema
// and the version is inherited from the parent, covering the whole
// hierarchy with one negotiated number.
func (d *Display) sendConstructor(p *Proxy, opcode uint16, dispatcher Dispatcher, args []wire.Arg) (*Proxy, error) {
	desc, err := p.iface.Request(opcode, p.version)
	if err != nil {
		return nil, err
	}
	if desc.Creates == nil {
		return nil, fmt.Errorf("proto: %s.%s creates nothing", p.iface.Name, desc.Name)
	}
	return d.sendConstructorTyped(p, opcode, desc.Creates, p.version, dispatcher, args)
}

func (d *Display) sendConstructorTyped(p *Proxy, opcode uint16, iface *proto.Interface, version uint32, dispatcher Dispatcher, args []wire.Arg) (*Proxy, error) {
	if err := d.guard(); err != nil {
		return nil, err
	}
	desc, err := p.iface.Request(opcode, p.version)
	if err != nil {
		return nil, err
	}
	idSlot := -1
	for i, spec := range desc.Args {
		if spec.Kind == wire.KindNewID {
			idSlot = i
			break
		}
	}
	if idSlot < 0 || idSlot >= len(args) {
		return nil, fmt.Errorf("proto: %s.%s has no new_id slot", p.iface.Name, desc.Name)
	}

	d.mu.Lock()
	if _, lerr := d.objects.Lookup(p.id); lerr != nil {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: %s@%d", ErrDeadProxy, p.iface.Name, p.id)
	}
	obj, err := d.objects.InsertClient(iface, version, nil)
	if err != nil {
		d.mu.Unlock()
		return nil, err
	}
	created := &Proxy{display: d, id: obj.ID, iface: iface, version: version, queue: p.queue, dispatcher: dispatcher}
	obj.Data = created
	d.mu.Unlock()
	observability.ObjectCreated(metricsRole)

	args[idSlot] = wire.NewID(obj.ID)
	if err := checkArgs(desc, args); err != nil {
		return nil, err
	}
	if err := d.transmit(p, desc, opcode, args); err != nil {
		return nil, err
	}
	return created, nil
}

// transmit queues and flushes one validated message under the send lock.
func (d *Display) transmit(p *Proxy, desc *proto.MessageDesc, opcode uint16, args []wire.Arg) error {
	msg := wire.Message{Sender: p.id, Opcode: opcode, Args: args}
	if d.trace {
		logging.TraceMessage("->", p.iface.Name, p.id, desc.Name, args)
	}

	d.sendMu.Lock()
	defer d.sendMu.Unlock()
	if err := d.sock.Queue(&msg); err != nil {
		return err
	}
	if err := d.sock.Flush(); err != nil {
		return d.fail(err, "transport")
	}
	observability.RecordMessage(metricsRole, "out")
	return nil
}

// checkArgs verifies the argument list against the schema before it is
// marshalled: count, kinds, and null only where the schema allows it.
func checkArgs(desc *proto.MessageDesc, args []wire.Arg) error {
	if len(args) != len(desc.Args) {
		return fmt.Errorf("proto: %s takes %d arguments, got %d", desc.Name, len(desc.Args), len(args))
	}
	for i, spec := range desc.Args {
		if args[i].Kind != spec.Kind {
			return fmt.Errorf("proto: %s argument %d is %s, got %s", desc.Name, i, spec.Kind, args[i].Kind)
		}
		if args[i].Null && !spec.AllowNull {
			return fmt.Errorf("%w: %s argument %d", wire.ErrNullForbidden, desc.Name, i)
		}
	}
	return nil
}
