package server

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/wlkit/wlkit/internal/logging"
	"github.com/wlkit/wlkit/internal/observability"
	"github.com/wlkit/wlkit/objmap"
	"github.com/wlkit/wlkit/proto"
	"github.com/wlkit/wlkit/transport"
	"github.com/wlkit/wlkit/wire"
)

const metricsRole = "server"

// Connection states, mirroring the client side: Connected -> Error and
// Connected -> Closed are the only transitions and both are terminal.
const (
	stateConnected int32 = iota
	stateError
	stateClosed
)

// Client is one accepted connection: its transport, object table and
// serial counter. All request handling runs on the serve goroutine;
// events may be posted from any goroutine.
type Client struct {
	srv   *Server
	sock  *transport.Buffered
	log   zerolog.Logger
	trace bool

	// mu guards the object table, the fatal error, the serial counter
	// and the registry list. The serve goroutine is the only writer of
	// table liveness for request-created objects; event posters take it
	// briefly for destructor events.
	mu         sync.Mutex
	objects    *objmap.Map
	fatal      error
	serial     uint32
	registries []wire.ObjectID

	// sendMu serializes queue+flush so events posted by concurrent
	// goroutines never interleave mid-message.
	sendMu sync.Mutex

	limiter *rate.Limiter
	state   atomic.Int32

	displayRes *Resource
}

func newClient(srv *Server, sock *transport.Socket) *Client {
	c := &Client{
		srv:     srv,
		sock:    transport.NewBuffered(sock),
		log:     logging.Logger("server"),
		trace:   logging.WireTraceEnabled(),
		objects: objmap.New(),
	}
	if srv.limit > 0 {
		c.limiter = rate.NewLimiter(srv.limit, srv.burst)
	}

	obj, _ := c.objects.InsertAt(proto.DisplayID, proto.Display, 1, nil)
	c.displayRes = &Resource{client: c, id: proto.DisplayID, iface: proto.Display, version: 1}
	c.displayRes.handler = HandlerFunc(c.handleDisplay)
	obj.Data = c.displayRes
	return c
}

// Err returns the terminal error of the connection, nil while healthy.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fatal
}

// Close disconnects the client without a protocol error.
func (c *Client) Close() error {
	c.state.CompareAndSwap(stateConnected, stateClosed)
	c.mu.Lock()
	if c.fatal == nil {
		c.fatal = ErrClosed
	}
	c.mu.Unlock()
	return c.sock.Close()
}

// NextSerial returns the next event serial. Serials increase
// monotonically per connection and are never reused.
func (c *Client) NextSerial() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.serial++
	return c.serial
}

// NewResource creates a server-allocated object and announces nothing;
// the caller is responsible for the event that introduces it to the
// client.
func (c *Client) NewResource(iface *proto.Interface, version uint32, h Handler) (*Resource, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fatal != nil {
		return nil, c.fatal
	}
	obj, err := c.objects.InsertServer(iface, version, nil)
	if err != nil {
		return nil, err
	}
	res := &Resource{client: c, id: obj.ID, iface: iface, version: version, handler: h}
	obj.Data = res
	observability.ObjectCreated(metricsRole)
	return res, nil
}

// serve pumps the connection until it dies. Runs on its own goroutine.
func (c *Client) serve() {
	defer func() {
		c.srv.removeClient(c)
		// The serve goroutine owns the read side; with it gone only the
		// send lock still guards the buffers.
		c.sendMu.Lock()
		c.sock.Release()
		c.sendMu.Unlock()
	}()
	for {
		if err := c.demux(); err != nil {
			return
		}
		if _, err := c.sock.Fill(); err != nil {
			c.readError(err)
			return
		}
	}
}

// demux decodes and handles every complete buffered request in arrival
// order. Returns nil when more bytes are needed.
func (c *Client) demux() error {
	for {
		h, err := c.sock.PeekHeader()
		if errors.Is(err, wire.ErrShortData) {
			return nil
		}
		if err != nil {
			return c.protocolError(uint32(proto.DisplayID), proto.ErrCodeInvalidMethod,
				fmt.Sprintf("malformed request: %v", err))
		}

		if c.limiter != nil && !c.limiter.Allow() {
			return c.protocolError(uint32(proto.DisplayID), proto.ErrCodeImplementation,
				"request rate limit exceeded")
		}

		c.mu.Lock()
		obj, lerr := c.objects.Lookup(h.Sender)
		c.mu.Unlock()
		if lerr != nil {
			return c.protocolError(uint32(h.Sender), proto.ErrCodeInvalidObject,
				fmt.Sprintf("request on invalid object %d", h.Sender))
		}

		desc, derr := obj.Interface.Request(h.Opcode, obj.Version)
		if derr != nil {
			return c.protocolError(uint32(h.Sender), proto.ErrCodeInvalidMethod,
				fmt.Sprintf("%s: opcode %d: %v", obj.Interface.Name, h.Opcode, derr))
		}

		msg, merr := c.sock.Consume(desc.Args)
		if merr != nil {
			return c.protocolError(uint32(h.Sender), proto.ErrCodeInvalidMethod,
				fmt.Sprintf("%s.%s: %v", obj.Interface.Name, desc.Name, merr))
		}
		observability.RecordMessage(metricsRole, "in")
		if c.trace {
			logging.TraceMessage("<-", obj.Interface.Name, h.Sender, desc.Name, msg.Args)
		}

		res, _ := obj.Data.(*Resource)

		var created *Resource
		if desc.Creates != nil {
			id := newIDOf(msg.Args)
			created, err = c.createResource(id, desc.Creates, obj.Version, nil)
			if err != nil {
				return c.protocolError(uint32(id), proto.ErrCodeInvalidObject,
					fmt.Sprintf("%s.%s: bad new object id %d: %v", obj.Interface.Name, desc.Name, id, err))
			}
		}

		if res != nil && res.handler != nil {
			start := time.Now()
			herr := res.handler.HandleRequest(Request{
				Client:   c,
				Resource: res,
				Name:     desc.Name,
				Opcode:   h.Opcode,
				Args:     msg.Args,
				Created:  created,
			})
			observability.RecordDispatch(metricsRole, obj.Interface.Name, time.Since(start))
			if herr != nil {
				return c.protocolError(uint32(h.Sender), proto.ErrCodeImplementation, herr.Error())
			}
		}

		if desc.Destructor {
			c.mu.Lock()
			_ = c.objects.MarkDead(h.Sender)
			c.mu.Unlock()
			if err := c.sendDeleteID(h.Sender); err != nil {
				return err
			}
		}
	}
}

// createResource registers a client-allocated object. The ID must be the
// lowest free one in the client namespace; anything else is the client
// misbehaving.
func (c *Client) createResource(id wire.ObjectID, iface *proto.Interface, version uint32, h Handler) (*Resource, error) {
	if id >= objmap.ServerIDBase {
		return nil, objmap.ErrInvalidID
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	obj, err := c.objects.InsertAt(id, iface, version, nil)
	if err != nil {
		return nil, err
	}
	res := &Resource{client: c, id: id, iface: iface, version: version, handler: h}
	obj.Data = res
	observability.ObjectCreated(metricsRole)
	return res, nil
}

// handleDisplay serves the wl_display intrinsics.
func (c *Client) handleDisplay(req Request) error {
	switch req.Opcode {
	case proto.DisplaySyncOp:
		// done is a destructor event: Post retires the callback and
		// emits delete_id behind it.
		return req.Created.Post(proto.CallbackDoneEvent, wire.Uint(c.NextSerial()))
	case proto.DisplayGetRegistryOp:
		reg := req.Created
		reg.SetHandler(HandlerFunc(c.handleBind))
		c.mu.Lock()
		c.registries = append(c.registries, reg.id)
		c.mu.Unlock()
		return c.srv.advertiseTo(reg)
	}
	return nil
}

// handleBind serves wl_registry.bind. The new_id here is fully
// qualified on the wire, so the resource is created from the carried
// interface and version rather than the request schema.
func (c *Client) handleBind(req Request) error {
	name := req.Args[0].Uint
	ifaceName := req.Args[1].Str
	version := req.Args[2].Uint
	id := req.Args[3].Obj

	g := c.srv.lookupGlobal(name)
	if g == nil {
		return c.protocolError(uint32(req.Resource.id), proto.ErrCodeInvalidObject,
			fmt.Sprintf("bind: unknown global %d", name))
	}
	if g.iface.Name != ifaceName {
		return c.protocolError(uint32(req.Resource.id), proto.ErrCodeImplementation,
			fmt.Sprintf("bind: global %d is %s, not %s", name, g.iface.Name, ifaceName))
	}
	if version < 1 || version > g.version {
		return c.protocolError(uint32(req.Resource.id), proto.ErrCodeImplementation,
			fmt.Sprintf("bind: global %d version %d not in [1, %d]", name, version, g.version))
	}

	res, err := c.createResource(id, g.iface, version, nil)
	if err != nil {
		return c.protocolError(uint32(id), proto.ErrCodeInvalidObject,
			fmt.Sprintf("bind: bad new object id %d: %v", id, err))
	}
	return g.bind(res)
}

// postEvent validates and transmits one event. Destructor events mark
// the object dead before anything hits the wire and are followed by
// delete_id, releasing the ID for client reuse.
func (c *Client) postEvent(r *Resource, opcode uint16, args []wire.Arg) error {
	if c.state.Load() != stateConnected {
		return c.Err()
	}
	desc, err := r.iface.Event(opcode, r.version)
	if err != nil {
		return err
	}
	if err := checkEventArgs(desc, args); err != nil {
		return err
	}

	c.mu.Lock()
	if _, lerr := c.objects.Lookup(r.id); lerr != nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s@%d", ErrDeadResource, r.iface.Name, r.id)
	}
	if desc.Destructor {
		_ = c.objects.MarkDead(r.id)
	}
	c.mu.Unlock()

	if err := c.transmit(r.iface.Name, r.id, desc, opcode, args); err != nil {
		return err
	}
	if desc.Destructor {
		return c.sendDeleteID(r.id)
	}
	return nil
}

// sendDeleteID acknowledges an object's destruction and recycles its
// ID. Only client-allocated IDs are acknowledged; server-allocated ones
// are released silently.
func (c *Client) sendDeleteID(id wire.ObjectID) error {
	if id < objmap.ServerIDBase {
		desc, _ := proto.Display.Event(proto.DisplayDeleteIDEvent, 1)
		if err := c.transmit(proto.Display.Name, proto.DisplayID, desc, proto.DisplayDeleteIDEvent,
			[]wire.Arg{wire.Uint(uint32(id))}); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.objects.Release(id)
	c.mu.Unlock()
	observability.ObjectReleased(metricsRole)
	return nil
}

// transmit queues and flushes one validated event under the send lock.
func (c *Client) transmit(ifaceName string, id wire.ObjectID, desc *proto.MessageDesc, opcode uint16, args []wire.Arg) error {
	msg := wire.Message{Sender: id, Opcode: opcode, Args: args}
	if c.trace {
		logging.TraceMessage("->", ifaceName, id, desc.Name, args)
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.sock.Queue(&msg); err != nil {
		return err
	}
	if err := c.sock.Flush(); err != nil {
		return c.fail(fmt.Errorf("server: write: %w", err), "transport")
	}
	observability.RecordMessage(metricsRole, "out")
	return nil
}

// protocolError reports a violation to the client and tears the
// connection down: wl_display.error first, then the socket closes. Only
// the first violation is reported; later calls return the recorded
// error.
func (c *Client) protocolError(objectID, code uint32, reason string) error {
	err := fmt.Errorf("server: protocol error on object %d (code %d): %s", objectID, code, reason)
	c.mu.Lock()
	if c.fatal == nil {
		c.fatal = err
		c.log.Error().Uint32("object", objectID).Uint32("code", code).Str("reason", reason).
			Msg("protocol violation")
	}
	err = c.fatal
	c.mu.Unlock()

	if c.state.CompareAndSwap(stateConnected, stateError) {
		observability.RecordProtocolError(metricsRole, classForCode(code))

		// Best effort: the client may already be gone.
		desc, _ := proto.Display.Event(proto.DisplayErrorEvent, 1)
		args := []wire.Arg{wire.Object(wire.ObjectID(objectID)), wire.Uint(code), wire.String(reason)}
		if c.trace {
			logging.TraceMessage("->", proto.Display.Name, proto.DisplayID, desc.Name, args)
		}
		c.sendMu.Lock()
		if qerr := c.sock.Queue(&wire.Message{Sender: proto.DisplayID, Opcode: proto.DisplayErrorEvent, Args: args}); qerr == nil {
			_ = c.sock.Flush()
		}
		c.sendMu.Unlock()
		c.sock.Close()
	}
	return err
}

// fail records a non-protocol terminal error (transport, decode on
// write) and closes the connection without an error event.
func (c *Client) fail(err error, class string) error {
	c.mu.Lock()
	if c.fatal == nil {
		c.fatal = err
		c.log.Error().Err(err).Msg("connection failed")
	}
	err = c.fatal
	c.mu.Unlock()
	if c.state.CompareAndSwap(stateConnected, stateError) {
		observability.RecordProtocolError(metricsRole, class)
		c.sock.Close()
	}
	return err
}

// readError classifies a transport read failure: clean hangup is a
// normal disconnect, everything else is fatal.
func (c *Client) readError(err error) {
	if c.state.Load() != stateConnected {
		return
	}
	if errors.Is(err, io.EOF) {
		c.log.Debug().Msg("client disconnected")
		c.Close()
		return
	}
	c.fail(fmt.Errorf("server: read: %w", err), "transport")
}

func classForCode(code uint32) string {
	switch code {
	case proto.ErrCodeInvalidObject:
		return "reference"
	case proto.ErrCodeInvalidMethod:
		return "decode"
	default:
		return "protocol"
	}
}

// checkEventArgs verifies an event's argument list against its schema
// before marshalling.
func checkEventArgs(desc *proto.MessageDesc, args []wire.Arg) error {
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

func newIDOf(args []wire.Arg) wire.ObjectID {
	for _, a := range args {
		if a.Kind == wire.KindNewID {
			return a.Obj
		}
	}
	return 0
}
