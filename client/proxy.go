package client

import (
	"github.com/wlkit/wlkit/proto"
	"github.com/wlkit/wlkit/wire"
)

// Event is one delivered protocol event, already decoded against the
// target interface's schema.
type Event struct {
	Proxy  *Proxy
	Name   string
	Opcode uint16
	Args   []wire.Arg

	// Created is the proxy for the object this event constructed
	// (server-allocated new_id), nil for ordinary events. It is already
	// registered; attach a dispatcher to receive its events.
	Created *Proxy
}

// Dispatcher receives every event addressed to one object. All events
// for a given object arrive in emission order, on the goroutine draining
// the object's queue.
type Dispatcher interface {
	Dispatch(ev Event)
}

// DispatcherFunc adapts a plain function to Dispatcher.
type DispatcherFunc func(ev Event)

func (f DispatcherFunc) Dispatch(ev Event) { f(ev) }

// Proxy is the client-side representation of one protocol object.
// Interface and version are fixed at creation.
type Proxy struct {
	display    *Display
	id         wire.ObjectID
	iface      *proto.Interface
	version    uint32
	queue      *EventQueue
	dispatcher Dispatcher
}

func (p *Proxy) ID() wire.ObjectID           { return p.id }
func (p *Proxy) Interface() *proto.Interface { return p.iface }
func (p *Proxy) Version() uint32             { return p.version }
func (p *Proxy) Display() *Display           { return p.display }

// SetDispatcher replaces the handler receiving this object's events.
func (p *Proxy) SetDispatcher(d Dispatcher) { p.dispatcher = d }

// SetQueue moves this object's future events onto q. Call it before the
// events of interest are demultiplexed; already-routed events stay on
// the old queue.
func (p *Proxy) SetQueue(q *EventQueue) { p.queue = q }

// Send submits a request on this proxy. Argument slots of kind new_id
// must be pre-filled by SendConstructor; use Send only for requests that
// create nothing.
func (p *Proxy) Send(opcode uint16, args ...wire.Arg) error {
	return p.display.sendRequest(p, opcode, args)
}

// SendConstructor submits a request whose new_id argument creates an
// object. The created proxy is registered before the request hits the
// wire, so events for it can never race its existence. Pass the zero
// wire.Arg in the new_id position; it is filled in here.
func (p *Proxy) SendConstructor(opcode uint16, dispatcher Dispatcher, args ...wire.Arg) (*Proxy, error) {
	return p.display.sendConstructor(p, opcode, dispatcher, args)
}

// Destroy sends the destructor request carrying the given opcode. The
// object stops accepting requests immediately; its ID is recycled only
// after the server acknowledges with delete_id.
func (p *Proxy) Destroy(opcode uint16, args ...wire.Arg) error {
	return p.display.sendRequest(p, opcode, args)
}
