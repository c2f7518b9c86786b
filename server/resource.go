package server

import (
	"github.com/wlkit/wlkit/proto"
	"github.com/wlkit/wlkit/wire"
)

// Request is one delivered client request, already decoded against the
// target interface's schema.
type Request struct {
	Client   *Client
	Resource *Resource
	Name     string
	Opcode   uint16
	Args     []wire.Arg

	// Created is the resource this request constructed (new_id
	// argument), nil for ordinary requests. It is already registered;
	// attach a handler to receive its requests.
	Created *Resource
}

// Handler receives every request addressed to one resource, in arrival
// order, on the client's serve goroutine. A returned error is an
// implementation failure: the client gets wl_display.error and is torn
// down.
type Handler interface {
	HandleRequest(req Request) error
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(req Request) error

func (f HandlerFunc) HandleRequest(req Request) error { return f(req) }

// Resource is the server-side representation of one protocol object
// owned by a single client.
type Resource struct {
	client  *Client
	id      wire.ObjectID
	iface   *proto.Interface
	version uint32
	handler Handler
}

func (r *Resource) ID() wire.ObjectID           { return r.id }
func (r *Resource) Interface() *proto.Interface { return r.iface }
func (r *Resource) Version() uint32             { return r.version }
func (r *Resource) Client() *Client             { return r.client }

// SetHandler replaces the handler receiving this resource's requests.
func (r *Resource) SetHandler(h Handler) { r.handler = h }

// Post emits an event on this resource. Destructor events retire the
// object: the ID is recycled and delete_id follows on the wire.
func (r *Resource) Post(opcode uint16, args ...wire.Arg) error {
	return r.client.postEvent(r, opcode, args)
}

// PostError reports a protocol violation blamed on this resource and
// tears the client down. Use the wl_display error codes or an
// interface-specific one.
func (r *Resource) PostError(code uint32, reason string) {
	r.client.protocolError(uint32(r.id), code, reason)
}
