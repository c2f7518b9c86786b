package client

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/wlkit/wlkit/internal/logging"
	"github.com/wlkit/wlkit/internal/observability"
	"github.com/wlkit/wlkit/proto"
	"github.com/wlkit/wlkit/wire"
)

// EventQueue is one logical dispatch stream over the shared connection.
// Every proxy belongs to exactly one queue; events for it are buffered
// here until the owner drains them. Queues share the object table and
// the transport but never the read permission at the same instant.
type EventQueue struct {
	display *Display
	mu      sync.Mutex
	items   []pendingEvent
}

type pendingEvent struct {
	proxy   *Proxy
	desc    *proto.MessageDesc
	opcode  uint16
	args    []wire.Arg
	created *Proxy
}

func (q *EventQueue) push(item pendingEvent) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
}

func (q *EventQueue) pendingLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// DispatchPending delivers already-buffered events without touching the
// transport. Returns how many handlers ran.
func (q *EventQueue) DispatchPending() int {
	n := 0
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.mu.Unlock()
			return n
		}
		item := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		n++
		if item.proxy == nil || item.proxy.dispatcher == nil {
			continue
		}
		start := time.Now()
		item.proxy.dispatcher.Dispatch(Event{
			Proxy:   item.proxy,
			Name:    item.desc.Name,
			Opcode:  item.opcode,
			Args:    item.args,
			Created: item.created,
		})
		observability.RecordDispatch(metricsRole, item.proxy.iface.Name, time.Since(start))
	}
}

// Dispatch delivers this queue's events, reading from the transport if
// nothing is buffered. It may return having delivered nothing when the
// read produced traffic for other queues only; callers loop.
func (q *EventQueue) Dispatch() error {
	if q.DispatchPending() > 0 {
		return nil
	}
	d := q.display
	if err := d.guard(); err != nil {
		return err
	}

	d.readMu.Lock()
	for {
		// Another queue may have routed to us while we waited for the
		// read permission.
		if q.pendingLen() > 0 {
			break
		}
		routed, err := d.demux()
		if err != nil {
			d.readMu.Unlock()
			return err
		}
		if routed > 0 {
			break
		}
		if _, err := d.sock.Fill(); err != nil {
			d.readMu.Unlock()
			return d.readError(err)
		}
	}
	d.readMu.Unlock()

	q.DispatchPending()
	return nil
}

// demux decodes every complete buffered message and routes it to its
// target queue, applying object-lifecycle side effects in stream order.
// Must run with the read permission held.
func (d *Display) demux() (int, error) {
	routed := 0
	for {
		h, err := d.sock.PeekHeader()
		if errors.Is(err, wire.ErrShortData) {
			return routed, nil
		}
		if err != nil {
			return routed, d.fail(err, "decode")
		}

		d.mu.Lock()
		obj, ok := d.objects.LookupAny(h.Sender)
		d.mu.Unlock()
		if !ok {
			return routed, d.fail(&ProtocolError{
				Object: uint32(h.Sender),
				Code:   proto.ErrCodeInvalidObject,
				Reason: "event for unknown object",
			}, "reference")
		}

		desc, err := obj.Interface.Event(h.Opcode, obj.Version)
		if err != nil {
			class := "decode"
			if errors.Is(err, proto.ErrVersion) {
				class = "version"
			}
			return routed, d.fail(err, class)
		}

		// Events already in flight for a locally destroyed object are
		// dropped, not errors: the server sent them before it saw the
		// destructor. The stream must still be decoded to stay aligned.
		if obj.Dead() {
			if err := d.sock.Discard(desc.Args); err != nil {
				return routed, d.fail(err, "decode")
			}
			continue
		}

		msg, err := d.sock.Consume(desc.Args)
		if err != nil {
			return routed, d.fail(err, "decode")
		}
		observability.RecordMessage(metricsRole, "in")
		if d.trace {
			logging.TraceMessage("<-", obj.Interface.Name, h.Sender, desc.Name, msg.Args)
		}

		if h.Sender == proto.DisplayID {
			if err := d.handleDisplayEvent(h.Opcode, msg.Args); err != nil {
				return routed, err
			}
			routed++
			continue
		}

		proxy, _ := obj.Data.(*Proxy)

		var created *Proxy
		if desc.Creates != nil {
			id := newIDOf(msg.Args)
			d.mu.Lock()
			newObj, ierr := d.objects.InsertAt(id, desc.Creates, obj.Version, nil)
			if ierr != nil {
				d.mu.Unlock()
				return routed, d.fail(&ProtocolError{
					Object: uint32(id),
					Code:   proto.ErrCodeInvalidObject,
					Reason: fmt.Sprintf("server-created object: %v", ierr),
				}, "reference")
			}
			created = &Proxy{display: d, id: id, iface: desc.Creates, version: obj.Version}
			if proxy != nil {
				created.queue = proxy.queue
			}
			newObj.Data = created
			d.mu.Unlock()
			observability.ObjectCreated(metricsRole)
		}

		if desc.Destructor {
			d.mu.Lock()
			_ = d.objects.MarkDead(h.Sender)
			d.mu.Unlock()
		}

		q := d.defaultQueue
		if proxy != nil && proxy.queue != nil {
			q = proxy.queue
		}
		q.push(pendingEvent{proxy: proxy, desc: desc, opcode: h.Opcode, args: msg.Args, created: created})
		routed++
	}
}

// handleDisplayEvent processes wl_display's intrinsic events inline;
// they drive the connection itself rather than user handlers.
func (d *Display) handleDisplayEvent(opcode uint16, args []wire.Arg) error {
	switch opcode {
	case proto.DisplayErrorEvent:
		perr := &ProtocolError{
			Object: uint32(args[0].Obj),
			Code:   args[1].Uint,
			Reason: args[2].Str,
		}
		d.mu.Lock()
		if obj, ok := d.objects.LookupAny(args[0].Obj); ok {
			perr.Interface = obj.Interface.Name
		}
		d.mu.Unlock()
		return d.fail(perr, "protocol")
	case proto.DisplayDeleteIDEvent:
		// The deletion acknowledgment: only now may the ID be reused.
		id := wire.ObjectID(args[0].Uint)
		d.mu.Lock()
		d.objects.Release(id)
		d.mu.Unlock()
		observability.ObjectReleased(metricsRole)
	}
	return nil
}

// readError translates transport failures into the terminal connection
// condition: clean peer shutdown closes, anything else is fatal.
func (d *Display) readError(err error) error {
	switch d.state.Load() {
	case stateClosed:
		return ErrClosed
	case stateError:
		return d.Err()
	}
	if errors.Is(err, io.EOF) {
		d.mu.Lock()
		if d.fatal == nil {
			d.fatal = fmt.Errorf("%w: peer hung up", ErrClosed)
		}
		d.mu.Unlock()
		d.state.CompareAndSwap(stateConnected, stateClosed)
		d.sock.Close()
		return d.Err()
	}
	return d.fail(fmt.Errorf("client: read: %w", err), "transport")
}

func newIDOf(args []wire.Arg) wire.ObjectID {
	for _, a := range args {
		if a.Kind == wire.KindNewID {
			return a.Obj
		}
	}
	return 0
}
