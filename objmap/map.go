package objmap

import (
	"errors"
	"fmt"

	"github.com/wlkit/wlkit/proto"
	"github.com/wlkit/wlkit/wire"
)

// ServerIDBase splits the ID namespace: IDs below it are allocated by the
// client, IDs at or above it by the server. ID 0 is the null object.
const ServerIDBase wire.ObjectID = 0xFF000000

var (
	ErrUnknownID   = errors.New("objmap: unknown object id")
	ErrDeadID      = errors.New("objmap: object already destroyed")
	ErrInvalidID   = errors.New("objmap: id is not the next free id")
	ErrExhausted   = errors.New("objmap: id namespace exhausted")
	ErrStaleHandle = errors.New("objmap: handle refers to a released object")
)

// Object is one live (or dead-awaiting-release) protocol object.
// Interface and Version are fixed at creation; Data is for the owning
// layer (a client proxy, a server resource).
type Object struct {
	ID        wire.ObjectID
	Interface *proto.Interface
	Version   uint32
	Data      any

	dead bool
	gen  uint64
}

// Dead reports whether the object's destructor has been processed.
func (o *Object) Dead() bool { return o.dead }

// Handle is a weak reference to an object: it stays valid across the
// object's death but detects slot reuse via the generation counter.
type Handle struct {
	ID  wire.ObjectID
	gen uint64
}

type slot struct {
	obj *Object // nil when free
	gen uint64  // bumped on every release
}

// Map tracks every object of one connection.
type Map struct {
	client []slot // IDs 1..ServerIDBase-1, slot i holds ID i+1
	server []slot // IDs ServerIDBase.., slot i holds ID ServerIDBase+i
}

func New() *Map {
	return &Map{}
}

// Lookup returns the live object for id. Dead and unknown IDs report
// distinguishable errors; both are protocol violations when a peer
// message names them.
func (m *Map) Lookup(id wire.ObjectID) (*Object, error) {
	s := m.slotFor(id)
	if s == nil || s.obj == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownID, id)
	}
	if s.obj.dead {
		return nil, fmt.Errorf("%w: %d", ErrDeadID, id)
	}
	return s.obj, nil
}

// LookupAny returns the object for id whether live or dead. Dispatch
// uses it to resolve signatures for messages addressed to zombies, which
// must still be decoded to keep the stream aligned.
func (m *Map) LookupAny(id wire.ObjectID) (*Object, bool) {
	s := m.slotFor(id)
	if s == nil || s.obj == nil {
		return nil, false
	}
	return s.obj, true
}

// InsertClient allocates the lowest free ID in the client namespace.
func (m *Map) InsertClient(iface *proto.Interface, version uint32, data any) (*Object, error) {
	idx, err := firstFree(&m.client, int(ServerIDBase)-1)
	if err != nil {
		return nil, err
	}
	return m.fill(&m.client, idx, wire.ObjectID(idx+1), iface, version, data), nil
}

// InsertServer allocates the lowest free ID in the server namespace.
func (m *Map) InsertServer(iface *proto.Interface, version uint32, data any) (*Object, error) {
	idx, err := firstFree(&m.server, int(^wire.ObjectID(0)-ServerIDBase)+1)
	if err != nil {
		return nil, err
	}
	return m.fill(&m.server, idx, ServerIDBase+wire.ObjectID(idx), iface, version, data), nil
}

// InsertAt registers an object under a peer-chosen ID. The ID must be the
// next free ID of its namespace; anything else means the peer skipped or
// reused an ID and the connection is desynchronized.
func (m *Map) InsertAt(id wire.ObjectID, iface *proto.Interface, version uint32, data any) (*Object, error) {
	if id == 0 {
		return nil, fmt.Errorf("%w: null id", ErrInvalidID)
	}
	store, idx := m.locate(id)
	if idx > len(*store) {
		return nil, fmt.Errorf("%w: %d skips free ids", ErrInvalidID, id)
	}
	if idx < len(*store) && (*store)[idx].obj != nil {
		return nil, fmt.Errorf("%w: %d is already in use", ErrInvalidID, id)
	}
	return m.fill(store, idx, id, iface, version, data), nil
}

// MarkDead records that the destructor for id has been processed. The
// object stops resolving but its ID stays reserved until Release, so
// in-flight messages naming it are recognized rather than misdelivered.
func (m *Map) MarkDead(id wire.ObjectID) error {
	obj, err := m.Lookup(id)
	if err != nil {
		return err
	}
	obj.dead = true
	return nil
}

// Release frees the slot for reuse. Called when the deletion
// acknowledgment (wl_display.delete_id) is exchanged, never before.
func (m *Map) Release(id wire.ObjectID) {
	s := m.slotFor(id)
	if s == nil || s.obj == nil {
		return
	}
	s.obj = nil
	s.gen++
}

// HandleFor returns a generation-checked weak reference to a live object.
func (m *Map) HandleFor(obj *Object) Handle {
	return Handle{ID: obj.ID, gen: obj.gen}
}

// Resolve turns a handle back into its object. A released or recycled
// slot yields ErrStaleHandle, a dead-but-unreleased object ErrDeadID.
func (m *Map) Resolve(h Handle) (*Object, error) {
	s := m.slotFor(h.ID)
	if s == nil || s.obj == nil || s.gen != h.gen {
		return nil, fmt.Errorf("%w: %d", ErrStaleHandle, h.ID)
	}
	if s.obj.dead {
		return nil, fmt.Errorf("%w: %d", ErrDeadID, h.ID)
	}
	return s.obj, nil
}

// All calls fn for every object still in the map, dead ones included.
// Used at teardown to fail outstanding owners.
func (m *Map) All(fn func(*Object)) {
	for i := range m.client {
		if m.client[i].obj != nil {
			fn(m.client[i].obj)
		}
	}
	for i := range m.server {
		if m.server[i].obj != nil {
			fn(m.server[i].obj)
		}
	}
}

func (m *Map) locate(id wire.ObjectID) (*[]slot, int) {
	if id >= ServerIDBase {
		return &m.server, int(id - ServerIDBase)
	}
	return &m.client, int(id - 1)
}

func (m *Map) slotFor(id wire.ObjectID) *slot {
	if id == 0 {
		return nil
	}
	store, idx := m.locate(id)
	if idx >= len(*store) {
		return nil
	}
	return &(*store)[idx]
}

func (m *Map) fill(store *[]slot, idx int, id wire.ObjectID, iface *proto.Interface, version uint32, data any) *Object {
	if idx == len(*store) {
		*store = append(*store, slot{})
	}
	s := &(*store)[idx]
	s.obj = &Object{ID: id, Interface: iface, Version: version, Data: data, gen: s.gen}
	return s.obj
}

func firstFree(store *[]slot, limit int) (int, error) {
	for i := range *store {
		if (*store)[i].obj == nil {
			return i, nil
		}
	}
	if len(*store) >= limit {
		return 0, ErrExhausted
	}
	return len(*store), nil
}
