package client

import (
	"fmt"
	"sort"
	"sync"

	"github.com/wlkit/wlkit/proto"
	"github.com/wlkit/wlkit/wire"
)

// Global is one advertised capability: a registry-scoped numeric name,
// the interface it instantiates, and the highest version the server
// supports for it.
type Global struct {
	Name      uint32
	Interface string
	Version   uint32
}

// Registry tracks the server's advertised globals. Globals come and go
// during the session (hot-plug); the table here reflects every
// global/global_remove event dispatched so far, and Bind refuses names
// that are no longer valid.
type Registry struct {
	proxy *Proxy

	mu      sync.RWMutex
	globals map[uint32]Global

	// OnGlobal and OnGlobalRemove observe advertisement changes. Set
	// them before the dispatching goroutine runs.
	OnGlobal       func(Global)
	OnGlobalRemove func(name uint32)
}

// GetRegistry creates (once) the wl_registry object. Advertisements
// arrive as events; Roundtrip after this to see the initial burst.
func (d *Display) GetRegistry() (*Registry, error) {
	d.registryOnce.Do(func() {
		r := &Registry{globals: make(map[uint32]Global)}
		p, err := d.displayProxy.SendConstructor(proto.DisplayGetRegistryOp, r, wire.Arg{})
		if err != nil {
			d.registryErr = err
			return
		}
		r.proxy = p
		d.registry = r
	})
	return d.registry, d.registryErr
}

// Dispatch consumes wl_registry events, keeping the global table
// current before user callbacks observe the change.
func (r *Registry) Dispatch(ev Event) {
	switch ev.Opcode {
	case proto.RegistryGlobalEvent:
		g := Global{Name: ev.Args[0].Uint, Interface: ev.Args[1].Str, Version: ev.Args[2].Uint}
		r.mu.Lock()
		r.globals[g.Name] = g
		r.mu.Unlock()
		if r.OnGlobal != nil {
			r.OnGlobal(g)
		}
	case proto.RegistryGlobalRemoveEvent:
		name := ev.Args[0].Uint
		r.mu.Lock()
		delete(r.globals, name)
		r.mu.Unlock()
		if r.OnGlobalRemove != nil {
			r.OnGlobalRemove(name)
		}
	}
}

// Globals returns the currently-valid advertisements, ordered by name.
func (r *Registry) Globals() []Global {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Global, 0, len(r.globals))
	for _, g := range r.globals {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Find returns the advertisement for an interface name, preferring the
// lowest registry name when several exist.
func (r *Registry) Find(iface string) (Global, bool) {
	for _, g := range r.Globals() {
		if g.Interface == iface {
			return g, true
		}
	}
	return Global{}, false
}

// Bind instantiates a global. The requested version may be anything from
// 1 up to the advertised maximum (and no higher than this
// implementation supports); the negotiated version then gates every
// message in the object's hierarchy.
func (r *Registry) Bind(name uint32, iface *proto.Interface, version uint32, dispatcher Dispatcher) (*Proxy, error) {
	r.mu.RLock()
	g, ok := r.globals[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: name %d", ErrUnknownGlobal, name)
	}
	if g.Interface != iface.Name {
		return nil, fmt.Errorf("%w: name %d is %s, requested %s", ErrGlobalMismatch, name, g.Interface, iface.Name)
	}
	if version < 1 || version > g.Version || version > iface.Version {
		return nil, fmt.Errorf("%w: requested %d, advertised %d", ErrGlobalVersion, version, g.Version)
	}

	d := r.proxy.display
	return d.sendConstructorTyped(r.proxy, proto.RegistryBindOp, iface, version, dispatcher,
		[]wire.Arg{wire.Uint(name), wire.String(iface.Name), wire.Uint(version), {}})
}
