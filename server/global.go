package server

import (
	"fmt"

	"github.com/wlkit/wlkit/proto"
	"github.com/wlkit/wlkit/wire"
)

// BindFunc runs when a client binds a global. The resource is already
// registered at the client-chosen version; the implementation attaches
// its handler and may post initial state. A returned error tears the
// binding client down.
type BindFunc func(res *Resource) error

type globalEntry struct {
	name    uint32
	iface   *proto.Interface
	version uint32
	bind    BindFunc
}

// RegisterGlobal advertises a new global at the given version to every
// current and future client, returning its registry name. Versions run
// from 1 to the interface's maximum.
func (s *Server) RegisterGlobal(iface *proto.Interface, version uint32, bind BindFunc) (uint32, error) {
	if version < 1 || version > iface.Version {
		return 0, fmt.Errorf("%w: %s version %d not in [1, %d]", ErrGlobalVersion, iface.Name, version, iface.Version)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrClosed
	}
	s.nextName++
	g := &globalEntry{name: s.nextName, iface: iface, version: version, bind: bind}
	s.globals[g.name] = g
	s.order = append(s.order, g.name)
	regs := s.registriesLocked()
	s.mu.Unlock()

	s.log.Info().Str("interface", iface.Name).Uint32("name", g.name).Uint32("version", version).
		Msg("global registered")
	for _, reg := range regs {
		_ = reg.Post(proto.RegistryGlobalEvent,
			wire.Uint(g.name), wire.String(iface.Name), wire.Uint(version))
	}
	return g.name, nil
}

// UnregisterGlobal withdraws a global. Clients see global_remove;
// objects already bound to it keep working until destroyed.
func (s *Server) UnregisterGlobal(name uint32) error {
	s.mu.Lock()
	g, ok := s.globals[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownGlobal, name)
	}
	delete(s.globals, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	regs := s.registriesLocked()
	s.mu.Unlock()

	s.log.Info().Str("interface", g.iface.Name).Uint32("name", name).Msg("global withdrawn")
	for _, reg := range regs {
		_ = reg.Post(proto.RegistryGlobalRemoveEvent, wire.Uint(name))
	}
	return nil
}

func (s *Server) lookupGlobal(name uint32) *globalEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.globals[name]
}

// advertiseTo replays every current global to a freshly bound registry,
// in registration order.
func (s *Server) advertiseTo(reg *Resource) error {
	s.mu.Lock()
	entries := make([]*globalEntry, 0, len(s.order))
	for _, name := range s.order {
		entries = append(entries, s.globals[name])
	}
	s.mu.Unlock()

	for _, g := range entries {
		if err := reg.Post(proto.RegistryGlobalEvent,
			wire.Uint(g.name), wire.String(g.iface.Name), wire.Uint(g.version)); err != nil {
			return err
		}
	}
	return nil
}

// registriesLocked snapshots every live registry resource across all
// clients. Caller holds s.mu.
func (s *Server) registriesLocked() []*Resource {
	var out []*Resource
	for c := range s.clients {
		c.mu.Lock()
		for _, id := range c.registries {
			if obj, err := c.objects.Lookup(id); err == nil {
				if res, ok := obj.Data.(*Resource); ok {
					out = append(out, res)
				}
			}
		}
		c.mu.Unlock()
	}
	return out
}
