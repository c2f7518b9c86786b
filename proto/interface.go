package proto

import (
	"errors"
	"fmt"
	"sync"

	"github.com/wlkit/wlkit/wire"
)

var (
	ErrUnknownOpcode = errors.New("proto: unknown opcode for interface")
	ErrVersion       = errors.New("proto: message not available at negotiated version")
)

// MessageDesc describes one request or event of an interface.
type MessageDesc struct {
	Name  string
	Since uint32 // first interface version carrying this message
	Args  []wire.ArgSpec

	// Destructor marks the message as terminal for its object.
	Destructor bool

	// Creates names the interface constructed by a new_id argument,
	// nil when the message creates nothing. A created object inherits the
	// version of its parent (the version covers the whole sub-hierarchy).
	Creates *Interface
}

// Interface describes a protocol interface: its wire name, the highest
// version this implementation supports, and the message tables indexed
// by opcode.
type Interface struct {
	Name     string
	Version  uint32
	Requests []MessageDesc
	Events   []MessageDesc
}

// Request resolves a request opcode, checking it against the object's
// negotiated version.
func (i *Interface) Request(opcode uint16, version uint32) (*MessageDesc, error) {
	return lookup(i, i.Requests, opcode, version)
}

// Event resolves an event opcode, checking it against the object's
// negotiated version.
func (i *Interface) Event(opcode uint16, version uint32) (*MessageDesc, error) {
	return lookup(i, i.Events, opcode, version)
}

func lookup(i *Interface, table []MessageDesc, opcode uint16, version uint32) (*MessageDesc, error) {
	if int(opcode) >= len(table) {
		return nil, fmt.Errorf("%w: %s opcode %d", ErrUnknownOpcode, i.Name, opcode)
	}
	d := &table[opcode]
	if d.Since > version {
		return nil, fmt.Errorf("%w: %s.%s requires version %d, negotiated %d",
			ErrVersion, i.Name, d.Name, d.Since, version)
	}
	return d, nil
}

var (
	registryMu sync.RWMutex
	interfaces = map[string]*Interface{}
)

// Register makes an interface resolvable by wire name, so registry binds
// and daemon configuration can refer to it. Core interfaces register
// themselves; applications register their own extensions.
func Register(i *Interface) {
	registryMu.Lock()
	defer registryMu.Unlock()
	interfaces[i.Name] = i
}

// Lookup resolves a registered interface by wire name.
func Lookup(name string) (*Interface, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	i, ok := interfaces[name]
	return i, ok
}
