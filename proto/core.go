package proto

import "github.com/wlkit/wlkit/wire"

// DisplayID is the root object of every connection. It always exists and
// is never destroyed while the connection lives.
const DisplayID wire.ObjectID = 1

// wl_display opcodes.
const (
	DisplaySyncOp        uint16 = 0
	DisplayGetRegistryOp uint16 = 1

	DisplayErrorEvent    uint16 = 0
	DisplayDeleteIDEvent uint16 = 1
)

// wl_registry opcodes.
const (
	RegistryBindOp uint16 = 0

	RegistryGlobalEvent       uint16 = 0
	RegistryGlobalRemoveEvent uint16 = 1
)

// wl_callback opcodes.
const (
	CallbackDoneEvent uint16 = 0
)

// Protocol error codes carried by wl_display.error.
const (
	ErrCodeInvalidObject  uint32 = 0
	ErrCodeInvalidMethod  uint32 = 1
	ErrCodeNoMemory       uint32 = 2
	ErrCodeImplementation uint32 = 3
)

// Display is the root interface of the connection.
var Display = &Interface{
	Name:    "wl_display",
	Version: 1,
	Requests: []MessageDesc{
		{Name: "sync", Since: 1, Creates: Callback,
			Args: []wire.ArgSpec{{Kind: wire.KindNewID}}},
		{Name: "get_registry", Since: 1, Creates: Registry,
			Args: []wire.ArgSpec{{Kind: wire.KindNewID}}},
	},
	Events: []MessageDesc{
		{Name: "error", Since: 1, Args: []wire.ArgSpec{
			{Kind: wire.KindObject, AllowNull: true},
			{Kind: wire.KindUint},
			{Kind: wire.KindString},
		}},
		{Name: "delete_id", Since: 1, Args: []wire.ArgSpec{{Kind: wire.KindUint}}},
	},
}

// Registry enumerates and binds globals.
//
// bind is irregular on the wire: its new_id is fully qualified, carried
// as (interface string, version, id) because the constructed interface is
// chosen at runtime.
var Registry = &Interface{
	Name:    "wl_registry",
	Version: 1,
	Requests: []MessageDesc{
		{Name: "bind", Since: 1, Args: []wire.ArgSpec{
			{Kind: wire.KindUint},   // global name
			{Kind: wire.KindString}, // interface
			{Kind: wire.KindUint},   // version
			{Kind: wire.KindNewID},  // id
		}},
	},
	Events: []MessageDesc{
		{Name: "global", Since: 1, Args: []wire.ArgSpec{
			{Kind: wire.KindUint},
			{Kind: wire.KindString},
			{Kind: wire.KindUint},
		}},
		{Name: "global_remove", Since: 1, Args: []wire.ArgSpec{{Kind: wire.KindUint}}},
	},
}

// Callback carries a single done event, used for roundtrip
// synchronization.
var Callback = &Interface{
	Name:    "wl_callback",
	Version: 1,
	Events: []MessageDesc{
		{Name: "done", Since: 1, Destructor: true, Args: []wire.ArgSpec{{Kind: wire.KindUint}}},
	},
}

func init() {
	Register(Display)
	Register(Registry)
	Register(Callback)
}
