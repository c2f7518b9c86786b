// Package server implements the compositor side of the protocol: a
// listener on a runtime-dir socket, one connection state machine per
// client, the global registry, and the intrinsic wl_display behavior
// (sync, get_registry, bind, error, delete_id).
//
// Ownership boundary: the Server owns the listener and the set of live
// clients; each Client owns its transport, object table and serial
// counter. Globals are shared across clients but resources never are.
// A protocol violation is fatal for the offending client only.
package server
