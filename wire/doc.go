// Package wire owns the byte-level message format.
//
// Ownership boundary:
// - message header encode/decode
// - argument marshalling against a fixed per-opcode signature
// - fd queue ordering for out-of-band descriptors
//
// Everything above the byte level (object lifetimes, versions, dispatch)
// lives in objmap, proto, client and server.
package wire
