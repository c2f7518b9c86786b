// Package objmap owns object identity within one connection.
//
// Ownership boundary:
// - ID allocation and reuse in the client and server namespaces
// - the live / dead / released lifecycle of every object
// - generation-checked handles for detecting stale references
//
// A Map is deliberately unsynchronized: the owning connection mutates it
// under its own lock (single-writer discipline), readers take the same
// lock shared.
package objmap
