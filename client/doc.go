// Package client implements the client role of the protocol: connecting
// to a session socket, binding globals, sending requests and dispatching
// events to per-object handlers.
//
// Concurrency model, in brief: requests may be submitted from any
// goroutine (a send lock keeps frames whole); at most one goroutine reads
// the transport at a time (the read lock passes between event queues);
// the object table has a single writer, the dispatch path, and shared
// readers.
package client
