package server

import "errors"

var (
	// ErrClosed reports an operation on a server or client connection
	// that has already shut down.
	ErrClosed = errors.New("server: closed")

	// ErrDeadResource reports an event posted to a resource whose
	// destructor has already run.
	ErrDeadResource = errors.New("server: resource is dead")

	// ErrUnknownGlobal reports withdrawal of a name that was never
	// registered or was already withdrawn.
	ErrUnknownGlobal = errors.New("server: unknown global name")

	// ErrGlobalVersion reports a registration whose version is outside
	// the interface's supported range.
	ErrGlobalVersion = errors.New("server: global version out of range")
)
