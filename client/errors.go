package client

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed reports a clean local shutdown; every operation after
	// Close returns it.
	ErrClosed = errors.New("client: connection closed")

	// ErrDeadProxy reports a request against an object whose destructor
	// was already sent.
	ErrDeadProxy = errors.New("client: request on destroyed object")

	// ErrUnknownGlobal reports a bind for a registry name that was never
	// advertised or was already removed.
	ErrUnknownGlobal = errors.New("client: unknown or removed global")

	// ErrGlobalMismatch reports a bind whose interface does not match the
	// advertisement.
	ErrGlobalMismatch = errors.New("client: global interface mismatch")

	// ErrGlobalVersion reports a bind requesting a version above the
	// advertised maximum.
	ErrGlobalVersion = errors.New("client: requested version above advertised maximum")
)

// ProtocolError is the terminal condition of a violated connection. It
// carries the diagnostic triple from wl_display.error, or the local
// violation that forced the teardown.
type ProtocolError struct {
	Object    uint32
	Interface string
	Code      uint32
	Reason    string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("client: protocol error on %s@%d (code %d): %s",
		e.Interface, e.Object, e.Code, e.Reason)
}
