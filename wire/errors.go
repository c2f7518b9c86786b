package wire

import "errors"

var (
	// ErrShortData means the buffer does not yet hold a complete message.
	// Callers should read more bytes and retry; it is not a protocol error.
	ErrShortData = errors.New("wire: incomplete message data")

	// ErrMalformed means the bytes can never parse as a valid message.
	// The connection cannot be resynchronized after this.
	ErrMalformed = errors.New("wire: malformed message")

	// ErrMissingFD means the signature requires a file descriptor but the
	// ancillary queue is empty.
	ErrMissingFD = errors.New("wire: message references fd but fd queue is empty")

	// ErrNullForbidden means a null string or object was decoded where the
	// signature does not allow one.
	ErrNullForbidden = errors.New("wire: null argument where signature forbids null")

	// ErrTooLarge means the encoded message would exceed the 16-bit size
	// field of the header.
	ErrTooLarge = errors.New("wire: message too large")
)
