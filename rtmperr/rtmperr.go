// Package rtmperr defines the sentinel error kinds shared across the
// client's packages. Call sites wrap one of these with fmt.Errorf("...: %w",
// ...) so callers can classify failures with errors.Is without depending on
// string matching, following the teacher's bool/error-return habit rather
// than building an exceptions hierarchy.
package rtmperr

import "errors"

var (
	// ErrCancelled means the caller's context was cancelled.
	ErrCancelled = errors.New("operation cancelled")

	// ErrTimedOut means a deadline elapsed waiting for a reply or connect.
	ErrTimedOut = errors.New("operation timed out")

	// ErrPermissionDenied means the server rejected a command with a
	// security/permission status (e.g. NetConnection.Connect.Rejected).
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotFound means the requested stream or resource does not exist
	// on the server (e.g. NetStream.Play.StreamNotFound).
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists means a resource the caller tried to create is
	// already in use (e.g. a stream key already being published).
	ErrAlreadyExists = errors.New("already exists")

	// ErrConnectionClosed means the peer closed the connection cleanly
	// or the caller closed it locally.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrConnectionRefused means the transport-level dial failed.
	ErrConnectionRefused = errors.New("connection refused")

	// ErrPartialInput means a parser ran out of bytes before completing
	// a value; callers should buffer more input and retry, except during
	// the handshake where it is always fatal.
	ErrPartialInput = errors.New("partial input")

	// ErrInvalidData means a parser encountered bytes that cannot be a
	// well-formed value at all (bad marker, bad length, over-deep
	// nesting); it is never recoverable by waiting for more bytes.
	ErrInvalidData = errors.New("invalid data")

	// ErrNotInitialized means required configuration is missing (no
	// location, no host, or no application/stream path).
	ErrNotInitialized = errors.New("not initialized")

	// ErrNotSupported means the caller asked for something this client
	// does not implement (e.g. an unknown URL scheme, or pacing on a
	// platform without SO_MAX_PACING_RATE).
	ErrNotSupported = errors.New("not supported")

	// ErrInternal means an invariant the code relies on was violated;
	// it should never surface to a well-behaved caller.
	ErrInternal = errors.New("internal error")
)
