package specs

import "errors"

var (
	ErrCancelled = NewOpError("context", "cancelled")
	ErrTimeout   = NewOpError("transport", "timeout")
	ErrClosed    = NewOpError("transport", "use of closed connection")
	ErrTooLarge  = NewOpError("read", "too large content")

	// ErrTransportClosed is reported on EOF or reset of the underlying stream.
	// It is a normal termination, not a failure.
	ErrTransportClosed = NewOpError("transport", "closed by peer")

	ErrMalformedRequest  = NewOpError("handshake", "malformed request")
	ErrHandshakeRejected = NewOpError("handshake", "rejected")

	// ErrIncompleteFrame means more bytes are needed, it is retryable.
	ErrIncompleteFrame = NewOpError("frame", "incomplete frame")

	// ErrCloseRequested is the peer initiated shutdown signal.
	ErrCloseRequested  = NewOpError("frame", "close requested")
	ErrInvalidEncoding = NewOpError("frame", "payload is not valid utf-8")
	ErrProtocol        = NewOpError("frame", "protocol violation")
	ErrUnsupported     = NewOpError("frame", "unsupported frame")

	ErrNotConnected = NewOpError("conn", "not connected")
	ErrBacklogFull  = NewOpError("server", "backlog is full")
)

// IsNormalClosure reports whether err ends a connection without being a failure:
// a peer close frame, transport EOF or an expired deadline.
func IsNormalClosure(err error) bool {
	return errors.Is(err, ErrCloseRequested) ||
		errors.Is(err, ErrTransportClosed) ||
		errors.Is(err, ErrTimeout)
}
