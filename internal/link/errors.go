package link

import "errors"

// Domain errors for the link package.
var (
	// ErrNotConnected is returned when a send is attempted while the link
	// is not in the Connected state.
	ErrNotConnected = errors.New("link: not connected")

	// ErrConnectionFailed is returned when opening the transport fails.
	ErrConnectionFailed = errors.New("link: connection failed")

	// ErrWriteFailed is returned when a payload could not be written.
	ErrWriteFailed = errors.New("link: write failed")

	// ErrLinkLost is recorded when an established link drops.
	ErrLinkLost = errors.New("link: connection lost")

	// ErrMaxReconnectAttempts is carried on the terminal disconnected event
	// once the reconnect bound is exhausted.
	ErrMaxReconnectAttempts = errors.New("link: max reconnect attempts reached")

	// ErrQueueFull is returned when the write queue cannot accept more payloads.
	ErrQueueFull = errors.New("link: write queue full")

	// ErrInvalidAddress is returned when a controller address cannot be parsed.
	ErrInvalidAddress = errors.New("link: invalid address")

	// ErrSendCancelled is returned when the caller's context ends before
	// the writer took the payload. Nothing was written.
	ErrSendCancelled = errors.New("link: send cancelled")

	// ErrEmptyPayload is returned when asked to send zero bytes.
	ErrEmptyPayload = errors.New("link: empty payload")
)

// IsLinkError reports whether err is a transport-level failure, as opposed
// to a local encoding problem. ErrSendCancelled is not one.
func IsLinkError(err error) bool {
	return errors.Is(err, ErrNotConnected) ||
		errors.Is(err, ErrConnectionFailed) ||
		errors.Is(err, ErrWriteFailed) ||
		errors.Is(err, ErrLinkLost) ||
		errors.Is(err, ErrQueueFull) ||
		errors.Is(err, ErrMaxReconnectAttempts)
}
