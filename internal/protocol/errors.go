package protocol

import "errors"

// Domain errors for the protocol package.
//
// All decode failures wrap ErrInvalidFrame so callers can treat them as a
// single protocol error class:
//
//	if errors.Is(err, protocol.ErrInvalidFrame) {
//	    // drop the frame, the link is unaffected
//	}
var (
	// ErrInvalidFrame is the parent of every decode failure.
	ErrInvalidFrame = errors.New("protocol: invalid frame")

	// ErrFrameTooShort is returned when a frame is shorter than its fixed header.
	ErrFrameTooShort = errors.New("protocol: frame too short")

	// ErrBadDelimiter is returned when the start or end marker is wrong.
	ErrBadDelimiter = errors.New("protocol: bad delimiter")

	// ErrChecksumMismatch is returned when the computed checksum differs
	// from the one carried in the frame.
	ErrChecksumMismatch = errors.New("protocol: checksum mismatch")

	// ErrLengthMismatch is returned when a declared field length disagrees
	// with the frame size.
	ErrLengthMismatch = errors.New("protocol: length mismatch")

	// ErrInvalidDeviceID is returned when a device id cannot be reduced to
	// the 16-bit numeric range a frame can address.
	ErrInvalidDeviceID = errors.New("protocol: invalid device id")

	// ErrInvalidParam is returned when a known parameter has the wrong type.
	ErrInvalidParam = errors.New("protocol: invalid parameter")

	// ErrInvalidHex is returned when a hex string cannot be converted to bytes.
	ErrInvalidHex = errors.New("protocol: invalid hex string")

	// ErrUnknownAction is returned for an action with no wire code.
	ErrUnknownAction = errors.New("protocol: unknown action")

	// ErrUnknownDeviceType is returned for a device type with no wire code.
	ErrUnknownDeviceType = errors.New("protocol: unknown device type")

	// ErrEmptyBatch is returned when a batch frame is requested for no devices.
	ErrEmptyBatch = errors.New("protocol: empty batch")
)
