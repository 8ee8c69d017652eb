package device

import "errors"

// Sentinel errors; match with errors.Is.
var (
	ErrDeviceNotFound    = errors.New("device: not found")
	ErrDeviceExists      = errors.New("device: already exists")
	ErrEmptyDeviceSet    = errors.New("device: no devices of this type")
	ErrInvalidDevice     = errors.New("device: invalid")
	ErrInvalidName       = errors.New("device: invalid name")
	ErrInvalidPayload    = errors.New("device: invalid payload")
	ErrUnsupportedAction = errors.New("device: unsupported action")

	// ErrCatalogDevice rejects removal of a fixed catalogue entry.
	ErrCatalogDevice = errors.New("device: catalogue devices cannot be removed")
)
