package device

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/nerrad567/exhibit-core/internal/protocol"
)

// Validation constants.
const (
	maxNameLength  = 100
	maxIconLength  = 64
	maxGroupLength = 64

	// maxPayloadBytes bounds a user-defined on/off payload.
	maxPayloadBytes = 256
)

// ValidateCatalogEntry checks a catalogue device definition.
func ValidateCatalogEntry(e CatalogEntry) error {
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidDevice)
	}
	if _, err := protocol.DeviceNumber(e.ID); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDevice, err)
	}
	if err := ValidateName(e.Name); err != nil {
		return err
	}
	if !e.Type.Valid() {
		return fmt.Errorf("%w: type %q", ErrInvalidDevice, e.Type)
	}
	return nil
}

// ValidateCustomDevice checks a user-defined device. The on and off payloads
// must both be non-empty hex strings.
func ValidateCustomDevice(c CustomDevice) error {
	if err := ValidateName(c.Name); err != nil {
		return err
	}
	if _, err := ValidatePayload(c.OnHex); err != nil {
		return fmt.Errorf("on payload: %w", err)
	}
	if _, err := ValidatePayload(c.OffHex); err != nil {
		return fmt.Errorf("off payload: %w", err)
	}
	if len(c.Icon) > maxIconLength {
		return fmt.Errorf("%w: icon exceeds %d characters", ErrInvalidDevice, maxIconLength)
	}
	if len(c.Group) > maxGroupLength {
		return fmt.Errorf("%w: group exceeds %d characters", ErrInvalidDevice, maxGroupLength)
	}
	return nil
}

// ValidateName checks if a device name is valid.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

// ValidatePayload decodes a user-supplied hex payload.
//
// Returns:
//   - []byte: Decoded payload
//   - error: ErrInvalidPayload wrapping the decode error
func ValidatePayload(s string) ([]byte, error) {
	b, err := protocol.HexToBytes(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if len(b) > maxPayloadBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidPayload, len(b), maxPayloadBytes)
	}
	return b, nil
}

// GenerateID creates a new UUID for a user-defined device.
func GenerateID() string {
	return uuid.New().String()
}
