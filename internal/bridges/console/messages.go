package console

import (
	"errors"
	"time"

	"github.com/nerrad567/exhibit-core/internal/device"
	"github.com/nerrad567/exhibit-core/internal/link"
	"github.com/nerrad567/exhibit-core/internal/protocol"
)

// CommandMessage is sent by a console to control one device or every device
// of a type.
//
// Topics: exhibit/command/device/{id}, exhibit/command/type/{type}
type CommandMessage struct {
	// ID correlates the command with its ack. A UUID is assigned when empty.
	ID string `json:"id"`

	// Action is turn_on, turn_off, toggle, all_on or all_off. Toggle is not
	// accepted for a device type.
	Action protocol.Action `json:"action"`

	// Params carries optional values, e.g. {"brightness": 40} for lighting.
	Params map[string]any `json:"params,omitempty"`

	// Source names the console that sent the command.
	Source string `json:"source,omitempty"`
}

// RawCommandMessage sends a hex payload to the controller as is.
//
// Topic: exhibit/command/raw
type RawCommandMessage struct {
	ID  string `json:"id"`
	Hex string `json:"hex"`
}

// AckStatus is the outcome of a command.
type AckStatus string

const (
	// AckAccepted means the payload reached the controller and state was updated.
	AckAccepted AckStatus = "accepted"

	// AckFailed means the command was rejected or could not be sent.
	AckFailed AckStatus = "failed"
)

// AckMessage answers a command.
//
// Topic: exhibit/ack/{id}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	Target    string    `json:"target"`
	Status    AckStatus `json:"status"`

	// Devices holds the device snapshots after an accepted command.
	Devices []device.Device `json:"devices,omitempty"`

	// Strategy is set for accepted batch commands.
	Strategy device.BatchStrategy `json:"strategy,omitempty"`

	Error *AckError `json:"error,omitempty"`
}

// AckError describes a failed command.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes carried by AckError.
const (
	ErrCodeDeviceNotFound  = "DEVICE_NOT_FOUND"
	ErrCodeEmptyDeviceSet  = "EMPTY_DEVICE_SET"
	ErrCodeInvalidCommand  = "INVALID_COMMAND"
	ErrCodeLinkUnavailable = "LINK_UNAVAILABLE"
	ErrCodeProtocolError   = "PROTOCOL_ERROR"
	ErrCodeTimeout         = "TIMEOUT"
	ErrCodeBridgeError     = "BRIDGE_ERROR"
)

// StateMessage is the retained state of one device.
//
// Topic: exhibit/state/{id}
type StateMessage struct {
	DeviceID  string              `json:"device_id"`
	Name      string              `json:"name"`
	Type      protocol.DeviceType `json:"type"`
	Status    device.Status       `json:"status"`
	PowerOn   bool                `json:"power_on"`
	Source    string              `json:"source"`
	Timestamp time.Time           `json:"timestamp"`
}

// LinkStateMessage is the retained state of the controller link.
//
// Topic: exhibit/link/state
type LinkStateMessage struct {
	State     link.State `json:"state"`
	Previous  link.State `json:"previous,omitempty"`
	Address   string     `json:"address"`
	Attempt   int        `json:"attempt,omitempty"`
	Error     string     `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

func newStateMessage(d device.Device, source string) StateMessage {
	ts := d.LastUpdate
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return StateMessage{
		DeviceID:  d.ID,
		Name:      d.Name,
		Type:      d.Type,
		Status:    d.Status,
		PowerOn:   d.PowerOn,
		Source:    source,
		Timestamp: ts,
	}
}

// errorCode maps a command error onto an ack error code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, device.ErrDeviceNotFound):
		return ErrCodeDeviceNotFound
	case errors.Is(err, device.ErrEmptyDeviceSet):
		return ErrCodeEmptyDeviceSet
	case errors.Is(err, device.ErrUnsupportedAction),
		errors.Is(err, protocol.ErrUnknownAction),
		errors.Is(err, protocol.ErrUnknownDeviceType),
		errors.Is(err, protocol.ErrInvalidParam):
		return ErrCodeInvalidCommand
	case errors.Is(err, link.ErrSendCancelled):
		return ErrCodeTimeout
	case link.IsLinkError(err):
		return ErrCodeLinkUnavailable
	case errors.Is(err, protocol.ErrInvalidHex),
		errors.Is(err, protocol.ErrInvalidDeviceID),
		errors.Is(err, protocol.ErrInvalidFrame),
		errors.Is(err, device.ErrInvalidPayload):
		return ErrCodeProtocolError
	default:
		return ErrCodeBridgeError
	}
}
