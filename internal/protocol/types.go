package protocol

import (
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DeviceType identifies the class of physical device a command targets.
type DeviceType string

// DeviceType constants.
const (
	DeviceTypeLighting     DeviceType = "lighting"
	DeviceTypeComputer     DeviceType = "computer"
	DeviceTypeProjector    DeviceType = "projector"
	DeviceTypeExhibitPower DeviceType = "exhibit_power"
)

// AllDeviceTypes returns all valid device type values.
func AllDeviceTypes() []DeviceType {
	return []DeviceType{
		DeviceTypeLighting, DeviceTypeComputer, DeviceTypeProjector, DeviceTypeExhibitPower,
	}
}

var deviceTypeCodes = map[DeviceType]byte{
	DeviceTypeLighting:     0x01,
	DeviceTypeComputer:     0x02,
	DeviceTypeProjector:    0x03,
	DeviceTypeExhibitPower: 0x04,
}

// Code returns the single-byte wire code for the device type.
func (t DeviceType) Code() (byte, error) {
	c, ok := deviceTypeCodes[t]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownDeviceType, t)
	}
	return c, nil
}

// Valid reports whether t is a known device type.
func (t DeviceType) Valid() bool {
	_, ok := deviceTypeCodes[t]
	return ok
}

// DeviceTypeFromCode maps a wire code back to a DeviceType.
func DeviceTypeFromCode(c byte) (DeviceType, error) {
	for t, code := range deviceTypeCodes {
		if code == c {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: code 0x%02X", ErrUnknownDeviceType, c)
}

// Action is a control verb understood by the controller.
type Action string

// Action constants.
const (
	ActionTurnOn      Action = "turn_on"
	ActionTurnOff     Action = "turn_off"
	ActionToggle      Action = "toggle"
	ActionAllOn       Action = "all_on"
	ActionAllOff      Action = "all_off"
	ActionStatusQuery Action = "status_query"
)

var actionCodes = map[Action]byte{
	ActionTurnOn:      0x01,
	ActionTurnOff:     0x02,
	ActionToggle:      0x03,
	ActionAllOn:       0x04,
	ActionAllOff:      0x05,
	ActionStatusQuery: 0x06,
}

// Code returns the single-byte wire code for the action.
func (a Action) Code() (byte, error) {
	c, ok := actionCodes[a]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownAction, a)
	}
	return c, nil
}

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	_, ok := actionCodes[a]
	return ok
}

// IsBatch reports whether the action addresses every device of a type.
func (a Action) IsBatch() bool {
	return a == ActionAllOn || a == ActionAllOff
}

// ActionFromCode maps a wire code back to an Action.
func ActionFromCode(c byte) (Action, error) {
	for a, code := range actionCodes {
		if code == c {
			return a, nil
		}
	}
	return "", fmt.Errorf("%w: code 0x%02X", ErrUnknownAction, c)
}

// Parameter keys with codec-level meaning.
const (
	// ParamBrightness is a lighting level in percent, clamped to [0,100].
	ParamBrightness = "brightness"

	// DefaultBrightness is used when a lighting TurnOn carries no level.
	DefaultBrightness = 100
)

// Command is a single control instruction for one device.
// Build it with NewCommand; a Command is not modified after construction.
type Command struct {
	ID         string         `json:"id"`
	DeviceID   string         `json:"device_id"`
	DeviceType DeviceType     `json:"device_type"`
	Action     Action         `json:"action"`
	Params     map[string]any `json:"params,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// NewCommand builds a Command with a fresh UUID and timestamp.
// The params map is copied so later changes by the caller do not leak in.
func NewCommand(deviceID string, deviceType DeviceType, action Action, params map[string]any) Command {
	var p map[string]any
	if len(params) > 0 {
		p = maps.Clone(params)
	}
	return Command{
		ID:         uuid.NewString(),
		DeviceID:   deviceID,
		DeviceType: deviceType,
		Action:     action,
		Params:     p,
		CreatedAt:  time.Now().UTC(),
	}
}

// Ref returns the 4-byte command reference carried in binary frames.
// It is the leading 4 bytes of the command UUID.
func (c Command) Ref() [4]byte {
	var ref [4]byte
	if id, err := uuid.Parse(c.ID); err == nil {
		copy(ref[:], id[:4])
	}
	return ref
}

// DeviceNumber reduces a device id to the 16-bit number used on the wire.
// All non-digit characters are stripped, so "light_001" becomes 1.
func DeviceNumber(deviceID string) (uint16, error) {
	var b strings.Builder
	for _, r := range deviceID {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return 0, fmt.Errorf("%w: %q has no numeric part", ErrInvalidDeviceID, deviceID)
	}
	n, err := strconv.ParseUint(digits, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidDeviceID, deviceID)
	}
	return uint16(n), nil
}

// ClampBrightness limits a brightness value to [0,100].
func ClampBrightness(v int) int {
	return max(0, min(100, v))
}

// normalizeParams validates known parameters and returns a copy with
// brightness clamped. Unknown keys pass through untouched.
func normalizeParams(params map[string]any) (map[string]any, error) {
	if len(params) == 0 {
		return nil, nil
	}
	out := maps.Clone(params)
	if raw, ok := out[ParamBrightness]; ok {
		v, err := toInt(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidParam, ParamBrightness, err)
		}
		out[ParamBrightness] = ClampBrightness(v)
	}
	return out, nil
}

func brightnessOf(params map[string]any) (int, error) {
	raw, ok := params[ParamBrightness]
	if !ok {
		return DefaultBrightness, nil
	}
	v, err := toInt(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrInvalidParam, ParamBrightness, err)
	}
	return ClampBrightness(v), nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case uint8:
		return int(n), nil
	case float32:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

// ResponseStatus is the outcome a controller reports for a command.
type ResponseStatus string

// ResponseStatus constants.
const (
	StatusSuccess ResponseStatus = "success"
	StatusError   ResponseStatus = "error"
	StatusTimeout ResponseStatus = "timeout"
	StatusInvalid ResponseStatus = "invalid"
)

var statusCodes = map[ResponseStatus]byte{
	StatusSuccess: 0,
	StatusError:   1,
	StatusTimeout: 2,
	StatusInvalid: 3,
}

// Code returns the single-byte wire code for the status.
func (s ResponseStatus) Code() (byte, error) {
	c, ok := statusCodes[s]
	if !ok {
		return 0, fmt.Errorf("%w: unknown status %q", ErrInvalidParam, s)
	}
	return c, nil
}

func statusFromCode(c byte) (ResponseStatus, bool) {
	for s, code := range statusCodes {
		if code == c {
			return s, true
		}
	}
	return "", false
}

// Response is a controller's answer to a command.
type Response struct {
	CommandRef   [4]byte        `json:"command_ref"`
	DeviceNumber uint16         `json:"device_number"`
	Status       ResponseStatus `json:"status"`
	Message      string         `json:"message"`
	Data         map[string]any `json:"data,omitempty"`
}

// Correlates reports whether the response answers cmd.
func (r Response) Correlates(cmd Command) bool {
	return r.CommandRef == cmd.Ref()
}
