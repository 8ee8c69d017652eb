package device

import (
	"time"

	"github.com/nerrad567/exhibit-core/internal/protocol"
)

// Status is the reachability of a device as last observed.
type Status string

// Status constants.
const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusError   Status = "error"
	StatusUnknown Status = "unknown"
)

// AllStatuses returns all valid status values.
func AllStatuses() []Status {
	return []Status{StatusOnline, StatusOffline, StatusError, StatusUnknown}
}

// Update sources recorded alongside every state change.
const (
	SourceCommand    = "command"    // Confirmed send from this process
	SourceLink       = "link"       // Link state transition
	SourceController = "controller" // Report received from the controller
	SourceCatalog    = "catalog"    // Device added to the registry
)

// Device is a controllable device known to the Registry.
//
// Status, PowerOn and LastUpdate are owned by the Registry. Values handed out
// by the Registry are copies; changing them has no effect on its state.
type Device struct {
	ID         string              `json:"id"`
	Name       string              `json:"name"`
	Type       protocol.DeviceType `json:"type"`
	Status     Status              `json:"status"`
	PowerOn    bool                `json:"power_on"`
	LastUpdate time.Time           `json:"last_update"`

	// Custom is set for user-defined devices, which are addressed by raw
	// on/off payloads instead of a numeric id.
	Custom *CustomDevice `json:"custom,omitempty"`
}

// IsCustom reports whether d is a user-defined device.
func (d *Device) IsCustom() bool {
	return d.Custom != nil
}

// DeepCopy returns a copy of d that shares no memory with it.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}
	cp := *d
	if d.Custom != nil {
		c := *d.Custom
		cp.Custom = &c
	}
	return &cp
}

// CustomDevice is the persisted definition of a user-defined device.
type CustomDevice struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OnHex     string    `json:"on_hex"`
	OffHex    string    `json:"off_hex"`
	Icon      string    `json:"icon,omitempty"`
	Group     string    `json:"group,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// device builds the registry entry for a user-defined device.
func (c CustomDevice) device() *Device {
	def := c
	return &Device{
		ID:     c.ID,
		Name:   c.Name,
		Type:   protocol.DeviceTypeExhibitPower,
		Status: StatusUnknown,
		Custom: &def,
	}
}

// CatalogEntry describes a device of the fixed catalogue.
type CatalogEntry struct {
	ID   string              `json:"id" yaml:"id"`
	Name string              `json:"name" yaml:"name"`
	Type protocol.DeviceType `json:"type" yaml:"type"`
}

// Update is the payload of an events.DeviceUpdated event.
type Update struct {
	Device Device `json:"device"`
	Source string `json:"source"`
}

// OperationFailure is the payload of an events.OperationFailed event.
// The failing error travels in the event's Err field.
type OperationFailure struct {
	Operation  string              `json:"operation"`
	DeviceID   string              `json:"device_id,omitempty"`
	DeviceType protocol.DeviceType `json:"device_type,omitempty"`
	Action     protocol.Action     `json:"action,omitempty"`
}

// Operation names carried by OperationFailure.
const (
	OperationControl    = "control"
	OperationControlAll = "control_all"
	OperationRefresh    = "refresh"
	OperationSendHex    = "send_hex"
)

// BatchStrategy names how a batch action reached the wire.
type BatchStrategy string

// BatchStrategy constants.
const (
	// BatchCombined sends one frame addressing every device.
	BatchCombined BatchStrategy = "combined"

	// BatchSequential sends one frame per device, in order.
	BatchSequential BatchStrategy = "sequential"
)

// BatchResult reports a successful batch action.
type BatchResult struct {
	Type     protocol.DeviceType `json:"type"`
	Action   protocol.Action     `json:"action"`
	Strategy BatchStrategy       `json:"strategy"`
	Frames   int                 `json:"frames"`
	Devices  []Device            `json:"devices"`
}

// Stats holds registry statistics for monitoring.
type Stats struct {
	TotalDevices  int                         `json:"total_devices"`
	CustomDevices int                         `json:"custom_devices"`
	ByType        map[protocol.DeviceType]int `json:"by_type"`
	ByStatus      map[Status]int              `json:"by_status"`
	PoweredOn     int                         `json:"powered_on"`
}
