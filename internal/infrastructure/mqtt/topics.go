package mqtt

import "strings"

// DefaultTopicPrefix is the root of every exhibit-core topic.
const DefaultTopicPrefix = "exhibit"

// Topics builds topic names under a prefix.
//
//	t := mqtt.NewTopics("exhibit")
//	t.DeviceState("light_001") // "exhibit/state/light_001"
type Topics struct {
	prefix string
}

// NewTopics returns builders for prefix. An empty prefix uses
// DefaultTopicPrefix; surrounding slashes are trimmed.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the topic root.
func (t Topics) Prefix() string {
	return t.root()
}

func (t Topics) root() string {
	if t.prefix == "" {
		return DefaultTopicPrefix
	}
	return t.prefix
}

func (t Topics) join(parts ...string) string {
	return t.root() + "/" + strings.Join(parts, "/")
}

// DeviceCommand is where operators send a command for one device.
//
// Example: exhibit/command/device/light_001
func (t Topics) DeviceCommand(deviceID string) string {
	return t.join("command", "device", deviceID)
}

// TypeCommand is where operators send a batch command for a device type.
//
// Example: exhibit/command/type/lighting
func (t Topics) TypeCommand(deviceType string) string {
	return t.join("command", "type", deviceType)
}

// RawCommand carries a raw hex payload for the controller.
//
// Example: exhibit/command/raw
func (t Topics) RawCommand() string {
	return t.join("command", "raw")
}

// Ack carries the outcome of a console request.
//
// Example: exhibit/ack/3f2a...
func (t Topics) Ack(requestID string) string {
	return t.join("ack", requestID)
}

// DeviceState is the retained state of one device.
//
// Example: exhibit/state/light_001
func (t Topics) DeviceState(deviceID string) string {
	return t.join("state", deviceID)
}

// LinkState is the retained controller link state.
//
// Example: exhibit/link/state
func (t Topics) LinkState() string {
	return t.join("link", "state")
}

// SystemStatus is the retained online/offline status of the daemon. The
// broker publishes the offline LWT here.
//
// Example: exhibit/system/status
func (t Topics) SystemStatus() string {
	return t.join("system", "status")
}

// AllDeviceCommands matches every per-device command topic.
func (t Topics) AllDeviceCommands() string {
	return t.join("command", "device", "+")
}

// AllTypeCommands matches every per-type command topic.
func (t Topics) AllTypeCommands() string {
	return t.join("command", "type", "+")
}

// AllStates matches every retained device state.
func (t Topics) AllStates() string {
	return t.join("state", "+")
}

// LastSegment returns the part of topic after its final slash.
func LastSegment(topic string) string {
	if i := strings.LastIndexByte(topic, '/'); i >= 0 {
		return topic[i+1:]
	}
	return topic
}
