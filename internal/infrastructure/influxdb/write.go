package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementDeviceState     = "device_state"
	MeasurementLinkState       = "link_state"
	MeasurementOperationFailed = "operation_failed"
)

// WriteDeviceState records a device snapshot. Tags carry the low-cardinality
// identity (id, type, source); status and power are fields.
//
// Example:
//
//	client.WriteDeviceState("light_001", "lighting", "online", "command", true, time.Now())
func (c *Client) WriteDeviceState(deviceID, deviceType, status, source string, powerOn bool, ts time.Time) {
	c.writePoint(deviceStatePoint(deviceID, deviceType, status, source, powerOn, ts))
}

func deviceStatePoint(deviceID, deviceType, status, source string, powerOn bool, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementDeviceState,
		map[string]string{
			"device_id":   deviceID,
			"device_type": deviceType,
			"source":      source,
		},
		map[string]any{
			"status":   status,
			"power_on": powerOn,
		},
		ts,
	)
}

// WriteLinkState records a controller link transition.
func (c *Client) WriteLinkState(state, address string, attempt int, ts time.Time) {
	c.writePoint(linkStatePoint(state, address, attempt, ts))
}

func linkStatePoint(state, address string, attempt int, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementLinkState,
		map[string]string{"address": address},
		map[string]any{
			"state":     state,
			"connected": state == "connected",
			"attempt":   int64(attempt),
		},
		ts,
	)
}

// WriteOperationFailure records a command that did not reach the controller.
// deviceID may be empty for batch and refresh operations.
func (c *Client) WriteOperationFailure(operation, deviceID, action, errMsg string, ts time.Time) {
	c.writePoint(operationFailurePoint(operation, deviceID, action, errMsg, ts))
}

func operationFailurePoint(operation, deviceID, action, errMsg string, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementOperationFailed,
		map[string]string{
			"operation": operation,
			"action":    action,
		},
		map[string]any{
			"device_id": deviceID,
			"error":     errMsg,
			"count":     int64(1),
		},
		ts,
	)
}

// WritePoint writes a custom point stamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.writePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}

func (c *Client) writePoint(p *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.points.Add(1)
	c.writer.WritePoint(p)
}
