// Package influxdb records exhibit metrics in InfluxDB v2.
//
// Three measurements are written:
//   - device_state: one point per device change (status, power_on)
//   - link_state: one point per controller link transition
//   - operation_failed: one point per command that did not complete
//
// Usage:
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteDeviceState("light_001", "lighting", "online", "command", true, time.Now())
//
// Writes are non-blocking and batched (batch_size, flush_interval). Write
// failures surface through SetOnError. Writes on a closed or disconnected
// client are dropped silently.
package influxdb
