// Package recorder persists the exhibit event stream.
//
// Every device.updated event becomes a state_history row (source command,
// link, controller or catalog) and, when InfluxDB is configured, a
// device_state point. Link transitions and failed operations become
// link_state and operation_failed points.
package recorder
