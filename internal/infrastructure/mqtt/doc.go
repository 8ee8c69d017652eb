// Package mqtt connects exhibit-core to an MQTT broker.
//
// The broker carries the operator console: commands arrive on
// exhibit/command/..., device and link state leave as retained messages,
// and the daemon's own status lives on exhibit/system/status with an
// offline Last Will.
//
//	Console ↔ MQTT Broker ↔ exhibitd ↔ Controller
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	t := client.Topics()
//	client.Subscribe(t.AllDeviceCommands(), 1, func(topic string, payload []byte) error {
//	    return handle(mqtt.LastSegment(topic), payload)
//	})
//
// Use TLS (mqtt.broker.tls) whenever the broker is off-host.
package mqtt
