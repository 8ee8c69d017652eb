// Package console bridges operator consoles on MQTT to the exhibit
// controller.
//
// Topics (prefix "exhibit" by default):
//
//	exhibit/command/device/{id}   in   {"id":"...","action":"turn_on","params":{"brightness":40}}
//	exhibit/command/type/{type}   in   {"id":"...","action":"all_off"}
//	exhibit/command/raw           in   {"id":"...","hex":"AA0001016455 78"}
//	exhibit/ack/{id}              out  accepted or failed, with an error code
//	exhibit/state/{device_id}     out  retained device state
//	exhibit/link/state            out  retained controller link state
//
// The broker's last will marks exhibit/system/status offline.
package console
