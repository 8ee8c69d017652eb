// Package link manages the persistent connection to an exhibit controller box.
//
// A Manager owns exactly one transport (TCP socket or serial port) and all of
// its timers. It moves through four states:
//
//	Disconnected --Connect--> Connecting --open--> Connected
//	Connected --read/write error--> Disconnected --schedule--> Reconnecting
//	Reconnecting --delay--> Connecting
//	any --Disconnect--> Disconnected (terminal until Connect)
//
// # I/O Model
//
// Reads and writes run on dedicated goroutines per connection session. Send
// enqueues a payload and waits for the writer to confirm it reached the
// socket; Enqueue returns immediately with a result channel. A write failure
// tears the session down and triggers the reconnect policy.
//
// # Reconnect Policy
//
// After an unexpected loss the manager waits ReconnectDelay and dials again,
// up to MaxReconnectAttempts times. When the bound is reached a single
// LinkDisconnected event carrying ErrMaxReconnectAttempts is published and
// no further attempts are made until Connect is called.
//
// # Events
//
// All state transitions are published to the event bus while the manager's
// lock is held, so observers see them in the order they happened. Goroutines
// belonging to a torn-down session never publish.
package link
