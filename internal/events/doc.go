// Package events provides the ordered event stream that connects the link
// manager, the device registry and the operator surfaces.
//
// Producers call Publish, which never blocks: events go into a bounded queue
// and a single dispatcher goroutine delivers them to handlers in the order
// they were published. A full queue drops the event and counts it.
//
// Handlers run on the dispatcher goroutine. They may publish further events
// but must not block for long; slow consumers should use Channel, which
// forwards into a buffered channel owned by the consumer.
package events
