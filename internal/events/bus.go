package events

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Type names an event kind. The string values double as WebSocket channel
// names and MQTT topic suffixes.
type Type string

// Event types.
const (
	// LinkConnected fires once the controller link is open.
	LinkConnected Type = "link.connected"

	// LinkDisconnected fires when the link closes. Err carries the cause,
	// which is nil for a manual disconnect.
	LinkDisconnected Type = "link.disconnected"

	// LinkStateChanged fires on every connection state transition.
	LinkStateChanged Type = "link.state"

	// DataReceived carries raw bytes read from the controller.
	DataReceived Type = "link.data"

	// DeviceUpdated carries a device snapshot after a state change.
	DeviceUpdated Type = "device.updated"

	// OperationFailed carries a command that could not be completed.
	OperationFailed Type = "operation.failed"
)

// lifecycle reports whether t tracks the link's state. Consumers derive
// device availability from these, so they are queued even past capacity.
func lifecycle(t Type) bool {
	return t == LinkConnected || t == LinkDisconnected || t == LinkStateChanged
}

// AllTypes returns every event type.
func AllTypes() []Type {
	return []Type{LinkConnected, LinkDisconnected, LinkStateChanged, DataReceived, DeviceUpdated, OperationFailed}
}

// Event is one entry in the stream.
type Event struct {
	Seq  uint64    `json:"seq"`
	Type Type      `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
	Err  error     `json:"-"`
}

// Handler receives events.
type Handler func(Event)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// DefaultQueueSize is the event queue capacity used when none is given.
const DefaultQueueSize = 1024

// Stats holds bus counters.
type Stats struct {
	Published uint64
	Delivered uint64
	Dropped   uint64
	Panics    uint64
}

// Bus is an ordered publish/subscribe event stream.
//
// Thread Safety:
//   - Publish, Subscribe and SubscribeAll are safe for concurrent use.
//   - Handlers are invoked sequentially on one goroutine, in Seq order.
type Bus struct {
	mu          sync.RWMutex
	handlers    map[Type]map[uint64]Handler
	allHandlers map[uint64]Handler
	nextID      uint64

	// qmu guards the queue. Seq is assigned under it, so queue order and
	// Seq order are the same.
	qmu     sync.Mutex
	pending []Event
	limit   int
	seq     uint64
	closed  bool

	wake chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	delivered atomic.Uint64
	dropped   atomic.Uint64
	panics    atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex
}

// NewBus creates a bus and starts its dispatcher.
// A queueSize of zero or less uses DefaultQueueSize.
func NewBus(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	b := &Bus{
		handlers:    make(map[Type]map[uint64]Handler),
		allHandlers: make(map[uint64]Handler),
		pending:     make([]Event, 0, queueSize),
		limit:       queueSize,
		wake:        make(chan struct{}, 1),
		logger:      noopLogger{},
	}
	b.wg.Add(1)
	go b.dispatch()
	return b
}

// SetLogger sets the logger for the bus.
func (b *Bus) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
}

func (b *Bus) log() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

// Subscribe registers a handler for one event type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(t Type, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	if b.handlers[t] == nil {
		b.handlers[t] = make(map[uint64]Handler)
	}
	b.handlers[t][id] = h
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[t], id)
	}
}

// SubscribeAll registers a handler that receives every event.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.allHandlers[id] = h
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.allHandlers, id)
	}
}

// Channel returns a buffered channel that receives every event of the given
// types (all types when none are listed). Events are dropped rather than
// blocking the dispatcher when the channel is full. The returned function
// unsubscribes; the channel is never closed.
func (b *Bus) Channel(buffer int, types ...Type) (<-chan Event, func()) {
	ch := make(chan Event, buffer)
	want := make(map[Type]bool, len(types))
	for _, t := range types {
		want[t] = true
	}
	unsub := b.SubscribeAll(func(e Event) {
		if len(want) > 0 && !want[e.Type] {
			return
		}
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	})
	return ch, unsub
}

// Publish enqueues an event for delivery and stamps its sequence number and
// time. It never blocks. When the queue is full the event is dropped and
// false is returned, except for link lifecycle events, which are always
// queued. Publish also returns false once the bus is closed.
func (b *Bus) Publish(t Type, data any, err error) bool {
	b.qmu.Lock()
	if b.closed {
		b.qmu.Unlock()
		return false
	}
	if len(b.pending) >= b.limit && !lifecycle(t) {
		b.qmu.Unlock()
		b.dropped.Add(1)
		b.log().Warn("event queue full, dropping event", "type", t)
		return false
	}
	b.seq++
	b.pending = append(b.pending, Event{
		Seq:  b.seq,
		Type: t,
		Time: time.Now().UTC(),
		Data: data,
		Err:  err,
	})
	b.qmu.Unlock()

	b.signal()
	return true
}

func (b *Bus) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// next pops the oldest queued event. closed is true once Close was called
// and the queue is empty.
func (b *Bus) next() (e Event, ok, closed bool) {
	b.qmu.Lock()
	defer b.qmu.Unlock()
	if len(b.pending) == 0 {
		b.pending = b.pending[:0]
		return Event{}, false, b.closed
	}
	e = b.pending[0]
	b.pending[0] = Event{}
	b.pending = b.pending[1:]
	return e, true, false
}

// dispatch delivers queued events in order. After Close it drains what was
// already queued and returns.
func (b *Bus) dispatch() {
	defer b.wg.Done()
	for {
		e, ok, closed := b.next()
		switch {
		case ok:
			b.deliver(e)
		case closed:
			return
		default:
			<-b.wake
		}
	}
}

func (b *Bus) deliver(e Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers[e.Type])+len(b.allHandlers))
	for _, h := range b.handlers[e.Type] {
		handlers = append(handlers, h)
	}
	for _, h := range b.allHandlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.panics.Add(1)
					b.log().Error("event handler panic", "type", e.Type, "error", fmt.Errorf("%v", r))
				}
			}()
			h(e)
		}()
	}
	b.delivered.Add(1)
}

// Close stops the dispatcher after delivering already-queued events.
// Safe to call multiple times.
func (b *Bus) Close() {
	b.once.Do(func() {
		b.qmu.Lock()
		b.closed = true
		b.qmu.Unlock()
		b.signal()
	})
	b.wg.Wait()
}

// Stats returns current bus counters.
func (b *Bus) Stats() Stats {
	b.qmu.Lock()
	published := b.seq
	b.qmu.Unlock()
	return Stats{
		Published: published,
		Delivered: b.delivered.Load(),
		Dropped:   b.dropped.Load(),
		Panics:    b.panics.Load(),
	}
}
