package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/exhibit-core/internal/events"
	"github.com/nerrad567/exhibit-core/internal/protocol"
)

// State is the connection state of the controller link.
type State string

// State constants.
const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

// Default timeouts and intervals for the controller link.
const (
	// DefaultHost is the factory address of the controller box.
	DefaultHost = "192.168.200.31"

	// DefaultPort is the controller's command port.
	DefaultPort = 6001

	// defaultConnectTimeout is the maximum time to wait for the transport to open.
	defaultConnectTimeout = 10 * time.Second

	// defaultWriteTimeout bounds a single socket write.
	defaultWriteTimeout = 5 * time.Second

	// defaultHeartbeatInterval is the liveness ping period while connected.
	defaultHeartbeatInterval = 30 * time.Second

	// defaultReconnectDelay is the fixed wait before each reconnect attempt.
	defaultReconnectDelay = 5 * time.Second

	// defaultMaxReconnectAttempts bounds consecutive reconnect attempts.
	defaultMaxReconnectAttempts = 5

	// defaultWriteQueueSize is the buffer size of the per-session write queue.
	defaultWriteQueueSize = 64

	// readBufferSize is the size of the read buffer for incoming data.
	readBufferSize = 1024
)

// DefaultHeartbeatPayload is the liveness message sent while connected.
var DefaultHeartbeatPayload = []byte("PING")

// Config holds controller link configuration.
type Config struct {
	// Address is the controller endpoint, e.g. "tcp://192.168.200.31:6001"
	// or "serial:///dev/ttyUSB0?baud=9600".
	// Default: tcp://192.168.200.31:6001.
	Address string

	// ConnectTimeout is the maximum time to wait for the transport to open.
	// Default: 10 seconds.
	ConnectTimeout time.Duration

	// WriteTimeout bounds each socket write.
	// Default: 5 seconds.
	WriteTimeout time.Duration

	// HeartbeatInterval is the liveness ping period. Negative disables.
	// Default: 30 seconds.
	HeartbeatInterval time.Duration

	// HeartbeatPayload is the liveness message.
	// Default: "PING".
	HeartbeatPayload []byte

	// ReconnectDelay is the wait before each reconnect attempt.
	// Default: 5 seconds.
	ReconnectDelay time.Duration

	// MaxReconnectAttempts bounds consecutive reconnect attempts.
	// Negative means unlimited.
	// Default: 5.
	MaxReconnectAttempts int

	// WriteQueueSize is the number of payloads that may wait for the writer.
	// Default: 64.
	WriteQueueSize int

	// Dial opens the transport. Default: TCP or serial depending on Address.
	Dial DialFunc
}

func (c *Config) applyDefaults() {
	if c.Address == "" {
		c.Address = TCPAddress(DefaultHost, DefaultPort)
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
	if len(c.HeartbeatPayload) == 0 {
		c.HeartbeatPayload = DefaultHeartbeatPayload
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = defaultReconnectDelay
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}
	if c.WriteQueueSize <= 0 {
		c.WriteQueueSize = defaultWriteQueueSize
	}
	if c.Dial == nil {
		c.Dial = defaultDial
	}
}

// Publisher receives link events. Publish must not block.
type Publisher interface {
	Publish(t events.Type, data any, err error) bool
}

type noopPublisher struct{}

func (noopPublisher) Publish(events.Type, any, error) bool { return true }

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// StateChange is the payload of LinkStateChanged, LinkConnected and
// LinkDisconnected events.
type StateChange struct {
	State    State  `json:"state"`
	Previous State  `json:"previous"`
	Address  string `json:"address"`
	Attempt  int    `json:"attempt,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Status is a point-in-time view of the link.
type Status struct {
	State      State     `json:"state"`
	Address    string    `json:"address"`
	Attempt    int       `json:"attempt"`
	LastError  string    `json:"last_error,omitempty"`
	Since      time.Time `json:"since"`
	Background bool      `json:"background"`
}

// Stats holds operational statistics.
type Stats struct {
	BytesTx           uint64    `json:"bytes_tx"`
	BytesRx           uint64    `json:"bytes_rx"`
	FramesTx          uint64    `json:"frames_tx"`
	HeartbeatsTx      uint64    `json:"heartbeats_tx"`
	ErrorsTotal       uint64    `json:"errors_total"`
	DialsTotal        uint64    `json:"dials_total"`
	ReconnectAttempts uint64    `json:"reconnect_attempts"`
	ReconnectsTotal   uint64    `json:"reconnects_total"` // Successful reconnections
	LastActivity      time.Time `json:"last_activity"`
	State             State     `json:"state"`
}

type writeRequest struct {
	data      []byte
	heartbeat bool
	result    chan error
	claim     *atomic.Int32
}

// writeRequest claim states.
const (
	requestPending int32 = iota
	requestWriting
	requestAbandoned
)

// Manager owns the controller transport and its lifecycle.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - State transitions and their events are serialised by one mutex.
type Manager struct {
	cfg Config
	bus Publisher

	mu             sync.Mutex
	state          State
	prev           State
	lastErr        error
	since          time.Time
	endpoint       Endpoint
	conn           io.ReadWriteCloser
	writeQ         chan writeRequest
	sessionDone    chan struct{}
	session        uint64 // Bumped whenever a session starts or ends; stale goroutines compare against it
	attempts       int    // Consecutive reconnect attempts
	halted         bool   // Set by Disconnect or an exhausted reconnect cycle; cleared by Connect
	background     bool
	heartbeatStop  chan struct{}
	reconnectTimer *time.Timer
	dialCancel     context.CancelFunc

	wg sync.WaitGroup

	logger   Logger
	loggerMu sync.RWMutex

	// Statistics (atomic for performance)
	bytesTx           atomic.Uint64
	bytesRx           atomic.Uint64
	framesTx          atomic.Uint64
	heartbeatsTx      atomic.Uint64
	errorsTotal       atomic.Uint64
	dialsTotal        atomic.Uint64
	reconnectAttempts atomic.Uint64
	reconnectsTotal   atomic.Uint64
	lastActivity      atomic.Int64 // Unix nanoseconds
}

// New creates a Manager in the Disconnected state. Nothing is dialled until
// Connect is called.
//
// Parameters:
//   - cfg: Link configuration; zero fields take defaults
//   - bus: Event sink; nil discards events
//
// Returns:
//   - *Manager: Ready for Connect
//   - error: ErrInvalidAddress if cfg.Address cannot be parsed
func New(cfg Config, bus Publisher) (*Manager, error) {
	cfg.applyDefaults()
	ep, err := ParseAddress(cfg.Address)
	if err != nil {
		return nil, err
	}
	if bus == nil {
		bus = noopPublisher{}
	}
	return &Manager{
		cfg:        cfg,
		bus:        bus,
		state:      StateDisconnected,
		since:      time.Now().UTC(),
		endpoint:   ep,
		halted:     true,
	}, nil
}

// SetLogger sets the logger for this manager.
func (m *Manager) SetLogger(logger Logger) {
	m.loggerMu.Lock()
	m.logger = logger
	m.loggerMu.Unlock()
}

// Connect opens the link asynchronously.
//
// It is a no-op while Connecting or Connected. From Disconnected or
// Reconnecting it resets the reconnect cycle and dials immediately. An empty
// host keeps the configured address; otherwise the link targets host:port
// over TCP.
//
// Returns:
//   - error: ErrInvalidAddress for a malformed host/port
func (m *Manager) Connect(host string, port int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateConnected || m.state == StateConnecting {
		return nil
	}

	if host != "" {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("%w: port %d", ErrInvalidAddress, port)
		}
		ep, err := ParseAddress(TCPAddress(host, port))
		if err != nil {
			return err
		}
		m.endpoint = ep
	}

	m.halted = false
	m.attempts = 0
	m.stopReconnectTimerLocked()
	m.logInfo("connecting to controller", "address", m.endpoint.String())
	m.startDialLocked()
	return nil
}

// Disconnect closes the link, cancels every timer and resets the reconnect
// counter. The link stays down until Connect is called again.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.halted = true
	m.attempts = 0
	m.stopReconnectTimerLocked()
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}

	prev := m.state
	m.teardownLocked()

	if prev != StateDisconnected {
		m.setStateLocked(StateDisconnected, nil)
		m.publishLocked(events.LinkDisconnected, nil)
		m.logInfo("disconnected from controller", "address", m.endpoint.String())
	}
}

// Close disconnects and waits for every goroutine owned by the manager.
func (m *Manager) Close() error {
	m.Disconnect()
	m.wg.Wait()
	return nil
}

// EnterBackground pauses the heartbeat. The link itself stays open.
func (m *Manager) EnterBackground() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.background {
		return
	}
	m.background = true
	m.stopHeartbeatLocked()
	m.logInfo("entered background")
}

// EnterForeground resumes the heartbeat and re-checks the link instead of
// assuming it survived the pause:
//   - Connected: an immediate heartbeat probes the transport, so a dead
//     socket fails its write and enters the reconnect policy.
//   - Reconnecting: the pending delay is skipped and the next attempt is
//     dialled now.
//   - Connecting or Disconnected: nothing to do; a halted link waits for Connect.
func (m *Manager) EnterForeground() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.background = false
	switch m.state {
	case StateConnected:
		m.startHeartbeatLocked()
		if _, err := m.enqueueLocked(m.newRequest(m.cfg.HeartbeatPayload, true)); err == nil {
			m.heartbeatsTx.Add(1)
		}
	case StateReconnecting:
		m.logInfo("foreground check found link down, reconnecting now", "attempt", m.attempts)
		m.stopReconnectTimerLocked()
		m.startDialLocked()
	case StateConnecting, StateDisconnected:
	}
}

// Send writes data to the controller and waits until the writer confirms
// the bytes reached the transport.
//
// If ctx ends while the payload is still queued, it is withdrawn and never
// written. Once the writer has taken it, Send waits for the write to finish
// (at most WriteTimeout) and reports that outcome instead.
//
// Returns:
//   - error: ErrNotConnected, ErrQueueFull, ErrWriteFailed, or
//     ErrSendCancelled wrapping ctx.Err()
func (m *Manager) Send(ctx context.Context, data []byte) error {
	req, err := m.submit(data, false)
	if err != nil {
		return err
	}
	select {
	case err := <-req.result:
		return err
	case <-ctx.Done():
		if req.claim.CompareAndSwap(requestPending, requestAbandoned) {
			return fmt.Errorf("%w: %w", ErrSendCancelled, ctx.Err())
		}
		return <-req.result
	}
}

// SendHex decodes a hex string and sends the bytes. Spaces and 0x prefixes
// are ignored.
//
// Returns:
//   - error: protocol.ErrInvalidHex, or any error from Send
func (m *Manager) SendHex(ctx context.Context, s string) error {
	data, err := protocol.HexToBytes(s)
	if err != nil {
		return err
	}
	return m.Send(ctx, data)
}

// Enqueue hands data to the writer without waiting. The returned channel
// receives exactly one value: nil once written, or the write error.
func (m *Manager) Enqueue(data []byte) (<-chan error, error) {
	return m.enqueue(data, false)
}

func (m *Manager) enqueue(data []byte, heartbeat bool) (<-chan error, error) {
	req, err := m.submit(data, heartbeat)
	if err != nil {
		return nil, err
	}
	return req.result, nil
}

func (m *Manager) submit(data []byte, heartbeat bool) (writeRequest, error) {
	if len(data) == 0 {
		return writeRequest{}, ErrEmptyPayload
	}
	req := m.newRequest(data, heartbeat)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.enqueueLocked(req); err != nil {
		return writeRequest{}, err
	}
	return req, nil
}

func (m *Manager) newRequest(data []byte, heartbeat bool) writeRequest {
	return writeRequest{
		data:      append([]byte(nil), data...),
		heartbeat: heartbeat,
		result:    make(chan error, 1),
		claim:     new(atomic.Int32),
	}
}

func (m *Manager) enqueueLocked(req writeRequest) (<-chan error, error) {
	if m.state != StateConnected || m.writeQ == nil {
		return nil, ErrNotConnected
	}
	select {
	case m.writeQ <- req:
		return req.result, nil
	default:
		m.errorsTotal.Add(1)
		return nil, ErrQueueFull
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected returns true while the link is Connected.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Status returns the state together with the last error.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Status{
		State:      m.state,
		Address:    m.endpoint.String(),
		Attempt:    m.attempts,
		Since:      m.since,
		Background: m.background,
	}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	return s
}

// LastError returns the error recorded with the most recent transition.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Stats returns current operational statistics.
func (m *Manager) Stats() Stats {
	var last time.Time
	if ns := m.lastActivity.Load(); ns != 0 {
		last = time.Unix(0, ns).UTC()
	}
	return Stats{
		BytesTx:           m.bytesTx.Load(),
		BytesRx:           m.bytesRx.Load(),
		FramesTx:          m.framesTx.Load(),
		HeartbeatsTx:      m.heartbeatsTx.Load(),
		ErrorsTotal:       m.errorsTotal.Load(),
		DialsTotal:        m.dialsTotal.Load(),
		ReconnectAttempts: m.reconnectAttempts.Load(),
		ReconnectsTotal:   m.reconnectsTotal.Load(),
		LastActivity:      last,
		State:             m.State(),
	}
}

// HealthCheck reports ErrNotConnected unless the link is up.
func (m *Manager) HealthCheck(_ context.Context) error {
	if !m.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// startDialLocked begins a new session in the Connecting state.
func (m *Manager) startDialLocked() {
	m.session++
	session := m.session
	ep := m.endpoint

	m.setStateLocked(StateConnecting, nil)

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ConnectTimeout)
	m.dialCancel = cancel

	m.wg.Add(1)
	go m.dial(ctx, cancel, session, ep)
}

// dial opens the transport and attaches it if the session is still current.
func (m *Manager) dial(ctx context.Context, cancel context.CancelFunc, session uint64, ep Endpoint) {
	defer m.wg.Done()
	defer cancel()

	m.dialsTotal.Add(1)
	conn, err := m.cfg.Dial(ctx, ep)

	m.mu.Lock()
	defer m.mu.Unlock()

	if session != m.session {
		// Disconnect or a newer Connect superseded this attempt.
		if conn != nil {
			conn.Close()
		}
		return
	}
	m.dialCancel = nil

	if err != nil {
		m.errorsTotal.Add(1)
		err = fmt.Errorf("%w: %w", ErrConnectionFailed, err)
		m.logError("connect failed", err, "address", ep.String(), "attempt", m.attempts)
		m.setStateLocked(StateDisconnected, err)
		m.scheduleReconnectLocked()
		return
	}

	m.attachLocked(session, conn)
}

// attachLocked installs a freshly opened transport and starts its goroutines.
func (m *Manager) attachLocked(session uint64, conn io.ReadWriteCloser) {
	wasReconnect := m.attempts > 0

	m.conn = conn
	m.sessionDone = make(chan struct{})
	m.writeQ = make(chan writeRequest, m.cfg.WriteQueueSize)
	m.attempts = 0
	m.touch()

	if wasReconnect {
		m.reconnectsTotal.Add(1)
	}

	m.setStateLocked(StateConnected, nil)
	m.publishLocked(events.LinkConnected, nil)
	m.logInfo("connected to controller", "address", m.endpoint.String(), "reconnect", wasReconnect)

	m.wg.Add(2) //nolint:mnd // reader + writer
	go m.readLoop(session, conn)
	go m.writeLoop(session, conn, m.writeQ, m.sessionDone)

	if !m.background {
		m.startHeartbeatLocked()
	}
}

// teardownLocked closes the current transport and invalidates its session.
func (m *Manager) teardownLocked() {
	m.stopHeartbeatLocked()
	if m.sessionDone != nil {
		close(m.sessionDone)
		m.sessionDone = nil
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.writeQ = nil
	m.session++
}

// handleLinkLoss tears down an established session after an I/O failure.
func (m *Manager) handleLinkLoss(session uint64, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if session != m.session || m.state != StateConnected {
		return // Stale session or already torn down
	}

	m.errorsTotal.Add(1)
	err := fmt.Errorf("%w: %w", ErrLinkLost, cause)
	m.logError("link lost", err, "address", m.endpoint.String())

	m.teardownLocked()
	m.setStateLocked(StateDisconnected, err)
	m.publishLocked(events.LinkDisconnected, err)
	m.scheduleReconnectLocked()
}

// scheduleReconnectLocked arms the reconnect timer or, once the bound is
// reached, publishes the terminal disconnected event.
func (m *Manager) scheduleReconnectLocked() {
	if m.halted {
		return
	}

	if m.cfg.MaxReconnectAttempts >= 0 && m.attempts >= m.cfg.MaxReconnectAttempts {
		err := fmt.Errorf("%w: gave up after %d attempts", ErrMaxReconnectAttempts, m.attempts)
		if m.lastErr != nil {
			err = fmt.Errorf("%w: %w", err, m.lastErr)
		}
		m.logError("reconnect abandoned", err, "address", m.endpoint.String())
		m.setStateLocked(StateDisconnected, err)
		m.publishLocked(events.LinkDisconnected, err)
		m.halted = true
		return
	}

	m.attempts++
	m.reconnectAttempts.Add(1)
	m.setStateLocked(StateReconnecting, m.lastErr)
	m.logInfo("scheduling reconnect", "attempt", m.attempts, "delay", m.cfg.ReconnectDelay.String())

	session := m.session
	m.reconnectTimer = time.AfterFunc(m.cfg.ReconnectDelay, func() {
		m.fireReconnect(session)
	})
}

// fireReconnect runs when the reconnect delay elapses.
func (m *Manager) fireReconnect(session uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if session != m.session || m.halted || m.state != StateReconnecting {
		return
	}
	m.reconnectTimer = nil
	m.startDialLocked()
}

func (m *Manager) stopReconnectTimerLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}

// startHeartbeatLocked starts the heartbeat goroutine unless one is running.
func (m *Manager) startHeartbeatLocked() {
	if m.heartbeatStop != nil || m.cfg.HeartbeatInterval < 0 || m.state != StateConnected {
		return
	}
	stop := make(chan struct{})
	m.heartbeatStop = stop

	m.wg.Add(1)
	go m.heartbeatLoop(stop)
}

func (m *Manager) stopHeartbeatLocked() {
	if m.heartbeatStop != nil {
		close(m.heartbeatStop)
		m.heartbeatStop = nil
	}
}

// heartbeatLoop enqueues the liveness payload every interval. Write failures
// surface through the writer like any other write.
func (m *Manager) heartbeatLoop(stop <-chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, err := m.enqueue(m.cfg.HeartbeatPayload, true); err != nil {
				m.logDebug("heartbeat skipped", "error", err)
				continue
			}
			m.heartbeatsTx.Add(1)
		}
	}
}

// readLoop delivers inbound bytes until the transport fails or is closed.
func (m *Manager) readLoop(session uint64, conn io.Reader) {
	defer m.wg.Done()

	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			data := append([]byte(nil), buf[:n]...)
			m.bytesRx.Add(uint64(n)) //nolint:gosec // n is non-negative
			m.touch()
			if !m.publishIfCurrent(session, events.DataReceived, data) {
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = fmt.Errorf("remote closed connection: %w", err)
			}
			m.handleLinkLoss(session, err)
			return
		}
	}
}

// writeLoop serialises writes for one session.
func (m *Manager) writeLoop(session uint64, conn io.Writer, queue chan writeRequest, done <-chan struct{}) {
	defer m.wg.Done()

	for {
		select {
		case <-done:
			failPending(queue)
			return
		case req := <-queue:
			if !req.claim.CompareAndSwap(requestPending, requestWriting) {
				m.logDebug("skipping withdrawn payload", "bytes", len(req.data))
				continue
			}
			if err := m.write(conn, req); err != nil {
				req.result <- err
				m.handleLinkLoss(session, err)
				failPending(queue)
				return
			}
			req.result <- nil
		}
	}
}

// write performs one bounded write.
func (m *Manager) write(conn io.Writer, req writeRequest) error {
	if d, ok := conn.(interface{ SetWriteDeadline(time.Time) error }); ok {
		if err := d.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout)); err != nil {
			m.errorsTotal.Add(1)
			return fmt.Errorf("%w: set deadline: %w", ErrWriteFailed, err)
		}
	}

	n, err := conn.Write(req.data)
	m.bytesTx.Add(uint64(n)) //nolint:gosec // n is non-negative
	if err != nil {
		m.errorsTotal.Add(1)
		return fmt.Errorf("%w: write: %w", ErrWriteFailed, err)
	}
	if !req.heartbeat {
		m.framesTx.Add(1)
	}
	m.touch()
	return nil
}

// failPending answers every queued request with ErrNotConnected.
func failPending(queue chan writeRequest) {
	for {
		select {
		case req := <-queue:
			req.result <- ErrNotConnected
		default:
			return
		}
	}
}

// setStateLocked records a transition and publishes it.
func (m *Manager) setStateLocked(s State, err error) {
	m.prev = m.state
	m.state = s
	m.lastErr = err
	m.since = time.Now().UTC()
	m.publishLocked(events.LinkStateChanged, err)
	m.logDebug("link state changed", "from", m.prev, "to", s)
}

// publishLocked emits an event describing the current state.
func (m *Manager) publishLocked(t events.Type, err error) {
	change := StateChange{
		State:    m.state,
		Address:  m.endpoint.String(),
		Attempt:  m.attempts,
		Previous: m.prev,
	}
	if err != nil {
		change.Error = err.Error()
	}
	m.bus.Publish(t, change, err)
}

// publishIfCurrent publishes data only if session is still live.
func (m *Manager) publishIfCurrent(session uint64, t events.Type, data any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if session != m.session {
		return false
	}
	m.bus.Publish(t, data, nil)
	return true
}

func (m *Manager) touch() {
	m.lastActivity.Store(time.Now().UnixNano())
}

func (m *Manager) log() Logger {
	m.loggerMu.RLock()
	defer m.loggerMu.RUnlock()
	return m.logger
}

// logDebug logs a debug message if logger is set.
func (m *Manager) logDebug(msg string, keysAndValues ...any) {
	if logger := m.log(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if logger is set.
func (m *Manager) logInfo(msg string, keysAndValues ...any) {
	if logger := m.log(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (m *Manager) logError(msg string, err error, keysAndValues ...any) {
	if logger := m.log(); logger != nil {
		logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}
