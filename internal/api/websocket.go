package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/exhibit-core/internal/device"
	"github.com/nerrad567/exhibit-core/internal/events"
	"github.com/nerrad567/exhibit-core/internal/infrastructure/config"
	"github.com/nerrad567/exhibit-core/internal/infrastructure/logging"
	"github.com/nerrad567/exhibit-core/internal/protocol"
)

// Message types exchanged on the feed.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeSnapshot    = "snapshot"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// wsSendBufferSize is the per-client outbound queue. A client that falls
	// this far behind loses events; the seq gap tells it so.
	wsSendBufferSize = 256

	defaultWSPingInterval = 30 * time.Second
	defaultWSPongTimeout  = 10 * time.Second
)

// relayedEvents are the bus events clients can subscribe to. The channel
// name is the event type.
var relayedEvents = []events.Type{
	events.DeviceUpdated,
	events.LinkStateChanged,
	events.DataReceived,
	events.OperationFailed,
}

// WSMessage is one frame on the feed, in either direction.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Seq       uint64 `json:"seq,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload selects channels and, optionally, devices. An empty
// device list follows every device. Snapshot asks for the current device
// list right after the subscription is confirmed.
type WSSubscribePayload struct {
	Channels  []string `json:"channels"`
	DeviceIDs []string `json:"device_ids,omitempty"`
	Snapshot  bool     `json:"snapshot,omitempty"`
}

// Hub fans relayed events out to connected clients.
type Hub struct {
	cfg      config.WebSocketConfig
	logger   *logging.Logger
	snapshot func() []device.Device

	mu      sync.RWMutex
	clients map[*WSClient]struct{}
}

// WSClient is one connected feed consumer.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn

	// sendMu guards send against a concurrent close.
	sendMu sync.Mutex
	send   chan []byte
	closed bool

	mu       sync.RWMutex
	channels map[string]struct{}
	devices  map[string]struct{}

	dropped atomic.Uint64
}

func newWSClient(hub *Hub, conn *websocket.Conn) *WSClient {
	return &WSClient{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, wsSendBufferSize),
		channels: make(map[string]struct{}),
		devices:  make(map[string]struct{}),
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are filtered by corsMiddleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewHub creates a hub. snapshot may be nil, in which case snapshot
// requests are answered with an empty list.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger, snapshot func() []device.Device) *Hub {
	if snapshot == nil {
		snapshot = func() []device.Device { return nil }
	}
	return &Hub{
		cfg:      cfg,
		logger:   logger,
		snapshot: snapshot,
		clients:  make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.closeSend()
		if c.conn != nil {
			c.conn.Close()
		}
		delete(h.clients, c)
	}
}

// Register adds a client.
func (h *Hub) Register(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

// Unregister removes a client. Only the call that removes it closes its
// send queue, so repeated calls are harmless.
func (h *Hub) Unregister(c *WSClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		c.closeSend()
		h.logger.Debug("websocket client disconnected", "clients", n, "dropped", c.dropped.Load())
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish delivers a bus event to every client following its channel and,
// for device events, its device.
func (h *Hub) Publish(e events.Event) {
	channel := string(e.Type)
	deviceID := eventDeviceID(e)

	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Seq:       e.Seq,
		Timestamp: e.Time.UTC().Format(time.RFC3339Nano),
		Payload:   eventPayload(e),
	})
	if err != nil {
		h.logger.Error("failed to marshal feed event", "event", channel, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.follows(channel, deviceID) {
			c.enqueue(data)
		}
	}
}

// relayEvents feeds bus events to the hub until ctx is cancelled.
func (s *Server) relayEvents(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-ch:
			s.hub.Publish(e)
		}
	}
}

// eventDeviceID returns the device an event concerns, or "".
func eventDeviceID(e events.Event) string {
	switch data := e.Data.(type) {
	case device.Update:
		return data.Device.ID
	case device.OperationFailure:
		return data.DeviceID
	}
	return ""
}

// eventPayload shapes an event for JSON clients.
func eventPayload(e events.Event) any {
	switch data := e.Data.(type) {
	case []byte:
		return map[string]any{"hex": protocol.BytesToHex(data), "size": len(data)}
	case device.OperationFailure:
		out := map[string]any{
			"operation":   data.Operation,
			"device_id":   data.DeviceID,
			"device_type": data.DeviceType,
			"action":      data.Action,
		}
		if e.Err != nil {
			out["error"] = e.Err.Error()
		}
		return out
	default:
		return e.Data
	}
}

func isRelayedChannel(channel string) bool {
	return slices.Contains(relayedEvents, events.Type(channel))
}

// handleWebSocket upgrades the connection and starts the client pumps.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err, "request_id", requestID(r.Context()))
		return
	}

	c := newWSClient(s.hub, conn)
	s.hub.Register(c)
	go c.writePump()
	go c.readPump()
}

func (c *WSClient) follows(channel, deviceID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.channels[channel]; !ok {
		return false
	}
	if deviceID == "" || len(c.devices) == 0 {
		return true
	}
	_, ok := c.devices[deviceID]
	return ok
}

// enqueue queues data without blocking. Messages for a full or closed
// queue are dropped.
func (c *WSClient) enqueue(data []byte) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		c.dropped.Add(1)
		return
	}
	select {
	case c.send <- data:
	default:
		c.dropped.Add(1)
	}
}

// closeSend closes the send queue once, which ends writePump.
func (c *WSClient) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *WSClient) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	if n := c.hub.cfg.MaxMessageSize; n > 0 {
		c.conn.SetReadLimit(int64(n))
	}
	wait := wsPingInterval(c.hub.cfg) + wsPongTimeout(c.hub.cfg)
	extend := func(string) error { return c.conn.SetReadDeadline(time.Now().Add(wait)) }
	extend("") //nolint:errcheck // a failed deadline surfaces on the next read
	c.conn.SetPongHandler(extend)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		extend("") //nolint:errcheck // see above
		c.handleMessage(data)
	}
}

func (c *WSClient) writePump() {
	ping := time.NewTicker(wsPingInterval(c.hub.cfg))
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()
	wait := wsPongTimeout(c.hub.cfg)

	write := func(kind int, data []byte) error {
		c.conn.SetWriteDeadline(time.Now().Add(wait)) //nolint:errcheck // write reports the failure
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				write(websocket.CloseMessage, nil) //nolint:errcheck // closing anyway
				return
			}
			if write(websocket.TextMessage, data) != nil {
				return
			}
		case <-ping.C:
			if write(websocket.PingMessage, nil) != nil {
				return
			}
		}
	}
}

func wsPingInterval(cfg config.WebSocketConfig) time.Duration {
	if cfg.PingInterval <= 0 {
		return defaultWSPingInterval
	}
	return time.Duration(cfg.PingInterval) * time.Second
}

func wsPongTimeout(cfg config.WebSocketConfig) time.Duration {
	if cfg.PongTimeout <= 0 {
		return defaultWSPongTimeout
	}
	return time.Duration(cfg.PongTimeout) * time.Second
}

func (c *WSClient) handleMessage(data []byte) {
	var msg struct {
		Type    string             `json:"type"`
		ID      string             `json:"id"`
		Payload WSSubscribePayload `json:"payload"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		c.reply("", WSTypeError, map[string]string{"message": "invalid message"})
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		c.subscribe(msg.ID, msg.Payload)
	case WSTypeUnsubscribe:
		c.unsubscribe(msg.ID, msg.Payload)
	case WSTypePing:
		c.reply(msg.ID, WSTypePong, nil)
	default:
		c.reply(msg.ID, WSTypeError, map[string]string{"message": "unknown message type: " + msg.Type})
	}
}

// subscribe adds channels and device filters. Unknown channels are listed
// back as rejected.
func (c *WSClient) subscribe(id string, p WSSubscribePayload) {
	accepted := make([]string, 0, len(p.Channels))
	rejected := make([]string, 0)

	c.mu.Lock()
	for _, ch := range p.Channels {
		if !isRelayedChannel(ch) {
			rejected = append(rejected, ch)
			continue
		}
		c.channels[ch] = struct{}{}
		accepted = append(accepted, ch)
	}
	for _, d := range p.DeviceIDs {
		c.devices[d] = struct{}{}
	}
	c.mu.Unlock()

	resp := map[string]any{"subscribed": accepted}
	if len(rejected) > 0 {
		resp["rejected"] = rejected
	}
	if len(p.DeviceIDs) > 0 {
		resp["device_ids"] = p.DeviceIDs
	}
	c.reply(id, WSTypeResponse, resp)

	if p.Snapshot {
		c.reply(id, WSTypeSnapshot, map[string]any{"devices": c.filterDevices(c.hub.snapshot())})
	}
}

func (c *WSClient) unsubscribe(id string, p WSSubscribePayload) {
	c.mu.Lock()
	for _, ch := range p.Channels {
		delete(c.channels, ch)
	}
	for _, d := range p.DeviceIDs {
		delete(c.devices, d)
	}
	c.mu.Unlock()

	c.reply(id, WSTypeResponse, map[string]any{"unsubscribed": p.Channels})
}

func (c *WSClient) filterDevices(all []device.Device) []device.Device {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.devices) == 0 {
		return all
	}
	out := make([]device.Device, 0, len(c.devices))
	for _, d := range all {
		if _, ok := c.devices[d.ID]; ok {
			out = append(out, d)
		}
	}
	return out
}

func (c *WSClient) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.enqueue(data)
}
