package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/exhibit-core/internal/infrastructure/config"
)

// Logger is satisfied by logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// MessageHandler receives one message. Handlers run on paho goroutines and
// must not block for long. A returned error is logged.
type MessageHandler = func(topic string, payload []byte) error

// Stats counts traffic since Connect.
type Stats struct {
	Published      uint64 `json:"published"`
	Received       uint64 `json:"received"`
	HandlerErrors  uint64 `json:"handler_errors"`
	Subscriptions  int    `json:"subscriptions"`
	ConnectionLost uint64 `json:"connection_lost"`
}

// Client is the console's broker session. It remembers its subscriptions
// so a reconnect restores them, keeps a retained online/offline status on
// the system topic and isolates handler panics from paho.
//
// All methods are safe for concurrent use.
type Client struct {
	paho   pahomqtt.Client
	cfg    config.MQTTConfig
	topics Topics

	connected atomic.Bool
	published atomic.Uint64
	received  atomic.Uint64
	failures  atomic.Uint64
	lost      atomic.Uint64

	mu           sync.RWMutex
	subs         map[string]route
	onConnect    func()
	onDisconnect func(err error)
	logger       Logger
}

type route struct {
	qos     byte
	handler MessageHandler
}

// Connect dials the broker and blocks until the session is up or the
// connect timeout passes. The broker is told to publish a retained offline
// status if the daemon disappears without Close.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := newClient(cfg)

	opts := buildClientOptions(cfg)
	configureLWT(opts, c.topics, cfg.Broker.ClientID)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.sessionUp() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.sessionLost(err) })
	c.paho = pahomqtt.NewClient(opts)

	tok := c.paho.Connect()
	if !tok.WaitTimeout(defaultConnectTimeout) {
		// With ConnectRetry set paho keeps dialling after the timeout.
		c.paho.Disconnect(0)
		return nil, fmt.Errorf("%w: %s: no answer within %v", ErrConnectionFailed, brokerURL(cfg), defaultConnectTimeout)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// sessionUp runs on a paho goroutine and may not have fired yet.
	c.connected.Store(true)
	return c, nil
}

func newClient(cfg config.MQTTConfig) *Client {
	return &Client{
		cfg:    cfg,
		topics: NewTopics(cfg.TopicPrefix),
		subs:   make(map[string]route),
	}
}

// Topics returns the topic builders for the configured prefix.
func (c *Client) Topics() Topics { return c.topics }

// Stats returns the traffic counters.
func (c *Client) Stats() Stats {
	c.mu.RLock()
	n := len(c.subs)
	c.mu.RUnlock()
	return Stats{
		Published:      c.published.Load(),
		Received:       c.received.Load(),
		HandlerErrors:  c.failures.Load(),
		Subscriptions:  n,
		ConnectionLost: c.lost.Load(),
	}
}

func (c *Client) sessionUp() {
	c.connected.Store(true)

	c.mu.RLock()
	for topic, r := range c.subs {
		c.paho.Subscribe(topic, r.qos, c.deliver(r.handler))
	}
	cb := c.onConnect
	c.mu.RUnlock()

	c.paho.Publish(c.topics.SystemStatus(), byte(c.cfg.QoS), true,
		statusPayload(c.cfg.Broker.ClientID, StatusOnline, ""))

	if cb != nil {
		cb()
	}
}

func (c *Client) sessionLost(err error) {
	c.connected.Store(false)
	c.lost.Add(1)

	c.mu.RLock()
	cb, logger := c.onDisconnect, c.logger
	c.mu.RUnlock()

	if logger != nil {
		logger.Warn("mqtt connection lost", "broker", brokerURL(c.cfg), "error", err)
	}
	if cb != nil {
		cb(err)
	}
}

// Close announces a graceful shutdown on the system topic and disconnects.
func (c *Client) Close() error {
	if c.paho == nil {
		return nil
	}
	if c.IsConnected() {
		c.paho.Publish(c.topics.SystemStatus(), byte(c.cfg.QoS), true,
			statusPayload(c.cfg.Broker.ClientID, StatusOffline, ReasonGracefulShutdown)).
			WaitTimeout(defaultPublishTimeout)
	}
	c.paho.Disconnect(defaultDisconnectQuiesce)
	c.connected.Store(false)
	return nil
}

// HealthCheck returns ErrNotConnected unless the broker session is up.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports whether the session is up.
func (c *Client) IsConnected() bool {
	return c.paho != nil && c.connected.Load() && c.paho.IsConnected()
}

// SetOnConnect sets a callback run on every (re)connect.
func (c *Client) SetOnConnect(fn func()) {
	c.mu.Lock()
	c.onConnect = fn
	c.mu.Unlock()
}

// SetOnDisconnect sets a callback run when the connection drops.
func (c *Client) SetOnDisconnect(fn func(err error)) {
	c.mu.Lock()
	c.onDisconnect = fn
	c.mu.Unlock()
}

// SetLogger sets where handler failures are reported.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) log() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logger
}
