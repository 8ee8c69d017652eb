package console

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/exhibit-core/internal/audit"
	"github.com/nerrad567/exhibit-core/internal/device"
	"github.com/nerrad567/exhibit-core/internal/events"
	"github.com/nerrad567/exhibit-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/exhibit-core/internal/link"
	"github.com/nerrad567/exhibit-core/internal/protocol"
)

const (
	// commandTimeout bounds one command, including the write confirmation.
	commandTimeout = 5 * time.Second

	// eventBuffer is the capacity of the bridge's event channel.
	eventBuffer = 256

	// defaultQoS is used for acks and retained state.
	defaultQoS byte = 1
)

// MQTTClient is the broker connection the bridge needs. *mqtt.Client
// implements it.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte) error) error
	IsConnected() bool
}

// Controller issues device commands. *device.Registry implements it.
type Controller interface {
	ControlDevice(ctx context.Context, id string, action protocol.Action, params map[string]any) (*device.Device, error)
	ControlAllDevices(ctx context.Context, t protocol.DeviceType, action protocol.Action) (*device.BatchResult, error)
	GetAllDevices() []device.Device
}

// RawSender sends operator-supplied hex. *link.Manager implements it.
type RawSender interface {
	SendHex(ctx context.Context, s string) error
	Status() link.Status
}

// EventSource is the event bus. *events.Bus implements it.
type EventSource interface {
	Channel(buffer int, types ...events.Type) (<-chan events.Event, func())
}

// Logger defines the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// BridgeOptions holds the dependencies of a Bridge.
type BridgeOptions struct {
	// MQTT is the broker connection.
	MQTT MQTTClient

	// Topics builds topic names. The zero value uses the "exhibit" prefix.
	Topics mqtt.Topics

	// Controller executes device and type commands.
	Controller Controller

	// Link executes raw commands and reports link state.
	Link RawSender

	// Events feeds state changes to publish.
	Events EventSource

	// Audit records every executed command. Optional.
	Audit audit.Repository

	// QoS for acks and state. Default: 1.
	QoS byte

	// Logger is optional.
	Logger Logger
}

// Bridge connects operator consoles on MQTT to the registry and link.
//
// It subscribes to the command topics, acks every command on
// exhibit/ack/{id} and mirrors device and link state as retained messages.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	mqtt       MQTTClient
	topics     mqtt.Topics
	controller Controller
	link       RawSender
	events     EventSource
	audit      audit.Repository
	qos        byte
	logger     Logger

	mu      sync.Mutex
	started bool
	stopped bool
	unsub   func()

	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc
}

// NewBridge creates a bridge. Call Start to subscribe.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.MQTT == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Controller == nil {
		return nil, fmt.Errorf("controller is required")
	}
	if opts.Link == nil {
		return nil, fmt.Errorf("link is required")
	}
	if opts.Events == nil {
		return nil, fmt.Errorf("event source is required")
	}
	if opts.QoS == 0 {
		opts.QoS = defaultQoS
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		mqtt:       opts.MQTT,
		topics:     opts.Topics,
		controller: opts.Controller,
		link:       opts.Link,
		events:     opts.Events,
		audit:      opts.Audit,
		qos:        opts.QoS,
		logger:     opts.Logger,
		ctx:        ctx,
		ctxCancel:  cancel,
	}, nil
}

// Start subscribes to the command topics, publishes the current state of
// every device and the link, and begins mirroring state changes.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.started || b.stopped {
		b.mu.Unlock()
		return nil
	}
	b.started = true
	b.mu.Unlock()

	for _, topic := range []string{b.topics.AllDeviceCommands(), b.topics.AllTypeCommands(), b.topics.RawCommand()} {
		if err := b.mqtt.Subscribe(topic, b.qos, b.handleMQTTMessage); err != nil {
			return fmt.Errorf("subscribe to %s: %w", topic, err)
		}
		b.logger.Info("subscribed to console commands", "topic", topic)
	}

	ch, unsub := b.events.Channel(eventBuffer, events.DeviceUpdated, events.LinkStateChanged)
	b.mu.Lock()
	b.unsub = unsub
	b.wg.Add(1)
	b.mu.Unlock()
	go b.forward(ctx, ch)

	for _, d := range b.controller.GetAllDevices() {
		b.publishState(d, device.SourceCatalog)
	}
	st := b.link.Status()
	b.publishLinkState(LinkStateMessage{
		State:     st.State,
		Address:   st.Address,
		Attempt:   st.Attempt,
		Error:     st.LastError,
		Timestamp: time.Now().UTC(),
	})

	b.logger.Info("console bridge started", "prefix", b.topics.Prefix())
	return nil
}

// Stop cancels in-flight commands and waits for them to finish.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		b.stopped = true
		unsub := b.unsub
		b.mu.Unlock()

		if unsub != nil {
			unsub()
		}
		b.ctxCancel()
		b.wg.Wait()
		b.logger.Info("console bridge stopped")
	})
}

// forward mirrors bus events as retained MQTT state.
func (b *Bridge) forward(ctx context.Context, ch <-chan events.Event) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.ctx.Done():
			return
		case e := <-ch:
			b.handleEvent(e)
		}
	}
}

func (b *Bridge) handleEvent(e events.Event) {
	switch e.Type {
	case events.DeviceUpdated:
		if u, ok := e.Data.(device.Update); ok {
			b.publishState(u.Device, u.Source)
		}
	case events.LinkStateChanged:
		if sc, ok := e.Data.(link.StateChange); ok {
			ts := e.Time
			if ts.IsZero() {
				ts = time.Now().UTC()
			}
			b.publishLinkState(LinkStateMessage{
				State:     sc.State,
				Previous:  sc.Previous,
				Address:   sc.Address,
				Attempt:   sc.Attempt,
				Error:     sc.Error,
				Timestamp: ts,
			})
		}
	default:
	}
}

// handleMQTTMessage dispatches a command. Execution happens on a tracked
// goroutine so the MQTT client's delivery goroutine never waits on the link.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) error {
	run, err := b.route(topic, payload)
	if err != nil {
		return err
	}

	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil
	}
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		run()
	}()
	return nil
}

// route parses a command and returns the function that executes it.
func (b *Bridge) route(topic string, payload []byte) (func(), error) {
	deviceCmd := b.topics.DeviceCommand("")
	typeCmd := b.topics.TypeCommand("")

	switch {
	case topic == b.topics.RawCommand():
		var msg RawCommandMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			return nil, fmt.Errorf("parsing raw command: %w", err)
		}
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		return func() { b.executeRaw(msg) }, nil

	case strings.HasPrefix(topic, deviceCmd):
		cmd, err := parseCommand(payload)
		if err != nil {
			return nil, err
		}
		id := mqtt.LastSegment(topic)
		return func() { b.executeDevice(id, cmd) }, nil

	case strings.HasPrefix(topic, typeCmd):
		cmd, err := parseCommand(payload)
		if err != nil {
			return nil, err
		}
		t := protocol.DeviceType(mqtt.LastSegment(topic))
		return func() { b.executeType(t, cmd) }, nil

	default:
		return nil, fmt.Errorf("unexpected topic %s", topic)
	}
}

func parseCommand(payload []byte) (CommandMessage, error) {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return cmd, fmt.Errorf("parsing command: %w", err)
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	return cmd, nil
}

func (b *Bridge) executeDevice(id string, cmd CommandMessage) {
	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	b.logger.Info("console command", "command_id", cmd.ID, "device_id", id, "action", cmd.Action, "source", cmd.Source)
	d, err := b.controller.ControlDevice(ctx, id, cmd.Action, cmd.Params)
	b.record(cmd.ID, string(cmd.Action), audit.TargetDevice, id, err, cmd.Params)
	if err != nil {
		b.publishAckError(cmd.ID, id, err)
		return
	}
	b.publishAck(AckMessage{CommandID: cmd.ID, Target: id, Status: AckAccepted, Devices: []device.Device{*d}})
}

func (b *Bridge) executeType(t protocol.DeviceType, cmd CommandMessage) {
	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	b.logger.Info("console batch command", "command_id", cmd.ID, "type", t, "action", cmd.Action, "source", cmd.Source)
	if !t.Valid() {
		b.publishAckError(cmd.ID, string(t), fmt.Errorf("%w: %s", protocol.ErrUnknownDeviceType, t))
		return
	}
	res, err := b.controller.ControlAllDevices(ctx, t, cmd.Action)
	var details map[string]any
	if res != nil {
		details = map[string]any{"strategy": res.Strategy, "devices": len(res.Devices)}
	}
	b.record(cmd.ID, string(cmd.Action), audit.TargetDeviceType, string(t), err, details)
	if err != nil {
		b.publishAckError(cmd.ID, string(t), err)
		return
	}
	b.publishAck(AckMessage{
		CommandID: cmd.ID,
		Target:    string(t),
		Status:    AckAccepted,
		Devices:   res.Devices,
		Strategy:  res.Strategy,
	})
}

func (b *Bridge) executeRaw(msg RawCommandMessage) {
	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	b.logger.Info("console raw command", "command_id", msg.ID, "hex", msg.Hex)
	err := b.link.SendHex(ctx, msg.Hex)
	b.record(msg.ID, "raw", audit.TargetLink, "", err, map[string]any{"hex": msg.Hex})
	if err != nil {
		b.publishAckError(msg.ID, "raw", err)
		return
	}
	b.publishAck(AckMessage{CommandID: msg.ID, Target: "raw", Status: AckAccepted})
}

// record appends a command to the command log, when one is configured.
func (b *Bridge) record(commandID, action, targetType, targetID string, cmdErr error, params map[string]any) {
	if b.audit == nil {
		return
	}
	details := map[string]any{"command_id": commandID}
	for k, v := range params {
		details[k] = v
	}
	entry := &audit.Entry{
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Source:     audit.SourceConsole,
		Outcome:    audit.OutcomeAccepted,
		Details:    details,
	}
	if cmdErr != nil {
		entry.Outcome = audit.OutcomeFailed
		entry.Error = cmdErr.Error()
	}
	if err := b.audit.Create(context.WithoutCancel(b.ctx), entry); err != nil {
		b.logger.Warn("failed to record console command", "command_id", commandID, "error", err)
	}
}

func (b *Bridge) publishAck(ack AckMessage) {
	if ack.Timestamp.IsZero() {
		ack.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logger.Error("failed to marshal ack", "error", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.Ack(ack.CommandID), payload, b.qos, false); err != nil {
		b.logger.Warn("failed to publish ack", "command_id", ack.CommandID, "error", err)
	}
}

func (b *Bridge) publishAckError(commandID, target string, cause error) {
	b.logger.Warn("console command failed", "command_id", commandID, "target", target, "error", cause)
	b.publishAck(AckMessage{
		CommandID: commandID,
		Target:    target,
		Status:    AckFailed,
		Error:     &AckError{Code: errorCode(cause), Message: cause.Error()},
	})
}

func (b *Bridge) publishState(d device.Device, source string) {
	b.publishRetained(b.topics.DeviceState(d.ID), newStateMessage(d, source))
}

func (b *Bridge) publishLinkState(msg LinkStateMessage) {
	b.publishRetained(b.topics.LinkState(), msg)
}

func (b *Bridge) publishRetained(topic string, v any) {
	if !b.mqtt.IsConnected() {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		b.logger.Error("failed to marshal state", "topic", topic, "error", err)
		return
	}
	if err := b.mqtt.Publish(topic, payload, b.qos, true); err != nil {
		b.logger.Warn("failed to publish state", "topic", topic, "error", err)
	}
}
