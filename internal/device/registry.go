package device

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nerrad567/exhibit-core/internal/events"
	"github.com/nerrad567/exhibit-core/internal/protocol"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Sender transmits framed bytes to the controller. Send returns only after
// the bytes reached the transport, or with the reason they did not.
// link.Manager implements it.
type Sender interface {
	Send(ctx context.Context, data []byte) error
	IsConnected() bool
}

// Publisher receives registry events. Publish must not block.
type Publisher interface {
	Publish(t events.Type, data any, err error) bool
}

// Subscriber is the part of the event bus the Registry listens on.
type Subscriber interface {
	Subscribe(t events.Type, h events.Handler) func()
}

type noopPublisher struct{}

func (noopPublisher) Publish(events.Type, any, error) bool { return true }

// refreshKey collapses concurrent status refreshes into one wire query.
const refreshKey = "status"

// Config configures a Registry.
type Config struct {
	// Catalog lists the fixed devices. Empty means DefaultCatalog().
	Catalog []CatalogEntry

	// RefreshInterval is the period of the background status query while the
	// link is connected. Zero disables it.
	RefreshInterval time.Duration

	// Store persists user-defined devices. Nil keeps them in memory only.
	Store CustomDeviceStore

	// History serves History. Nil means no trail is kept.
	History StateHistoryRepository
}

// Registry is the in-memory device catalogue and command issuer.
//
// Thread Safety:
//   - All public methods are safe for concurrent use.
//   - Device state is mutated under a single lock; events for a mutation are
//     published before the lock is released.
//   - Commands for the same device are serialised from frame building to
//     state update. The registry lock itself is not held while waiting on
//     the Sender.
type Registry struct {
	mu            sync.RWMutex
	devices       map[string]*Device
	order         []string            // Insertion order for stable listings
	byNumber      map[uint16][]string // Catalogue ids sharing a wire number
	lastAddressed map[uint16]string   // Most recent catalogue id sent to each wire number
	stopped       bool

	sender      Sender
	bus         Publisher
	store       CustomDeviceStore
	history     StateHistoryRepository
	interval    time.Duration
	statusFrame []byte

	logger   Logger
	loggerMu sync.RWMutex

	commands     commandLocks
	refreshGroup singleflight.Group
	stream       frameStream

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRegistry creates a Registry populated from cfg.Catalog.
//
// Parameters:
//   - cfg: Catalogue, refresh interval and optional custom device store
//   - sender: Transport for framed commands (usually *link.Manager)
//   - bus: Event sink; nil discards events
//
// Returns:
//   - *Registry: Ready for use; call Attach to follow link events
//   - error: ErrInvalidDevice or ErrDeviceExists for a bad catalogue
func NewRegistry(cfg Config, sender Sender, bus Publisher) (*Registry, error) {
	if sender == nil {
		return nil, fmt.Errorf("%w: sender is required", ErrInvalidDevice)
	}
	if bus == nil {
		bus = noopPublisher{}
	}
	catalog := cfg.Catalog
	if len(catalog) == 0 {
		catalog = DefaultCatalog()
	}

	statusFrame, err := protocol.HexToBytes(protocol.StatusQueryHex())
	if err != nil {
		return nil, fmt.Errorf("building status query: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		devices:       make(map[string]*Device, len(catalog)),
		byNumber:      make(map[uint16][]string),
		lastAddressed: make(map[uint16]string),
		sender:        sender,
		bus:           bus,
		store:         cfg.Store,
		history:       cfg.History,
		logger:        noopLogger{},
		interval:      cfg.RefreshInterval,
		statusFrame:   statusFrame,
		ctx:           ctx,
		cancel:        cancel,
	}

	for _, e := range catalog {
		if err := ValidateCatalogEntry(e); err != nil {
			cancel()
			return nil, fmt.Errorf("catalogue entry %q: %w", e.ID, err)
		}
		if _, exists := r.devices[e.ID]; exists {
			cancel()
			return nil, fmt.Errorf("%w: %s", ErrDeviceExists, e.ID)
		}
		num, _ := protocol.DeviceNumber(e.ID) // validated above
		r.devices[e.ID] = &Device{ID: e.ID, Name: e.Name, Type: e.Type, Status: StatusUnknown}
		r.order = append(r.order, e.ID)
		r.byNumber[num] = append(r.byNumber[num], e.ID)
	}

	return r, nil
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.loggerMu.Lock()
	r.logger = logger
	r.loggerMu.Unlock()
}

func (r *Registry) log() Logger {
	r.loggerMu.RLock()
	defer r.loggerMu.RUnlock()
	return r.logger
}

// Attach subscribes the registry to link events on sub and returns a
// function that removes every subscription.
func (r *Registry) Attach(sub Subscriber) func() {
	unsubs := []func(){
		sub.Subscribe(events.LinkConnected, r.HandleEvent),
		sub.Subscribe(events.LinkDisconnected, r.HandleEvent),
		sub.Subscribe(events.DataReceived, r.HandleEvent),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Start runs the periodic status refresh until ctx is cancelled or Stop is
// called. It is a no-op when RefreshInterval is zero.
func (r *Registry) Start(ctx context.Context) {
	if r.interval <= 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}

	r.wg.Add(1)
	go r.refreshLoop(ctx)
	r.log().Info("status refresh started", "interval", r.interval.String())
}

// Stop ends background work and waits for it to finish.
func (r *Registry) Stop() {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
}

func (r *Registry) refreshLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if !r.sender.IsConnected() {
				continue
			}
			if err := r.RefreshDeviceStatus(r.ctx); err != nil {
				r.log().Debug("periodic status refresh failed", "error", err)
			}
		}
	}
}

// GetDevice retrieves a device by ID.
// Returns ErrDeviceNotFound if the device does not exist.
// The returned device is a deep copy; callers can safely modify it.
func (r *Registry) GetDevice(id string) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return d.DeepCopy(), nil
}

// GetDevices returns every device of type t in catalogue order.
// The returned devices are deep copies; callers can safely modify them.
func (r *Registry) GetDevices(t protocol.DeviceType) []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collectLocked(func(d *Device) bool { return d.Type == t })
}

// GetAllDevices returns every device in catalogue order, user-defined
// devices last.
func (r *Registry) GetAllDevices() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collectLocked(func(*Device) bool { return true })
}

func (r *Registry) collectLocked(match func(*Device) bool) []Device {
	devices := make([]Device, 0, len(r.order))
	for _, id := range r.order {
		d := r.devices[id]
		if match(d) {
			devices = append(devices, *d.DeepCopy())
		}
	}
	return devices
}

// ControlDevice sends action to one device and, once the link confirms the
// write, applies the resulting power state.
//
// Catalogue devices get a hex-string frame built from their numeric id.
// User-defined devices send their stored on or off payload; Toggle picks
// the payload opposite to the current power flag. Commands for one device
// run one at a time, so a Toggle always starts from the state left by the
// previous command.
//
// Parameters:
//   - ctx: Bounds the wait for the write confirmation
//   - id: Device ID
//   - action: TurnOn, TurnOff, Toggle, AllOn or AllOff
//   - params: Optional parameters (brightness for lighting)
//
// Returns:
//   - *Device: Copy of the device after the update
//   - error: ErrDeviceNotFound, ErrUnsupportedAction, a protocol encode error
//     or the Sender's error, returned as is. State is unchanged on error.
func (r *Registry) ControlDevice(ctx context.Context, id string, action protocol.Action, params map[string]any) (*Device, error) {
	failure := OperationFailure{Operation: OperationControl, DeviceID: id, Action: action}

	if !action.Valid() || action == protocol.ActionStatusQuery {
		err := fmt.Errorf("%w: %q on a single device", ErrUnsupportedAction, action)
		r.fail(failure, err)
		return nil, err
	}

	unlock := r.commands.lock(id)
	defer unlock()

	r.mu.RLock()
	current, ok := r.devices[id]
	var snapshot *Device
	if ok {
		snapshot = current.DeepCopy()
	}
	r.mu.RUnlock()

	if !ok {
		err := fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
		r.fail(failure, err)
		return nil, err
	}
	failure.DeviceType = snapshot.Type

	powerOn := targetPower(action, snapshot.PowerOn)
	payload, err := deviceFrame(snapshot, action, powerOn, params)
	if err != nil {
		r.fail(failure, err)
		return nil, err
	}

	if err := r.sender.Send(ctx, payload); err != nil {
		r.log().Warn("device command failed", "device_id", id, "action", action, "error", err)
		r.fail(failure, err)
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		// Removed while the command was in flight.
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	if action == protocol.ActionToggle && !d.IsCustom() {
		// The controller flips whatever state the device is in, which a
		// report may have changed since the frame was built.
		powerOn = !d.PowerOn
	}
	r.noteAddressedLocked(d)
	r.applyLocked(d, StatusOnline, &powerOn, SourceCommand, true)
	r.log().Debug("device command confirmed", "device_id", id, "action", action, "power_on", powerOn)
	return d.DeepCopy(), nil
}

// deviceFrame builds the wire bytes for one device.
func deviceFrame(d *Device, action protocol.Action, powerOn bool, params map[string]any) ([]byte, error) {
	if d.IsCustom() {
		payload := d.Custom.OffHex
		if powerOn {
			payload = d.Custom.OnHex
		}
		return ValidatePayload(payload)
	}

	s, err := protocol.EncodeHex(protocol.NewCommand(d.ID, d.Type, action, params))
	if err != nil {
		return nil, err
	}
	return protocol.HexToBytes(s)
}

// targetPower is the power flag a confirmed action leaves behind.
func targetPower(action protocol.Action, current bool) bool {
	switch action {
	case protocol.ActionTurnOn, protocol.ActionAllOn:
		return true
	case protocol.ActionTurnOff, protocol.ActionAllOff:
		return false
	case protocol.ActionToggle:
		return !current
	default:
		return current
	}
}

// RefreshDeviceStatus sends the status query frame. It reports only whether
// the query reached the controller; device state is updated later from the
// controller's replies. Concurrent calls share one query.
func (r *Registry) RefreshDeviceStatus(ctx context.Context) error {
	_, err, shared := r.refreshGroup.Do(refreshKey, func() (any, error) {
		return nil, r.sender.Send(ctx, r.statusFrame)
	})
	if err != nil {
		if !shared {
			r.fail(OperationFailure{Operation: OperationRefresh, Action: protocol.ActionStatusQuery}, err)
		}
		return err
	}
	return nil
}

// refreshAsync issues a status refresh in the background.
func (r *Registry) refreshAsync() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		if err := r.RefreshDeviceStatus(r.ctx); err != nil {
			r.log().Debug("status refresh on connect failed", "error", err)
		}
	}()
}

// AddCustomDevice validates, persists and registers a user-defined device.
// An empty ID is replaced by a new UUID. Payloads are stored upper-case
// without spaces.
//
// Returns:
//   - *Device: Copy of the registered device
//   - error: ErrInvalidName, ErrInvalidPayload, ErrDeviceExists or a store error
func (r *Registry) AddCustomDevice(ctx context.Context, c CustomDevice) (*Device, error) {
	if c.ID == "" {
		c.ID = GenerateID()
	}
	c.Name = strings.TrimSpace(c.Name)
	c.OnHex = protocol.NormalizeHex(c.OnHex)
	c.OffHex = protocol.NormalizeHex(c.OffHex)
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if err := ValidateCustomDevice(c); err != nil {
		return nil, err
	}

	r.mu.RLock()
	_, exists := r.devices[c.ID]
	r.mu.RUnlock()
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrDeviceExists, c.ID)
	}

	if r.store != nil {
		if err := r.store.Save(ctx, c); err != nil {
			return nil, err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.devices[c.ID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDeviceExists, c.ID)
	}
	d := r.insertCustomLocked(c)
	r.log().Info("custom device added", "id", c.ID, "name", c.Name)
	return d.DeepCopy(), nil
}

// RemoveCustomDevice deletes a user-defined device.
//
// Returns:
//   - error: ErrDeviceNotFound, ErrCatalogDevice or a store error
func (r *Registry) RemoveCustomDevice(ctx context.Context, id string) error {
	r.mu.RLock()
	d, ok := r.devices[id]
	custom := ok && d.IsCustom()
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	if !custom {
		return fmt.Errorf("%w: %s", ErrCatalogDevice, id)
	}

	if r.store != nil {
		if err := r.store.Delete(ctx, id); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.devices, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.log().Info("custom device removed", "id", id)
	return nil
}

// LoadCustomDevices registers every device held by the store. Invalid or
// duplicate entries are logged and skipped.
//
// Returns:
//   - int: Number of devices registered
//   - error: Store error
func (r *Registry) LoadCustomDevices(ctx context.Context) (int, error) {
	if r.store == nil {
		return 0, nil
	}
	stored, err := r.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading custom devices: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	loaded := 0
	for _, c := range stored {
		if err := ValidateCustomDevice(c); err != nil {
			r.log().Warn("skipping invalid custom device", "id", c.ID, "error", err)
			continue
		}
		if _, exists := r.devices[c.ID]; exists {
			r.log().Warn("skipping duplicate custom device", "id", c.ID)
			continue
		}
		r.insertCustomLocked(c)
		loaded++
	}

	r.log().Info("custom devices loaded", "count", loaded)
	return loaded, nil
}

// History returns the recorded state changes of a device, newest first.
// The limit is clamped with ClampHistoryLimit.
//
// Returns:
//   - []StateHistoryEntry: May be empty; never nil
//   - error: ErrDeviceNotFound or the repository error
func (r *Registry) History(ctx context.Context, id string, limit int) ([]StateHistoryEntry, error) {
	r.mu.RLock()
	_, ok := r.devices[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	if r.history == nil {
		return []StateHistoryEntry{}, nil
	}

	entries, err := r.history.GetHistory(ctx, id, ClampHistoryLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("reading history for %s: %w", id, err)
	}
	if entries == nil {
		entries = []StateHistoryEntry{}
	}
	return entries, nil
}

func (r *Registry) insertCustomLocked(c CustomDevice) *Device {
	d := c.device()
	d.LastUpdate = time.Now().UTC()
	r.devices[c.ID] = d
	r.order = append(r.order, c.ID)
	r.publishLocked(d, SourceCatalog)
	return d
}

// GetDeviceCount returns the number of registered devices.
func (r *Registry) GetDeviceCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Stats returns current registry statistics.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{
		TotalDevices: len(r.devices),
		ByType:       make(map[protocol.DeviceType]int),
		ByStatus:     make(map[Status]int),
	}
	for _, d := range r.devices {
		stats.ByType[d.Type]++
		stats.ByStatus[d.Status]++
		if d.IsCustom() {
			stats.CustomDevices++
		}
		if d.PowerOn {
			stats.PoweredOn++
		}
	}
	return stats
}

// applyLocked mutates one device and publishes the change. With force false
// nothing is published when the device already matches.
func (r *Registry) applyLocked(d *Device, status Status, powerOn *bool, source string, force bool) bool {
	changed := d.Status != status
	d.Status = status
	if powerOn != nil {
		changed = changed || d.PowerOn != *powerOn
		d.PowerOn = *powerOn
	}
	if !changed && !force {
		return false
	}
	d.LastUpdate = time.Now().UTC()
	r.publishLocked(d, source)
	return true
}

func (r *Registry) publishLocked(d *Device, source string) {
	r.bus.Publish(events.DeviceUpdated, Update{Device: *d.DeepCopy(), Source: source}, nil)
}

// noteAddressedLocked remembers which catalogue device a wire number last
// referred to, so controller replies can be attributed.
func (r *Registry) noteAddressedLocked(d *Device) {
	if d.IsCustom() {
		return
	}
	if num, err := protocol.DeviceNumber(d.ID); err == nil {
		r.lastAddressed[num] = d.ID
	}
}

func (r *Registry) fail(op OperationFailure, err error) {
	r.bus.Publish(events.OperationFailed, op, err)
}
