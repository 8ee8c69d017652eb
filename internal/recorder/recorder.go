package recorder

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/exhibit-core/internal/device"
	"github.com/nerrad567/exhibit-core/internal/events"
	"github.com/nerrad567/exhibit-core/internal/link"
)

const (
	// defaultBuffer is the event channel capacity.
	defaultBuffer = 256

	// defaultWriteTimeout bounds one history insert.
	defaultWriteTimeout = 5 * time.Second

	// defaultPruneInterval is how often old history is deleted when a
	// retention is configured.
	defaultPruneInterval = time.Hour
)

// Source is the part of the event bus the recorder reads from.
type Source interface {
	Channel(buffer int, types ...events.Type) (<-chan events.Event, func())
}

// HistoryWriter persists device snapshots. device.SQLiteStateHistoryRepository
// implements it.
type HistoryWriter interface {
	RecordStateChange(ctx context.Context, deviceID string, state device.StateSnapshot, source string) error
}

// Pruner is implemented by history writers that can drop old rows.
type Pruner interface {
	PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error)
}

// MetricsWriter receives time-series points. *influxdb.Client implements it.
type MetricsWriter interface {
	WriteDeviceState(deviceID, deviceType, status, source string, powerOn bool, ts time.Time)
	WriteLinkState(state, address string, attempt int, ts time.Time)
	WriteOperationFailure(operation, deviceID, action, errMsg string, ts time.Time)
}

// Logger defines the logging interface used by the recorder.
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

// Config configures a Recorder.
type Config struct {
	// History stores device snapshots. Nil skips the state trail.
	History HistoryWriter

	// Metrics receives points. Nil skips metrics.
	Metrics MetricsWriter

	// Retention deletes history older than this. Zero keeps everything.
	Retention time.Duration

	// PruneInterval is the period of the retention sweep. Default: 1 hour.
	PruneInterval time.Duration

	// Buffer is the event channel capacity. Default: 256.
	Buffer int
}

// Stats holds recorder counters.
type Stats struct {
	Recorded uint64 `json:"recorded"`
	Failed   uint64 `json:"failed"`
	Points   uint64 `json:"points"`
	Pruned   uint64 `json:"pruned"`
}

// Recorder turns the event stream into state history rows and metric points.
//
// Events are consumed on the recorder's own goroutine, so slow storage never
// stalls the bus dispatcher. Events that overflow the buffer are dropped and
// counted by the bus.
type Recorder struct {
	cfg    Config
	logger Logger

	recorded atomic.Uint64
	failed   atomic.Uint64
	points   atomic.Uint64
	pruned   atomic.Uint64

	mu     sync.Mutex
	cancel context.CancelFunc
	unsub  func()
	wg     sync.WaitGroup
}

// New creates a Recorder. Call Start to begin consuming events.
func New(cfg Config) *Recorder {
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultBuffer
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = defaultPruneInterval
	}
	return &Recorder{cfg: cfg, logger: noopLogger{}}
}

// SetLogger sets the logger for the recorder.
func (r *Recorder) SetLogger(logger Logger) {
	r.logger = logger
}

// Start subscribes to src and consumes events until ctx is cancelled or Stop
// is called. Calling Start twice is a no-op.
func (r *Recorder) Start(ctx context.Context, src Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}

	ch, unsub := src.Channel(r.cfg.Buffer,
		events.DeviceUpdated, events.LinkStateChanged, events.OperationFailed)
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.unsub = unsub

	r.wg.Add(1)
	go r.run(runCtx, ch)

	if pruner, ok := r.cfg.History.(Pruner); ok && r.cfg.Retention > 0 {
		r.wg.Add(1)
		go r.pruneLoop(runCtx, pruner)
	}
	r.logger.Info("recorder started", "history", r.cfg.History != nil, "metrics", r.cfg.Metrics != nil)
}

// Stop unsubscribes, drains buffered events and waits for the goroutines.
func (r *Recorder) Stop() {
	r.mu.Lock()
	cancel, unsub := r.cancel, r.unsub
	r.mu.Unlock()
	if cancel == nil {
		return
	}

	unsub()
	cancel()
	r.wg.Wait()
}

// Stats returns a snapshot of the counters.
func (r *Recorder) Stats() Stats {
	return Stats{
		Recorded: r.recorded.Load(),
		Failed:   r.failed.Load(),
		Points:   r.points.Load(),
		Pruned:   r.pruned.Load(),
	}
}

func (r *Recorder) run(ctx context.Context, ch <-chan events.Event) {
	defer r.wg.Done()
	for {
		select {
		case e := <-ch:
			r.Handle(e)
		case <-ctx.Done():
			// Drain what was already delivered.
			for {
				select {
				case e := <-ch:
					r.Handle(e)
				default:
					return
				}
			}
		}
	}
}

// Handle records one event. It is exported so callers without a bus (and
// tests) can feed events directly.
func (r *Recorder) Handle(e events.Event) {
	ts := e.Time
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	switch e.Type {
	case events.DeviceUpdated:
		u, ok := e.Data.(device.Update)
		if !ok {
			return
		}
		r.recordDevice(u, ts)

	case events.LinkStateChanged:
		sc, ok := e.Data.(link.StateChange)
		if !ok || r.cfg.Metrics == nil {
			return
		}
		r.cfg.Metrics.WriteLinkState(string(sc.State), sc.Address, sc.Attempt, ts)
		r.points.Add(1)

	case events.OperationFailed:
		op, ok := e.Data.(device.OperationFailure)
		if !ok || r.cfg.Metrics == nil {
			return
		}
		msg := ""
		if e.Err != nil {
			msg = e.Err.Error()
		}
		r.cfg.Metrics.WriteOperationFailure(op.Operation, op.DeviceID, string(op.Action), msg, ts)
		r.points.Add(1)

	default:
	}
}

func (r *Recorder) recordDevice(u device.Update, ts time.Time) {
	d := u.Device
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.WriteDeviceState(d.ID, string(d.Type), string(d.Status), u.Source, d.PowerOn, ts)
		r.points.Add(1)
	}
	if r.cfg.History == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultWriteTimeout)
	defer cancel()

	state := device.StateSnapshot{Status: d.Status, PowerOn: d.PowerOn}
	if err := r.cfg.History.RecordStateChange(ctx, d.ID, state, u.Source); err != nil {
		r.failed.Add(1)
		r.logger.Warn("recording state change failed", "device_id", d.ID, "error", err)
		return
	}
	r.recorded.Add(1)
}

func (r *Recorder) pruneLoop(ctx context.Context, pruner Pruner) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.PruneInterval)
	defer ticker.Stop()

	r.prune(ctx, pruner)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.prune(ctx, pruner)
		}
	}
}

func (r *Recorder) prune(ctx context.Context, pruner Pruner) {
	n, err := pruner.PruneHistory(ctx, r.cfg.Retention)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			r.logger.Warn("pruning state history failed", "error", err)
		}
		return
	}
	r.pruned.Add(uint64(n)) // #nosec G115 -- row counts are non-negative
	if n > 0 {
		r.logger.Info("state history pruned", "deleted", n, "retention", r.cfg.Retention.String())
	}
}
