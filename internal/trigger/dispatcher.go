package trigger

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/vietddude/migrator/internal/core/clock"
	"github.com/vietddude/migrator/internal/core/domain"
	"github.com/vietddude/migrator/internal/infra/bus"
	"github.com/vietddude/migrator/internal/metrics"
	"github.com/vietddude/migrator/internal/mode"
)

// ModeGate is the part of the mode manager the dispatcher consults.
type ModeGate interface {
	CurrentMode() domain.Mode
	CanExecute(ctx context.Context, ectx domain.ExecutionContext) (bool, error)
	Run(ctx context.Context, run mode.RunFunc, opts domain.MigrationOptions, ectx domain.ExecutionContext) ([]domain.MigrationResult, error)
}

// Config holds dispatcher settings.
type Config struct {
	HistoryLimit int
	HistoryTrim  int
	Listeners    []domain.ListenerConfig // nil selects DefaultListeners
}

// Dispatcher admits domain events through per-type debounce and throttle
// gates and starts a migration when the current mode allows it.
type Dispatcher struct {
	cfg      Config
	clock    clock.Clock
	bus      *bus.Bus
	modes    ModeGate
	migrator domain.Migrator

	mu         sync.Mutex
	listeners  map[domain.EventType]domain.ListenerConfig
	pending    map[domain.EventType]clock.Timer
	generation map[domain.EventType]uint64
	limiters   map[domain.EventType]*rate.Limiter
	history    []domain.EventRecord
	listening  bool
	subs       []*bus.Subscription
	ctx        context.Context
}

// NewDispatcher creates a dispatcher. b may be nil when no bus is wired.
func NewDispatcher(cfg Config, b *bus.Bus, modes ModeGate, migrator domain.Migrator, clk clock.Clock) *Dispatcher {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 100
	}
	if cfg.HistoryTrim <= 0 || cfg.HistoryTrim > cfg.HistoryLimit {
		cfg.HistoryTrim = cfg.HistoryLimit / 2
	}
	if cfg.Listeners == nil {
		cfg.Listeners = DefaultListeners()
	}
	if clk == nil {
		clk = clock.New()
	}

	d := &Dispatcher{
		cfg:        cfg,
		clock:      clk,
		bus:        b,
		modes:      modes,
		migrator:   migrator,
		listeners:  make(map[domain.EventType]domain.ListenerConfig),
		pending:    make(map[domain.EventType]clock.Timer),
		generation: make(map[domain.EventType]uint64),
		limiters:   make(map[domain.EventType]*rate.Limiter),
		ctx:        context.Background(),
	}
	for _, l := range cfg.Listeners {
		d.AddListener(l)
	}
	return d
}

// AddListener registers l, replacing any listener for the same type.
func (d *Dispatcher) AddListener(l domain.ListenerConfig) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cancelPending(l.Type)
	d.listeners[l.Type] = l
	delete(d.limiters, l.Type)
	if l.Throttle > 0 {
		d.limiters[l.Type] = rate.NewLimiter(rate.Every(l.Throttle), 1)
	}
	slog.Debug("Event listener registered",
		"type", l.Type,
		"enabled", l.Enabled,
		"debounce", l.Debounce,
		"throttle", l.Throttle,
	)
}

// RemoveListener drops the listener for t and any pending debounced event.
func (d *Dispatcher) RemoveListener(t domain.EventType) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelPending(t)
	delete(d.listeners, t)
	delete(d.limiters, t)
}

// cancelPending must be called with the lock held.
func (d *Dispatcher) cancelPending(t domain.EventType) {
	if timer, ok := d.pending[t]; ok {
		timer.Stop()
		delete(d.pending, t)
	}
	d.generation[t]++
}

// StartListening subscribes to the message bus and the local event channel.
// Calling it again while listening is a no-op.
func (d *Dispatcher) StartListening(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.listening {
		slog.Warn("Event dispatcher already listening")
		return nil
	}

	if d.bus != nil {
		msgSub, err := d.bus.Subscribe(bus.TopicMessages, d.handleMessage)
		if err != nil {
			return err
		}
		localSub, err := d.bus.Subscribe(bus.TopicEvents, d.handleLocalEvent)
		if err != nil {
			msgSub.Unsubscribe()
			return err
		}
		d.subs = []*bus.Subscription{msgSub, localSub}
	}

	d.ctx = ctx
	d.listening = true
	slog.Info("Event dispatcher listening")
	return nil
}

// StopListening detaches from the bus and cancels pending debounced events.
func (d *Dispatcher) StopListening() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.listening {
		return
	}
	for _, sub := range d.subs {
		sub.Unsubscribe()
	}
	d.subs = nil
	for t := range d.pending {
		d.cancelPending(t)
	}
	d.listening = false
	d.ctx = context.Background()
	slog.Info("Event dispatcher stopped")
}

// IsListening reports whether the dispatcher is attached to the bus.
func (d *Dispatcher) IsListening() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.listening
}

func (d *Dispatcher) handleMessage(v any) {
	msg, ok := v.(bus.Message)
	if !ok {
		return
	}
	payload := TranslateMessage(msg, d.clock.Now())
	if payload == nil {
		slog.Debug("Ignoring unrecognized message", "type", msg.Type)
		return
	}
	d.TriggerEvent(d.baseContext(), *payload)
}

func (d *Dispatcher) handleLocalEvent(v any) {
	switch p := v.(type) {
	case domain.EventPayload:
		d.TriggerEvent(d.baseContext(), p)
	case *domain.EventPayload:
		if p != nil {
			d.TriggerEvent(d.baseContext(), *p)
		}
	}
}

func (d *Dispatcher) baseContext() context.Context {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ctx
}

// EmitManualEvent raises a manual_trigger event on the local channel, or
// directly when the dispatcher is not listening.
func (d *Dispatcher) EmitManualEvent(ctx context.Context, data map[string]any) {
	payload := domain.EventPayload{
		Type:      domain.EventTypeManualTrigger,
		Source:    "manual",
		Timestamp: d.clock.Now(),
		Data:      data,
	}
	if d.IsListening() && d.bus != nil {
		d.bus.Publish(bus.TopicEvents, payload)
		return
	}
	d.TriggerEvent(ctx, payload)
}

// TriggerEvent admits payload through its listener's filter, debounce and
// throttle gates. Admitted events without debounce are processed before it returns.
func (d *Dispatcher) TriggerEvent(ctx context.Context, payload domain.EventPayload) {
	if payload.Timestamp.IsZero() {
		payload.Timestamp = d.clock.Now()
	}

	d.mu.Lock()
	l, ok := d.listeners[payload.Type]
	d.mu.Unlock()

	if !ok || !l.Enabled {
		d.drop(payload, "no enabled listener")
		return
	}
	if l.Filter != nil && !l.Filter(payload) {
		d.drop(payload, "filtered")
		return
	}
	if l.Transform != nil {
		payload = l.Transform(payload)
	}

	if l.Debounce > 0 {
		d.debounce(payload, l.Debounce)
		return
	}

	if l.Throttle > 0 {
		d.mu.Lock()
		limiter := d.limiters[payload.Type]
		allowed := limiter == nil || limiter.AllowN(d.clock.Now(), 1)
		d.mu.Unlock()
		if !allowed {
			d.drop(payload, "throttled")
			return
		}
	}

	d.processEvent(ctx, payload)
}

func (d *Dispatcher) debounce(payload domain.EventPayload, wait time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	t := payload.Type
	d.cancelPending(t)
	gen := d.generation[t]

	d.pending[t] = d.clock.AfterFunc(wait, func() {
		d.mu.Lock()
		if d.generation[t] != gen {
			d.mu.Unlock()
			return
		}
		delete(d.pending, t)
		ctx := d.ctx
		d.mu.Unlock()

		d.processEvent(ctx, payload)
	})
}

func (d *Dispatcher) drop(payload domain.EventPayload, reason string) {
	metrics.EventsTotal.WithLabelValues(string(payload.Type), "dropped").Inc()
	slog.Debug("Event dropped", "type", payload.Type, "reason", reason)
}

// processEvent gates an admitted event and runs the migration. Every call
// appends exactly one EventRecord.
func (d *Dispatcher) processEvent(ctx context.Context, payload domain.EventPayload) {
	rec := domain.EventRecord{
		ID:    uuid.New().String(),
		Event: payload,
	}

	ectx := domain.ExecutionContext{
		Mode:        d.modes.CurrentMode(),
		TriggeredBy: domain.TriggerEvent,
		Conditions:  payload.Data,
		Timestamp:   d.clock.Now(),
	}

	allowed, err := d.modes.CanExecute(ctx, ectx)
	switch {
	case err != nil:
		rec.Result = domain.EventResultSkipped
		rec.Reason = "mode check failed"
		rec.Error = err.Error()
	case !allowed:
		rec.Result = domain.EventResultSkipped
		rec.Reason = "mode " + string(ectx.Mode) + " does not permit execution"
	default:
		d.migrate(ctx, payload, ectx, &rec)
	}

	rec.Timestamp = d.clock.Now()
	d.appendHistory(rec)
	metrics.EventsTotal.WithLabelValues(string(payload.Type), string(rec.Result)).Inc()
	slog.Info("Event processed",
		"type", payload.Type,
		"source", payload.Source,
		"result", rec.Result,
		"reason", rec.Reason,
	)
}

func (d *Dispatcher) migrate(ctx context.Context, payload domain.EventPayload, ectx domain.ExecutionContext, rec *domain.EventRecord) {
	should, err := d.migrator.ShouldMigrate(ctx)
	if err != nil {
		rec.Result = domain.EventResultSkipped
		rec.Reason = "pending check failed"
		rec.Error = err.Error()
		return
	}
	if !should {
		rec.Result = domain.EventResultSkipped
		rec.Reason = "nothing to migrate"
		return
	}

	rec.Triggered = true
	opts := domain.MigrationOptions{
		Mode: ectx.Mode,
		Metadata: map[string]any{
			"trigger":    string(domain.TriggerEvent),
			"event_type": string(payload.Type),
			"source":     payload.Source,
		},
	}
	results, err := d.modes.Run(ctx, d.migrator.Migrate, opts, ectx)
	if err != nil {
		rec.Result = domain.EventResultFailed
		rec.Error = err.Error()
		return
	}
	rec.Result = domain.EventResultSuccess
	rec.Reason = "migrated " + strconv.Itoa(domain.TotalMigrated(results)) + " records"
}

func (d *Dispatcher) appendHistory(rec domain.EventRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history = append(d.history, rec)
	if len(d.history) > d.cfg.HistoryLimit {
		trimmed := make([]domain.EventRecord, d.cfg.HistoryTrim)
		copy(trimmed, d.history[len(d.history)-d.cfg.HistoryTrim:])
		d.history = trimmed
	}
}

// GetEventHistory returns up to limit of the most recent records, oldest first.
func (d *Dispatcher) GetEventHistory(limit int) []domain.EventRecord {
	d.mu.Lock()
	defer d.mu.Unlock()

	start := 0
	if limit > 0 && limit < len(d.history) {
		start = len(d.history) - limit
	}
	out := make([]domain.EventRecord, len(d.history)-start)
	copy(out, d.history[start:])
	return out
}

// ClearHistory drops the recorded events.
func (d *Dispatcher) ClearHistory() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history = nil
}

// Statistics aggregates the event history.
type Statistics struct {
	Total     int                        `json:"total"`
	Triggered int                        `json:"triggered"`
	ByResult  map[domain.EventResult]int `json:"by_result"`
	ByType    map[domain.EventType]int   `json:"by_type"`
	Listening bool                       `json:"listening"`
}

// GetEventStatistics returns counts by outcome and type.
func (d *Dispatcher) GetEventStatistics() Statistics {
	d.mu.Lock()
	defer d.mu.Unlock()

	stats := Statistics{
		Total:     len(d.history),
		ByResult:  make(map[domain.EventResult]int),
		ByType:    make(map[domain.EventType]int),
		Listening: d.listening,
	}
	for _, rec := range d.history {
		stats.ByResult[rec.Result]++
		stats.ByType[rec.Event.Type]++
		if rec.Triggered {
			stats.Triggered++
		}
	}
	return stats
}

// GetListenerStatus describes every registered listener, sorted by type.
func (d *Dispatcher) GetListenerStatus() []ListenerStatus {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]ListenerStatus, 0, len(d.listeners))
	for t, l := range d.listeners {
		_, pending := d.pending[t]
		out = append(out, ListenerStatus{
			Type:         t,
			Enabled:      l.Enabled,
			Debounce:     l.Debounce,
			Throttle:     l.Throttle,
			HasFilter:    l.Filter != nil,
			HasTransform: l.Transform != nil,
			Pending:      pending,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}
