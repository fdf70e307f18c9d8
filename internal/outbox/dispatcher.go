package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// StorePort abstracts the store for the dispatcher.
type StorePort interface {
	ReserveBatch(ctx context.Context, limit int) ([]Event, error)
	WithProcessing(ctx context.Context, eventID int64, fn func(context.Context, Event) error) error
	MarkFailed(ctx context.Context, eventID int64, lastError string, nextAttemptAt time.Time) error
}

// MetricsPort records dispatch outcomes; a nil port disables instrumentation.
type MetricsPort interface {
	ObserveDispatch(processed, failed int, elapsed time.Duration)
}

// Config carries the dispatcher knobs exposed through app configuration.
type Config struct {
	Interval  time.Duration
	BatchSize int
	BaseDelay time.Duration
}

const (
	defaultInterval  = time.Second
	defaultBatchSize = 50
	maxBatchSize     = 500
	defaultBaseDelay = 5 * time.Second
	maxRetryDelay    = 5 * time.Minute
)

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = defaultInterval
	}
	if c.BatchSize < 1 {
		c.BatchSize = defaultBatchSize
	}
	if c.BatchSize > maxBatchSize {
		c.BatchSize = maxBatchSize
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = defaultBaseDelay
	}
	return c
}

// Dispatcher polls the outbox, reserves batches and runs per-event handlers.
// Delivery is at-least-once; handlers derive deterministic idempotency keys
// so re-processing never double-posts.
type Dispatcher struct {
	store    StorePort
	registry Registry
	logger   *slog.Logger
	metrics  MetricsPort
	cfg      Config
	running  atomic.Bool
	nudge    chan struct{}
	now      func() time.Time
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(store StorePort, registry Registry, logger *slog.Logger, metrics MetricsPort, cfg Config) *Dispatcher {
	return &Dispatcher{
		store:    store,
		registry: registry,
		logger:   logger,
		metrics:  metrics,
		cfg:      cfg.withDefaults(),
		nudge:    make(chan struct{}, 1),
		now:      time.Now,
	}
}

// WithNow overrides the clock, used by tests.
func (d *Dispatcher) WithNow(now func() time.Time) {
	if now != nil {
		d.now = now
	}
}

// Nudge asks the loop to run immediately, used after a manual requeue.
func (d *Dispatcher) Nudge() {
	select {
	case d.nudge <- struct{}{}:
	default:
	}
}

// Run polls on a fixed interval until context cancellation.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-d.nudge:
		}
		if _, err := d.RunOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			d.logger.Error("outbox dispatch", slog.Any("error", err))
		}
	}
}

// RunOnce reserves and processes one batch. The single-flight guard makes an
// overlapping tick a no-op so concurrency per process stays bounded.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	if !d.running.CompareAndSwap(false, true) {
		return 0, nil
	}
	defer d.running.Store(false)

	start := d.now()
	events, err := d.store.ReserveBatch(ctx, d.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(events) > 0 {
		d.logger.Debug("reserved outbox batch",
			slog.String("batch_id", uuid.NewString()),
			slog.Int("count", len(events)))
	}
	processed := 0
	failed := 0
	for _, ev := range events {
		if ctx.Err() != nil {
			break
		}
		if d.processEvent(ctx, ev) {
			processed++
		} else {
			failed++
		}
	}
	if d.metrics != nil && (processed > 0 || failed > 0) {
		d.metrics.ObserveDispatch(processed, failed, d.now().Sub(start))
	}
	return processed, ctx.Err()
}

// processEvent runs one handler in its own transaction so a poison event
// cannot block the rest of the batch.
func (d *Dispatcher) processEvent(ctx context.Context, ev Event) bool {
	err := d.store.WithProcessing(ctx, ev.ID, d.dispatch)
	if err == nil {
		return true
	}
	if errors.Is(err, ErrNotReserved) || errors.Is(err, ErrEventNotFound) {
		d.logger.Warn("outbox event skipped",
			slog.Int64("event_id", ev.ID), slog.Any("error", err))
		return true
	}
	delay := backoffDelay(d.cfg.BaseDelay, ev.Attempts)
	d.logger.Error("outbox event failed",
		slog.Int64("event_id", ev.ID),
		slog.String("event_type", string(ev.EventType)),
		slog.Int("attempts", ev.Attempts),
		slog.Duration("retry_in", delay),
		slog.Any("error", err))
	if markErr := d.store.MarkFailed(ctx, ev.ID, err.Error(), d.now().Add(delay)); markErr != nil {
		d.logger.Error("outbox mark failed", slog.Int64("event_id", ev.ID), slog.Any("error", markErr))
	}
	return false
}

func (d *Dispatcher) dispatch(ctx context.Context, ev Event) error {
	handler, ok := d.registry[ev.EventType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEventType, ev.EventType)
	}
	return handler(ctx, ev)
}

// backoffDelay doubles from base per attempt and plateaus at five minutes.
func backoffDelay(base time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := base
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	if delay > maxRetryDelay {
		return maxRetryDelay
	}
	return delay
}
