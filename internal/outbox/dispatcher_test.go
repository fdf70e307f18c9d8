package outbox

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryStore implements StorePort in memory with the same reservation
// semantics as the SQL store.
type memoryStore struct {
	mu     sync.Mutex
	events map[int64]*Event
	order  []int64
	now    func() time.Time
}

func newMemoryStore(now func() time.Time) *memoryStore {
	return &memoryStore{events: make(map[int64]*Event), now: now}
}

func (m *memoryStore) add(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := ev
	m.events[ev.ID] = &stored
	m.order = append(m.order, ev.ID)
}

func (m *memoryStore) get(id int64) Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.events[id]
}

func (m *memoryStore) ReserveBatch(_ context.Context, limit int) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var batch []Event
	for _, id := range m.order {
		if len(batch) >= limit {
			break
		}
		ev := m.events[id]
		if ev.Status != StatusPending && ev.Status != StatusFailed {
			continue
		}
		if ev.NextAttemptAt != nil && ev.NextAttemptAt.After(now) {
			continue
		}
		ev.Status = StatusProcessing
		ev.Attempts++
		batch = append(batch, *ev)
	}
	return batch, nil
}

func (m *memoryStore) WithProcessing(ctx context.Context, eventID int64, fn func(context.Context, Event) error) error {
	m.mu.Lock()
	ev, ok := m.events[eventID]
	if !ok {
		m.mu.Unlock()
		return ErrEventNotFound
	}
	if ev.Status != StatusProcessing {
		m.mu.Unlock()
		return ErrNotReserved
	}
	snapshot := *ev
	m.mu.Unlock()

	if err := fn(ctx, snapshot); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	ev.Status = StatusProcessed
	ev.ProcessedAt = &now
	ev.LastError = ""
	ev.NextAttemptAt = nil
	return nil
}

func (m *memoryStore) MarkFailed(_ context.Context, eventID int64, lastError string, nextAttemptAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[eventID]
	if !ok {
		return ErrEventNotFound
	}
	ev.Status = StatusFailed
	ev.LastError = lastError
	ev.NextAttemptAt = &nextAttemptAt
	return nil
}

type dispatchObservation struct {
	processed int
	failed    int
}

type recordingMetrics struct {
	mu           sync.Mutex
	observations []dispatchObservation
}

func (r *recordingMetrics) ObserveDispatch(processed, failed int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observations = append(r.observations, dispatchObservation{processed: processed, failed: failed})
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 4}))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func pendingEvent(id int64, eventType EventType) Event {
	return Event{ID: id, EventType: eventType, Payload: []byte(`{}`), Status: StatusPending}
}

func TestRunOnceProcessesBatch(t *testing.T) {
	store := newMemoryStore(time.Now)
	store.add(pendingEvent(1, EventSaleInvoiced))
	store.add(pendingEvent(2, EventPaymentReceived))

	var handled []int64
	registry := Registry{
		EventSaleInvoiced:    func(_ context.Context, ev Event) error { handled = append(handled, ev.ID); return nil },
		EventPaymentReceived: func(_ context.Context, ev Event) error { handled = append(handled, ev.ID); return nil },
	}
	metrics := &recordingMetrics{}
	d := NewDispatcher(store, registry, testLogger(), metrics, Config{})

	processed, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, processed)
	assert.Equal(t, []int64{1, 2}, handled)
	assert.Equal(t, StatusProcessed, store.get(1).Status)
	assert.Equal(t, StatusProcessed, store.get(2).Status)
	require.Len(t, metrics.observations, 1)
	assert.Equal(t, dispatchObservation{processed: 2, failed: 0}, metrics.observations[0])
}

func TestRunOnceFailureSchedulesRetry(t *testing.T) {
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	store := newMemoryStore(func() time.Time { return now })
	store.add(pendingEvent(1, EventSaleInvoiced))

	registry := Registry{
		EventSaleInvoiced: func(context.Context, Event) error { return errors.New("boom") },
	}
	d := NewDispatcher(store, registry, testLogger(), nil, Config{BaseDelay: 5 * time.Second})
	d.WithNow(func() time.Time { return now })

	processed, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, processed)

	ev := store.get(1)
	assert.Equal(t, StatusFailed, ev.Status)
	assert.Equal(t, "boom", ev.LastError)
	require.NotNil(t, ev.NextAttemptAt)
	assert.Equal(t, now.Add(5*time.Second), *ev.NextAttemptAt)
}

func TestRunOnceSkipsEventsNotDueYet(t *testing.T) {
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	store := newMemoryStore(func() time.Time { return now })
	future := now.Add(time.Minute)
	ev := pendingEvent(1, EventSaleInvoiced)
	ev.Status = StatusFailed
	ev.NextAttemptAt = &future
	store.add(ev)

	registry := Registry{
		EventSaleInvoiced: func(context.Context, Event) error { t.Fatal("should not run"); return nil },
	}
	d := NewDispatcher(store, registry, testLogger(), nil, Config{})

	processed, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, processed)
	assert.Equal(t, StatusFailed, store.get(1).Status)
}

func TestRunOnceUnknownEventTypeFails(t *testing.T) {
	store := newMemoryStore(time.Now)
	store.add(pendingEvent(1, EventType("ghost.event")))

	d := NewDispatcher(store, Registry{}, testLogger(), nil, Config{})
	processed, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, processed)

	ev := store.get(1)
	assert.Equal(t, StatusFailed, ev.Status)
	assert.Contains(t, ev.LastError, "unknown event type")
}

func TestProcessEventSkipsUnreservedRows(t *testing.T) {
	store := newMemoryStore(time.Now)
	ev := pendingEvent(1, EventSaleInvoiced)
	store.add(ev)

	registry := Registry{
		EventSaleInvoiced: func(context.Context, Event) error { return nil },
	}
	d := NewDispatcher(store, registry, testLogger(), nil, Config{})

	// A reclaim sweep flipped the row back to PENDING between reservation
	// and processing. The worker skips it without marking it failed.
	assert.True(t, d.processEvent(context.Background(), ev))
	assert.Equal(t, StatusPending, store.get(1).Status)

	// A vanished row is likewise skipped.
	assert.True(t, d.processEvent(context.Background(), Event{ID: 99, EventType: EventSaleInvoiced}))
}

func TestSingleFlightGuard(t *testing.T) {
	store := newMemoryStore(time.Now)
	d := NewDispatcher(store, Registry{}, testLogger(), nil, Config{})
	d.running.Store(true)

	processed, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, processed)
}

func TestNudgeNeverBlocks(t *testing.T) {
	d := NewDispatcher(newMemoryStore(time.Now), Registry{}, testLogger(), nil, Config{})
	for i := 0; i < 10; i++ {
		d.Nudge()
	}
}

func TestBackoffDelayDoublesAndCaps(t *testing.T) {
	base := 5 * time.Second
	assert.Equal(t, 5*time.Second, backoffDelay(base, 1))
	assert.Equal(t, 10*time.Second, backoffDelay(base, 2))
	assert.Equal(t, 40*time.Second, backoffDelay(base, 4))
	assert.Equal(t, 5*time.Minute, backoffDelay(base, 8))
	assert.Equal(t, 5*time.Minute, backoffDelay(base, 50))
	assert.Equal(t, base, backoffDelay(base, 0))
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, time.Second, cfg.Interval)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.BaseDelay)

	clamped := Config{BatchSize: 9000}.withDefaults()
	assert.Equal(t, 500, clamped.BatchSize)
}
