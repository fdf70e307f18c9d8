package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists outbox events in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const eventColumns = `id, event_type, payload, COALESCE(idempotency_key, ''), source_type, source_id, status, attempts, COALESCE(last_error, ''), next_attempt_at, processed_at, created_at, updated_at`

func scanEvent(row pgx.Row) (Event, error) {
	var ev Event
	err := row.Scan(&ev.ID, &ev.EventType, &ev.Payload, &ev.IdempotencyKey, &ev.SourceType, &ev.SourceID,
		&ev.Status, &ev.Attempts, &ev.LastError, &ev.NextAttemptAt, &ev.ProcessedAt, &ev.CreatedAt, &ev.UpdatedAt)
	return ev, err
}

// Enqueue inserts a pending event. Re-enqueueing an identical idempotency key
// returns the existing row instead of duplicating it.
func (s *Store) Enqueue(ctx context.Context, input EnqueueInput) (Event, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Event{}, err
	}
	ev, err := s.EnqueueTx(ctx, tx, input)
	if err != nil {
		_ = tx.Rollback(ctx)
		return Event{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// Duplicate keys must not raise a unique violation: a raised error would
// abort the caller's transaction and poison the operational write the event
// rides on. DO NOTHING suppresses the conflict so the follow-up lookup can
// run on the same transaction.
var enqueueEventSQL = `INSERT INTO outbox_events (event_type, payload, idempotency_key, source_type, source_id, status)
VALUES ($1,$2,$3,$4,$5,'PENDING')
ON CONFLICT (idempotency_key) WHERE idempotency_key IS NOT NULL DO NOTHING
RETURNING ` + eventColumns

// EnqueueTx inserts the event inside the caller's transaction, the hand-off
// that makes the outbox pattern atomic with the operational write.
func (s *Store) EnqueueTx(ctx context.Context, tx pgx.Tx, input EnqueueInput) (Event, error) {
	payload, err := json.Marshal(input.Payload)
	if err != nil {
		return Event{}, err
	}
	row := tx.QueryRow(ctx, enqueueEventSQL,
		string(input.EventType), payload, nullString(input.IdempotencyKey), input.SourceType, input.SourceID)
	ev, err := scanEvent(row)
	if err != nil {
		// No row back means the conflict target already holds this key.
		if errors.Is(err, pgx.ErrNoRows) && input.IdempotencyKey != "" {
			return s.findByIdempotencyKey(ctx, tx, input.IdempotencyKey)
		}
		return Event{}, err
	}
	return ev, nil
}

func (s *Store) findByIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) (Event, error) {
	ev, err := scanEvent(tx.QueryRow(ctx, `SELECT `+eventColumns+` FROM outbox_events WHERE idempotency_key=$1`, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Event{}, ErrEventNotFound
		}
		return Event{}, err
	}
	return ev, nil
}

// ReserveBatch flips up to limit due rows to PROCESSING inside one short
// transaction. SKIP LOCKED lets concurrent dispatchers partition the queue
// without blocking on each other; the commit is the hand-off point.
func (s *Store) ReserveBatch(ctx context.Context, limit int) ([]Event, error) {
	if limit < 1 {
		limit = 1
	}
	if limit > 500 {
		limit = 500
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	rows, err := tx.Query(ctx, `SELECT `+eventColumns+` FROM outbox_events
WHERE status IN ('PENDING','FAILED') AND (next_attempt_at IS NULL OR next_attempt_at <= NOW())
ORDER BY created_at ASC
LIMIT $1
FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, err
	}
	events, err := collectEvents(rows)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, tx.Commit(ctx)
	}
	ids := make([]int64, 0, len(events))
	for _, ev := range events {
		ids = append(ids, ev.ID)
	}
	if _, err := tx.Exec(ctx, `UPDATE outbox_events SET status='PROCESSING', attempts=attempts+1, updated_at=NOW()
WHERE id = ANY($1)`, ids); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	for i := range events {
		events[i].Status = StatusProcessing
		events[i].Attempts++
	}
	return events, nil
}

// WithProcessing reloads the event under lock, verifies it is still reserved
// and runs fn; success marks the row PROCESSED with the error cleared. A row
// that left PROCESSING in the meantime yields ErrNotReserved and no work.
func (s *Store) WithProcessing(ctx context.Context, eventID int64, fn func(context.Context, Event) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	ev, err := scanEvent(tx.QueryRow(ctx, `SELECT `+eventColumns+` FROM outbox_events WHERE id=$1 FOR UPDATE`, eventID))
	if err != nil {
		_ = tx.Rollback(ctx)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrEventNotFound
		}
		return err
	}
	if ev.Status != StatusProcessing {
		_ = tx.Rollback(ctx)
		return ErrNotReserved
	}
	if err := fn(ctx, ev); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE outbox_events SET status='PROCESSED', processed_at=NOW(), last_error=NULL, next_attempt_at=NULL, updated_at=NOW()
WHERE id=$1`, eventID); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// MarkFailed records the handler error and schedules the next attempt.
func (s *Store) MarkFailed(ctx context.Context, eventID int64, lastError string, nextAttemptAt time.Time) error {
	cmd, err := s.pool.Exec(ctx, `UPDATE outbox_events SET status='FAILED', last_error=$2, next_attempt_at=$3, updated_at=NOW()
WHERE id=$1`, eventID, truncateError(lastError), nextAttemptAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrEventNotFound
	}
	return nil
}

// Requeue flips a failed event back to pending for an immediate retry.
func (s *Store) Requeue(ctx context.Context, eventID int64) (Event, error) {
	ev, err := scanEvent(s.pool.QueryRow(ctx, `UPDATE outbox_events SET status='PENDING', next_attempt_at=NULL, updated_at=NOW()
WHERE id=$1 AND status='FAILED' RETURNING `+eventColumns, eventID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Event{}, ErrEventNotFound
		}
		return Event{}, err
	}
	return ev, nil
}

// ReclaimStuck returns PROCESSING rows older than the lease to PENDING. A
// worker that crashed between the reservation commit and the outcome commit
// leaves its rows here; the sweep makes them reservable again.
func (s *Store) ReclaimStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	cmd, err := s.pool.Exec(ctx, `UPDATE outbox_events SET status='PENDING', next_attempt_at=NULL, updated_at=NOW()
WHERE status='PROCESSING' AND updated_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

// ListFailed returns failed events for the admin retry surface.
func (s *Store) ListFailed(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `SELECT `+eventColumns+` FROM outbox_events WHERE status='FAILED' ORDER BY updated_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return collectEvents(rows)
}

// CountByStatus reports queue depth per status for observability.
func (s *Store) CountByStatus(ctx context.Context) (map[Status]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM outbox_events GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[Status]int64)
	for rows.Next() {
		var status Status
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

func collectEvents(rows pgx.Rows) ([]Event, error) {
	defer rows.Close()
	var events []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func truncateError(msg string) string {
	const max = 2000
	if len(msg) > max {
		return msg[:max]
	}
	return msg
}

func nullString(val string) any {
	if val == "" {
		return nil
	}
	return val
}
