package periods

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-pos/meridian-pos/internal/ledger/shared"
	"github.com/meridian-pos/meridian-pos/internal/platform/db"
)

// Repository persists period locks in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service.
type TxRepository interface {
	FindLockedOverlapping(ctx context.Context, start, end time.Time) ([]PeriodLock, error)
	InsertLock(ctx context.Context, lock PeriodLock) (PeriodLock, error)
	GetLockForUpdate(ctx context.Context, id int64) (PeriodLock, error)
	SetLocked(ctx context.Context, id int64, locked bool) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("periods repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// FindLockedContaining returns the locked window containing date, if any.
func (r *Repository) FindLockedContaining(ctx context.Context, date time.Time) (PeriodLock, error) {
	if r == nil {
		return PeriodLock{}, errors.New("periods repository not initialised")
	}
	var lock PeriodLock
	err := r.pool.QueryRow(ctx, `SELECT id, start_date, end_date, is_locked, reason, locked_by, created_at, updated_at
FROM period_locks WHERE is_locked AND start_date <= $1 AND end_date >= $1 ORDER BY start_date ASC LIMIT 1`, date).
		Scan(&lock.ID, &lock.StartDate, &lock.EndDate, &lock.IsLocked, &lock.Reason, &lock.LockedBy, &lock.CreatedAt, &lock.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PeriodLock{}, shared.ErrPeriodLockNotFound
		}
		return PeriodLock{}, err
	}
	return lock, nil
}

// List returns every lock row, newest window first.
func (r *Repository) List(ctx context.Context) ([]PeriodLock, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, start_date, end_date, is_locked, reason, locked_by, created_at, updated_at
FROM period_locks ORDER BY start_date DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var locks []PeriodLock
	for rows.Next() {
		var lock PeriodLock
		if err := rows.Scan(&lock.ID, &lock.StartDate, &lock.EndDate, &lock.IsLocked, &lock.Reason, &lock.LockedBy, &lock.CreatedAt, &lock.UpdatedAt); err != nil {
			return nil, err
		}
		locks = append(locks, lock)
	}
	return locks, rows.Err()
}

func (r *txRepository) FindLockedOverlapping(ctx context.Context, start, end time.Time) ([]PeriodLock, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, start_date, end_date, is_locked, reason, locked_by, created_at, updated_at
FROM period_locks WHERE is_locked AND start_date <= $2 AND end_date >= $1 FOR UPDATE`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var locks []PeriodLock
	for rows.Next() {
		var lock PeriodLock
		if err := rows.Scan(&lock.ID, &lock.StartDate, &lock.EndDate, &lock.IsLocked, &lock.Reason, &lock.LockedBy, &lock.CreatedAt, &lock.UpdatedAt); err != nil {
			return nil, err
		}
		locks = append(locks, lock)
	}
	return locks, rows.Err()
}

func (r *txRepository) InsertLock(ctx context.Context, lock PeriodLock) (PeriodLock, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO period_locks (start_date, end_date, is_locked, reason, locked_by)
VALUES ($1,$2,$3,$4,$5) RETURNING id, created_at, updated_at`,
		lock.StartDate, lock.EndDate, lock.IsLocked, lock.Reason, lock.LockedBy).
		Scan(&lock.ID, &lock.CreatedAt, &lock.UpdatedAt)
	if err != nil {
		return PeriodLock{}, err
	}
	return lock, nil
}

func (r *txRepository) GetLockForUpdate(ctx context.Context, id int64) (PeriodLock, error) {
	var lock PeriodLock
	err := r.tx.QueryRow(ctx, `SELECT id, start_date, end_date, is_locked, reason, locked_by, created_at, updated_at
FROM period_locks WHERE id=$1 FOR UPDATE`, id).
		Scan(&lock.ID, &lock.StartDate, &lock.EndDate, &lock.IsLocked, &lock.Reason, &lock.LockedBy, &lock.CreatedAt, &lock.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PeriodLock{}, shared.ErrPeriodLockNotFound
		}
		return PeriodLock{}, err
	}
	return lock, nil
}

func (r *txRepository) SetLocked(ctx context.Context, id int64, locked bool) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE period_locks SET is_locked=$2, updated_at=NOW() WHERE id=$1`, id, locked)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrPeriodLockNotFound
	}
	return nil
}
