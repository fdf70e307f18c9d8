package periods

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/meridian-pos/meridian-pos/internal/ledger/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	FindLockedContaining(ctx context.Context, date time.Time) (PeriodLock, error)
	List(ctx context.Context) ([]PeriodLock, error)
}

// Service guards postings against locked accounting periods.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// AssertDateOpen fails when date falls inside a locked window. It is consulted
// by every posting-adjacent operation and has no side effects of its own.
func (s *Service) AssertDateOpen(ctx context.Context, date time.Time) error {
	lock, err := s.repo.FindLockedContaining(ctx, date)
	if err != nil {
		if errors.Is(err, shared.ErrPeriodLockNotFound) {
			return nil
		}
		return err
	}
	return fmt.Errorf("%w: %s is inside %s..%s (%s)", shared.ErrPeriodLocked,
		date.Format("2006-01-02"), lock.StartDate.Format("2006-01-02"), lock.EndDate.Format("2006-01-02"), lock.Reason)
}

// LockPeriod creates a locked window, rejecting overlap with existing locks.
func (s *Service) LockPeriod(ctx context.Context, input LockInput) (PeriodLock, error) {
	if input.StartDate.IsZero() || input.EndDate.IsZero() {
		return PeriodLock{}, errors.New("periods: start and end dates required")
	}
	if input.EndDate.Before(input.StartDate) {
		return PeriodLock{}, errors.New("periods: end date before start date")
	}
	var created PeriodLock
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		overlapping, err := tx.FindLockedOverlapping(ctx, input.StartDate, input.EndDate)
		if err != nil {
			return err
		}
		if len(overlapping) > 0 {
			first := overlapping[0]
			return fmt.Errorf("%w: %s..%s", shared.ErrPeriodOverlap,
				first.StartDate.Format("2006-01-02"), first.EndDate.Format("2006-01-02"))
		}
		created, err = tx.InsertLock(ctx, PeriodLock{
			StartDate: input.StartDate,
			EndDate:   input.EndDate,
			IsLocked:  true,
			Reason:    input.Reason,
			LockedBy:  input.ActorID,
		})
		return err
	})
	if err != nil {
		return PeriodLock{}, err
	}
	return created, nil
}

// UnlockPeriod reopens a previously locked window.
func (s *Service) UnlockPeriod(ctx context.Context, lockID int64) (PeriodLock, error) {
	if lockID == 0 {
		return PeriodLock{}, errors.New("periods: lock id required")
	}
	var lock PeriodLock
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetLockForUpdate(ctx, lockID)
		if err != nil {
			return err
		}
		if !current.IsLocked {
			return shared.ErrInvalidStatus
		}
		if err := tx.SetLocked(ctx, lockID, false); err != nil {
			return err
		}
		lock = current
		lock.IsLocked = false
		return nil
	})
	if err != nil {
		return PeriodLock{}, err
	}
	return lock, nil
}

// List returns all lock windows.
func (s *Service) List(ctx context.Context) ([]PeriodLock, error) {
	return s.repo.List(ctx)
}
