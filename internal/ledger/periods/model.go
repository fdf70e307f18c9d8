package periods

import "time"

// PeriodLock freezes posting for an accounting date window.
type PeriodLock struct {
	ID        int64
	StartDate time.Time
	EndDate   time.Time
	IsLocked  bool
	Reason    string
	LockedBy  int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// LockInput groups parameters for locking a window.
type LockInput struct {
	StartDate time.Time
	EndDate   time.Time
	Reason    string
	ActorID   int64
}
