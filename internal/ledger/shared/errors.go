package shared

import "errors"

var (
	// ErrUnbalanced indicates debit != credit.
	ErrUnbalanced = errors.New("ledger: journal lines must balance")
	// ErrTooFewLines indicates less than two lines.
	ErrTooFewLines = errors.New("ledger: journal requires at least two lines")
	// ErrJournalNotFound indicates missing entry.
	ErrJournalNotFound = errors.New("ledger: journal entry not found")
	// ErrInvalidStatus indicates action can't proceed.
	ErrInvalidStatus = errors.New("ledger: invalid status transition")
	// ErrPeriodLocked indicates posting date falls inside a locked period.
	ErrPeriodLocked = errors.New("ledger: period locked")
	// ErrPeriodOverlap indicates a lock window collides with an existing one.
	ErrPeriodOverlap = errors.New("ledger: period lock overlaps existing lock")
	// ErrPeriodLockNotFound indicates missing lock row.
	ErrPeriodLockNotFound = errors.New("ledger: period lock not found")
	// ErrAccountNotFound indicates a chart-of-accounts code is missing.
	ErrAccountNotFound = errors.New("ledger: finance account not found")
)
