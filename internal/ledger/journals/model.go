package journals

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryStatus enumerates journal lifecycle values.
type EntryStatus string

const (
	EntryStatusDraft    EntryStatus = "DRAFT"
	EntryStatusPosted   EntryStatus = "POSTED"
	EntryStatusReversed EntryStatus = "REVERSED"
)

// JournalEntry captures posting metadata. Once posted, the entry and its
// lines are immutable; corrections happen via a reversal entry.
type JournalEntry struct {
	ID             int64
	EntryNo        string
	EntryDate      time.Time
	SourceType     string
	SourceID       string
	IdempotencyKey string
	Status         EntryStatus
	PostedAt       time.Time
	PostedBy       int64
	ReversalOfID   *int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Lines          []JournalLine
}

// JournalLine stores a debit or credit amount for an account. Exactly one of
// the pair is zero, the other positive.
type JournalLine struct {
	ID        int64
	EntryID   int64
	AccountID int64
	PartyID   *int64
	BranchID  *int64
	Debit     decimal.Decimal
	Credit    decimal.Decimal
	Memo      string
	CreatedAt time.Time
}
