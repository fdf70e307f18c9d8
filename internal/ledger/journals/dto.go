package journals

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-pos/meridian-pos/internal/ledger/shared"
)

// PostingLineInput describes a journal line for a posting request.
type PostingLineInput struct {
	AccountID int64
	PartyID   *int64
	BranchID  *int64
	Debit     decimal.Decimal
	Credit    decimal.Decimal
	Memo      string
}

// PostingInput groups fields required to create a journal entry. Entries are
// created and posted atomically in one call.
type PostingInput struct {
	EntryDate      time.Time
	SourceType     string
	SourceID       string
	IdempotencyKey string
	PostedBy       int64
	Lines          []PostingLineInput
}

// Validate ensures posting input meets minimum criteria. Amounts compare at
// two decimals; callers are expected to round before posting.
func (in PostingInput) Validate() error {
	if in.EntryDate.IsZero() {
		return errors.New("ledger: entry date required")
	}
	if in.SourceType == "" {
		return errors.New("ledger: source type required")
	}
	if len(in.Lines) < 2 {
		return shared.ErrTooFewLines
	}
	debit := decimal.Zero
	credit := decimal.Zero
	for idx, line := range in.Lines {
		if line.AccountID == 0 {
			return fmt.Errorf("ledger: line %d missing account", idx)
		}
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return fmt.Errorf("ledger: line %d negative amount", idx)
		}
		if line.Debit.IsPositive() && line.Credit.IsPositive() {
			return fmt.Errorf("ledger: line %d cannot be both debit and credit", idx)
		}
		if line.Debit.IsZero() && line.Credit.IsZero() {
			return fmt.Errorf("ledger: line %d has no amount", idx)
		}
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
	}
	debit = debit.Round(2)
	credit = credit.Round(2)
	if !debit.Equal(credit) {
		return fmt.Errorf("%w: debit %s vs credit %s", shared.ErrUnbalanced, debit.StringFixed(2), credit.StringFixed(2))
	}
	if !debit.IsPositive() {
		return fmt.Errorf("%w: totals must be positive", shared.ErrUnbalanced)
	}
	return nil
}

// ReverseInput wraps parameters for reversal.
type ReverseInput struct {
	EntryID int64
	Reason  string
	ActorID int64
}
