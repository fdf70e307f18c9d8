package journals

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/meridian-pos/meridian-pos/internal/ledger/shared"
)

// PeriodGuard rejects postings dated inside a locked accounting period.
type PeriodGuard interface {
	AssertDateOpen(ctx context.Context, date time.Time) error
}

// Service posts balanced journal entries and issues reversals.
type Service struct {
	repo  Repository
	guard PeriodGuard
	now   func() time.Time
}

// NewService builds Service.
func NewService(repo Repository, guard PeriodGuard) *Service {
	return &Service{repo: repo, guard: guard, now: time.Now}
}

// WithNow overrides the clock, used by tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// List returns recent journal entries.
func (s *Service) List(ctx context.Context, limit int) ([]JournalEntry, error) {
	return s.repo.List(ctx, limit)
}

// Get loads one entry with its lines.
func (s *Service) Get(ctx context.Context, entryID int64) (JournalEntry, error) {
	return s.repo.GetWithLines(ctx, entryID)
}

// Post validates, numbers and persists a journal entry atomically. When the
// input carries an idempotency key that already produced a posted entry, that
// entry is returned unchanged and nothing is written.
func (s *Service) Post(ctx context.Context, input PostingInput) (JournalEntry, error) {
	if err := input.Validate(); err != nil {
		return JournalEntry{}, err
	}
	if s.guard != nil {
		if err := s.guard.AssertDateOpen(ctx, input.EntryDate); err != nil {
			return JournalEntry{}, err
		}
	}
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = s.postInTx(ctx, tx, input)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateIdempotencyKey) && input.IdempotencyKey != "" {
			// Lost the unique-index race; the winner's committed row is the result.
			return s.reloadByKey(ctx, input.IdempotencyKey)
		}
		return JournalEntry{}, err
	}
	return entry, nil
}

func (s *Service) postInTx(ctx context.Context, tx TxRepository, input PostingInput) (JournalEntry, error) {
	if input.IdempotencyKey != "" {
		existing, err := tx.FindPostedByIdempotencyKey(ctx, input.IdempotencyKey)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, shared.ErrJournalNotFound) {
			return JournalEntry{}, err
		}
	}
	now := s.now().UTC()
	bucket := input.EntryDate.Format("200601")
	seq, err := tx.NextEntryNumber(ctx, bucket)
	if err != nil {
		return JournalEntry{}, err
	}
	inserted, err := tx.InsertEntry(ctx, JournalEntry{
		EntryNo:        fmt.Sprintf("JE-%s-%05d", bucket, seq),
		EntryDate:      input.EntryDate,
		SourceType:     input.SourceType,
		SourceID:       input.SourceID,
		IdempotencyKey: input.IdempotencyKey,
		Status:         EntryStatusPosted,
		PostedAt:       now,
		PostedBy:       input.PostedBy,
	})
	if err != nil {
		return JournalEntry{}, err
	}
	lines := toJournalLines(inserted.ID, input.Lines, now)
	if err := tx.InsertLines(ctx, inserted.ID, lines); err != nil {
		return JournalEntry{}, err
	}
	inserted.Lines = lines
	return inserted, nil
}

func (s *Service) reloadByKey(ctx context.Context, key string) (JournalEntry, error) {
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = tx.FindPostedByIdempotencyKey(ctx, key)
		return err
	})
	return entry, err
}

// Reverse posts an exact mirror of a posted entry and marks the original
// reversed. The original's lines are never edited; reversal is additive.
func (s *Service) Reverse(ctx context.Context, input ReverseInput) (JournalEntry, error) {
	if input.EntryID == 0 {
		return JournalEntry{}, errors.New("ledger: entry id required")
	}
	var reversal JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		original, err := tx.GetEntryWithLines(ctx, input.EntryID)
		if err != nil {
			return err
		}
		if original.Status != EntryStatusPosted {
			return shared.ErrInvalidStatus
		}
		if s.guard != nil {
			if err := s.guard.AssertDateOpen(ctx, original.EntryDate); err != nil {
				return err
			}
		}
		now := s.now().UTC()
		bucket := original.EntryDate.Format("200601")
		seq, err := tx.NextEntryNumber(ctx, bucket)
		if err != nil {
			return err
		}
		originalID := original.ID
		inserted, err := tx.InsertEntry(ctx, JournalEntry{
			EntryNo:      fmt.Sprintf("JE-%s-%05d", bucket, seq),
			EntryDate:    original.EntryDate,
			SourceType:   original.SourceType + ":REVERSAL",
			SourceID:     original.SourceID,
			Status:       EntryStatusPosted,
			PostedAt:     now,
			PostedBy:     input.ActorID,
			ReversalOfID: &originalID,
		})
		if err != nil {
			return err
		}
		lines := toJournalLines(inserted.ID, mirrorLines(original.Lines, reversalMemo(input.Reason, original.EntryNo)), now)
		if err := tx.InsertLines(ctx, inserted.ID, lines); err != nil {
			return err
		}
		if err := tx.UpdateEntryStatus(ctx, original.ID, EntryStatusReversed); err != nil {
			return err
		}
		inserted.Lines = lines
		reversal = inserted
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	return reversal, nil
}

func mirrorLines(lines []JournalLine, memo string) []PostingLineInput {
	out := make([]PostingLineInput, 0, len(lines))
	for _, line := range lines {
		out = append(out, PostingLineInput{
			AccountID: line.AccountID,
			PartyID:   line.PartyID,
			BranchID:  line.BranchID,
			Debit:     line.Credit,
			Credit:    line.Debit,
			Memo:      memo,
		})
	}
	return out
}

func toJournalLines(entryID int64, lines []PostingLineInput, ts time.Time) []JournalLine {
	out := make([]JournalLine, 0, len(lines))
	for _, line := range lines {
		out = append(out, JournalLine{
			EntryID:   entryID,
			AccountID: line.AccountID,
			PartyID:   line.PartyID,
			BranchID:  line.BranchID,
			Debit:     line.Debit.Round(2),
			Credit:    line.Credit.Round(2),
			Memo:      line.Memo,
			CreatedAt: ts,
		})
	}
	return out
}

func reversalMemo(reason, entryNo string) string {
	memo := fmt.Sprintf("Reversal of %s", entryNo)
	if reason != "" {
		memo = fmt.Sprintf("%s: %s", memo, reason)
	}
	return memo
}
