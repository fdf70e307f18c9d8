package journals

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-pos/meridian-pos/internal/ledger/shared"
)

type memoryRepo struct {
	entries   map[int64]JournalEntry
	lines     map[int64][]JournalLine
	sequences map[string]int64
	nextID    int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		entries:   make(map[int64]JournalEntry),
		lines:     make(map[int64][]JournalLine),
		sequences: make(map[string]int64),
	}
}

func (r *memoryRepo) List(ctx context.Context, limit int) ([]JournalEntry, error) {
	out := make([]JournalEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out, nil
}

func (r *memoryRepo) GetWithLines(ctx context.Context, entryID int64) (JournalEntry, error) {
	tx := &memoryTx{repo: r}
	return tx.GetEntryWithLines(ctx, entryID)
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (tx *memoryTx) FindPostedByIdempotencyKey(ctx context.Context, key string) (JournalEntry, error) {
	for _, e := range tx.repo.entries {
		if e.IdempotencyKey == key && (e.Status == EntryStatusPosted || e.Status == EntryStatusReversed) {
			e.Lines = append([]JournalLine(nil), tx.repo.lines[e.ID]...)
			return e, nil
		}
	}
	return JournalEntry{}, shared.ErrJournalNotFound
}

func (tx *memoryTx) NextEntryNumber(ctx context.Context, bucket string) (int64, error) {
	tx.repo.sequences[bucket]++
	return tx.repo.sequences[bucket], nil
}

func (tx *memoryTx) InsertEntry(ctx context.Context, entry JournalEntry) (JournalEntry, error) {
	if entry.IdempotencyKey != "" {
		for _, e := range tx.repo.entries {
			if e.IdempotencyKey == entry.IdempotencyKey {
				return JournalEntry{}, ErrDuplicateIdempotencyKey
			}
		}
	}
	tx.repo.nextID++
	entry.ID = tx.repo.nextID
	tx.repo.entries[entry.ID] = entry
	return entry, nil
}

func (tx *memoryTx) InsertLines(ctx context.Context, entryID int64, lines []JournalLine) error {
	tx.repo.lines[entryID] = append(tx.repo.lines[entryID], lines...)
	return nil
}

func (tx *memoryTx) GetEntryWithLines(ctx context.Context, entryID int64) (JournalEntry, error) {
	e, ok := tx.repo.entries[entryID]
	if !ok {
		return JournalEntry{}, shared.ErrJournalNotFound
	}
	e.Lines = append([]JournalLine(nil), tx.repo.lines[entryID]...)
	return e, nil
}

func (tx *memoryTx) UpdateEntryStatus(ctx context.Context, entryID int64, status EntryStatus) error {
	e, ok := tx.repo.entries[entryID]
	if !ok {
		return shared.ErrJournalNotFound
	}
	e.Status = status
	tx.repo.entries[entryID] = e
	return nil
}

type openGuard struct{}

func (openGuard) AssertDateOpen(ctx context.Context, date time.Time) error { return nil }

type lockedGuard struct{}

func (lockedGuard) AssertDateOpen(ctx context.Context, date time.Time) error {
	return fmt.Errorf("%w: %s", shared.ErrPeriodLocked, date.Format("2006-01-02"))
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func invoiceInput(key string) PostingInput {
	return PostingInput{
		EntryDate:      time.Date(2026, time.February, 10, 0, 0, 0, 0, time.UTC),
		SourceType:     "sales.invoice",
		SourceID:       "c6f3f7de-6a3f-4a86-9f2b-0f4f8b1a2c3d",
		IdempotencyKey: key,
		PostedBy:       3,
		Lines: []PostingLineInput{
			{AccountID: 2, Debit: dec("110.00"), Memo: "AR"},
			{AccountID: 8, Credit: dec("100.00"), Memo: "Sales"},
			{AccountID: 6, Credit: dec("10.00"), Memo: "Output tax"},
		},
	}
}

func TestPostBalancedEntry(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, openGuard{})
	ctx := context.Background()

	entry, err := svc.Post(ctx, invoiceInput(""))
	require.NoError(t, err)
	require.Equal(t, "JE-202602-00001", entry.EntryNo)
	require.Equal(t, EntryStatusPosted, entry.Status)
	require.Len(t, entry.Lines, 3)

	debit := decimal.Zero
	credit := decimal.Zero
	for _, line := range entry.Lines {
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
	}
	require.True(t, debit.Equal(credit))
	require.True(t, debit.Equal(dec("110.00")))

	next, err := svc.Post(ctx, invoiceInput(""))
	require.NoError(t, err)
	require.Equal(t, "JE-202602-00002", next.EntryNo)
}

func TestPostRejectsUnbalancedEntry(t *testing.T) {
	svc := NewService(newMemoryRepo(), openGuard{})

	input := invoiceInput("")
	input.Lines[1].Credit = dec("90.00")
	_, err := svc.Post(context.Background(), input)
	require.ErrorIs(t, err, shared.ErrUnbalanced)
	require.Contains(t, err.Error(), "110.00")
	require.Contains(t, err.Error(), "100.00")
}

func TestPostRejectsTooFewLines(t *testing.T) {
	svc := NewService(newMemoryRepo(), openGuard{})

	input := invoiceInput("")
	input.Lines = input.Lines[:1]
	_, err := svc.Post(context.Background(), input)
	require.ErrorIs(t, err, shared.ErrTooFewLines)
}

func TestPostIdempotencyKeyReturnsExistingEntry(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, openGuard{})
	ctx := context.Background()

	first, err := svc.Post(ctx, invoiceInput("sales:invoice:42"))
	require.NoError(t, err)

	second, err := svc.Post(ctx, invoiceInput("sales:invoice:42"))
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, first.EntryNo, second.EntryNo)
	require.Len(t, repo.entries, 1)
	require.Len(t, repo.lines[first.ID], 3)
}

func TestPostBlockedByLockedPeriod(t *testing.T) {
	svc := NewService(newMemoryRepo(), lockedGuard{})
	_, err := svc.Post(context.Background(), invoiceInput(""))
	require.ErrorIs(t, err, shared.ErrPeriodLocked)
}

func TestReverseMirrorsLinesAndMarksOriginal(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, openGuard{})
	ctx := context.Background()

	original, err := svc.Post(ctx, invoiceInput(""))
	require.NoError(t, err)

	reversal, err := svc.Reverse(ctx, ReverseInput{EntryID: original.ID, Reason: "voided sale", ActorID: 9})
	require.NoError(t, err)
	require.NotEqual(t, original.ID, reversal.ID)
	require.NotNil(t, reversal.ReversalOfID)
	require.Equal(t, original.ID, *reversal.ReversalOfID)
	require.Len(t, reversal.Lines, len(original.Lines))
	for i, line := range reversal.Lines {
		require.True(t, line.Debit.Equal(original.Lines[i].Credit))
		require.True(t, line.Credit.Equal(original.Lines[i].Debit))
		require.Contains(t, line.Memo, "Reversal of "+original.EntryNo)
	}

	reloaded, err := svc.Get(ctx, original.ID)
	require.NoError(t, err)
	require.Equal(t, EntryStatusReversed, reloaded.Status)
	// Original lines stay untouched.
	require.Len(t, reloaded.Lines, 3)
	require.True(t, reloaded.Lines[0].Debit.Equal(dec("110.00")))
}

func TestReverseRejectsNonPostedEntry(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, openGuard{})
	ctx := context.Background()

	original, err := svc.Post(ctx, invoiceInput(""))
	require.NoError(t, err)

	_, err = svc.Reverse(ctx, ReverseInput{EntryID: original.ID})
	require.NoError(t, err)

	// Second reversal hits a REVERSED entry.
	_, err = svc.Reverse(ctx, ReverseInput{EntryID: original.ID})
	require.ErrorIs(t, err, shared.ErrInvalidStatus)
}
