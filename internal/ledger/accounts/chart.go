package accounts

import (
	"context"
	"fmt"
	"strings"

	"github.com/meridian-pos/meridian-pos/internal/ledger/shared"
)

// ChartSource abstracts account loading for the chart cache.
type ChartSource interface {
	ListActive(ctx context.Context) ([]Account, error)
}

// Chart is an immutable in-memory view of the chart of accounts, loaded once
// at startup. Posting handlers resolve accounts through it instead of issuing
// per-call lookups.
type Chart struct {
	byCode map[Code]Account
}

// LoadChart reads active accounts and verifies every required code is present.
// A missing code aborts startup.
func LoadChart(ctx context.Context, src ChartSource) (*Chart, error) {
	list, err := src.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("accounts: load chart: %w", err)
	}
	chart := &Chart{byCode: make(map[Code]Account, len(list))}
	for _, acc := range list {
		chart.byCode[acc.Code] = acc
	}
	if err := chart.Validate(); err != nil {
		return nil, err
	}
	return chart, nil
}

// NewChart builds a chart from preloaded accounts, used by tests and seeds.
func NewChart(list []Account) *Chart {
	chart := &Chart{byCode: make(map[Code]Account, len(list))}
	for _, acc := range list {
		chart.byCode[acc.Code] = acc
	}
	return chart
}

// Validate reports every required code missing from the chart.
func (c *Chart) Validate() error {
	var missing []string
	for _, code := range RequiredCodes() {
		if _, ok := c.byCode[code]; !ok {
			missing = append(missing, string(code))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("accounts: chart missing required codes: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Account resolves a code, returning ErrAccountNotFound for unknown codes.
func (c *Chart) Account(code Code) (Account, error) {
	acc, ok := c.byCode[code]
	if !ok {
		return Account{}, fmt.Errorf("%w: %s", shared.ErrAccountNotFound, code)
	}
	return acc, nil
}

// MustAccount resolves a code already guaranteed by Validate. It panics on
// unknown codes so misuse surfaces during development, not in production.
func (c *Chart) MustAccount(code Code) Account {
	acc, err := c.Account(code)
	if err != nil {
		panic(err)
	}
	return acc
}
