package accounts

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository loads finance accounts from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListActive returns all active accounts ordered by code.
func (r *Repository) ListActive(ctx context.Context) ([]Account, error) {
	if r == nil {
		return nil, errors.New("accounts repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT id, code, name, account_type, sub_type, is_contra, currency, is_active, created_at, updated_at
FROM finance_accounts WHERE is_active ORDER BY code ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.Code, &a.Name, &a.Type, &a.SubType, &a.IsContra, &a.Currency, &a.IsActive, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
