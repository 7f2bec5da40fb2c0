package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/symmetric-sync/blocksync/internal/models"
)

// UpsertAccount inserts or updates the roster row for handle/did, keyed
// on handle (the operator-configured identifier) rather than did: the
// orchestrator calls this once with a placeholder did before the first
// login, then again with the resolved did once login succeeds, and both
// calls must land on the same row. The did replace is one-directional: a
// placeholder row adopts a real did, but a row that already has a real
// did never gets overwritten with a placeholder from a later failed
// login attempt.
func (s *Store) UpsertAccount(ctx context.Context, handle, did string, isPrimary bool) (models.Account, error) {
	var a models.Account
	err := s.db.QueryRow(ctx, `
		INSERT INTO accounts (handle, did, is_primary)
		VALUES ($1, $2, $3)
		ON CONFLICT (handle) DO UPDATE SET
			did = CASE
				WHEN accounts.did LIKE 'did:placeholder:%' THEN EXCLUDED.did
				ELSE accounts.did
			END,
			is_primary = EXCLUDED.is_primary,
			updated_at = NOW()
		RETURNING id, handle, did, is_primary, created_at, updated_at`,
		handle, did, isPrimary,
	).Scan(&a.ID, &a.Handle, &a.DID, &a.IsPrimary, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return models.Account{}, fmt.Errorf("upsert account %s: %w", handle, err)
	}
	return a, nil
}

// ListAccounts returns every managed account, primary first.
func (s *Store) ListAccounts(ctx context.Context) ([]models.Account, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, handle, did, is_primary, created_at, updated_at
		FROM accounts
		ORDER BY is_primary DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []models.Account
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(&a.ID, &a.Handle, &a.DID, &a.IsPrimary, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// PrimaryAccount returns the single account flagged is_primary, or
// pgx.ErrNoRows if none is configured yet.
func (s *Store) PrimaryAccount(ctx context.Context) (models.Account, error) {
	var a models.Account
	err := s.db.QueryRow(ctx, `
		SELECT id, handle, did, is_primary, created_at, updated_at
		FROM accounts WHERE is_primary LIMIT 1`,
	).Scan(&a.ID, &a.Handle, &a.DID, &a.IsPrimary, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return models.Account{}, pgx.ErrNoRows
		}
		return models.Account{}, fmt.Errorf("primary account: %w", err)
	}
	return a, nil
}
