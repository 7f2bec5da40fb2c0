package repository

import (
	"context"
	"fmt"

	"github.com/symmetric-sync/blocksync/internal/models"
)

// AddBlock upserts one (did, sourceAccountID, direction) row, refreshing
// last_seen on conflict. It rejects did if it is any managed account's
// own DID — the whitelist check and the upsert happen in a single
// statement (a NOT EXISTS guard against accounts) rather than a
// SELECT-then-INSERT, so the invariant holds even under concurrent
// callers across account agents.
func (s *Store) AddBlock(ctx context.Context, did, handle string, sourceAccountID int64, direction models.BlockDirection, reason string) error {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO blocked_accounts (did, handle, reason, source_account_id, direction, first_seen, last_seen)
		SELECT $1, $2, $3, $4, $5, NOW(), NOW()
		WHERE NOT EXISTS (SELECT 1 FROM accounts WHERE did = $1)
		ON CONFLICT (source_account_id, did, direction) DO UPDATE SET
			last_seen = NOW(),
			handle = CASE WHEN EXCLUDED.handle <> '' THEN EXCLUDED.handle ELSE blocked_accounts.handle END,
			reason = EXCLUDED.reason`,
		did, handle, reason, sourceAccountID, direction,
	)
	if err != nil {
		return fmt.Errorf("add block %s: %w", did, err)
	}
	_ = tag
	return nil
}

// RemoveStaleBlocks deletes every row for (sourceAccountID, direction)
// whose did is not in currentDIDs — the set-reconciliation step that
// keeps the store in sync after an account unblocks someone out of
// band.
func (s *Store) RemoveStaleBlocks(ctx context.Context, sourceAccountID int64, direction models.BlockDirection, currentDIDs []string) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM blocked_accounts
		WHERE source_account_id = $1 AND direction = $2 AND did <> ALL($3)`,
		sourceAccountID, direction, currentDIDs,
	)
	if err != nil {
		return 0, fmt.Errorf("remove stale blocks: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetUnsyncedForPrimary returns every blocking row from a non-primary
// account not yet propagated to the primary, each annotated with
// whether the primary already independently blocks the same subject.
func (s *Store) GetUnsyncedForPrimary(ctx context.Context, primaryAccountID int64) ([]models.UnsyncedBlock, error) {
	rows, err := s.db.Query(ctx, `
		SELECT
			b.id, b.did, b.handle, b.reason, b.source_account_id, b.direction,
			b.first_seen, b.last_seen, b.synced_by_primary,
			EXISTS (
				SELECT 1 FROM blocked_accounts p
				WHERE p.did = b.did AND p.source_account_id = $1 AND p.direction = 'blocking'
			) AS already_blocked_by_primary
		FROM blocked_accounts b
		WHERE b.direction = 'blocking'
		  AND b.source_account_id <> $1
		  AND NOT b.synced_by_primary`,
		primaryAccountID,
	)
	if err != nil {
		return nil, fmt.Errorf("get unsynced for primary: %w", err)
	}
	defer rows.Close()

	var out []models.UnsyncedBlock
	for rows.Next() {
		var u models.UnsyncedBlock
		if err := rows.Scan(
			&u.ID, &u.DID, &u.Handle, &u.Reason, &u.SourceAccountID, &u.Direction,
			&u.FirstSeen, &u.LastSeen, &u.SyncedByPrimary, &u.AlreadyBlockedByPrimary,
		); err != nil {
			return nil, fmt.Errorf("scan unsynced block: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// MarkSyncedByPrimary flips synced_by_primary on rowID.
func (s *Store) MarkSyncedByPrimary(ctx context.Context, rowID int64) error {
	_, err := s.db.Exec(ctx, `UPDATE blocked_accounts SET synced_by_primary = TRUE WHERE id = $1`, rowID)
	if err != nil {
		return fmt.Errorf("mark synced by primary: %w", err)
	}
	return nil
}

// GetDesiredListDIDs returns the union, across every managed account, of
// blocking and blocked_by subjects, minus every managed account's own
// DID — the set the canonical moderation list should contain.
func (s *Store) GetDesiredListDIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT DISTINCT b.did
		FROM blocked_accounts b
		WHERE NOT EXISTS (SELECT 1 FROM accounts a WHERE a.did = b.did)`)
	if err != nil {
		return nil, fmt.Errorf("get desired list dids: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var did string
		if err := rows.Scan(&did); err != nil {
			return nil, fmt.Errorf("scan desired did: %w", err)
		}
		out = append(out, did)
	}
	return out, rows.Err()
}
