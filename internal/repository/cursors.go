package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// GetCursor returns the last checkpointed firehose sequence number for
// accountID and whether a checkpoint row exists at all. No row means
// "never checkpointed, stream from the current live edge"; a row with
// seq=0 means "explicitly requested earliest available" — these are
// distinct wire behaviors (spec §4.4 "cursor semantics"), so callers
// must check ok rather than treat a zero-value seq as "no cursor".
func (s *Store) GetCursor(ctx context.Context, accountID int64) (int64, bool, error) {
	var seq int64
	err := s.db.QueryRow(ctx, `SELECT seq FROM firehose_cursors WHERE account_id = $1`, accountID).Scan(&seq)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("get cursor: %w", err)
	}
	return seq, true, nil
}

// SetCursor upserts the checkpointed sequence number. Callers treat this
// as best-effort: a lost write is safe to replay because add_block is
// idempotent.
func (s *Store) SetCursor(ctx context.Context, accountID, seq int64) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO firehose_cursors (account_id, seq, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (account_id) DO UPDATE SET seq = EXCLUDED.seq, updated_at = NOW()`,
		accountID, seq,
	)
	if err != nil {
		return fmt.Errorf("set cursor: %w", err)
	}
	return nil
}

// ResetCursor deletes the checkpoint row for accountID. With no row,
// GetCursor reports ok=false, so the next consumer start streams from
// the current live edge, not from the earliest available commit.
// Returns whether a row existed.
func (s *Store) ResetCursor(ctx context.Context, accountID int64) (bool, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM firehose_cursors WHERE account_id = $1`, accountID)
	if err != nil {
		return false, fmt.Errorf("reset cursor: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
