package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/symmetric-sync/blocksync/internal/models"
)

// SaveSession upserts one account's tokens into the peer sessions table.
func (s *Store) SaveSession(ctx context.Context, accountID int64, sess models.Session) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO sessions (account_id, handle, did, access_jwt, refresh_jwt, access_issued_at, refresh_issued_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (account_id) DO UPDATE SET
			handle = EXCLUDED.handle,
			did = EXCLUDED.did,
			access_jwt = EXCLUDED.access_jwt,
			refresh_jwt = EXCLUDED.refresh_jwt,
			access_issued_at = EXCLUDED.access_issued_at,
			refresh_issued_at = EXCLUDED.refresh_issued_at,
			updated_at = NOW()`,
		accountID, sess.Handle, nullableDID(sess.DID), sess.AccessJWT, sess.RefreshJWT, sess.AccessIssuedAt, sess.RefreshIssuedAt,
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// LoadSession returns the persisted session for handle, looked up via
// the owning account row rather than account_id directly — callers that
// only know an account by its configured handle (the diagnostics
// readiness probe, before any login has resolved an account_id) can
// still check session presence.
func (s *Store) LoadSession(ctx context.Context, handle string) (models.Session, bool, error) {
	var sess models.Session
	var did *string
	err := s.db.QueryRow(ctx, `
		SELECT s.handle, s.did, s.access_jwt, s.refresh_jwt, s.access_issued_at, s.refresh_issued_at
		FROM sessions s
		JOIN accounts a ON a.id = s.account_id
		WHERE a.handle = $1`,
		handle,
	).Scan(&sess.Handle, &did, &sess.AccessJWT, &sess.RefreshJWT, &sess.AccessIssuedAt, &sess.RefreshIssuedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return models.Session{}, false, nil
		}
		return models.Session{}, false, fmt.Errorf("load session: %w", err)
	}
	if did != nil {
		sess.DID = *did
	}
	return sess, true, nil
}

// UpdateAccess replaces just the access token and its issue time,
// leaving the refresh token untouched — the path a successful
// refresh-session call takes.
func (s *Store) UpdateAccess(ctx context.Context, accountID int64, accessJWT string, issuedAt models.Session) error {
	_, err := s.db.Exec(ctx, `
		UPDATE sessions SET access_jwt = $1, access_issued_at = $2, updated_at = NOW()
		WHERE account_id = $3`,
		accessJWT, issuedAt.AccessIssuedAt, accountID,
	)
	if err != nil {
		return fmt.Errorf("update access: %w", err)
	}
	return nil
}

// ClearSession removes a rejected session so the next cycle forces a
// full login.
func (s *Store) ClearSession(ctx context.Context, accountID int64) error {
	_, err := s.db.Exec(ctx, `DELETE FROM sessions WHERE account_id = $1`, accountID)
	if err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

func nullableDID(did string) *string {
	if did == "" {
		return nil
	}
	return &did
}
