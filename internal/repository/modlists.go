package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/symmetric-sync/blocksync/internal/models"
)

// UpsertModList records the canonical moderation list's identity once
// it's created or adopted.
func (s *Store) UpsertModList(ctx context.Context, uri, cid, ownerDID, name string) (models.ModList, error) {
	var m models.ModList
	err := s.db.QueryRow(ctx, `
		INSERT INTO mod_lists (uri, cid, owner_did, name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (uri) DO UPDATE SET
			cid = EXCLUDED.cid,
			name = EXCLUDED.name,
			updated_at = NOW()
		RETURNING id, uri, cid, owner_did, name, created_at, updated_at`,
		uri, cid, ownerDID, name,
	).Scan(&m.ID, &m.URI, &m.CID, &m.OwnerDID, &m.Name, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return models.ModList{}, fmt.Errorf("upsert mod list: %w", err)
	}
	return m, nil
}

// GetModList returns the one configured canonical list, or
// pgx.ErrNoRows if none has been adopted or created yet.
func (s *Store) GetModList(ctx context.Context) (models.ModList, error) {
	var m models.ModList
	err := s.db.QueryRow(ctx, `
		SELECT id, uri, cid, owner_did, name, created_at, updated_at
		FROM mod_lists ORDER BY id ASC LIMIT 1`,
	).Scan(&m.ID, &m.URI, &m.CID, &m.OwnerDID, &m.Name, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return models.ModList{}, pgx.ErrNoRows
		}
		return models.ModList{}, fmt.Errorf("get mod list: %w", err)
	}
	return m, nil
}
