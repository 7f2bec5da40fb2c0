package session

import (
	"context"
	"time"

	"github.com/symmetric-sync/blocksync/internal/models"
)

// repoBackend is the slice of *repository.Store this package depends on.
// Declared narrowly here (rather than importing internal/repository
// directly) so internal/session has no import-cycle risk and is easy to
// fake in tests.
type repoBackend interface {
	SaveSession(ctx context.Context, accountID int64, sess models.Session) error
	LoadSession(ctx context.Context, handle string) (models.Session, bool, error)
	UpdateAccess(ctx context.Context, accountID int64, accessJWT string, issuedAt models.Session) error
	ClearSession(ctx context.Context, accountID int64) error
}

// PostgresStore adapts the repository's session table to the Store
// interface this package exports.
type PostgresStore struct {
	repo repoBackend
}

// NewPostgresStore wraps repo (normally *repository.Store).
func NewPostgresStore(repo repoBackend) *PostgresStore {
	return &PostgresStore{repo: repo}
}

func (p *PostgresStore) Load(ctx context.Context, accountID int64, handle string) (models.Session, bool, error) {
	return p.repo.LoadSession(ctx, handle)
}

func (p *PostgresStore) Save(ctx context.Context, accountID int64, sess models.Session) error {
	return p.repo.SaveSession(ctx, accountID, sess)
}

func (p *PostgresStore) UpdateAccess(ctx context.Context, accountID int64, handle, accessJWT string, issuedAt time.Time) error {
	return p.repo.UpdateAccess(ctx, accountID, accessJWT, models.Session{AccessIssuedAt: issuedAt})
}

func (p *PostgresStore) Clear(ctx context.Context, accountID int64, handle string) error {
	return p.repo.ClearSession(ctx, accountID)
}
