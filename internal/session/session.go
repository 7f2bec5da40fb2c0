// Package session persists per-account AT Protocol credentials and
// decides, at agent startup, whether the persisted tokens can be reused
// as-is, refreshed, or must be discarded in favor of a full login.
package session

import (
	"context"
	"time"

	"github.com/symmetric-sync/blocksync/internal/models"
)

// Store is the credential persistence boundary. Both backends (Postgres
// and plain files) implement it identically from the agent's point of
// view.
type Store interface {
	Load(ctx context.Context, accountID int64, handle string) (models.Session, bool, error)
	Save(ctx context.Context, accountID int64, sess models.Session) error
	UpdateAccess(ctx context.Context, accountID int64, handle, accessJWT string, issuedAt time.Time) error
	Clear(ctx context.Context, accountID int64, handle string) error
}

// Thresholds controls the refresh-vs-full-login decision in Resolve.
type Thresholds struct {
	// RefreshTokenMaxAge is how old a refresh token may get before it's
	// discarded outright in favor of a full login.
	RefreshTokenMaxAge time.Duration
	// AccessTokenMaxAge is how old an access token may get before a
	// refresh-session call is attempted.
	AccessTokenMaxAge time.Duration
}

// DefaultThresholds matches the recommended defaults: refresh tokens are
// good for 55 days, access tokens for 115 minutes.
func DefaultThresholds() Thresholds {
	return Thresholds{
		RefreshTokenMaxAge: 55 * 24 * time.Hour,
		AccessTokenMaxAge:  115 * time.Minute,
	}
}
