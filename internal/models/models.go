// Package models holds the plain data shapes shared between the store,
// the account agent, and the orchestrator. None of these carry behavior;
// they exist to give the repository and its callers a common vocabulary.
package models

import "time"

// BlockDirection distinguishes who is doing the blocking.
type BlockDirection string

const (
	// DirectionBlocking means the managed account blocks the subject.
	DirectionBlocking BlockDirection = "blocking"
	// DirectionBlockedBy means the external directory reports the subject blocks the managed account.
	DirectionBlockedBy BlockDirection = "blocked_by"
)

// Account represents the 'accounts' table: a managed AT Protocol identity.
type Account struct {
	ID        int64     `json:"id"`
	Handle    string    `json:"handle"`
	DID       string    `json:"did"`
	IsPrimary bool      `json:"is_primary"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Session represents a persisted login for one managed account.
type Session struct {
	Handle           string    `json:"handle"`
	DID              string    `json:"did"`
	AccessJWT        string    `json:"access_jwt"`
	RefreshJWT       string    `json:"refresh_jwt"`
	AccessIssuedAt   time.Time `json:"access_issued_at"`
	RefreshIssuedAt  time.Time `json:"refresh_issued_at"`
}

// BlockedAccount represents one row of the 'blocked_accounts' table.
type BlockedAccount struct {
	ID              int64          `json:"id"`
	DID             string         `json:"did"`
	Handle          string         `json:"handle,omitempty"`
	Reason          string         `json:"reason,omitempty"`
	SourceAccountID int64          `json:"source_account_id"`
	Direction       BlockDirection `json:"block_type"`
	FirstSeen       time.Time      `json:"first_seen"`
	LastSeen        time.Time      `json:"last_seen"`
	SyncedByPrimary bool           `json:"is_synced"`
}

// UnsyncedBlock is a BlockedAccount row annotated with whether the
// primary already independently blocks the same subject — returned by
// GetUnsyncedForPrimary so the reconciler's propagation step can skip
// the redundant create-record call while still marking the row synced.
type UnsyncedBlock struct {
	BlockedAccount
	AlreadyBlockedByPrimary bool `json:"already_blocked_by_primary"`
}

// ModList represents the 'mod_lists' table: the canonical moderation
// list owned by the primary account.
type ModList struct {
	ID        int64     `json:"id"`
	URI       string    `json:"list_uri"`
	CID       string    `json:"list_cid"`
	OwnerDID  string    `json:"owner_did"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
