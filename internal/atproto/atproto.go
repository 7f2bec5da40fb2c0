// Package atproto is the one place this module talks to the AT Protocol
// network. Everything else depends on the narrow NetworkClient interface
// below; Client is a thin adapter over github.com/bluesky-social/indigo's
// xrpc/api/atproto/api/bsky packages — a *Client struct plus a handful of
// typed methods, no exported SDK types leaking past the package boundary.
package atproto

import (
	"context"
	"time"
)

// Tokens is the pair of JWTs (plus issue times) a login or refresh call
// returns. Session storage (internal/session) persists all of them after
// a full login; after a refresh it persists only the access token and
// its issue time.
type Tokens struct {
	DID             string
	AccessJWT       string
	RefreshJWT      string
	AccessIssuedAt  time.Time
	RefreshIssuedAt time.Time
}

// BlockedView is one entry from the authoritative get_blocks enumeration.
type BlockedView struct {
	DID    string
	Handle string
}

// ListView describes a moderation list owned by some DID.
type ListView struct {
	URI         string
	CID         string
	Name        string
	Description string
	Purpose     string
	IndexedAt   time.Time
}

// ListItemView is one membership record on a moderation list.
type ListItemView struct {
	ItemURI    string
	SubjectDID string
}

// FirehoseMessage is one frame off the repository commit stream,
// reduced to what the Commit Consumer needs. Kind is "#commit", "#info",
// or "#error" per the wire protocol; only "#commit" carries
// Repo/Seq/Ops/Blocks.
type FirehoseMessage struct {
	Kind string
	Seq  int64
	Repo string
	Ops  []RepoOp
	// Blocks is the CAR-encoded block bundle backing Ops' CIDs.
	Blocks []byte
}

// RepoOp is one record-level operation inside a commit.
type RepoOp struct {
	Action     string // "create", "update", "delete"
	Path       string // "<collection>/<rkey>"
	CID        string // content hash of the record after the op, empty on delete
}

// NetworkClient is every AT Protocol operation the sync engine depends
// on. Implementations must be safe for concurrent use; callers are
// expected to run every method through a governor.Governor rather than
// calling it bare.
type NetworkClient interface {
	Login(ctx context.Context, handle, password string) (Tokens, error)
	RefreshSession(ctx context.Context, refreshJWT string) (Tokens, error)

	CreateRecord(ctx context.Context, repo, collection string, record any) (uri, cid string, err error)
	PutRecord(ctx context.Context, repo, collection, rkey string, record any) (uri, cid string, err error)
	DeleteRecord(ctx context.Context, repo, collection, rkey string) error

	GetLists(ctx context.Context, actor string) ([]ListView, error)
	GetList(ctx context.Context, listURI string, limit int, cursor string) (items []ListItemView, nextCursor string, err error)
	GetBlocks(ctx context.Context, limit int, cursor string) (blocked []BlockedView, nextCursor string, err error)

	// SubscribeRepos streams commits starting at cursor. A nil cursor
	// means "from the current live edge" (the param is omitted from the
	// wire request entirely); a non-nil cursor is sent verbatim, so
	// pointing it at 0 explicitly requests the earliest available commit.
	// The returned channel is closed when ctx is done or the connection
	// drops; the caller decides whether to reconnect.
	SubscribeRepos(ctx context.Context, cursor *int64) (<-chan FirehoseMessage, error)
}
