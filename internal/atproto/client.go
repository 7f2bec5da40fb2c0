package atproto

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/api/bsky"
	"github.com/bluesky-social/indigo/xrpc"
	"github.com/golang-jwt/jwt/v5"

	"github.com/symmetric-sync/blocksync/internal/atperr"
)

// Client is the indigo-backed NetworkClient implementation. It holds no
// session state beyond what's needed for the current call's Authorization
// header — the caller (internal/session) is the source of truth for
// tokens: it constructs a Client from persisted tokens rather than the
// client owning a login lifecycle of its own.
type Client struct {
	xrpcc *xrpc.Client
}

// New constructs a Client against the given PDS host (e.g.
// "https://bsky.social"), unauthenticated. Call WithAuth to scope calls
// to one managed account's session.
func New(host string) *Client {
	return &Client{
		xrpcc: &xrpc.Client{
			Client: &http.Client{Timeout: 30 * time.Second},
			Host:   host,
		},
	}
}

// WithAuth returns a Client scoped to the given account's tokens. The
// original Client is left unauthenticated so it can still be used for
// Login.
func (c *Client) WithAuth(did, accessJWT, refreshJWT string) *Client {
	cp := *c.xrpcc
	cp.Auth = &xrpc.AuthInfo{
		Did:        did,
		AccessJwt:  accessJWT,
		RefreshJwt: refreshJWT,
	}
	return &Client{xrpcc: &cp}
}

func (c *Client) Login(ctx context.Context, handle, password string) (Tokens, error) {
	out, err := atproto.ServerCreateSession(ctx, c.xrpcc, &atproto.ServerCreateSession_Input{
		Identifier: handle,
		Password:   password,
	})
	if err != nil {
		return Tokens{}, wrapXRPCErr("login", err)
	}
	now := time.Now().UTC()
	return Tokens{
		DID:             out.Did,
		AccessJWT:       out.AccessJwt,
		RefreshJWT:      out.RefreshJwt,
		AccessIssuedAt:  jwtIssuedAt(out.AccessJwt, now),
		RefreshIssuedAt: jwtIssuedAt(out.RefreshJwt, now),
	}, nil
}

func (c *Client) RefreshSession(ctx context.Context, refreshJWT string) (Tokens, error) {
	refreshClient := c.WithAuth("", "", refreshJWT)
	// indigo's ServerRefreshSession authenticates with whatever token is
	// set as Auth.AccessJwt on the call; the refresh endpoint expects the
	// refresh token in that slot.
	refreshClient.xrpcc.Auth.AccessJwt = refreshJWT

	out, err := atproto.ServerRefreshSession(ctx, refreshClient.xrpcc)
	if err != nil {
		return Tokens{}, wrapXRPCErr("refresh_session", err)
	}
	now := time.Now().UTC()
	return Tokens{
		DID:             out.Did,
		AccessJWT:       out.AccessJwt,
		RefreshJWT:      out.RefreshJwt,
		AccessIssuedAt:  jwtIssuedAt(out.AccessJwt, now),
		RefreshIssuedAt: jwtIssuedAt(out.RefreshJwt, now),
	}, nil
}

func (c *Client) CreateRecord(ctx context.Context, repo, collection string, record any) (string, string, error) {
	raw, err := toLexRecord(record)
	if err != nil {
		return "", "", err
	}
	out, err := atproto.RepoCreateRecord(ctx, c.xrpcc, &atproto.RepoCreateRecord_Input{
		Repo:       repo,
		Collection: collection,
		Record:     raw,
	})
	if err != nil {
		return "", "", wrapXRPCErr("create_record", err)
	}
	return out.Uri, out.Cid, nil
}

func (c *Client) PutRecord(ctx context.Context, repo, collection, rkey string, record any) (string, string, error) {
	raw, err := toLexRecord(record)
	if err != nil {
		return "", "", err
	}
	out, err := atproto.RepoPutRecord(ctx, c.xrpcc, &atproto.RepoPutRecord_Input{
		Repo:       repo,
		Collection: collection,
		Rkey:       rkey,
		Record:     raw,
	})
	if err != nil {
		return "", "", wrapXRPCErr("put_record", err)
	}
	return out.Uri, out.Cid, nil
}

func (c *Client) DeleteRecord(ctx context.Context, repo, collection, rkey string) error {
	_, err := atproto.RepoDeleteRecord(ctx, c.xrpcc, &atproto.RepoDeleteRecord_Input{
		Repo:       repo,
		Collection: collection,
		Rkey:       rkey,
	})
	if err != nil {
		return wrapXRPCErr("delete_record", err)
	}
	return nil
}

func (c *Client) GetLists(ctx context.Context, actor string) ([]ListView, error) {
	var out []ListView
	cursor := ""
	for {
		resp, err := bsky.GraphGetLists(ctx, c.xrpcc, actor, 100, cursor)
		if err != nil {
			return nil, wrapXRPCErr("get_lists", err)
		}
		for _, l := range resp.Lists {
			out = append(out, ListView{
				URI:         l.Uri,
				CID:         l.Cid,
				Name:        l.Name,
				Description: strPtr(l.Description),
				Purpose:     l.Purpose,
				IndexedAt:   parseTime(l.IndexedAt),
			})
		}
		if resp.Cursor == nil || *resp.Cursor == "" {
			return out, nil
		}
		cursor = *resp.Cursor
	}
}

func (c *Client) GetList(ctx context.Context, listURI string, limit int, cursor string) ([]ListItemView, string, error) {
	resp, err := bsky.GraphGetList(ctx, c.xrpcc, cursor, int64(limit), listURI)
	if err != nil {
		return nil, "", wrapXRPCErr("get_list", err)
	}
	items := make([]ListItemView, 0, len(resp.Items))
	for _, it := range resp.Items {
		items = append(items, ListItemView{
			ItemURI:    it.Uri,
			SubjectDID: it.Subject.Did,
		})
	}
	next := ""
	if resp.Cursor != nil {
		next = *resp.Cursor
	}
	return items, next, nil
}

// ResolveHandle looks up the DID behind a handle. It is not part of
// NetworkClient — only the convenience tools need it, and keeping it off
// the interface means the consumer/reconciler/publisher fakes never
// have to stub it.
func (c *Client) ResolveHandle(ctx context.Context, handle string) (string, error) {
	out, err := atproto.IdentityResolveHandle(ctx, c.xrpcc, handle)
	if err != nil {
		return "", wrapXRPCErr("resolve_handle", err)
	}
	return out.Did, nil
}

func (c *Client) GetBlocks(ctx context.Context, limit int, cursor string) ([]BlockedView, string, error) {
	resp, err := bsky.GraphGetBlocks(ctx, c.xrpcc, cursor, int64(limit))
	if err != nil {
		return nil, "", wrapXRPCErr("get_blocks", err)
	}
	out := make([]BlockedView, 0, len(resp.Blocks))
	for _, b := range resp.Blocks {
		out = append(out, BlockedView{DID: b.Did, Handle: b.Handle})
	}
	next := ""
	if resp.Cursor != nil {
		next = *resp.Cursor
	}
	return out, next, nil
}

func strPtr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

// toLexRecord converts a Go struct into the map indigo's lexicon-typed
// RepoCreateRecord_Input expects for its untyped Record field.
func toLexRecord(record any) (map[string]any, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return m, nil
}

func wrapXRPCErr(op string, err error) error {
	status := 0
	if xe, ok := err.(*xrpc.Error); ok {
		status = xe.StatusCode
	}
	return atperr.Wrap(atperr.ClassifyHTTP(status, err), fmt.Errorf("atproto %s: %w", op, err))
}

// jwtIssuedAt reads the "iat" claim out of an unverified JWT, falling
// back to now when the claim is absent or unparseable (e.g. a test
// fixture token). We only ever read tokens the PDS itself just handed
// us, so skipping signature verification here is reading our own mail.
func jwtIssuedAt(token string, fallback time.Time) time.Time {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return fallback
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		return iat.Time
	}
	return fallback
}
