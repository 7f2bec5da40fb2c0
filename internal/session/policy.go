package session

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/symmetric-sync/blocksync/internal/atproto"
	"github.com/symmetric-sync/blocksync/internal/models"
)

// Resolve implements the agent-startup refresh policy: reuse a fresh
// session outright, refresh a stale-but-not-expired one, or fall back to
// a full login when nothing usable is on file. It always returns tokens
// the caller can hand straight to atproto.Client.WithAuth.
func Resolve(ctx context.Context, store Store, net atproto.NetworkClient, accountID int64, handle, password string, th Thresholds) (atproto.Tokens, error) {
	sess, ok, err := store.Load(ctx, accountID, handle)
	if err != nil {
		return atproto.Tokens{}, fmt.Errorf("load session for %s: %w", handle, err)
	}
	if !ok {
		return fullLogin(ctx, store, net, accountID, handle, password)
	}

	now := time.Now().UTC()
	refreshAge := now.Sub(sess.RefreshIssuedAt)
	if refreshAge > th.RefreshTokenMaxAge {
		log.Printf("[session] refresh token for %s is %s old, discarding and logging in fresh", handle, refreshAge.Round(time.Hour))
		if err := store.Clear(ctx, accountID, handle); err != nil {
			log.Printf("[session] clear stale session for %s: %v", handle, err)
		}
		return fullLogin(ctx, store, net, accountID, handle, password)
	}

	accessAge := now.Sub(sess.AccessIssuedAt)
	if accessAge <= th.AccessTokenMaxAge {
		return atproto.Tokens{
			DID:             sess.DID,
			AccessJWT:       sess.AccessJWT,
			RefreshJWT:      sess.RefreshJWT,
			AccessIssuedAt:  sess.AccessIssuedAt,
			RefreshIssuedAt: sess.RefreshIssuedAt,
		}, nil
	}

	tokens, err := net.RefreshSession(ctx, sess.RefreshJWT)
	if err != nil {
		log.Printf("[session] refresh_session failed for %s, falling back to full login: %v", handle, err)
		return fullLogin(ctx, store, net, accountID, handle, password)
	}
	if tokens.DID == "" {
		tokens.DID = sess.DID
	}
	if tokens.RefreshJWT == "" {
		tokens.RefreshJWT = sess.RefreshJWT
		tokens.RefreshIssuedAt = sess.RefreshIssuedAt
	}

	if err := store.UpdateAccess(ctx, accountID, handle, tokens.AccessJWT, tokens.AccessIssuedAt); err != nil {
		log.Printf("[session] persist refreshed access token for %s: %v", handle, err)
	}

	return tokens, nil
}

func fullLogin(ctx context.Context, store Store, net atproto.NetworkClient, accountID int64, handle, password string) (atproto.Tokens, error) {
	tokens, err := net.Login(ctx, handle, password)
	if err != nil {
		return atproto.Tokens{}, fmt.Errorf("login %s: %w", handle, err)
	}
	sess := models.Session{
		Handle:          handle,
		DID:             tokens.DID,
		AccessJWT:       tokens.AccessJWT,
		RefreshJWT:      tokens.RefreshJWT,
		AccessIssuedAt:  tokens.AccessIssuedAt,
		RefreshIssuedAt: tokens.RefreshIssuedAt,
	}
	if err := store.Save(ctx, accountID, sess); err != nil {
		log.Printf("[session] persist session for %s: %v", handle, err)
	}
	return tokens, nil
}
