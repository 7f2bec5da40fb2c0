package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/symmetric-sync/blocksync/internal/models"
)

type fakeRepoBackend struct {
	loadHandle    string
	loadSession   models.Session
	loadOK        bool
	savedAccount  int64
	savedSession  models.Session
	updatedAccess models.Session
	clearedAcct   int64
}

func (f *fakeRepoBackend) SaveSession(ctx context.Context, accountID int64, sess models.Session) error {
	f.savedAccount = accountID
	f.savedSession = sess
	return nil
}

func (f *fakeRepoBackend) LoadSession(ctx context.Context, handle string) (models.Session, bool, error) {
	f.loadHandle = handle
	return f.loadSession, f.loadOK, nil
}

func (f *fakeRepoBackend) UpdateAccess(ctx context.Context, accountID int64, accessJWT string, issuedAt models.Session) error {
	f.updatedAccess = issuedAt
	return nil
}

func (f *fakeRepoBackend) ClearSession(ctx context.Context, accountID int64) error {
	f.clearedAcct = accountID
	return nil
}

func TestPostgresStore_LoadDelegatesByHandleNotAccountID(t *testing.T) {
	repo := &fakeRepoBackend{loadSession: models.Session{Handle: "alice.bsky.social"}, loadOK: true}
	store := NewPostgresStore(repo)

	sess, ok, err := store.Load(context.Background(), 999, "alice.bsky.social")

	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "alice.bsky.social", sess.Handle)
	require.Equal(t, "alice.bsky.social", repo.loadHandle)
}

func TestPostgresStore_SaveDelegatesWithAccountID(t *testing.T) {
	repo := &fakeRepoBackend{}
	store := NewPostgresStore(repo)

	require.NoError(t, store.Save(context.Background(), 5, models.Session{Handle: "alice.bsky.social"}))

	require.Equal(t, int64(5), repo.savedAccount)
	require.Equal(t, "alice.bsky.social", repo.savedSession.Handle)
}

func TestPostgresStore_UpdateAccessPassesIssuedAtThrough(t *testing.T) {
	repo := &fakeRepoBackend{}
	store := NewPostgresStore(repo)
	when := time.Now().UTC()

	require.NoError(t, store.UpdateAccess(context.Background(), 5, "alice.bsky.social", "a2", when))

	require.Equal(t, when, repo.updatedAccess.AccessIssuedAt)
}

func TestPostgresStore_ClearDelegatesWithAccountID(t *testing.T) {
	repo := &fakeRepoBackend{}
	store := NewPostgresStore(repo)

	require.NoError(t, store.Clear(context.Background(), 5, "alice.bsky.social"))

	require.Equal(t, int64(5), repo.clearedAcct)
}
