package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/symmetric-sync/blocksync/internal/atperr"
	"github.com/symmetric-sync/blocksync/internal/governor"
	"github.com/symmetric-sync/blocksync/internal/models"
)

func TestPlaceholderDID_IsUniquePerHandle(t *testing.T) {
	require.Equal(t, "did:placeholder:alice-bsky-social", placeholderDID("alice.bsky.social"))
	require.NotEqual(t, placeholderDID("alice.bsky.social"), placeholderDID("bob.bsky.social"))
}

func TestFastInterval_PrimaryUsesPrimaryInterval(t *testing.T) {
	o := &Orchestrator{cfg: Config{FastIntervalPrimary: 15 * time.Minute, FastIntervalSecondary: 60 * time.Minute}}
	require.Equal(t, 15*time.Minute, o.fastInterval(true))
}

func TestFastInterval_SecondaryUsesSecondaryInterval(t *testing.T) {
	o := &Orchestrator{cfg: Config{FastIntervalPrimary: 15 * time.Minute, FastIntervalSecondary: 60 * time.Minute}}
	require.Equal(t, 60*time.Minute, o.fastInterval(false))
}

func TestWaitBounded_ReturnsPromptlyWhenWaitGroupFinishes(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		time.Sleep(10 * time.Millisecond)
		wg.Done()
	}()

	start := time.Now()
	waitBounded("test", &wg, time.Second)
	require.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestWaitBounded_GivesUpAfterTimeoutWithoutBlockingForever(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	defer wg.Done()

	start := time.Now()
	waitBounded("test", &wg, 20*time.Millisecond)
	require.Less(t, time.Since(start), 500*time.Millisecond)
}

type fakeStore struct {
	upsertCalls []string
	nextID      int64
}

func (f *fakeStore) Migrate(ctx context.Context) error { return nil }

func (f *fakeStore) UpsertAccount(ctx context.Context, handle, did string, isPrimary bool) (models.Account, error) {
	f.upsertCalls = append(f.upsertCalls, handle+":"+did)
	f.nextID++
	return models.Account{ID: f.nextID, Handle: handle, DID: did, IsPrimary: isPrimary}, nil
}

func (f *fakeStore) AddBlock(ctx context.Context, did, handle string, sourceAccountID int64, direction models.BlockDirection, reason string) error {
	return nil
}
func (f *fakeStore) GetCursor(ctx context.Context, accountID int64) (int64, bool, error) {
	return 0, false, nil
}
func (f *fakeStore) SetCursor(ctx context.Context, accountID, seq int64) error        { return nil }
func (f *fakeStore) RemoveStaleBlocks(ctx context.Context, sourceAccountID int64, direction models.BlockDirection, currentDIDs []string) (int64, error) {
	return 0, nil
}
func (f *fakeStore) GetUnsyncedForPrimary(ctx context.Context, primaryAccountID int64) ([]models.UnsyncedBlock, error) {
	return nil, nil
}
func (f *fakeStore) MarkSyncedByPrimary(ctx context.Context, rowID int64) error { return nil }
func (f *fakeStore) GetDesiredListDIDs(ctx context.Context) ([]string, error)  { return nil, nil }
func (f *fakeStore) GetModList(ctx context.Context) (models.ModList, error)    { return models.ModList{}, nil }
func (f *fakeStore) UpsertModList(ctx context.Context, uri, cid, ownerDID, name string) (models.ModList, error) {
	return models.ModList{}, nil
}

func TestLoginAll_SkipsAccountRateLimitedOnLogin(t *testing.T) {
	store := &fakeStore{}
	o := New(Config{
		Accounts:       []AccountSpec{{Handle: "alice.bsky.social", Password: "pw", Primary: true}},
		PDSHost:        "https://bsky.social",
		Store:          store,
		Sessions:       &erroringSessionStore{err: atperr.Wrap(atperr.RateLimited, errors.New("rate limited"))},
		GovernorConfig: governor.DefaultConfig(),
	})

	agents := o.loginAll(context.Background())

	require.Empty(t, agents)
}

type erroringSessionStore struct {
	err error
}

func (e *erroringSessionStore) Load(ctx context.Context, accountID int64, handle string) (models.Session, bool, error) {
	return models.Session{}, false, e.err
}
func (e *erroringSessionStore) Save(ctx context.Context, accountID int64, sess models.Session) error {
	return nil
}
func (e *erroringSessionStore) UpdateAccess(ctx context.Context, accountID int64, handle, accessJWT string, issuedAt time.Time) error {
	return nil
}
func (e *erroringSessionStore) Clear(ctx context.Context, accountID int64, handle string) error {
	return nil
}
