package publisher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/symmetric-sync/blocksync/internal/atperr"
	"github.com/symmetric-sync/blocksync/internal/atproto"
	"github.com/symmetric-sync/blocksync/internal/governor"
)

type fakeDesiredSet struct {
	dids []string
}

func (f *fakeDesiredSet) GetDesiredListDIDs(ctx context.Context) ([]string, error) {
	return f.dids, nil
}

type fakeClient struct {
	atproto.NetworkClient
	liveItems   []atproto.ListItemView
	createErrs  map[string]error
	created     []string
	deleted     []string
}

func (f *fakeClient) GetList(ctx context.Context, listURI string, limit int, cursor string) ([]atproto.ListItemView, string, error) {
	return f.liveItems, "", nil
}

func (f *fakeClient) CreateRecord(ctx context.Context, repo, collection string, record any) (string, string, error) {
	rec := record.(atproto.ListItemRecord)
	f.created = append(f.created, rec.Subject)
	if err, ok := f.createErrs[rec.Subject]; ok {
		return "", "", err
	}
	return "at://x/app.bsky.graph.listitem/new", "cid", nil
}

func (f *fakeClient) DeleteRecord(ctx context.Context, repo, collection, rkey string) error {
	f.deleted = append(f.deleted, rkey)
	return nil
}

func newTestPublisher(store DesiredSetSource, client atproto.NetworkClient) *Publisher {
	return &Publisher{
		OwnerDID: "did:plc:alice",
		ListURI:  "at://did:plc:alice/app.bsky.graph.list/mods",
		Client:   client,
		Governor: governor.New("test", governor.DefaultConfig()),
		Store:    store,
	}
}

func TestPublisher_AddsDesiredDIDsMissingFromLiveList(t *testing.T) {
	store := &fakeDesiredSet{dids: []string{"did:plc:bob", "did:plc:carol"}}
	client := &fakeClient{}
	p := newTestPublisher(store, client)

	out, err := p.Publish(context.Background())

	require.NoError(t, err)
	require.ElementsMatch(t, []string{"did:plc:bob", "did:plc:carol"}, out.Added)
	require.Empty(t, out.Removed)
	require.Empty(t, out.Errored)
}

func TestPublisher_RemovesLiveDIDsNoLongerDesired(t *testing.T) {
	store := &fakeDesiredSet{dids: []string{"did:plc:bob"}}
	client := &fakeClient{liveItems: []atproto.ListItemView{
		{ItemURI: "at://did:plc:alice/app.bsky.graph.listitem/keep", SubjectDID: "did:plc:bob"},
		{ItemURI: "at://did:plc:alice/app.bsky.graph.listitem/drop", SubjectDID: "did:plc:dave"},
	}}
	p := newTestPublisher(store, client)

	out, err := p.Publish(context.Background())

	require.NoError(t, err)
	require.Empty(t, out.Added)
	require.Equal(t, []string{"did:plc:dave"}, out.Removed)
	require.Equal(t, []string{"drop"}, client.deleted)
}

func TestPublisher_NoopWhenDesiredMatchesLive(t *testing.T) {
	store := &fakeDesiredSet{dids: []string{"did:plc:bob"}}
	client := &fakeClient{liveItems: []atproto.ListItemView{
		{ItemURI: "at://did:plc:alice/app.bsky.graph.listitem/keep", SubjectDID: "did:plc:bob"},
	}}
	p := newTestPublisher(store, client)

	out, err := p.Publish(context.Background())

	require.NoError(t, err)
	require.Empty(t, out.Added)
	require.Empty(t, out.Removed)
	require.Empty(t, client.created)
	require.Empty(t, client.deleted)
}

func TestPublisher_TreatsConflictOnAddAsSkippedNotErrored(t *testing.T) {
	store := &fakeDesiredSet{dids: []string{"did:plc:bob"}}
	client := &fakeClient{createErrs: map[string]error{
		"did:plc:bob": atperr.Wrap(atperr.Conflict, errors.New("already a member")),
	}}
	p := newTestPublisher(store, client)

	out, err := p.Publish(context.Background())

	require.NoError(t, err)
	require.Empty(t, out.Added)
	require.Equal(t, []string{"did:plc:bob"}, out.Skipped)
	require.Empty(t, out.Errored)
}

func TestPublisher_RecordsErroredOnNonConflictFailure(t *testing.T) {
	store := &fakeDesiredSet{dids: []string{"did:plc:bob"}}
	client := &fakeClient{createErrs: map[string]error{
		"did:plc:bob": atperr.Wrap(atperr.Permanent, errors.New("boom")),
	}}
	p := newTestPublisher(store, client)

	out, err := p.Publish(context.Background())

	require.NoError(t, err)
	require.Empty(t, out.Added)
	require.Equal(t, []string{"did:plc:bob"}, out.Errored)
}

func TestRkeyFromURI(t *testing.T) {
	require.Equal(t, "abc123", rkeyFromURI("at://did:plc:alice/app.bsky.graph.listitem/abc123"))
	require.Equal(t, "", rkeyFromURI("not-a-uri"))
}
