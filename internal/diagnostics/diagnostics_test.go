package diagnostics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/symmetric-sync/blocksync/internal/eventbus"
	"github.com/symmetric-sync/blocksync/internal/models"
)

type fakeDB struct {
	err error
}

func (f *fakeDB) Ping(ctx context.Context) error { return f.err }

type fakeSessions struct {
	sessions map[string]models.Session
	err      error
}

func (f *fakeSessions) Load(ctx context.Context, accountID int64, handle string) (models.Session, bool, error) {
	if f.err != nil {
		return models.Session{}, false, f.err
	}
	sess, ok := f.sessions[handle]
	return sess, ok, nil
}

type fakeDirectory struct {
	err error
}

func (f *fakeDirectory) Ping(ctx context.Context) error { return f.err }

func TestRun_AllHealthyIsReady(t *testing.T) {
	db := &fakeDB{}
	sessions := &fakeSessions{sessions: map[string]models.Session{
		"alice.bsky.social": {Handle: "alice.bsky.social", RefreshJWT: "r1"},
	}}
	dir := &fakeDirectory{}

	report := Run(context.Background(), db, sessions, dir, []ManagedAccount{{ID: 1, Handle: "alice.bsky.social"}}, nil)

	require.True(t, report.Ready)
	for _, c := range report.Checks {
		require.NotEqual(t, StatusFail, c.Status)
	}
}

func TestRun_DatabaseFailureMakesReportNotReady(t *testing.T) {
	db := &fakeDB{err: errors.New("connection refused")}
	sessions := &fakeSessions{}
	dir := &fakeDirectory{}

	report := Run(context.Background(), db, sessions, dir, nil, nil)

	require.False(t, report.Ready)
	require.Equal(t, StatusFail, report.Checks[0].Status)
}

func TestRun_MissingSessionIsWarnNotFail(t *testing.T) {
	db := &fakeDB{}
	sessions := &fakeSessions{sessions: map[string]models.Session{}}
	dir := &fakeDirectory{}

	report := Run(context.Background(), db, sessions, dir, []ManagedAccount{{ID: 1, Handle: "alice.bsky.social"}}, nil)

	require.True(t, report.Ready)
	var sessionCheck Check
	for _, c := range report.Checks {
		if c.Name == "session:alice.bsky.social" {
			sessionCheck = c
		}
	}
	require.Equal(t, StatusWarn, sessionCheck.Status)
}

func TestRun_SessionMissingRefreshTokenIsWarn(t *testing.T) {
	db := &fakeDB{}
	sessions := &fakeSessions{sessions: map[string]models.Session{
		"alice.bsky.social": {Handle: "alice.bsky.social"},
	}}
	dir := &fakeDirectory{}

	report := Run(context.Background(), db, sessions, dir, []ManagedAccount{{ID: 1, Handle: "alice.bsky.social"}}, nil)

	require.True(t, report.Ready)
	var sessionCheck Check
	for _, c := range report.Checks {
		if c.Name == "session:alice.bsky.social" {
			sessionCheck = c
		}
	}
	require.Equal(t, StatusWarn, sessionCheck.Status)
	require.Contains(t, sessionCheck.Message, "refresh token")
}

func TestRun_DirectoryUnreachableIsWarnNotFail(t *testing.T) {
	db := &fakeDB{}
	sessions := &fakeSessions{}
	dir := &fakeDirectory{err: errors.New("timeout")}

	report := Run(context.Background(), db, sessions, dir, nil, nil)

	require.True(t, report.Ready)
	var dirCheck Check
	for _, c := range report.Checks {
		if c.Name == "directory" {
			dirCheck = c
		}
	}
	require.Equal(t, StatusWarn, dirCheck.Status)
}

func TestRun_SessionLoadErrorIsFail(t *testing.T) {
	db := &fakeDB{}
	sessions := &fakeSessions{err: errors.New("db gone")}
	dir := &fakeDirectory{}

	report := Run(context.Background(), db, sessions, dir, []ManagedAccount{{ID: 1, Handle: "alice.bsky.social"}}, nil)

	require.False(t, report.Ready)
}

func TestRun_NoActivityObservedIsWarn(t *testing.T) {
	db := &fakeDB{}
	sessions := &fakeSessions{}
	dir := &fakeDirectory{}
	activity := NewActivityTracker(eventbus.New(), "block.added", "reconcile.completed")

	report := Run(context.Background(), db, sessions, dir, nil, activity)

	require.True(t, report.Ready)
	var activityCheck Check
	for _, c := range report.Checks {
		if c.Name == "activity" {
			activityCheck = c
		}
	}
	require.Equal(t, StatusWarn, activityCheck.Status)
}

func TestRun_ActivityObservedIsPass(t *testing.T) {
	db := &fakeDB{}
	sessions := &fakeSessions{}
	dir := &fakeDirectory{}
	bus := eventbus.New()
	activity := NewActivityTracker(bus, "block.added", "reconcile.completed")

	bus.Publish(eventbus.Event{Type: "block.added", Timestamp: time.Now()})
	require.Eventually(t, func() bool {
		_, ok := activity.lastSeen("block.added")
		return ok
	}, time.Second, time.Millisecond)

	report := Run(context.Background(), db, sessions, dir, nil, activity)

	var activityCheck Check
	for _, c := range report.Checks {
		if c.Name == "activity" {
			activityCheck = c
		}
	}
	require.Equal(t, StatusPass, activityCheck.Status)
}
