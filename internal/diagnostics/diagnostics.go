// Package diagnostics runs the health/readiness checks the root HTTP
// surface exposes at /healthz and /readyz: database connectivity,
// per-account session presence, external directory reachability, and
// process resource usage. Grounded on the original userbot's
// check_database_connectivity / check_clearsky_api /
// check_account_authentication / check_system_resources checks,
// collapsed into one Run call returning a Report instead of an
// interactive CLI session.
package diagnostics

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/symmetric-sync/blocksync/internal/eventbus"
	"github.com/symmetric-sync/blocksync/internal/models"
)

// Status is one check's outcome.
type Status string

const (
	StatusPass Status = "pass"
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
)

// Check is one diagnostic result.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// Report is the full set of checks run for one probe.
type Report struct {
	Checks []Check `json:"checks"`
	Ready  bool    `json:"ready"`
}

// DBPinger is the store's connectivity check.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// SessionLoader is the session store's read path, used to confirm each
// managed account has a usable session on file.
type SessionLoader interface {
	Load(ctx context.Context, accountID int64, handle string) (models.Session, bool, error)
}

// DirectoryPinger is the external directory's reachability check.
type DirectoryPinger interface {
	Ping(ctx context.Context) error
}

// ManagedAccount is the minimal identity diagnostics needs per
// configured account.
type ManagedAccount struct {
	ID     int64
	Handle string
}

// ActivityTracker subscribes to the event bus and remembers the last
// time each event type was observed, so Run can report whether the
// commit consumers and reconcilers are still doing visible work instead
// of having silently stalled while every other check still passes.
type ActivityTracker struct {
	mu   sync.Mutex
	last map[string]time.Time
}

// NewActivityTracker subscribes to every named event type on bus and
// starts tracking its most recent occurrence.
func NewActivityTracker(bus *eventbus.Bus, eventTypes ...string) *ActivityTracker {
	t := &ActivityTracker{last: make(map[string]time.Time)}
	for _, eventType := range eventTypes {
		ch := make(chan eventbus.Event, 16)
		bus.Subscribe(eventType, ch)
		go func(eventType string, ch chan eventbus.Event) {
			for evt := range ch {
				t.mu.Lock()
				t.last[eventType] = evt.Timestamp
				t.mu.Unlock()
			}
		}(eventType, ch)
	}
	return t
}

func (t *ActivityTracker) lastSeen(eventType string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ts, ok := t.last[eventType]
	return ts, ok
}

// Run executes every check and returns a Report. Ready is false only if
// a check came back StatusFail; StatusWarn (e.g. a missing session
// before first login, or a slow directory) does not block readiness.
// activity may be nil, in which case the activity check is skipped.
func Run(ctx context.Context, db DBPinger, sessions SessionLoader, dir DirectoryPinger, accounts []ManagedAccount, activity *ActivityTracker) Report {
	var checks []Check

	checks = append(checks, timed("database", func() (Status, string) {
		if err := db.Ping(ctx); err != nil {
			return StatusFail, err.Error()
		}
		return StatusPass, "connected"
	}))

	for _, acc := range accounts {
		acc := acc
		checks = append(checks, timed("session:"+acc.Handle, func() (Status, string) {
			sess, ok, err := sessions.Load(ctx, acc.ID, acc.Handle)
			if err != nil {
				return StatusFail, err.Error()
			}
			if !ok {
				return StatusWarn, "no session on file yet"
			}
			if sess.RefreshJWT == "" {
				return StatusWarn, "session missing refresh token"
			}
			return StatusPass, "session present"
		}))
	}

	checks = append(checks, timed("directory", func() (Status, string) {
		if err := dir.Ping(ctx); err != nil {
			return StatusWarn, err.Error()
		}
		return StatusPass, "reachable"
	}))

	checks = append(checks, timed("resources", func() (Status, string) {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		goroutines := runtime.NumGoroutine()
		if goroutines > 10000 {
			return StatusWarn, "goroutine count elevated"
		}
		return StatusPass, "nominal"
	}))

	if activity != nil {
		checks = append(checks, timed("activity", func() (Status, string) {
			_, blockSeen := activity.lastSeen("block.added")
			_, reconcileSeen := activity.lastSeen("reconcile.completed")
			if !blockSeen && !reconcileSeen {
				return StatusWarn, "no block or reconcile activity observed yet"
			}
			return StatusPass, "recent activity observed"
		}))
	}

	ready := true
	for _, c := range checks {
		if c.Status == StatusFail {
			ready = false
		}
	}
	return Report{Checks: checks, Ready: ready}
}

func timed(name string, fn func() (Status, string)) Check {
	start := time.Now()
	status, msg := fn()
	return Check{Name: name, Status: status, Message: msg, DurationMS: time.Since(start).Milliseconds()}
}
