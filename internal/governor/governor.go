// Package governor shapes outbound calls to the AT Protocol network and
// the external directory so a managed account never exceeds the
// documented per-account budgets. A golang.org/x/time/rate limiter
// supplies the rolling-window cap, a plain timestamp gate enforces the
// minimum inter-request interval on top of it, and a doubling backoff
// retries calls classified as rate-limited.
package governor

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/symmetric-sync/blocksync/internal/atperr"
)

// Config holds one account's rate budget.
type Config struct {
	// MinInterval is the minimum spacing between successive calls.
	MinInterval time.Duration
	// WindowCap is the maximum number of calls allowed in Window.
	WindowCap int
	// Window is the rolling budget period.
	Window time.Duration
	// MaxRetries is how many times a rate-limited call is retried.
	MaxRetries int
	// BaseBackoff is the first retry delay; it doubles on each subsequent retry.
	BaseBackoff time.Duration
}

// DefaultConfig returns the recommended defaults for a single account's governor.
func DefaultConfig() Config {
	return Config{
		MinInterval: time.Second,
		WindowCap:   2000,
		Window:      5 * time.Minute,
		MaxRetries:  3,
		BaseBackoff: 30 * time.Second,
	}
}

// Governor wraps a single account's (or a single endpoint class's)
// outbound calls. It is safe for concurrent use.
type Governor struct {
	cfg     Config
	limiter *rate.Limiter

	mu       sync.Mutex
	lastCall time.Time

	label string
}

// New constructs a Governor. label is used only for log lines, so
// multiple governors (e.g. one per account, or a read governor and a
// write governor) are distinguishable in output.
func New(label string, cfg Config) *Governor {
	// A rate.Limiter with a burst of WindowCap tokens, refilled
	// continuously at WindowCap per Window. There is no fixed window that
	// resets: a full bucket can be spent at once and then keeps refilling,
	// so a single Window-length span can admit up to about twice WindowCap
	// calls (MinInterval still spaces every call).
	limit := rate.Every(cfg.Window / time.Duration(cfg.WindowCap))
	return &Governor{
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, cfg.WindowCap),
		label:   label,
	}
}

// Execute runs fn under the governor: it waits for the window budget and
// the minimum interval, then invokes fn. If fn fails with an error
// classified as RateLimited, Execute retries up to cfg.MaxRetries times
// with exponentially doubling backoff from cfg.BaseBackoff. Any other
// error is returned immediately.
func (g *Governor) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := g.cfg.BaseBackoff
	for attempt := 0; ; attempt++ {
		if err := g.wait(ctx); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		if atperr.Classify(err) != atperr.RateLimited || attempt >= g.cfg.MaxRetries {
			return err
		}

		log.Printf("[governor:%s] rate limited (attempt %d/%d), backing off %s", g.label, attempt+1, g.cfg.MaxRetries, backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
}

func (g *Governor) wait(ctx context.Context) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}

	g.mu.Lock()
	since := time.Since(g.lastCall)
	var sleep time.Duration
	if g.lastCall.IsZero() {
		sleep = 0
	} else if since < g.cfg.MinInterval {
		sleep = g.cfg.MinInterval - since
	}
	g.lastCall = time.Now().Add(sleep)
	g.mu.Unlock()

	if sleep <= 0 {
		return nil
	}
	select {
	case <-time.After(sleep):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
