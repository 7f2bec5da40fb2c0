// Package reconciler periodically brings the store back into agreement
// with two authoritative sources: the network's own block enumeration
// for an account, and the external directory's "who blocks me" pages.
package reconciler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/symmetric-sync/blocksync/internal/atperr"
	"github.com/symmetric-sync/blocksync/internal/atproto"
	"github.com/symmetric-sync/blocksync/internal/directory"
	"github.com/symmetric-sync/blocksync/internal/eventbus"
	"github.com/symmetric-sync/blocksync/internal/governor"
	"github.com/symmetric-sync/blocksync/internal/models"
)

const pageLimit = 100

// Store is the slice of repository behavior the reconciler depends on.
type Store interface {
	AddBlock(ctx context.Context, did, handle string, sourceAccountID int64, direction models.BlockDirection, reason string) error
	RemoveStaleBlocks(ctx context.Context, sourceAccountID int64, direction models.BlockDirection, currentDIDs []string) (int64, error)
	GetUnsyncedForPrimary(ctx context.Context, primaryAccountID int64) ([]models.UnsyncedBlock, error)
	MarkSyncedByPrimary(ctx context.Context, rowID int64) error
}

// Reconciler runs the fast pass, directory pass, and (for the primary)
// the secondary block propagation step for one account.
type Reconciler struct {
	AccountID int64
	DID       string
	Handle    string
	IsPrimary bool
	ListURI   string

	Client    atproto.NetworkClient
	Directory *directory.Directory
	Governor  *governor.Governor
	Store     Store
	Bus       *eventbus.Bus

	// FastInterval and FullInterval default to 15m/24h for the primary
	// and 60m/24h for secondaries; set by the orchestrator at
	// construction time.
	FastInterval time.Duration
	FullInterval time.Duration

	// Publish, when set, runs after the fast pass and secondary
	// propagation on every fast-pass tick. Only the primary's
	// reconciler carries one; it drives internal/publisher's list
	// membership sync on the same schedule rather than its own ticker.
	Publish func(ctx context.Context) error
}

// Run fires the fast pass every FastInterval and additionally the
// directory pass every FullInterval, until ctx is done.
func (r *Reconciler) Run(ctx context.Context) {
	fastTicker := time.NewTicker(r.FastInterval)
	defer fastTicker.Stop()

	lastFull := time.Time{}

	for {
		select {
		case <-ctx.Done():
			return
		case <-fastTicker.C:
			fastErr := r.FastPass(ctx)
			if fastErr != nil {
				log.Printf("[reconciler:%s] fast pass: %v", r.DID, fastErr)
			}
			if r.IsPrimary {
				if err := r.PropagateSecondaryBlocks(ctx); err != nil {
					log.Printf("[reconciler:%s] secondary propagation: %v", r.DID, err)
				}
			}
			if r.Publish != nil {
				if err := r.Publish(ctx); err != nil {
					log.Printf("[reconciler:%s] publish: %v", r.DID, err)
				}
			}
			if fastErr == nil {
				r.emit("reconcile.completed", "fast")
			}
			if time.Since(lastFull) >= r.FullInterval {
				if err := r.DirectoryPass(ctx); err != nil {
					log.Printf("[reconciler:%s] directory pass: %v", r.DID, err)
				} else {
					r.emit("reconcile.completed", "directory")
				}
				lastFull = time.Now()
			}
		}
	}
}

// FastPass pages through the network's own block enumeration and
// reconciles the store against it.
func (r *Reconciler) FastPass(ctx context.Context) error {
	var accumulated []string
	cursor := ""
	for {
		var page []atproto.BlockedView
		var next string
		err := retryTransient(ctx, 3, func() error {
			var gErr error
			gErr = r.Governor.Execute(ctx, func(ctx context.Context) error {
				var callErr error
				page, next, callErr = r.Client.GetBlocks(ctx, pageLimit, cursor)
				return callErr
			})
			return gErr
		})
		if err != nil {
			return fmt.Errorf("fast pass get_blocks: %w", err)
		}

		for _, b := range page {
			if err := r.Store.AddBlock(ctx, b.DID, b.Handle, r.AccountID, models.DirectionBlocking, "api enumeration"); err != nil {
				return fmt.Errorf("fast pass add_block %s: %w", b.DID, err)
			}
			accumulated = append(accumulated, b.DID)
		}

		if next == "" {
			break
		}
		cursor = next
	}

	removed, err := r.Store.RemoveStaleBlocks(ctx, r.AccountID, models.DirectionBlocking, accumulated)
	if err != nil {
		return fmt.Errorf("fast pass remove_stale_blocks: %w", err)
	}
	if removed > 0 {
		log.Printf("[reconciler:%s] fast pass pruned %d stale blocking rows", r.DID, removed)
	}
	return nil
}

// DirectoryPass pages through the external directory's blocked-by
// listing for this account and reconciles the store against it.
func (r *Reconciler) DirectoryPass(ctx context.Context) error {
	subject := r.Handle
	if subject == "" {
		subject = r.DID
	}

	var total int
	err := r.Governor.Execute(ctx, func(ctx context.Context) error {
		var cErr error
		total, cErr = r.Directory.TotalBlockedByCount(ctx, subject)
		return cErr
	})
	if err != nil {
		return fmt.Errorf("directory pass total count: %w", err)
	}
	expectedPages := directory.ExpectedPageCount(total)

	var accumulated []string
	page := 1
	backoff := time.Second
	for {
		var records []directory.BlockerRecord
		err := r.Governor.Execute(ctx, func(ctx context.Context) error {
			var pErr error
			records, pErr = r.Directory.FetchBlockedByPage(ctx, subject, page)
			return pErr
		})
		if err != nil {
			if atperr.Classify(err) == atperr.RateLimited {
				log.Printf("[reconciler:%s] directory page %d rate limited, backing off %s", r.DID, page, backoff)
				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					return ctx.Err()
				}
				backoff *= 2
				continue
			}
			return fmt.Errorf("directory pass page %d: %w", page, err)
		}
		backoff = time.Second

		if len(records) == 0 {
			break
		}
		for _, rec := range records {
			if err := r.Store.AddBlock(ctx, rec.DID, "", r.AccountID, models.DirectionBlockedBy, "clearsky enumeration"); err != nil {
				return fmt.Errorf("directory pass add_block %s: %w", rec.DID, err)
			}
			accumulated = append(accumulated, rec.DID)
		}
		if len(records) < pageLimit {
			break
		}
		page++
	}

	if expectedPages > 0 && len(accumulated) != total {
		log.Printf("[reconciler:%s] directory count mismatch: reported %d, fetched %d", r.DID, total, len(accumulated))
	}

	removed, err := r.Store.RemoveStaleBlocks(ctx, r.AccountID, models.DirectionBlockedBy, accumulated)
	if err != nil {
		return fmt.Errorf("directory pass remove_stale_blocks: %w", err)
	}
	if removed > 0 {
		log.Printf("[reconciler:%s] directory pass pruned %d stale blocked_by rows", r.DID, removed)
	}
	return nil
}

// PropagateSecondaryBlocks mirrors every secondary account's
// not-yet-synced block onto the primary, both as a store row and (when
// missing) a block record and list-item on the network.
func (r *Reconciler) PropagateSecondaryBlocks(ctx context.Context) error {
	rows, err := r.Store.GetUnsyncedForPrimary(ctx, r.AccountID)
	if err != nil {
		return fmt.Errorf("get_unsynced_for_primary: %w", err)
	}

	for _, row := range rows {
		if !row.AlreadyBlockedByPrimary {
			err := r.Governor.Execute(ctx, func(ctx context.Context) error {
				_, _, err := r.Client.CreateRecord(ctx, r.DID, atproto.CollectionBlock, atproto.BlockRecordInput{
					Type:      "app.bsky.graph.block",
					Subject:   row.DID,
					CreatedAt: time.Now().UTC(),
				})
				return err
			})
			if err != nil && atperr.Classify(err) != atperr.Conflict {
				log.Printf("[reconciler:%s] propagate block %s: %v", r.DID, row.DID, err)
				continue
			}
			if err := r.Store.AddBlock(ctx, row.DID, row.Handle, r.AccountID, models.DirectionBlocking, "secondary propagation"); err != nil {
				log.Printf("[reconciler:%s] record propagated block %s: %v", r.DID, row.DID, err)
				continue
			}
		}

		if r.ListURI != "" {
			err := r.Governor.Execute(ctx, func(ctx context.Context) error {
				_, _, err := r.Client.CreateRecord(ctx, r.DID, atproto.CollectionListItem, atproto.ListItemRecord{
					Type:      "app.bsky.graph.listitem",
					List:      r.ListURI,
					Subject:   row.DID,
					CreatedAt: time.Now().UTC(),
				})
				return err
			})
			if err != nil && atperr.Classify(err) != atperr.Conflict {
				log.Printf("[reconciler:%s] propagate list item %s: %v", r.DID, row.DID, err)
				continue
			}
		}

		if err := r.Store.MarkSyncedByPrimary(ctx, row.ID); err != nil {
			log.Printf("[reconciler:%s] mark synced %s: %v", r.DID, row.DID, err)
		}
	}
	return nil
}

// emit publishes a reconcile.completed event carrying which pass ran, so
// internal/diagnostics can report recent reconciliation activity without
// polling the store on every health check.
func (r *Reconciler) emit(eventType, pass string) {
	if r.Bus == nil {
		return
	}
	r.Bus.Publish(eventbus.Event{Type: eventType, Account: r.DID, Timestamp: time.Now(), Data: pass})
}

func retryTransient(ctx context.Context, maxRetries int, fn func() error) error {
	backoff := time.Second
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if atperr.Classify(err) != atperr.Transient || attempt == maxRetries {
			return err
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
	return err
}
