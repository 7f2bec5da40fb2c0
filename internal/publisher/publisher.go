// Package publisher projects the store's desired DID set onto the
// canonical moderation list, adding and removing list-item records so
// the list converges on the store's view without ever needing its own
// checkpoint — the operation is idempotent against the list's live
// membership.
package publisher

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/symmetric-sync/blocksync/internal/atperr"
	"github.com/symmetric-sync/blocksync/internal/atproto"
	"github.com/symmetric-sync/blocksync/internal/governor"
)

const (
	pageLimit     = 100
	pageSleep     = 100 * time.Millisecond
	addBatchSize  = 50
	addBatchSleep = 10 * time.Second
)

// DesiredSetSource is the store query the publisher diffs the live list
// against.
type DesiredSetSource interface {
	GetDesiredListDIDs(ctx context.Context) ([]string, error)
}

// Outcome tallies one publish run's per-DID results.
type Outcome struct {
	Added   []string
	Skipped []string
	Removed []string
	Errored []string
}

// Publisher owns one account's (the primary's) canonical moderation
// list.
type Publisher struct {
	OwnerDID string
	ListURI  string

	Client   atproto.NetworkClient
	Governor *governor.Governor
	Store    DesiredSetSource
}

// Publish runs one full add/remove reconciliation pass against the
// list.
func (p *Publisher) Publish(ctx context.Context) (Outcome, error) {
	desired, err := p.Store.GetDesiredListDIDs(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("get_desired_list_dids: %w", err)
	}
	desiredSet := toSet(desired)

	live, itemURIs, err := p.listMembership(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("list membership: %w", err)
	}

	var toAdd, toRemove []string
	for did := range desiredSet {
		if !live[did] {
			toAdd = append(toAdd, did)
		}
	}
	for did := range live {
		if !desiredSet[did] {
			toRemove = append(toRemove, did)
		}
	}

	var out Outcome
	p.addPhase(ctx, toAdd, &out)
	p.removePhase(ctx, toRemove, itemURIs, &out)

	return out, nil
}

func (p *Publisher) listMembership(ctx context.Context) (map[string]bool, map[string]string, error) {
	live := map[string]bool{}
	itemURIs := map[string]string{}
	cursor := ""
	for {
		var items []atproto.ListItemView
		var next string
		err := p.Governor.Execute(ctx, func(ctx context.Context) error {
			var callErr error
			items, next, callErr = p.Client.GetList(ctx, p.ListURI, pageLimit, cursor)
			return callErr
		})
		if err != nil {
			return nil, nil, err
		}
		for _, it := range items {
			live[it.SubjectDID] = true
			itemURIs[it.SubjectDID] = it.ItemURI
		}
		if next == "" {
			break
		}
		cursor = next
		select {
		case <-time.After(pageSleep):
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
	return live, itemURIs, nil
}

func (p *Publisher) addPhase(ctx context.Context, toAdd []string, out *Outcome) {
	for i := 0; i < len(toAdd); i += addBatchSize {
		end := i + addBatchSize
		if end > len(toAdd) {
			end = len(toAdd)
		}
		batch := toAdd[i:end]

		for _, did := range batch {
			err := p.Governor.Execute(ctx, func(ctx context.Context) error {
				_, _, err := p.Client.CreateRecord(ctx, p.OwnerDID, atproto.CollectionListItem, atproto.ListItemRecord{
					Type:      "app.bsky.graph.listitem",
					List:      p.ListURI,
					Subject:   did,
					CreatedAt: time.Now().UTC(),
				})
				return err
			})
			switch {
			case err == nil:
				out.Added = append(out.Added, did)
			case atperr.Classify(err) == atperr.Conflict:
				out.Skipped = append(out.Skipped, did)
			default:
				log.Printf("[publisher] add %s: %v", did, err)
				out.Errored = append(out.Errored, did)
			}
		}

		if end < len(toAdd) {
			select {
			case <-time.After(addBatchSleep):
			case <-ctx.Done():
				return
			}
		}
	}
}

func (p *Publisher) removePhase(ctx context.Context, toRemove []string, itemURIs map[string]string, out *Outcome) {
	for _, did := range toRemove {
		uri, ok := itemURIs[did]
		if !ok {
			continue
		}
		rkey := rkeyFromURI(uri)
		if rkey == "" {
			continue
		}
		err := p.Governor.Execute(ctx, func(ctx context.Context) error {
			return p.Client.DeleteRecord(ctx, p.OwnerDID, atproto.CollectionListItem, rkey)
		})
		if err != nil {
			log.Printf("[publisher] remove %s: %v", did, err)
			out.Errored = append(out.Errored, did)
			continue
		}
		out.Removed = append(out.Removed, did)
	}
}

func rkeyFromURI(uri string) string {
	idx := strings.LastIndex(uri, "/")
	if idx < 0 {
		return ""
	}
	return uri[idx+1:]
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[it] = true
	}
	return set
}
