// Package modlist reconciles the canonical moderation list's identity
// at primary-agent startup: adopt what's already registered, discover
// an existing list on the network, dedup to one canonical list, or
// create one from scratch. This runs once at startup, separate from
// internal/publisher's ongoing membership sync.
package modlist

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/symmetric-sync/blocksync/internal/atproto"
	"github.com/symmetric-sync/blocksync/internal/models"
)

// Store is the slice of repository behavior this package depends on.
type Store interface {
	GetModList(ctx context.Context) (models.ModList, error)
	UpsertModList(ctx context.Context, uri, cid, ownerDID, name string) (models.ModList, error)
}

// Config is the operator-configured identity for the canonical list.
type Config struct {
	Name        string
	Description string
}

// Ensure runs the five-step lifecycle and returns the canonical list's
// identity, persisting it to the store along the way.
func Ensure(ctx context.Context, store Store, client atproto.NetworkClient, primaryDID string, cfg Config) (models.ModList, error) {
	existing, getErr := store.GetModList(ctx)
	if getErr != nil && getErr != pgx.ErrNoRows {
		return models.ModList{}, fmt.Errorf("read registered mod list: %w", getErr)
	}

	lists, err := client.GetLists(ctx, primaryDID)
	if err != nil {
		return models.ModList{}, fmt.Errorf("get_lists: %w", err)
	}

	if getErr == nil { // a row was found
		for _, l := range lists {
			if l.URI == existing.URI {
				return store.UpsertModList(ctx, l.URI, l.CID, primaryDID, cfg.Name)
			}
		}
		log.Printf("[modlist] registered list %s no longer resolves on the network, re-discovering", existing.URI)
	}

	var modLists []atproto.ListView
	for _, l := range lists {
		if l.Purpose == atproto.ModListPurpose {
			modLists = append(modLists, l)
		}
	}

	switch len(modLists) {
	case 0:
		return create(ctx, store, client, primaryDID, cfg)
	case 1:
		return store.UpsertModList(ctx, modLists[0].URI, modLists[0].CID, primaryDID, cfg.Name)
	default:
		return dedup(ctx, store, client, primaryDID, cfg, modLists)
	}
}

func create(ctx context.Context, store Store, client atproto.NetworkClient, primaryDID string, cfg Config) (models.ModList, error) {
	uri, cid, err := client.CreateRecord(ctx, primaryDID, atproto.CollectionList, atproto.ListRecordInput{
		Type:        "app.bsky.graph.list",
		Purpose:     atproto.ModListPurpose,
		Name:        cfg.Name,
		Description: cfg.Description,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return models.ModList{}, fmt.Errorf("create mod list: %w", err)
	}
	return store.UpsertModList(ctx, uri, cid, primaryDID, cfg.Name)
}

// dedup selects the oldest list (by IndexedAt) as canonical and deletes
// the rest, so a primary account that accumulated duplicate moderation
// lists (e.g. from a prior crash between create and register) converges
// on exactly one.
func dedup(ctx context.Context, store Store, client atproto.NetworkClient, primaryDID string, cfg Config, modLists []atproto.ListView) (models.ModList, error) {
	sort.Slice(modLists, func(i, j int) bool {
		return modLists[i].IndexedAt.Before(modLists[j].IndexedAt)
	})
	canonical := modLists[0]

	for _, dup := range modLists[1:] {
		rkey := rkeyFromURI(dup.URI)
		if rkey == "" {
			continue
		}
		if err := client.DeleteRecord(ctx, primaryDID, atproto.CollectionList, rkey); err != nil {
			log.Printf("[modlist] delete duplicate list %s: %v", dup.URI, err)
		}
	}

	return store.UpsertModList(ctx, canonical.URI, canonical.CID, primaryDID, cfg.Name)
}

func rkeyFromURI(uri string) string {
	idx := strings.LastIndex(uri, "/")
	if idx < 0 {
		return ""
	}
	return uri[idx+1:]
}
