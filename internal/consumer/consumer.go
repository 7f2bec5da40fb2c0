// Package consumer implements the per-account commit-stream consumer:
// it subscribes to one account's repository commits, extracts block
// creations, persists them, and checkpoints its position so a restart
// resumes without reprocessing the whole history.
package consumer

import (
	"context"
	"errors"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/symmetric-sync/blocksync/internal/atperr"
	"github.com/symmetric-sync/blocksync/internal/atproto"
	"github.com/symmetric-sync/blocksync/internal/eventbus"
	"github.com/symmetric-sync/blocksync/internal/governor"
	"github.com/symmetric-sync/blocksync/internal/models"
)

// state names the consumer's position in its connection lifecycle.
type state int

const (
	disconnected state = iota
	connecting
	streaming
)

// Store is the slice of repository behavior the consumer depends on.
type Store interface {
	AddBlock(ctx context.Context, did, handle string, sourceAccountID int64, direction models.BlockDirection, reason string) error
	// GetCursor reports the last checkpointed seq and whether a
	// checkpoint row exists at all. ok=false (no row) means "stream from
	// the live edge"; ok=true with seq=0 means "explicitly stream from
	// earliest available" — these are not the same request.
	GetCursor(ctx context.Context, accountID int64) (seq int64, ok bool, err error)
	SetCursor(ctx context.Context, accountID, seq int64) error
}

// RestartBackoff is how long the supervising loop waits before
// reconnecting after the stream drops or a database error propagates.
const RestartBackoff = 60 * time.Second

// Consumer drives one managed account's commit-stream subscription.
type Consumer struct {
	AccountID int64
	DID       string
	IsPrimary bool
	// ListURI, when non-empty, causes create ops to also produce a
	// list-item record for the primary account's canonical list.
	ListURI string

	Client   atproto.NetworkClient
	Governor *governor.Governor
	Store    Store
	Bus      *eventbus.Bus

	state state
}

// Run subscribes and processes commits until ctx is cancelled,
// reconnecting with RestartBackoff between attempts on any stream or
// database error. It returns only when ctx is done.
func (c *Consumer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		c.state = connecting
		if err := c.runOnce(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[consumer:%s] stream error, restarting in %s: %v", c.DID, RestartBackoff, err)
			select {
			case <-time.After(RestartBackoff):
			case <-ctx.Done():
				return
			}
		}
	}
}

func (c *Consumer) runOnce(ctx context.Context) error {
	seq, ok, err := c.Store.GetCursor(ctx, c.AccountID)
	if err != nil {
		return err
	}
	var cursor *int64
	if ok {
		cursor = &seq
	}

	var messages <-chan atproto.FirehoseMessage
	err = c.Governor.Execute(ctx, func(ctx context.Context) error {
		var subErr error
		messages, subErr = c.Client.SubscribeRepos(ctx, cursor)
		return subErr
	})
	if err != nil {
		return err
	}

	c.state = streaming
	for {
		select {
		case <-ctx.Done():
			c.state = disconnected
			return nil
		case msg, ok := <-messages:
			if !ok {
				c.state = disconnected
				return errors.New("firehose channel closed")
			}
			if err := c.handle(ctx, msg); err != nil {
				return err
			}
		}
	}
}

// handle implements the five-step message-handling algorithm.
func (c *Consumer) handle(ctx context.Context, msg atproto.FirehoseMessage) error {
	if msg.Kind != "#commit" {
		return c.checkpoint(ctx, msg.Seq)
	}
	if msg.Repo != c.DID {
		return c.checkpoint(ctx, msg.Seq)
	}

	for _, op := range msg.Ops {
		if op.Action != "create" || !strings.HasPrefix(op.Path, atproto.CollectionBlock+"/") {
			continue
		}
		if err := c.handleBlockCreate(ctx, msg, op); err != nil {
			return err
		}
	}

	return c.checkpoint(ctx, msg.Seq)
}

func (c *Consumer) handleBlockCreate(ctx context.Context, msg atproto.FirehoseMessage, op atproto.RepoOp) error {
	raw, ok := atproto.ResolveBlock(msg.Blocks, op.CID)
	if !ok {
		log.Printf("[consumer:%s] seq %d: block %s missing from bundle, skipping op", c.DID, msg.Seq, op.CID)
		return nil
	}

	subject, _, err := atproto.DecodeBlockRecord(raw)
	if err != nil {
		log.Printf("[consumer:%s] seq %d: %v, skipping op", c.DID, msg.Seq, err)
		return nil
	}

	reason := "firehose seq " + strconv.FormatInt(msg.Seq, 10)
	if err := c.Store.AddBlock(ctx, subject, "", c.AccountID, models.DirectionBlocking, reason); err != nil {
		return err
	}

	if c.Bus != nil {
		c.Bus.Publish(eventbus.Event{Type: "block.added", Account: c.DID, Seq: msg.Seq, Timestamp: time.Now(), Data: subject})
	}

	if c.IsPrimary && c.ListURI != "" {
		if err := c.Governor.Execute(ctx, func(ctx context.Context) error {
			_, _, err := c.Client.CreateRecord(ctx, c.DID, atproto.CollectionListItem, atproto.ListItemRecord{
				Type:      "app.bsky.graph.listitem",
				List:      c.ListURI,
				Subject:   subject,
				CreatedAt: time.Now().UTC(),
			})
			return err
		}); err != nil && atperr.Classify(err) != atperr.Conflict {
			return err
		}
	}

	return nil
}

func (c *Consumer) checkpoint(ctx context.Context, seq int64) error {
	if seq == 0 {
		return nil
	}
	return c.Store.SetCursor(ctx, c.AccountID, seq)
}
