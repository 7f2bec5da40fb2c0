// Package orchestrator owns the process's top-level lifecycle: turning
// a list of configured accounts into running Commit Consumer and
// Reconciler tasks, serializing initial logins to respect the login
// rate limit, and bringing everything down within bounded timeouts on
// shutdown.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/symmetric-sync/blocksync/internal/atperr"
	"github.com/symmetric-sync/blocksync/internal/atproto"
	"github.com/symmetric-sync/blocksync/internal/consumer"
	"github.com/symmetric-sync/blocksync/internal/directory"
	"github.com/symmetric-sync/blocksync/internal/eventbus"
	"github.com/symmetric-sync/blocksync/internal/governor"
	"github.com/symmetric-sync/blocksync/internal/modlist"
	"github.com/symmetric-sync/blocksync/internal/models"
	"github.com/symmetric-sync/blocksync/internal/publisher"
	"github.com/symmetric-sync/blocksync/internal/reconciler"
	"github.com/symmetric-sync/blocksync/internal/session"
)

// LoginSpacing is the minimum delay between successive accounts'
// initial logins, matching the documented ~10 logins/account/day
// budget.
const LoginSpacing = 30 * time.Second

const (
	consumerJoinTimeout   = 10 * time.Second
	reconcilerJoinTimeout = 5 * time.Second
)

// AccountSpec is one configured account, as read from the roster.
type AccountSpec struct {
	Handle   string
	Password string
	Primary  bool
}

// Store is the slice of repository behavior the orchestrator itself
// needs, beyond what it hands down to the consumer/reconciler/publisher
// packages.
type Store interface {
	Migrate(ctx context.Context) error
	UpsertAccount(ctx context.Context, handle, did string, isPrimary bool) (models.Account, error)

	consumer.Store
	reconciler.Store
	publisher.DesiredSetSource
	modlist.Store
}

// Config assembles everything the orchestrator needs to run, independent
// of where it came from (env, YAML roster, flags).
type Config struct {
	Accounts []AccountSpec

	PDSHost string

	Store     Store
	Sessions  session.Store
	Directory *directory.Directory
	Bus       *eventbus.Bus

	GovernorConfig governor.Config

	FastIntervalPrimary   time.Duration
	FastIntervalSecondary time.Duration
	FullInterval          time.Duration

	ModList modlist.Config
}

type agent struct {
	spec      AccountSpec
	accountID int64
	did       string
	client    atproto.NetworkClient
	governor  *governor.Governor
}

// Orchestrator drives one process's full set of managed accounts.
type Orchestrator struct {
	cfg Config
}

// New builds an Orchestrator from cfg.
func New(cfg Config) *Orchestrator {
	return &Orchestrator{cfg: cfg}
}

// Run ensures the schema exists, logs in every configured account
// (skipping ones that come back rate-limited), launches each agent's
// Commit Consumer and Reconciler, and blocks until ctx is cancelled, at
// which point it waits (with bounded timeouts) for every task to exit.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.cfg.Store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}

	agents := o.loginAll(ctx)
	if len(agents) == 0 {
		return fmt.Errorf("no account logged in successfully, nothing to run")
	}

	var primary *agent
	for _, a := range agents {
		if a.spec.Primary {
			primary = a
			break
		}
	}

	var listURI string
	if primary != nil {
		ml, err := modlist.Ensure(ctx, o.cfg.Store, primary.client, primary.did, o.cfg.ModList)
		if err != nil {
			log.Printf("[orchestrator] ensure moderation list: %v", err)
		} else {
			listURI = ml.URI
		}
	}

	var consumerWG, reconcilerWG sync.WaitGroup
	for _, a := range agents {
		a := a
		isPrimary := a.spec.Primary

		c := &consumer.Consumer{
			AccountID: a.accountID,
			DID:       a.did,
			IsPrimary: isPrimary,
			ListURI:   listURI,
			Client:    a.client,
			Governor:  a.governor,
			Store:     o.cfg.Store,
			Bus:       o.cfg.Bus,
		}

		r := &reconciler.Reconciler{
			AccountID:    a.accountID,
			DID:          a.did,
			Handle:       a.spec.Handle,
			IsPrimary:    isPrimary,
			ListURI:      listURI,
			Client:       a.client,
			Directory:    o.cfg.Directory,
			Governor:     a.governor,
			Store:        o.cfg.Store,
			Bus:          o.cfg.Bus,
			FastInterval: o.fastInterval(isPrimary),
			FullInterval: o.cfg.FullInterval,
		}

		if isPrimary && listURI != "" {
			pub := &publisher.Publisher{
				OwnerDID: a.did,
				ListURI:  listURI,
				Client:   a.client,
				Governor: a.governor,
				Store:    o.cfg.Store,
			}
			r.Publish = func(ctx context.Context) error {
				out, err := pub.Publish(ctx)
				if err != nil {
					return err
				}
				if len(out.Added)+len(out.Removed)+len(out.Errored) > 0 {
					log.Printf("[orchestrator] publish: +%d -%d skipped=%d errored=%d", len(out.Added), len(out.Removed), len(out.Skipped), len(out.Errored))
				}
				return nil
			}
		}

		consumerWG.Add(1)
		go func() {
			defer consumerWG.Done()
			c.Run(ctx)
		}()

		reconcilerWG.Add(1)
		go func() {
			defer reconcilerWG.Done()
			r.Run(ctx)
		}()
	}

	<-ctx.Done()
	log.Printf("[orchestrator] shutdown signal received, waiting for tasks to exit")

	waitBounded("commit consumers", &consumerWG, consumerJoinTimeout)
	waitBounded("reconcilers", &reconcilerWG, reconcilerJoinTimeout)
	return nil
}

// loginAll resolves sessions for every configured account, spacing
// initial logins LoginSpacing apart, and skips (with a warning) any
// account whose login comes back rate-limited.
func (o *Orchestrator) loginAll(ctx context.Context) []*agent {
	var agents []*agent
	for i, spec := range o.cfg.Accounts {
		if i > 0 {
			select {
			case <-time.After(LoginSpacing):
			case <-ctx.Done():
				return agents
			}
		}

		a, err := o.login(ctx, spec)
		if err != nil {
			if atperr.Classify(err) == atperr.RateLimited {
				log.Printf("[orchestrator] skipping %s: login rate limited: %v", spec.Handle, err)
				continue
			}
			log.Printf("[orchestrator] skipping %s: %v", spec.Handle, err)
			continue
		}
		agents = append(agents, a)
	}
	return agents
}

func (o *Orchestrator) login(ctx context.Context, spec AccountSpec) (*agent, error) {
	acct, err := o.cfg.Store.UpsertAccount(ctx, spec.Handle, placeholderDID(spec.Handle), spec.Primary)
	if err != nil {
		return nil, fmt.Errorf("upsert account row: %w", err)
	}

	baseClient := atproto.New(o.cfg.PDSHost)
	gov := governor.New(spec.Handle, o.cfg.GovernorConfig)

	tokens, err := session.Resolve(ctx, o.cfg.Sessions, baseClient, acct.ID, spec.Handle, spec.Password, session.DefaultThresholds())
	if err != nil {
		return nil, err
	}

	if acct.DID != tokens.DID {
		acct, err = o.cfg.Store.UpsertAccount(ctx, spec.Handle, tokens.DID, spec.Primary)
		if err != nil {
			return nil, fmt.Errorf("record resolved did: %w", err)
		}
	}

	return &agent{
		spec:      spec,
		accountID: acct.ID,
		did:       tokens.DID,
		client:    baseClient.WithAuth(tokens.DID, tokens.AccessJWT, tokens.RefreshJWT),
		governor:  gov,
	}, nil
}

func (o *Orchestrator) fastInterval(isPrimary bool) time.Duration {
	if isPrimary {
		return o.cfg.FastIntervalPrimary
	}
	return o.cfg.FastIntervalSecondary
}

// waitBounded waits for wg to finish, giving up and logging after
// timeout rather than blocking shutdown indefinitely on a straggler.
func waitBounded(label string, wg *sync.WaitGroup, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Printf("[orchestrator] %s exited cleanly", label)
	case <-time.After(timeout):
		log.Printf("[orchestrator] %s did not exit within %s, continuing shutdown", label, timeout)
	}
}

// placeholderDID stands in for an account's DID until its first login
// resolves the real one. It must be unique per handle (not a shared
// sentinel), since two accounts would otherwise collide on did's unique
// constraint before either has a real one.
func placeholderDID(handle string) string {
	return "did:placeholder:" + strings.ReplaceAll(handle, ".", "-")
}
