// Package relay wraps go-nostr's SimplePool behind the narrow pool
// interface the reconciliation core consumes: historical list, publish,
// and live subscriptions with explicit teardown.
package relay

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/hearthchat/hearth/internal/config"
	"github.com/hearthchat/hearth/internal/ops"
	"github.com/hearthchat/hearth/internal/store"
)

// Pool provides a high-level interface for interacting with relays.
// Remote reads are written through to the local event cache so that
// local-only queries can be served offline.
type Pool struct {
	pool   *nostr.SimplePool
	cache  *store.Cache
	config *config.Relays
	log    *ops.Logger

	subs   *xsync.MapOf[string, context.CancelFunc]
	nextID atomic.Int64

	mu      sync.RWMutex
	privkey string
	pubkey  string
}

// NewPool creates a pool connected to the configured seed relays.
func NewPool(ctx context.Context, cfg *config.Relays, cache *store.Cache, log *ops.Logger) *Pool {
	return &Pool{
		pool:   nostr.NewSimplePool(ctx),
		cache:  cache,
		config: cfg,
		log:    log.WithComponent("relay"),
		subs:   xsync.NewMapOf[string, context.CancelFunc](),
	}
}

// SetIdentity installs the signing identity used by Send.
func (p *Pool) SetIdentity(privkey, pubkey string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.privkey = privkey
	p.pubkey = pubkey
}

// ClearIdentity removes the signing identity. Called on logout before the
// vault entry is discarded.
func (p *Pool) ClearIdentity() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.privkey = ""
	p.pubkey = ""
}

// Identity returns the current signing identity, empty when logged out.
func (p *Pool) Identity() (privkey, pubkey string) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.privkey, p.pubkey
}

// Seeds returns the configured seed relays.
func (p *Pool) Seeds() []string {
	return p.config.Seeds
}

func (p *Pool) queryTimeout() time.Duration {
	if p.config.Policy.QueryTimeoutMs == 0 {
		return 30 * time.Second
	}
	return time.Duration(p.config.Policy.QueryTimeoutMs) * time.Millisecond
}

// List fetches events matching filters. With localOnly it consults only
// the event cache; otherwise it queries the seed relays until EOSE and
// writes the results through to the cache.
func (p *Pool) List(ctx context.Context, filters nostr.Filters, localOnly bool) ([]*nostr.Event, error) {
	if localOnly {
		var events []*nostr.Event
		for _, filter := range filters {
			batch, err := p.cache.Query(ctx, filter)
			if err != nil {
				return nil, err
			}
			events = append(events, batch...)
		}
		return events, nil
	}

	queryCtx, cancel := context.WithTimeout(ctx, p.queryTimeout())
	defer cancel()

	start := time.Now()
	events := make([]*nostr.Event, 0)
	for relayEvent := range p.pool.SubManyEose(queryCtx, p.config.Seeds, filters) {
		if relayEvent.Event != nil {
			events = append(events, relayEvent.Event)
		}
	}
	p.log.LogRelayQuery("list", len(events), time.Since(start), nil)

	if err := p.cache.SaveAll(ctx, events); err != nil {
		p.log.Warn("failed to cache fetched events", "error", err)
	}
	return events, nil
}

// Send signs event with the session identity if it carries no signature,
// publishes it to the seed relays, and returns the published event. It
// fails only when no relay accepted the event.
func (p *Pool) Send(ctx context.Context, event *nostr.Event) (*nostr.Event, error) {
	privkey, pubkey := p.Identity()

	if event.Sig == "" {
		if privkey == "" {
			return nil, fmt.Errorf("cannot sign event: no identity installed")
		}
		if event.CreatedAt == 0 {
			event.CreatedAt = nostr.Now()
		}
		event.PubKey = pubkey
		if err := event.Sign(privkey); err != nil {
			return nil, fmt.Errorf("failed to sign event: %w", err)
		}
	}

	var lastErr error
	successCount := 0
	for result := range p.pool.PublishMany(ctx, p.config.Seeds, *event) {
		if result.Error != nil {
			lastErr = result.Error
		} else {
			successCount++
		}
	}
	if successCount == 0 && lastErr != nil {
		return nil, fmt.Errorf("failed to publish to any relay: %w", lastErr)
	}

	if err := p.cache.Save(ctx, event); err != nil {
		p.log.Warn("failed to cache published event", "error", err)
	}
	return event, nil
}

// Sub opens a live subscription and invokes cb for every incoming event.
// The returned handle cancels exactly this subscription when passed to
// Unsub. Incoming events are written through to the cache before cb runs.
func (p *Pool) Sub(ctx context.Context, filters nostr.Filters, cb func(*nostr.Event)) string {
	id := strconv.FormatInt(p.nextID.Add(1), 10)

	subCtx, cancel := context.WithCancel(ctx)
	p.subs.Store(id, cancel)

	go func() {
		defer p.subs.Delete(id)
		for relayEvent := range p.pool.SubMany(subCtx, p.config.Seeds, filters) {
			if relayEvent.Event == nil {
				continue
			}
			if err := p.cache.Save(subCtx, relayEvent.Event); err != nil {
				p.log.Warn("failed to cache subscribed event", "error", err)
			}
			cb(relayEvent.Event)
		}
	}()

	return id
}

// Unsub tears down the subscription identified by handle. Unknown handles
// are a no-op.
func (p *Pool) Unsub(handle string) {
	if cancel, ok := p.subs.LoadAndDelete(handle); ok {
		cancel()
	}
}

// UnsubAll tears down every live subscription.
func (p *Pool) UnsubAll() {
	p.subs.Range(func(id string, cancel context.CancelFunc) bool {
		cancel()
		p.subs.Delete(id)
		return true
	})
}

// Close tears down subscriptions and all relay connections.
func (p *Pool) Close() {
	p.UnsubAll()
	p.pool.Close("pool shutting down")
}
