package relay

import (
	"context"
	"io"
	"testing"

	"github.com/fiatjaf/eventstore/slicestore"
	"github.com/nbd-wtf/go-nostr"

	"github.com/hearthchat/hearth/internal/config"
	"github.com/hearthchat/hearth/internal/ops"
	"github.com/hearthchat/hearth/internal/store"
)

func newTestPool(t *testing.T) (*Pool, *store.Cache) {
	t.Helper()

	backend := &slicestore.SliceStore{}
	if err := backend.Init(); err != nil {
		t.Fatalf("failed to init slice store: %v", err)
	}
	cache := store.New(backend)
	t.Cleanup(cache.Close)

	cfg := &config.Relays{Seeds: []string{"ws://unused.example"}}
	log := ops.NewLoggerWithWriter(&config.Logging{Level: "error", Format: "text"}, io.Discard)
	return NewPool(context.Background(), cfg, cache, log), cache
}

func TestPoolIdentityLifecycle(t *testing.T) {
	pool, _ := newTestPool(t)

	if priv, pub := pool.Identity(); priv != "" || pub != "" {
		t.Errorf("fresh pool carries identity (%q, %q)", priv, pub)
	}

	pool.SetIdentity("sk", "pk")
	if priv, pub := pool.Identity(); priv != "sk" || pub != "pk" {
		t.Errorf("Identity = (%q, %q)", priv, pub)
	}

	pool.ClearIdentity()
	if priv, pub := pool.Identity(); priv != "" || pub != "" {
		t.Errorf("identity survives clear: (%q, %q)", priv, pub)
	}
}

func TestPoolListLocalOnly(t *testing.T) {
	pool, cache := newTestPool(t)
	ctx := context.Background()

	seed := []*nostr.Event{
		{ID: "a", Kind: 42, CreatedAt: 100, Tags: nostr.Tags{{"e", "chan1"}}},
		{ID: "b", Kind: 4, CreatedAt: 200},
	}
	if err := cache.SaveAll(ctx, seed); err != nil {
		t.Fatalf("SaveAll failed: %v", err)
	}

	got, err := pool.List(ctx, nostr.Filters{{Kinds: []int{42}}}, true)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "a" {
		t.Errorf("local-only list = %v", got)
	}
}

func TestPoolListLocalOnlyMergesFilters(t *testing.T) {
	pool, cache := newTestPool(t)
	ctx := context.Background()

	seed := []*nostr.Event{
		{ID: "a", Kind: 42, CreatedAt: 100},
		{ID: "b", Kind: 4, CreatedAt: 200},
	}
	if err := cache.SaveAll(ctx, seed); err != nil {
		t.Fatalf("SaveAll failed: %v", err)
	}

	got, err := pool.List(ctx, nostr.Filters{{Kinds: []int{42}}, {Kinds: []int{4}}}, true)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("multi-filter local list = %v", got)
	}
}

func TestPoolSendRequiresIdentityForUnsigned(t *testing.T) {
	pool, _ := newTestPool(t)

	_, err := pool.Send(context.Background(), &nostr.Event{Kind: 1, Content: "hi"})
	if err == nil {
		t.Error("expected error signing without identity")
	}
}

func TestPoolUnsubUnknownHandle(t *testing.T) {
	pool, _ := newTestPool(t)

	// Unknown handles are ignored rather than panicking.
	pool.Unsub("999")
	pool.UnsubAll()
}

func TestPoolSeeds(t *testing.T) {
	pool, _ := newTestPool(t)
	if seeds := pool.Seeds(); len(seeds) != 1 || seeds[0] != "ws://unused.example" {
		t.Errorf("Seeds = %v", seeds)
	}
}
