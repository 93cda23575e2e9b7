// Package store provides the local event cache backing every manager's
// local-only query path, so channel history survives without a relay
// round-trip.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fiatjaf/eventstore"
	"github.com/fiatjaf/eventstore/sqlite3"
	"github.com/nbd-wtf/go-nostr"
)

// Cache wraps an eventstore backend with the small surface hearth needs.
type Cache struct {
	backend eventstore.Store
}

// NewSQLite opens (creating if needed) the sqlite-backed event cache at path.
func NewSQLite(path string) (*Cache, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
	}

	backend := &sqlite3.SQLite3Backend{DatabaseURL: path}
	if err := backend.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize event cache: %w", err)
	}
	return &Cache{backend: backend}, nil
}

// New wraps an already-initialized backend. Used by tests with an
// in-memory store.
func New(backend eventstore.Store) *Cache {
	return &Cache{backend: backend}
}

// Save stores an event. Saving an event whose id is already present is a
// no-op: event identity implies content identity.
func (c *Cache) Save(ctx context.Context, event *nostr.Event) error {
	if err := c.backend.SaveEvent(ctx, event); err != nil {
		if errors.Is(err, eventstore.ErrDupEvent) {
			return nil
		}
		return fmt.Errorf("failed to store event: %w", err)
	}
	return nil
}

// SaveAll stores a batch of events, skipping duplicates.
func (c *Cache) SaveAll(ctx context.Context, events []*nostr.Event) error {
	for _, event := range events {
		if err := c.Save(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// Query returns all cached events matching filter.
func (c *Cache) Query(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error) {
	ch, err := c.backend.QueryEvents(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}

	var events []*nostr.Event
	for event := range ch {
		events = append(events, event)
	}
	return events, nil
}

// Close releases the underlying backend.
func (c *Cache) Close() {
	c.backend.Close()
}
