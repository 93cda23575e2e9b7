// Package manager implements the external collaborators the state tree
// calls out to: channel, private-message and contact managers. Each one
// layers domain rules (kinds, tags, encryption) over the relay pool and
// keeps whatever process-wide cache its domain needs. Caches are cleared
// on logout before key material is discarded.
package manager

import (
	"context"
	"fmt"
	"sync"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"

	"github.com/hearthchat/hearth/internal/entities"
	"github.com/hearthchat/hearth/internal/ops"
)

// EventSource is the slice of the relay pool the managers use.
type EventSource interface {
	List(ctx context.Context, filters nostr.Filters, localOnly bool) ([]*nostr.Event, error)
	Send(ctx context.Context, event *nostr.Event) (*nostr.Event, error)
	Identity() (privkey, pubkey string)
}

// ChannelManager answers channel-scoped queries and tracks the joined set.
type ChannelManager struct {
	source EventSource
	log    *ops.Logger

	mu     sync.Mutex
	joined []string
}

// NewChannelManager creates a channel manager over source.
func NewChannelManager(source EventSource, log *ops.Logger) *ChannelManager {
	return &ChannelManager{
		source: source,
		log:    log.WithComponent("channels"),
	}
}

// List returns the channel's message events matching filter. For private
// channels (privkey non-empty) each message's content is decrypted with
// the channel key; messages that fail to decrypt are dropped.
func (m *ChannelManager) List(ctx context.Context, channelID string, filter nostr.Filter, localOnly bool, privkey string) ([]*nostr.Event, error) {
	filter.Kinds = []int{entities.KindChannelMessage}
	if filter.Tags == nil {
		filter.Tags = make(nostr.TagMap)
	}
	filter.Tags["e"] = []string{channelID}

	events, err := m.source.List(ctx, nostr.Filters{filter}, localOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to list channel %s: %w", channelID, err)
	}

	if privkey == "" {
		return events, nil
	}
	return m.decryptChannelEvents(events, privkey), nil
}

// decryptChannelEvents decrypts private-channel messages with the shared
// channel key, dropping whatever does not decrypt.
func (m *ChannelManager) decryptChannelEvents(events []*nostr.Event, privkey string) []*nostr.Event {
	pubkey, err := nostr.GetPublicKey(privkey)
	if err != nil {
		m.log.Warn("invalid channel key, returning events undecrypted", "error", err)
		return events
	}
	shared, err := nip04.ComputeSharedSecret(pubkey, privkey)
	if err != nil {
		m.log.Warn("failed to derive channel secret", "error", err)
		return events
	}

	out := make([]*nostr.Event, 0, len(events))
	for _, event := range events {
		plain, err := nip04.Decrypt(event.Content, shared)
		if err != nil {
			continue
		}
		decrypted := *event
		decrypted.Content = plain
		out = append(out, &decrypted)
	}
	return out
}

// GetMeta returns the channel's displayable metadata from its latest
// create/metadata event, or nil when the channel is unknown.
func (m *ChannelManager) GetMeta(ctx context.Context, channelID string, privkey string, localOnly bool) (*entities.ChannelMeta, error) {
	filters := nostr.Filters{
		{Kinds: []int{entities.KindChannelCreate}, IDs: []string{channelID}},
		{Kinds: []int{entities.KindChannelMetadata}, Tags: nostr.TagMap{"e": []string{channelID}}},
	}
	events, err := m.source.List(ctx, filters, localOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch channel metadata: %w", err)
	}
	if len(events) == 0 {
		return nil, nil
	}

	latest := events[0]
	for _, event := range events[1:] {
		if event.CreatedAt > latest.CreatedAt {
			latest = event
		}
	}

	content := latest.Content
	if privkey != "" {
		if decrypted := m.decryptChannelEvents([]*nostr.Event{latest}, privkey); len(decrypted) > 0 {
			content = decrypted[0].Content
		}
	}
	return entities.ParseChannelMeta(content), nil
}

// JoinAll replaces the joined set with ids. Safe to call with an
// already-complete set.
func (m *ChannelManager) JoinAll(ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.joined = append([]string(nil), ids...)
}

// Leave drops a single channel id from the joined set.
func (m *ChannelManager) Leave(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, joined := range m.joined {
		if joined == id {
			m.joined = append(m.joined[:i], m.joined[i+1:]...)
			return
		}
	}
}

// ListJoined returns the joined channel ids in join order.
func (m *ChannelManager) ListJoined() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.joined...)
}

// Clear empties the joined set. Called on logout.
func (m *ChannelManager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.joined = nil
}
