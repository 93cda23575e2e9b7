package manager

import (
	"context"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"

	"github.com/hearthchat/hearth/internal/entities"
	"github.com/hearthchat/hearth/internal/ops"
)

// PrivateMessageManager fetches and decrypts encrypted direct messages.
type PrivateMessageManager struct {
	source EventSource
	log    *ops.Logger
}

// NewPrivateMessageManager creates a private-message manager over source.
func NewPrivateMessageManager(source EventSource, log *ops.Logger) *PrivateMessageManager {
	return &PrivateMessageManager{
		source: source,
		log:    log.WithComponent("privmsg"),
	}
}

// List fetches direct messages addressed to or sent by the session user
// and decrypts each against the candidate peer keys. Events that decrypt
// against no candidate are dropped: they may belong to a conversation
// this identity cannot access, which is not an error.
func (m *PrivateMessageManager) List(ctx context.Context, opts entities.ListOptions, localOnly bool, peerKeys []string) ([]*nostr.Event, error) {
	_, pubkey := m.source.Identity()
	if pubkey == "" {
		return nil, fmt.Errorf("cannot list private messages: not logged in")
	}

	inbound := nostr.Filter{
		Kinds: []int{entities.KindEncryptedDM},
		Tags:  nostr.TagMap{"p": []string{pubkey}},
		Limit: opts.Limit,
	}
	outbound := nostr.Filter{
		Kinds:   []int{entities.KindEncryptedDM},
		Authors: []string{pubkey},
		Limit:   opts.Limit,
	}
	if opts.Since > 0 {
		since := nostr.Timestamp(opts.Since)
		inbound.Since = &since
		outbound.Since = &since
	}

	events, err := m.source.List(ctx, nostr.Filters{inbound, outbound}, localOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to list private messages: %w", err)
	}

	out := make([]*nostr.Event, 0, len(events))
	for _, event := range events {
		decrypted, err := m.Decrypt(ctx, event, m.candidates(event, pubkey, peerKeys))
		if err != nil {
			continue
		}
		out = append(out, decrypted)
	}
	return out, nil
}

// candidates assembles the peer keys an event could decrypt against: the
// caller-supplied set plus the event's own signer and tagged recipient.
func (m *PrivateMessageManager) candidates(event *nostr.Event, own string, peerKeys []string) []string {
	keys := append([]string(nil), peerKeys...)
	if event.PubKey != "" && event.PubKey != own {
		keys = append(keys, event.PubKey)
	}
	if peer := entities.PeerTag(event); peer != "" && peer != own {
		keys = append(keys, peer)
	}
	return keys
}

// Decrypt returns a copy of event with its content decrypted against the
// first candidate key that works. The stored event is never mutated.
func (m *PrivateMessageManager) Decrypt(ctx context.Context, event *nostr.Event, candidateKeys []string) (*nostr.Event, error) {
	privkey, _ := m.source.Identity()
	if privkey == "" {
		return nil, fmt.Errorf("cannot decrypt: not logged in")
	}

	for _, peer := range candidateKeys {
		shared, err := nip04.ComputeSharedSecret(peer, privkey)
		if err != nil {
			continue
		}
		plain, err := nip04.Decrypt(event.Content, shared)
		if err != nil {
			continue
		}
		decrypted := *event
		decrypted.Content = plain
		return &decrypted, nil
	}
	return nil, fmt.Errorf("event %s decrypts against no candidate key", event.ID)
}

// Send encrypts content for peer and publishes it as a direct message.
func (m *PrivateMessageManager) Send(ctx context.Context, peer string, content string) (*nostr.Event, error) {
	privkey, _ := m.source.Identity()
	if privkey == "" {
		return nil, fmt.Errorf("cannot send private message: not logged in")
	}

	shared, err := nip04.ComputeSharedSecret(peer, privkey)
	if err != nil {
		return nil, fmt.Errorf("failed to derive shared secret: %w", err)
	}
	ciphertext, err := nip04.Encrypt(content, shared)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt message: %w", err)
	}

	event := &nostr.Event{
		Kind:      entities.KindEncryptedDM,
		CreatedAt: nostr.Now(),
		Tags:      nostr.Tags{{"p", peer}},
		Content:   ciphertext,
	}
	return m.source.Send(ctx, event)
}
