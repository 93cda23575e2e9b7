package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"
	"github.com/tidwall/gjson"

	"github.com/hearthchat/hearth/internal/entities"
	"github.com/hearthchat/hearth/internal/ops"
)

// contactSecretsTag is the d-tag of the self-encrypted annotations event
// carrying per-contact legacy/secret material.
const contactSecretsTag = "hearth/contacts"

// ContactManager reconciles the contact list: pubkeys from the public
// kind-3 contact list, legacy/secret annotations from a self-encrypted
// parameterized-replaceable event. It holds the process-wide contact
// cache, cleared on logout.
type ContactManager struct {
	source EventSource
	log    *ops.Logger

	mu       sync.Mutex
	contacts []entities.Contact
}

// NewContactManager creates a contact manager over source.
func NewContactManager(source EventSource, log *ops.Logger) *ContactManager {
	return &ContactManager{
		source: source,
		log:    log.WithComponent("contacts"),
	}
}

// ReadContacts refreshes the cache from the user's latest contact-list
// and annotations events.
func (m *ContactManager) ReadContacts(ctx context.Context) error {
	_, pubkey := m.source.Identity()
	if pubkey == "" {
		return fmt.Errorf("cannot read contacts: not logged in")
	}

	filters := nostr.Filters{
		{Kinds: []int{entities.KindContactList}, Authors: []string{pubkey}, Limit: 1},
		{Kinds: []int{entities.KindContactSecrets}, Authors: []string{pubkey}, Tags: nostr.TagMap{"d": []string{contactSecretsTag}}, Limit: 1},
	}
	events, err := m.source.List(ctx, filters, false)
	if err != nil {
		return fmt.Errorf("failed to fetch contact list: %w", err)
	}

	var contactList, secretsEvent *nostr.Event
	for _, event := range events {
		switch event.Kind {
		case entities.KindContactList:
			if contactList == nil || event.CreatedAt > contactList.CreatedAt {
				contactList = event
			}
		case entities.KindContactSecrets:
			if secretsEvent == nil || event.CreatedAt > secretsEvent.CreatedAt {
				secretsEvent = event
			}
		}
	}

	secrets := m.decodeSecrets(secretsEvent)

	var contacts []entities.Contact
	if contactList != nil {
		for _, tag := range contactList.Tags {
			if len(tag) < 2 || tag[0] != "p" {
				continue
			}
			contact := entities.Contact{PubKey: tag[1]}
			if annotation, ok := secrets[tag[1]]; ok {
				contact.Legacy = annotation.Legacy
				contact.Secret = annotation.Secret
			}
			contacts = append(contacts, contact)
		}
	}

	m.mu.Lock()
	m.contacts = contacts
	m.mu.Unlock()
	return nil
}

// decodeSecrets opens the self-encrypted annotations payload. A missing
// or unreadable payload means no annotations, never a failure.
func (m *ContactManager) decodeSecrets(event *nostr.Event) map[string]entities.Contact {
	secrets := make(map[string]entities.Contact)
	if event == nil {
		return secrets
	}

	privkey, pubkey := m.source.Identity()
	shared, err := nip04.ComputeSharedSecret(pubkey, privkey)
	if err != nil {
		return secrets
	}
	plain, err := nip04.Decrypt(event.Content, shared)
	if err != nil {
		m.log.Warn("contact annotations did not decrypt, ignoring", "error", err)
		return secrets
	}

	gjson.Parse(plain).ForEach(func(key, value gjson.Result) bool {
		secrets[key.String()] = entities.Contact{
			PubKey: key.String(),
			Legacy: value.Get("legacy").Bool(),
			Secret: value.Get("secret").String(),
		}
		return true
	})
	return secrets
}

// List returns the cached contacts.
func (m *ContactManager) List() []entities.Contact {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]entities.Contact(nil), m.contacts...)
}

// Add upserts a contact upstream, then reflects it in the cache.
func (m *ContactManager) Add(ctx context.Context, contact entities.Contact) error {
	m.mu.Lock()
	next := append([]entities.Contact(nil), m.contacts...)
	found := false
	for i := range next {
		if next[i].PubKey == contact.PubKey {
			next[i].Legacy = contact.Legacy
			next[i].Secret = contact.Secret
			found = true
			break
		}
	}
	if !found {
		next = append(next, contact)
	}
	m.mu.Unlock()

	if err := m.publish(ctx, next); err != nil {
		return err
	}

	m.mu.Lock()
	m.contacts = next
	m.mu.Unlock()
	return nil
}

// Remove deletes a contact upstream, then reflects it in the cache.
func (m *ContactManager) Remove(ctx context.Context, pubkey string) error {
	m.mu.Lock()
	next := make([]entities.Contact, 0, len(m.contacts))
	for _, contact := range m.contacts {
		if contact.PubKey != pubkey {
			next = append(next, contact)
		}
	}
	m.mu.Unlock()

	if err := m.publish(ctx, next); err != nil {
		return err
	}

	m.mu.Lock()
	m.contacts = next
	m.mu.Unlock()
	return nil
}

// publish writes the contact list and its annotations upstream. The
// upstream write must complete before callers mutate the cache.
func (m *ContactManager) publish(ctx context.Context, contacts []entities.Contact) error {
	privkey, pubkey := m.source.Identity()
	if pubkey == "" {
		return fmt.Errorf("cannot publish contacts: not logged in")
	}

	tags := make(nostr.Tags, 0, len(contacts))
	secrets := make(map[string]entities.Contact)
	for _, contact := range contacts {
		tags = append(tags, nostr.Tag{"p", contact.PubKey})
		if contact.Legacy || contact.Secret != "" {
			secrets[contact.PubKey] = contact
		}
	}

	if _, err := m.source.Send(ctx, &nostr.Event{
		Kind:      entities.KindContactList,
		CreatedAt: nostr.Now(),
		Tags:      tags,
		Content:   "",
	}); err != nil {
		return fmt.Errorf("failed to publish contact list: %w", err)
	}

	if len(secrets) == 0 {
		return nil
	}

	payload, err := json.Marshal(secrets)
	if err != nil {
		return fmt.Errorf("failed to marshal contact annotations: %w", err)
	}
	shared, err := nip04.ComputeSharedSecret(pubkey, privkey)
	if err != nil {
		return fmt.Errorf("failed to derive annotation secret: %w", err)
	}
	ciphertext, err := nip04.Encrypt(string(payload), shared)
	if err != nil {
		return fmt.Errorf("failed to encrypt contact annotations: %w", err)
	}

	if _, err := m.source.Send(ctx, &nostr.Event{
		Kind:      entities.KindContactSecrets,
		CreatedAt: nostr.Now(),
		Tags:      nostr.Tags{{"d", contactSecretsTag}},
		Content:   ciphertext,
	}); err != nil {
		return fmt.Errorf("failed to publish contact annotations: %w", err)
	}
	return nil
}

// Clear empties the contact cache. Called on logout.
func (m *ContactManager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contacts = nil
}
