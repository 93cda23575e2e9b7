package aggregates

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nbd-wtf/go-nostr"

	"github.com/hearthchat/hearth/internal/entities"
	"github.com/hearthchat/hearth/internal/identity"
	"github.com/hearthchat/hearth/internal/ops"
	"github.com/hearthchat/hearth/internal/profile"
	"github.com/hearthchat/hearth/internal/vault"
)

// vaultKeyPrivkey is the vault slot holding the session private key.
const vaultKeyPrivkey = "privkey"

// vaultKeyMnemonic is the vault slot holding the backup mnemonic the
// signup keypair was derived from.
const vaultKeyMnemonic = "mnemonic"

// profileCacheKey is the local-cache slot holding profile metadata.
const profileCacheKey = "meta"

// RelayPool is the slice of the relay pool the session uses directly.
type RelayPool interface {
	List(ctx context.Context, filters nostr.Filters, localOnly bool) ([]*nostr.Event, error)
	Send(ctx context.Context, event *nostr.Event) (*nostr.Event, error)
	SetIdentity(privkey, pubkey string)
	ClearIdentity()
}

// PrivateMessageManager decrypts and lists direct messages.
type PrivateMessageManager interface {
	List(ctx context.Context, opts entities.ListOptions, localOnly bool, peerKeys []string) ([]*nostr.Event, error)
	Decrypt(ctx context.Context, event *nostr.Event, candidateKeys []string) (*nostr.Event, error)
}

// ContactManager is the upstream source of truth for the contact list.
type ContactManager interface {
	ReadContacts(ctx context.Context) error
	List() []entities.Contact
	Add(ctx context.Context, contact entities.Contact) error
	Remove(ctx context.Context, pubkey string) error
	Clear()
}

// Defaults is what a session falls back to when signup or login supplies
// nothing better.
type Defaults struct {
	Channels []string
	Relays   []string
}

// Session is the top-level aggregate: identity lifecycle plus the
// cross-cutting state (contacts, private conversations, joined channel
// references, relay list, reply marker).
//
// The channel references live here; the owned Channel aggregates live in
// the sibling ChannelStore arena.
type Session struct {
	mu sync.Mutex

	pubkey     string
	privkey    string
	metadata   *profile.Metadata
	isLoggedIn bool

	channels     []string
	contacts     []entities.Contact
	privMessages []entities.PrivateMessage
	relays       []string
	replyTo      string

	store    *ChannelStore
	vault    vault.Vault
	cache    *profile.Cache
	defaults Defaults
	limit    int
	log      *ops.Logger

	// changed is installed by the root; nil outside a tree.
	changed func()
}

// NewSession creates a logged-out session over its sibling channel arena.
// privMsgLimit bounds a single private-message fetch.
func NewSession(store *ChannelStore, v vault.Vault, cache *profile.Cache, defaults Defaults, privMsgLimit int, log *ops.Logger) *Session {
	return &Session{
		store:    store,
		vault:    v,
		cache:    cache,
		defaults: defaults,
		relays:   append([]string(nil), defaults.Relays...),
		limit:    privMsgLimit,
		log:      log.WithComponent("session"),
	}
}

func (s *Session) notifyChanged() {
	if s.changed != nil {
		s.changed()
	}
}

// snapshot is the full replacement value applied atomically on identity
// transitions. Login, signup and logout construct one and swap it in
// rather than mutating field by field, so no partial identity is ever
// observable.
type snapshot struct {
	pubkey       string
	privkey      string
	metadata     *profile.Metadata
	isLoggedIn   bool
	channels     []string
	contacts     []entities.Contact
	privMessages []entities.PrivateMessage
}

func (s *Session) apply(snap snapshot) {
	s.mu.Lock()
	s.pubkey = snap.pubkey
	s.privkey = snap.privkey
	s.metadata = snap.metadata
	s.isLoggedIn = snap.isLoggedIn
	s.channels = snap.channels
	s.contacts = snap.contacts
	s.privMessages = snap.privMessages
	s.mu.Unlock()
	s.notifyChanged()
}

// --- views ---

// IsLoggedIn reports whether the session holds a complete identity.
func (s *Session) IsLoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isLoggedIn
}

// Pubkey returns the session public key, empty when logged out.
func (s *Session) Pubkey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pubkey
}

// Privkey returns the session private key, empty when logged out.
func (s *Session) Privkey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.privkey
}

// Metadata returns the cached profile metadata, nil when none is known.
func (s *Session) Metadata() *profile.Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.metadata == nil {
		return nil
	}
	meta := *s.metadata
	return &meta
}

// Channels returns the joined channel references in join order.
func (s *Session) Channels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.channels...)
}

// Contacts returns the reconciled contact list.
func (s *Session) Contacts() []entities.Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]entities.Contact(nil), s.contacts...)
}

// FindContact returns the contact with the given pubkey, or false.
func (s *Session) FindContact(pubkey string) (entities.Contact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, contact := range s.contacts {
		if contact.PubKey == pubkey {
			return contact, true
		}
	}
	return entities.Contact{}, false
}

// Relays returns the session relay list.
func (s *Session) Relays() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.relays...)
}

// PrivMessages returns the raw private-message previews.
func (s *Session) PrivMessages() []entities.PrivateMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]entities.PrivateMessage(nil), s.privMessages...)
}

// ReplyTo returns the id of the message being replied to, empty when
// none.
func (s *Session) ReplyTo() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replyTo
}

// Chats returns the conversation list: one row per peer. A message the
// user sent carries the user's own pubkey as signer; its effective peer
// is the tagged recipient, otherwise self-sent messages would collapse
// into a conversation with ourselves. The correction applies only to
// this read path.
func (s *Session) Chats() []entities.PrivateMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	order := make([]string, 0, len(s.privMessages))
	byPeer := make(map[string]entities.PrivateMessage, len(s.privMessages))
	for _, msg := range s.privMessages {
		peer := msg.PubKey
		if peer == s.pubkey {
			if tagged := entities.PeerTag(msg.Event); tagged != "" {
				peer = tagged
			}
		}
		if _, ok := byPeer[peer]; !ok {
			order = append(order, peer)
		}
		byPeer[peer] = msg
	}

	out := make([]entities.PrivateMessage, 0, len(order))
	for _, peer := range order {
		out = append(out, byPeer[peer])
	}
	return out
}

// --- identity lifecycle ---

// Bootstrap restores a persisted identity on process start. A missing or
// corrupt vault entry, or a key the public key cannot be derived from,
// leaves the session logged out; bootstrap never fails the process.
func (s *Session) Bootstrap(ctx context.Context, pool RelayPool) error {
	privkey, ok, err := s.vault.Get(ctx, vaultKeyPrivkey)
	s.log.LogVaultOperation("get", vaultKeyPrivkey, err)
	if err != nil {
		return fmt.Errorf("failed to read vault: %w", err)
	}
	if !ok {
		return nil
	}

	pubkey, err := nostr.GetPublicKey(privkey)
	if err != nil {
		// Present-but-corrupt key material is treated as absent.
		s.log.Warn("vault key is unusable, staying logged out", "error", err)
		return nil
	}

	var meta *profile.Metadata
	var cached profile.Metadata
	if s.cache.Load(profileCacheKey, &cached) {
		meta = &cached
	}

	pool.SetIdentity(privkey, pubkey)
	s.apply(snapshot{
		pubkey:     pubkey,
		privkey:    privkey,
		metadata:   meta,
		isLoggedIn: true,
	})
	s.log.LogSessionTransition("logged_out", "logged_in", pubkey)
	return nil
}

// Signup creates a fresh identity: derive a keypair from a new mnemonic,
// register the human-readable name, publish the profile-metadata event,
// then atomically apply the logged-in snapshot with the default channel
// set, persist the key material and cache the metadata. Any failure
// before the apply leaves the prior logged-out state intact.
func (s *Session) Signup(ctx context.Context, pool RelayPool, registrar *identity.Registrar, picture, username, displayName, about string) error {
	kp, words, err := identity.GenerateWithMnemonic()
	if err != nil {
		return err
	}

	qualified, err := registrar.Register(ctx, kp, username)
	if err != nil {
		return fmt.Errorf("name registration failed: %w", err)
	}

	meta := &profile.Metadata{
		Picture:     picture,
		Username:    username,
		DisplayName: displayName,
		About:       about,
		Nip05:       qualified,
	}
	if err := s.publishMetadata(ctx, pool, kp, meta); err != nil {
		return err
	}

	channels := append([]string(nil), s.defaults.Channels...)
	s.store.CreateDefaults(channels)
	pool.SetIdentity(kp.PrivateKey, kp.PublicKey)
	s.apply(snapshot{
		pubkey:     kp.PublicKey,
		privkey:    kp.PrivateKey,
		metadata:   meta,
		isLoggedIn: true,
		channels:   channels,
	})

	if err := s.vault.Set(ctx, vaultKeyPrivkey, kp.PrivateKey); err != nil {
		s.log.LogVaultOperation("set", vaultKeyPrivkey, err)
		s.log.Warn("identity will not survive restart")
	}
	if err := s.vault.Set(ctx, vaultKeyMnemonic, words); err != nil {
		s.log.LogVaultOperation("set", vaultKeyMnemonic, err)
	}
	if err := s.cache.Save(profileCacheKey, meta); err != nil {
		s.log.Warn("failed to cache profile metadata", "error", err)
	}
	s.log.LogSessionTransition("logged_out", "logged_in", kp.PublicKey)
	return nil
}

// Mnemonic returns the persisted backup mnemonic, absent for identities
// imported from a raw key.
func (s *Session) Mnemonic(ctx context.Context) (string, bool, error) {
	words, ok, err := s.vault.Get(ctx, vaultKeyMnemonic)
	s.log.LogVaultOperation("get", vaultKeyMnemonic, err)
	return words, ok, err
}

// publishMetadata signs and publishes a kind-0 profile event with kp,
// which need not be the installed pool identity yet.
func (s *Session) publishMetadata(ctx context.Context, pool RelayPool, kp identity.Keypair, meta *profile.Metadata) error {
	content, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal profile metadata: %w", err)
	}
	event := &nostr.Event{
		Kind:      entities.KindProfileMetadata,
		CreatedAt: nostr.Now(),
		Tags:      nostr.Tags{},
		Content:   string(content),
	}
	event.PubKey = kp.PublicKey
	if err := event.Sign(kp.PrivateKey); err != nil {
		return fmt.Errorf("failed to sign profile event: %w", err)
	}
	if _, err := pool.Send(ctx, event); err != nil {
		return fmt.Errorf("failed to publish profile: %w", err)
	}
	return nil
}

// LoginWithNsec applies a full session snapshot for an already-validated
// keypair. The key is persisted first; the snapshot then replaces the
// session atomically. An empty channel list falls back to the default
// set: a logged-in user never has zero channels.
func (s *Session) LoginWithNsec(ctx context.Context, pool RelayPool, kp identity.Keypair, meta *profile.Metadata, contacts []entities.Contact, privMessages []entities.PrivateMessage, channels []string) error {
	if err := s.vault.Set(ctx, vaultKeyPrivkey, kp.PrivateKey); err != nil {
		s.log.LogVaultOperation("set", vaultKeyPrivkey, err)
		s.log.Warn("identity will not survive restart")
	}

	if len(channels) == 0 {
		channels = append([]string(nil), s.defaults.Channels...)
	}
	for _, id := range channels {
		if !s.store.Has(id) {
			s.store.Create(entities.ChannelInfo{ID: id})
		}
	}

	pool.SetIdentity(kp.PrivateKey, kp.PublicKey)
	s.apply(snapshot{
		pubkey:       kp.PublicKey,
		privkey:      kp.PrivateKey,
		metadata:     meta,
		isLoggedIn:   true,
		channels:     channels,
		contacts:     contacts,
		privMessages: privMessages,
	})

	if meta != nil {
		if err := s.cache.Save(profileCacheKey, meta); err != nil {
			s.log.Warn("failed to cache profile metadata", "error", err)
		}
	}
	s.log.LogSessionTransition("logged_out", "logged_in", kp.PublicKey)
	return nil
}

// Logout clears sibling manager state first (so nothing races against a
// key the vault has already discarded), wipes the vault, then atomically
// resets the session to its logged-out shape. A failed vault wipe is
// reported after the logged-out snapshot is applied: the session never
// ends up half logged out.
func (s *Session) Logout(ctx context.Context, pool RelayPool, contactMgr ContactManager, channelMgr ChannelManager) error {
	pubkey := s.Pubkey()

	pool.ClearIdentity()
	contactMgr.Clear()
	channelMgr.Clear()

	var wipeErr error
	for _, key := range []string{vaultKeyPrivkey, vaultKeyMnemonic} {
		err := s.vault.Delete(ctx, key)
		s.log.LogVaultOperation("delete", key, err)
		if err != nil && wipeErr == nil {
			wipeErr = err
		}
	}
	s.cache.Delete(profileCacheKey)

	s.apply(snapshot{})
	s.mu.Lock()
	s.replyTo = ""
	s.mu.Unlock()

	s.log.LogSessionTransition("logged_in", "logged_out", pubkey)
	if wipeErr != nil {
		return fmt.Errorf("failed to wipe vault: %w", wipeErr)
	}
	return nil
}

// --- private conversations ---

// FetchPrivMessages refreshes the conversation previews: fetch up to the
// configured bound of direct messages for the given contacts (the session
// contact list when contacts is nil), keep the newest event per signer,
// and stamp each with its derived lastMessageAt. The reduced list
// replaces the session's preview state and is returned to the caller.
func (s *Session) FetchPrivMessages(ctx context.Context, mgr PrivateMessageManager, contacts []entities.Contact) ([]entities.PrivateMessage, error) {
	if contacts == nil {
		contacts = s.Contacts()
	}
	keys := make([]string, 0, len(contacts))
	for _, contact := range contacts {
		keys = append(keys, contact.PubKey)
	}

	list, err := mgr.List(ctx, entities.ListOptions{Limit: s.limit}, false, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch private messages: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reduced := ReducePerPeer(list)
	previews := make([]entities.PrivateMessage, 0, len(reduced))
	for _, event := range reduced {
		previews = append(previews, entities.PrivateMessage{
			Event:         event,
			LastMessageAt: int64(event.CreatedAt),
		})
	}

	s.mu.Lock()
	s.privMessages = previews
	s.mu.Unlock()
	s.notifyChanged()
	s.log.LogReconcile("privMessages", len(list), len(previews))
	return previews, nil
}

// AddPrivMessage appends one preview, typically from a live subscription.
// The backing slice is replaced, never mutated in place.
func (s *Session) AddPrivMessage(event *nostr.Event) {
	if event == nil {
		return
	}
	s.mu.Lock()
	next := append([]entities.PrivateMessage(nil), s.privMessages...)
	next = append(next, entities.PrivateMessage{
		Event:         event,
		LastMessageAt: int64(event.CreatedAt),
	})
	s.privMessages = next
	s.mu.Unlock()
	s.notifyChanged()
}

// FetchPeerTimeline returns the full message history with one peer, most
// recent first. Unlike the preview fetch it is unbounded and not reduced
// per peer; it deduplicates by id only. The result is returned to the
// caller without touching session state.
func (s *Session) FetchPeerTimeline(ctx context.Context, mgr PrivateMessageManager, peer string) ([]*nostr.Event, error) {
	list, err := mgr.List(ctx, entities.ListOptions{}, false, []string{peer})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch conversation with %s: %w", peer, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	own := s.Pubkey()
	var out []*nostr.Event
	for _, event := range Dedup(list) {
		effective := event.PubKey
		if effective == own {
			if tagged := entities.PeerTag(event); tagged != "" {
				effective = tagged
			}
		}
		if effective == peer {
			out = append(out, event)
		}
	}
	return SortByCreatedAtDesc(out), nil
}

// SetPrivMessages replaces the preview state wholesale.
func (s *Session) SetPrivMessages(msgs []entities.PrivateMessage) {
	s.mu.Lock()
	s.privMessages = append([]entities.PrivateMessage(nil), msgs...)
	s.mu.Unlock()
	s.notifyChanged()
}

// --- contacts ---

// FetchContacts triggers an upstream refresh and replaces the local
// contact collection wholesale.
func (s *Session) FetchContacts(ctx context.Context, mgr ContactManager) error {
	if s.Pubkey() == "" {
		return fmt.Errorf("pubkey not found")
	}
	if err := mgr.ReadContacts(ctx); err != nil {
		return fmt.Errorf("failed to refresh contacts: %w", err)
	}
	refreshed := mgr.List()

	s.mu.Lock()
	s.contacts = refreshed
	s.mu.Unlock()
	s.notifyChanged()
	return nil
}

// AddContact upserts a contact. The upstream write completes before the
// local mutation is applied; on upstream failure local state is
// untouched. An existing entry only has its legacy and secret fields
// updated.
func (s *Session) AddContact(ctx context.Context, mgr ContactManager, contact entities.Contact) error {
	if err := mgr.Add(ctx, contact); err != nil {
		return fmt.Errorf("failed to add contact upstream: %w", err)
	}

	s.mu.Lock()
	found := false
	for i := range s.contacts {
		if s.contacts[i].PubKey == contact.PubKey {
			s.contacts[i].Legacy = contact.Legacy
			s.contacts[i].Secret = contact.Secret
			found = true
			break
		}
	}
	if !found {
		s.contacts = append(s.contacts, contact)
	}
	s.mu.Unlock()
	s.notifyChanged()
	return nil
}

// RemoveContact deletes a contact. The upstream delete completes before
// local removal.
func (s *Session) RemoveContact(ctx context.Context, mgr ContactManager, pubkey string) error {
	if err := mgr.Remove(ctx, pubkey); err != nil {
		return fmt.Errorf("failed to remove contact upstream: %w", err)
	}

	s.mu.Lock()
	for i, contact := range s.contacts {
		if contact.PubKey == pubkey {
			s.contacts = append(s.contacts[:i], s.contacts[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	s.notifyChanged()
	return nil
}

// --- channel membership ---

// JoinChannel ensures an owned channel exists for info, appends its
// reference if new, and hands the manager the full reference list as the
// authoritative joined set. Idempotent.
func (s *Session) JoinChannel(mgr ChannelManager, info entities.ChannelInfo) {
	s.mu.Lock()
	present := false
	for _, id := range s.channels {
		if id == info.ID {
			present = true
			break
		}
	}
	if !present {
		s.channels = append(s.channels, info.ID)
	}
	joined := append([]string(nil), s.channels...)
	s.mu.Unlock()

	if !s.store.Has(info.ID) {
		s.store.Create(info)
	}
	mgr.JoinAll(joined)
	if !present {
		s.notifyChanged()
	}
}

// LeaveChannel removes the channel reference if present (a missing
// reference is a no-op, not an error), then tells the manager to drop
// that single id.
func (s *Session) LeaveChannel(mgr ChannelManager, id string) {
	s.mu.Lock()
	removed := false
	for i, existing := range s.channels {
		if existing == id {
			s.channels = append(s.channels[:i], s.channels[i+1:]...)
			removed = true
			break
		}
	}
	s.mu.Unlock()

	mgr.Leave(id)
	if removed {
		s.notifyChanged()
	}
}

// FetchJoinedChannels asks the manager for its authoritative joined set.
func (s *Session) FetchJoinedChannels(mgr ChannelManager) []string {
	return mgr.ListJoined()
}

// FetchInvites lists invite events addressed to pubkey, decrypts each
// against its sender, parses the payload as a channel descriptor and
// joins any channel not already owned. A malformed invite is skipped; one
// bad invite never blocks the rest.
func (s *Session) FetchInvites(ctx context.Context, pool RelayPool, mgr PrivateMessageManager, pubkey string) error {
	invites, err := pool.List(ctx, nostr.Filters{{
		Kinds: []int{entities.KindChannelInvite},
		Tags:  nostr.TagMap{"p": []string{pubkey}},
	}}, false)
	if err != nil {
		return fmt.Errorf("failed to list invites: %w", err)
	}

	for _, event := range invites {
		invite, err := mgr.Decrypt(ctx, event, []string{event.PubKey})
		if err != nil {
			s.log.Warn("skipping undecryptable invite", "id", event.ID, "error", err)
			continue
		}
		info, err := entities.ParseChannelInfo(invite.Content)
		if err != nil {
			s.log.Warn("skipping malformed invite", "id", event.ID, "error", err)
			continue
		}
		if s.store.Has(info.ID) {
			continue
		}
		s.store.Create(*info)
		s.mu.Lock()
		s.channels = append(s.channels, info.ID)
		s.mu.Unlock()
		s.notifyChanged()
	}
	return nil
}

// --- misc actions ---

// UpdateMetadata replaces the profile metadata, optionally publishing it
// first. When pool is non-nil the publish must succeed before local state
// changes.
func (s *Session) UpdateMetadata(ctx context.Context, pool RelayPool, meta *profile.Metadata) error {
	if pool != nil {
		kp := identity.Keypair{PrivateKey: s.Privkey(), PublicKey: s.Pubkey()}
		if kp.PrivateKey == "" {
			return fmt.Errorf("cannot publish profile: not logged in")
		}
		if err := s.publishMetadata(ctx, pool, kp, meta); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.metadata = meta
	s.mu.Unlock()
	s.notifyChanged()

	if err := s.cache.Save(profileCacheKey, meta); err != nil {
		s.log.Warn("failed to cache profile metadata", "error", err)
	}
	return nil
}

// SetChannels replaces the channel reference list wholesale.
func (s *Session) SetChannels(ids []string) {
	s.mu.Lock()
	s.channels = append([]string(nil), ids...)
	s.mu.Unlock()
	s.notifyChanged()
}

// AddRelay appends a relay URL if not already present.
func (s *Session) AddRelay(url string) {
	s.mu.Lock()
	for _, existing := range s.relays {
		if existing == url {
			s.mu.Unlock()
			return
		}
	}
	s.relays = append(s.relays, url)
	s.mu.Unlock()
	s.notifyChanged()
}

// RemoveRelay removes a relay URL if present.
func (s *Session) RemoveRelay(url string) {
	s.mu.Lock()
	for i, existing := range s.relays {
		if existing == url {
			s.relays = append(s.relays[:i], s.relays[i+1:]...)
			s.mu.Unlock()
			s.notifyChanged()
			return
		}
	}
	s.mu.Unlock()
}

// SetReply marks the message being replied to.
func (s *Session) SetReply(id string) {
	s.mu.Lock()
	s.replyTo = id
	s.mu.Unlock()
	s.notifyChanged()
}

// ClearReply clears the reply marker.
func (s *Session) ClearReply() {
	s.mu.Lock()
	s.replyTo = ""
	s.mu.Unlock()
	s.notifyChanged()
}
