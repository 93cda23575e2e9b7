package aggregates

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/hearthchat/hearth/internal/entities"
)

// ChannelManager is the external collaborator channels fetch through.
type ChannelManager interface {
	List(ctx context.Context, channelID string, filter nostr.Filter, localOnly bool, privkey string) ([]*nostr.Event, error)
	GetMeta(ctx context.Context, channelID string, privkey string, localOnly bool) (*entities.ChannelMeta, error)
	JoinAll(ids []string)
	Leave(id string)
	ListJoined() []string
	Clear()
}

// Channel is the per-channel aggregate: reconciled message set, membership
// snapshot and the last-message cache the conversation list renders from.
type Channel struct {
	mu sync.Mutex

	id        string
	name      string
	picture   string
	about     string
	isPrivate bool
	// privkey is the channel's shared key; empty for public channels.
	privkey string

	lastMessage       string
	lastMessagePubkey string
	lastMessageAt     int64

	loading    bool
	memberList []string
	messages   []*nostr.Event

	// changed is installed by the owning store; nil outside a tree.
	changed func()
}

// NewChannel creates a channel aggregate from a descriptor. A fresh
// channel is loading until its first fetch completes.
func NewChannel(info entities.ChannelInfo) *Channel {
	return &Channel{
		id:            info.ID,
		name:          info.Name,
		picture:       info.Picture,
		about:         info.About,
		isPrivate:     info.IsPrivate,
		privkey:       info.Privkey,
		lastMessageAt: time.Now().Unix(),
		loading:       true,
	}
}

// notifyChanged must run with c.mu released: synchronous observers read
// back through the aggregate.
func (c *Channel) notifyChanged() {
	if c.changed != nil {
		c.changed()
	}
}

// ID returns the channel's stable identifier.
func (c *Channel) ID() string { return c.id }

// Info returns the channel's descriptor.
func (c *Channel) Info() entities.ChannelInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return entities.ChannelInfo{
		ID:        c.id,
		Name:      c.name,
		Picture:   c.picture,
		About:     c.about,
		IsPrivate: c.isPrivate,
		Privkey:   c.privkey,
	}
}

// Loading reports whether the channel awaits its first fetch.
func (c *Channel) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// LastMessage returns the last-message cache: content, author and
// timestamp of the most recent message.
func (c *Channel) LastMessage() (content, pubkey string, at int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastMessage, c.lastMessagePubkey, c.lastMessageAt
}

func nHoursAgo(hours int) nostr.Timestamp {
	return nostr.Timestamp(time.Now().Add(-time.Duration(hours) * time.Hour).Unix())
}

// FetchMessages pulls this channel's events since now-hours through mgr,
// deduplicates them, recomputes the last-message cache and clears the
// loading flag. On failure, and when ctx is cancelled before the results
// are merged, prior state is left untouched.
func (c *Channel) FetchMessages(ctx context.Context, mgr ChannelManager, hours int) error {
	since := nHoursAgo(hours)
	filter := nostr.Filter{Since: &since}

	events, err := mgr.List(ctx, c.id, filter, true, c.privkey)
	if err != nil {
		return fmt.Errorf("failed to fetch channel messages: %w", err)
	}

	// A fetch that resolves after its view was torn down must be
	// discarded, not applied.
	if err := ctx.Err(); err != nil {
		return err
	}

	unique := Dedup(events)

	c.mu.Lock()
	c.messages = unique
	c.applyLastMessage()
	c.loading = false
	c.mu.Unlock()

	c.notifyChanged()
	return nil
}

// AddMessage inserts one event, typically from a live subscription.
// Inserting an id already present is a no-op. The backing slice is never
// mutated in place: observers holding a previous AllMessages result see a
// stable snapshot. The last-message cache is not touched; callers batch
// inserts and then call UpdateLastMessage once.
func (c *Channel) AddMessage(event *nostr.Event) {
	if event == nil {
		return
	}

	c.mu.Lock()
	for _, msg := range c.messages {
		if msg.ID == event.ID {
			c.mu.Unlock()
			return
		}
	}
	next := make([]*nostr.Event, 0, len(c.messages)+1)
	next = append(next, event)
	next = append(next, c.messages...)
	c.messages = next
	c.mu.Unlock()

	c.notifyChanged()
}

// UpdateLastMessage recomputes the last-message cache from the current
// message set. A channel with no messages keeps its prior cache.
func (c *Channel) UpdateLastMessage() {
	c.mu.Lock()
	c.applyLastMessage()
	c.mu.Unlock()

	c.notifyChanged()
}

// applyLastMessage must run with c.mu held.
func (c *Channel) applyLastMessage() {
	if last := Latest(c.messages); last != nil {
		c.lastMessage = last.Content
		c.lastMessagePubkey = last.PubKey
		c.lastMessageAt = int64(last.CreatedAt)
	}
}

// FetchMeta refreshes name/picture/about from the channel manager. An
// unknown channel keeps its prior metadata.
func (c *Channel) FetchMeta(ctx context.Context, mgr ChannelManager) error {
	meta, err := mgr.GetMeta(ctx, c.id, c.privkey, true)
	if err != nil {
		return fmt.Errorf("failed to fetch channel metadata: %w", err)
	}
	if meta == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	c.name = meta.Name
	c.picture = meta.Picture
	c.about = meta.About
	c.mu.Unlock()

	c.notifyChanged()
	return nil
}

// AddMembers replaces the member list wholesale with a full membership
// snapshot from the source of truth.
func (c *Channel) AddMembers(list []string) {
	c.mu.Lock()
	c.memberList = append([]string(nil), list...)
	c.mu.Unlock()

	c.notifyChanged()
}

// Members returns the membership snapshot.
func (c *Channel) Members() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.memberList...)
}

// AllMessages returns every message, most recent first.
func (c *Channel) AllMessages() []*nostr.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return SortByCreatedAtDesc(c.messages)
}

// Listings returns messages tagged as marketplace listings.
func (c *Channel) Listings() []*nostr.Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []*nostr.Event
	for _, msg := range c.messages {
		for _, tag := range msg.Tags {
			if len(tag) >= 2 && tag[0] == "x" && tag[1] == "listing" {
				out = append(out, msg)
				break
			}
		}
	}
	return out
}

// Reset atomically restores the loading state and empties the message
// set, keeping identity fields (id, name, privkey) intact. Used when a
// channel view is torn down and must re-fetch on next mount.
func (c *Channel) Reset() {
	c.mu.Lock()
	c.loading = true
	c.messages = nil
	c.mu.Unlock()

	c.notifyChanged()
}
