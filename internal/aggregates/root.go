package aggregates

import (
	"sync"
	"time"

	"github.com/bep/debounce"

	"github.com/hearthchat/hearth/internal/ops"
	"github.com/hearthchat/hearth/internal/profile"
	"github.com/hearthchat/hearth/internal/vault"
)

// ChangeSet describes which parts of the tree changed since an observer
// was last notified. An empty Channels slice with ChannelsChanged set
// means the channel set itself changed shape (create/remove/reset).
type ChangeSet struct {
	Session         bool
	ChannelsChanged bool
	Channels        []string
}

func (c *ChangeSet) merge(other ChangeSet) {
	c.Session = c.Session || other.Session
	c.ChannelsChanged = c.ChannelsChanged || other.ChannelsChanged
	for _, id := range other.Channels {
		found := false
		for _, existing := range c.Channels {
			if existing == id {
				found = true
				break
			}
		}
		if !found && id != "" {
			c.Channels = append(c.Channels, id)
		}
	}
}

func (c ChangeSet) empty() bool {
	return !c.Session && !c.ChannelsChanged && len(c.Channels) == 0
}

// Root is the single mutable state tree for the process lifetime: exactly
// one Session and one owned-channel arena. It exists from process start
// to process end; logout resets its contents, never replaces it.
//
// Observers receive a ChangeSet after mutations, coalesced through a
// debounce window so a burst of live events produces one wakeup.
type Root struct {
	Session  *Session
	Channels *ChannelStore

	mu        sync.Mutex
	observers map[int]func(ChangeSet)
	nextObs   int
	pending   ChangeSet
	debounced func(func())
}

// NewRoot builds the state tree. debounceWindow coalesces observer
// notifications; zero disables coalescing and notifies synchronously.
func NewRoot(v vault.Vault, cache *profile.Cache, defaults Defaults, privMsgLimit int, debounceWindow time.Duration, log *ops.Logger) *Root {
	store := NewChannelStore()
	root := &Root{
		Session:   NewSession(store, v, cache, defaults, privMsgLimit, log),
		Channels:  store,
		observers: make(map[int]func(ChangeSet)),
	}
	if debounceWindow > 0 {
		root.debounced = debounce.New(debounceWindow)
	}

	store.changed = func(id string) {
		if id == "" {
			root.record(ChangeSet{ChannelsChanged: true})
		} else {
			root.record(ChangeSet{ChannelsChanged: true, Channels: []string{id}})
		}
	}
	root.Session.changed = func() {
		root.record(ChangeSet{Session: true})
	}
	return root
}

// Observe registers fn to be called after mutations. The returned
// function unregisters it.
func (r *Root) Observe(fn func(ChangeSet)) func() {
	r.mu.Lock()
	id := r.nextObs
	r.nextObs++
	r.observers[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.observers, id)
		r.mu.Unlock()
	}
}

func (r *Root) record(change ChangeSet) {
	r.mu.Lock()
	r.pending.merge(change)
	debounced := r.debounced
	r.mu.Unlock()

	if debounced != nil {
		debounced(r.flush)
	} else {
		r.flush()
	}
}

func (r *Root) flush() {
	r.mu.Lock()
	change := r.pending
	r.pending = ChangeSet{}
	observers := make([]func(ChangeSet), 0, len(r.observers))
	for _, fn := range r.observers {
		observers = append(observers, fn)
	}
	r.mu.Unlock()

	if change.empty() {
		return
	}
	for _, fn := range observers {
		fn(change)
	}
}
