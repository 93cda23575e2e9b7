package aggregates

import (
	"sync"

	"github.com/hearthchat/hearth/internal/entities"
)

// ChannelStore is the owned arena for every Channel aggregate in the
// tree. The session refers to channels by id only; removing a channel
// here is the single authoritative delete, so no owning pointer can
// dangle elsewhere.
type ChannelStore struct {
	mu       sync.Mutex
	channels map[string]*Channel
	order    []string

	// changed is installed by the root; nil outside a tree.
	changed func(id string)
}

// NewChannelStore creates an empty arena.
func NewChannelStore() *ChannelStore {
	return &ChannelStore{
		channels: make(map[string]*Channel),
	}
}

// Create adds a channel built from info, returning the existing aggregate
// unchanged if the id is already present.
func (s *ChannelStore) Create(info entities.ChannelInfo) *Channel {
	s.mu.Lock()

	if existing, ok := s.channels[info.ID]; ok {
		s.mu.Unlock()
		return existing
	}

	channel := NewChannel(info)
	id := info.ID
	channel.changed = func() {
		if s.changed != nil {
			s.changed(id)
		}
	}
	s.channels[id] = channel
	s.order = append(s.order, id)
	s.mu.Unlock()

	// Notify without s.mu held: synchronous observers read back through
	// the arena.
	if s.changed != nil {
		s.changed(id)
	}
	return channel
}

// CreateDefaults seeds the arena with the default channel set.
func (s *ChannelStore) CreateDefaults(ids []string) {
	for _, id := range ids {
		s.Create(entities.ChannelInfo{ID: id})
	}
}

// Get returns the channel with the given id, or nil.
func (s *ChannelStore) Get(id string) *Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channels[id]
}

// Has reports whether the arena owns a channel with the given id.
func (s *ChannelStore) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.channels[id]
	return ok
}

// Remove deletes a channel from the arena. Removing an absent id is a
// no-op.
func (s *ChannelStore) Remove(id string) {
	s.mu.Lock()

	if _, ok := s.channels[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.channels, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	if s.changed != nil {
		s.changed(id)
	}
}

// IDs returns the owned channel ids in creation order.
func (s *ChannelStore) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// All returns the owned channels in creation order.
func (s *ChannelStore) All() []*Channel {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Channel, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.channels[id])
	}
	return out
}

// Reset empties the arena.
func (s *ChannelStore) Reset() {
	s.mu.Lock()
	s.channels = make(map[string]*Channel)
	s.order = nil
	s.mu.Unlock()

	if s.changed != nil {
		s.changed("")
	}
}
