package aggregates

import (
	"testing"
	"time"

	"github.com/hearthchat/hearth/internal/entities"
	"github.com/hearthchat/hearth/internal/profile"
	"github.com/hearthchat/hearth/internal/vault"
)

// newTestRoot builds a tree with synchronous notifications so tests can
// assert right after a mutation.
func newTestRoot(t *testing.T) *Root {
	t.Helper()
	cache, err := profile.NewCache(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create profile cache: %v", err)
	}
	return NewRoot(vault.NullVault{}, cache, Defaults{}, 500, 0, testLogger())
}

func TestRootObserveSessionChange(t *testing.T) {
	root := newTestRoot(t)

	var got []ChangeSet
	unsub := root.Observe(func(c ChangeSet) { got = append(got, c) })
	defer unsub()

	root.Session.SetReply("msg1")

	if len(got) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(got))
	}
	if !got[0].Session || got[0].ChannelsChanged {
		t.Errorf("ChangeSet = %+v, want session-only", got[0])
	}
}

func TestRootObserveChannelChange(t *testing.T) {
	root := newTestRoot(t)
	root.Channels.Create(entities.ChannelInfo{ID: "chanA"})

	var got []ChangeSet
	unsub := root.Observe(func(c ChangeSet) { got = append(got, c) })
	defer unsub()

	root.Channels.Get("chanA").AddMessage(ev("m1", "p1", 10))

	if len(got) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(got))
	}
	change := got[0]
	if !change.ChannelsChanged || len(change.Channels) != 1 || change.Channels[0] != "chanA" {
		t.Errorf("ChangeSet = %+v, want chanA marked changed", change)
	}
}

func TestRootUnsubscribeStopsNotifications(t *testing.T) {
	root := newTestRoot(t)

	calls := 0
	unsub := root.Observe(func(ChangeSet) { calls++ })
	root.Session.SetReply("a")
	unsub()
	root.Session.SetReply("b")

	if calls != 1 {
		t.Errorf("expected 1 call before unsubscribe, got %d", calls)
	}
}

func TestRootStoreResetMarksChannelsChanged(t *testing.T) {
	root := newTestRoot(t)
	root.Channels.Create(entities.ChannelInfo{ID: "chanA"})

	var got []ChangeSet
	unsub := root.Observe(func(c ChangeSet) { got = append(got, c) })
	defer unsub()

	root.Channels.Reset()

	if len(got) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(got))
	}
	if !got[0].ChannelsChanged || len(got[0].Channels) != 0 {
		t.Errorf("ChangeSet = %+v, want shape-change with no per-channel ids", got[0])
	}
}

func TestRootSynchronousObserverReadsChannelBack(t *testing.T) {
	root := newTestRoot(t)
	ch := root.Channels.Create(entities.ChannelInfo{ID: "chanA"})

	var seen int
	unsub := root.Observe(func(ChangeSet) {
		// Reading the mutated aggregate from inside a synchronous
		// notification must not block on its lock.
		seen = len(ch.AllMessages())
		ch.LastMessage()
	})
	defer unsub()

	done := make(chan struct{})
	go func() {
		ch.AddMessage(ev("m1", "p1", 10))
		ch.UpdateLastMessage()
		ch.AddMembers([]string{"p1"})
		ch.Reset()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("channel mutation never returned while a synchronous observer read it back")
	}
	if seen != 0 {
		t.Errorf("observer saw %d messages after Reset, want 0", seen)
	}
}

func TestRootSynchronousObserverReadsArenaBack(t *testing.T) {
	root := newTestRoot(t)

	unsub := root.Observe(func(ChangeSet) {
		root.Channels.IDs()
	})
	defer unsub()

	done := make(chan struct{})
	go func() {
		root.Channels.Create(entities.ChannelInfo{ID: "chanA"})
		root.Channels.Remove("chanA")
		root.Channels.Reset()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("arena mutation never returned while a synchronous observer read it back")
	}
}

func TestRootDebounceCoalesces(t *testing.T) {
	cache, err := profile.NewCache(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create profile cache: %v", err)
	}
	root := NewRoot(vault.NullVault{}, cache, Defaults{}, 500, 10*time.Millisecond, testLogger())
	root.Channels.Create(entities.ChannelInfo{ID: "chanA"})
	root.Channels.Create(entities.ChannelInfo{ID: "chanB"})

	done := make(chan ChangeSet, 1)
	unsub := root.Observe(func(c ChangeSet) {
		select {
		case done <- c:
		default:
		}
	})
	defer unsub()

	// A burst of mutations lands as one coalesced wakeup.
	root.Channels.Get("chanA").AddMessage(ev("m1", "p1", 10))
	root.Channels.Get("chanB").AddMessage(ev("m2", "p2", 20))
	root.Session.SetReply("m1")

	select {
	case change := <-done:
		if !change.Session || !change.ChannelsChanged || len(change.Channels) != 2 {
			t.Errorf("coalesced ChangeSet = %+v, want session plus both channels", change)
		}
	case <-time.After(time.Second):
		t.Fatal("debounced notification never arrived")
	}
}

func TestChannelStoreCreateIdempotent(t *testing.T) {
	store := NewChannelStore()

	first := store.Create(entities.ChannelInfo{ID: "chanA", Name: "original"})
	second := store.Create(entities.ChannelInfo{ID: "chanA", Name: "replacement"})

	if first != second {
		t.Error("Create with an existing id returned a new aggregate")
	}
	if got := second.Info(); got.Name != "original" {
		t.Errorf("existing aggregate was overwritten: %+v", got)
	}
	if ids := store.IDs(); len(ids) != 1 {
		t.Errorf("IDs() = %v, want one entry", ids)
	}
}

func TestChannelStoreOrder(t *testing.T) {
	store := NewChannelStore()
	store.CreateDefaults([]string{"a", "b", "c"})

	if ids := store.IDs(); !equalIDs(ids, []string{"a", "b", "c"}) {
		t.Errorf("IDs() = %v, want creation order", ids)
	}

	store.Remove("b")
	if ids := store.IDs(); !equalIDs(ids, []string{"a", "c"}) {
		t.Errorf("IDs() after remove = %v", ids)
	}

	// Removing an absent id is a no-op.
	store.Remove("ghost")
	if ids := store.IDs(); !equalIDs(ids, []string{"a", "c"}) {
		t.Errorf("IDs() after ghost remove = %v", ids)
	}
}

func TestChannelStoreReset(t *testing.T) {
	store := NewChannelStore()
	store.CreateDefaults([]string{"a", "b"})

	store.Reset()

	if len(store.IDs()) != 0 || store.Has("a") {
		t.Error("Reset left channels in the arena")
	}
}
