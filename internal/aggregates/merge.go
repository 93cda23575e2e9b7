// Package aggregates implements hearth's reconciliation core: the pure
// merge primitives and the reactive state tree (channels, contacts,
// private conversations, session identity) they feed. Aggregates are
// mutated only through their documented operations; observers of the tree
// never see a half-applied change.
package aggregates

import (
	"sort"

	"github.com/nbd-wtf/go-nostr"
)

// Dedup returns events with exactly one entry per distinct id,
// first-seen-wins. Event identity implies content identity, so which
// duplicate survives does not matter; keeping the first keeps the result
// stable under re-merge. Pure: the input slice is never modified.
func Dedup(events []*nostr.Event) []*nostr.Event {
	seen := make(map[string]struct{}, len(events))
	out := make([]*nostr.Event, 0, len(events))
	for _, event := range events {
		if event == nil {
			continue
		}
		if _, ok := seen[event.ID]; ok {
			continue
		}
		seen[event.ID] = struct{}{}
		out = append(out, event)
	}
	return out
}

// Merge combines any number of event sequences (a historical fetch plus
// accumulated live-subscription results, say) into one duplicate-free
// sequence. Total over its inputs; never fails.
func Merge(seqs ...[]*nostr.Event) []*nostr.Event {
	total := 0
	for _, seq := range seqs {
		total += len(seq)
	}
	combined := make([]*nostr.Event, 0, total)
	for _, seq := range seqs {
		combined = append(combined, seq...)
	}
	return Dedup(combined)
}

// Latest returns the event with the maximum created_at, ties broken by id
// ascending so the answer is deterministic across merge orders. Returns
// nil for an empty set.
func Latest(events []*nostr.Event) *nostr.Event {
	var latest *nostr.Event
	for _, event := range events {
		if event == nil {
			continue
		}
		if latest == nil ||
			event.CreatedAt > latest.CreatedAt ||
			(event.CreatedAt == latest.CreatedAt && event.ID < latest.ID) {
			latest = event
		}
	}
	return latest
}

// ReducePerPeer keeps, for each signer pubkey, only the newest event.
// Ties resolve last-seen-wins during the reduction pass. Output order is
// the order peers first appear in the input.
func ReducePerPeer(events []*nostr.Event) []*nostr.Event {
	order := make([]string, 0, len(events))
	newest := make(map[string]*nostr.Event, len(events))
	for _, event := range events {
		if event == nil {
			continue
		}
		was, ok := newest[event.PubKey]
		if !ok {
			order = append(order, event.PubKey)
			newest[event.PubKey] = event
			continue
		}
		if event.CreatedAt >= was.CreatedAt {
			newest[event.PubKey] = event
		}
	}

	out := make([]*nostr.Event, 0, len(order))
	for _, pubkey := range order {
		out = append(out, newest[pubkey])
	}
	return out
}

// SortByCreatedAtDesc returns a copy of events ordered most recent first,
// ties by id ascending. The input is never modified.
func SortByCreatedAtDesc(events []*nostr.Event) []*nostr.Event {
	out := append([]*nostr.Event(nil), events...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}
