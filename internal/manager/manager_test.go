package manager

import (
	"context"
	"io"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"

	"github.com/hearthchat/hearth/internal/config"
	"github.com/hearthchat/hearth/internal/ops"
)

// fakeSource is an EventSource serving canned events and recording what
// the managers ask for.
type fakeSource struct {
	privkey string
	pubkey  string

	events  []*nostr.Event
	listErr error
	filters []nostr.Filters

	sent    []*nostr.Event
	sendErr error
}

func (f *fakeSource) List(ctx context.Context, filters nostr.Filters, localOnly bool) ([]*nostr.Event, error) {
	f.filters = append(f.filters, filters)
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.events, nil
}

func (f *fakeSource) Send(ctx context.Context, event *nostr.Event) (*nostr.Event, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, event)
	return event, nil
}

func (f *fakeSource) Identity() (string, string) { return f.privkey, f.pubkey }

func testLogger() *ops.Logger {
	return ops.NewLoggerWithWriter(&config.Logging{Level: "error", Format: "text"}, io.Discard)
}

func genKeys(t *testing.T) (privkey, pubkey string) {
	t.Helper()
	privkey = nostr.GeneratePrivateKey()
	pubkey, err := nostr.GetPublicKey(privkey)
	if err != nil {
		t.Fatalf("failed to derive public key: %v", err)
	}
	return privkey, pubkey
}

// encryptBetween encrypts plaintext with the shared secret the holder of
// privkey shares with peerPubkey.
func encryptBetween(t *testing.T, privkey, peerPubkey, plaintext string) string {
	t.Helper()
	shared, err := nip04.ComputeSharedSecret(peerPubkey, privkey)
	if err != nil {
		t.Fatalf("failed to derive shared secret: %v", err)
	}
	ciphertext, err := nip04.Encrypt(plaintext, shared)
	if err != nil {
		t.Fatalf("failed to encrypt: %v", err)
	}
	return ciphertext
}
