// Package identity handles key material: generation, mnemonic
// derivation, bech32 encoding, and registration of a human-readable name
// with the external naming service.
package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip06"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/tidwall/gjson"
)

// Keypair is a hex-encoded secp256k1 keypair.
type Keypair struct {
	PrivateKey string
	PublicKey  string
}

// Generate creates a fresh keypair.
func Generate() (Keypair, error) {
	privkey := nostr.GeneratePrivateKey()
	pubkey, err := nostr.GetPublicKey(privkey)
	if err != nil {
		return Keypair{}, fmt.Errorf("failed to derive public key: %w", err)
	}
	return Keypair{PrivateKey: privkey, PublicKey: pubkey}, nil
}

// GenerateWithMnemonic creates a fresh keypair together with the BIP-39
// mnemonic it derives from, for backup alongside the raw key.
func GenerateWithMnemonic() (Keypair, string, error) {
	words, err := nip06.GenerateSeedWords()
	if err != nil {
		return Keypair{}, "", fmt.Errorf("failed to generate seed words: %w", err)
	}
	kp, err := FromMnemonic(words)
	if err != nil {
		return Keypair{}, "", err
	}
	return kp, words, nil
}

// FromMnemonic derives the keypair from a BIP-39 mnemonic.
func FromMnemonic(words string) (Keypair, error) {
	if !nip06.ValidateWords(words) {
		return Keypair{}, fmt.Errorf("invalid mnemonic")
	}
	seed := nip06.SeedFromWords(words)
	privkey, err := nip06.PrivateKeyFromSeed(seed)
	if err != nil {
		return Keypair{}, fmt.Errorf("failed to derive key from seed: %w", err)
	}
	pubkey, err := nostr.GetPublicKey(privkey)
	if err != nil {
		return Keypair{}, fmt.Errorf("failed to derive public key: %w", err)
	}
	return Keypair{PrivateKey: privkey, PublicKey: pubkey}, nil
}

// FromNsec decodes a bech32 nsec private key into a keypair.
func FromNsec(nsec string) (Keypair, error) {
	prefix, value, err := nip19.Decode(nsec)
	if err != nil {
		return Keypair{}, fmt.Errorf("failed to decode nsec: %w", err)
	}
	if prefix != "nsec" {
		return Keypair{}, fmt.Errorf("expected nsec, got %s", prefix)
	}
	privkey := value.(string)
	pubkey, err := nostr.GetPublicKey(privkey)
	if err != nil {
		return Keypair{}, fmt.Errorf("failed to derive public key: %w", err)
	}
	return Keypair{PrivateKey: privkey, PublicKey: pubkey}, nil
}

// Registrar registers human-readable names against the naming service.
type Registrar struct {
	client *http.Client
	url    string
	suffix string
}

// NewRegistrar creates a registrar for the configured naming service.
func NewRegistrar(client *http.Client, serviceURL, suffix string) *Registrar {
	if client == nil {
		client = http.DefaultClient
	}
	return &Registrar{client: client, url: serviceURL, suffix: suffix}
}

// Register claims name for the keypair and returns the fully-qualified
// identifier ("name@suffix"). Names containing "@" are rejected before
// any network call: those are existing identifiers, the user should log
// in with their private key instead. Any error the service reports fails
// the registration.
func (r *Registrar) Register(ctx context.Context, kp Keypair, name string) (string, error) {
	if strings.Contains(name, "@") {
		return "", fmt.Errorf("log in with your private key instead")
	}

	sig, err := signChallenge(kp, name)
	if err != nil {
		return "", err
	}

	reqURL := fmt.Sprintf("%s?name=%s&pubkey=%s&sig=%s",
		r.url, url.QueryEscape(name), kp.PublicKey, sig)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build registration request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("naming service unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", fmt.Errorf("failed to read naming service response: %w", err)
	}
	if errMsg := gjson.GetBytes(body, "error").String(); errMsg != "" {
		return "", fmt.Errorf("naming service rejected %q: %s", name, errMsg)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("naming service returned status %d", resp.StatusCode)
	}

	return name + "@" + r.suffix, nil
}

// signChallenge signs sha256(json([0, pubkey, name])) with the private
// key, schnorr over secp256k1, which is how the naming service verifies
// the claim belongs to this identity.
func signChallenge(kp Keypair, name string) (string, error) {
	ser, err := json.Marshal([]any{0, kp.PublicKey, name})
	if err != nil {
		return "", fmt.Errorf("failed to serialize challenge: %w", err)
	}
	hash := sha256.Sum256(ser)

	skBytes, err := hex.DecodeString(kp.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("invalid private key: %w", err)
	}
	sk := secp256k1.PrivKeyFromBytes(skBytes)
	sig, err := schnorr.Sign(sk, hash[:])
	if err != nil {
		return "", fmt.Errorf("failed to sign challenge: %w", err)
	}
	return hex.EncodeToString(sig.Serialize()), nil
}
