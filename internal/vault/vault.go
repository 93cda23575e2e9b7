// Package vault provides encrypted-at-rest storage for identity material.
//
// Entries are sealed with a passphrase-derived key (scrypt +
// chacha20poly1305) and written one file per key. A vault that is missing
// or unreadable degrades to "absent" rather than failing: losing the
// device keystore must never crash the application.
package vault

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Vault is durable storage for secret key material.
//
// Get reports absence as (_, false, nil); an error is reserved for
// conditions the caller may want to retry. All implementations must be
// safe to call when the underlying store is unavailable.
type Vault interface {
	Set(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (string, bool, error)
	Delete(ctx context.Context, key string) error
}

// FileVault stores sealed entries as files under a single directory.
// All operations serialize through one mutex: the vault is a single-slot
// resource and a write must fully complete before a subsequent read or
// delete of the same key is served.
type FileVault struct {
	dir        string
	passphrase string
	mu         sync.Mutex
}

// NewFileVault creates the vault directory (0700) if needed and returns a
// FileVault over it.
func NewFileVault(dir, passphrase string) (*FileVault, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create vault directory: %w", err)
	}
	return &FileVault{dir: dir, passphrase: passphrase}, nil
}

func (v *FileVault) path(key string) string {
	// Keys are our own short identifiers; reject anything path-like.
	return filepath.Join(v.dir, key+".enc")
}

func validKey(key string) bool {
	if key == "" {
		return false
	}
	return !strings.ContainsAny(key, "/\\.")
}

// Set seals value and writes it for key, replacing any prior entry.
func (v *FileVault) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !validKey(key) {
		return fmt.Errorf("invalid vault key: %q", key)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	N, r, p := scryptParamsDefault()
	sealed, err := seal(v.passphrase, []byte(value), N, r, p)
	if err != nil {
		return fmt.Errorf("failed to seal vault entry: %w", err)
	}
	if err := os.WriteFile(v.path(key), sealed, 0o600); err != nil {
		return fmt.Errorf("failed to write vault entry: %w", err)
	}
	return nil
}

// Get returns the value stored for key. A missing, corrupt or
// undecryptable entry is reported as absent, not as an error.
func (v *FileVault) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	if !validKey(key) {
		return "", false, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	sealed, err := os.ReadFile(v.path(key))
	if err != nil {
		return "", false, nil
	}
	raw, err := open(v.passphrase, sealed)
	if err != nil {
		// Present-but-corrupt is treated the same as absent.
		return "", false, nil
	}
	return string(raw), true, nil
}

// Delete removes the entry for key. Deleting a missing entry is a no-op.
func (v *FileVault) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !validKey(key) {
		return nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if err := os.Remove(v.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete vault entry: %w", err)
	}
	return nil
}

// NullVault is the no-persistence fallback used when the vault directory
// cannot be created. Everything is absent and writes are dropped.
type NullVault struct{}

func (NullVault) Set(ctx context.Context, key, value string) error { return nil }

func (NullVault) Get(ctx context.Context, key string) (string, bool, error) {
	return "", false, nil
}

func (NullVault) Delete(ctx context.Context, key string) error { return nil }
