package vault

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFileVaultRoundtrip(t *testing.T) {
	v, err := NewFileVault(t.TempDir(), "correct horse")
	if err != nil {
		t.Fatalf("NewFileVault failed: %v", err)
	}
	ctx := context.Background()

	if err := v.Set(ctx, "privkey", "deadbeef"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, ok, err := v.Get(ctx, "privkey")
	if err != nil || !ok {
		t.Fatalf("Get = (%v, %v), want present", ok, err)
	}
	if got != "deadbeef" {
		t.Errorf("Get = %q, want %q", got, "deadbeef")
	}
}

func TestFileVaultSetReplaces(t *testing.T) {
	v, err := NewFileVault(t.TempDir(), "pw")
	if err != nil {
		t.Fatalf("NewFileVault failed: %v", err)
	}
	ctx := context.Background()

	if err := v.Set(ctx, "k", "first"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := v.Set(ctx, "k", "second"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, ok, _ := v.Get(ctx, "k")
	if !ok || got != "second" {
		t.Errorf("Get = (%q, %v), want replacement value", got, ok)
	}
}

func TestFileVaultMissingIsAbsent(t *testing.T) {
	v, err := NewFileVault(t.TempDir(), "pw")
	if err != nil {
		t.Fatalf("NewFileVault failed: %v", err)
	}

	got, ok, err := v.Get(context.Background(), "nothing")
	if err != nil {
		t.Fatalf("missing entry should not error: %v", err)
	}
	if ok || got != "" {
		t.Errorf("Get = (%q, %v), want absent", got, ok)
	}
}

func TestFileVaultCorruptIsAbsent(t *testing.T) {
	dir := t.TempDir()
	v, err := NewFileVault(dir, "pw")
	if err != nil {
		t.Fatalf("NewFileVault failed: %v", err)
	}
	ctx := context.Background()

	if err := v.Set(ctx, "k", "value"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "k.enc"), []byte("garbage"), 0o600); err != nil {
		t.Fatalf("failed to corrupt entry: %v", err)
	}

	_, ok, err := v.Get(ctx, "k")
	if err != nil {
		t.Fatalf("corrupt entry should not error: %v", err)
	}
	if ok {
		t.Error("corrupt entry reported as present")
	}
}

func TestFileVaultWrongPassphraseIsAbsent(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	v1, err := NewFileVault(dir, "right")
	if err != nil {
		t.Fatalf("NewFileVault failed: %v", err)
	}
	if err := v1.Set(ctx, "k", "value"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	v2, err := NewFileVault(dir, "wrong")
	if err != nil {
		t.Fatalf("NewFileVault failed: %v", err)
	}
	_, ok, err := v2.Get(ctx, "k")
	if err != nil {
		t.Fatalf("wrong passphrase should not error: %v", err)
	}
	if ok {
		t.Error("entry decrypted under the wrong passphrase")
	}
}

func TestFileVaultDeleteMissingIsNoop(t *testing.T) {
	v, err := NewFileVault(t.TempDir(), "pw")
	if err != nil {
		t.Fatalf("NewFileVault failed: %v", err)
	}
	ctx := context.Background()

	if err := v.Delete(ctx, "nothing"); err != nil {
		t.Errorf("deleting missing entry failed: %v", err)
	}

	if err := v.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := v.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok, _ := v.Get(ctx, "k"); ok {
		t.Error("entry still present after delete")
	}
}

func TestFileVaultRejectsPathLikeKeys(t *testing.T) {
	v, err := NewFileVault(t.TempDir(), "pw")
	if err != nil {
		t.Fatalf("NewFileVault failed: %v", err)
	}
	ctx := context.Background()

	for _, key := range []string{"", "a/b", `a\b`, "..", "a.b"} {
		if err := v.Set(ctx, key, "v"); err == nil {
			t.Errorf("Set accepted key %q", key)
		}
		if _, ok, err := v.Get(ctx, key); ok || err != nil {
			t.Errorf("Get(%q) = (%v, %v), want silent absent", key, ok, err)
		}
	}
}

func TestFileVaultHonorsContext(t *testing.T) {
	v, err := NewFileVault(t.TempDir(), "pw")
	if err != nil {
		t.Fatalf("NewFileVault failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := v.Set(ctx, "k", "v"); err == nil {
		t.Error("Set with cancelled context succeeded")
	}
	if _, _, err := v.Get(ctx, "k"); err == nil {
		t.Error("Get with cancelled context succeeded")
	}
}

func TestNullVault(t *testing.T) {
	var v Vault = NullVault{}
	ctx := context.Background()

	if err := v.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, ok, err := v.Get(ctx, "k"); ok || err != nil {
		t.Errorf("Get = (%v, %v), want always absent", ok, err)
	}
	if err := v.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
}

func TestEnvelopeRejectsNewerVersion(t *testing.T) {
	sealed, err := seal("pw", []byte("data"), 1<<10, 8, 1)
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	if _, err := open("pw", sealed); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	// A blob claiming a future format version must not silently decrypt.
	future := []byte(`{"v":99,"salt":"AAAA","scrypt_N":1024,"scrypt_r":8,"scrypt_p":1,"cipher":"AAAA"}`)
	if _, err := open("pw", future); err == nil {
		t.Error("open accepted a future envelope version")
	}
}
