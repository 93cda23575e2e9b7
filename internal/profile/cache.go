// Package profile provides the plain local cache for non-secret profile
// metadata, so a restarted process can show the user's own profile before
// the first relay round-trip completes.
package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Metadata mirrors the kind-0 profile content fields hearth cares about.
type Metadata struct {
	Picture     string `json:"picture,omitempty"`
	Banner      string `json:"banner,omitempty"`
	Username    string `json:"username,omitempty"`
	Nip05       string `json:"nip05,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	About       string `json:"about,omitempty"`
}

// Cache persists small JSON values under a directory, one file per key.
type Cache struct {
	dir string
	mu  sync.Mutex
}

// NewCache creates the cache directory if needed.
func NewCache(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create profile cache directory: %w", err)
	}
	return &Cache{dir: dir}, nil
}

// Save marshals v and writes it for key, replacing any prior value.
func (c *Cache) Save(key string, v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal cached value: %w", err)
	}
	if err := os.WriteFile(c.path(key), data, 0o644); err != nil {
		return fmt.Errorf("failed to write cached value: %w", err)
	}
	return nil
}

// Load unmarshals the value stored for key into v, reporting whether a
// usable value was present. Missing or corrupt files are absent, not
// errors.
func (c *Cache) Load(key string, v any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path(key))
	if err != nil {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

// Delete removes the value stored for key, if any.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = os.Remove(c.path(key))
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, key+".json")
}
