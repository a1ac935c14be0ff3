// Package secrets resolves webhook and API secrets from a backing store through a TTL cache.
package secrets

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/Strob0t/runtask-analyzer/internal/port/secretstore"
)

// Loader retrieves a full snapshot of secrets from a source.
type Loader func() (map[string]string, error)

// EnvLoader returns a Loader that reads the named environment variables.
// Unset variables are omitted from the snapshot.
func EnvLoader(keys ...string) Loader {
	return func() (map[string]string, error) {
		vals := make(map[string]string, len(keys))
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				vals[k] = v
			}
		}
		return vals, nil
	}
}

// Vault is an in-memory snapshot source used when secrets are injected through
// the environment instead of a managed store. It supports atomic reload.
type Vault struct {
	mu     sync.RWMutex
	values map[string]string
	loader Loader
}

// NewVault creates a Vault, calling the loader once to populate initial values.
func NewVault(loader Loader) (*Vault, error) {
	vals, err := loader()
	if err != nil {
		return nil, fmt.Errorf("initial secret load: %w", err)
	}
	return &Vault{values: vals, loader: loader}, nil
}

// FetchSecret implements secretstore.Fetcher. id is the snapshot key.
func (v *Vault) FetchSecret(_ context.Context, id string) (string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	val, ok := v.values[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", secretstore.ErrNotFound, id)
	}
	return val, nil
}

// Reload swaps in a fresh snapshot. On loader error the previous values are kept.
func (v *Vault) Reload() error {
	vals, err := v.loader()
	if err != nil {
		return fmt.Errorf("reload secrets: %w", err)
	}
	v.mu.Lock()
	v.values = vals
	v.mu.Unlock()
	return nil
}
