package ristretto

import (
	"context"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Ledger claims run keys within one process. It backs deployments that
// receive events over HTTP without a NATS KV bucket; claims do not survive
// a restart.
type Ledger struct {
	mu  sync.Mutex
	c   *ristretto.Cache[string, struct{}]
	ttl time.Duration
}

// NewLedger creates a ledger remembering up to maxKeys claims for ttl.
func NewLedger(maxKeys int64, ttl time.Duration) (*Ledger, error) {
	c, err := newStore[struct{}](maxKeys)
	if err != nil {
		return nil, err
	}
	return &Ledger{c: c, ttl: ttl}, nil
}

// Claim returns true the first time key is seen within the TTL.
func (l *Ledger) Claim(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, found := l.c.Get(key); found {
		return false, nil
	}
	l.c.SetWithTTL(key, struct{}{}, 1, l.ttl)
	l.c.Wait()
	return true, nil
}

// Close releases the underlying cache.
func (l *Ledger) Close() {
	l.c.Close()
}
