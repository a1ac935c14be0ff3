package natskv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Ledger claims run keys in a KV bucket. kv.Create is atomic across processes,
// so exactly one consumer wins a given key until the bucket TTL expires it.
type Ledger struct {
	kv jetstream.KeyValue
}

// NewLedger wraps kv as a claim ledger.
func NewLedger(kv jetstream.KeyValue) *Ledger {
	return &Ledger{kv: kv}
}

func (l *Ledger) Claim(ctx context.Context, key string) (bool, error) {
	_, err := l.kv.Create(ctx, encodeKey(key), []byte(time.Now().UTC().Format(time.RFC3339)))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, jetstream.ErrKeyExists) {
		return false, nil
	}
	return false, fmt.Errorf("natskv claim %s: %w", key, err)
}
