// Package eventbus defines the port between webhook ingress and run task fulfillment.
package eventbus

import (
	"context"

	"github.com/Strob0t/runtask-analyzer/internal/domain/runtask"
)

// EntryResult reports the bus verdict for one published entry.
type EntryResult struct {
	EventID      string
	ErrorCode    string
	ErrorMessage string
}

// Failed reports whether the bus rejected the entry.
func (r EntryResult) Failed() bool { return r.ErrorCode != "" }

// PublishResult mirrors a batch publish response. A non-zero FailedEntryCount
// means at least one entry was not accepted even though the call succeeded.
type PublishResult struct {
	FailedEntryCount int
	Entries          []EntryResult
}

// Publisher puts run task envelopes on a bus.
type Publisher interface {
	Publish(ctx context.Context, env runtask.Envelope) (PublishResult, error)
}

// Handler processes one delivered envelope. A returned error is terminal for
// that delivery; buses must not redeliver it.
type Handler func(ctx context.Context, env runtask.Envelope) error

// Subscriber delivers envelopes of one detail type to a handler until ctx is done
// or the returned cancel function is called.
type Subscriber interface {
	Subscribe(ctx context.Context, detailType string, h Handler) (cancel func(), err error)
}
