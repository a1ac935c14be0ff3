package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/runtask-analyzer/internal/domain"
	"github.com/Strob0t/runtask-analyzer/internal/domain/runtask"
	"github.com/Strob0t/runtask-analyzer/internal/port/eventbus"
)

// PutEventError reports that the bus did not accept a forwarded event.
// FailedEntries is non-zero when the call succeeded but entries were rejected.
type PutEventError struct {
	FailedEntries int
	Entries       []eventbus.EntryResult
	Err           error
}

func (e *PutEventError) Error() string {
	if e.FailedEntries > 0 {
		return fmt.Sprintf("put events: %d failed entries", e.FailedEntries)
	}
	return fmt.Sprintf("put events: %v", e.Err)
}

func (e *PutEventError) Unwrap() error { return domain.ErrUpstream }

// EventForwarder republishes verified webhook payloads on the event bus.
type EventForwarder struct {
	pub        eventbus.Publisher
	detailType string
	now        func() time.Time
}

// NewEventForwarder creates a forwarder tagging every envelope with detailType.
func NewEventForwarder(pub eventbus.Publisher, detailType string) *EventForwarder {
	return &EventForwarder{pub: pub, detailType: detailType, now: time.Now}
}

// DetailType returns the discriminator attached to forwarded envelopes.
func (f *EventForwarder) DetailType() string { return f.detailType }

// Forward publishes exactly one envelope. Any failed entry is a *PutEventError;
// there is no partial success.
func (f *EventForwarder) Forward(ctx context.Context, payload json.RawMessage) (runtask.Envelope, error) {
	env := runtask.Envelope{
		ID:         uuid.NewString(),
		Source:     runtask.EventSource,
		DetailType: f.detailType,
		Time:       f.now().UTC(),
		Detail:     payload,
	}

	res, err := f.pub.Publish(ctx, env)
	if err != nil {
		return env, &PutEventError{Err: err}
	}
	failed := res.FailedEntryCount
	if failed == 0 {
		for _, e := range res.Entries {
			if e.Failed() {
				failed++
			}
		}
	}
	if failed > 0 {
		for _, e := range res.Entries {
			if e.Failed() {
				slog.ErrorContext(ctx, "event entry rejected",
					"event_id", env.ID, "code", e.ErrorCode, "message", e.ErrorMessage)
			}
		}
		return env, &PutEventError{FailedEntries: failed, Entries: res.Entries}
	}

	slog.InfoContext(ctx, "event forwarded", "event_id", env.ID, "detail_type", env.DetailType)
	return env, nil
}
