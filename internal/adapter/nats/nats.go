// Package nats implements the event bus ports on NATS JetStream.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/sync/semaphore"

	"github.com/Strob0t/runtask-analyzer/internal/domain/runtask"
	"github.com/Strob0t/runtask-analyzer/internal/logger"
	"github.com/Strob0t/runtask-analyzer/internal/port/eventbus"
)

const (
	subjectPrefix   = "runtask."
	dlqPrefix       = "runtask-dlq."
	headerRequestID = "X-Request-ID"
)

// Bus publishes run task envelopes to a JetStream stream and consumes them
// with at-most-once delivery: failed messages are terminated and copied to a
// dead-letter subject instead of being redelivered.
type Bus struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	stream  string
	workers int
}

// delivery is the part of jetstream.Msg the consumer uses.
type delivery interface {
	Data() []byte
	Headers() nats.Header
	Subject() string
	Ack() error
	Term() error
}

// Connect establishes a connection to NATS and ensures the stream exists.
// The stream name is derived from busName so deployments sharing a server stay apart.
func Connect(ctx context.Context, url, busName string) (*Bus, error) {
	nc, err := nats.Connect(url, nats.Name("runtask-analyzer"))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	stream := "RUNTASK_" + strings.ToUpper(token(busName))
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       stream,
		Subjects:   []string{subjectPrefix + ">", dlqPrefix + ">"},
		Duplicates: 10 * time.Minute,
		MaxAge:     7 * 24 * time.Hour,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	slog.Info("nats connected", "url", url, "stream", stream)
	return &Bus{nc: nc, js: js, stream: stream, workers: 1}, nil
}

// SetConcurrency sets how many envelopes one subscription handles at once.
func (b *Bus) SetConcurrency(n int) {
	if n < 1 {
		n = 1
	}
	b.workers = n
}

// Subject returns the subject carrying envelopes of detailType.
func Subject(detailType string) string {
	return subjectPrefix + token(detailType)
}

// token maps s onto a single NATS subject token.
func token(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		}
		return r
	}, s)
}

// Publish puts env on its detail-type subject. The envelope ID doubles as the
// JetStream message ID, so a retried publish is deduplicated by the server.
func (b *Bus) Publish(ctx context.Context, env runtask.Envelope) (eventbus.PublishResult, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return eventbus.PublishResult{}, fmt.Errorf("marshal envelope: %w", err)
	}
	msg := &nats.Msg{Subject: Subject(env.DetailType), Data: data, Header: nats.Header{}}
	if id := logger.RequestID(ctx); id != "" {
		msg.Header.Set(headerRequestID, id)
	}

	ack, err := b.js.PublishMsg(ctx, msg, jetstream.WithMsgID(env.ID))
	if err != nil {
		return eventbus.PublishResult{}, fmt.Errorf("nats publish %s: %w", msg.Subject, err)
	}
	entry := eventbus.EntryResult{EventID: env.ID}
	if ack.Duplicate {
		slog.WarnContext(ctx, "duplicate envelope publish ignored", "event_id", env.ID)
	}
	return eventbus.PublishResult{Entries: []eventbus.EntryResult{entry}}, nil
}

// Subscribe consumes envelopes of detailType with a durable consumer shared by
// every analyzer process, so each envelope is handled by one process only.
// Up to the configured concurrency envelopes are handled in parallel; the
// returned stop function waits for in-flight handlers.
func (b *Bus) Subscribe(ctx context.Context, detailType string, h eventbus.Handler) (func(), error) {
	consumer, err := b.js.CreateOrUpdateConsumer(ctx, b.stream, jetstream.ConsumerConfig{
		Durable:       "fulfillment-" + token(detailType),
		FilterSubject: Subject(detailType),
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    1,
		AckWait:       30 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("nats consumer create: %w", err)
	}

	sem := semaphore.NewWeighted(int64(b.workers))
	var wg sync.WaitGroup
	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		b.dispatch(ctx, sem, &wg, msg, h)
	})
	if err != nil {
		return nil, fmt.Errorf("nats consume: %w", err)
	}
	return func() {
		cons.Stop()
		wg.Wait()
	}, nil
}

// dispatch blocks the consume callback until a worker slot is free, then
// handles msg in its own goroutine.
func (b *Bus) dispatch(ctx context.Context, sem *semaphore.Weighted, wg *sync.WaitGroup, msg delivery, h eventbus.Handler) {
	if err := sem.Acquire(ctx, 1); err != nil {
		b.reject(context.WithoutCancel(ctx), msg, fmt.Errorf("consumer stopping: %w", err))
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer sem.Release(1)
		b.handle(ctx, msg, h)
	}()
}

func (b *Bus) handle(ctx context.Context, msg delivery, h eventbus.Handler) {
	if hdrs := msg.Headers(); hdrs != nil {
		if id := hdrs.Get(headerRequestID); id != "" {
			ctx = logger.WithRequestID(ctx, id)
		}
	}

	var env runtask.Envelope
	err := json.Unmarshal(msg.Data(), &env)
	if err != nil {
		err = fmt.Errorf("decode envelope: %w", err)
	} else {
		err = h(ctx, env)
	}

	if err == nil {
		if ackErr := msg.Ack(); ackErr != nil {
			slog.ErrorContext(ctx, "nats ack failed", "error", ackErr)
		}
		return
	}

	slog.ErrorContext(ctx, "envelope handler failed", "subject", msg.Subject(), "error", err)
	b.reject(ctx, msg, err)
}

// reject terminates msg and copies it to the dead-letter subject.
func (b *Bus) reject(ctx context.Context, msg delivery, err error) {
	if termErr := msg.Term(); termErr != nil {
		slog.ErrorContext(ctx, "nats term failed", "error", termErr)
	}
	b.deadLetter(ctx, msg, err)
}

func (b *Bus) deadLetter(ctx context.Context, msg delivery, cause error) {
	dlq := &nats.Msg{
		Subject: dlqPrefix + strings.TrimPrefix(msg.Subject(), subjectPrefix),
		Data:    msg.Data(),
		Header:  nats.Header{},
	}
	dlq.Header.Set("X-Error", cause.Error())
	if _, err := b.js.PublishMsg(ctx, dlq); err != nil {
		slog.ErrorContext(ctx, "dead-letter publish failed", "subject", dlq.Subject, "error", err)
	}
}

// KeyValue returns the named bucket, creating it with ttl if needed.
func (b *Bus) KeyValue(ctx context.Context, bucket string, ttl time.Duration) (jetstream.KeyValue, error) {
	kv, err := b.js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: bucket,
		TTL:    ttl,
	})
	if err != nil {
		return nil, fmt.Errorf("nats kv %s: %w", bucket, err)
	}
	return kv, nil
}

// IsConnected reports whether the underlying connection is up.
func (b *Bus) IsConnected() bool {
	return b.nc.IsConnected()
}

// Drain finishes in-flight deliveries and closes the connection.
func (b *Bus) Drain() error {
	return b.nc.Drain()
}

// Close shuts down the NATS connection.
func (b *Bus) Close() error {
	b.nc.Close()
	return nil
}
