package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"
)

var errTest = errors.New("service unavailable")

func trip(b *Breaker, n int) {
	for range n {
		_ = b.Execute(func() error { return errTest })
	}
}

func TestClosedStateAllowsCalls(t *testing.T) {
	b := NewBreaker("litellm", 3, time.Second)
	called := false
	if err := b.Execute(func() error { called = true; return nil }); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !called {
		t.Fatal("expected fn to be called")
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed, got %s", b.State())
	}
}

func TestOpensAfterMaxFailures(t *testing.T) {
	b := NewBreaker("hcp", 3, time.Second)
	trip(b, 3)

	err := b.Execute(func() error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %s", b.State())
	}
}

func TestHalfOpenProbeClosesOnSuccess(t *testing.T) {
	now := time.Now()
	b := NewBreaker("hcp", 2, time.Second)
	b.now = func() time.Time { return now }
	trip(b, 2)

	if err := b.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}

	now = now.Add(2 * time.Second)
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half-open after timeout, got %s", b.State())
	}

	called := false
	if err := b.Execute(func() error { called = true; return nil }); err != nil {
		t.Fatalf("expected probe to run, got %v", err)
	}
	if !called {
		t.Fatal("expected probe fn to be called")
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed after probe success, got %s", b.State())
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	b := NewBreaker("hcp", 2, time.Second)
	b.now = func() time.Time { return now }
	trip(b, 2)

	now = now.Add(2 * time.Second)
	_ = b.Execute(func() error { return errTest })

	if b.State() != StateOpen {
		t.Fatalf("expected open after failed probe, got %s", b.State())
	}
	if err := b.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen after reopen, got %v", err)
	}
}

func TestHalfOpenAdmitsSingleProbe(t *testing.T) {
	now := time.Now()
	b := NewBreaker("bedrock", 1, time.Second)
	b.now = func() time.Time { return now }
	trip(b, 1)
	now = now.Add(2 * time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = b.Execute(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	if err := b.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected concurrent caller rejected during probe, got %v", err)
	}
	close(release)
	wg.Wait()

	if b.State() != StateClosed {
		t.Fatalf("expected closed after probe, got %s", b.State())
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker("github", 3, time.Second)
	trip(b, 2)
	_ = b.Execute(func() error { return nil })
	trip(b, 2)

	if b.State() != StateClosed {
		t.Fatalf("expected closed, got %s", b.State())
	}
}

func TestFailureFilterIgnoresNonTrippingErrors(t *testing.T) {
	errRejected := errors.New("endpoint rejected")
	b := NewBreaker("hcp", 1, time.Second, WithFailureFilter(func(err error) bool {
		return !errors.Is(err, errRejected)
	}))

	for range 5 {
		if err := b.Execute(func() error { return errRejected }); !errors.Is(err, errRejected) {
			t.Fatalf("expected passthrough error, got %v", err)
		}
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed, got %s", b.State())
	}
}

func TestStateChangeCallback(t *testing.T) {
	now := time.Now()
	var transitions []string
	b := NewBreaker("litellm", 1, time.Second, WithStateChange(func(name string, from, to State) {
		transitions = append(transitions, name+":"+from.String()+"->"+to.String())
	}))
	b.now = func() time.Time { return now }

	trip(b, 1)
	now = now.Add(2 * time.Second)
	_ = b.Execute(func() error { return nil })

	want := []string{
		"litellm:closed->open",
		"litellm:open->half-open",
		"litellm:half-open->closed",
	}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition[%d] = %s, want %s", i, transitions[i], want[i])
		}
	}
}
