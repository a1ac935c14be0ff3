// Package resilience provides reliability patterns for external service calls.
package resilience

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker is open and rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the breaker position.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithFailureFilter sets which errors count toward opening the circuit.
// Errors for which trips returns false pass through without affecting state,
// e.g. an upstream rejecting a caller-supplied URL.
func WithFailureFilter(trips func(error) bool) Option {
	return func(b *Breaker) { b.trips = trips }
}

// WithStateChange registers a callback invoked (without the lock held) on every transition.
func WithStateChange(fn func(name string, from, to State)) Option {
	return func(b *Breaker) { b.onChange = fn }
}

// Breaker is a consecutive-failure circuit breaker guarding one upstream.
// While half-open it admits a single probe call; concurrent callers are
// rejected until the probe settles.
type Breaker struct {
	name        string
	maxFailures int
	timeout     time.Duration
	trips       func(error) bool
	onChange    func(name string, from, to State)
	now         func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker creates a circuit breaker that opens after maxFailures consecutive
// failures and stays open for timeout before admitting a half-open probe.
func NewBreaker(name string, maxFailures int, timeout time.Duration, opts ...Option) *Breaker {
	b := &Breaker{
		name:        name,
		maxFailures: maxFailures,
		timeout:     timeout,
		trips:       func(error) bool { return true },
		now:         time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Name returns the upstream name the breaker guards.
func (b *Breaker) Name() string { return b.name }

// State returns the current position, promoting open to half-open once the timeout elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.timeout {
		return StateHalfOpen
	}
	return b.state
}

// Execute runs fn unless the circuit is open. Returns ErrCircuitOpen without calling fn otherwise.
func (b *Breaker) Execute(fn func() error) error {
	probe, ok := b.admit()
	if !ok {
		return fmt.Errorf("%s: %w", b.name, ErrCircuitOpen)
	}

	err := fn()
	b.settle(probe, err)
	return err
}

func (b *Breaker) admit() (probe, ok bool) {
	b.mu.Lock()
	var from, to State
	defer func() {
		b.mu.Unlock()
		if from != to {
			b.notify(from, to)
		}
	}()

	switch b.state {
	case StateClosed:
		return false, true
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.timeout {
			return false, false
		}
		from, to = StateOpen, StateHalfOpen
		b.state = StateHalfOpen
		b.probing = true
		return true, true
	default:
		if b.probing {
			return false, false
		}
		b.probing = true
		return true, true
	}
}

func (b *Breaker) settle(probe bool, err error) {
	b.mu.Lock()
	from := b.state
	if probe {
		b.probing = false
	}
	switch {
	case err == nil:
		b.failures = 0
		b.state = StateClosed
	case !b.trips(err):
		if probe {
			b.state = StateClosed
			b.failures = 0
		}
	default:
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.maxFailures {
			b.state = StateOpen
			b.openedAt = b.now()
		}
	}
	to := b.state
	b.mu.Unlock()

	if from != to {
		b.notify(from, to)
	}
}

func (b *Breaker) notify(from, to State) {
	if b.onChange != nil {
		b.onChange(b.name, from, to)
	}
}
