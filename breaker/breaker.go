// Package breaker implements a circuit breaker whose single execution wraps
// a bounded retry loop with exponential backoff and a per-attempt timeout.
//
// State machine: closed → open when the failure counter reaches the
// threshold; open → half-open when a call arrives after the reset timeout;
// half-open → closed on a successful probe, half-open → open on a failed
// one. While open (or while a probe is already in flight) calls fail with
// ErrOpen without invoking the operation.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// State is the breaker state.
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
	default:
		return "unknown"
	}
}

// ErrOpen is returned without invoking the operation while the circuit is
// open or a half-open probe is already in flight.
var ErrOpen = errors.New("breaker: circuit open")

// Defaults applied by New for zero config fields.
const (
	DefaultThreshold    = 5
	DefaultResetTimeout = 30 * time.Second
	DefaultBaseDelay    = 500 * time.Millisecond
	DefaultMaxDelay     = 5 * time.Second
)

// Config tunes a Breaker.
type Config struct {
	// Threshold is the consecutive-execution failure count that opens the
	// circuit.
	Threshold int

	// ResetTimeout is how long the circuit stays open before a half-open
	// probe is allowed.
	ResetTimeout time.Duration

	// BaseDelay is the first backoff delay; it doubles per retry and is
	// clamped to MaxDelay.
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// Retryable classifies per-attempt errors. Defaults to Retryable.
	Retryable func(error) bool

	// ShouldTrip decides whether an overall failure counts toward the
	// threshold. Defaults to counting everything except cancellation.
	ShouldTrip func(error) bool

	// OnRetry observes each failed attempt before the next one is made.
	OnRetry func(attempt int, err error)
}

// Breaker guards executions of operations returning T.
type Breaker[T any] struct {
	cfg Config

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	probing     bool
}

// New creates a Breaker, filling zero config fields with defaults.
func New[T any](cfg Config) *Breaker[T] {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultResetTimeout
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.Retryable == nil {
		cfg.Retryable = Retryable
	}
	if cfg.ShouldTrip == nil {
		cfg.ShouldTrip = func(err error) bool { return !errors.Is(err, context.Canceled) }
	}
	return &Breaker[T]{cfg: cfg}
}

// Retryable reports whether an error looks like a transient fault worth
// another attempt: per-attempt timeouts and flaky-connection failures.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "EOF") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe")
}

// Execute runs op under the circuit. Each attempt is bounded by timeout;
// transient failures are retried with exponential backoff up to retries
// attempts. Only the overall outcome of the retry loop feeds the failure
// counter.
func (b *Breaker[T]) Execute(ctx context.Context, op func(context.Context) (T, error), retries int, timeout time.Duration) (T, error) {
	var zero T
	if err := b.admit(); err != nil {
		return zero, err
	}
	val, err := b.run(ctx, op, retries, timeout)
	b.settle(err)
	if err != nil {
		return zero, err
	}
	return val, nil
}

func (b *Breaker[T]) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateOpen:
		if time.Since(b.lastFailure) < b.cfg.ResetTimeout {
			return ErrOpen
		}
		b.state = StateHalfOpen
		b.probing = true
	case StateHalfOpen:
		// Exactly one probe at a time.
		if b.probing {
			return ErrOpen
		}
		b.probing = true
	}
	return nil
}

func (b *Breaker[T]) run(ctx context.Context, op func(context.Context) (T, error), retries int, timeout time.Duration) (T, error) {
	var zero T
	if retries < 1 {
		retries = 1
	}

	var lastErr error
	delay := b.cfg.BaseDelay
	for attempt := 1; attempt <= retries; attempt++ {
		if attempt > 1 {
			if b.cfg.OnRetry != nil {
				b.cfg.OnRetry(attempt, lastErr)
			}
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > b.cfg.MaxDelay {
				delay = b.cfg.MaxDelay
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		val, err := op(attemptCtx)
		cancel()
		if err == nil {
			return val, nil
		}
		lastErr = err
		if !b.cfg.Retryable(err) {
			return zero, err
		}
	}
	return zero, fmt.Errorf("breaker: %d attempts failed: %w", retries, lastErr)
}

func (b *Breaker[T]) settle(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false

	if err == nil {
		if b.state == StateHalfOpen {
			b.state = StateClosed
		}
		b.failures = 0
		return
	}
	if !b.cfg.ShouldTrip(err) {
		return
	}
	b.failures++
	b.lastFailure = time.Now()
	if b.state == StateHalfOpen || b.failures >= b.cfg.Threshold {
		b.state = StateOpen
	}
}

// State returns the current circuit state.
func (b *Breaker[T]) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive-failure count.
func (b *Breaker[T]) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset forces the circuit closed and clears the failure counter.
func (b *Breaker[T]) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.probing = false
}
