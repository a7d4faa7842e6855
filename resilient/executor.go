// Package resilient composes the circuit breaker, request deduplicator,
// priority concurrency limiter, and connection health monitor into a single
// execute entry point.
//
// Gate order per call: health check → dedup (if a key is given) or priority
// queue admission → optional rate pacing → circuit breaker → operation. Each
// stage is an explicit, independently testable component; this package only
// wires them.
package resilient

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"nodebridge/breaker"
	"nodebridge/dedup"
	"nodebridge/health"
	"nodebridge/protocol"
	"nodebridge/queue"
	"nodebridge/transport"
)

// ErrUnhealthy is returned without attempting the call while the health
// monitor reports the connection degraded.
var ErrUnhealthy = errors.New("resilient: connection unhealthy")

// Operation is one unit of remote work.
type Operation[T any] func(context.Context) (T, error)

// Default per-call options.
const (
	DefaultRetries = 3
	DefaultTimeout = 10 * time.Second
)

// Config tunes an Executor. Zero fields take component defaults.
type Config struct {
	MaxConcurrent          int
	FailureThreshold       int
	ResetTimeout           time.Duration
	MaxConsecutiveFailures int
	HealthCheckInterval    time.Duration
	BaseDelay              time.Duration
	MaxDelay               time.Duration

	// CallsPerSecond enables client-side pacing of executions when positive.
	CallsPerSecond float64
	Burst          int

	Logger *zap.Logger
}

// CallOptions tunes one execution.
type CallOptions struct {
	Retries         int
	Timeout         time.Duration
	DedupKey        string
	SkipHealthCheck bool
	Priority        queue.Priority
}

func (o CallOptions) withDefaults() CallOptions {
	if o.Retries <= 0 {
		o.Retries = DefaultRetries
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return o
}

// Status is an operational snapshot for dashboards and logs.
type Status struct {
	CircuitState    breaker.State
	CircuitFailures int
	Healthy         bool
	HealthFailures  int
	PendingDedup    int
	QueueDepth      int
	QueueActive     int
}

// Executor runs operations through the full resilience pipeline.
type Executor[T any] struct {
	breaker *breaker.Breaker[T]
	group   *dedup.Group[T]
	limiter *queue.Limiter[T]
	monitor *health.Monitor
	pacer   *rate.Limiter
	log     *zap.Logger
}

// New builds an Executor from cfg.
func New[T any](cfg Config) *Executor[T] {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	e := &Executor[T]{
		group:   dedup.New[T](),
		limiter: queue.New[T](cfg.MaxConcurrent),
		monitor: health.New(cfg.MaxConsecutiveFailures, cfg.HealthCheckInterval),
		log:     log,
	}
	e.breaker = breaker.New[T](breaker.Config{
		Threshold:    cfg.FailureThreshold,
		ResetTimeout: cfg.ResetTimeout,
		BaseDelay:    cfg.BaseDelay,
		MaxDelay:     cfg.MaxDelay,
		ShouldTrip:   shouldTrip,
		OnRetry: func(attempt int, err error) {
			log.Warn("retrying call", zap.Int("attempt", attempt), zap.Error(err))
		},
	})
	if cfg.CallsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		e.pacer = rate.NewLimiter(rate.Limit(cfg.CallsPerSecond), burst)
	}
	return e
}

// shouldTrip keeps the circuit breaker focused on endpoint availability. A
// well-formed JSON-RPC error proves the endpoint is reachable and parsing
// requests, so it never counts toward opening the circuit; neither do
// cancellation or the transport's local not-connected precondition.
func shouldTrip(err error) bool {
	var perr *protocol.Error
	switch {
	case errors.As(err, &perr),
		errors.Is(err, protocol.ErrMalformedResponse),
		errors.Is(err, context.Canceled),
		errors.Is(err, transport.ErrAborted),
		errors.Is(err, transport.ErrConnectionUnavailable):
		return false
	}
	return true
}

// Execute runs op under the full pipeline. With a DedupKey, concurrent
// identical calls share one underlying execution; otherwise the call is
// admitted through the priority queue.
func (e *Executor[T]) Execute(ctx context.Context, op Operation[T], opts CallOptions) (T, error) {
	var zero T
	opts = opts.withDefaults()

	if !opts.SkipHealthCheck && !e.monitor.Healthy() {
		return zero, ErrUnhealthy
	}

	run := e.wrap(op, opts)
	if opts.DedupKey != "" {
		return e.group.Do(ctx, opts.DedupKey, run)
	}
	return e.limiter.Add(ctx, opts.Priority, run)
}

// ExecuteBatch admits every operation through the priority queue and waits
// for all of them. The returned error aggregates the individual failures;
// callers inspect per-operation outcomes in the results slice.
func (e *Executor[T]) ExecuteBatch(ctx context.Context, ops []Operation[T], opts CallOptions) ([]queue.Result[T], error) {
	opts = opts.withDefaults()

	if !opts.SkipHealthCheck && !e.monitor.Healthy() {
		return nil, ErrUnhealthy
	}

	wrapped := make([]func(context.Context) (T, error), len(ops))
	for i, op := range ops {
		wrapped[i] = e.wrap(op, opts)
	}
	results := e.limiter.AddBatch(ctx, opts.Priority, wrapped)

	var agg error
	for _, r := range results {
		agg = multierr.Append(agg, r.Err)
	}
	return results, agg
}

// wrap binds one execution: pacing, the breaker's retry loop, health
// bookkeeping, and log correlation. Dedup runs the wrapped function exactly
// once per key, so attached waiters do not multiply health records.
func (e *Executor[T]) wrap(op Operation[T], opts CallOptions) func(context.Context) (T, error) {
	return func(ctx context.Context) (T, error) {
		callID := uuid.NewString()
		log := e.log.With(zap.String("call_id", callID))

		if e.pacer != nil {
			if err := e.pacer.Wait(ctx); err != nil {
				var zero T
				return zero, err
			}
		}

		start := time.Now()
		val, err := e.breaker.Execute(ctx, op, opts.Retries, opts.Timeout)
		e.record(err)
		if err != nil {
			log.Debug("call failed", zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		} else {
			log.Debug("call completed", zap.Duration("elapsed", time.Since(start)))
		}
		return val, err
	}
}

// record feeds the health monitor. Gate refusals and caller cancellation say
// nothing about endpoint health; protocol-level rejections do count, since a
// connection that only returns errors is not behaving.
func (e *Executor[T]) record(err error) {
	switch {
	case err == nil:
		e.monitor.RecordSuccess()
	case errors.Is(err, breaker.ErrOpen),
		errors.Is(err, context.Canceled),
		errors.Is(err, transport.ErrAborted),
		errors.Is(err, transport.ErrConnectionUnavailable):
		// skip
	default:
		e.monitor.RecordFailure()
	}
}

// Status snapshots the pipeline for operational visibility.
func (e *Executor[T]) Status() Status {
	return Status{
		CircuitState:    e.breaker.State(),
		CircuitFailures: e.breaker.Failures(),
		Healthy:         e.monitor.Healthy(),
		HealthFailures:  e.monitor.Failures(),
		PendingDedup:    e.group.Pending(),
		QueueDepth:      e.limiter.Depth(),
		QueueActive:     e.limiter.Active(),
	}
}

// Reset clears circuit, health, and dedup state.
func (e *Executor[T]) Reset() {
	e.breaker.Reset()
	e.monitor.Reset()
	e.group.Reset()
	e.log.Info("resilience state reset")
}
