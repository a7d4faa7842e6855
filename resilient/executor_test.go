package resilient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/multierr"

	"nodebridge/breaker"
	"nodebridge/protocol"
)

var errBoom = errors.New("boom")

// quick keeps test executions fast: single attempt, short bound.
var quick = CallOptions{Retries: 1, Timeout: time.Second}

func TestUnhealthyGate(t *testing.T) {
	e := New[string](Config{
		MaxConsecutiveFailures: 1,
		HealthCheckInterval:    time.Minute,
		FailureThreshold:       100,
	})

	_, err := e.Execute(context.Background(), func(context.Context) (string, error) {
		return "", errBoom
	}, quick)
	if !errors.Is(err, errBoom) {
		t.Fatal(err)
	}

	var calls atomic.Int64
	_, err = e.Execute(context.Background(), func(context.Context) (string, error) {
		calls.Add(1)
		return "ok", nil
	}, quick)
	if !errors.Is(err, ErrUnhealthy) {
		t.Fatalf("expect ErrUnhealthy, got %v", err)
	}
	if calls.Load() != 0 {
		t.Fatal("operation ran despite the health gate")
	}

	// SkipHealthCheck bypasses the gate; a success heals the monitor.
	val, err := e.Execute(context.Background(), func(context.Context) (string, error) {
		return "ok", nil
	}, CallOptions{Retries: 1, Timeout: time.Second, SkipHealthCheck: true})
	if err != nil || val != "ok" {
		t.Fatalf("got %q, %v", val, err)
	}
	if s := e.Status(); !s.Healthy {
		t.Fatal("monitor did not record the success")
	}
}

func TestCircuitOpenFailsFast(t *testing.T) {
	e := New[string](Config{
		FailureThreshold:       2,
		ResetTimeout:           time.Minute,
		MaxConsecutiveFailures: 100,
	})

	var calls atomic.Int64
	op := func(context.Context) (string, error) {
		calls.Add(1)
		return "", errBoom
	}
	for i := 0; i < 2; i++ {
		if _, err := e.Execute(context.Background(), op, quick); !errors.Is(err, errBoom) {
			t.Fatal(err)
		}
	}

	_, err := e.Execute(context.Background(), op, quick)
	if !errors.Is(err, breaker.ErrOpen) {
		t.Fatalf("expect ErrOpen, got %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("operation invoked %d times", calls.Load())
	}
	if s := e.Status(); s.CircuitState != breaker.StateOpen {
		t.Fatalf("status circuit = %v", s.CircuitState)
	}
}

func TestProtocolErrorsDoNotTripCircuit(t *testing.T) {
	e := New[string](Config{
		FailureThreshold:       2,
		ResetTimeout:           time.Minute,
		MaxConsecutiveFailures: 100,
	})

	rpcErr := &protocol.Error{Code: protocol.CodeInvalidParams, Message: "bad params"}
	for i := 0; i < 5; i++ {
		_, err := e.Execute(context.Background(), func(context.Context) (string, error) {
			return "", rpcErr
		}, quick)
		var got *protocol.Error
		if !errors.As(err, &got) {
			t.Fatal(err)
		}
	}

	// The endpoint kept answering, so the circuit stays closed...
	s := e.Status()
	if s.CircuitState != breaker.StateClosed || s.CircuitFailures != 0 {
		t.Fatalf("circuit = %v with %d failures", s.CircuitState, s.CircuitFailures)
	}
	// ...but the health monitor still tracked the rejections.
	if s.HealthFailures != 5 {
		t.Fatalf("health failures = %d", s.HealthFailures)
	}
}

func TestDedupSingleExecution(t *testing.T) {
	e := New[string](Config{})

	var executions atomic.Int64
	op := func(context.Context) (string, error) {
		executions.Add(1)
		time.Sleep(50 * time.Millisecond)
		return "overview", nil
	}

	const callers = 5
	var wg sync.WaitGroup
	results := make([]string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			val, err := e.Execute(context.Background(), op, CallOptions{
				Retries:  1,
				Timeout:  time.Second,
				DedupKey: "dashboard_overview_data",
			})
			if err != nil {
				t.Error(err)
				return
			}
			results[i] = val
		}(i)
	}
	wg.Wait()

	if executions.Load() != 1 {
		t.Fatalf("operation executed %d times", executions.Load())
	}
	for i, val := range results {
		if val != "overview" {
			t.Fatalf("caller %d got %q", i, val)
		}
	}
	if s := e.Status(); s.PendingDedup != 0 {
		t.Fatalf("pending dedup = %d", s.PendingDedup)
	}
}

func TestExecuteBatchAggregatesFailures(t *testing.T) {
	e := New[string](Config{MaxConcurrent: 2})

	ops := []Operation[string]{
		func(context.Context) (string, error) { return "a", nil },
		func(context.Context) (string, error) { return "", errBoom },
		func(context.Context) (string, error) { return "c", nil },
	}
	results, err := e.ExecuteBatch(context.Background(), ops, quick)
	if len(results) != 3 {
		t.Fatalf("results = %d", len(results))
	}
	if results[0].Value != "a" || results[2].Value != "c" {
		t.Fatalf("values = %q, %q", results[0].Value, results[2].Value)
	}
	if !errors.Is(results[1].Err, errBoom) {
		t.Fatalf("result 1 err = %v", results[1].Err)
	}
	if got := multierr.Errors(err); len(got) != 1 {
		t.Fatalf("aggregate = %v", err)
	}
}

func TestPacingDelaysExecutions(t *testing.T) {
	e := New[int](Config{CallsPerSecond: 100, Burst: 1})

	op := func(context.Context) (int, error) { return 0, nil }
	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := e.Execute(context.Background(), op, quick); err != nil {
			t.Fatal(err)
		}
	}
	// Two of the three executions had to wait for a token (10ms apart).
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Fatalf("elapsed = %v, pacing not applied", elapsed)
	}
}

func TestResetClearsState(t *testing.T) {
	e := New[string](Config{
		FailureThreshold:       1,
		ResetTimeout:           time.Minute,
		MaxConsecutiveFailures: 1,
		HealthCheckInterval:    time.Minute,
	})

	_, _ = e.Execute(context.Background(), func(context.Context) (string, error) {
		return "", errBoom
	}, quick)

	s := e.Status()
	if s.CircuitState != breaker.StateOpen || s.Healthy {
		t.Fatalf("pre-reset status = %+v", s)
	}

	e.Reset()
	s = e.Status()
	if s.CircuitState != breaker.StateClosed || !s.Healthy || s.CircuitFailures != 0 || s.HealthFailures != 0 {
		t.Fatalf("post-reset status = %+v", s)
	}
}
