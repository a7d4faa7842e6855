package dedup

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCoalescesConcurrentCalls(t *testing.T) {
	g := New[string]()
	var executions atomic.Int64

	op := func(context.Context) (string, error) {
		executions.Add(1)
		time.Sleep(50 * time.Millisecond)
		return "value", nil
	}

	const callers = 10
	results := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			val, err := g.Do(context.Background(), "dashboard_overview_data", op)
			if err != nil {
				t.Errorf("caller %d: %v", i, err)
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
		if val != "value" {
			t.Fatalf("caller %d got %q", i, val)
		}
	}
}

func TestSharesError(t *testing.T) {
	g := New[string]()
	errCall := errors.New("endpoint temporarily unavailable")
	release := make(chan struct{})

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = g.Do(context.Background(), "k", func(context.Context) (string, error) {
				<-release
				return "", errCall
			})
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, err := range errs {
		if !errors.Is(err, errCall) {
			t.Fatalf("caller %d got %v", i, err)
		}
	}
}

func TestKeyReusableAfterSettlement(t *testing.T) {
	g := New[int]()
	var executions atomic.Int64
	op := func(context.Context) (int, error) {
		executions.Add(1)
		return int(executions.Load()), nil
	}

	if v, _ := g.Do(context.Background(), "k", op); v != 1 {
		t.Fatalf("first call = %d", v)
	}
	if v, _ := g.Do(context.Background(), "k", op); v != 2 {
		t.Fatalf("second call = %d", v)
	}
	if g.Pending() != 0 {
		t.Fatalf("pending = %d", g.Pending())
	}
}

func TestDistinctKeysIndependent(t *testing.T) {
	g := New[string]()
	var executions atomic.Int64
	op := func(context.Context) (string, error) {
		executions.Add(1)
		time.Sleep(30 * time.Millisecond)
		return "ok", nil
	}

	var wg sync.WaitGroup
	for _, key := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			_, _ = g.Do(context.Background(), key, op)
		}(key)
	}
	wg.Wait()

	if executions.Load() != 3 {
		t.Fatalf("executions = %d", executions.Load())
	}
}

func TestWaiterCancellation(t *testing.T) {
	g := New[string]()
	started := make(chan struct{})

	leaderDone := make(chan error, 1)
	go func() {
		_, err := g.Do(context.Background(), "k", func(context.Context) (string, error) {
			close(started)
			time.Sleep(100 * time.Millisecond)
			return "ok", nil
		})
		leaderDone <- err
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := g.Do(ctx, "k", func(context.Context) (string, error) {
		t.Error("waiter must not start a second execution")
		return "", nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expect waiter ctx error, got %v", err)
	}

	// The shared execution still settles normally for the leader.
	if err := <-leaderDone; err != nil {
		t.Fatal(err)
	}
	if g.Pending() != 0 {
		t.Fatalf("pending = %d", g.Pending())
	}
}

func TestPendingAndReset(t *testing.T) {
	g := New[string]()
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = g.Do(context.Background(), "k", func(context.Context) (string, error) {
			<-release
			return "ok", nil
		})
	}()

	for i := 0; g.Pending() != 1 && i < 100; i++ {
		time.Sleep(time.Millisecond)
	}
	if g.Pending() != 1 {
		t.Fatalf("pending = %d", g.Pending())
	}

	g.Reset()
	if g.Pending() != 0 {
		t.Fatalf("pending after reset = %d", g.Pending())
	}

	close(release)
	<-done
}
