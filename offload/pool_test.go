package offload_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Tutortoise/live-detection-stream/offload"
)

// TestConcurrencyBound validates that no more than Size tasks ever run at once.
//
// Scenario:
//  1. Pool of 2 workers
//  2. 12 callers submit a sleeping task at the same time
//  3. Each task tracks how many tasks are running alongside it
//  4. Assert: observed concurrency and Peak never exceed 2, all tasks complete
func TestConcurrencyBound(t *testing.T) {
	pool := offload.New(2)
	defer pool.Close()

	var running, maxRunning int32
	var wg sync.WaitGroup

	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := offload.Do(context.Background(), pool, func() (int, error) {
				n := atomic.AddInt32(&running, 1)
				for {
					m := atomic.LoadInt32(&maxRunning)
					if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				return i, nil
			})
			if err != nil {
				t.Errorf("Do() failed: %v", err)
			}
			if v != i {
				t.Errorf("Do() returned %d, want %d", v, i)
			}
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&maxRunning); got > 2 {
		t.Errorf("observed %d concurrent tasks, bound is 2", got)
	}

	m := pool.GetMetrics()
	if m.Peak > 2 {
		t.Errorf("Peak = %d, bound is 2", m.Peak)
	}
	if m.Completed != 12 || m.Submitted != 12 {
		t.Errorf("Submitted/Completed = %d/%d, want 12/12", m.Submitted, m.Completed)
	}
	if m.Active != 0 || m.Queued != 0 {
		t.Errorf("Active/Queued = %d/%d after drain, want 0/0", m.Active, m.Queued)
	}
}

// occupy parks the pool's only worker until the returned func is called. It
// returns once the blocking task is running.
func occupy(t *testing.T, pool *offload.Pool) (unblock func(), done <-chan error) {
	t.Helper()

	release := make(chan struct{})
	errc := make(chan error, 1)
	go func() {
		errc <- offload.Run(context.Background(), pool, func() error {
			<-release
			return nil
		})
	}()

	deadline := time.Now().Add(5 * time.Second)
	for pool.GetMetrics().Active != 1 {
		if time.Now().After(deadline) {
			close(release)
			t.Fatalf("blocking task never started")
		}
		time.Sleep(time.Millisecond)
	}

	var once sync.Once
	return func() { once.Do(func() { close(release) }) }, errc
}

func waitQueued(t *testing.T, pool *offload.Pool, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for pool.GetMetrics().Queued != n {
		if time.Now().After(deadline) {
			t.Fatalf("Queued = %d, want %d", pool.GetMetrics().Queued, n)
		}
		time.Sleep(time.Millisecond)
	}
}

// TestSaturatedPoolQueues validates that a busy pool queues work instead of rejecting it.
//
// Scenario:
//  1. Pool of 1 worker, parked on a blocking task
//  2. 3 callers submit quick tasks
//  3. Assert: all 3 sit in the queue and none runs while the worker is busy
//  4. Assert: once the worker frees up, every queued task completes
func TestSaturatedPoolQueues(t *testing.T) {
	pool := offload.New(1)
	defer pool.Close()

	unblock, blocked := occupy(t, pool)
	defer unblock()

	results := make(chan int, 3)
	for i := 0; i < 3; i++ {
		go func(i int) {
			v, err := offload.Do(context.Background(), pool, func() (int, error) { return i, nil })
			if err != nil {
				t.Errorf("queued Do() failed: %v", err)
			}
			results <- v
		}(i)
	}
	waitQueued(t, pool, 3)

	if len(results) != 0 {
		t.Fatalf("queued tasks ran while the only worker was busy")
	}

	unblock()
	if err := <-blocked; err != nil {
		t.Fatalf("blocking task failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		select {
		case <-results:
		case <-time.After(time.Second):
			t.Fatalf("queued task %d never completed", i)
		}
	}
}

// TestCancelledBeforeStartIsSkipped validates that queued work with a done context never runs.
func TestCancelledBeforeStartIsSkipped(t *testing.T) {
	pool := offload.New(1)
	defer pool.Close()

	unblock, _ := occupy(t, pool)
	defer unblock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var ran atomic.Bool
	errc := make(chan error, 1)
	go func() {
		errc <- offload.Run(ctx, pool, func() error {
			ran.Store(true)
			return nil
		})
	}()
	waitQueued(t, pool, 1)

	cancel()
	unblock()

	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
	if ran.Load() {
		t.Errorf("task ran even though its context was cancelled before start")
	}
	if m := pool.GetMetrics(); m.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", m.Skipped)
	}
}

// TestStartedTaskRunsToCompletion validates that cancellation does not abandon a running task.
func TestStartedTaskRunsToCompletion(t *testing.T) {
	pool := offload.New(1)
	defer pool.Close()

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})

	go func() {
		<-started
		cancel()
	}()

	v, err := offload.Do(ctx, pool, func() (string, error) {
		close(started)
		time.Sleep(20 * time.Millisecond)
		return "done", nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v, want nil", err)
	}
	if v != "done" {
		t.Errorf("Do() = %q, want %q", v, "done")
	}
}

func TestPanicBecomesError(t *testing.T) {
	pool := offload.New(1)
	defer pool.Close()

	err := offload.Run(context.Background(), pool, func() error {
		panic("boom")
	})
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("Run() error = %v, want panic converted to error", err)
	}

	// The worker must survive the panic.
	if err := offload.Run(context.Background(), pool, func() error { return nil }); err != nil {
		t.Fatalf("Run() after panic failed: %v", err)
	}
}

func TestClosedPoolRejects(t *testing.T) {
	pool := offload.New(0)
	if pool.Size() != offload.DefaultSize {
		t.Errorf("Size() = %d, want default %d", pool.Size(), offload.DefaultSize)
	}
	pool.Close()
	pool.Close()

	if err := offload.Run(context.Background(), pool, func() error { return nil }); !errors.Is(err, offload.ErrPoolClosed) {
		t.Errorf("Run() after Close error = %v, want ErrPoolClosed", err)
	}
}
