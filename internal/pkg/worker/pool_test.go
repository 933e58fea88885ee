package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"metapub.io/metapub/internal/pkg/logger"
)

func init() {
	// Initialize logger for tests
	_ = logger.Init("error", "json")
}

func TestNewPool(t *testing.T) {
	pool, err := NewPool(DefaultPoolConfig())
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	defer pool.Shutdown()

	if pool.Name() != "probe" {
		t.Errorf("Name() = %q, want probe", pool.Name())
	}
	if got := pool.Metrics()["cap"]; got != 4 {
		t.Errorf("cap = %d, want 4", got)
	}
}

func TestPool_Submit(t *testing.T) {
	ctx := context.Background()
	pool, err := NewPool(PoolConfig{Name: "test", Size: 2})
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	defer pool.Shutdown()

	var executed atomic.Bool
	var wg sync.WaitGroup
	wg.Add(1)

	err = pool.Submit(ctx, func(ctx context.Context) {
		executed.Store(true)
		wg.Done()
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	wg.Wait()
	if !executed.Load() {
		t.Error("Task was not executed")
	}
}

func TestPool_Submit_CancelledContext(t *testing.T) {
	pool, err := NewPool(DefaultPoolConfig())
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	defer pool.Shutdown()

	cancelledCtx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately

	err = pool.Submit(cancelledCtx, func(ctx context.Context) {
		t.Error("Task should not execute with cancelled context")
	})
	if err != context.Canceled {
		t.Errorf("Submit() error = %v, want context.Canceled", err)
	}
}

func TestPool_Submit_AfterShutdown(t *testing.T) {
	pool, err := NewPool(DefaultPoolConfig())
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	pool.Shutdown()

	err = pool.Submit(context.Background(), func(ctx context.Context) {})
	if err != ErrPoolClosed {
		t.Errorf("Submit() error = %v, want ErrPoolClosed", err)
	}
}

func TestPool_Run_BoundsConcurrency(t *testing.T) {
	pool, err := NewPool(PoolConfig{Name: "test", Size: 3})
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	defer pool.Shutdown()

	var running, peak, done atomic.Int32
	tasks := make([]Task, 20)
	for i := range tasks {
		tasks[i] = func(ctx context.Context) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
			done.Add(1)
		}
	}

	if err := pool.Run(context.Background(), tasks); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if done.Load() != 20 {
		t.Errorf("done = %d, want 20", done.Load())
	}
	if peak.Load() > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", peak.Load())
	}
}

func TestPool_Run_CancelledContextReturns(t *testing.T) {
	pool, err := NewPool(PoolConfig{Name: "test", Size: 1})
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	defer pool.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Int32
	tasks := []Task{
		func(ctx context.Context) { ran.Add(1); cancel() },
		func(ctx context.Context) { ran.Add(1) },
		func(ctx context.Context) { ran.Add(1) },
	}

	finished := make(chan error, 1)
	go func() { finished <- pool.Run(ctx, tasks) }()

	select {
	case err := <-finished:
		if err != context.Canceled {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancellation")
	}
	if ran.Load() < 1 {
		t.Error("first task did not run")
	}
}
