// Package worker provides goroutine pool management.
//
// Concurrent work goes through a Pool with context propagation instead of naked
// goroutines, so the degree of parallelism is bounded and panics are logged.
//
// Import Path: metapub.io/metapub/internal/pkg/worker
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"metapub.io/metapub/internal/pkg/logger"
)

// ErrPoolClosed is returned when submitting to a closed pool.
var ErrPoolClosed = errors.New("worker pool is closed")

// Task is a context-aware task function.
type Task func(ctx context.Context)

// Pool wraps ants.Pool with context-aware submission.
type Pool struct {
	pool *ants.Pool
	name string
}

// PoolConfig contains Worker Pool configuration.
type PoolConfig struct {
	Name           string
	Size           int
	ExpiryDuration time.Duration
}

// DefaultPoolConfig returns the configuration of the probe pool.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Name:           "probe",
		Size:           4,
		ExpiryDuration: 10 * time.Second,
	}
}

// NewPool creates a Pool. Submission blocks while all workers are busy.
func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.Name == "" {
		cfg.Name = "probe"
	}
	if cfg.ExpiryDuration <= 0 {
		cfg.ExpiryDuration = 10 * time.Second
	}

	// Unified panic recovery
	name := cfg.Name
	panicHandler := func(p interface{}) {
		logger.Error("Worker panic recovered",
			zap.String("pool", name),
			zap.Any("panic", p),
			zap.Stack("stack"),
		)
	}

	p, err := ants.NewPool(cfg.Size,
		ants.WithPanicHandler(panicHandler),
		ants.WithNonblocking(false),
		ants.WithExpiryDuration(cfg.ExpiryDuration),
	)
	if err != nil {
		return nil, err
	}
	return &Pool{pool: p, name: name}, nil
}

// Name returns the pool name used in logs.
func (p *Pool) Name() string {
	return p.name
}

// Submit submits a context-aware task.
// The task receives the caller's context and SHOULD check ctx.Done() at blocking points.
// If context is already cancelled, returns ctx.Err() immediately without submitting.
// A task whose context is cancelled while queued is skipped.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	// Fast path: check if context is already cancelled
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	err := p.pool.Submit(func() {
		// Check context again inside worker (may have been cancelled while queued)
		select {
		case <-ctx.Done():
			logger.Debug("Task skipped: context cancelled",
				zap.String("pool", p.name),
				zap.Error(ctx.Err()),
			)
			return
		default:
		}
		task(ctx)
	})
	if errors.Is(err, ants.ErrPoolClosed) {
		return ErrPoolClosed
	}
	return err
}

// Run submits every task and waits until all of them returned or were skipped.
// It returns the first submission error, or ctx.Err() when ctx ended early.
func (p *Pool) Run(ctx context.Context, tasks []Task) error {
	var wg sync.WaitGroup
	var submitErr error
	for _, task := range tasks {
		if ctx.Err() != nil {
			break
		}
		task := task
		wg.Add(1)
		// Submitted directly so that skipped tasks still release the WaitGroup.
		err := p.pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			task(ctx)
		})
		if err != nil {
			wg.Done()
			if errors.Is(err, ants.ErrPoolClosed) {
				err = ErrPoolClosed
			}
			submitErr = err
			break
		}
	}
	wg.Wait()

	if submitErr != nil {
		return submitErr
	}
	return ctx.Err()
}

// Shutdown releases the pool, waiting at most 30s for running tasks.
func (p *Pool) Shutdown() {
	// ants best practice: avoid infinite wait
	const shutdownTimeout = 30 * time.Second
	if err := p.pool.ReleaseTimeout(shutdownTimeout); err != nil {
		logger.Warn("Worker pool shutdown timeout", zap.String("pool", p.name), zap.Error(err))
	}
}

// Metrics returns pool metrics for observability.
func (p *Pool) Metrics() map[string]int {
	return map[string]int{
		"running": p.pool.Running(),
		"free":    p.pool.Free(),
		"cap":     p.pool.Cap(),
	}
}
