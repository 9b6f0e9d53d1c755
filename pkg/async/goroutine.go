package async

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/primex-melvin/ppdo-next-sub004/pkg/observability"
)

// ErrPoolShutDown is returned by Submit after Shutdown.
var ErrPoolShutDown = errors.New("worker pool shut down")

// SafeGo executes a function in a goroutine with:
// - Context cancellation support
// - Panic recovery
// - Timeout enforcement (0 = no timeout)
// - Error logging
//
// Use this instead of bare `go func()` to prevent goroutine leaks and crashes.
//
// Example:
//
//	SafeGo(ctx, logger, 10*time.Minute, "scheduled reindex", func(ctx context.Context) error {
//	    _, err := reindexer.Run(ctx, search.ReindexOptions{Prune: true})
//	    return err
//	})
func SafeGo(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	go func() {
		ctx, cancel := withOptionalTimeout(parentCtx, timeout)
		defer cancel()

		defer observability.RecoverPanic(logger, taskName)

		if err := fn(ctx); err != nil {
			logger.WithError(err).WithField("task", taskName).Error("Background task failed")
		}
	}()
}

func withOptionalTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// WorkerPool manages a pool of workers that process tasks from a channel.
// Provides graceful shutdown and error collection.
type WorkerPool struct {
	taskName     string
	timeout      time.Duration
	logger       *observability.Logger
	workCh       chan func(context.Context) error
	doneCh       chan struct{}
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
	closeOnce    sync.Once

	mu   sync.Mutex
	errs []error
}

// NewWorkerPool creates a new worker pool.
//
// Example:
//
//	pool := NewWorkerPool(ctx, logger, 4, "index rebuild", 30*time.Second)
//	defer pool.Shutdown(5 * time.Second)
//
//	pool.Submit(func(ctx context.Context) error {
//	    return indexOne(ctx, rec)
//	})
func NewWorkerPool(ctx context.Context, logger *observability.Logger, workers int, taskName string, timeout time.Duration) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	ctx, cancel := context.WithCancel(ctx)

	pool := &WorkerPool{
		taskName: taskName,
		timeout:  timeout,
		logger:   logger,
		workCh:   make(chan func(context.Context) error, workers*2),
		doneCh:   make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}

	go func() {
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				pool.worker(id)
			}(i)
		}
		wg.Wait()
		close(pool.doneCh)
	}()

	return pool
}

// Submit adds a task to the worker pool. Blocks while the queue is full.
func (p *WorkerPool) Submit(fn func(context.Context) error) (err error) {
	select {
	case <-p.doneCh:
		return ErrPoolShutDown
	default:
	}

	// Sending on a channel closed by a concurrent Shutdown panics.
	defer func() {
		if r := recover(); r != nil {
			err = ErrPoolShutDown
		}
	}()

	select {
	case p.workCh <- fn:
		return nil
	case <-p.ctx.Done():
		return p.ctx.Err()
	}
}

// Wait stops accepting work and blocks until queued tasks are drained.
func (p *WorkerPool) Wait() {
	p.closeOnce.Do(func() { close(p.workCh) })
	<-p.doneCh
}

// Shutdown gracefully shuts down the worker pool.
// Waits up to timeout for workers to finish current tasks.
func (p *WorkerPool) Shutdown(timeout time.Duration) error {
	var shutdownErr error

	p.shutdownOnce.Do(func() {
		p.closeOnce.Do(func() { close(p.workCh) })

		select {
		case <-p.doneCh:
			p.cancel()
		case <-time.After(timeout):
			p.cancel()
			shutdownErr = errors.New("worker pool shutdown timed out after " + timeout.String())
		}
	})

	return shutdownErr
}

// Errors returns every error returned or panicked by a task so far.
func (p *WorkerPool) Errors() []error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]error(nil), p.errs...)
}

func (p *WorkerPool) record(err error) {
	p.mu.Lock()
	p.errs = append(p.errs, err)
	p.mu.Unlock()
}

func (p *WorkerPool) worker(id int) {
	for {
		select {
		case <-p.ctx.Done():
			return

		case fn, ok := <-p.workCh:
			if !ok {
				return
			}
			p.run(id, fn)
		}
	}
}

func (p *WorkerPool) run(id int, fn func(context.Context) error) {
	ctx, cancel := withOptionalTimeout(p.ctx, p.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err := observability.MustRecover(r)
			p.logger.WithError(err).
				WithField("task", p.taskName).
				WithField("worker", id).
				Error("PANIC recovered in worker")
			p.record(err)
		}
	}()

	if err := fn(ctx); err != nil {
		p.record(err)
	}
}

// Batch processes a slice of items concurrently using a worker pool.
// Returns all errors encountered; a cancelled ctx stops submission and is
// reported as one of the errors.
//
// Example:
//
//	errs := Batch(ctx, logger, records, 4, "reindex projects", 0, func(ctx context.Context, rec Record) error {
//	    return index(ctx, rec)
//	})
func Batch[T any](ctx context.Context, logger *observability.Logger, items []T, workers int, taskName string, timeout time.Duration,
	fn func(context.Context, T) error) []error {

	pool := NewWorkerPool(ctx, logger, workers, taskName, timeout)

	var submitErr error
	for _, item := range items {
		item := item
		if err := pool.Submit(func(ctx context.Context) error {
			return fn(ctx, item)
		}); err != nil {
			submitErr = err
			break
		}
	}

	pool.Wait()
	pool.cancel()

	errs := pool.Errors()
	if submitErr != nil {
		errs = append(errs, submitErr)
	}
	return errs
}
