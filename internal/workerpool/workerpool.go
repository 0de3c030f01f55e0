// Package workerpool provides the shared pool federated evaluations run member
// sub-queries on. The pool grows on demand; every task gets its own goroutine.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"runtime/pprof"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"

	"github.com/ephedra/ephedra/internal/build"
	"github.com/ephedra/ephedra/pkg/logger"
)

// ErrShutdown is returned by Go once Shutdown has been called.
var ErrShutdown = errors.New("worker pool is shut down")

var activeTasksGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: build.ProjectName,
	Name:      "worker_pool_active_tasks",
	Help:      "The number of tasks currently running in a worker pool.",
}, []string{"pool"})

// Pool runs tasks on demand. It is safe for concurrent use.
type Pool struct {
	name   string
	logger logger.Logger

	// ctx is cancelled to force-stop every running task.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool // GUARDED_BY(mu)

	wg     sync.WaitGroup
	active atomic.Int64
	gauge  prometheus.Gauge
}

type Option func(*Pool)

func WithLogger(l logger.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// New returns a running pool. name labels the pool's goroutines and metrics.
func New(name string, opts ...Option) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		name:   name,
		logger: logger.NewNoopLogger(),
		ctx:    ctx,
		cancel: cancel,
		gauge:  activeTasksGauge.WithLabelValues(name),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the name the pool was created with.
func (p *Pool) Name() string {
	return p.name
}

// Task is a submitted unit of work.
type Task struct {
	done chan struct{}
	err  error
}

// Done is closed when the task has returned.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err returns the task's error. It must only be called after Done is closed.
func (t *Task) Err() error {
	return t.err
}

// Wait blocks until the task returns or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Go runs fn on a new goroutine labelled with the pool and task names. fn's
// context is cancelled when ctx is done or the pool is force-stopped. A panic in fn
// is recovered and becomes the task error.
func (p *Pool) Go(ctx context.Context, name string, fn func(ctx context.Context) error) (*Task, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrShutdown
	}
	p.wg.Add(1)
	p.mu.Unlock()

	taskCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(p.ctx, cancel)

	t := &Task{done: make(chan struct{})}
	p.active.Add(1)
	p.gauge.Inc()
	go func() {
		defer p.wg.Done()
		defer func() {
			stop()
			cancel()
			p.active.Add(-1)
			p.gauge.Dec()
			close(t.done)
		}()

		pprof.Do(taskCtx, pprof.Labels("pool", p.name, "task", name), func(ctx context.Context) {
			recovered := panics.Try(func() {
				t.err = fn(ctx)
			})
			if recovered != nil {
				t.err = fmt.Errorf("task %s panicked: %w", name, recovered.AsError())
				p.logger.ErrorWithContext(ctx, "panic recovered",
					zap.String("pool", p.name),
					zap.String("task", name),
					zap.Error(t.err),
				)
			}
		})
	}()
	return t, nil
}

// Active returns the number of tasks that have not returned yet.
func (p *Pool) Active() int64 {
	return p.active.Load()
}

// Shutdown stops accepting tasks and waits up to timeout for the running ones.
// Tasks still running after that are cancelled and awaited. If ctx ends the wait
// early, the running tasks are cancelled, awaited, and ctx's error is returned. No
// task is running when Shutdown returns. Shutdown may be called more than once.
func (p *Pool) Shutdown(ctx context.Context, timeout time.Duration) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	case <-timer.C:
	}

	p.logger.Warn("worker pool shutdown timed out, cancelling tasks",
		zap.String("pool", p.name),
		zap.Int64("active", p.Active()),
	)
	p.cancel()
	<-done
	return ctx.Err()
}
