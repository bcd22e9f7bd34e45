// Package worker provides the bounded background pool that owns all
// fire-and-forget work: conversation emission, embedding attachment, and
// graph linking. Submission never blocks the caller; a full queue drops the
// task and accounts for it, preserving the guarantee that user-visible
// response latency never depends on knowledge-write latency.
package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"mnemo-backend/internal/observability"
)

// Task is one unit of background work.
type Task struct {
	// Name labels the task in logs and metrics.
	Name string
	// Run executes the task. Errors are logged and counted, never surfaced.
	Run func(ctx context.Context) error
}

// Pool is a fixed-size worker pool with a bounded queue.
type Pool struct {
	queue   chan Task
	timeout time.Duration
	logger  *zap.Logger
	metrics *observability.Collector

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopped  chan struct{}
}

// NewPool creates a pool with the given worker count, queue depth, and
// per-task timeout.
func NewPool(workers, queueDepth int, timeout time.Duration, logger *zap.Logger, metrics *observability.Collector) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if queueDepth <= 0 {
		queueDepth = 256
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	p := &Pool{
		queue:   make(chan Task, queueDepth),
		timeout: timeout,
		logger:  logger,
		metrics: metrics,
		stopped: make(chan struct{}),
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.run()
	}
	return p
}

// Submit enqueues a task without blocking. Returns false if the queue is
// full or the pool is shut down; the task is dropped and counted.
func (p *Pool) Submit(task Task) bool {
	select {
	case <-p.stopped:
		p.drop(task, "pool stopped")
		return false
	default:
	}

	select {
	case p.queue <- task:
		if p.metrics != nil {
			p.metrics.WorkerQueueDepth.Set(float64(len(p.queue)))
		}
		return true
	default:
		p.drop(task, "queue full")
		return false
	}
}

// Shutdown stops accepting work and waits for in-flight tasks, bounded by ctx.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.stopOnce.Do(func() {
		close(p.stopped)
		close(p.queue)
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) run() {
	defer p.wg.Done()
	for task := range p.queue {
		if p.metrics != nil {
			p.metrics.WorkerQueueDepth.Set(float64(len(p.queue)))
		}
		p.execute(task)
	}
}

func (p *Pool) execute(task Task) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("background task panicked",
				zap.String("task", task.Name),
				zap.Any("panic", r))
			if p.metrics != nil {
				p.metrics.SideEffectFailures.WithLabelValues(task.Name).Inc()
			}
		}
	}()

	if err := task.Run(ctx); err != nil {
		p.logger.Warn("background task failed",
			zap.String("task", task.Name),
			zap.Error(err))
		if p.metrics != nil {
			p.metrics.SideEffectFailures.WithLabelValues(task.Name).Inc()
		}
	}
}

func (p *Pool) drop(task Task, reason string) {
	p.logger.Warn("background task dropped",
		zap.String("task", task.Name),
		zap.String("reason", reason))
	if p.metrics != nil {
		p.metrics.WorkerDropped.Inc()
	}
}
