package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// DefaultQueueSize bounds the number of tasks waiting for a worker
const DefaultQueueSize = 1024

// Task is one unit of work run by the pool
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// PoolStats is a point-in-time view of the pool counters
type PoolStats struct {
	Workers   int   `json:"workers"`
	Queued    int   `json:"queued"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panicked  int64 `json:"panicked"`
}

// Pool runs tasks on a fixed number of workers fed from a bounded queue.
// A failing or panicking task is logged and the worker moves on.
type Pool struct {
	workers int
	queue   chan Task
	logger  *slog.Logger

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	panicked  atomic.Int64
}

// DefaultWorkers returns max(4, NumCPU)
func DefaultWorkers() int {
	return max(4, runtime.NumCPU())
}

// NewPool creates a pool. Non-positive sizes take the defaults.
func NewPool(workers, queueSize int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers()
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		workers: workers,
		queue:   make(chan Task, queueSize),
		logger:  logger,
	}
}

// Submit queues a task, blocking while the queue is full.
func (p *Pool) Submit(ctx context.Context, t Task) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case p.queue <- t:
		p.submitted.Add(1)
		return nil
	}
}

// Run starts the workers and blocks until ctx is cancelled. Tasks still
// queued at that point are run with the cancelled context so they can bail
// out quickly.
func (p *Pool) Run(ctx context.Context) error {
	g := new(errgroup.Group)
	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			p.work(ctx)
			return nil
		})
	}
	return g.Wait()
}

func (p *Pool) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.drain(ctx)
			return
		case t := <-p.queue:
			p.execute(ctx, t)
		}
	}
}

func (p *Pool) drain(ctx context.Context) {
	for {
		select {
		case t := <-p.queue:
			p.execute(ctx, t)
		default:
			return
		}
	}
}

func (p *Pool) execute(ctx context.Context, t Task) {
	defer func() {
		if r := recover(); r != nil {
			p.panicked.Add(1)
			p.failed.Add(1)
			p.logger.Error("task panicked", slog.String("task", t.Name), slog.String("panic", fmt.Sprint(r)))
		}
	}()

	if err := t.Run(ctx); err != nil {
		p.failed.Add(1)
		p.logger.Warn("task failed", slog.String("task", t.Name), slog.String("error", err.Error()))
		return
	}
	p.completed.Add(1)
}

// Stats returns the current counters
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Workers:   p.workers,
		Queued:    len(p.queue),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Panicked:  p.panicked.Load(),
	}
}
