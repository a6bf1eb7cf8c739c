// Package pool bounds the concurrency of match conduction. An official
// assigned a large round submits one task per match; the pool caps how
// many run at once and queues the rest.
package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	ErrClosed = errors.New("pool is closed")
	ErrFull   = errors.New("pool queue is full")
)

// Task is one unit of work, typically a single match conduction.
type Task func(ctx context.Context)

// Config sizes the pool.
type Config struct {
	MaxWorkers int
	QueueSize  int
}

// DefaultConfig allows a full round of a maximum-size league to run at
// once.
func DefaultConfig() Config {
	return Config{MaxWorkers: 8, QueueSize: 64}
}

func (c Config) withDefaults() Config {
	if c.MaxWorkers < 1 {
		c.MaxWorkers = 8
	}
	if c.QueueSize < 1 {
		c.QueueSize = 64
	}
	return c
}

// Pool runs submitted tasks on a fixed set of workers.
type Pool struct {
	tasks  chan submission
	closed atomic.Bool
	wg     sync.WaitGroup

	active    atomic.Int32
	submitted atomic.Int64
	completed atomic.Int64
	rejected  atomic.Int64
}

type submission struct {
	ctx  context.Context
	task Task
}

// New starts the workers immediately.
func New(config Config) *Pool {
	config = config.withDefaults()
	p := &Pool{tasks: make(chan submission, config.QueueSize)}
	for i := 0; i < config.MaxWorkers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Submit queues a task. It fails fast when the queue is full rather
// than blocking the caller.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	if p.closed.Load() {
		return ErrClosed
	}
	p.submitted.Add(1)
	select {
	case p.tasks <- submission{ctx: ctx, task: task}:
		return nil
	default:
		p.rejected.Add(1)
		return ErrFull
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for s := range p.tasks {
		if s.ctx.Err() != nil {
			continue
		}
		p.active.Add(1)
		s.task(s.ctx)
		p.active.Add(-1)
		p.completed.Add(1)
	}
}

// Close stops accepting tasks, runs what is queued, and waits for the
// workers to drain.
func (p *Pool) Close() {
	if p.closed.Swap(true) {
		return
	}
	close(p.tasks)
	p.wg.Wait()
}

// Stats is a point-in-time snapshot.
type Stats struct {
	Active    int   `json:"active"`
	Queued    int   `json:"queued"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Rejected  int64 `json:"rejected"`
}

// Stats returns current pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Active:    int(p.active.Load()),
		Queued:    len(p.tasks),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Rejected:  p.rejected.Load(),
	}
}
