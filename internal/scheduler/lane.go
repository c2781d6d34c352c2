package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrLaneStopped is returned by Submit after the lane has been stopped.
var ErrLaneStopped = errors.New("lane is stopped")

// Lane is a bounded worker pool. Fires run on a lane so a slow execution
// never blocks the dispatcher's arming loop.
type Lane struct {
	name    string
	workers int
	tasks   chan func()
	wg      sync.WaitGroup
	stopped atomic.Bool
	done    int64
}

// LaneStats is a snapshot of lane activity.
type LaneStats struct {
	Name      string `json:"name"`
	Workers   int    `json:"workers"`
	Queued    int    `json:"queued"`
	Completed int64  `json:"completed"`
}

// NewLane starts a lane with the given worker concurrency.
func NewLane(name string, concurrency int) *Lane {
	if concurrency <= 0 {
		concurrency = 1
	}
	l := &Lane{
		name:    name,
		workers: concurrency,
		tasks:   make(chan func(), 64),
	}
	l.wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go l.worker()
	}
	return l
}

func (l *Lane) worker() {
	defer l.wg.Done()
	for fn := range l.tasks {
		fn()
		atomic.AddInt64(&l.done, 1)
	}
}

// Submit queues fn for execution. Blocks when the queue is full until
// there is room or ctx is done.
func (l *Lane) Submit(ctx context.Context, fn func()) error {
	if l.stopped.Load() {
		return ErrLaneStopped
	}
	select {
	case l.tasks <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop drains queued work and waits for in-flight executions.
func (l *Lane) Stop() {
	if l.stopped.Swap(true) {
		return
	}
	close(l.tasks)
	l.wg.Wait()
}

// Stats returns a snapshot of the lane.
func (l *Lane) Stats() LaneStats {
	return LaneStats{
		Name:      l.name,
		Workers:   l.workers,
		Queued:    len(l.tasks),
		Completed: atomic.LoadInt64(&l.done),
	}
}
