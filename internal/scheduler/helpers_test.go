package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/chrono/internal/clock"
	"github.com/nextlevelbuilder/chrono/internal/cron"
	"github.com/nextlevelbuilder/chrono/internal/lock"
	"github.com/nextlevelbuilder/chrono/internal/store"
)

// fakeLocker is an in-process Locker for tests. Keys can be pre-held to
// simulate a peer replica, and Acquire can be forced to fail.
type fakeLocker struct {
	mu         sync.Mutex
	held       map[string]string
	acquireErr error
	acquires   int
	releases   int
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]string)}
}

func (f *fakeLocker) Acquire(ctx context.Context, key string, ttl, wait time.Duration) (*lock.Lease, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquires++
	if f.acquireErr != nil {
		return nil, f.acquireErr
	}
	if _, taken := f.held[key]; taken {
		return nil, lock.ErrBusy
	}
	token := "tok-" + key
	f.held[key] = token
	return &lock.Lease{Key: key, Token: token, Deadline: time.Now().Add(ttl)}, nil
}

func (f *fakeLocker) Release(ctx context.Context, lease *lock.Lease) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases++
	if f.held[lease.Key] != lease.Token {
		return lock.ErrLostLease
	}
	delete(f.held, lease.Key)
	return nil
}

// hold marks a key as owned by a peer.
func (f *fakeLocker) hold(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.held[key] = "peer"
}

// testRig bundles the engine pieces most scheduler tests need.
type testRig struct {
	clk        *clock.Fake
	eval       *cron.Evaluator
	store      *store.Memory
	locker     *fakeLocker
	dispatcher *Dispatcher
	runner     *Runner
}

func newTestRig(t *testing.T, at string, work Work) *testRig {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, at)
	if err != nil {
		t.Fatalf("parse %q: %v", at, err)
	}

	clk := clock.NewFake(ts)
	eval := cron.New()
	mem := store.NewMemory(clk)
	locker := newFakeLocker()
	d := NewDispatcher(clk, eval, 2)
	r := NewRunner(mem, locker, eval, clk, d, work)
	d.SetOnFire(r.Fire)

	return &testRig{clk: clk, eval: eval, store: mem, locker: locker, dispatcher: d, runner: r}
}

// createTask persists and arms a task, mirroring the admin create path.
func (rig *testRig) createTask(t *testing.T, name, expr string) *store.ScheduledTask {
	t.Helper()
	next, err := rig.eval.NextAfter(expr, rig.clk.Now())
	if err != nil {
		t.Fatalf("NextAfter(%q): %v", expr, err)
	}
	task, err := rig.store.Create(context.Background(), store.TaskDef{
		Name:           name,
		CronExpression: expr,
		NextRunAt:      next,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := rig.dispatcher.Arm(task); err != nil {
		t.Fatalf("Arm: %v", err)
	}
	return task
}

// executions returns all history rows for slug in executed_at order.
func (rig *testRig) executions(t *testing.T, slug string) []store.ExecutedTask {
	t.Helper()
	_, rows, err := rig.store.ListExecutions(context.Background(), slug, 0, 0)
	if err != nil {
		t.Fatalf("ListExecutions: %v", err)
	}
	return rows
}

// task reloads the persisted task.
func (rig *testRig) task(t *testing.T, slug string) *store.ScheduledTask {
	t.Helper()
	task, err := rig.store.GetBySlug(context.Background(), slug)
	if err != nil {
		t.Fatalf("GetBySlug: %v", err)
	}
	return task
}
