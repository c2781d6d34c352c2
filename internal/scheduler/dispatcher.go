// Package scheduler hosts the in-process engine: the dispatcher that
// fires tasks at cron-computed instants, the runner that executes the
// per-fire transaction, and the boot-time recovery procedure.
package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nextlevelbuilder/chrono/internal/clock"
	"github.com/nextlevelbuilder/chrono/internal/cron"
	"github.com/nextlevelbuilder/chrono/internal/store"
)

// tickInterval is how often the dispatcher loop scans for due triggers.
const tickInterval = 1 * time.Second

// FireFunc is invoked on a worker lane when an armed trigger comes due.
type FireFunc func(ctx context.Context, slug string)

// armedTrigger is a one-shot timer entry. After it fires the runner
// re-arms the slug with the next cron instant.
type armedTrigger struct {
	task   store.ScheduledTask
	nextAt time.Time
}

// Dispatcher holds the in-memory slug → armed trigger map and drives the
// scan loop. Admin operations (Arm, Disarm) and the runner's re-arm all
// serialize on the same mutex; fires run on the lane.
type Dispatcher struct {
	clk  clock.Clock
	eval *cron.Evaluator
	lane *Lane

	mu      sync.Mutex
	entries map[string]armedTrigger
	onFire  FireFunc
	running bool
	stop    chan struct{}
}

// NewDispatcher creates a stopped dispatcher with the given fire
// concurrency.
func NewDispatcher(clk clock.Clock, eval *cron.Evaluator, workers int) *Dispatcher {
	return &Dispatcher{
		clk:     clk,
		eval:    eval,
		lane:    NewLane("fires", workers),
		entries: make(map[string]armedTrigger),
	}
}

// SetOnFire sets the fire callback. Must be called before Start.
func (d *Dispatcher) SetOnFire(fn FireFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onFire = fn
}

// Start begins the scan loop.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	d.stop = make(chan struct{})
	d.running = true
	go d.runLoop(d.stop)
	slog.Info("dispatcher started", "armed", len(d.entries))
}

// Stop halts the scan loop and waits for in-flight fires to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	close(d.stop)
	d.running = false
	d.mu.Unlock()

	d.lane.Stop()
	slog.Info("dispatcher stopped")
}

// Arm registers a one-shot trigger at the next cron instant strictly
// after now, replacing any existing trigger for the slug. The task's
// NextRunAt field is updated in place; persisting it is the caller's
// concern. Returns the computed instant.
func (d *Dispatcher) Arm(task *store.ScheduledTask) (time.Time, error) {
	next, err := d.eval.NextAfter(task.CronExpression, d.clk.Now())
	if err != nil {
		return time.Time{}, err
	}
	task.NextRunAt = next
	d.ArmAt(task, next)
	return next, nil
}

// ArmAt registers a one-shot trigger at an explicit instant. Recovery
// uses it to fire overdue tasks immediately and the runner uses it to
// re-arm with the instant it already persisted.
func (d *Dispatcher) ArmAt(task *store.ScheduledTask, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[task.Slug] = armedTrigger{task: *task, nextAt: at.UTC()}
}

// Disarm cancels any trigger for the slug. Idempotent.
func (d *Dispatcher) Disarm(slug string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, slug)
}

// State returns the sorted slugs with an armed trigger.
func (d *Dispatcher) State() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	slugs := make([]string, 0, len(d.entries))
	for slug := range d.entries {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	return slugs
}

func (d *Dispatcher) runLoop(stop chan struct{}) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			d.checkDue()
		}
	}
}

// checkDue dispatches every trigger whose instant has passed. The entry
// is consumed on dispatch; the runner re-arms after the fire completes,
// so a task can never fire twice for the same trigger.
func (d *Dispatcher) checkDue() {
	now := d.clk.Now()

	d.mu.Lock()
	fire := d.onFire
	var due []string
	for slug, e := range d.entries {
		if !e.nextAt.After(now) {
			due = append(due, slug)
		}
	}
	for _, slug := range due {
		delete(d.entries, slug)
	}
	d.mu.Unlock()

	if fire == nil || len(due) == 0 {
		return
	}

	for _, slug := range due {
		slug := slug
		if err := d.lane.Submit(context.Background(), func() {
			fire(context.Background(), slug)
		}); err != nil {
			slog.Error("dispatcher: fire submit failed", "slug", slug, "error", err)
		}
	}
}
