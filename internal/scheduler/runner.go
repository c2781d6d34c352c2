package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/chrono/internal/clock"
	"github.com/nextlevelbuilder/chrono/internal/cron"
	"github.com/nextlevelbuilder/chrono/internal/lock"
	"github.com/nextlevelbuilder/chrono/internal/store"
)

const (
	// DefaultLockTTL bounds a lease far beyond the expected fire
	// duration; a transaction outliving it is a configuration bug.
	DefaultLockTTL = 300 * time.Second

	// DefaultLockWait is the acquire budget. A peer holding the lock for
	// longer than this owns the tick.
	DefaultLockWait = 5 * time.Second
)

// Runner executes the per-fire transaction: acquire the task lock, load
// the task, advance the run cursor, append the history row, release.
type Runner struct {
	store      store.TaskStore
	locker     lock.Locker
	eval       *cron.Evaluator
	clk        clock.Clock
	dispatcher *Dispatcher
	work       Work
	tracer     trace.Tracer

	LockTTL  time.Duration
	LockWait time.Duration
}

// NewRunner wires a runner. work may be nil, in which case DefaultWork
// is used.
func NewRunner(ts store.TaskStore, locker lock.Locker, eval *cron.Evaluator, clk clock.Clock, d *Dispatcher, work Work) *Runner {
	if work == nil {
		work = DefaultWork
	}
	return &Runner{
		store:      ts,
		locker:     locker,
		eval:       eval,
		clk:        clk,
		dispatcher: d,
		work:       work,
		tracer:     otel.Tracer("chrono/scheduler"),
		LockTTL:    DefaultLockTTL,
		LockWait:   DefaultLockWait,
	}
}

// Fire handles one due trigger for slug. Errors never propagate to the
// dispatcher; they are observable through history rows and logs.
func (r *Runner) Fire(ctx context.Context, slug string) {
	ctx, span := r.tracer.Start(ctx, "task.fire",
		trace.WithAttributes(attribute.String("task.slug", slug)))
	defer span.End()

	lease, err := r.locker.Acquire(ctx, lock.TaskKey(slug), r.LockTTL, r.LockWait)
	switch {
	case errors.Is(err, lock.ErrBusy):
		// Another replica owns this tick and will re-arm it.
		slog.Info("task locked by another process", "slug", slug)
		span.SetAttributes(attribute.String("fire.skip", "busy"))
		return
	case err != nil:
		// Coordinator outage: no fire, no re-arm. Boot recovery repairs.
		slog.Error("lock acquire failed", "slug", slug, "error", err)
		span.SetStatus(codes.Error, err.Error())
		return
	}

	task, newNext, execErr := r.execute(ctx, slug)
	if execErr != nil && task != nil {
		// Work or commit failed: record the failure in a fresh
		// transaction and still advance the cursor so a chronically
		// failing task does not stall.
		newNext = r.recover(ctx, slug, execErr)
		span.SetStatus(codes.Error, execErr.Error())
	}

	if err := r.locker.Release(ctx, lease); err != nil {
		if errors.Is(err, lock.ErrLostLease) {
			slog.Warn("lease expired before release", "slug", slug)
		} else {
			slog.Error("lock release failed", "slug", slug, "error", err)
		}
	}

	// Re-arm after the lock is released so a slow fire never delays
	// unrelated tasks.
	if task != nil && !newNext.IsZero() {
		task.NextRunAt = newNext
		r.dispatcher.ArmAt(task, newNext)
	}
}

// execute runs the success path inside one transaction. A nil task in
// the return means the slug no longer exists (raced with delete).
func (r *Runner) execute(ctx context.Context, slug string) (*store.ScheduledTask, time.Time, error) {
	tx, err := r.store.Begin(ctx)
	if err != nil {
		slog.Error("fire: begin transaction failed", "slug", slug, "error", err)
		return nil, time.Time{}, nil
	}

	task, err := tx.GetBySlug(ctx, slug)
	if errors.Is(err, store.ErrNotFound) {
		slog.Info("task not found or already removed", "slug", slug)
		tx.Commit()
		return nil, time.Time{}, nil
	}
	if err != nil {
		tx.Rollback()
		slog.Error("fire: load task failed", "slug", slug, "error", err)
		return nil, time.Time{}, nil
	}

	slog.Info("executing task", "slug", slug, "task_id", task.ID, "name", task.Name)

	now := r.clk.Now()
	newNext, err := r.eval.NextAfter(task.CronExpression, now)
	if err != nil {
		tx.Rollback()
		return task, time.Time{}, err
	}

	result, err := r.work(ctx, task, now)
	if err != nil {
		tx.Rollback()
		return task, time.Time{}, err
	}

	if _, err := tx.AppendExecution(ctx, task.ID, store.StatusDone, result, now); err != nil {
		tx.Rollback()
		return task, time.Time{}, err
	}
	if err := tx.UpdateNextRun(ctx, task.ID, newNext); err != nil {
		tx.Rollback()
		return task, time.Time{}, err
	}
	if err := tx.Commit(); err != nil {
		return task, time.Time{}, err
	}

	slog.Info("task completed", "slug", slug, "next_run_at", newNext)
	return task, newNext, nil
}

// recover writes the Failed history row and advances the cursor in a
// fresh transaction. Returns the advanced instant, or zero when the
// recovery transaction itself fails.
func (r *Runner) recover(ctx context.Context, slug string, cause error) time.Time {
	slog.Error("task failed", "slug", slug, "error", cause)

	tx, err := r.store.Begin(ctx)
	if err != nil {
		slog.Error("fire recovery: begin transaction failed", "slug", slug, "error", err)
		return time.Time{}
	}

	task, err := tx.GetBySlug(ctx, slug)
	if err != nil {
		tx.Rollback()
		if !errors.Is(err, store.ErrNotFound) {
			slog.Error("fire recovery failed", "slug", slug, "error", err)
		}
		return time.Time{}
	}

	now := r.clk.Now()
	newNext, err := r.eval.NextAfter(task.CronExpression, now)
	if err != nil {
		tx.Rollback()
		slog.Error("fire recovery failed", "slug", slug, "error", err)
		return time.Time{}
	}

	outcome := Failed(cause.Error())
	if _, err := tx.AppendExecution(ctx, task.ID, outcome.Status, outcome.Result, now); err == nil {
		err = tx.UpdateNextRun(ctx, task.ID, newNext)
	}
	if err == nil {
		err = tx.Commit()
	}
	if err != nil {
		tx.Rollback()
		// The lease expires on its own; boot recovery repairs the row.
		slog.Error("fire recovery transaction failed", "slug", slug, "error", err)
		return time.Time{}
	}
	return newNext
}
