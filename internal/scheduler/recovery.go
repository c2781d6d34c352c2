package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nextlevelbuilder/chrono/internal/clock"
	"github.com/nextlevelbuilder/chrono/internal/cron"
	"github.com/nextlevelbuilder/chrono/internal/store"
)

// PastTaskPolicy decides what happens at boot to tasks whose persisted
// next_run_at passed while the process was down.
type PastTaskPolicy string

const (
	// PolicySkip arms the task at its next future instant, no record.
	PolicySkip PastTaskPolicy = "skip"

	// PolicyFail records a Failed "missed execution" row, advances the
	// cursor past now, then arms. The default.
	PolicyFail PastTaskPolicy = "fail"

	// PolicyRun fires the overdue task once immediately.
	PolicyRun PastTaskPolicy = "run"
)

// ParsePastTaskPolicy parses the RECOVER_PAST_TASKS setting.
func ParsePastTaskPolicy(s string) (PastTaskPolicy, error) {
	switch PastTaskPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case PolicySkip:
		return PolicySkip, nil
	case PolicyFail, "":
		return PolicyFail, nil
	case PolicyRun:
		return PolicyRun, nil
	default:
		return "", fmt.Errorf("unknown past-task policy %q (want skip, fail or run)", s)
	}
}

// Recovery rebuilds the dispatcher from durable state at boot, before
// admin traffic is accepted.
type Recovery struct {
	store      store.TaskStore
	dispatcher *Dispatcher
	eval       *cron.Evaluator
	clk        clock.Clock
	policy     PastTaskPolicy
}

// NewRecovery wires the boot recovery procedure.
func NewRecovery(ts store.TaskStore, d *Dispatcher, eval *cron.Evaluator, clk clock.Clock, policy PastTaskPolicy) *Recovery {
	return &Recovery{store: ts, dispatcher: d, eval: eval, clk: clk, policy: policy}
}

// Run loads every persisted task and arms the dispatcher. Overdue tasks
// follow the configured policy. Per-task failures are logged and
// skipped; boot never aborts because one task is broken.
func (r *Recovery) Run(ctx context.Context) error {
	_, tasks, err := r.store.List(ctx, 0, 0)
	if err != nil {
		return fmt.Errorf("recovery: load tasks: %w", err)
	}

	now := r.clk.Now()
	var upcoming, overdue []store.ScheduledTask
	for _, t := range tasks {
		if t.NextRunAt.After(now) {
			upcoming = append(upcoming, t)
		} else {
			overdue = append(overdue, t)
		}
	}

	for i := range upcoming {
		task := upcoming[i]
		if _, err := r.dispatcher.Arm(&task); err != nil {
			slog.Error("recovery: arm failed", "slug", task.Slug, "error", err)
			continue
		}
		slog.Info("recovered task", "slug", task.Slug, "name", task.Name, "next_run_at", task.NextRunAt)
	}

	if len(overdue) > 0 {
		r.recoverOverdue(ctx, overdue, now)
	}

	slog.Info("recovery complete", "tasks", len(tasks), "overdue", len(overdue), "policy", r.policy)
	return nil
}

func (r *Recovery) recoverOverdue(ctx context.Context, overdue []store.ScheduledTask, now time.Time) {
	switch r.policy {
	case PolicySkip:
		for i := range overdue {
			task := overdue[i]
			if _, err := r.dispatcher.Arm(&task); err != nil {
				slog.Error("recovery: arm overdue failed", "slug", task.Slug, "error", err)
				continue
			}
			slog.Info("skipped missed execution", "slug", task.Slug, "next_run_at", task.NextRunAt)
		}

	case PolicyRun:
		// One immediate replay per task; the runner executes it like any
		// other fire and advances the cursor itself.
		for i := range overdue {
			task := overdue[i]
			r.dispatcher.ArmAt(&task, now)
			slog.Info("replaying missed execution", "slug", task.Slug)
		}

	case PolicyFail:
		r.failOverdue(ctx, overdue, now)
	}
}

// failOverdue records a Failed row and advances the cursor for every
// overdue task inside a single transaction, then arms them.
func (r *Recovery) failOverdue(ctx context.Context, overdue []store.ScheduledTask, now time.Time) {
	nexts := make(map[string]time.Time, len(overdue))

	tx, err := r.store.Begin(ctx)
	if err != nil {
		slog.Error("recovery: begin transaction failed", "error", err)
		return
	}
	for i := range overdue {
		task := overdue[i]
		newNext, err := r.eval.NextAfter(task.CronExpression, now)
		if err != nil {
			slog.Error("recovery: bad cron on overdue task", "slug", task.Slug, "error", err)
			continue
		}
		if _, err := tx.AppendExecution(ctx, task.ID, store.StatusFailed, missedResult, now); err != nil {
			slog.Error("recovery: append missed execution failed", "slug", task.Slug, "error", err)
			continue
		}
		if err := tx.UpdateNextRun(ctx, task.ID, newNext); err != nil {
			slog.Error("recovery: advance cursor failed", "slug", task.Slug, "error", err)
			continue
		}
		nexts[task.Slug] = newNext
	}
	if err := tx.Commit(); err != nil {
		tx.Rollback()
		slog.Error("recovery: commit failed", "error", err)
		return
	}

	for i := range overdue {
		task := overdue[i]
		newNext, ok := nexts[task.Slug]
		if !ok {
			continue
		}
		task.NextRunAt = newNext
		r.dispatcher.ArmAt(&task, newNext)
		slog.Info("recorded missed execution", "slug", task.Slug, "next_run_at", newNext)
	}
}
