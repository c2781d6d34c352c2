package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by lookups for a slug with no row.
var ErrNotFound = errors.New("task not found")

// TaskStore is the transactional repository for scheduled tasks and
// their execution history.
type TaskStore interface {
	// Create inserts a new ScheduledTask and returns the persisted entity
	// with ID, Slug and CreatedAt populated.
	Create(ctx context.Context, def TaskDef) (*ScheduledTask, error)

	// DeleteBySlug removes the task and, cascading, its execution history.
	// Returns whether a row existed.
	DeleteBySlug(ctx context.Context, slug string) (bool, error)

	// GetBySlug returns the task or ErrNotFound.
	GetBySlug(ctx context.Context, slug string) (*ScheduledTask, error)

	// List returns the total task count and a page ordered by created_at.
	// A limit <= 0 returns all rows from offset.
	List(ctx context.Context, offset, limit int) (int, []ScheduledTask, error)

	// ListExecutions returns the total execution count for the task and a
	// page ordered by executed_at ascending. ErrNotFound for unknown slugs.
	ListExecutions(ctx context.Context, slug string, offset, limit int) (int, []ExecutedTask, error)

	// Begin opens a transaction. The fire path updates the run cursor and
	// appends the history row inside a single transaction.
	Begin(ctx context.Context) (Tx, error)
}

// Tx is a transaction handle over the fire-path mutations.
// Commit makes the cursor advance and the appended history row visible
// atomically; Rollback discards both.
type Tx interface {
	// GetBySlug loads the task within the transaction, or ErrNotFound.
	GetBySlug(ctx context.Context, slug string) (*ScheduledTask, error)

	// AppendExecution inserts an immutable ExecutedTask row.
	AppendExecution(ctx context.Context, taskID uuid.UUID, status Status, result string, executedAt time.Time) (*ExecutedTask, error)

	// UpdateNextRun advances the task's next_run_at cursor.
	UpdateNextRun(ctx context.Context, taskID uuid.UUID, nextRunAt time.Time) error

	Commit() error
	Rollback() error
}
