package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nextlevelbuilder/chrono/internal/clock"
	"github.com/nextlevelbuilder/chrono/internal/store"
)

const taskColumns = "scheduled_task_id, slug, name, cron_expression, created_at, next_run_at"

// Store implements store.TaskStore on Postgres.
type Store struct {
	db  *sqlx.DB
	clk clock.Clock
}

// New wraps an open Postgres connection.
func New(db *sqlx.DB, clk clock.Clock) *Store {
	return &Store{db: db, clk: clk}
}

func (s *Store) Create(ctx context.Context, def store.TaskDef) (*store.ScheduledTask, error) {
	task := store.ScheduledTask{
		ID:             store.GenNewID(),
		Slug:           store.NewSlug(),
		Name:           def.Name,
		CronExpression: def.CronExpression,
		CreatedAt:      s.clk.Now(),
		NextRunAt:      def.NextRunAt.UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_tasks (scheduled_task_id, slug, name, cron_expression, created_at, next_run_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		task.ID, task.Slug, task.Name, task.CronExpression, task.CreatedAt, task.NextRunAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return &task, nil
}

func (s *Store) DeleteBySlug(ctx context.Context, slug string) (bool, error) {
	// executed_tasks rows go with the task via ON DELETE CASCADE.
	res, err := s.db.ExecContext(ctx, "DELETE FROM scheduled_tasks WHERE slug = $1", slug)
	if err != nil {
		return false, fmt.Errorf("delete task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete task: %w", err)
	}
	return n > 0, nil
}

func (s *Store) GetBySlug(ctx context.Context, slug string) (*store.ScheduledTask, error) {
	var task store.ScheduledTask
	err := s.db.GetContext(ctx, &task,
		"SELECT "+taskColumns+" FROM scheduled_tasks WHERE slug = $1", slug)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return &task, nil
}

func (s *Store) List(ctx context.Context, offset, limit int) (int, []store.ScheduledTask, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM scheduled_tasks"); err != nil {
		return 0, nil, fmt.Errorf("count tasks: %w", err)
	}

	var tasks []store.ScheduledTask
	q := "SELECT " + taskColumns + " FROM scheduled_tasks ORDER BY created_at OFFSET $1"
	args := []any{offset}
	if limit > 0 {
		q += " LIMIT $2"
		args = append(args, limit)
	}
	err := s.db.SelectContext(ctx, &tasks, q, args...)
	if err != nil {
		return 0, nil, fmt.Errorf("list tasks: %w", err)
	}
	return count, tasks, nil
}

func (s *Store) ListExecutions(ctx context.Context, slug string, offset, limit int) (int, []store.ExecutedTask, error) {
	task, err := s.GetBySlug(ctx, slug)
	if err != nil {
		return 0, nil, err
	}

	var count int
	err = s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM executed_tasks WHERE task_id = $1", task.ID)
	if err != nil {
		return 0, nil, fmt.Errorf("count executions: %w", err)
	}

	var rows []store.ExecutedTask
	q := `SELECT executed_task_id, task_id, executed_at, status, result
		 FROM executed_tasks WHERE task_id = $1
		 ORDER BY executed_at OFFSET $2`
	args := []any{task.ID, offset}
	if limit > 0 {
		q += " LIMIT $3"
		args = append(args, limit)
	}
	err = s.db.SelectContext(ctx, &rows, q, args...)
	if err != nil {
		return 0, nil, fmt.Errorf("list executions: %w", err)
	}
	return count, rows, nil
}

func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

// pgTx implements store.Tx on a Postgres transaction.
type pgTx struct {
	tx *sqlx.Tx
}

func (t *pgTx) GetBySlug(ctx context.Context, slug string) (*store.ScheduledTask, error) {
	var task store.ScheduledTask
	err := t.tx.GetContext(ctx, &task,
		"SELECT "+taskColumns+" FROM scheduled_tasks WHERE slug = $1 FOR UPDATE", slug)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return &task, nil
}

func (t *pgTx) AppendExecution(ctx context.Context, taskID uuid.UUID, status store.Status, result string, executedAt time.Time) (*store.ExecutedTask, error) {
	row := store.ExecutedTask{
		ID:         store.GenNewID(),
		TaskID:     taskID,
		ExecutedAt: executedAt.UTC(),
		Status:     status,
		Result:     result,
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO executed_tasks (executed_task_id, task_id, executed_at, status, result)
		 VALUES ($1, $2, $3, $4, $5)`,
		row.ID, row.TaskID, row.ExecutedAt, row.Status, row.Result,
	)
	if err != nil {
		return nil, fmt.Errorf("append execution: %w", err)
	}
	return &row, nil
}

func (t *pgTx) UpdateNextRun(ctx context.Context, taskID uuid.UUID, nextRunAt time.Time) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE scheduled_tasks SET next_run_at = $1 WHERE scheduled_task_id = $2",
		nextRunAt.UTC(), taskID)
	if err != nil {
		return fmt.Errorf("update next_run_at: %w", err)
	}
	return nil
}

func (t *pgTx) Commit() error {
	return t.tx.Commit()
}

func (t *pgTx) Rollback() error {
	return t.tx.Rollback()
}
