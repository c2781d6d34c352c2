package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/chrono/internal/clock"
)

// Memory is an in-memory TaskStore. It backs tests and local development;
// production deployments use the Postgres store.
type Memory struct {
	clk clock.Clock

	mu     sync.Mutex
	tasks  map[uuid.UUID]ScheduledTask
	bySlug map[string]uuid.UUID
	execs  map[uuid.UUID][]ExecutedTask
}

// NewMemory creates an empty in-memory store.
func NewMemory(clk clock.Clock) *Memory {
	return &Memory{
		clk:    clk,
		tasks:  make(map[uuid.UUID]ScheduledTask),
		bySlug: make(map[string]uuid.UUID),
		execs:  make(map[uuid.UUID][]ExecutedTask),
	}
}

func (m *Memory) Create(ctx context.Context, def TaskDef) (*ScheduledTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	task := ScheduledTask{
		ID:             GenNewID(),
		Slug:           NewSlug(),
		Name:           def.Name,
		CronExpression: def.CronExpression,
		CreatedAt:      m.clk.Now(),
		NextRunAt:      def.NextRunAt.UTC(),
	}
	if _, taken := m.bySlug[task.Slug]; taken {
		return nil, fmt.Errorf("slug collision: %s", task.Slug)
	}
	m.tasks[task.ID] = task
	m.bySlug[task.Slug] = task.ID
	return &task, nil
}

func (m *Memory) DeleteBySlug(ctx context.Context, slug string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.bySlug[slug]
	if !ok {
		return false, nil
	}
	delete(m.bySlug, slug)
	delete(m.tasks, id)
	delete(m.execs, id)
	return true, nil
}

func (m *Memory) GetBySlug(ctx context.Context, slug string) (*ScheduledTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getBySlugLocked(slug)
}

func (m *Memory) getBySlugLocked(slug string) (*ScheduledTask, error) {
	id, ok := m.bySlug[slug]
	if !ok {
		return nil, ErrNotFound
	}
	task := m.tasks[id]
	return &task, nil
}

func (m *Memory) List(ctx context.Context, offset, limit int) (int, []ScheduledTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := make([]ScheduledTask, 0, len(m.tasks))
	for _, t := range m.tasks {
		all = append(all, t)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	return len(all), page(all, offset, limit), nil
}

func (m *Memory) ListExecutions(ctx context.Context, slug string, offset, limit int) (int, []ExecutedTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.bySlug[slug]
	if !ok {
		return 0, nil, ErrNotFound
	}
	rows := make([]ExecutedTask, len(m.execs[id]))
	copy(rows, m.execs[id])
	sort.Slice(rows, func(i, j int) bool { return rows[i].ExecutedAt.Before(rows[j].ExecutedAt) })
	return len(rows), page(rows, offset, limit), nil
}

func (m *Memory) Begin(ctx context.Context) (Tx, error) {
	return &memoryTx{store: m}, nil
}

func page[T any](all []T, offset, limit int) []T {
	if offset >= len(all) {
		return nil
	}
	end := offset + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}
	return all[offset:end]
}

// memoryTx stages mutations and applies them atomically on Commit.
type memoryTx struct {
	store  *Memory
	staged []func()
	done   bool
}

func (tx *memoryTx) GetBySlug(ctx context.Context, slug string) (*ScheduledTask, error) {
	return tx.store.GetBySlug(ctx, slug)
}

func (tx *memoryTx) AppendExecution(ctx context.Context, taskID uuid.UUID, status Status, result string, executedAt time.Time) (*ExecutedTask, error) {
	row := ExecutedTask{
		ID:         GenNewID(),
		TaskID:     taskID,
		ExecutedAt: executedAt.UTC(),
		Status:     status,
		Result:     result,
	}
	tx.staged = append(tx.staged, func() {
		if _, alive := tx.store.tasks[taskID]; alive {
			tx.store.execs[taskID] = append(tx.store.execs[taskID], row)
		}
	})
	return &row, nil
}

func (tx *memoryTx) UpdateNextRun(ctx context.Context, taskID uuid.UUID, nextRunAt time.Time) error {
	next := nextRunAt.UTC()
	tx.staged = append(tx.staged, func() {
		if task, alive := tx.store.tasks[taskID]; alive {
			task.NextRunAt = next
			tx.store.tasks[taskID] = task
		}
	})
	return nil
}

func (tx *memoryTx) Commit() error {
	if tx.done {
		return nil
	}
	tx.done = true
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	for _, apply := range tx.staged {
		apply()
	}
	tx.staged = nil
	return nil
}

func (tx *memoryTx) Rollback() error {
	tx.done = true
	tx.staged = nil
	return nil
}
