// Package store defines the persistent model for scheduled tasks and
// their execution history, plus the transactional repository contract.
package store

import (
	"crypto/rand"
	"time"

	"github.com/google/uuid"
)

// Status is the outcome of a single execution attempt.
type Status string

const (
	StatusDone   Status = "Done"
	StatusFailed Status = "Failed"
)

// ScheduledTask is the definition of a recurring job.
type ScheduledTask struct {
	ID             uuid.UUID `db:"scheduled_task_id" json:"scheduled_task_id"`
	Slug           string    `db:"slug" json:"slug"`
	Name           string    `db:"name" json:"name"`
	CronExpression string    `db:"cron_expression" json:"cron_expression"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	NextRunAt      time.Time `db:"next_run_at" json:"next_run_at"`
}

// ExecutedTask is an immutable history record. Rows are only ever appended.
type ExecutedTask struct {
	ID         uuid.UUID `db:"executed_task_id" json:"executed_task_id"`
	TaskID     uuid.UUID `db:"task_id" json:"task_id"`
	ExecutedAt time.Time `db:"executed_at" json:"executed_at"`
	Status     Status    `db:"status" json:"status"`
	Result     string    `db:"result" json:"result"`
}

// TaskDef carries the caller-supplied fields for creating a task.
// NextRunAt must be precomputed from the cron expression.
type TaskDef struct {
	Name           string
	CronExpression string
	NextRunAt      time.Time
}

// GenNewID generates a new UUID v7 (time-ordered).
func GenNewID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

const (
	slugLen      = 10
	slugAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// NewSlug generates a random 10-character alphanumeric slug.
func NewSlug() string {
	b := make([]byte, slugLen)
	rand.Read(b)
	for i := range b {
		b[i] = slugAlphabet[int(b[i])%len(slugAlphabet)]
	}
	return string(b)
}
