package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/chrono/internal/store"
)

// Outcome is the tagged result of a fire's unit of work. Exactly one
// history row is written per outcome.
type Outcome struct {
	Status store.Status
	Result string
}

// Done builds the outcome of a successful execution.
func Done(result string) Outcome {
	return Outcome{Status: store.StatusDone, Result: result}
}

// Failed builds the outcome of a failed execution.
func Failed(message string) Outcome {
	return Outcome{Status: store.StatusFailed, Result: "Error: " + message}
}

// missedResult is recorded for fires skipped while the process was down.
const missedResult = "Missed execution: system was down"

// Work is the unit of work a fire performs. Real deployments plug in a
// payload executor here; the built-in work just reports the instant.
type Work func(ctx context.Context, task *store.ScheduledTask, now time.Time) (string, error)

// DefaultWork produces the standard execution marker.
func DefaultWork(ctx context.Context, task *store.ScheduledTask, now time.Time) (string, error) {
	return fmt.Sprintf("Task '%s' executed at %s", task.Name, now.UTC().Format(time.RFC3339)), nil
}
