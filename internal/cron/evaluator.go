// Package cron evaluates classic 5-field cron expressions
// (minute hour day-of-month month day-of-week) in UTC.
package cron

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

// ErrBadCron is returned for expressions that do not parse, or that
// never match within the evaluation horizon.
var ErrBadCron = errors.New("invalid cron expression")

// horizonYears bounds the search for the next tick. A 5-field expression
// that matches nothing within this window (e.g. "0 0 31 2 *") is invalid.
const horizonYears = 5

// Evaluator validates cron expressions and computes fire instants.
// The zero value is not usable; construct with New.
type Evaluator struct {
	gx gronx.Gronx
}

// New creates an Evaluator.
func New() *Evaluator {
	return &Evaluator{gx: *gronx.New()}
}

// Validate reports whether expr is a well-formed 5-field cron expression
// with at least one future tick.
func (e *Evaluator) Validate(expr string) error {
	if err := e.check(expr); err != nil {
		return err
	}
	if _, err := e.NextAfter(expr, time.Now().UTC()); err != nil {
		return err
	}
	return nil
}

// NextAfter returns the smallest instant strictly after ref that matches
// expr. The result is UTC with seconds truncated to :00.
func (e *Evaluator) NextAfter(expr string, ref time.Time) (time.Time, error) {
	if err := e.check(expr); err != nil {
		return time.Time{}, err
	}

	ref = ref.UTC().Truncate(time.Minute)
	next, err := gronx.NextTickAfter(expr, ref, false)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %v", ErrBadCron, expr, err)
	}

	next = next.UTC().Truncate(time.Minute)
	if !next.After(ref) || next.After(ref.AddDate(horizonYears, 0, 0)) {
		return time.Time{}, fmt.Errorf("%w: %q has no tick after %s", ErrBadCron, expr, ref.Format(time.RFC3339))
	}
	return next, nil
}

// check enforces the classic 5-field form. gronx also accepts 6- and
// 7-field expressions with seconds/years; those are rejected here.
func (e *Evaluator) check(expr string) error {
	if len(strings.Fields(expr)) != 5 {
		return fmt.Errorf("%w: %q: want 5 fields", ErrBadCron, expr)
	}
	if !e.gx.IsValid(expr) {
		return fmt.Errorf("%w: %q", ErrBadCron, expr)
	}
	return nil
}
