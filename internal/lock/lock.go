// Package lock provides cross-replica mutual exclusion keyed by task slug.
// Leases are time-bounded: a holder whose work outlives the TTL may race,
// so critical sections must stay short.
package lock

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrBusy means another holder owns the key and the wait budget ran out.
	ErrBusy = errors.New("lock held by another process")

	// ErrUnavailable means the lock coordinator could not be reached.
	ErrUnavailable = errors.New("lock coordinator unavailable")

	// ErrLostLease means the lease expired before release and the key may
	// now belong to someone else. Benign: callers log and continue.
	ErrLostLease = errors.New("lease expired before release")
)

// Lease is time-bounded ownership of a key.
type Lease struct {
	Key      string
	Token    string
	Deadline time.Time
}

// Locker is a keyed mutex with owner tokens and TTL.
type Locker interface {
	// Acquire blocks up to wait for the key. Returns ErrBusy if another
	// holder owns it for the whole budget, ErrUnavailable on coordinator
	// failure.
	Acquire(ctx context.Context, key string, ttl, wait time.Duration) (*Lease, error)

	// Release frees the key if the lease token still matches.
	// Returns ErrLostLease when it no longer does.
	Release(ctx context.Context, lease *Lease) error
}

// TaskKey builds the lock key for a task slug.
func TaskKey(slug string) string {
	return "lock:task:" + slug
}
