// Package lock serializes work on a named resource across processes.
package lock

import (
	"context"
	"errors"
	"strconv"
	"time"
)

var (
	ErrLockTimeout = errors.New("lock: not acquired before wait timeout")
	ErrLeaseLost   = errors.New("lock: lease lost while held")
	ErrNotOwner    = errors.New("lock: not owned by this token")
)

// MinLease is the shortest lease RedisMutex accepts. Redis expires keys at
// millisecond granularity and the watchdog ticks every lease/3.
const MinLease = 3 * time.Millisecond

// Mutex runs fn while holding the lock named key. The lock is released on
// every exit path. fn receives a context that is cancelled if the lease can
// no longer be guaranteed; in that case WithLock returns ErrLeaseLost even if
// fn itself succeeded, and the caller must not assume fn's effect happened.
type Mutex interface {
	WithLock(ctx context.Context, key string, lease time.Duration, fn func(ctx context.Context) error) error
}

// Options bounds how long a caller queues for the lock.
type Options struct {
	WaitTimeout   time.Duration
	RetryInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = 3 * time.Second
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = 50 * time.Millisecond
	}
	return o
}

// AccountKey names the lock guarding one account.
func AccountKey(accountID int64) string {
	return "account:" + strconv.FormatInt(accountID, 10)
}
