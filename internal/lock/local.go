package lock

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type localEntry struct {
	sem  chan struct{}
	refs int
}

// LocalMutex serializes work inside one process. Its lease never expires, so
// it only suits single-instance deployments and tests.
type LocalMutex struct {
	mu    sync.Mutex
	locks map[string]*localEntry
	opts  Options
}

var _ Mutex = (*LocalMutex)(nil)

func NewLocalMutex(opts Options) *LocalMutex {
	return &LocalMutex{locks: make(map[string]*localEntry), opts: opts.withDefaults()}
}

func (m *LocalMutex) WithLock(ctx context.Context, key string, lease time.Duration, fn func(ctx context.Context) error) error {
	if lease <= 0 {
		return fmt.Errorf("lock %s: lease must be positive", key)
	}

	e := m.ref(key)
	defer m.unref(key)

	timer := time.NewTimer(m.opts.WaitTimeout)
	defer timer.Stop()

	select {
	case e.sem <- struct{}{}:
	case <-timer.C:
		return fmt.Errorf("%w: %s", ErrLockTimeout, key)
	case <-ctx.Done():
		return fmt.Errorf("%w: %s: %v", ErrLockTimeout, key, context.Cause(ctx))
	}
	defer func() { <-e.sem }()

	return fn(context.WithoutCancel(ctx))
}

func (m *LocalMutex) ref(key string) *localEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.locks[key]
	if !ok {
		e = &localEntry{sem: make(chan struct{}, 1)}
		m.locks[key] = e
	}
	e.refs++
	return e
}

func (m *LocalMutex) unref(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.locks[key]
	e.refs--
	if e.refs == 0 {
		delete(m.locks, key)
	}
}
