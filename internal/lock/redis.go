package lock

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ruralpay/coinledger/internal/logger"
)

// Lua script for atomic check-and-delete
const releaseScript = `
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`

const extendScript = `
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	else
		return 0
	end
`

const (
	releaseTimeout = 2 * time.Second
	setTimeout     = time.Second
)

// RedisMutex is a lease-based lock on SET NX PX. While fn runs, a watchdog
// re-arms the lease every lease/3; if the key is found under another token,
// or cannot be refreshed for a whole lease, fn's context is cancelled with
// ErrLeaseLost.
type RedisMutex struct {
	client   *redis.Client
	opts     Options
	logger   *zap.Logger
	prefix   string
	newToken func() string
}

var _ Mutex = (*RedisMutex)(nil)

func NewRedisMutex(client *redis.Client, opts Options, l *zap.Logger) *RedisMutex {
	return &RedisMutex{
		client:   client,
		opts:     opts.withDefaults(),
		logger:   logger.OrNop(l).Named("lock"),
		prefix:   "lock:",
		newToken: uuid.NewString,
	}
}

// WithLock waits at most the configured wait timeout (or until ctx is done)
// for the lock. Once held, fn runs on a context detached from ctx's
// cancellation so a caller deadline cannot interrupt a half-done critical
// section.
func (m *RedisMutex) WithLock(ctx context.Context, key string, lease time.Duration, fn func(ctx context.Context) error) error {
	if lease < MinLease {
		return fmt.Errorf("lock %s: lease %s is shorter than %s", key, lease, MinLease)
	}

	rkey := m.prefix + key
	token := m.newToken()
	if err := m.acquire(ctx, rkey, token, lease); err != nil {
		return err
	}

	held, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	defer cancel(nil)

	var lost atomic.Bool
	stop := make(chan struct{})
	watchdogDone := make(chan struct{})
	go func() {
		defer close(watchdogDone)
		m.keepAlive(held, stop, rkey, token, lease, func() {
			lost.Store(true)
			cancel(ErrLeaseLost)
		})
	}()

	fnErr := fn(held)
	close(stop)
	<-watchdogDone

	if lost.Load() {
		m.logger.Error("lease lost during critical section", zap.String("key", rkey))
		return errors.Join(fmt.Errorf("%w: %s", ErrLeaseLost, key), fnErr)
	}

	releaseCtx, releaseCancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer releaseCancel()
	if err := m.release(releaseCtx, rkey, token); err != nil {
		if errors.Is(err, ErrNotOwner) {
			m.logger.Error("lease expired before release", zap.String("key", rkey))
			return errors.Join(fmt.Errorf("%w: %s", ErrLeaseLost, key), fnErr)
		}
		// The lease bounds how long a failed release can block others.
		m.logger.Warn("lock release failed", zap.String("key", rkey), zap.Error(err))
	}

	return fnErr
}

func (m *RedisMutex) acquire(ctx context.Context, rkey, token string, lease time.Duration) error {
	deadline := time.Now().Add(m.opts.WaitTimeout)

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrLockTimeout, rkey, context.Cause(ctx))
		}

		ok, err := m.setNX(ctx, rkey, token, lease)
		if err != nil {
			// The key may have been stored even though the reply was lost.
			m.releaseQuietly(ctx, rkey, token)
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %s: %v", ErrLockTimeout, rkey, context.Cause(ctx))
			}
			return fmt.Errorf("acquire lock %s: %w", rkey, err)
		}
		if ok {
			m.logger.Debug("lock acquired",
				zap.String("key", rkey),
				zap.Duration("lease", lease),
				zap.Int("attempts", attempt),
			)
			return nil
		}

		if time.Until(deadline) < m.opts.RetryInterval {
			return fmt.Errorf("%w: %s after %d attempts", ErrLockTimeout, rkey, attempt)
		}

		timer := time.NewTimer(m.opts.RetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %s: %v", ErrLockTimeout, rkey, context.Cause(ctx))
		case <-timer.C:
		}
	}
}

// setNX issues SET key value NX PX lease on a context detached from the
// caller, so a caller deadline cannot cut the reply off after Redis stored
// the key.
func (m *RedisMutex) setNX(ctx context.Context, rkey, token string, lease time.Duration) (bool, error) {
	setCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), setTimeout)
	defer cancel()
	return m.client.SetNX(setCtx, rkey, token, lease).Result()
}

func (m *RedisMutex) releaseQuietly(ctx context.Context, rkey, token string) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := m.release(releaseCtx, rkey, token); err != nil && !errors.Is(err, ErrNotOwner) {
		m.logger.Warn("release after failed acquire", zap.String("key", rkey), zap.Error(err))
	}
}

func (m *RedisMutex) keepAlive(ctx context.Context, stop <-chan struct{}, rkey, token string, lease time.Duration, onLost func()) {
	ticker := time.NewTicker(lease / 3)
	defer ticker.Stop()
	lastRefresh := time.Now()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		err := m.extend(ctx, rkey, token, lease)
		switch {
		case err == nil:
			lastRefresh = time.Now()
		case errors.Is(err, ErrNotOwner):
			onLost()
			return
		default:
			m.logger.Warn("lease refresh failed", zap.String("key", rkey), zap.Error(err))
			if time.Since(lastRefresh) >= lease {
				onLost()
				return
			}
		}
	}
}

func (m *RedisMutex) extend(ctx context.Context, rkey, token string, lease time.Duration) error {
	result, err := m.client.Eval(ctx, extendScript, []string{rkey}, token, lease.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("extend lock: %w", err)
	}
	if result == 0 {
		return ErrNotOwner
	}
	return nil
}

func (m *RedisMutex) release(ctx context.Context, rkey, token string) error {
	result, err := m.client.Eval(ctx, releaseScript, []string{rkey}, token).Int()
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	if result == 0 {
		return ErrNotOwner
	}
	return nil
}
