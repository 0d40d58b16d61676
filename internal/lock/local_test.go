package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalMutex_MutualExclusion(t *testing.T) {
	m := NewLocalMutex(Options{WaitTimeout: 5 * time.Second})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
		total   int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.WithLock(context.Background(), "account:1", time.Second, func(ctx context.Context) error {
				mu.Lock()
				inside++
				if inside > maxSeen {
					maxSeen = inside
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				inside--
				total++
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Equal(t, 50, total)
	assert.Empty(t, m.locks)
}

func TestLocalMutex_IndependentKeys(t *testing.T) {
	m := NewLocalMutex(Options{WaitTimeout: time.Second})
	release := make(chan struct{})
	started := make(chan struct{})

	go m.WithLock(context.Background(), "account:1", time.Second, func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started

	err := m.WithLock(context.Background(), "account:2", time.Second, func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
	close(release)
}

func TestLocalMutex_Timeout(t *testing.T) {
	m := NewLocalMutex(Options{WaitTimeout: 20 * time.Millisecond})
	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		m.WithLock(context.Background(), "account:1", time.Second, func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	err := m.WithLock(context.Background(), "account:1", time.Second, func(ctx context.Context) error {
		t.Fatal("must not run")
		return nil
	})
	assert.ErrorIs(t, err, ErrLockTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = m.WithLock(ctx, "account:1", time.Second, func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrLockTimeout)

	close(release)
	<-done
}

func TestLocalMutex_InvalidLease(t *testing.T) {
	m := NewLocalMutex(Options{})
	err := m.WithLock(context.Background(), "account:1", 0, func(ctx context.Context) error { return nil })
	require.Error(t, err)
}
