package dbserver

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLockManagerGrantsThenBlocksContender(t *testing.T) {
	ctx := context.Background()
	m := NewLocalLockManager()

	release, err := m.Acquire(ctx, "db1", time.Second)
	require.NoError(t, err)

	_, err = m.Acquire(ctx, "db1", 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrLockTimeout)

	release()

	release2, err := m.Acquire(ctx, "db1", 50*time.Millisecond)
	require.NoError(t, err)
	release2()
}

func TestLocalLockManagerDifferentDatabasesDoNotContend(t *testing.T) {
	ctx := context.Background()
	m := NewLocalLockManager()

	release1, err := m.Acquire(ctx, "db1", time.Second)
	require.NoError(t, err)
	defer release1()

	release2, err := m.Acquire(ctx, "db2", time.Second)
	require.NoError(t, err)
	defer release2()
}

func TestLocalLockManagerReleaseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewLocalLockManager()
	release, err := m.Acquire(ctx, "db1", time.Second)
	require.NoError(t, err)

	release()
	assert.NotPanics(t, func() { release() })

	_, err = m.Acquire(ctx, "db1", 50*time.Millisecond)
	require.NoError(t, err)
}

func TestLocalLockManagerConcurrentAcquireIsSafe(t *testing.T) {
	ctx := context.Background()
	m := NewLocalLockManager()

	var wg sync.WaitGroup
	successes := make([]bool, 20)
	for i := 0; i < 20; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := m.Acquire(ctx, "shared", 200*time.Millisecond)
			if err == nil {
				successes[i] = true
				time.Sleep(5 * time.Millisecond)
				release()
			}
		}()
	}
	wg.Wait()

	count := 0
	for _, ok := range successes {
		if ok {
			count++
		}
	}
	assert.Greater(t, count, 0)
}
