package shared

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewLocker(client), mr
}

func TestRememberWithLockSingleExecution(t *testing.T) {
	locker, _ := newTestLocker(t)
	opts := LockOptions{TTL: time.Minute, LockTimeout: 2 * time.Second}

	var calls int64
	factory := func(ctx context.Context) (any, error) {
		atomic.AddInt64(&calls, 1)
		time.Sleep(50 * time.Millisecond)
		return map[string]int{"value": 42}, nil
	}

	const concurrency = 16
	results := make([]map[string]int, concurrency)
	errs := make([]error, concurrency)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = locker.RememberWithLock(context.Background(), "burst", &results[i], opts, factory)
		}(i)
	}
	wg.Wait()

	require.EqualValues(t, 1, atomic.LoadInt64(&calls))
	for i := 0; i < concurrency; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, map[string]int{"value": 42}, results[i])
	}
}

func TestRememberWithLockServesCachedValue(t *testing.T) {
	locker, _ := newTestLocker(t)
	opts := LockOptions{TTL: time.Minute, LockTimeout: time.Second}

	var calls int
	factory := func(ctx context.Context) (any, error) {
		calls++
		return "computed", nil
	}

	var first, second string
	require.NoError(t, locker.RememberWithLock(context.Background(), "cached", &first, opts, factory))
	require.NoError(t, locker.RememberWithLock(context.Background(), "cached", &second, opts, factory))

	require.Equal(t, "computed", first)
	require.Equal(t, "computed", second)
	require.Equal(t, 1, calls)
}

func TestRememberWithLockFactoryErrorNotCached(t *testing.T) {
	locker, _ := newTestLocker(t)
	opts := LockOptions{TTL: time.Minute, LockTimeout: time.Second}

	boom := errors.New("boom")
	var calls int
	failing := func(ctx context.Context) (any, error) {
		calls++
		return nil, boom
	}

	var out string
	err := locker.RememberWithLock(context.Background(), "errkey", &out, opts, failing)
	require.ErrorIs(t, err, boom)

	// The failure must not poison the cache: a later caller recomputes.
	err = locker.RememberWithLock(context.Background(), "errkey", &out, opts, func(ctx context.Context) (any, error) {
		calls++
		return "recovered", nil
	})
	require.NoError(t, err)
	require.Equal(t, "recovered", out)
	require.Equal(t, 2, calls)
}

func TestRememberWithLockCacheOutageDegrades(t *testing.T) {
	locker, mr := newTestLocker(t)
	mr.Close()
	opts := LockOptions{TTL: time.Minute, LockTimeout: time.Second}

	var out int
	err := locker.RememberWithLock(context.Background(), "degraded", &out, opts, func(ctx context.Context) (any, error) {
		return 7, nil
	})
	require.NoError(t, err)
	require.Equal(t, 7, out)
}

func TestRememberWithLockWaiterConvergesOnPublishedValue(t *testing.T) {
	locker, mr := newTestLocker(t)
	opts := LockOptions{TTL: time.Minute, LockTimeout: 2 * time.Second}

	// A second locker simulates another process holding the lock.
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	other := NewLocker(client)

	started := make(chan struct{})
	go func() {
		var out string
		_ = other.RememberWithLock(context.Background(), "converge", &out, opts, func(ctx context.Context) (any, error) {
			close(started)
			time.Sleep(100 * time.Millisecond)
			return "published", nil
		})
	}()

	<-started
	var out string
	err := locker.RememberWithLock(context.Background(), "converge", &out, opts, func(ctx context.Context) (any, error) {
		t.Error("waiter should not recompute while the holder publishes in time")
		return "recomputed", nil
	})
	require.NoError(t, err)
	require.Equal(t, "published", out)
}
