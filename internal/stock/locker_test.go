package stock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockrecon/internal/shared"
)

func TestLocalLockerSerialisesSameProduct(t *testing.T) {
	locker := NewLocalLocker()
	var (
		inside  int32
		maxSeen int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(context.Background(), "p1")
			require.NoError(t, err)
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxSeen)
				if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), maxSeen)
	require.Zero(t, locker.size())
}

func TestLocalLockerDistinctProductsDoNotBlock(t *testing.T) {
	locker := NewLocalLocker()
	unlockA, err := locker.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	unlockB, err := locker.Lock(ctx, "b")
	require.NoError(t, err)
	unlockB()
}

func TestLocalLockerHonoursContext(t *testing.T) {
	locker := NewLocalLocker()
	unlock, err := locker.Lock(context.Background(), "p1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "p1")
	require.ErrorIs(t, err, ErrLockTimeout)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()
	require.Zero(t, locker.size())
}

func newRedisLocker(t *testing.T, cfg RedisLockerConfig) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLocker(client, cfg), mr
}

func TestRedisLockerAcquireAndRelease(t *testing.T) {
	locker, mr := newRedisLocker(t, RedisLockerConfig{TTL: time.Minute})

	unlock, err := locker.Lock(context.Background(), "p1")
	require.NoError(t, err)
	require.True(t, mr.Exists(shared.StockLockKey("p1")))
	require.Equal(t, time.Minute, mr.TTL(shared.StockLockKey("p1")))

	unlock()
	require.False(t, mr.Exists(shared.StockLockKey("p1")))
}

func TestRedisLockerTimesOutUnderContention(t *testing.T) {
	locker, _ := newRedisLocker(t, RedisLockerConfig{TTL: time.Minute, Retry: 5 * time.Millisecond, MaxWait: 60 * time.Millisecond})

	unlock, err := locker.Lock(context.Background(), "p1")
	require.NoError(t, err)
	defer unlock()

	_, err = locker.Lock(context.Background(), "p1")
	require.ErrorIs(t, err, ErrLockTimeout)
}

func TestRedisLockerReleaseKeepsForeignToken(t *testing.T) {
	locker, mr := newRedisLocker(t, RedisLockerConfig{TTL: time.Minute})
	key := shared.StockLockKey("p1")

	unlock, err := locker.Lock(context.Background(), "p1")
	require.NoError(t, err)
	// Simulate expiry followed by another holder.
	require.NoError(t, mr.Set(key, "someone-else"))

	unlock()
	got, err := mr.Get(key)
	require.NoError(t, err)
	require.Equal(t, "someone-else", got)
}

func TestRedisLockerWaitsForRelease(t *testing.T) {
	locker, _ := newRedisLocker(t, RedisLockerConfig{TTL: time.Minute, Retry: 5 * time.Millisecond, MaxWait: 2 * time.Second})

	unlock, err := locker.Lock(context.Background(), "p1")
	require.NoError(t, err)
	go func() {
		time.Sleep(30 * time.Millisecond)
		unlock()
	}()

	second, err := locker.Lock(context.Background(), "p1")
	require.NoError(t, err)
	second()
}
