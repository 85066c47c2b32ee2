package stock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/stockrecon/internal/shared"
)

// Locker serialises writers of the same product. Waiters are not woken in
// arrival order; ordering of effects is restored by sweep convergence.
type Locker interface {
	Lock(ctx context.Context, productID string) (unlock func(), err error)
}

// ErrLockTimeout indicates the product lock could not be acquired in time.
var ErrLockTimeout = errors.New("stock: product lock not acquired")

// LocalLocker is an in-process keyed mutex. Idle keys are released.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker constructs LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*keyLock)}
}

// Lock blocks until the product is free or ctx is done.
func (l *LocalLocker) Lock(ctx context.Context, productID string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[productID]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[productID] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(productID, kl)
		return nil, fmt.Errorf("%w: %s: %w", ErrLockTimeout, productID, ctx.Err())
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.ch
			l.release(productID, kl)
		})
	}, nil
}

func (l *LocalLocker) release(productID string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, productID)
	}
}

func (l *LocalLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLocker serialises writers across processes with a token-guarded SET NX.
type RedisLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
	retry  time.Duration
	wait   time.Duration
}

// RedisLockerConfig tunes lock expiry and polling.
type RedisLockerConfig struct {
	TTL     time.Duration
	Retry   time.Duration
	MaxWait time.Duration
}

// NewRedisLocker constructs RedisLocker.
func NewRedisLocker(client redis.UniversalClient, cfg RedisLockerConfig) *RedisLocker {
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Second
	}
	if cfg.Retry <= 0 {
		cfg.Retry = 25 * time.Millisecond
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 5 * time.Second
	}
	return &RedisLocker{client: client, ttl: cfg.TTL, retry: cfg.Retry, wait: cfg.MaxWait}
}

// Lock polls until the product key is acquired, MaxWait elapses or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, productID string) (func(), error) {
	if l == nil || l.client == nil {
		return nil, errors.New("stock: redis locker not configured")
	}
	key := shared.StockLockKey(productID)
	token, err := lockToken()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()
	delay := l.retry
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("stock: acquire lock %s: %w", productID, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %w", ErrLockTimeout, productID, ctx.Err())
		case <-time.After(delay):
		}
		if delay < 250*time.Millisecond {
			delay *= 2
		}
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err()
		})
	}, nil
}

func lockToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("stock: lock token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
