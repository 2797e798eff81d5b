package shared

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/lumapay/lumapay/internal/platform/cache"
)

// LockOptions controls a single RememberWithLock call.
type LockOptions struct {
	// TTL is how long a computed value stays cached.
	TTL time.Duration
	// LockTimeout bounds both the advisory lock expiry and how long a waiter
	// polls before computing locally.
	LockTimeout time.Duration
}

// Locker coordinates expensive computations across service instances. Within
// one process concurrent callers collapse onto a single flight; across
// processes a Redis advisory lock keeps the factory to at most one execution
// per key within the lock window. Waiters converge on the cached result, and
// never block past LockTimeout.
type Locker struct {
	client *redis.Client
	cache  *cache.Keyed
	group  singleflight.Group
}

// NewLocker constructs a Locker over a shared Redis client.
func NewLocker(client *redis.Client) *Locker {
	return &Locker{client: client, cache: cache.NewKeyed(client)}
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

// RememberWithLock returns the cached value for key, or runs factory to
// produce it. Factory errors propagate to every caller and are never cached.
// Cache unavailability degrades to running the factory directly.
func (l *Locker) RememberWithLock(ctx context.Context, key string, dest any, opts LockOptions, factory func(context.Context) (any, error)) error {
	result, err, _ := l.group.Do(key, func() (any, error) {
		return l.remember(ctx, key, opts, factory)
	})
	if err != nil {
		return err
	}
	raw, ok := result.(json.RawMessage)
	if !ok {
		return fmt.Errorf("locks: unexpected result type for %s", key)
	}
	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("locks: decode %s: %w", key, err)
	}
	return nil
}

func (l *Locker) remember(ctx context.Context, key string, opts LockOptions, factory func(context.Context) (any, error)) (json.RawMessage, error) {
	var cached json.RawMessage
	hit, err := l.cache.Get(ctx, key, &cached)
	if err != nil {
		return l.compute(ctx, factory)
	}
	if hit {
		return cached, nil
	}

	lockKey := key + ":lock"
	token := uuid.NewString()
	acquired, err := l.client.SetNX(ctx, lockKey, token, opts.LockTimeout).Result()
	if err != nil {
		return l.compute(ctx, factory)
	}
	if acquired {
		return l.computeAndStore(ctx, key, lockKey, token, opts, factory)
	}

	// Another instance holds the lock. Poll until it releases or the lock
	// window elapses, converging on whatever it cached.
	poll := opts.LockTimeout / 20
	if poll < 25*time.Millisecond {
		poll = 25 * time.Millisecond
	}
	if poll > 250*time.Millisecond {
		poll = 250 * time.Millisecond
	}
	deadline := time.Now().Add(opts.LockTimeout)
	retried := false
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(poll):
		}
		hit, err := l.cache.Get(ctx, key, &cached)
		if err == nil && hit {
			return cached, nil
		}
		held, err := l.client.Exists(ctx, lockKey).Result()
		if err != nil || held > 0 {
			continue
		}
		if retried {
			break
		}
		retried = true
		acquired, err := l.client.SetNX(ctx, lockKey, token, opts.LockTimeout).Result()
		if err == nil && acquired {
			return l.computeAndStore(ctx, key, lockKey, token, opts, factory)
		}
	}

	hit, err = l.cache.Get(ctx, key, &cached)
	if err == nil && hit {
		return cached, nil
	}
	// The holder died or never published. Compute locally rather than block.
	return l.compute(ctx, factory)
}

func (l *Locker) computeAndStore(ctx context.Context, key, lockKey, token string, opts LockOptions, factory func(context.Context) (any, error)) (json.RawMessage, error) {
	defer func() {
		_ = releaseScript.Run(context.WithoutCancel(ctx), l.client, []string{lockKey}, token).Err()
	}()
	value, err := factory(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("locks: encode %s: %w", key, err)
	}
	// Best effort: a failed publish only costs the next caller a recompute.
	_ = l.cache.Set(ctx, key, json.RawMessage(raw), opts.TTL)
	return raw, nil
}

func (l *Locker) compute(ctx context.Context, factory func(context.Context) (any, error)) (json.RawMessage, error) {
	value, err := factory(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("locks: encode result: %w", err)
	}
	return raw, nil
}
