package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Keyed provides TTL-bound get/set/delete over Redis with JSON encoded
// values. The cache is best effort: it is never the source of truth for
// financial state, and callers that can recompute must treat errors from the
// backend as a miss.
type Keyed struct {
	client *redis.Client
}

// NewKeyed wraps a Redis client.
func NewKeyed(client *redis.Client) *Keyed {
	return &Keyed{client: client}
}

// ErrUnavailable indicates the cache backend could not be reached.
var ErrUnavailable = errors.New("cache: backend unavailable")

// Get loads key into dest. The boolean reports whether the key was present.
func (c *Keyed) Get(ctx context.Context, key string, dest any) (bool, error) {
	if c == nil || c.client == nil {
		return false, ErrUnavailable
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache: get %s: %w", key, err)
	}
	if dest == nil {
		return true, nil
	}
	if err := json.Unmarshal(payload, dest); err != nil {
		return false, fmt.Errorf("cache: decode %s: %w", key, err)
	}
	return true, nil
}

// Set stores value under key for ttl. A zero ttl stores without expiry.
func (c *Keyed) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if c == nil || c.client == nil {
		return ErrUnavailable
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}
	if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("cache: set %s: %w", key, err)
	}
	return nil
}

// SetNX stores value only when key is absent, returning whether the write won.
func (c *Keyed) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if c == nil || c.client == nil {
		return false, ErrUnavailable
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("cache: encode %s: %w", key, err)
	}
	ok, err := c.client.SetNX(ctx, key, raw, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("cache: setnx %s: %w", key, err)
	}
	return ok, nil
}

// Delete removes one or more keys. Missing keys are not an error.
func (c *Keyed) Delete(ctx context.Context, keys ...string) error {
	if c == nil || c.client == nil {
		return ErrUnavailable
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache: delete: %w", err)
	}
	return nil
}

// GenerateKey derives a deterministic cache key from a set of named fields.
// Field order does not matter: names are sorted before hashing, so any two
// callers describing the same logical lookup converge on the same key.
func GenerateKey(prefix string, fields map[string]any) string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(name)
		b.WriteByte('=')
		fmt.Fprintf(&b, "%v", fields[name])
	}
	sum := sha256.Sum256([]byte(b.String()))
	return prefix + ":" + hex.EncodeToString(sum[:])
}
