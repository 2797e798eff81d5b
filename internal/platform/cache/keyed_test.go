package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestKeyed(t *testing.T) (*Keyed, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewKeyed(client), mr
}

func TestKeyedRoundTrip(t *testing.T) {
	c, _ := newTestKeyed(t)
	ctx := context.Background()

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	require.NoError(t, c.Set(ctx, "k1", payload{Name: "a", Count: 3}, time.Minute))

	var got payload
	hit, err := c.Get(ctx, "k1", &got)
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, payload{Name: "a", Count: 3}, got)

	hit, err = c.Get(ctx, "absent", &got)
	require.NoError(t, err)
	require.False(t, hit)
}

func TestKeyedSetNX(t *testing.T) {
	c, _ := newTestKeyed(t)
	ctx := context.Background()

	won, err := c.SetNX(ctx, "once", "first", time.Minute)
	require.NoError(t, err)
	require.True(t, won)

	won, err = c.SetNX(ctx, "once", "second", time.Minute)
	require.NoError(t, err)
	require.False(t, won)

	var got string
	hit, err := c.Get(ctx, "once", &got)
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, "first", got)
}

func TestKeyedDelete(t *testing.T) {
	c, _ := newTestKeyed(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "gone", 1, time.Minute))
	require.NoError(t, c.Delete(ctx, "gone", "never-existed"))

	hit, err := c.Get(ctx, "gone", nil)
	require.NoError(t, err)
	require.False(t, hit)
}

func TestKeyedUnavailableBackend(t *testing.T) {
	c, mr := newTestKeyed(t)
	mr.Close()

	_, err := c.Get(context.Background(), "k", nil)
	require.Error(t, err)
}

func TestGenerateKeyDeterministic(t *testing.T) {
	a := GenerateKey("auth", map[string]any{"key_id": "abc", "secret": "s1"})
	b := GenerateKey("auth", map[string]any{"secret": "s1", "key_id": "abc"})
	require.Equal(t, a, b)

	c := GenerateKey("auth", map[string]any{"key_id": "abc", "secret": "s2"})
	require.NotEqual(t, a, c)

	d := GenerateKey("other", map[string]any{"key_id": "abc", "secret": "s1"})
	require.NotEqual(t, a, d)
	require.Contains(t, a, "auth:")
}
