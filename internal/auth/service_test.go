package auth

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/lumapay/lumapay/internal/shared"
)

type mockKeyRepo struct {
	key   *APIKey
	calls int64
}

func (m *mockKeyRepo) FindByKeyID(ctx context.Context, keyID string) (*APIKey, error) {
	atomic.AddInt64(&m.calls, 1)
	if m.key == nil || m.key.KeyID != keyID {
		return nil, shared.ErrInvalidCredentials
	}
	return m.key, nil
}

func newTestService(t *testing.T, repo Repository) *Service {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewService(repo, shared.NewLocker(client), time.Minute, 2*time.Second)
}

func hashSecret(t *testing.T, secret string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func TestResolveValidCredentials(t *testing.T) {
	repo := &mockKeyRepo{key: &APIKey{
		CompanyID:  7,
		KeyID:      "key-1",
		SecretHash: hashSecret(t, "s3cret"),
		Grants:     []string{"payments", "reports"},
		Active:     true,
	}}
	svc := newTestService(t, repo)

	identity, err := svc.Resolve(context.Background(), "key-1", "s3cret")
	require.NoError(t, err)
	require.EqualValues(t, 7, identity.CompanyID)
	require.Equal(t, "key-1", identity.KeyID)
	require.True(t, identity.Permissions.Payments)
	require.True(t, identity.Permissions.Reports)
	require.False(t, identity.Permissions.Anticipations)
}

func TestResolveWrongSecret(t *testing.T) {
	repo := &mockKeyRepo{key: &APIKey{
		KeyID:      "key-1",
		SecretHash: hashSecret(t, "right"),
	}}
	svc := newTestService(t, repo)

	_, err := svc.Resolve(context.Background(), "key-1", "wrong")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)

	// A failed resolution is never cached: the right secret still works.
	_, err = svc.Resolve(context.Background(), "key-1", "right")
	require.NoError(t, err)
}

func TestResolveEmptyCredentials(t *testing.T) {
	repo := &mockKeyRepo{}
	svc := newTestService(t, repo)

	_, err := svc.Resolve(context.Background(), "", "secret")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
	_, err = svc.Resolve(context.Background(), "key", "")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
	require.Zero(t, atomic.LoadInt64(&repo.calls))
}

func TestResolveBurstCollapsesToOneLookup(t *testing.T) {
	repo := &mockKeyRepo{key: &APIKey{
		CompanyID:  3,
		KeyID:      "key-1",
		SecretHash: hashSecret(t, "s3cret"),
		Grants:     []string{"payments"},
	}}
	svc := newTestService(t, repo)

	const concurrency = 20
	identities := make([]shared.Identity, concurrency)
	errs := make([]error, concurrency)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			identities[i], errs[i] = svc.Resolve(context.Background(), "key-1", "s3cret")
		}(i)
	}
	wg.Wait()

	require.EqualValues(t, 1, atomic.LoadInt64(&repo.calls))
	for i := 0; i < concurrency; i++ {
		require.NoError(t, errs[i])
		require.EqualValues(t, 3, identities[i].CompanyID)
	}
}

func TestResolveCachesAcrossCalls(t *testing.T) {
	repo := &mockKeyRepo{key: &APIKey{
		KeyID:      "key-1",
		SecretHash: hashSecret(t, "s3cret"),
	}}
	svc := newTestService(t, repo)
	ctx := context.Background()

	_, err := svc.Resolve(ctx, "key-1", "s3cret")
	require.NoError(t, err)
	_, err = svc.Resolve(ctx, "key-1", "s3cret")
	require.NoError(t, err)

	require.EqualValues(t, 1, atomic.LoadInt64(&repo.calls))
}
