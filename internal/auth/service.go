package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/lumapay/lumapay/internal/platform/cache"
	"github.com/lumapay/lumapay/internal/shared"
)

// Service resolves API credentials into caller identities. The DB join behind
// a resolution is expensive, so concurrent requests presenting the same
// credentials collapse onto one lookup via the single-flight lock; a burst of
// N requests costs one query, not N.
type Service struct {
	repo   Repository
	locker *shared.Locker
	ttl    time.Duration
	window time.Duration
}

// NewService builds a Service instance.
func NewService(repo Repository, locker *shared.Locker, ttl, lockWindow time.Duration) *Service {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if lockWindow <= 0 {
		lockWindow = 10 * time.Second
	}
	return &Service{repo: repo, locker: locker, ttl: ttl, window: lockWindow}
}

// Resolve validates a key-id/secret pair and returns the caller's identity.
// Invalid credentials propagate as an error and are never cached as success.
func (s *Service) Resolve(ctx context.Context, keyID, secret string) (shared.Identity, error) {
	if keyID == "" || secret == "" {
		return shared.Identity{}, shared.ErrInvalidCredentials
	}

	// The secret participates in the cache key only as a hash, so a wrong
	// secret can never be served another caller's identity.
	digest := sha256.Sum256([]byte(secret))
	key := cache.GenerateKey("auth:identity", map[string]any{
		"key_id": keyID,
		"secret": hex.EncodeToString(digest[:]),
	})

	var identity shared.Identity
	err := s.locker.RememberWithLock(ctx, key, &identity, shared.LockOptions{
		TTL:         s.ttl,
		LockTimeout: s.window,
	}, func(ctx context.Context) (any, error) {
		return s.lookup(ctx, keyID, secret)
	})
	if err != nil {
		return shared.Identity{}, err
	}
	return identity, nil
}

func (s *Service) lookup(ctx context.Context, keyID, secret string) (shared.Identity, error) {
	apiKey, err := s.repo.FindByKeyID(ctx, keyID)
	if err != nil {
		return shared.Identity{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(apiKey.SecretHash), []byte(secret)); err != nil {
		return shared.Identity{}, shared.ErrInvalidCredentials
	}
	return shared.Identity{
		CompanyID:   apiKey.CompanyID,
		KeyID:       apiKey.KeyID,
		Permissions: shared.PermissionsFromGrants(apiKey.Grants),
	}, nil
}
