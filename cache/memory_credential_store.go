package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"github.com/pilab-dev/clinic-sync/domain"
)

const activeCredentialKey = "active"

// MemoryCredentialStore implements domain.CredentialStore using ttlcache.
// The provider controls real expiry; ttl is only an upper bound on how long a
// token is reused before a fresh login is forced.
type MemoryCredentialStore struct {
	cache *ttlcache.Cache[string, *domain.Credential]
	now   func() time.Time
}

var _ domain.CredentialStore = (*MemoryCredentialStore)(nil)

// NewMemoryCredentialStore creates a process-local credential store. A ttl of
// zero keeps the credential until it is invalidated or replaced.
func NewMemoryCredentialStore(ttl time.Duration) *MemoryCredentialStore {
	if ttl <= 0 {
		ttl = ttlcache.NoTTL
	}
	cache := ttlcache.New(
		ttlcache.WithTTL[string, *domain.Credential](ttl),
		ttlcache.WithDisableTouchOnHit[string, *domain.Credential](),
	)

	go cache.Start()

	return &MemoryCredentialStore{
		cache: cache,
		now:   time.Now,
	}
}

// StoreCredential replaces the active credential.
func (s *MemoryCredentialStore) StoreCredential(_ context.Context, token string) error {
	if token == "" {
		return domain.ErrEmptyCredentialToken
	}
	s.cache.Set(activeCredentialKey, &domain.Credential{
		ID:        uuid.NewString(),
		Token:     token,
		IsActive:  true,
		CreatedAt: s.now().UTC(),
	}, ttlcache.DefaultTTL)
	return nil
}

// GetActiveCredential returns a copy of the active credential.
func (s *MemoryCredentialStore) GetActiveCredential(_ context.Context) (*domain.Credential, error) {
	item := s.cache.Get(activeCredentialKey)
	if item == nil {
		return nil, domain.ErrCredentialNotFound
	}
	cred := *item.Value()
	return &cred, nil
}

// InvalidateActiveCredential drops the active credential, if any.
func (s *MemoryCredentialStore) InvalidateActiveCredential(_ context.Context) error {
	s.cache.Delete(activeCredentialKey)
	return nil
}

// Close stops the expiry goroutine.
func (s *MemoryCredentialStore) Close() error {
	s.cache.Stop()
	return nil
}
