package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pilab-dev/clinic-sync/domain"
	"github.com/redis/go-redis/v9"
)

// CredentialStore implements domain.CredentialStore on Redis so that every
// instance of the service shares one provider credential.
type CredentialStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ domain.CredentialStore = (*CredentialStore)(nil)

// NewCredentialStore creates a [CredentialStore]. A ttl of zero stores the
// credential without expiry.
func NewCredentialStore(client redis.UniversalClient, prefix string, ttl time.Duration) *CredentialStore {
	return &CredentialStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (s *CredentialStore) activeKey() string {
	return fmt.Sprintf("%s:provider_credential:active", s.prefix)
}

// StoreCredential atomically replaces the active credential hash.
func (s *CredentialStore) StoreCredential(ctx context.Context, token string) error {
	if token == "" {
		return domain.ErrEmptyCredentialToken
	}
	key := s.activeKey()
	entry := map[string]interface{}{
		"id":         uuid.NewString(),
		"token":      token,
		"created_at": time.Now().UTC().UnixNano(),
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, entry)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store credential in Redis: %w", err)
	}
	return nil
}

// GetActiveCredential reads the active credential hash.
func (s *CredentialStore) GetActiveCredential(ctx context.Context) (*domain.Credential, error) {
	res, err := s.client.HGetAll(ctx, s.activeKey()).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read credential from Redis: %w", err)
	}
	if len(res) == 0 || res["token"] == "" {
		return nil, domain.ErrCredentialNotFound
	}

	createdAt := time.Time{}
	if raw, ok := res["created_at"]; ok {
		nanos, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid credential created_at %q: %w", raw, err)
		}
		createdAt = time.Unix(0, nanos).UTC()
	}

	return &domain.Credential{
		ID:        res["id"],
		Token:     res["token"],
		IsActive:  true,
		CreatedAt: createdAt,
	}, nil
}

// InvalidateActiveCredential deletes the active credential hash.
func (s *CredentialStore) InvalidateActiveCredential(ctx context.Context) error {
	if err := s.client.Del(ctx, s.activeKey()).Err(); err != nil {
		return fmt.Errorf("failed to invalidate credential in Redis: %w", err)
	}
	return nil
}
