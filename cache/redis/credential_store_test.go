package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/pilab-dev/clinic-sync/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*redis.Client, string) {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set, skipping Redis integration test")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, client.Ping(ctx).Err())

	prefix := fmt.Sprintf("clinicsync_test_%d", time.Now().UnixNano())
	t.Cleanup(func() {
		_ = client.Del(context.Background(), prefix+":provider_credential:active").Err()
		_ = client.Close()
	})
	return client, prefix
}

func TestCredentialStore_Lifecycle(t *testing.T) {
	client, prefix := setupRedis(t)
	ctx := context.Background()
	store := NewCredentialStore(client, prefix, time.Minute)

	_, err := store.GetActiveCredential(ctx)
	assert.ErrorIs(t, err, domain.ErrCredentialNotFound)

	require.NoError(t, store.StoreCredential(ctx, "first"))
	require.NoError(t, store.StoreCredential(ctx, "second"))

	cred, err := store.GetActiveCredential(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", cred.Token)
	assert.True(t, cred.IsActive)
	assert.NotEmpty(t, cred.ID)

	ttl, err := client.TTL(ctx, store.activeKey()).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, store.InvalidateActiveCredential(ctx))
	require.NoError(t, store.InvalidateActiveCredential(ctx))
	_, err = store.GetActiveCredential(ctx)
	assert.ErrorIs(t, err, domain.ErrCredentialNotFound)
}
