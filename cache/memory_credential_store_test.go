package cache

import (
	"context"
	"testing"
	"time"

	"github.com/pilab-dev/clinic-sync/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCredentialStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryCredentialStore(0)
	defer store.Close()

	_, err := store.GetActiveCredential(ctx)
	assert.ErrorIs(t, err, domain.ErrCredentialNotFound)

	require.NoError(t, store.StoreCredential(ctx, "first"))
	cred, err := store.GetActiveCredential(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first", cred.Token)
	assert.True(t, cred.IsActive)
	assert.NotEmpty(t, cred.ID)
	assert.False(t, cred.CreatedAt.IsZero())

	require.NoError(t, store.StoreCredential(ctx, "second"))
	cred, err = store.GetActiveCredential(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", cred.Token, "storing replaces the active credential")

	require.NoError(t, store.InvalidateActiveCredential(ctx))
	_, err = store.GetActiveCredential(ctx)
	assert.ErrorIs(t, err, domain.ErrCredentialNotFound)

	// Invalidation is idempotent.
	require.NoError(t, store.InvalidateActiveCredential(ctx))
}

func TestMemoryCredentialStore_RejectsEmptyToken(t *testing.T) {
	store := NewMemoryCredentialStore(0)
	defer store.Close()

	assert.ErrorIs(t, store.StoreCredential(context.Background(), ""), domain.ErrEmptyCredentialToken)
}

func TestMemoryCredentialStore_ReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryCredentialStore(0)
	defer store.Close()

	require.NoError(t, store.StoreCredential(ctx, "tok"))
	cred, err := store.GetActiveCredential(ctx)
	require.NoError(t, err)
	cred.Token = "mutated"

	again, err := store.GetActiveCredential(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok", again.Token)
}

func TestMemoryCredentialStore_Expires(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryCredentialStore(20 * time.Millisecond)
	defer store.Close()

	require.NoError(t, store.StoreCredential(ctx, "short-lived"))
	require.Eventually(t, func() bool {
		_, err := store.GetActiveCredential(ctx)
		return err != nil
	}, time.Second, 10*time.Millisecond)
}
