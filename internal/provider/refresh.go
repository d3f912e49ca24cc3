package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/pilab-dev/clinic-sync/domain"
	"github.com/pilab-dev/clinic-sync/internal/metrics"
)

// Authenticator logs in to the provider, stores the new credential as active
// and returns its token.
type Authenticator interface {
	Authenticate(ctx context.Context) (string, error)
}

// Operation is a single provider call made with the given bearer token.
type Operation[T any] func(ctx context.Context, token string) (T, error)

// WithRefresh runs op with the active credential. When op fails with
// ErrUnauthorized or ErrNotFound the credential is invalidated, re-issued and
// op is retried exactly once. A second ErrNotFound becomes ErrResourceNotFound.
// Any other failure, including a failed refresh, is returned unchanged.
func WithRefresh[T any](ctx context.Context, store domain.CredentialStore, auth Authenticator, op Operation[T]) (T, error) {
	var zero T

	token, err := activeToken(ctx, store)
	if err != nil {
		return zero, err
	}
	if token == "" {
		token, err = auth.Authenticate(ctx)
		if err != nil {
			return zero, fmt.Errorf("%w: %w", ErrNoCredentialAvailable, err)
		}
	}

	result, err := op(ctx, token)
	if err == nil {
		return result, nil
	}
	if !IsRefreshable(err) {
		return zero, err
	}

	metrics.CredentialRefreshesTotal.Inc()
	if err := store.InvalidateActiveCredential(ctx); err != nil {
		return zero, fmt.Errorf("invalidate stale credential: %w", err)
	}
	token, err = auth.Authenticate(ctx)
	if err != nil {
		return zero, err
	}

	result, err = op(ctx, token)
	if err == nil {
		return result, nil
	}
	if errors.Is(err, ErrNotFound) {
		return zero, fmt.Errorf("%w: %w", ErrResourceNotFound, err)
	}
	return zero, err
}

func activeToken(ctx context.Context, store domain.CredentialStore) (string, error) {
	cred, err := store.GetActiveCredential(ctx)
	if errors.Is(err, domain.ErrCredentialNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load active credential: %w", err)
	}
	return cred.Token, nil
}
