package domain

import (
	"context"
	"time"
)

// Credential is the bearer token issued to this service by the provider.
// It is shared by every sync in the process, not scoped to a user.
type Credential struct {
	ID        string    `bson:"_id,omitempty" json:"id"`
	Token     string    `bson:"token" json:"-"`
	IsActive  bool      `bson:"is_active" json:"is_active"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

// CredentialStore keeps at most one active provider credential.
//
// StoreCredential atomically supersedes any previously active credential.
// GetActiveCredential returns ErrCredentialNotFound when nothing is active.
// InvalidateActiveCredential is a no-op when nothing is active.
type CredentialStore interface {
	StoreCredential(ctx context.Context, token string) error
	GetActiveCredential(ctx context.Context) (*Credential, error)
	InvalidateActiveCredential(ctx context.Context) error
}
