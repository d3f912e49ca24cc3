package domain

import (
	"context"
	"time"
)

// UserRepository reads users and manages the per-user clinic sync lock.
type UserRepository interface {
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// AcquireSyncLock sets the sync flag only if it is not already held (or the
	// holder's lease expired). It returns false when another sync owns the lock.
	// now is stored as the holder's start time and identifies the holder on release.
	AcquireSyncLock(ctx context.Context, userID string, now time.Time, lease time.Duration) (bool, error)
	// ReleaseSyncLock clears the flag only if startedAt still matches, so a holder
	// whose lease was taken over cannot free the new holder's lock. In that case it
	// returns ErrSyncLockLost.
	ReleaseSyncLock(ctx context.Context, userID string, startedAt time.Time) error
	MarkClinicsSynced(ctx context.Context, userID string, at time.Time) error
}

// ClinicRepository stores clinics keyed by provider id or system code.
type ClinicRepository interface {
	GetByExternalID(ctx context.Context, externalID string) (*Clinic, error)
	GetByCode(ctx context.Context, code string) (*Clinic, error)
	// UpsertByExternalID creates the clinic on first sight and refreshes its
	// provider-sourced fields afterwards. The returned bool is true on create.
	UpsertByExternalID(ctx context.Context, in ClinicUpsert) (*Clinic, bool, error)
}

// UserClinicLinkRepository stores user clinic memberships, unique per (user, clinic).
type UserClinicLinkRepository interface {
	GetByUserAndClinic(ctx context.Context, userID, clinicID string) (*UserClinicLink, error)
	ListByUser(ctx context.Context, userID string) ([]*UserClinicLink, error)
	// ListActiveExternalByUser returns active links whose external clinic id is set.
	ListActiveExternalByUser(ctx context.Context, userID string) ([]*UserClinicLink, error)
	// Upsert creates an active link or reactivates the existing one, refreshing its
	// external id and role. The returned bool is true on create.
	Upsert(ctx context.Context, in LinkUpsert, at time.Time) (*UserClinicLink, bool, error)
	Deactivate(ctx context.Context, linkID string, at time.Time) error
}

// SocietyMembershipRepository reads local society membership.
type SocietyMembershipRepository interface {
	GetByUserID(ctx context.Context, userID string) (*SocietyMembership, error)
}
