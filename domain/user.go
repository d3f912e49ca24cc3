package domain

import "time"

// UserStatus defines the possible statuses of a portal user account.
type UserStatus string

const (
	UserStatusActive   UserStatus = "ACTIVE"
	UserStatusLocked   UserStatus = "LOCKED"
	UserStatusDisabled UserStatus = "DISABLED"
)

// User is the subset of the portal user document the clinic sync reads and writes.
// The sync lock lives on the user document itself: SyncInProgress is the flag and
// SyncStartedAt records when the current holder acquired it.
type User struct {
	ID               string     `bson:"_id,omitempty" json:"id"`
	Email            string     `bson:"email" json:"email"`
	Status           UserStatus `bson:"status" json:"status"`
	FirstName        string     `bson:"first_name,omitempty" json:"first_name,omitempty"`
	LastName         string     `bson:"last_name,omitempty" json:"last_name,omitempty"`
	SyncInProgress   bool       `bson:"clinic_sync_in_progress" json:"clinic_sync_in_progress"`
	SyncStartedAt    *time.Time `bson:"clinic_sync_started_at,omitempty" json:"clinic_sync_started_at,omitempty"`
	LastClinicSyncAt *time.Time `bson:"last_clinic_sync_at,omitempty" json:"last_clinic_sync_at,omitempty"`
	CreatedAt        time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `bson:"updated_at" json:"updated_at"`
}

// SyncLockHeld reports whether another sync currently owns the user's lock.
// A lock older than lease is considered abandoned. A zero lease disables expiry.
func (u *User) SyncLockHeld(now time.Time, lease time.Duration) bool {
	if !u.SyncInProgress {
		return false
	}
	if lease <= 0 || u.SyncStartedAt == nil {
		return true
	}
	return now.Sub(*u.SyncStartedAt) < lease
}
