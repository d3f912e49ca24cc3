package domain

import "time"

// DefaultLinkRole is used when the provider does not report a role for a clinic.
const DefaultLinkRole = "member"

// UserClinicLink records that a user belongs to a clinic.
// ExternalClinicID is nil for purely local links; reconciliation never touches those.
type UserClinicLink struct {
	ID               string    `bson:"_id,omitempty" json:"id,omitempty"`
	UserID           string    `bson:"user_id" json:"user_id"`
	ClinicID         string    `bson:"clinic_id" json:"clinic_id"`
	ExternalClinicID *string   `bson:"external_clinic_id" json:"external_clinic_id"`
	IsActive         bool      `bson:"is_active" json:"is_active"`
	Role             string    `bson:"role" json:"role"`
	JoinedAt         time.Time `bson:"joined_at" json:"joined_at"`
	UpdatedAt        time.Time `bson:"updated_at" json:"updated_at"`
}

// HasExternalID reports whether the link was sourced from the provider or a
// special-clinic rule rather than created locally.
func (l *UserClinicLink) HasExternalID() bool {
	return l.ExternalClinicID != nil && *l.ExternalClinicID != ""
}

// LinkUpsert carries the fields written when a link is created or refreshed.
type LinkUpsert struct {
	UserID           string
	ClinicID         string
	ExternalClinicID string
	Role             string
}
