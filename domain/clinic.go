package domain

import "time"

// Clinic is a local clinic document. Provider clinics carry ExternalID; system
// clinics (head office, laboratory) are found by their well-known Code instead.
type Clinic struct {
	ID           string     `bson:"_id,omitempty" json:"id"`
	Name         string     `bson:"name" json:"name"`
	Code         string     `bson:"code,omitempty" json:"code,omitempty"`
	Address      string     `bson:"address,omitempty" json:"address,omitempty"`
	Phone        string     `bson:"phone,omitempty" json:"phone,omitempty"`
	Email        string     `bson:"email,omitempty" json:"email,omitempty"`
	ExternalID   *string    `bson:"external_id,omitempty" json:"external_id,omitempty"`
	LastSyncedAt *time.Time `bson:"last_synced_at,omitempty" json:"last_synced_at,omitempty"`
	IsActive     bool       `bson:"is_active" json:"is_active"`
	CreatedAt    time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `bson:"updated_at" json:"updated_at"`
}

// ClinicUpsert holds the provider-sourced fields refreshed on every sync.
type ClinicUpsert struct {
	ExternalID string
	Name       string
	Code       string
	Address    string
	Phone      string
	Email      string
	SyncedAt   time.Time
}

// SpecialClinic is a locally provisioned clinic whose membership derives from
// society membership, not from the provider.
type SpecialClinic struct {
	Name                string
	Code                string
	SyntheticExternalID string
	Role                SocietyRole
}

const (
	HeadOfficeClinicCode = "HQ"
	LaboratoryClinicCode = "LAB"

	HeadOfficeExternalID = "system:head-office"
	LaboratoryExternalID = "system:laboratory"
)

// DefaultSpecialClinics returns the head-office and laboratory definitions.
func DefaultSpecialClinics() []SpecialClinic {
	return []SpecialClinic{
		{
			Name:                "head-office",
			Code:                HeadOfficeClinicCode,
			SyntheticExternalID: HeadOfficeExternalID,
			Role:                SocietyRoleHeadOffice,
		},
		{
			Name:                "laboratory",
			Code:                LaboratoryClinicCode,
			SyntheticExternalID: LaboratoryExternalID,
			Role:                SocietyRoleLaboratory,
		},
	}
}
