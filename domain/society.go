package domain

import (
	"slices"
	"time"
)

// SocietyRole is a membership fact held locally, unrelated to the provider.
type SocietyRole string

const (
	SocietyRoleHeadOffice SocietyRole = "head_office"
	SocietyRoleLaboratory SocietyRole = "laboratory"
)

// SocietyMembership is the local "society" record used to decide special-clinic eligibility.
type SocietyMembership struct {
	ID        string        `bson:"_id,omitempty" json:"id,omitempty"`
	UserID    string        `bson:"user_id" json:"user_id"`
	Roles     []SocietyRole `bson:"roles" json:"roles"`
	IsActive  bool          `bson:"is_active" json:"is_active"`
	UpdatedAt time.Time     `bson:"updated_at" json:"updated_at"`
}

// Qualifies reports whether the membership grants the given role.
func (m *SocietyMembership) Qualifies(role SocietyRole) bool {
	if m == nil || !m.IsActive {
		return false
	}
	return slices.Contains(m.Roles, role)
}
