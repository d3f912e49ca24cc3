package provider

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ExternalID is a provider identifier. The provider emits ids as JSON numbers,
// but strings are accepted too.
type ExternalID string

func (id *ExternalID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ExternalID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a number or string: %w", err)
	}
	*id = ExternalID(n.String())
	return nil
}

func (id ExternalID) String() string {
	return string(id)
}

type Role struct {
	ID   ExternalID `json:"id"`
	Name string     `json:"name"`
	Slug string     `json:"slug,omitempty"`
}

type AreaManager struct {
	ID    ExternalID `json:"id"`
	Name  string     `json:"name,omitempty"`
	Email string     `json:"email,omitempty"`
}

// Clinic is one clinic membership as reported by the provider.
type Clinic struct {
	ID           ExternalID    `json:"id"`
	Name         string        `json:"name"`
	Code         string        `json:"code,omitempty"`
	Address      string        `json:"address,omitempty"`
	Phone        string        `json:"phone,omitempty"`
	Email        string        `json:"email,omitempty"`
	Roles        []Role        `json:"roles,omitempty"`
	AreaManagers []AreaManager `json:"area_managers,omitempty"`
}

// RoleName returns the first reported role, or "" when the provider sent none.
func (c Clinic) RoleName() string {
	for _, r := range c.Roles {
		if r.Name != "" {
			return r.Name
		}
		if r.Slug != "" {
			return r.Slug
		}
	}
	return ""
}

// User is the provider's view of a portal user and their clinics.
type User struct {
	ID        ExternalID `json:"id"`
	Email     string     `json:"email"`
	FirstName string     `json:"first_name,omitempty"`
	LastName  string     `json:"last_name,omitempty"`
	Clinics   []Clinic   `json:"clinics"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Meta *struct {
		Token string `json:"token"`
	} `json:"meta"`
}

type userEnvelope struct {
	Data *struct {
		ID        ExternalID `json:"id"`
		Email     string     `json:"email"`
		FirstName string     `json:"first_name"`
		LastName  string     `json:"last_name"`
		Clinics   *[]Clinic  `json:"clinics"`
	} `json:"data"`
}

// toUser validates the envelope and converts it. A missing data object, a
// missing clinics list or a clinic without an id is a schema mismatch.
func (e *userEnvelope) toUser() (*User, error) {
	if e.Data == nil {
		return nil, fmt.Errorf("%w: missing data object", ErrSchemaMismatch)
	}
	if e.Data.Clinics == nil {
		return nil, fmt.Errorf("%w: missing data.clinics", ErrSchemaMismatch)
	}
	clinics := *e.Data.Clinics
	for i, c := range clinics {
		if c.ID == "" {
			return nil, fmt.Errorf("%w: data.clinics[%d] has no id", ErrSchemaMismatch, i)
		}
	}
	return &User{
		ID:        e.Data.ID,
		Email:     e.Data.Email,
		FirstName: e.Data.FirstName,
		LastName:  e.Data.LastName,
		Clinics:   clinics,
	}, nil
}
