// Package memstore holds in-memory implementations of the domain repositories.
// They back the "memory" deployment mode and the service tests, and mirror the
// MongoDB semantics closely enough that the sync logic cannot tell them apart.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pilab-dev/clinic-sync/domain"
)

// Store keeps every collection behind a single mutex.
type Store struct {
	mu          sync.Mutex
	users       map[string]domain.User
	clinics     map[string]domain.Clinic
	links       map[string]domain.UserClinicLink
	memberships map[string]domain.SocietyMembership

	now func() time.Time
}

func New() *Store {
	return &Store{
		users:       make(map[string]domain.User),
		clinics:     make(map[string]domain.Clinic),
		links:       make(map[string]domain.UserClinicLink),
		memberships: make(map[string]domain.SocietyMembership),
		now:         time.Now,
	}
}

// Users returns the store's domain.UserRepository view.
func (s *Store) Users() *UserRepository { return &UserRepository{s} }

// Clinics returns the store's domain.ClinicRepository view.
func (s *Store) Clinics() *ClinicRepository { return &ClinicRepository{s} }

// Links returns the store's domain.UserClinicLinkRepository view.
func (s *Store) Links() *LinkRepository { return &LinkRepository{s} }

// Memberships returns the store's domain.SocietyMembershipRepository view.
func (s *Store) Memberships() *MembershipRepository { return &MembershipRepository{s} }

// PutUser inserts or replaces a user. An empty ID is generated.
func (s *Store) PutUser(u domain.User) domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	s.users[u.ID] = u
	return u
}

// PutClinic inserts or replaces a clinic. An empty ID is generated.
func (s *Store) PutClinic(c domain.Clinic) domain.Clinic {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	s.clinics[c.ID] = c
	return c
}

// PutLink inserts or replaces a link. An empty ID is generated.
func (s *Store) PutLink(l domain.UserClinicLink) domain.UserClinicLink {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	s.links[l.ID] = l
	return l
}

// PutMembership replaces the society membership of m.UserID.
func (s *Store) PutMembership(m domain.SocietyMembership) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	s.memberships[m.UserID] = m
}

// ClinicCount returns how many clinics are stored.
func (s *Store) ClinicCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clinics)
}

type UserRepository struct{ s *Store }

func (r *UserRepository) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return &u, nil
}

func (r *UserRepository) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (r *UserRepository) AcquireSyncLock(_ context.Context, userID string, now time.Time, lease time.Duration) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[userID]
	if !ok {
		return false, domain.ErrUserNotFound
	}
	if u.SyncLockHeld(now, lease) {
		return false, nil
	}
	u.SyncInProgress = true
	u.SyncStartedAt = &now
	u.UpdatedAt = now
	r.s.users[userID] = u
	return true, nil
}

func (r *UserRepository) ReleaseSyncLock(_ context.Context, userID string, startedAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[userID]
	if !ok {
		return domain.ErrUserNotFound
	}
	if !u.SyncInProgress || u.SyncStartedAt == nil || !u.SyncStartedAt.Equal(startedAt) {
		return domain.ErrSyncLockLost
	}
	u.SyncInProgress = false
	u.SyncStartedAt = nil
	u.UpdatedAt = r.s.now().UTC()
	r.s.users[userID] = u
	return nil
}

func (r *UserRepository) MarkClinicsSynced(_ context.Context, userID string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[userID]
	if !ok {
		return domain.ErrUserNotFound
	}
	u.LastClinicSyncAt = &at
	u.UpdatedAt = at
	r.s.users[userID] = u
	return nil
}

type ClinicRepository struct{ s *Store }

func (r *ClinicRepository) GetByExternalID(_ context.Context, externalID string) (*domain.Clinic, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if c, ok := r.s.clinicByExternalID(externalID); ok {
		return &c, nil
	}
	return nil, domain.ErrClinicNotFound
}

func (r *ClinicRepository) GetByCode(_ context.Context, code string) (*domain.Clinic, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.clinics {
		if c.Code == code && c.ExternalID == nil {
			return &c, nil
		}
	}
	return nil, domain.ErrClinicNotFound
}

func (r *ClinicRepository) UpsertByExternalID(_ context.Context, in domain.ClinicUpsert) (*domain.Clinic, bool, error) {
	if in.ExternalID == "" {
		return nil, false, domain.ErrInvalidClinicUpsert
	}
	syncedAt := in.SyncedAt
	if syncedAt.IsZero() {
		syncedAt = r.s.now().UTC()
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, found := r.s.clinicByExternalID(in.ExternalID)
	if !found {
		externalID := in.ExternalID
		c = domain.Clinic{ID: uuid.NewString(), ExternalID: &externalID, CreatedAt: syncedAt}
	}
	c.Name = in.Name
	c.Address = in.Address
	c.Phone = in.Phone
	c.Email = in.Email
	if in.Code != "" {
		c.Code = in.Code
	}
	c.LastSyncedAt = &syncedAt
	c.IsActive = true
	c.UpdatedAt = syncedAt
	r.s.clinics[c.ID] = c
	return &c, !found, nil
}

func (s *Store) clinicByExternalID(externalID string) (domain.Clinic, bool) {
	for _, c := range s.clinics {
		if c.ExternalID != nil && *c.ExternalID == externalID {
			return c, true
		}
	}
	return domain.Clinic{}, false
}

type LinkRepository struct{ s *Store }

func (r *LinkRepository) GetByUserAndClinic(_ context.Context, userID, clinicID string) (*domain.UserClinicLink, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if l, ok := r.s.linkFor(userID, clinicID); ok {
		return &l, nil
	}
	return nil, domain.ErrLinkNotFound
}

func (r *LinkRepository) ListByUser(_ context.Context, userID string) ([]*domain.UserClinicLink, error) {
	return r.list(func(l domain.UserClinicLink) bool { return l.UserID == userID }), nil
}

func (r *LinkRepository) ListActiveExternalByUser(_ context.Context, userID string) ([]*domain.UserClinicLink, error) {
	return r.list(func(l domain.UserClinicLink) bool {
		return l.UserID == userID && l.IsActive && l.HasExternalID()
	}), nil
}

func (r *LinkRepository) list(match func(domain.UserClinicLink) bool) []*domain.UserClinicLink {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.UserClinicLink
	for _, l := range r.s.links {
		l := l
		if match(l) {
			out = append(out, &l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *LinkRepository) Upsert(_ context.Context, in domain.LinkUpsert, at time.Time) (*domain.UserClinicLink, bool, error) {
	if in.UserID == "" || in.ClinicID == "" {
		return nil, false, domain.ErrInvalidLinkUpsert
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l, found := r.s.linkFor(in.UserID, in.ClinicID)
	if !found {
		l = domain.UserClinicLink{
			ID:       uuid.NewString(),
			UserID:   in.UserID,
			ClinicID: in.ClinicID,
			Role:     domain.DefaultLinkRole,
			JoinedAt: at,
		}
	}
	if in.ExternalClinicID != "" {
		externalID := in.ExternalClinicID
		l.ExternalClinicID = &externalID
	}
	if in.Role != "" {
		l.Role = in.Role
	}
	l.IsActive = true
	l.UpdatedAt = at
	r.s.links[l.ID] = l
	return &l, !found, nil
}

func (r *LinkRepository) Deactivate(_ context.Context, linkID string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l, ok := r.s.links[linkID]
	if !ok {
		return domain.ErrLinkNotFound
	}
	l.IsActive = false
	l.UpdatedAt = at
	r.s.links[linkID] = l
	return nil
}

func (s *Store) linkFor(userID, clinicID string) (domain.UserClinicLink, bool) {
	for _, l := range s.links {
		if l.UserID == userID && l.ClinicID == clinicID {
			return l, true
		}
	}
	return domain.UserClinicLink{}, false
}

type MembershipRepository struct{ s *Store }

func (r *MembershipRepository) GetByUserID(_ context.Context, userID string) (*domain.SocietyMembership, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.memberships[userID]
	if !ok {
		return nil, domain.ErrMembershipNotFound
	}
	return &m, nil
}

var (
	_ domain.UserRepository              = (*UserRepository)(nil)
	_ domain.ClinicRepository            = (*ClinicRepository)(nil)
	_ domain.UserClinicLinkRepository    = (*LinkRepository)(nil)
	_ domain.SocietyMembershipRepository = (*MembershipRepository)(nil)
)
