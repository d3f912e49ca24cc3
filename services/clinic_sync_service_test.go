package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/pilab-dev/clinic-sync/cache"
	"github.com/pilab-dev/clinic-sync/config"
	"github.com/pilab-dev/clinic-sync/domain"
	"github.com/pilab-dev/clinic-sync/internal/memstore"
	"github.com/pilab-dev/clinic-sync/internal/provider"
	"github.com/pilab-dev/clinic-sync/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider serves the provider login and user lookup endpoints.
type fakeProvider struct {
	mu          sync.Mutex
	clinics     []map[string]any
	lookupCodes []int // status per lookup call; 200 once exhausted
	logins      int
	lookups     int
}

func (f *fakeProvider) setClinics(clinics ...map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clinics = clinics
}

func (f *fakeProvider) counts() (logins, lookups int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logins, f.lookups
}

func (f *fakeProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.URL.Path {
	case provider.LoginPath:
		f.logins++
		_ = json.NewEncoder(w).Encode(map[string]any{"meta": map[string]any{"token": "token"}})
	case provider.UserByEmailPath:
		f.lookups++
		if len(f.lookupCodes) > 0 {
			code := f.lookupCodes[0]
			f.lookupCodes = f.lookupCodes[1:]
			if code != http.StatusOK {
				w.WriteHeader(code)
				return
			}
		}
		clinics := f.clinics
		if clinics == nil {
			clinics = []map[string]any{}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"id": 99, "email": r.URL.Query().Get("email"), "clinics": clinics},
		})
	default:
		http.NotFound(w, r)
	}
}

func clinic(id int, name string) map[string]any {
	return map[string]any{"id": id, "name": name, "roles": []map[string]any{{"id": 1, "name": "vet"}}}
}

type syncHarness struct {
	store    *memstore.Store
	provider *fakeProvider
	service  *ClinicSyncService
	user     domain.User
}

func newSyncHarness(t *testing.T) *syncHarness {
	t.Helper()
	return newSyncHarnessWith(t, nil, nil)
}

// newSyncHarnessWith lets a test wrap the clinic repository and capture the
// reconciler's log output.
func newSyncHarnessWith(t *testing.T, wrapClinics func(domain.ClinicRepository) domain.ClinicRepository, logger log.Logger) *syncHarness {
	t.Helper()

	fp := &fakeProvider{}
	srv := httptest.NewServer(fp)
	t.Cleanup(srv.Close)

	store := memstore.New()
	creds := cache.NewMemoryCredentialStore(0)
	t.Cleanup(func() { _ = creds.Close() })

	cfg := config.ProviderConfig{Email: "svc@example.com", Password: "secret", BaseURL: srv.URL}
	conn := NewConnectionService(cfg, provider.NewClient(srv.URL, 5*time.Second), creds, nil)
	var clinics domain.ClinicRepository = store.Clinics()
	if wrapClinics != nil {
		clinics = wrapClinics(clinics)
	}
	reconciler := NewClinicReconciler(clinics, store.Links(), store.Memberships(), nil, logger)

	user := store.PutUser(domain.User{Email: "alice@example.com", Status: domain.UserStatusActive})

	return &syncHarness{
		store:    store,
		provider: fp,
		service:  NewClinicSyncService(store.Users(), conn, reconciler, time.Minute, nil),
		user:     user,
	}
}

func (h *syncHarness) sync(t *testing.T) (SyncResult, error) {
	t.Helper()
	return h.service.SyncUserClinics(context.Background(), h.user.Email, h.user.ID)
}

func (h *syncHarness) activeExternalIDs(t *testing.T) []string {
	t.Helper()
	links, err := h.store.Links().ListActiveExternalByUser(context.Background(), h.user.ID)
	require.NoError(t, err)
	ids := make([]string, 0, len(links))
	for _, l := range links {
		ids = append(ids, *l.ExternalClinicID)
	}
	return ids
}

func (h *syncHarness) lockHeld(t *testing.T) bool {
	t.Helper()
	u, err := h.store.Users().GetUserByID(context.Background(), h.user.ID)
	require.NoError(t, err)
	return u.SyncInProgress
}

func TestSyncUserClinics_CreatesClinicsAndLinks(t *testing.T) {
	h := newSyncHarness(t)
	h.provider.setClinics(clinic(1, "North"), clinic(2, "South"))

	result, err := h.sync(t)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Success: true, ClinicsSynced: 2}, result)
	assert.ElementsMatch(t, []string{"1", "2"}, h.activeExternalIDs(t))
	assert.Equal(t, 2, h.store.ClinicCount())
	assert.False(t, h.lockHeld(t))

	c, err := h.store.Clinics().GetByExternalID(context.Background(), "1")
	require.NoError(t, err)
	link, err := h.store.Links().GetByUserAndClinic(context.Background(), h.user.ID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "vet", link.Role)

	u, err := h.store.Users().GetUserByID(context.Background(), h.user.ID)
	require.NoError(t, err)
	assert.NotNil(t, u.LastClinicSyncAt)
}

func TestSyncUserClinics_Idempotent(t *testing.T) {
	h := newSyncHarness(t)
	h.provider.setClinics(clinic(1, "North"), clinic(2, "South"))

	_, err := h.sync(t)
	require.NoError(t, err)
	second, err := h.sync(t)
	require.NoError(t, err)

	assert.Equal(t, SyncResult{Success: true, ClinicsSynced: 2}, second)
	assert.Equal(t, 2, h.store.ClinicCount())
	all, err := h.store.Links().ListByUser(context.Background(), h.user.ID)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	logins, lookups := h.provider.counts()
	assert.Equal(t, 1, logins)
	assert.Equal(t, 2, lookups)
}

func TestSyncUserClinics_DeactivatesDroppedClinic(t *testing.T) {
	h := newSyncHarness(t)
	h.provider.setClinics(clinic(1, "Clinic 1"), clinic(2, "Clinic 2"))
	_, err := h.sync(t)
	require.NoError(t, err)

	h.provider.setClinics(clinic(2, "Clinic 2"))
	result, err := h.sync(t)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Success: true, ClinicsSynced: 1, ClinicsDeactivated: 1}, result)
	assert.Equal(t, []string{"2"}, h.activeExternalIDs(t))

	// Reported again: the same link is reactivated, not duplicated.
	h.provider.setClinics(clinic(1, "Clinic 1"), clinic(2, "Clinic 2"))
	result, err = h.sync(t)
	require.NoError(t, err)
	assert.Equal(t, 2, result.ClinicsSynced)
	all, err := h.store.Links().ListByUser(context.Background(), h.user.ID)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSyncUserClinics_DuplicateProviderClinicCountedOnce(t *testing.T) {
	h := newSyncHarness(t)
	h.provider.setClinics(clinic(1, "North"), clinic(1, "North again"))

	result, err := h.sync(t)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Success: true, ClinicsSynced: 1}, result)

	all, err := h.store.Links().ListByUser(context.Background(), h.user.ID)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Equal(t, 1, h.store.ClinicCount())

	c, err := h.store.Clinics().GetByExternalID(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, "North", c.Name)
}

func TestSyncUserClinics_LocalLinksUntouched(t *testing.T) {
	h := newSyncHarness(t)
	local := h.store.PutClinic(domain.Clinic{Name: "Local only", IsActive: true})
	h.store.PutLink(domain.UserClinicLink{UserID: h.user.ID, ClinicID: local.ID, IsActive: true, Role: "owner"})

	result, err := h.sync(t)
	require.NoError(t, err)
	assert.Zero(t, result.ClinicsDeactivated)

	link, err := h.store.Links().GetByUserAndClinic(context.Background(), h.user.ID, local.ID)
	require.NoError(t, err)
	assert.True(t, link.IsActive)
}

func TestSyncUserClinics_SpecialClinicsAreImmune(t *testing.T) {
	h := newSyncHarness(t)
	hq := h.store.PutClinic(domain.Clinic{Name: "head-office", Code: domain.HeadOfficeClinicCode, IsActive: true})
	lab := h.store.PutClinic(domain.Clinic{Name: "laboratory", Code: domain.LaboratoryClinicCode, IsActive: true})
	h.store.PutMembership(domain.SocietyMembership{
		UserID:   h.user.ID,
		Roles:    []domain.SocietyRole{domain.SocietyRoleHeadOffice, domain.SocietyRoleLaboratory},
		IsActive: true,
	})
	h.provider.setClinics(clinic(1, "North"))

	result, err := h.sync(t)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Success: true, ClinicsSynced: 3}, result)

	// Provider drops everything; special links survive.
	h.provider.setClinics()
	result, err = h.sync(t)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ClinicsDeactivated)
	assert.ElementsMatch(t, []string{domain.HeadOfficeExternalID, domain.LaboratoryExternalID}, h.activeExternalIDs(t))

	for _, c := range []domain.Clinic{hq, lab} {
		link, err := h.store.Links().GetByUserAndClinic(context.Background(), h.user.ID, c.ID)
		require.NoError(t, err)
		assert.True(t, link.IsActive)
	}
}

func TestSyncUserClinics_MissingHeadOfficeClinicIsSkipped(t *testing.T) {
	logger := &recordingLogger{}
	h := newSyncHarnessWith(t, nil, logger)
	h.store.PutMembership(domain.SocietyMembership{
		UserID:   h.user.ID,
		Roles:    []domain.SocietyRole{domain.SocietyRoleHeadOffice},
		IsActive: true,
	})
	h.provider.setClinics(clinic(1, "North"))

	result, err := h.sync(t)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Success: true, ClinicsSynced: 1}, result)
	assert.Equal(t, []string{"1"}, h.activeExternalIDs(t))
	assert.Equal(t, 1, h.store.ClinicCount())

	warnings := logger.entries("warn")
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].msg, "configuration gap")
	assert.Equal(t, domain.HeadOfficeClinicCode, warnings[0].fields["clinic_code"])
}

func TestSyncUserClinics_LockHeldIsNoop(t *testing.T) {
	h := newSyncHarness(t)
	now := time.Now()
	h.user.SyncInProgress = true
	h.user.SyncStartedAt = &now
	h.store.PutUser(h.user)
	h.provider.setClinics(clinic(1, "North"))

	result, err := h.sync(t)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Success: true}, result)

	logins, lookups := h.provider.counts()
	assert.Zero(t, logins)
	assert.Zero(t, lookups)
	assert.True(t, h.lockHeld(t), "lock owned by the other sync must not be released")
}

func TestSyncUserClinics_ExpiredLockIsTakenOver(t *testing.T) {
	h := newSyncHarness(t)
	stale := time.Now().Add(-time.Hour)
	h.user.SyncInProgress = true
	h.user.SyncStartedAt = &stale
	h.store.PutUser(h.user)
	h.provider.setClinics(clinic(1, "North"))

	result, err := h.sync(t)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ClinicsSynced)
	assert.False(t, h.lockHeld(t))
}

func TestSyncUserClinics_ReleasesLockOnFailure(t *testing.T) {
	h := newSyncHarness(t)
	h.provider.lookupCodes = []int{http.StatusInternalServerError}

	result, err := h.sync(t)
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrUnexpectedStatus)
	assert.Equal(t, http.StatusInternalServerError, provider.StatusCode(err))
	assert.Equal(t, SyncResult{}, result)
	assert.False(t, h.lockHeld(t))

	// The next attempt is not blocked.
	_, err = h.sync(t)
	assert.NoError(t, err)
}

func TestSyncUserClinics_RefreshesCredentialOnce(t *testing.T) {
	h := newSyncHarness(t)
	h.provider.lookupCodes = []int{http.StatusUnauthorized}
	h.provider.setClinics(clinic(1, "North"))

	result, err := h.sync(t)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ClinicsSynced)

	logins, lookups := h.provider.counts()
	assert.Equal(t, 2, logins, "initial login plus one refresh")
	assert.Equal(t, 2, lookups)
}

func TestSyncUserClinics_ProviderUserMissing(t *testing.T) {
	h := newSyncHarness(t)
	h.provider.lookupCodes = []int{http.StatusNotFound, http.StatusNotFound}

	_, err := h.sync(t)
	assert.ErrorIs(t, err, provider.ErrResourceNotFound)
	assert.False(t, h.lockHeld(t))
}

func TestSyncUserClinics_UnknownUser(t *testing.T) {
	h := newSyncHarness(t)

	_, err := h.service.SyncUserClinics(context.Background(), "ghost@example.com", "missing")
	assert.True(t, errors.Is(err, domain.ErrUserNotFound))

	_, lookups := h.provider.counts()
	assert.Zero(t, lookups)
}

func TestSyncUserClinics_EmptyEmailFallsBackToUser(t *testing.T) {
	h := newSyncHarness(t)
	h.provider.setClinics(clinic(1, "North"))

	result, err := h.service.SyncUserClinics(context.Background(), "", h.user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ClinicsSynced)
}

func TestSyncUserClinics_MissingConfiguration(t *testing.T) {
	store := memstore.New()
	user := store.PutUser(domain.User{Email: "alice@example.com"})
	conn := NewConnectionService(config.ProviderConfig{}, nil, cache.NewMemoryCredentialStore(0), nil)
	reconciler := NewClinicReconciler(store.Clinics(), store.Links(), store.Memberships(), nil, nil)
	service := NewClinicSyncService(store.Users(), conn, reconciler, 0, nil)

	_, err := service.SyncUserClinics(context.Background(), user.Email, user.ID)
	assert.ErrorIs(t, err, domain.ErrConfigurationMissing)

	u, err := store.Users().GetUserByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.False(t, u.SyncInProgress)
}
