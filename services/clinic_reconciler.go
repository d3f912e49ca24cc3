package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pilab-dev/clinic-sync/domain"
	"github.com/pilab-dev/clinic-sync/internal/metrics"
	"github.com/pilab-dev/clinic-sync/internal/provider"
	"github.com/pilab-dev/clinic-sync/log"
)

// ReconcileResult counts what one reconciliation did.
type ReconcileResult struct {
	// Synced is the number of links confirmed active, special clinics included.
	Synced      int
	Deactivated int
	// Created is the number of clinics created from provider data.
	Created int
}

// ClinicReconciler makes a user's local clinic links match the provider.
type ClinicReconciler struct {
	clinics     domain.ClinicRepository
	links       domain.UserClinicLinkRepository
	memberships domain.SocietyMembershipRepository
	special     []domain.SpecialClinic
	logger      log.Logger
	now         func() time.Time
}

func NewClinicReconciler(
	clinics domain.ClinicRepository,
	links domain.UserClinicLinkRepository,
	memberships domain.SocietyMembershipRepository,
	special []domain.SpecialClinic,
	logger log.Logger,
) *ClinicReconciler {
	if logger == nil {
		logger = log.Nop()
	}
	if special == nil {
		special = domain.DefaultSpecialClinics()
	}
	return &ClinicReconciler{
		clinics:     clinics,
		links:       links,
		memberships: memberships,
		special:     special,
		logger:      logger.With(log.Fields{"component": "clinic_reconciler"}),
		now:         time.Now,
	}
}

// Reconcile upserts every provider clinic and its link, links the special
// clinics the user's society membership grants, then deactivates active
// provider links that were not reported. Links without an external id are
// never touched. Running it twice with the same input changes nothing.
func (r *ClinicReconciler) Reconcile(ctx context.Context, user *domain.User, providerClinics []provider.Clinic) (ReconcileResult, error) {
	var result ReconcileResult
	now := r.now().UTC()
	keep := make(map[string]struct{}, len(providerClinics)+len(r.special))

	for _, pc := range providerClinics {
		externalID := pc.ID.String()
		// A clinic listed twice is one link; the first entry wins.
		if _, seen := keep[externalID]; seen {
			continue
		}
		clinic, created, err := r.clinics.UpsertByExternalID(ctx, domain.ClinicUpsert{
			ExternalID: externalID,
			Name:       pc.Name,
			Code:       pc.Code,
			Address:    pc.Address,
			Phone:      pc.Phone,
			Email:      pc.Email,
			SyncedAt:   now,
		})
		if err != nil {
			return result, fmt.Errorf("upsert clinic %s: %w", externalID, err)
		}
		if created {
			result.Created++
		}

		_, _, err = r.links.Upsert(ctx, domain.LinkUpsert{
			UserID:           user.ID,
			ClinicID:         clinic.ID,
			ExternalClinicID: externalID,
			Role:             pc.RoleName(),
		}, now)
		if err != nil {
			return result, fmt.Errorf("upsert link to clinic %s: %w", externalID, err)
		}
		keep[externalID] = struct{}{}
		result.Synced++
	}

	synced, err := r.applySpecialClinics(ctx, user, now)
	if err != nil {
		return result, err
	}
	result.Synced += synced

	// Synthetic ids are kept whether or not the user still qualifies: revoking
	// special clinics is the society module's business.
	for _, sc := range r.special {
		keep[sc.SyntheticExternalID] = struct{}{}
	}

	active, err := r.links.ListActiveExternalByUser(ctx, user.ID)
	if err != nil {
		return result, fmt.Errorf("list active links: %w", err)
	}
	for _, link := range active {
		if !link.HasExternalID() {
			continue
		}
		if _, ok := keep[*link.ExternalClinicID]; ok {
			continue
		}
		if err := r.links.Deactivate(ctx, link.ID, now); err != nil {
			return result, fmt.Errorf("deactivate link %s: %w", link.ID, err)
		}
		result.Deactivated++
	}

	metrics.ClinicsSyncedTotal.Add(float64(result.Synced))
	metrics.ClinicsDeactivatedTotal.Add(float64(result.Deactivated))
	return result, nil
}

func (r *ClinicReconciler) applySpecialClinics(ctx context.Context, user *domain.User, now time.Time) (int, error) {
	membership, err := r.memberships.GetByUserID(ctx, user.ID)
	if errors.Is(err, domain.ErrMembershipNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load society membership: %w", err)
	}

	synced := 0
	for _, sc := range r.special {
		if !membership.Qualifies(sc.Role) {
			continue
		}
		clinic, err := r.clinics.GetByCode(ctx, sc.Code)
		if errors.Is(err, domain.ErrClinicNotFound) {
			r.logger.Warn(ctx, "Special clinic is not provisioned; configuration gap", log.Fields{
				"clinic_code": sc.Code,
				"user_id":     user.ID,
			})
			continue
		}
		if err != nil {
			return synced, fmt.Errorf("load special clinic %s: %w", sc.Code, err)
		}

		_, _, err = r.links.Upsert(ctx, domain.LinkUpsert{
			UserID:           user.ID,
			ClinicID:         clinic.ID,
			ExternalClinicID: sc.SyntheticExternalID,
		}, now)
		if err != nil {
			return synced, fmt.Errorf("upsert link to special clinic %s: %w", sc.Code, err)
		}
		synced++
	}
	return synced, nil
}
