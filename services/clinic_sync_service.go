package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pilab-dev/clinic-sync/domain"
	"github.com/pilab-dev/clinic-sync/internal/audit"
	"github.com/pilab-dev/clinic-sync/internal/metrics"
	"github.com/pilab-dev/clinic-sync/internal/provider"
	"github.com/pilab-dev/clinic-sync/log"
	"github.com/pilab-dev/clinic-sync/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// SyncResult is returned by SyncUserClinics.
type SyncResult struct {
	Success            bool `json:"success"`
	ClinicsSynced      int  `json:"clinics_synced"`
	ClinicsDeactivated int  `json:"clinics_deactivated"`
}

// UserFetcher loads a provider user, refreshing the credential when needed.
type UserFetcher interface {
	FetchProviderUser(ctx context.Context, email string) (*provider.User, error)
}

// ClinicSyncService is the per-user sync entry point.
type ClinicSyncService struct {
	users      domain.UserRepository
	fetcher    UserFetcher
	reconciler *ClinicReconciler
	lockLease  time.Duration
	logger     log.Logger
	now        func() time.Time
}

// NewClinicSyncService creates the orchestrator. lockLease bounds how long an
// abandoned sync lock blocks the user; zero means it never expires.
func NewClinicSyncService(
	users domain.UserRepository,
	fetcher UserFetcher,
	reconciler *ClinicReconciler,
	lockLease time.Duration,
	logger log.Logger,
) *ClinicSyncService {
	if logger == nil {
		logger = log.Nop()
	}
	return &ClinicSyncService{
		users:      users,
		fetcher:    fetcher,
		reconciler: reconciler,
		lockLease:  lockLease,
		logger:     logger.With(log.Fields{"component": "clinic_sync"}),
		now:        time.Now,
	}
}

// SyncUserClinics reconciles the user's clinics against the provider. A sync
// already running for the user is not an error: the call returns a successful
// empty result without contacting the provider. An empty email falls back to
// the stored user's email.
func (s *ClinicSyncService) SyncUserClinics(ctx context.Context, email, userID string) (result SyncResult, err error) {
	ctx, span := tracing.Tracer().Start(ctx, "ClinicSyncService.SyncUserClinics")
	span.SetAttributes(attribute.String("user.id", userID))
	defer span.End()

	started := s.now()
	skipped := false
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = "failure"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else if skipped {
			outcome = "skipped"
		}
		metrics.SyncsTotal.WithLabelValues(outcome).Inc()
		metrics.SyncDuration.Observe(time.Since(started).Seconds())
	}()

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return SyncResult{}, err
		}
		return SyncResult{}, fmt.Errorf("load user: %w", err)
	}
	if email == "" {
		email = user.Email
	}

	lockedAt := s.now().UTC().Truncate(time.Millisecond)
	acquired, err := s.users.AcquireSyncLock(ctx, user.ID, lockedAt, s.lockLease)
	if err != nil {
		return SyncResult{}, fmt.Errorf("acquire sync lock: %w", err)
	}
	if !acquired {
		skipped = true
		s.logger.Info(ctx, "Clinic sync already in progress; skipping", log.Fields{"user_id": user.ID})
		return SyncResult{Success: true}, nil
	}

	// Deferred so the lock is released on panics too.
	defer func() {
		// Release even when ctx is already cancelled.
		releaseCtx := context.WithoutCancel(ctx)
		relErr := s.users.ReleaseSyncLock(releaseCtx, user.ID, lockedAt)
		if errors.Is(relErr, domain.ErrSyncLockLost) {
			s.logger.Warn(releaseCtx, "Clinic sync outlived its lock lease; lock left to the new holder",
				log.Fields{"user_id": user.ID, "lease": s.lockLease.String()})
			return
		}
		if relErr != nil {
			s.logger.Error(releaseCtx, "Failed to release clinic sync lock", relErr, log.Fields{"user_id": user.ID})
			if err == nil {
				err = fmt.Errorf("release sync lock: %w", relErr)
				result = SyncResult{}
			}
		}
	}()

	result, err = s.run(ctx, user, email)
	audit.Log(audit.ActionClinicSync, user.ID, email,
		fmt.Sprintf("synced=%d deactivated=%d", result.ClinicsSynced, result.ClinicsDeactivated), err == nil, err)
	if err != nil {
		s.logger.Error(ctx, "Clinic sync failed", err, log.Fields{"user_id": user.ID, "status": provider.StatusCode(err)})
		return SyncResult{}, err
	}

	s.logger.Info(ctx, "Clinic sync finished", log.Fields{
		"user_id":     user.ID,
		"synced":      result.ClinicsSynced,
		"deactivated": result.ClinicsDeactivated,
	})
	return result, nil
}

func (s *ClinicSyncService) run(ctx context.Context, user *domain.User, email string) (SyncResult, error) {
	providerUser, err := s.fetcher.FetchProviderUser(ctx, email)
	if err != nil {
		return SyncResult{}, fmt.Errorf("fetch provider user: %w", err)
	}

	reconciled, err := s.reconciler.Reconcile(ctx, user, providerUser.Clinics)
	if err != nil {
		return SyncResult{}, fmt.Errorf("reconcile clinics: %w", err)
	}

	if err := s.users.MarkClinicsSynced(ctx, user.ID, s.now().UTC()); err != nil {
		return SyncResult{}, fmt.Errorf("stamp last clinic sync: %w", err)
	}

	return SyncResult{
		Success:            true,
		ClinicsSynced:      reconciled.Synced,
		ClinicsDeactivated: reconciled.Deactivated,
	}, nil
}
