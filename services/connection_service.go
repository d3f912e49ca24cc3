package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/pilab-dev/clinic-sync/config"
	"github.com/pilab-dev/clinic-sync/domain"
	"github.com/pilab-dev/clinic-sync/internal/audit"
	"github.com/pilab-dev/clinic-sync/internal/metrics"
	"github.com/pilab-dev/clinic-sync/internal/provider"
	"github.com/pilab-dev/clinic-sync/log"
)

// ProviderClient is the subset of provider.Client used by the services.
type ProviderClient interface {
	Login(ctx context.Context, email, password string) (string, error)
	FetchUserByEmail(ctx context.Context, email, token string) (*provider.User, error)
}

// ConnectionStatus describes the shared provider credential.
type ConnectionStatus struct {
	IsConnected    bool `json:"is_connected"`
	HasActiveToken bool `json:"has_active_token"`
	Configured     bool `json:"configured"`
}

// ConnectionService owns the process-wide provider credential.
type ConnectionService struct {
	cfg    config.ProviderConfig
	client ProviderClient
	store  domain.CredentialStore
	logger log.Logger
}

func NewConnectionService(cfg config.ProviderConfig, client ProviderClient, store domain.CredentialStore, logger log.Logger) *ConnectionService {
	if logger == nil {
		logger = log.Nop()
	}
	return &ConnectionService{
		cfg:    cfg,
		client: client,
		store:  store,
		logger: logger.With(log.Fields{"component": "provider_connection"}),
	}
}

// Authenticate logs in with the configured service account and stores the
// issued token as the active credential.
func (s *ConnectionService) Authenticate(ctx context.Context) (string, error) {
	if err := s.cfg.Validate(); err != nil {
		return "", err
	}

	token, err := s.client.Login(ctx, s.cfg.Email, s.cfg.Password)
	if err != nil {
		metrics.ProviderLoginsTotal.WithLabelValues("failure").Inc()
		audit.Log(audit.ActionProviderLogin, s.cfg.Email, s.cfg.BaseURL, "", false, err)
		s.logger.Error(ctx, "Provider login failed", err, log.Fields{"status": provider.StatusCode(err)})
		return "", err
	}
	if err := s.store.StoreCredential(ctx, token); err != nil {
		metrics.ProviderLoginsTotal.WithLabelValues("failure").Inc()
		s.logger.Error(ctx, "Failed to store provider credential", err)
		return "", fmt.Errorf("store provider credential: %w", err)
	}

	metrics.ProviderLoginsTotal.WithLabelValues("success").Inc()
	audit.Log(audit.ActionProviderLogin, s.cfg.Email, s.cfg.BaseURL, "", true, nil)
	s.logger.Info(ctx, "Provider credential issued")
	return token, nil
}

// EstablishConnection makes sure an active credential exists, logging in only
// when none is stored.
func (s *ConnectionService) EstablishConnection(ctx context.Context) error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	_, err := s.store.GetActiveCredential(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrCredentialNotFound) {
		return fmt.Errorf("load active credential: %w", err)
	}
	_, err = s.Authenticate(ctx)
	return err
}

// GetConnectionStatus reports the stored credential state without calling the provider.
func (s *ConnectionService) GetConnectionStatus(ctx context.Context) (ConnectionStatus, error) {
	status := ConnectionStatus{Configured: s.cfg.Validate() == nil}

	_, err := s.store.GetActiveCredential(ctx)
	switch {
	case err == nil:
		status.HasActiveToken = true
	case errors.Is(err, domain.ErrCredentialNotFound):
	default:
		return status, fmt.Errorf("load active credential: %w", err)
	}
	status.IsConnected = status.Configured && status.HasActiveToken
	return status, nil
}

// ForceReconnection drops the active credential and logs in again.
func (s *ConnectionService) ForceReconnection(ctx context.Context) error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	if err := s.store.InvalidateActiveCredential(ctx); err != nil {
		audit.Log(audit.ActionProviderReconnect, s.cfg.Email, s.cfg.BaseURL, "", false, err)
		return fmt.Errorf("invalidate active credential: %w", err)
	}
	_, err := s.Authenticate(ctx)
	audit.Log(audit.ActionProviderReconnect, s.cfg.Email, s.cfg.BaseURL, "", err == nil, err)
	return err
}

// FetchProviderUser loads the provider user through the refresh-once wrapper.
func (s *ConnectionService) FetchProviderUser(ctx context.Context, email string) (*provider.User, error) {
	if err := s.cfg.Validate(); err != nil {
		return nil, err
	}
	return provider.WithRefresh(ctx, s.store, s, func(ctx context.Context, token string) (*provider.User, error) {
		return s.client.FetchUserByEmail(ctx, email, token)
	})
}

var _ provider.Authenticator = (*ConnectionService)(nil)
