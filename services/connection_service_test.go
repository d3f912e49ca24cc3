package services

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/pilab-dev/clinic-sync/cache"
	"github.com/pilab-dev/clinic-sync/config"
	"github.com/pilab-dev/clinic-sync/domain"
	"github.com/pilab-dev/clinic-sync/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockProviderClient struct {
	mock.Mock
}

func (m *MockProviderClient) Login(ctx context.Context, email, password string) (string, error) {
	args := m.Called(ctx, email, password)
	return args.String(0), args.Error(1)
}

func (m *MockProviderClient) FetchUserByEmail(ctx context.Context, email, token string) (*provider.User, error) {
	args := m.Called(ctx, email, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.User), args.Error(1)
}

var testProviderConfig = config.ProviderConfig{
	Email:    "svc@example.com",
	Password: "secret",
	BaseURL:  "https://provider.example",
}

func newConnection(t *testing.T, cfg config.ProviderConfig) (*ConnectionService, *MockProviderClient, *cache.MemoryCredentialStore) {
	t.Helper()
	client := new(MockProviderClient)
	store := cache.NewMemoryCredentialStore(0)
	t.Cleanup(func() { _ = store.Close() })
	return NewConnectionService(cfg, client, store, nil), client, store
}

func TestAuthenticate_StoresToken(t *testing.T) {
	svc, client, store := newConnection(t, testProviderConfig)
	client.On("Login", mock.Anything, "svc@example.com", "secret").Return("tok-1", nil).Once()

	token, err := svc.Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)

	cred, err := store.GetActiveCredential(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", cred.Token)
	client.AssertExpectations(t)
}

func TestAuthenticate_MissingConfiguration(t *testing.T) {
	svc, client, _ := newConnection(t, config.ProviderConfig{})

	_, err := svc.Authenticate(context.Background())
	assert.ErrorIs(t, err, domain.ErrConfigurationMissing)
	assert.ErrorIs(t, svc.EstablishConnection(context.Background()), domain.ErrConfigurationMissing)
	assert.ErrorIs(t, svc.ForceReconnection(context.Background()), domain.ErrConfigurationMissing)
	client.AssertNotCalled(t, "Login", mock.Anything, mock.Anything, mock.Anything)
}

func TestAuthenticate_LoginFailedIsSurfaced(t *testing.T) {
	svc, client, store := newConnection(t, testProviderConfig)
	loginErr := &provider.StatusError{Op: "login", StatusCode: http.StatusUnprocessableEntity, Err: provider.ErrLoginFailed}
	client.On("Login", mock.Anything, mock.Anything, mock.Anything).Return("", loginErr).Once()

	_, err := svc.Authenticate(context.Background())
	assert.ErrorIs(t, err, provider.ErrLoginFailed)

	_, err = store.GetActiveCredential(context.Background())
	assert.ErrorIs(t, err, domain.ErrCredentialNotFound)
}

func TestEstablishConnection_ReusesActiveCredential(t *testing.T) {
	svc, client, store := newConnection(t, testProviderConfig)
	require.NoError(t, store.StoreCredential(context.Background(), "cached"))

	require.NoError(t, svc.EstablishConnection(context.Background()))
	client.AssertNotCalled(t, "Login", mock.Anything, mock.Anything, mock.Anything)
}

func TestEstablishConnection_LogsInWithoutCredential(t *testing.T) {
	svc, client, _ := newConnection(t, testProviderConfig)
	client.On("Login", mock.Anything, mock.Anything, mock.Anything).Return("fresh", nil).Once()

	require.NoError(t, svc.EstablishConnection(context.Background()))

	status, err := svc.GetConnectionStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ConnectionStatus{IsConnected: true, HasActiveToken: true, Configured: true}, status)
	client.AssertExpectations(t)
}

func TestGetConnectionStatus_NoCredential(t *testing.T) {
	svc, _, _ := newConnection(t, config.ProviderConfig{})

	status, err := svc.GetConnectionStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ConnectionStatus{}, status)
}

func TestForceReconnection_ReplacesCredential(t *testing.T) {
	svc, client, store := newConnection(t, testProviderConfig)
	require.NoError(t, store.StoreCredential(context.Background(), "old"))
	client.On("Login", mock.Anything, mock.Anything, mock.Anything).Return("new", nil).Once()

	require.NoError(t, svc.ForceReconnection(context.Background()))

	cred, err := store.GetActiveCredential(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new", cred.Token)
}

func TestForceReconnection_FailureLeavesNoCredential(t *testing.T) {
	svc, client, store := newConnection(t, testProviderConfig)
	require.NoError(t, store.StoreCredential(context.Background(), "old"))
	client.On("Login", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("dial tcp: refused")).Once()

	assert.Error(t, svc.ForceReconnection(context.Background()))

	_, err := store.GetActiveCredential(context.Background())
	assert.ErrorIs(t, err, domain.ErrCredentialNotFound)
}

func TestFetchProviderUser_RefreshesOnUnauthorized(t *testing.T) {
	svc, client, store := newConnection(t, testProviderConfig)
	require.NoError(t, store.StoreCredential(context.Background(), "stale"))

	unauthorized := &provider.StatusError{Op: "user_by_email", StatusCode: http.StatusUnauthorized, Err: provider.ErrUnauthorized}
	user := &provider.User{Email: "alice@example.com", Clinics: []provider.Clinic{{ID: "1", Name: "North"}}}

	client.On("FetchUserByEmail", mock.Anything, "alice@example.com", "stale").Return(nil, unauthorized).Once()
	client.On("Login", mock.Anything, mock.Anything, mock.Anything).Return("fresh", nil).Once()
	client.On("FetchUserByEmail", mock.Anything, "alice@example.com", "fresh").Return(user, nil).Once()

	got, err := svc.FetchProviderUser(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, user, got)
	client.AssertExpectations(t)
}
