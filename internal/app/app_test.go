package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	echoapi "github.com/pilab-dev/clinic-sync/api/echo"
	"github.com/pilab-dev/clinic-sync/config"
	"github.com/pilab-dev/clinic-sync/domain"
	"github.com/pilab-dev/clinic-sync/internal/memstore"
	"github.com/pilab-dev/clinic-sync/internal/provider"
	"github.com/pilab-dev/clinic-sync/log"
	"github.com/pilab-dev/clinic-sync/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func providerStub(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc(provider.LoginPath, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"meta":{"token":"svc-token"}}`))
	})
	mux.HandleFunc(provider.UserByEmailPath, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer svc-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"data":{"id":"7","clinics":[{"id":11,"name":"North"},{"id":"12","name":"South"}]}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestApp_SyncThroughHTTP(t *testing.T) {
	srv := providerStub(t)
	cfg := &config.ServerConfig{
		OtelServiceName:   "clinic-sync-test",
		InternalAPIKey:    "key",
		CredentialBackend: config.BackendMemory,
		SyncLockLease:     time.Minute,
		Provider: config.ProviderConfig{
			Email: "svc@example.com", Password: "pw", BaseURL: srv.URL, Timeout: 5 * time.Second,
		},
	}

	store := memstore.New()
	user := store.PutUser(domain.User{Email: "alice@example.com"})

	creds, closer, err := NewCredentialStore(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = closer.Close() })

	a := New(cfg, MemoryRepositories(store), creds, log.Nop())
	handler := a.HTTPServer(cfg, log.Nop(), nil).Handler

	req := httptest.NewRequest(http.MethodPost, "/internal/users/"+user.ID+"/clinics/sync", nil)
	req.Header.Set(echoapi.APIKeyHeader, "key")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result services.SyncResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, services.SyncResult{Success: true, ClinicsSynced: 2}, result)

	status, err := a.Connection.GetConnectionStatus(context.Background())
	require.NoError(t, err)
	assert.True(t, status.IsConnected)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "clinicsync_user_syncs_total")
}

func TestNewCredentialStore_Bolt(t *testing.T) {
	cfg := &config.ServerConfig{
		CredentialBackend: config.BackendBolt,
		BoltPath:          filepath.Join(t.TempDir(), "creds.db"),
	}
	store, closer, err := NewCredentialStore(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer closer.Close()

	require.NoError(t, store.StoreCredential(context.Background(), "tok"))
	cred, err := store.GetActiveCredential(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok", cred.Token)
}

func TestNewCredentialStore_MongoRequiresDatabase(t *testing.T) {
	_, _, err := NewCredentialStore(context.Background(), &config.ServerConfig{CredentialBackend: config.BackendMongo}, nil)
	assert.Error(t, err)
}
