package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pilab-dev/clinic-sync/api"
	echoapi "github.com/pilab-dev/clinic-sync/api/echo"
	"github.com/pilab-dev/clinic-sync/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Sync(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/internal/users/user-1/clinics/sync", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get(echoapi.APIKeyHeader))

		var req api.SyncRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "alice@example.com", req.Email)

		_ = json.NewEncoder(w).Encode(services.SyncResult{Success: true, ClinicsSynced: 3})
	}))
	defer srv.Close()

	c, err := New(srv.URL, "key", time.Second)
	require.NoError(t, err)

	result, err := c.Sync(context.Background(), "user-1", "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, 3, result.ClinicsSynced)
}

func TestClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: api.ErrCodeNotConfigured, Description: "provider configuration missing"})
	}))
	defer srv.Close()

	c, err := New(srv.URL, "", time.Second)
	require.NoError(t, err)

	_, err = c.Connect(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Equal(t, api.ErrCodeNotConfigured, apiErr.Body.Error)
}

func TestNew_RejectsEmptyEndpoint(t *testing.T) {
	_, err := New("", "", time.Second)
	assert.Error(t, err)
}
