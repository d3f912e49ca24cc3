//nolint:varnamelen
package echo

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pilab-dev/clinic-sync/api"
	"github.com/pilab-dev/clinic-sync/domain"
	"github.com/pilab-dev/clinic-sync/internal/provider"
	"github.com/pilab-dev/clinic-sync/services"
	"github.com/rs/zerolog/log"
)

// APIKeyHeader carries the shared internal API key.
const APIKeyHeader = "X-Internal-Api-Key"

// ConnectionManager manages the shared provider credential.
type ConnectionManager interface {
	EstablishConnection(ctx context.Context) error
	GetConnectionStatus(ctx context.Context) (services.ConnectionStatus, error)
	ForceReconnection(ctx context.Context) error
}

// ClinicSyncer runs a per-user clinic sync.
type ClinicSyncer interface {
	SyncUserClinics(ctx context.Context, email, userID string) (services.SyncResult, error)
}

// OpsAPI exposes the connection and sync operations to the rest of the portal.
type OpsAPI struct {
	connection ConnectionManager
	syncer     ClinicSyncer
	apiKey     string
}

// NewOpsAPI creates the API. An empty apiKey disables authentication.
func NewOpsAPI(connection ConnectionManager, syncer ClinicSyncer, apiKey string) *OpsAPI {
	return &OpsAPI{
		connection: connection,
		syncer:     syncer,
		apiKey:     apiKey,
	}
}

// RegisterRoutes registers the /internal routes.
func (oa *OpsAPI) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/internal")
	if oa.apiKey != "" {
		g.Use(middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
			KeyLookup: "header:" + APIKeyHeader,
			Validator: func(key string, _ echo.Context) (bool, error) {
				return subtle.ConstantTimeCompare([]byte(key), []byte(oa.apiKey)) == 1, nil
			},
		}))
	} else {
		log.Warn().Msg("INTERNAL_API_KEY is empty; internal API is unauthenticated")
	}

	g.POST("/provider/connect", oa.ConnectHandler)
	g.GET("/provider/status", oa.StatusHandler)
	g.POST("/provider/reconnect", oa.ReconnectHandler)
	g.POST("/users/:id/clinics/sync", oa.SyncHandler)
}

// ConnectHandler ensures an active provider credential exists.
func (oa *OpsAPI) ConnectHandler(c echo.Context) error {
	ctx := c.Request().Context()
	if err := oa.connection.EstablishConnection(ctx); err != nil {
		return writeError(c, err)
	}
	return oa.StatusHandler(c)
}

// StatusHandler reports the credential state without calling the provider.
func (oa *OpsAPI) StatusHandler(c echo.Context) error {
	status, err := oa.connection.GetConnectionStatus(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, status)
}

// ReconnectHandler discards the credential and logs in again.
func (oa *OpsAPI) ReconnectHandler(c echo.Context) error {
	if err := oa.connection.ForceReconnection(c.Request().Context()); err != nil {
		return writeError(c, err)
	}
	return oa.StatusHandler(c)
}

// SyncHandler reconciles one user's clinics. The email may be given in the
// JSON body or the query string; it defaults to the stored user email.
func (oa *OpsAPI) SyncHandler(c echo.Context) error {
	userID := c.Param("id")
	if userID == "" {
		return c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:       api.ErrCodeInvalidRequest,
			Description: "user id is required",
		})
	}

	var req api.SyncRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:       api.ErrCodeInvalidRequest,
			Description: "malformed sync request",
		})
	}

	if req.Email == "" {
		req.Email = c.QueryParam("email")
	}

	result, err := oa.syncer.SyncUserClinics(c.Request().Context(), req.Email, userID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

func writeError(c echo.Context, err error) error {
	status, code := classifyError(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Path()).Msg("Internal API request failed")
	}
	return c.JSON(status, api.ErrorResponse{Error: code, Description: err.Error()})
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrConfigurationMissing):
		return http.StatusServiceUnavailable, api.ErrCodeNotConfigured
	case errors.Is(err, domain.ErrUserNotFound):
		return http.StatusNotFound, api.ErrCodeUserNotFound
	case errors.Is(err, provider.ErrResourceNotFound):
		return http.StatusNotFound, api.ErrCodeProviderUserNotFound
	case errors.Is(err, provider.ErrLoginFailed),
		errors.Is(err, provider.ErrNoTokenIssued),
		errors.Is(err, provider.ErrNoCredentialAvailable),
		errors.Is(err, provider.ErrUnauthorized),
		errors.Is(err, provider.ErrNotFound),
		errors.Is(err, provider.ErrUnexpectedStatus),
		errors.Is(err, provider.ErrSchemaMismatch):
		return http.StatusBadGateway, api.ErrCodeProviderFailure
	default:
		return http.StatusInternalServerError, api.ErrCodeServerError
	}
}
