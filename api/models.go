package api

// ErrorResponse is the body of every non-2xx internal API response.
type ErrorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// Error codes used in ErrorResponse.Error.
const (
	ErrCodeNotConfigured   = "provider_not_configured"
	ErrCodeUserNotFound    = "user_not_found"
	ErrCodeProviderFailure = "provider_failure"
	ErrCodeInvalidRequest  = "invalid_request"
	ErrCodeServerError     = "server_error"

	// ErrCodeProviderUserNotFound means the provider has no user with that email.
	ErrCodeProviderUserNotFound = "provider_user_not_found"
)

// SyncRequest is the optional body of a clinic sync call.
type SyncRequest struct {
	Email string `json:"email" query:"email"`
}

// HealthResponse is returned by /healthz.
type HealthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}
