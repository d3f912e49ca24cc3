package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pilab-dev/clinic-sync/internal/metrics"
	"github.com/pilab-dev/clinic-sync/tracing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
)

const (
	LoginPath       = "/api/v2/auth/login"
	UserByEmailPath = "/api/v2/users/by-email/"
	UserIncludes    = "clinics,clinics.roles,clinics.area_managers"

	DefaultTimeout = 15 * time.Second

	maxErrorBody = 512
)

// Client talks to the provider HTTP API. It never touches the credential store:
// tokens are passed in and typed errors are passed out.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Client with its own http.Client and request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return NewClientWithHTTP(baseURL, &http.Client{Timeout: timeout})
}

// NewClientWithHTTP creates a Client that sends requests through hc.
func NewClientWithHTTP(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: hc,
	}
}

// Login exchanges service credentials for a bearer token.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	ctx, span := tracing.Tracer().Start(ctx, "provider.Login")
	defer span.End()

	token, err := c.login(ctx, email, password)
	recordError(span, err)
	return token, err
}

func (c *Client) login(ctx context.Context, email, password string) (string, error) {
	payload, err := json.Marshal(loginRequest{Email: email, Password: password})
	if err != nil {
		return "", fmt.Errorf("provider: encode login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+LoginPath, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("provider: build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		observe(ctx, "login", 0, start)
		return "", fmt.Errorf("provider: login request failed: %w", err)
	}
	defer resp.Body.Close()
	observe(ctx, "login", resp.StatusCode, start)

	if !isSuccess(resp.StatusCode) {
		return "", newStatusError("login", resp, ErrLoginFailed)
	}

	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return "", fmt.Errorf("%w: decode login response: %v", ErrNoTokenIssued, err)
	}
	if lr.Meta == nil || strings.TrimSpace(lr.Meta.Token) == "" {
		return "", ErrNoTokenIssued
	}
	return lr.Meta.Token, nil
}

// FetchUserByEmail loads the provider user, with clinics, roles and area managers.
func (c *Client) FetchUserByEmail(ctx context.Context, email, token string) (*User, error) {
	ctx, span := tracing.Tracer().Start(ctx, "provider.FetchUserByEmail")
	defer span.End()

	user, err := c.fetchUserByEmail(ctx, email, token)
	recordError(span, err)
	return user, err
}

func (c *Client) fetchUserByEmail(ctx context.Context, email, token string) (*User, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty bearer token", ErrUnauthorized)
	}

	query := url.Values{}
	query.Set("email", email)
	query.Set("include", UserIncludes)
	endpoint := c.baseURL + UserByEmailPath + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("provider: build user lookup request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.bearerClient(ctx, token).Do(req)
	if err != nil {
		observe(ctx, "user_by_email", 0, start)
		return nil, fmt.Errorf("provider: user lookup request failed: %w", err)
	}
	defer resp.Body.Close()
	observe(ctx, "user_by_email", resp.StatusCode, start)

	if !isSuccess(resp.StatusCode) {
		return nil, newStatusError("user_by_email", resp, classify(resp.StatusCode))
	}

	var env userEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
	}
	return env.toUser()
}

// bearerClient wraps the configured http.Client so every request carries
// "Authorization: Bearer <token>".
func (c *Client) bearerClient(ctx context.Context, token string) *http.Client {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	hc := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
	}))
	hc.Timeout = c.httpClient.Timeout
	return hc
}

func classify(status int) error {
	switch status {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	default:
		return ErrUnexpectedStatus
	}
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

func newStatusError(op string, resp *http.Response, kind error) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{
		Op:         op,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
		Err:        kind,
	}
}

func recordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if code := StatusCode(err); code != 0 {
		span.SetAttributes(attribute.Int("http.response.status_code", code))
	}
}

// requestDuration is created against the global meter provider, which
// forwards to the real one once telemetry.Providers.ExportMetrics runs.
var requestDuration, _ = otel.Meter("github.com/pilab-dev/clinic-sync/internal/provider").
	Float64Histogram("clinicsync.provider.request.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Latency of provider HTTP calls."))

func observe(ctx context.Context, op string, status int, start time.Time) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status/100) + "xx"
	}
	metrics.ProviderRequestsTotal.WithLabelValues(op, label).Inc()
	requestDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("status", label),
	))
}
