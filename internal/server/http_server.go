package server

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pilab-dev/clinic-sync/api"
	echoapi "github.com/pilab-dev/clinic-sync/api/echo"
	"github.com/pilab-dev/clinic-sync/config"
	"github.com/pilab-dev/clinic-sync/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
)

// HealthCheck reports whether a backing dependency is reachable.
type HealthCheck func(ctx context.Context) error

// NewRouter builds the echo router with logging, tracing, health and metrics.
func NewRouter(cfg *config.ServerConfig, appLogger log.Logger, opsAPI *echoapi.OpsAPI, health HealthCheck, gatherer prometheus.Gatherer) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware(cfg.OtelServiceName))
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			fields := log.Fields{
				"method":  req.Method,
				"path":    c.Path(),
				"status":  c.Response().Status,
				"latency": time.Since(start).String(),
				"ip":      c.RealIP(),
			}
			if err != nil {
				appLogger.Error(req.Context(), "HTTP Request", err, fields)
			} else {
				appLogger.Info(req.Context(), "HTTP Request", fields)
			}
			return nil
		}
	})

	e.GET("/healthz", func(c echo.Context) error {
		if health != nil {
			if err := health(c.Request().Context()); err != nil {
				return c.JSON(http.StatusServiceUnavailable, api.HealthResponse{Status: "unavailable", Error: err.Error()})
			}
		}
		return c.JSON(http.StatusOK, api.HealthResponse{Status: "ok"})
	})

	if gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	if opsAPI == nil {
		appLogger.Error(context.Background(), "OpsAPI not provided to NewRouter, internal routes will not be registered.", nil)
	} else {
		opsAPI.RegisterRoutes(e)
	}

	return e
}

// NewHTTPServer wraps the router in an http.Server listening on HTTP_PORT.
func NewHTTPServer(cfg *config.ServerConfig, appLogger log.Logger, opsAPI *echoapi.OpsAPI, health HealthCheck, gatherer prometheus.Gatherer) *http.Server {
	return &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: NewRouter(cfg, appLogger, opsAPI, health, gatherer),
		// Syncs wait on the provider, so writes get more room than reads.
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}
