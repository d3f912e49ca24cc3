package telemetry

import (
	"context"
	"errors"
	"fmt"

	"github.com/pilab-dev/clinic-sync/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	prometheusexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"
)

// Providers owns the process-wide OpenTelemetry providers of the sync server.
// Spans go to stdout; metric instruments are bridged into the Prometheus
// registry served on /metrics.
type Providers struct {
	serviceName string
	Tracer      *trace.TracerProvider
	Meter       *metric.MeterProvider
}

// Start installs the global tracer provider. Metrics are wired later with
// ExportMetrics, once the application registry exists.
func Start(ctx context.Context, serviceName string) (*Providers, error) {
	tp, err := tracing.InitTracerProvider(ctx, serviceName)
	if err != nil {
		return nil, fmt.Errorf("init tracer provider: %w", err)
	}
	log.Info().Str("service", serviceName).Msg("OpenTelemetry TracerProvider initialized")
	return &Providers{serviceName: serviceName, Tracer: tp}, nil
}

// ExportMetrics installs a global MeterProvider whose instruments, such as the
// provider request duration histogram, are exported through reg next to the
// native clinicsync collectors.
func (p *Providers) ExportMetrics(reg prometheus.Registerer) error {
	exporter, err := prometheusexporter.New(prometheusexporter.WithRegisterer(reg))
	if err != nil {
		return fmt.Errorf("create prometheus exporter: %w", err)
	}

	opts := []metric.Option{metric.WithReader(exporter)}
	if p.serviceName != "" {
		opts = append(opts, metric.WithResource(resource.NewSchemaless(semconv.ServiceNameKey.String(p.serviceName))))
	}
	p.Meter = metric.NewMeterProvider(opts...)
	otel.SetMeterProvider(p.Meter)
	log.Info().Msg("OpenTelemetry MeterProvider bridged to the Prometheus registry")
	return nil
}

// Shutdown flushes pending spans and stops both providers. It keeps going
// after a failure and returns every error it saw.
func (p *Providers) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.Tracer != nil {
		if err := p.Tracer.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Error shutting down OpenTelemetry TracerProvider")
			errs = append(errs, err)
		}
	}
	if p.Meter != nil {
		if err := p.Meter.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Error shutting down OpenTelemetry MeterProvider")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
