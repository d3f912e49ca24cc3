package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

const namespace = "clinicsync"

var (
	ProviderLoginsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provider_logins_total",
		Help:      "Provider logins by outcome.",
	}, []string{"outcome"})

	CredentialRefreshesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "credential_refreshes_total",
		Help:      "Provider calls retried after refreshing the credential.",
	})

	ProviderRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provider_requests_total",
		Help:      "Provider HTTP requests by operation and status class.",
	}, []string{"operation", "status"})

	SyncsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "user_syncs_total",
		Help:      "User clinic syncs by outcome (success, skipped, failed).",
	}, []string{"outcome"})

	ClinicsSyncedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "clinics_synced_total",
		Help:      "Clinic links upserted by reconciliation.",
	})

	ClinicsDeactivatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "clinics_deactivated_total",
		Help:      "Clinic links deactivated by reconciliation.",
	})

	SyncDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "user_sync_duration_seconds",
		Help:      "Duration of user clinic sync calls.",
		Buckets:   prometheus.DefBuckets,
	})
)

// Register adds the sync collectors to reg. Already-registered collectors are logged and skipped.
func Register(reg prometheus.Registerer) {
	if reg == nil {
		log.Error().Msg("Prometheus registry is nil, cannot register clinic sync metrics.")
		return
	}

	collectors := map[string]prometheus.Collector{
		"provider_logins_total":      ProviderLoginsTotal,
		"credential_refreshes_total": CredentialRefreshesTotal,
		"provider_requests_total":    ProviderRequestsTotal,
		"user_syncs_total":           SyncsTotal,
		"clinics_synced_total":       ClinicsSyncedTotal,
		"clinics_deactivated_total":  ClinicsDeactivatedTotal,
		"user_sync_duration_seconds": SyncDuration,
	}
	for name, c := range collectors {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Str("metric", name).Msg("Failed to register metric")
		}
	}
	log.Info().Msg("Clinic sync Prometheus metrics registered.")
}
