// Package app wires configuration, storage and services into a runnable server.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	echoapi "github.com/pilab-dev/clinic-sync/api/echo"
	"github.com/pilab-dev/clinic-sync/cache"
	boltstore "github.com/pilab-dev/clinic-sync/cache/bolt"
	redisstore "github.com/pilab-dev/clinic-sync/cache/redis"
	"github.com/pilab-dev/clinic-sync/config"
	"github.com/pilab-dev/clinic-sync/domain"
	"github.com/pilab-dev/clinic-sync/internal/memstore"
	"github.com/pilab-dev/clinic-sync/internal/metrics"
	"github.com/pilab-dev/clinic-sync/internal/provider"
	"github.com/pilab-dev/clinic-sync/internal/server"
	"github.com/pilab-dev/clinic-sync/log"
	"github.com/pilab-dev/clinic-sync/mongodb"
	"github.com/pilab-dev/clinic-sync/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

// Repositories groups the persistence the services need.
type Repositories struct {
	Users       domain.UserRepository
	Clinics     domain.ClinicRepository
	Links       domain.UserClinicLinkRepository
	Memberships domain.SocietyMembershipRepository
}

// MongoRepositories builds every repository on db and ensures their indexes.
func MongoRepositories(ctx context.Context, db *mongo.Database) (*Repositories, error) {
	users, err := mongodb.NewUserRepository(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("user repository: %w", err)
	}
	clinics, err := mongodb.NewClinicRepository(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("clinic repository: %w", err)
	}
	links, err := mongodb.NewUserClinicLinkRepository(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("user clinic link repository: %w", err)
	}
	return &Repositories{
		Users:       users,
		Clinics:     clinics,
		Links:       links,
		Memberships: mongodb.NewSocietyMembershipRepository(db),
	}, nil
}

// MemoryRepositories exposes an in-memory store as Repositories.
func MemoryRepositories(store *memstore.Store) *Repositories {
	return &Repositories{
		Users:       store.Users(),
		Clinics:     store.Clinics(),
		Links:       store.Links(),
		Memberships: store.Memberships(),
	}
}

// NewCredentialStore opens the credential backend named by CREDENTIAL_BACKEND.
// The returned closer releases backend resources and is never nil.
func NewCredentialStore(ctx context.Context, cfg *config.ServerConfig, db *mongo.Database) (domain.CredentialStore, io.Closer, error) {
	switch cfg.CredentialBackend {
	case config.BackendMongo, "":
		if db == nil {
			return nil, nil, errors.New("mongo credential backend requires a database")
		}
		store, err := mongodb.NewCredentialRepository(ctx, db)
		if err != nil {
			return nil, nil, err
		}
		return store, nopCloser{}, nil
	case config.BackendMemory:
		store := cache.NewMemoryCredentialStore(cfg.CredentialTTL)
		return store, store, nil
	case config.BackendRedis:
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.RedisAddr},
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		return redisstore.NewCredentialStore(client, cfg.RedisPrefix, cfg.CredentialTTL), client, nil
	case config.BackendBolt:
		store, err := boltstore.Open(cfg.BoltPath)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	default:
		return nil, nil, fmt.Errorf("unknown credential backend %q", cfg.CredentialBackend)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// App holds the wired services.
type App struct {
	Connection *services.ConnectionService
	Sync       *services.ClinicSyncService
	OpsAPI     *echoapi.OpsAPI
	Registry   *prometheus.Registry
}

// New wires the services on top of repos and credentials.
func New(cfg *config.ServerConfig, repos *Repositories, credentials domain.CredentialStore, logger log.Logger) *App {
	client := provider.NewClient(cfg.Provider.BaseURL, cfg.Provider.Timeout)
	connection := services.NewConnectionService(cfg.Provider, client, credentials, logger)
	reconciler := services.NewClinicReconciler(repos.Clinics, repos.Links, repos.Memberships, cfg.SpecialClinics(), logger)
	syncService := services.NewClinicSyncService(repos.Users, connection, reconciler, cfg.SyncLockLease, logger)

	return &App{
		Connection: connection,
		Sync:       syncService,
		OpsAPI:     echoapi.NewOpsAPI(connection, syncService, cfg.InternalAPIKey),
		Registry:   NewRegistry(),
	}
}

// NewRegistry returns a registry with the service and Go runtime collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	metrics.Register(reg)
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// HTTPServer builds the server exposing the internal API, /healthz and /metrics.
func (a *App) HTTPServer(cfg *config.ServerConfig, logger log.Logger, health server.HealthCheck) *http.Server {
	return server.NewHTTPServer(cfg, logger, a.OpsAPI, health, a.Registry)
}
