package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pilab-dev/clinic-sync/domain"
	"github.com/spf13/viper"
)

// Credential backends selectable with CREDENTIAL_BACKEND.
const (
	BackendMongo  = "mongo"
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendBolt   = "bolt"
)

// ProviderConfig holds the provider endpoint and service account.
type ProviderConfig struct {
	Email    string        `mapstructure:"PROVIDER_EMAIL"`
	Password string        `mapstructure:"PROVIDER_PASSWORD"`
	BaseURL  string        `mapstructure:"PROVIDER_BASE_URL"`
	Timeout  time.Duration `mapstructure:"PROVIDER_TIMEOUT"`
}

// Validate reports ErrConfigurationMissing naming every unset key.
func (c ProviderConfig) Validate() error {
	var missing []string
	if strings.TrimSpace(c.Email) == "" {
		missing = append(missing, "PROVIDER_EMAIL")
	}
	if c.Password == "" {
		missing = append(missing, "PROVIDER_PASSWORD")
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		missing = append(missing, "PROVIDER_BASE_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrConfigurationMissing, strings.Join(missing, ", "))
	}
	return nil
}

// ServerConfig holds all configuration for the server.
type ServerConfig struct {
	HTTPPort        string `mapstructure:"HTTP_PORT"`
	MongoURI        string `mapstructure:"MONGO_URI"`
	MongoDBName     string `mapstructure:"MONGO_DB_NAME"`
	LogLevel        string `mapstructure:"LOG_LEVEL"`
	LogPretty       bool   `mapstructure:"LOG_PRETTY"`
	OtelServiceName string `mapstructure:"OTEL_SERVICE_NAME"`
	InternalAPIKey  string `mapstructure:"INTERNAL_API_KEY"`

	Provider ProviderConfig `mapstructure:",squash"`

	CredentialBackend string        `mapstructure:"CREDENTIAL_BACKEND"`
	CredentialTTL     time.Duration `mapstructure:"CREDENTIAL_TTL"`
	RedisAddr         string        `mapstructure:"REDIS_ADDR"`
	RedisPassword     string        `mapstructure:"REDIS_PASSWORD"`
	RedisDB           int           `mapstructure:"REDIS_DB"`
	RedisPrefix       string        `mapstructure:"REDIS_PREFIX"`
	BoltPath          string        `mapstructure:"BOLT_PATH"`

	SyncLockLease        time.Duration `mapstructure:"SYNC_LOCK_LEASE"`
	HeadOfficeClinicCode string        `mapstructure:"HEAD_OFFICE_CLINIC_CODE"`
	LaboratoryClinicCode string        `mapstructure:"LABORATORY_CLINIC_CODE"`
}

// SpecialClinics returns the head-office and laboratory definitions with the
// configured codes applied.
func (c *ServerConfig) SpecialClinics() []domain.SpecialClinic {
	clinics := domain.DefaultSpecialClinics()
	for i := range clinics {
		switch clinics[i].Role {
		case domain.SocietyRoleHeadOffice:
			if c.HeadOfficeClinicCode != "" {
				clinics[i].Code = c.HeadOfficeClinicCode
			}
		case domain.SocietyRoleLaboratory:
			if c.LaboratoryClinicCode != "" {
				clinics[i].Code = c.LaboratoryClinicCode
			}
		}
	}
	return clinics
}

var keys = []string{
	"HTTP_PORT", "MONGO_URI", "MONGO_DB_NAME", "LOG_LEVEL", "LOG_PRETTY", "OTEL_SERVICE_NAME",
	"INTERNAL_API_KEY", "PROVIDER_EMAIL", "PROVIDER_PASSWORD", "PROVIDER_BASE_URL", "PROVIDER_TIMEOUT",
	"CREDENTIAL_BACKEND", "CREDENTIAL_TTL", "REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "REDIS_PREFIX",
	"BOLT_PATH", "SYNC_LOCK_LEASE", "HEAD_OFFICE_CLINIC_CODE", "LABORATORY_CLINIC_CODE",
}

// LoadConfig reads configuration from file, environment variables, and defaults.
// Missing provider settings are not an error here: the process starts and every
// connect or sync attempt reports ErrConfigurationMissing instead.
func LoadConfig() (*ServerConfig, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/clinic-sync/")
	v.AddConfigPath("$HOME/.clinic-sync")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	// AutomaticEnv only applies to keys viper already knows about; Unmarshal
	// needs every key bound explicitly.
	for _, key := range keys {
		_ = v.BindEnv(key)
	}

	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017")
	v.SetDefault("MONGO_DB_NAME", "clinic_portal")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", false)
	v.SetDefault("OTEL_SERVICE_NAME", "clinic-sync")
	v.SetDefault("PROVIDER_TIMEOUT", 15*time.Second)
	v.SetDefault("CREDENTIAL_BACKEND", BackendMongo)
	v.SetDefault("CREDENTIAL_TTL", time.Duration(0))
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_PREFIX", "clinic-sync")
	v.SetDefault("BOLT_PATH", "clinic-sync.db")
	v.SetDefault("SYNC_LOCK_LEASE", 10*time.Minute)
	v.SetDefault("HEAD_OFFICE_CLINIC_CODE", domain.HeadOfficeClinicCode)
	v.SetDefault("LABORATORY_CLINIC_CODE", domain.LaboratoryClinicCode)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	switch cfg.CredentialBackend {
	case BackendMongo, BackendMemory, BackendRedis, BackendBolt:
	default:
		return nil, fmt.Errorf("unknown CREDENTIAL_BACKEND %q", cfg.CredentialBackend)
	}

	return &cfg, nil
}
