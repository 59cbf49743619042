// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Bus transports accepted by BUS_TRANSPORT.
const (
	BusTransportPostgres = "postgres"
	BusTransportRedis    = "redis"
	BusTransportMemory   = "memory"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// GatewayAddr is the address the websocket gateway listens on (e.g. :4000).
	GatewayAddr string `mapstructure:"GATEWAY_ADDR"`
	// HealthAddr serves /connection, /ready and /metrics for the gateway process.
	HealthAddr string `mapstructure:"HEALTH_ADDR"`
	// APIAddr is the address of the stateless API process.
	APIAddr string `mapstructure:"API_ADDR"`
	// GRPCHealthAddr serves grpc.health.v1 for orchestrators that probe over gRPC. Empty disables it.
	GRPCHealthAddr string `mapstructure:"GRPC_HEALTH_ADDR"`
	// DatabaseURL is the Postgres DSN shared by every process.
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// BusTransport selects the fanout transport: postgres, redis or memory.
	BusTransport string `mapstructure:"BUS_TRANSPORT"`
	// BusChannel is the LISTEN channel (postgres) or Pub/Sub channel (redis).
	BusChannel string `mapstructure:"BUS_CHANNEL"`
	// RedisURL is required when BusTransport is redis.
	RedisURL string `mapstructure:"REDIS_URL"`

	// ExternalProbeURL is the first readiness stage; any HTTP answer counts as reachable.
	ExternalProbeURL string `mapstructure:"EXTERNAL_PROBE_URL"`
	// ReadinessInterval is the fixed retry interval for every readiness stage (e.g. "1s").
	ReadinessInterval string `mapstructure:"READINESS_INTERVAL"`
	// UpstreamReadyURL is consulted by /ready; empty skips the check.
	UpstreamReadyURL string `mapstructure:"UPSTREAM_READY_URL"`
	// GatewayHealthURL is polled by the API process before it handles requests.
	GatewayHealthURL string `mapstructure:"GATEWAY_HEALTH_URL"`

	GoogleClientID     string `mapstructure:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `mapstructure:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL  string `mapstructure:"GOOGLE_REDIRECT_URL"`

	AppleClientID string `mapstructure:"APPLE_CLIENT_ID"`
	AppleTeamID   string `mapstructure:"APPLE_TEAM_ID"`
	AppleKeyID    string `mapstructure:"APPLE_KEY_ID"`
	// ApplePrivateKey is the PEM-encoded ES256 key (or a path to it) used to sign the client secret.
	ApplePrivateKey  string `mapstructure:"APPLE_PRIVATE_KEY"`
	AppleRedirectURL string `mapstructure:"APPLE_REDIRECT_URL"`

	// TokenEncryptionKey is a hex-encoded 32-byte key sealing provider tokens at rest. Empty stores them as-is.
	TokenEncryptionKey string `mapstructure:"TOKEN_ENCRYPTION_KEY"`
	// SessionCookieTTL is the lifetime of the oauth_session_id cookie (e.g. "4380h").
	SessionCookieTTL string `mapstructure:"SESSION_COOKIE_TTL"`

	// QueryRateLimit is the sustained per-connection query rate (queries/second).
	QueryRateLimit float64 `mapstructure:"QUERY_RATE_LIMIT"`
	// QueryRateBurst is the per-connection burst size.
	QueryRateBurst int `mapstructure:"QUERY_RATE_BURST"`
	// WSAllowedOrigins is a comma-separated list of origin patterns accepted on the websocket upgrade.
	WSAllowedOrigins string `mapstructure:"WS_ALLOWED_ORIGINS"`

	// OTelEndpoint is the OTLP gRPC collector; empty yields no-op providers.
	OTelEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTelInsecure forces plaintext to the collector even for https endpoints.
	OTelInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// LogLevel is a zerolog level name.
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	// EnrichmentMaxAttempts bounds retries before a task is marked generation_failed.
	EnrichmentMaxAttempts int `mapstructure:"ENRICHMENT_MAX_ATTEMPTS"`
	// EnrichmentPollInterval is how long an idle worker waits before claiming again.
	EnrichmentPollInterval string `mapstructure:"ENRICHMENT_POLL_INTERVAL"`
	// EnrichmentBaseBackoff is the first retry delay; later delays double.
	EnrichmentBaseBackoff string `mapstructure:"ENRICHMENT_BASE_BACKOFF"`
	// EnrichmentCommand is the executable the worker runs for each task.
	EnrichmentCommand string `mapstructure:"ENRICHMENT_COMMAND"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("GATEWAY_ADDR", ":4000")
	v.SetDefault("HEALTH_ADDR", ":4010")
	v.SetDefault("API_ADDR", ":8080")
	v.SetDefault("GRPC_HEALTH_ADDR", ":4020")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("BUS_TRANSPORT", BusTransportPostgres)
	v.SetDefault("BUS_CHANNEL", "menuet_bus")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("EXTERNAL_PROBE_URL", "https://8.8.8.8")
	v.SetDefault("READINESS_INTERVAL", "1s")
	v.SetDefault("UPSTREAM_READY_URL", "")
	v.SetDefault("GATEWAY_HEALTH_URL", "http://localhost:4010/connection")
	v.SetDefault("GOOGLE_CLIENT_ID", "")
	v.SetDefault("GOOGLE_CLIENT_SECRET", "")
	v.SetDefault("GOOGLE_REDIRECT_URL", "")
	v.SetDefault("APPLE_CLIENT_ID", "")
	v.SetDefault("APPLE_TEAM_ID", "")
	v.SetDefault("APPLE_KEY_ID", "")
	v.SetDefault("APPLE_PRIVATE_KEY", "")
	v.SetDefault("APPLE_REDIRECT_URL", "")
	v.SetDefault("TOKEN_ENCRYPTION_KEY", "")
	v.SetDefault("SESSION_COOKIE_TTL", "4380h")
	v.SetDefault("QUERY_RATE_LIMIT", 20)
	v.SetDefault("QUERY_RATE_BURST", 40)
	v.SetDefault("WS_ALLOWED_ORIGINS", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("ENRICHMENT_MAX_ATTEMPTS", 5)
	v.SetDefault("ENRICHMENT_POLL_INTERVAL", "2s")
	v.SetDefault("ENRICHMENT_BASE_BACKOFF", "5s")
	v.SetDefault("ENRICHMENT_COMMAND", "")
}

func (c *Config) validate() error {
	if c.GatewayAddr == "" {
		return errors.New("config: GATEWAY_ADDR must be set")
	}
	if c.HealthAddr == "" {
		return errors.New("config: HEALTH_ADDR must be set")
	}
	switch c.BusTransport {
	case BusTransportPostgres, BusTransportMemory:
	case BusTransportRedis:
		if c.RedisURL == "" {
			return errors.New("config: REDIS_URL must be set when BUS_TRANSPORT=redis")
		}
	default:
		return errors.New("config: BUS_TRANSPORT must be one of postgres, redis, memory")
	}
	if c.BusChannel == "" {
		return errors.New("config: BUS_CHANNEL must be set")
	}
	if c.TokenEncryptionKey != "" {
		if _, err := c.TokenKey(); err != nil {
			return err
		}
	}
	if c.QueryRateLimit < 0 || c.QueryRateBurst < 0 {
		return errors.New("config: QUERY_RATE_LIMIT and QUERY_RATE_BURST must not be negative")
	}
	if c.EnrichmentMaxAttempts <= 0 {
		c.EnrichmentMaxAttempts = 5
	}
	return nil
}

// TokenKey decodes TokenEncryptionKey. Returns nil, nil when no key is configured.
func (c *Config) TokenKey() ([]byte, error) {
	if c.TokenEncryptionKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(strings.TrimSpace(c.TokenEncryptionKey))
	if err != nil || len(key) != 32 {
		return nil, errors.New("config: TOKEN_ENCRYPTION_KEY must be 32 bytes hex-encoded")
	}
	return key, nil
}

// ReadinessRetryInterval parses ReadinessInterval. Returns 1s if unset or invalid.
func (c *Config) ReadinessRetryInterval() time.Duration {
	return parseDuration(c.ReadinessInterval, time.Second)
}

// SessionTTL parses SessionCookieTTL. Returns 4380h (about six months) if unset or invalid.
func (c *Config) SessionTTL() time.Duration {
	return parseDuration(c.SessionCookieTTL, 4380*time.Hour)
}

// EnrichmentPoll parses EnrichmentPollInterval. Returns 2s if unset or invalid.
func (c *Config) EnrichmentPoll() time.Duration {
	return parseDuration(c.EnrichmentPollInterval, 2*time.Second)
}

// EnrichmentBackoff parses EnrichmentBaseBackoff. Returns 5s if unset or invalid.
func (c *Config) EnrichmentBackoff() time.Duration {
	return parseDuration(c.EnrichmentBaseBackoff, 5*time.Second)
}

// AllowedOrigins splits WSAllowedOrigins into patterns for the websocket accept options.
func (c *Config) AllowedOrigins() []string {
	if c == nil || c.WSAllowedOrigins == "" {
		return nil
	}
	parts := strings.Split(c.WSAllowedOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// GoogleEnabled reports whether Google credentials are configured.
func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// AppleEnabled reports whether Apple credentials are configured.
func (c *Config) AppleEnabled() bool {
	return c.AppleClientID != "" && c.AppleTeamID != "" && c.AppleKeyID != "" && c.ApplePrivateKey != ""
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
