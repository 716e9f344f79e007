// Package config loads process configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/caarlos0/env/v11"
)

const devSigningKey = "dev-secret-key-change-in-production"

// Config is the root configuration for cmd/server.
type Config struct {
	Environment string `env:"APP_ENV" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	Server    Server
	Auth      AuthConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	RateLimit RateLimitConfig
	Tracing   TracingConfig
	Archive   ArchiveConfig
	Features  FeatureFlags
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr              string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadHeaderTimeout time.Duration `env:"HTTP_READ_HEADER_TIMEOUT" envDefault:"5s"`
	RequestTimeout    time.Duration `env:"HTTP_REQUEST_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout   time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"15s"`
	MaxBodyBytes      int64         `env:"HTTP_MAX_BODY_BYTES" envDefault:"1048576"`
	// HSTS is only sent when the service is reached over TLS (directly or via proxy).
	EnableHSTS bool `env:"HTTP_ENABLE_HSTS" envDefault:"false"`
	// TrustProxyHeaders enables X-Forwarded-For / X-Real-IP for client IP extraction.
	TrustProxyHeaders bool `env:"HTTP_TRUST_PROXY_HEADERS" envDefault:"false"`
}

// AuthConfig configures JWT issuance and validation.
type AuthConfig struct {
	JWTSigningKey   string        `env:"JWT_SIGNING_KEY"`
	Issuer          string        `env:"JWT_ISSUER" envDefault:"myapi"`
	Audience        string        `env:"JWT_AUDIENCE" envDefault:"myapi-clients"`
	AccessTokenTTL  time.Duration `env:"JWT_ACCESS_TTL" envDefault:"15m"`
	RefreshTokenTTL time.Duration `env:"JWT_REFRESH_TTL" envDefault:"168h"`
	Leeway          time.Duration `env:"JWT_LEEWAY" envDefault:"30s"`
	BcryptCost      int           `env:"BCRYPT_COST" envDefault:"12"`
	AdminEmail      string        `env:"ADMIN_EMAIL"`
	AdminPassword   string        `env:"ADMIN_PASSWORD"`
}

// DatabaseConfig configures both the pgx pool and the database/sql pool.
// An empty URL selects in-memory stores.
type DatabaseConfig struct {
	URL             string        `env:"DATABASE_URL"`
	MaxConns        int32         `env:"DB_MAX_CONNS" envDefault:"20"`
	MinConns        int32         `env:"DB_MIN_CONNS" envDefault:"2"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"30m"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" envDefault:"5m"`
	HealthCheck     time.Duration `env:"DB_HEALTH_CHECK_PERIOD" envDefault:"30s"`
	ConnectTimeout  time.Duration `env:"DB_CONNECT_TIMEOUT" envDefault:"5s"`
	AutoMigrate     bool          `env:"DB_AUTO_MIGRATE" envDefault:"true"`
}

// RedisConfig configures the shared Redis client. An empty URL disables Redis.
type RedisConfig struct {
	URL          string        `env:"REDIS_URL"`
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// KafkaConfig configures the audit outbox relay. No brokers disables it.
type KafkaConfig struct {
	Brokers       []string      `env:"KAFKA_BROKERS" envSeparator:","`
	AuditTopic    string        `env:"KAFKA_AUDIT_TOPIC" envDefault:"audit-events"`
	Partitions    int32         `env:"KAFKA_AUDIT_PARTITIONS" envDefault:"3"`
	Replication   int16         `env:"KAFKA_AUDIT_REPLICATION" envDefault:"1"`
	RelayInterval time.Duration `env:"OUTBOX_RELAY_INTERVAL" envDefault:"2s"`
	RelayBatch    int           `env:"OUTBOX_RELAY_BATCH" envDefault:"100"`
}

// RateLimitConfig configures per-class token buckets.
type RateLimitConfig struct {
	Enabled      bool     `env:"RATELIMIT_ENABLED" envDefault:"true"`
	AuthRate     float64  `env:"RATELIMIT_AUTH_RATE" envDefault:"0.2"`
	AuthBurst    int      `env:"RATELIMIT_AUTH_BURST" envDefault:"10"`
	ReadRate     float64  `env:"RATELIMIT_READ_RATE" envDefault:"10"`
	ReadBurst    int      `env:"RATELIMIT_READ_BURST" envDefault:"100"`
	WriteRate    float64  `env:"RATELIMIT_WRITE_RATE" envDefault:"2"`
	WriteBurst   int      `env:"RATELIMIT_WRITE_BURST" envDefault:"30"`
	AllowlistIPs []string `env:"RATELIMIT_ALLOWLIST" envSeparator:","`
}

// TracingConfig configures the OTLP trace exporter. Empty endpoint disables export.
type TracingConfig struct {
	Endpoint    string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName string  `env:"OTEL_SERVICE_NAME" envDefault:"myapi"`
	SampleRatio float64 `env:"OTEL_SAMPLE_RATIO" envDefault:"1"`
	Insecure    bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
}

// ArchiveConfig configures audit exports to S3. Empty bucket disables export.
type ArchiveConfig struct {
	Bucket   string `env:"AUDIT_ARCHIVE_BUCKET"`
	Prefix   string `env:"AUDIT_ARCHIVE_PREFIX" envDefault:"audit"`
	Region   string `env:"AWS_REGION" envDefault:"us-east-1"`
	Endpoint string `env:"AUDIT_ARCHIVE_ENDPOINT"`
}

// FeatureFlags toggles optional transports.
type FeatureFlags struct {
	GraphQL   bool `env:"FEATURE_GRAPHQL" envDefault:"true"`
	WebSocket bool `env:"FEATURE_WEBSOCKET" envDefault:"true"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Auth.JWTSigningKey == "" && cfg.IsDevelopment() {
		cfg.Auth.JWTSigningKey = devSigningKey
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// IsDevelopment reports whether the process runs with development defaults.
func (c Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "test"
}

// Validate rejects configurations the server cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Auth.JWTSigningKey == "" {
		errs = append(errs, errors.New("JWT_SIGNING_KEY is required outside development"))
	}
	if !c.IsDevelopment() && c.Auth.JWTSigningKey == devSigningKey {
		errs = append(errs, errors.New("JWT_SIGNING_KEY must not use the development default"))
	}
	if !c.IsDevelopment() && len(c.Auth.JWTSigningKey) < 32 {
		errs = append(errs, errors.New("JWT_SIGNING_KEY must be at least 32 bytes"))
	}
	if c.Auth.AccessTokenTTL <= 0 || c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("refresh token TTL must exceed a positive access token TTL"))
	}
	if c.Database.MaxConns <= 0 || c.Database.MinConns < 0 || c.Database.MinConns > c.Database.MaxConns {
		errs = append(errs, fmt.Errorf("invalid pool size: min=%d max=%d", c.Database.MinConns, c.Database.MaxConns))
	}
	if c.RateLimit.AuthBurst <= 0 || c.RateLimit.ReadBurst <= 0 || c.RateLimit.WriteBurst <= 0 {
		errs = append(errs, errors.New("rate limit bursts must be positive"))
	}
	for _, ip := range c.RateLimit.AllowlistIPs {
		if _, _, err := net.ParseCIDR(ip); err != nil && net.ParseIP(ip) == nil {
			errs = append(errs, fmt.Errorf("invalid allowlist entry %q", ip))
		}
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, errors.New("OTEL_SAMPLE_RATIO must be within [0,1]"))
	}
	return errors.Join(errs...)
}
