// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Event sink selectors for EVENT_SINK.
const (
	EventSinkRedis = "redis"
	EventSinkNATS  = "nats"
	EventSinkNone  = "none"
)

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	OpsPort int    `env:"OPS_PORT" envDefault:"9090"`

	// Database (PostgreSQL)
	DatabaseURL string `env:"DATABASE_URL,required"`
	DBMaxConns  int32  `env:"DB_MAX_CONNS" envDefault:"10"`
	DBMinConns  int32  `env:"DB_MIN_CONNS" envDefault:"2"`

	// Cache, locks and event stream (Redis)
	RedisURL      string `env:"REDIS_URL,required"`
	RedisPoolSize int    `env:"REDIS_POOL_SIZE" envDefault:"10"`

	// Domain event sink
	EventSink    string `env:"EVENT_SINK" envDefault:"redis"`
	NATSURL      string `env:"NATS_URL"`
	EventStream  string `env:"EVENT_STREAM" envDefault:"rebrick:events"`
	EventSubject string `env:"EVENT_SUBJECT" envDefault:"rebrick.events"`

	// Event log consumer (redis sink only)
	EventLogEnabled bool   `env:"EVENT_LOG_ENABLED" envDefault:"true"`
	EventLogGroup   string `env:"EVENT_LOG_GROUP" envDefault:"rebrick_eventlog"`

	// Optional signed webhook receiving every event batch
	EventWebhookURL          string `env:"EVENT_WEBHOOK_URL"`
	EventWebhookSecret       string `env:"EVENT_WEBHOOK_SECRET"`
	EventWebhookAllowPrivate bool   `env:"EVENT_WEBHOOK_ALLOW_PRIVATE" envDefault:"false"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// WordPress publisher
	WordPressBaseURL     string        `env:"WORDPRESS_BASE_URL"`
	WordPressUsername    string        `env:"WORDPRESS_USERNAME"`
	WordPressAppPassword string        `env:"WORDPRESS_APP_PASSWORD"`
	WordPressTimeout     time.Duration `env:"WORDPRESS_TIMEOUT" envDefault:"15s"`

	// Publish pacing: local limiter and per-site token bucket
	PublishRPS   float64 `env:"PUBLISH_RPS" envDefault:"2"`
	PublishBurst int     `env:"PUBLISH_BURST" envDefault:"4"`

	// Deployment worker
	DeployPollInterval time.Duration `env:"DEPLOY_POLL_INTERVAL" envDefault:"5s"`
	DeployBatchSize    int           `env:"DEPLOY_BATCH_SIZE" envDefault:"10"`
	PublishMaxAttempts int           `env:"PUBLISH_MAX_ATTEMPTS" envDefault:"3"`
	PublishRetryBase   time.Duration `env:"PUBLISH_RETRY_BASE" envDefault:"500ms"`

	// Redis key lifetimes
	ClassificationCacheTTL time.Duration `env:"CLASSIFICATION_CACHE_TTL" envDefault:"24h"`
	AggregateLockTTL       time.Duration `env:"AGGREGATE_LOCK_TTL" envDefault:"2m"`

	// Ops server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// PublisherEnabled reports whether WordPress credentials are configured.
func (c *Config) PublisherEnabled() bool {
	return c.WordPressBaseURL != "" && c.WordPressUsername != "" && c.WordPressAppPassword != ""
}

// EventLogActive reports whether the event log consumer should run. It
// reads the Redis stream, so other sinks leave it off.
func (c *Config) EventLogActive() bool {
	return c.EventLogEnabled && c.EventSink == EventSinkRedis
}

// Validate checks cross-field constraints env tags cannot express.
func (c *Config) Validate() error {
	switch c.EventSink {
	case EventSinkRedis, EventSinkNone:
	case EventSinkNATS:
		if c.NATSURL == "" {
			return fmt.Errorf("NATS_URL is required when EVENT_SINK=%s", EventSinkNATS)
		}
	default:
		return fmt.Errorf("EVENT_SINK must be one of redis, nats, none; got %q", c.EventSink)
	}
	if c.EventWebhookURL != "" && c.EventWebhookSecret == "" {
		return fmt.Errorf("EVENT_WEBHOOK_SECRET is required when EVENT_WEBHOOK_URL is set")
	}
	if c.PublishRPS <= 0 || c.PublishBurst <= 0 {
		return fmt.Errorf("PUBLISH_RPS and PUBLISH_BURST must be positive")
	}
	if c.PublishMaxAttempts < 1 {
		return fmt.Errorf("PUBLISH_MAX_ATTEMPTS must be at least 1")
	}
	if c.DeployBatchSize < 1 {
		return fmt.Errorf("DEPLOY_BATCH_SIZE must be at least 1")
	}
	return nil
}

// Load parses environment variables and returns a Config.
// Returns an error if required variables are missing.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
