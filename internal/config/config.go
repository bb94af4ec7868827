// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Load(ctx) layers a YAML file and environment variables over the defaults.
// - Errors returned by this package wrap ErrLoadConfig or ErrInvalidConfig.
package config

import (
	"time"
)

// Rate limiter backends.
const (
	RateBackendMemory = "memory"
	RateBackendRedis  = "redis"
)

// Result store drivers.
const (
	DBDriverSQLite   = "sqlite"
	DBDriverPostgres = "postgres"
	DBDriverMemory   = "memory"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// APIKey is the PageSpeed Insights key. Batches fail while it is empty.
	APIKey string `koanf:"api_key"`

	// APIURL is the runPagespeed endpoint.
	APIURL string `koanf:"api_url"`

	// UpstreamTimeout bounds one PageSpeed call.
	UpstreamTimeout time.Duration `koanf:"upstream_timeout"`

	// UpstreamQPS paces outbound calls; 0 disables pacing.
	UpstreamQPS   float64 `koanf:"upstream_qps"`
	UpstreamBurst int     `koanf:"upstream_burst"`

	// BreakerEnabled wraps upstream calls in a circuit breaker.
	BreakerEnabled  bool          `koanf:"breaker_enabled"`
	BreakerFailures uint32        `koanf:"breaker_failures"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout"`

	// StoreFullReport keeps the raw upstream body with each result.
	StoreFullReport bool `koanf:"store_full_report"`

	// MaxURLs caps the URLs of one batch.
	MaxURLs int `koanf:"max_urls"`

	// BatchConcurrency bounds in-flight requests within a batch; 1 is sequential.
	BatchConcurrency int `koanf:"batch_concurrency"`

	// RateBackend selects where the sliding window lives: memory or redis.
	RateBackend string        `koanf:"rate_backend"`
	RateWindow  time.Duration `koanf:"rate_window"`
	RateMax     int           `koanf:"rate_max"`

	// RedisURL is required with the redis backend, e.g. redis://localhost:6379/0.
	RedisURL string `koanf:"redis_url"`
	RedisKey string `koanf:"redis_key"`

	// DBDriver selects the result store: sqlite, postgres or memory.
	DBDriver string `koanf:"db_driver"`

	// DBDSN is the sqlite path or the postgres connection string.
	DBDSN string `koanf:"db_dsn"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:         "info",
		LogFormat:        "text",
		Addr:             ":9080",
		ShutdownTimeout:  30 * time.Second,
		APIURL:           "https://www.googleapis.com/pagespeedonline/v5/runPagespeed",
		UpstreamTimeout:  60 * time.Second,
		UpstreamBurst:    1,
		BreakerFailures:  5,
		BreakerTimeout:   30 * time.Second,
		MaxURLs:          30,
		BatchConcurrency: 1,
		RateBackend:      RateBackendMemory,
		RateWindow:       100 * time.Second,
		RateMax:          400,
		RedisKey:         "pagespeed:ratewindow",
		DBDriver:         DBDriverSQLite,
		DBDSN:            "./data/pagespeed.db",
	}
}

// HasAPIKey reports whether an upstream key is configured.
func (c *Config) HasAPIKey() bool {
	return c.APIKey != ""
}
