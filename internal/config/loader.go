package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix  = "PAGESPEED_"
	envConfig  = envPrefix + "CONFIG"
	envEnvFile = envPrefix + "ENV_FILE"

	defaultEnvFile = ".env"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if PAGESPEED_CONFIG is set
//  3. env (prefix PAGESPEED_), after a dotenv file has been merged into it
//
// The dotenv file is PAGESPEED_ENV_FILE, or .env when present. Variables
// already set in the process win over the file.
func Load(_ context.Context) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	base := New()
	k := koanf.New(".")

	if path := os.Getenv(envConfig); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// PAGESPEED_API_KEY -> api_key; flat keys match the koanf tags.
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadDotEnv() error {
	path := os.Getenv(envEnvFile)
	explicit := path != ""
	if !explicit {
		path = defaultEnvFile
	}
	err := godotenv.Load(path)
	switch {
	case err == nil:
		return nil
	case !explicit && errors.Is(err, fs.ErrNotExist):
		return nil
	default:
		return fmt.Errorf("%w: %w: %s: %w", ErrLoadConfig, ErrEnvFile, path, err)
	}
}

func (c *Config) normalize() {
	c.APIKey = strings.TrimSpace(c.APIKey)
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.RateBackend = strings.ToLower(strings.TrimSpace(c.RateBackend))
	c.DBDriver = strings.ToLower(strings.TrimSpace(c.DBDriver))
}

// Validate reports every invalid setting in one error wrapping ErrInvalidConfig.
func (c *Config) Validate() error {
	var problems []string
	if c.Addr == "" {
		problems = append(problems, "addr must not be empty")
	}
	if c.MaxURLs <= 0 {
		problems = append(problems, "max_urls must be positive")
	}
	if c.BatchConcurrency < 1 {
		problems = append(problems, "batch_concurrency must be at least 1")
	}
	if c.RateWindow <= 0 {
		problems = append(problems, "rate_window must be positive")
	}
	if c.RateMax <= 0 {
		problems = append(problems, "rate_max must be positive")
	}
	if c.UpstreamTimeout <= 0 {
		problems = append(problems, "upstream_timeout must be positive")
	}
	if c.UpstreamQPS < 0 {
		problems = append(problems, "upstream_qps must not be negative")
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		problems = append(problems, fmt.Sprintf("log_format %q is not text or json", c.LogFormat))
	}

	switch c.RateBackend {
	case RateBackendMemory:
	case RateBackendRedis:
		if c.RedisURL == "" {
			problems = append(problems, "redis_url is required when rate_backend is redis")
		}
	default:
		problems = append(problems, fmt.Sprintf("rate_backend %q is not memory or redis", c.RateBackend))
	}

	switch c.DBDriver {
	case DBDriverSQLite, DBDriverPostgres:
		if c.DBDSN == "" {
			problems = append(problems, "db_dsn is required for "+c.DBDriver)
		}
	case DBDriverMemory:
	default:
		problems = append(problems, fmt.Sprintf("db_driver %q is not sqlite, postgres or memory", c.DBDriver))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}
