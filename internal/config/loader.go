package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "toolplane.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "TOOLPLANE_PORT")
	setString(&cfg.Server.CORSOrigin, "TOOLPLANE_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "TOOLPLANE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "TOOLPLANE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "TOOLPLANE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "TOOLPLANE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "TOOLPLANE_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Logging.Level, "TOOLPLANE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "TOOLPLANE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "TOOLPLANE_LOG_ASYNC")

	setDuration(&cfg.Rate.Window, "TOOLPLANE_RATE_WINDOW")
	setInt(&cfg.Rate.DefaultLimit, "TOOLPLANE_RATE_DEFAULT_LIMIT")
	setInt(&cfg.Rate.ElevatedLimit, "TOOLPLANE_RATE_ELEVATED_LIMIT")
	setDuration(&cfg.Rate.CleanupInterval, "TOOLPLANE_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "TOOLPLANE_RATE_MAX_IDLE_TIME")

	setString(&cfg.Idempotency.Bucket, "TOOLPLANE_IDEMPOTENCY_BUCKET")
	setDuration(&cfg.Idempotency.Retention, "TOOLPLANE_IDEMPOTENCY_RETENTION")
	setDuration(&cfg.Lock.TTL, "TOOLPLANE_LOCK_TTL")
	setDuration(&cfg.Approval.TTL, "TOOLPLANE_APPROVAL_TTL")
	setDuration(&cfg.Approval.SweepInterval, "TOOLPLANE_APPROVAL_SWEEP_INTERVAL")

	setInt64(&cfg.Cache.L1MaxSizeMB, "TOOLPLANE_CACHE_L1_SIZE_MB")
	setDuration(&cfg.Cache.L1TTL, "TOOLPLANE_CACHE_L1_TTL")
	setDuration(&cfg.Cache.L2TTL, "TOOLPLANE_CACHE_L2_TTL")

	setString(&cfg.Calendar.URL, "TOOLPLANE_CALENDAR_URL")
	setString(&cfg.Calendar.Token, "TOOLPLANE_CALENDAR_TOKEN")
	setInt(&cfg.Breaker.MaxFailures, "TOOLPLANE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "TOOLPLANE_BREAKER_TIMEOUT")

	setString(&cfg.Telemetry.Endpoint, "TOOLPLANE_OTLP_ENDPOINT")
	setDuration(&cfg.Telemetry.Interval, "TOOLPLANE_OTLP_INTERVAL")

	// TOOLPLANE_ADMIN_SECRET adds (or replaces) a wildcard elevated key.
	// Intended for deployments that inject the single operator secret via env.
	if secret := os.Getenv("TOOLPLANE_ADMIN_SECRET"); secret != "" {
		replaced := false
		for i := range cfg.Auth.Keys {
			if cfg.Auth.Keys[i].Class == "elevated" && hasWildcard(cfg.Auth.Keys[i].Scopes) {
				cfg.Auth.Keys[i].Secret = secret
				replaced = true
				break
			}
		}
		if !replaced {
			cfg.Auth.Keys = append(cfg.Auth.Keys, APIKey{
				Secret: secret,
				Scopes: []string{"*"},
				Class:  "elevated",
			})
		}
	}
}

func hasWildcard(scopes []string) bool {
	for _, s := range scopes {
		if s == "*" {
			return true
		}
	}
	return false
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Rate.Window <= 0 {
		return errors.New("rate.window must be > 0")
	}
	if cfg.Rate.DefaultLimit < 1 || cfg.Rate.ElevatedLimit < 1 {
		return errors.New("rate limits must be >= 1")
	}
	if cfg.Lock.TTL <= 0 {
		return errors.New("lock.ttl must be > 0")
	}
	if cfg.Approval.TTL <= 0 {
		return errors.New("approval.ttl must be > 0")
	}
	for i, k := range cfg.Auth.Keys {
		if k.Secret == "" {
			return fmt.Errorf("auth.keys[%d].secret is required", i)
		}
		if len(k.Scopes) == 0 {
			return fmt.Errorf("auth.keys[%d].scopes is required", i)
		}
		switch k.Class {
		case "", "default", "elevated":
		default:
			return fmt.Errorf("auth.keys[%d].class must be default or elevated, got %q", i, k.Class)
		}
		if strings.Contains(k.Secret, " ") {
			return fmt.Errorf("auth.keys[%d].secret must not contain spaces", i)
		}
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
