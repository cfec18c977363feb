package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "concierge.yaml"

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
	setString(&cfg.Server.Port, "CONCIERGE_PORT")
	setString(&cfg.Server.CORSOrigin, "CONCIERGE_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "CONCIERGE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "CONCIERGE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "CONCIERGE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "CONCIERGE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "CONCIERGE_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.Stream, "CONCIERGE_NATS_STREAM")
	setDuration(&cfg.NATS.DedupWindow, "CONCIERGE_NATS_DEDUP_WINDOW")
	setString(&cfg.Logging.Level, "CONCIERGE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "CONCIERGE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "CONCIERGE_LOG_ASYNC")
	setString(&cfg.Logging.Format, "CONCIERGE_LOG_FORMAT")
	setInt(&cfg.Breaker.MaxFailures, "CONCIERGE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "CONCIERGE_BREAKER_TIMEOUT")

	// Telemetry
	setString(&cfg.OTel.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.OTel.ServiceName, "OTEL_SERVICE_NAME")
	setBool(&cfg.OTel.Insecure, "CONCIERGE_OTEL_INSECURE")

	// Pricing
	setFloat64(&cfg.Pricing.TaxRate, "CONCIERGE_TAX_RATE")
	setInt64(&cfg.Pricing.FlatFeeCents, "CONCIERGE_FLAT_FEE_CENTS")
	setString(&cfg.Pricing.Currency, "CONCIERGE_CURRENCY")

	// Planner / runner
	setString(&cfg.Planner.TemplatesFile, "CONCIERGE_TEMPLATES_FILE")
	setDuration(&cfg.Runner.ReplayWait, "CONCIERGE_REPLAY_WAIT")
	setDuration(&cfg.Runner.ReplayPoll, "CONCIERGE_REPLAY_POLL")
	setDuration(&cfg.Runner.RecoverAfter, "CONCIERGE_RECOVER_AFTER")

	// Worker
	setInt(&cfg.Worker.MaxAttempts, "CONCIERGE_WORKER_MAX_ATTEMPTS")
	setDuration(&cfg.Worker.BaseBackoff, "CONCIERGE_WORKER_BASE_BACKOFF")
	setDuration(&cfg.Worker.MaxBackoff, "CONCIERGE_WORKER_MAX_BACKOFF")
	setInt64(&cfg.Worker.Concurrency, "CONCIERGE_WORKER_CONCURRENCY")
	setDuration(&cfg.Worker.Lease, "CONCIERGE_WORKER_LEASE")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "CONCIERGE_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "CONCIERGE_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "CONCIERGE_CACHE_L2_TTL")

	// Webhook / MCP / LiteLLM
	setString(&cfg.Webhook.PaymentSecret, "CONCIERGE_WEBHOOK_PAYMENT_SECRET")
	setString(&cfg.MCP.Addr, "CONCIERGE_MCP_ADDR")
	setString(&cfg.MCP.APIKey, "CONCIERGE_MCP_API_KEY")
	setString(&cfg.LiteLLM.URL, "LITELLM_URL")
	setString(&cfg.LiteLLM.MasterKey, "LITELLM_MASTER_KEY")
	setString(&cfg.LiteLLM.Model, "CONCIERGE_LITELLM_MODEL")

	// Idempotency
	setString(&cfg.Idempotency.Bucket, "CONCIERGE_IDEMPOTENCY_BUCKET")
	setDuration(&cfg.Idempotency.TTL, "CONCIERGE_IDEMPOTENCY_TTL")
}

// validate checks that required fields are set and values are in range.
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
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if err := cfg.Pricing.Quote().Validate(); err != nil {
		return fmt.Errorf("pricing: %w", err)
	}
	if cfg.Worker.MaxAttempts < 1 {
		return errors.New("worker.max_attempts must be >= 1")
	}
	if cfg.Worker.BaseBackoff <= 0 || cfg.Worker.MaxBackoff < cfg.Worker.BaseBackoff {
		return errors.New("worker.max_backoff must be >= worker.base_backoff > 0")
	}
	if cfg.Worker.Concurrency < 1 {
		return errors.New("worker.concurrency must be >= 1")
	}
	if cfg.Worker.Lease <= 0 {
		return errors.New("worker.lease must be > 0")
	}
	if cfg.Runner.ReplayPoll <= 0 {
		return errors.New("runner.replay_poll must be > 0")
	}
	if cfg.Runner.RecoverAfter <= 0 {
		return errors.New("runner.recover_after must be > 0")
	}
	switch cfg.Logging.Format {
	case "json", "text", "auto":
	default:
		return fmt.Errorf("logging.format %q must be json, text or auto", cfg.Logging.Format)
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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
