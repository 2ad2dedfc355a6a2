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
const DefaultConfigFile = "toolgate.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	path := DefaultConfigFile
	if p := os.Getenv("TOOLGATE_CONFIG"); p != "" {
		path = p
	}
	return LoadFrom(path)
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
	data, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied path
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
	setString(&cfg.Server.Port, "TOOLGATE_PORT")
	setString(&cfg.Server.CORSOrigin, "TOOLGATE_CORS_ORIGIN")
	setString(&cfg.Server.AdminKey, "TOOLGATE_ADMIN_KEY")
	setString(&cfg.Server.WebhookSecret, "TOOLGATE_WEBHOOK_SECRET")
	setDuration(&cfg.Server.IdempotencyTTL, "TOOLGATE_IDEMPOTENCY_TTL")

	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "TOOLGATE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "TOOLGATE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "TOOLGATE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "TOOLGATE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "TOOLGATE_PG_HEALTH_CHECK")

	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.Stream, "TOOLGATE_NATS_STREAM")
	setBool(&cfg.NATS.Ingest, "TOOLGATE_NATS_INGEST")

	setString(&cfg.Logging.Level, "TOOLGATE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "TOOLGATE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "TOOLGATE_LOG_ASYNC")

	setInt(&cfg.Breaker.MaxFailures, "TOOLGATE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "TOOLGATE_BREAKER_TIMEOUT")

	setFloat64(&cfg.Rate.RequestsPerSecond, "TOOLGATE_RATE_RPS")
	setInt(&cfg.Rate.Burst, "TOOLGATE_RATE_BURST")
	setDuration(&cfg.Rate.CleanupInterval, "TOOLGATE_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "TOOLGATE_RATE_MAX_IDLE_TIME")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "TOOLGATE_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "TOOLGATE_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "TOOLGATE_CACHE_L2_TTL")
	setDuration(&cfg.Cache.SnapshotTTL, "TOOLGATE_CACHE_SNAPSHOT_TTL")

	// OpenTelemetry
	setBool(&cfg.OTEL.Enabled, "TOOLGATE_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&cfg.OTEL.Insecure, "TOOLGATE_OTEL_INSECURE")
	setString(&cfg.OTEL.ServiceName, "OTEL_SERVICE_NAME")
	setFloat64(&cfg.OTEL.SampleRate, "TOOLGATE_OTEL_SAMPLE_RATE")

	// Engine
	setDuration(&cfg.Engine.PollInterval, "TOOLGATE_POLL_INTERVAL")
	setBool(&cfg.Engine.RescanOnIdle, "TOOLGATE_RESCAN_ON_IDLE")
	setInt(&cfg.Engine.ReplayBatch, "TOOLGATE_REPLAY_BATCH")
	setDuration(&cfg.Engine.ToolTimeout, "TOOLGATE_TOOL_TIMEOUT")
	setDuration(&cfg.Engine.ShutdownTimeout, "TOOLGATE_SHUTDOWN_TIMEOUT")

	setDuration(&cfg.RateLimit.Window, "TOOLGATE_RATELIMIT_WINDOW")
	setInt(&cfg.RateLimit.MaxCalls, "TOOLGATE_RATELIMIT_MAX_CALLS")
	setDuration(&cfg.RateLimit.SweepInterval, "TOOLGATE_RATELIMIT_SWEEP_INTERVAL")

	setDuration(&cfg.Budget.ReconcileInterval, "TOOLGATE_BUDGET_RECONCILE_INTERVAL")
	setInt(&cfg.Budget.MaxCommitRetries, "TOOLGATE_BUDGET_MAX_COMMIT_RETRIES")

	setString(&cfg.Tools.Dir, "TOOLGATE_TOOLS_DIR")
	setDuration(&cfg.Tools.WebhookTimeout, "TOOLGATE_WEBHOOK_TIMEOUT")

	setStringSlice(&cfg.Notification.EnabledEvents, "TOOLGATE_NOTIFY_EVENTS")
	if url := os.Getenv("TOOLGATE_SLACK_WEBHOOK_URL"); url != "" {
		if cfg.Notification.Providers == nil {
			cfg.Notification.Providers = make(map[string]map[string]string)
		}
		if cfg.Notification.Providers["slack"] == nil {
			cfg.Notification.Providers["slack"] = make(map[string]string)
		}
		cfg.Notification.Providers["slack"]["webhook_url"] = url
	}

	setBool(&cfg.MCP.Enabled, "TOOLGATE_MCP_ENABLED")
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
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	if cfg.Engine.PollInterval <= 0 {
		return errors.New("engine.poll_interval must be > 0")
	}
	if cfg.Engine.ToolTimeout <= 0 {
		return errors.New("engine.tool_timeout must be > 0")
	}
	if cfg.Engine.ReplayBatch < 1 {
		return errors.New("engine.replay_batch must be >= 1")
	}
	if cfg.RateLimit.Window <= 0 {
		return errors.New("ratelimit.window must be > 0")
	}
	if cfg.RateLimit.MaxCalls < 1 {
		return errors.New("ratelimit.max_calls must be >= 1")
	}
	if cfg.Budget.MaxCommitRetries < 1 {
		return errors.New("budget.max_commit_retries must be >= 1")
	}
	if cfg.OTEL.SampleRate < 0 || cfg.OTEL.SampleRate > 1 {
		return errors.New("otel.sample_rate must be in [0,1]")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setStringSlice(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	*dst = out
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
