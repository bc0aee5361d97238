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
const DefaultConfigFile = "sentra.yaml"

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
	setString(&cfg.Server.Port, "SENTRA_PORT")
	setString(&cfg.Server.SharedSecret, "SENTRA_SHARED_SECRET")
	setString(&cfg.Server.CORSOrigin, "SENTRA_CORS_ORIGIN")
	setFloat(&cfg.Server.RateLimit, "SENTRA_RATE_LIMIT")
	setInt(&cfg.Server.RateBurst, "SENTRA_RATE_BURST")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "SENTRA_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "SENTRA_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "SENTRA_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "SENTRA_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "SENTRA_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.LiteLLM.URL, "LITELLM_URL")
	setString(&cfg.LiteLLM.MasterKey, "LITELLM_MASTER_KEY")
	setString(&cfg.LiteLLM.Model, "SENTRA_PLANNER_MODEL")
	setInt(&cfg.LiteLLM.MaxTokens, "SENTRA_PLANNER_MAX_TOKENS")
	setString(&cfg.Logging.Level, "SENTRA_LOG_LEVEL")
	setString(&cfg.Logging.Service, "SENTRA_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "SENTRA_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "SENTRA_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "SENTRA_BREAKER_TIMEOUT")

	setString(&cfg.Guardian.PolicyURL, "SENTRA_POLICY_URL")
	setDuration(&cfg.Guardian.PolicyCacheTTL, "SENTRA_POLICY_CACHE_TTL")
	setInt(&cfg.Guardian.BusinessHourStart, "SENTRA_BUSINESS_HOUR_START")
	setInt(&cfg.Guardian.BusinessHourEnd, "SENTRA_BUSINESS_HOUR_END")
	setInt(&cfg.Guardian.MemoryFailureMin, "SENTRA_MEMORY_FAILURE_MIN")

	setString(&cfg.Worker.URL, "SENTRA_WORKER_URL")
	setDuration(&cfg.Worker.Timeout, "SENTRA_WORKER_TIMEOUT")
	setBool(&cfg.Worker.UseSandbox, "SENTRA_WORKER_SANDBOX")
	setInt(&cfg.Worker.MaxParallel, "SENTRA_WORKER_MAX_PARALLEL")

	setDuration(&cfg.Directory.DefaultTTL, "SENTRA_DIRECTORY_TTL")
	setDuration(&cfg.Directory.CleanupInterval, "SENTRA_DIRECTORY_CLEANUP")
	setString(&cfg.Directory.SelfURL, "SENTRA_SELF_URL")

	setInt(&cfg.Telemetry.RingSize, "SENTRA_TELEMETRY_RING_SIZE")

	setDuration(&cfg.Memory.ShortTermTTL, "SENTRA_MEMORY_TTL")
	setString(&cfg.Memory.ChromemPath, "SENTRA_CHROMEM_PATH")

	setString(&cfg.Tickets.Backend, "SENTRA_TICKETS_BACKEND")
	setString(&cfg.Tickets.FilePath, "SENTRA_TICKETS_FILE")

	setBool(&cfg.Tracing.Enabled, "SENTRA_TRACING_ENABLED")
	setString(&cfg.Tracing.Endpoint, "SENTRA_OTLP_ENDPOINT")

	setString(&cfg.Upstream.DirectoryURL, "SENTRA_UPSTREAM_DIRECTORY_URL")
	setString(&cfg.Upstream.ControlURL, "SENTRA_UPSTREAM_CONTROL_URL")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Telemetry.RingSize < 1 {
		return errors.New("telemetry.ring_size must be >= 1")
	}
	if cfg.Guardian.BusinessHourStart < 0 || cfg.Guardian.BusinessHourStart > 23 ||
		cfg.Guardian.BusinessHourEnd < 0 || cfg.Guardian.BusinessHourEnd > 23 {
		return errors.New("guardian business hours must be within 0..23")
	}
	switch cfg.Tickets.Backend {
	case "file", "postgres":
	default:
		return fmt.Errorf("tickets.backend must be file or postgres, got %q", cfg.Tickets.Backend)
	}
	if cfg.Tickets.Backend == "postgres" && cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required for the postgres ticket backend")
	}
	if cfg.Worker.URL == "" && !cfg.Worker.UseSandbox {
		return errors.New("worker.url is required when the sandbox worker is disabled")
	}
	return nil
}

// ToolRuleFor returns the allowlist rule for a tool name, if any.
func (g Guardian) ToolRuleFor(name string) (ToolRule, bool) {
	for _, r := range g.AllowedTools {
		if strings.EqualFold(r.Name, name) {
			return r, true
		}
	}
	return ToolRule{}, false
}

// OffHours reports whether t falls outside the configured business window.
func (g Guardian) OffHours(t time.Time) bool {
	h := t.Hour()
	return h < g.BusinessHourStart || h >= g.BusinessHourEnd
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

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
