package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file, applies defaults and environment overrides,
// and validates the result. An empty path loads defaults and environment only.
//
// The loading sequence is:
// 1. Start from Default()
// 2. Overlay the YAML file
// 3. Fill any zero values left by the file
// 4. Apply environment variable overrides
// 5. Validate final configuration
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
		}
		ApplyDefaults(cfg)
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// DATABASE_URL, PORT, LOG_LEVEL and the OTEL_ variables keep their conventional names;
// engine settings use the RULES_ prefix.
func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("DATABASE_URL"); val != "" {
		cfg.Database.URL = val
	}
	if val := os.Getenv("RULES_DATABASE_AUTO_MIGRATE"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Database.AutoMigrate = b
		}
	}
	if val := os.Getenv("PORT"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Server.Port = i
		}
	}
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("ERROR_SAMPLE_RATE"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Logging.SampleRate = i
		}
	}
	if val := os.Getenv("OTEL_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Logging.OTELEnabled = b
		}
	}
	if val := os.Getenv("OTEL_SERVICE_NAME"); val != "" {
		cfg.Logging.ServiceName = val
	}

	if val := os.Getenv("RULES_CACHE_TTL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Engine.CacheTTL = d
		}
	}
	if val := os.Getenv("RULES_DISABLE_CACHE"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Engine.DisableCache = b
		}
	}
	if val := os.Getenv("RULES_TEST_CASE_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Engine.TestCaseTimeout = d
		}
	}
	if val := os.Getenv("RULES_SUITE_CONCURRENCY"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Engine.SuiteConcurrency = i
		}
	}
	if val := os.Getenv("RULES_EXPRESSION_COST_LIMIT"); val != "" {
		if u, err := strconv.ParseUint(val, 10, 64); err == nil {
			cfg.Engine.ExpressionCostLimit = u
		}
	}
	if val := os.Getenv("RULES_AUDIT_BUFFER_SIZE"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Engine.AuditBufferSize = i
		}
	}
	if val := os.Getenv("RULES_METRICS_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Metrics.Enabled = b
		}
	}
}
