// Package config loads service configuration from YAML with environment overrides.
package config

import (
	"time"

	"github.com/liamcoop/businessrules/internal/logger"
	"github.com/liamcoop/businessrules/rules"
	"github.com/liamcoop/businessrules/ruletest"
)

// Config is the root configuration for the rules service and CLI.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Server   ServerConfig   `yaml:"server"`
	Engine   EngineConfig   `yaml:"engine"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// DatabaseConfig selects the rule store. An empty URL selects the in-memory store.
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	// AutoMigrate applies the embedded migrations on startup.
	AutoMigrate bool `yaml:"auto_migrate"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port                 int           `yaml:"port"`
	ReadTimeout          time.Duration `yaml:"read_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	ShutdownTimeout      time.Duration `yaml:"shutdown_timeout"`
	SlowRequestThreshold time.Duration `yaml:"slow_request_threshold"`
	MaxBodyBytes         int64         `yaml:"max_body_bytes"`
}

// EngineConfig tunes the rule engine and the test runner.
type EngineConfig struct {
	// CacheTTL expires cached rule sets. Zero keeps them until the next mutation.
	CacheTTL            time.Duration `yaml:"cache_ttl"`
	DisableCache        bool          `yaml:"disable_cache"`
	TestCaseTimeout     time.Duration `yaml:"test_case_timeout"`
	SuiteConcurrency    int           `yaml:"suite_concurrency"`
	ExpressionCostLimit uint64        `yaml:"expression_cost_limit"`
	AuditBufferSize     int           `yaml:"audit_buffer_size"`
	TriggeredBy         string        `yaml:"triggered_by"`
}

// LoggingConfig configures internal/logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
	// SampleRate keeps 1 in SampleRate warnings and errors.
	SampleRate  int    `yaml:"sample_rate"`
	OTELEnabled bool   `yaml:"otel_enabled"`
	ServiceName string `yaml:"service_name"`
}

// LoggerOptions converts the section for logger.Configure. The level must
// already have passed Validate.
func (c LoggingConfig) LoggerOptions() logger.Options {
	level, _ := logger.ParseLevel(c.Level)
	return logger.Options{
		Level:       level,
		SampleRate:  c.SampleRate,
		OTELEnabled: c.OTELEnabled,
		ServiceName: c.ServiceName,
	}
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// Options builds engine options from the configuration. Metrics, audit and notifier are
// supplied by the caller because they own process-level resources.
func (c EngineConfig) Options() rules.EngineOptions {
	opts := rules.EngineOptions{
		DisableCache:        c.DisableCache,
		ExpressionCostLimit: c.ExpressionCostLimit,
		TriggeredBy:         c.TriggeredBy,
	}
	if !c.DisableCache {
		opts.Cache = rules.NewInMemoryRulesCache(rules.CacheConfig{TTL: c.CacheTTL})
	}
	return opts
}

// RunnerOptions builds test runner options from the configuration.
func (c EngineConfig) RunnerOptions() ruletest.RunnerOptions {
	return ruletest.RunnerOptions{
		CaseTimeout: c.TestCaseTimeout,
		Concurrency: c.SuiteConcurrency,
	}
}
