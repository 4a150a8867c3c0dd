package config

import (
	"time"

	"github.com/liamcoop/businessrules/internal/logger"
	"github.com/liamcoop/businessrules/rules"
	"github.com/liamcoop/businessrules/ruletest"
)

// Default values for configuration fields.
const (
	// Database defaults
	DefaultMaxOpenConns    = 25
	DefaultMaxIdleConns    = 5
	DefaultConnMaxLifetime = 5 * time.Minute

	// Server defaults
	DefaultPort                 = 8080
	DefaultReadTimeout          = 15 * time.Second
	DefaultWriteTimeout         = 30 * time.Second
	DefaultShutdownTimeout      = 15 * time.Second
	DefaultSlowRequestThreshold = 500 * time.Millisecond
	DefaultMaxBodyBytes         = 1 << 20 // 1MB

	// Engine defaults
	DefaultTestCaseTimeout     = ruletest.DefaultCaseTimeout
	DefaultSuiteConcurrency    = ruletest.DefaultSuiteConcurrency
	DefaultExpressionCostLimit = rules.DefaultExpressionCostLimit
	DefaultAuditBufferSize     = rules.DefaultAuditBufferSize
	DefaultTriggeredBy         = rules.DefaultTriggeredBy

	// Logging defaults
	DefaultLogLevel       = "INFO"
	DefaultLogSampleRate  = logger.DefaultSampleRate
	DefaultLogServiceName = logger.DefaultServiceName

	// Metrics defaults
	DefaultMetricsEnabled   = true
	DefaultMetricsPath      = "/metrics"
	DefaultMetricsNamespace = "businessrules"
)

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.Metrics.Enabled = DefaultMetricsEnabled
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields. Booleans are left as they are.
func ApplyDefaults(cfg *Config) {
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = DefaultMaxOpenConns
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = DefaultMaxIdleConns
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = DefaultConnMaxLifetime
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.SlowRequestThreshold == 0 {
		cfg.Server.SlowRequestThreshold = DefaultSlowRequestThreshold
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = DefaultMaxBodyBytes
	}

	if cfg.Engine.TestCaseTimeout == 0 {
		cfg.Engine.TestCaseTimeout = DefaultTestCaseTimeout
	}
	if cfg.Engine.SuiteConcurrency == 0 {
		cfg.Engine.SuiteConcurrency = DefaultSuiteConcurrency
	}
	if cfg.Engine.ExpressionCostLimit == 0 {
		cfg.Engine.ExpressionCostLimit = DefaultExpressionCostLimit
	}
	if cfg.Engine.AuditBufferSize == 0 {
		cfg.Engine.AuditBufferSize = DefaultAuditBufferSize
	}
	if cfg.Engine.TriggeredBy == "" {
		cfg.Engine.TriggeredBy = DefaultTriggeredBy
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Logging.SampleRate == 0 {
		cfg.Logging.SampleRate = DefaultLogSampleRate
	}
	if cfg.Logging.ServiceName == "" {
		cfg.Logging.ServiceName = DefaultLogServiceName
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}
}
