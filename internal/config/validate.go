package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/liamcoop/businessrules/internal/logger"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "server.port").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError collects every FieldError found in a configuration.
type ValidationError struct {
	Errors []FieldError
}

func (e ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "configuration validation failed with %d errors:\n", len(e.Errors))
	for _, err := range e.Errors {
		fmt.Fprintf(&sb, "  - %s\n", err.Error())
	}
	return sb.String()
}

// Validate checks the configuration and returns a ValidationError listing every problem.
func Validate(cfg *Config) error {
	var errs []FieldError
	add := func(field, format string, args ...any) {
		errs = append(errs, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if cfg.Database.URL != "" {
		u, err := url.Parse(cfg.Database.URL)
		if err != nil {
			add("database.url", "invalid URL: %v", err)
		} else if u.Scheme != "postgres" && u.Scheme != "postgresql" {
			add("database.url", "scheme must be postgres or postgresql, got %q", u.Scheme)
		}
	}
	if cfg.Database.MaxOpenConns < 0 {
		add("database.max_open_conns", "must not be negative")
	}
	if cfg.Database.MaxIdleConns > cfg.Database.MaxOpenConns {
		add("database.max_idle_conns", "must not exceed max_open_conns (%d)", cfg.Database.MaxOpenConns)
	}

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		add("server.port", "must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	if cfg.Server.MaxBodyBytes < 0 {
		add("server.max_body_bytes", "must not be negative")
	}

	if cfg.Engine.CacheTTL < 0 {
		add("engine.cache_ttl", "must not be negative")
	}
	if cfg.Engine.TestCaseTimeout < 0 {
		add("engine.test_case_timeout", "must not be negative")
	}
	if cfg.Engine.SuiteConcurrency < 1 {
		add("engine.suite_concurrency", "must be at least 1, got %d", cfg.Engine.SuiteConcurrency)
	}
	if cfg.Engine.AuditBufferSize < 1 {
		add("engine.audit_buffer_size", "must be at least 1, got %d", cfg.Engine.AuditBufferSize)
	}

	if _, err := logger.ParseLevel(cfg.Logging.Level); err != nil {
		add("logging.level", "%v", err)
	}
	if cfg.Logging.SampleRate < 1 {
		add("logging.sample_rate", "must be at least 1, got %d", cfg.Logging.SampleRate)
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		add("metrics.path", "must start with /, got %q", cfg.Metrics.Path)
	}

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}
