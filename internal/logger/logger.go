// Package logger is the process-wide structured logger for the rules engine,
// its server and its CLIs.
//
// Output is JSON on stdout, or OpenTelemetry logs over OTLP/gRPC when
// OTEL_ENABLED=true. Warnings and errors are sampled; the counters exposed by
// Counters are incremented for every call regardless of sampling.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

type Level = slog.Level

const (
	LevelDebug   = slog.LevelDebug
	LevelInfo    = slog.LevelInfo
	LevelWarning = slog.LevelWarn
	LevelError   = slog.LevelError
	LevelFatal   = slog.Level(12)
)

const (
	// DefaultServiceName is reported as service.name when OTEL logging is on.
	DefaultServiceName = "businessrules"
	// DefaultSampleRate logs 1% of warnings and errors.
	DefaultSampleRate = 100
)

// Options selects the logger backend and verbosity.
type Options struct {
	Level Level
	// SampleRate keeps 1 of every SampleRate warnings and errors. Values <= 1
	// keep everything.
	SampleRate  int
	OTELEnabled bool
	ServiceName string
	// Output receives JSON records; nil means stdout.
	Output io.Writer
}

var (
	Logger       *slog.Logger
	programLevel = new(slog.LevelVar)
	sampleRate   atomic.Int32

	mu           sync.Mutex
	shutdownFunc func(context.Context) error
)

// Counters, incremented regardless of sampling.
var (
	TotalErrors   atomic.Int64
	TotalWarnings atomic.Int64

	// RuleFailures counts rule evaluations that ended in ERROR.
	RuleFailures atomic.Int64
	// ShortCircuits counts rule set runs halted by a CRITICAL rule.
	ShortCircuits atomic.Int64
	// AuditDropped counts audit events discarded because the dispatch queue was full.
	AuditDropped atomic.Int64

	Requests5xx  atomic.Int64
	Requests4xx  atomic.Int64
	SlowRequests atomic.Int64
)

func init() {
	if err := Configure(OptionsFromEnv()); err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v, falling back to JSON\n", err)
	}
}

// OptionsFromEnv reads LOG_LEVEL, ERROR_SAMPLE_RATE, OTEL_ENABLED and
// OTEL_SERVICE_NAME. Unset or malformed values keep their defaults.
func OptionsFromEnv() Options {
	opts := Options{Level: LevelInfo, SampleRate: DefaultSampleRate, ServiceName: DefaultServiceName}
	if level, err := ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		opts.Level = level
	}
	if rate, err := strconv.Atoi(os.Getenv("ERROR_SAMPLE_RATE")); err == nil && rate > 0 {
		opts.SampleRate = rate
	}
	opts.OTELEnabled = strings.EqualFold(os.Getenv("OTEL_ENABLED"), "true")
	if name := os.Getenv("OTEL_SERVICE_NAME"); name != "" {
		opts.ServiceName = name
	}
	return opts
}

// Configure replaces the process logger. A previous OTEL provider is shut
// down first. If the OTEL pipeline cannot be built the JSON handler is
// installed and the error returned.
func Configure(opts Options) error {
	mu.Lock()
	defer mu.Unlock()

	if shutdownFunc != nil {
		_ = shutdownFunc(context.Background())
		shutdownFunc = nil
	}

	programLevel.Set(opts.Level)
	rate := opts.SampleRate
	if rate < 1 {
		rate = 1
	}
	sampleRate.Store(int32(rate))

	var (
		handler slog.Handler
		err     error
	)
	if opts.OTELEnabled {
		handler, shutdownFunc, err = otelHandler(context.Background(), opts.ServiceName)
	}
	if handler == nil {
		out := opts.Output
		if out == nil {
			out = os.Stdout
		}
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: programLevel})
	}

	Logger = slog.New(&sampler{next: handler})
	slog.SetDefault(Logger)
	return err
}

func otelHandler(ctx context.Context, serviceName string) (slog.Handler, func(context.Context) error, error) {
	if serviceName == "" {
		serviceName = DefaultServiceName
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create resource: %w", err)
	}
	exporter, err := otlploggrpc.New(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}
	provider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
	)
	// The bridge has no level of its own.
	h := &levelFilter{level: programLevel, next: otelslog.NewHandler(serviceName, otelslog.WithLoggerProvider(provider))}
	return h, provider.Shutdown, nil
}

type levelFilter struct {
	level slog.Leveler
	next  slog.Handler
}

func (h *levelFilter) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *levelFilter) Handle(ctx context.Context, r slog.Record) error {
	return h.next.Handle(ctx, r)
}

func (h *levelFilter) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelFilter{level: h.level, next: h.next.WithAttrs(attrs)}
}

func (h *levelFilter) WithGroup(name string) slog.Handler {
	return &levelFilter{level: h.level, next: h.next.WithGroup(name)}
}

// sampler drops all but 1 in sampleRate WARN and ERROR records. Records at
// FATAL and below WARN always pass.
type sampler struct {
	next slog.Handler
}

func (h *sampler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *sampler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= LevelWarning && r.Level < LevelFatal && !keep() {
		return nil
	}
	return h.next.Handle(ctx, r)
}

func (h *sampler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &sampler{next: h.next.WithAttrs(attrs)}
}

func (h *sampler) WithGroup(name string) slog.Handler {
	return &sampler{next: h.next.WithGroup(name)}
}

func keep() bool {
	rate := sampleRate.Load()
	return rate <= 1 || rand.Intn(int(rate)) == 0
}

// Shutdown flushes the OTEL provider, if any.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	defer mu.Unlock()
	if shutdownFunc == nil {
		return nil
	}
	err := shutdownFunc(ctx)
	shutdownFunc = nil
	return err
}

func SetLevel(level Level) {
	programLevel.Set(level)
}

// ParseLevel accepts DEBUG, INFO, WARN/WARNING, ERROR and FATAL in any case.
// An empty string is INFO.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug, nil
	case "", "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarning, nil
	case "ERROR":
		return LevelError, nil
	case "FATAL":
		return LevelFatal, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

func Debug(msg string, args ...any) {
	Logger.Debug(msg, args...)
}

func Info(msg string, args ...any) {
	Logger.Info(msg, args...)
}

// Warn counts the warning and logs it subject to sampling.
func Warn(msg string, args ...any) {
	TotalWarnings.Add(1)
	Logger.Warn(msg, args...)
}

// Error counts the error and logs it subject to sampling.
func Error(msg string, args ...any) {
	TotalErrors.Add(1)
	Logger.Error(msg, args...)
}

// Fatal logs msg, flushes OTEL and exits with status 1.
func Fatal(msg string, args ...any) {
	Logger.Log(context.Background(), LevelFatal, msg, args...)
	_ = Shutdown(context.Background())
	os.Exit(1)
}

// ErrorRule logs a rule evaluation that ended in ERROR.
func ErrorRule(ruleName string, err error) {
	RuleFailures.Add(1)
	Error("rule execution failed", "rule", ruleName, "error", err)
}

// WarnShortCircuit logs a rule set halted by a failing CRITICAL rule.
func WarnShortCircuit(ruleType, ruleName string) {
	ShortCircuits.Add(1)
	Warn("critical rule failed, stopping rule set", "rule_type", ruleType, "rule", ruleName)
}

// CountRequest feeds the HTTP counters. It does not log; the request logger
// middleware does that at DEBUG.
func CountRequest(status int, slow bool) {
	switch {
	case status >= 500:
		Requests5xx.Add(1)
		TotalErrors.Add(1)
	case status >= 400:
		Requests4xx.Add(1)
		TotalWarnings.Add(1)
	}
	if slow {
		SlowRequests.Add(1)
		TotalWarnings.Add(1)
	}
}

// Counters returns a snapshot of every counter keyed by name.
func Counters() map[string]int64 {
	return map[string]int64{
		"errors":         TotalErrors.Load(),
		"warnings":       TotalWarnings.Load(),
		"rule_failures":  RuleFailures.Load(),
		"short_circuits": ShortCircuits.Load(),
		"audit_dropped":  AuditDropped.Load(),
		"http_5xx":       Requests5xx.Load(),
		"http_4xx":       Requests4xx.Load(),
		"slow_requests":  SlowRequests.Load(),
	}
}
