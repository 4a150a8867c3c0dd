package rules

import (
	"context"
	"time"

	"github.com/liamcoop/businessrules/internal/logger"
)

// DefaultTriggeredBy is recorded on executions when neither the options nor the context
// name a caller.
const DefaultTriggeredBy = "system"

// Notifier delivers notifications produced by notify actions.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// LogNotifier writes notifications to the structured log.
type LogNotifier struct{}

// Notify logs n at info level.
func (LogNotifier) Notify(ctx context.Context, n Notification) error {
	logger.Info("rule notification",
		"type", n.Type,
		"rule_id", n.RuleID,
		"message", n.Message,
		"recipients", n.Recipients,
	)
	return nil
}

// EngineOptions configures an Engine. Every field is optional.
type EngineOptions struct {
	// Cache holds the active rule set per type. Nil selects an InMemoryRulesCache
	// with DefaultCacheConfig.
	Cache RulesCache

	// DisableCache makes every ExecuteRules call read the store.
	DisableCache bool

	// Expressions evaluates calculate actions. Nil selects a CELExpressionEvaluator.
	Expressions ExpressionEvaluator

	// ExpressionCostLimit is passed to the default CEL evaluator.
	ExpressionCostLimit uint64

	// Notifier receives notify action output. Nil drops notifications after recording
	// them in the result.
	Notifier Notifier

	// Audit receives lifecycle and execution events.
	Audit *AuditDispatcher

	// Metrics records engine activity.
	Metrics *Metrics

	// TriggeredBy is recorded on executions when the context has no UserID.
	TriggeredBy string

	// Now overrides the clock.
	Now func() time.Time
}
