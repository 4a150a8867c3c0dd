package rules

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/liamcoop/businessrules/internal/logger"
)

// ConditionsNotMet is the warning added when a rule's conditions do not hold.
const ConditionsNotMet = "Rule conditions not met"

// Engine evaluates versioned business rules and manages their lifecycle.
// It is safe for concurrent use; the only shared mutable state is the store and the
// active-rules cache.
type Engine struct {
	store       RuleStore
	cache       RulesCache
	expressions ExpressionEvaluator
	actions     *ActionExecutor
	notifier    Notifier
	audit       *AuditDispatcher
	metrics     *Metrics
	triggeredBy string
	now         func() time.Time
}

// NewEngine creates a rules engine over store.
func NewEngine(store RuleStore, opts EngineOptions) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("rule store is required")
	}

	expressions := opts.Expressions
	if expressions == nil {
		cel, err := NewCELExpressionEvaluator(opts.ExpressionCostLimit)
		if err != nil {
			return nil, fmt.Errorf("failed to create expression evaluator: %w", err)
		}
		expressions = cel
	}

	cache := opts.Cache
	if cache == nil && !opts.DisableCache {
		cache = NewInMemoryRulesCache(DefaultCacheConfig())
	}

	en := &Engine{
		store:       store,
		cache:       cache,
		expressions: expressions,
		actions:     NewActionExecutor(expressions),
		notifier:    opts.Notifier,
		audit:       opts.Audit,
		metrics:     opts.Metrics,
		triggeredBy: opts.TriggeredBy,
		now:         opts.Now,
	}
	if en.triggeredBy == "" {
		en.triggeredBy = DefaultTriggeredBy
	}
	if en.now == nil {
		en.now = time.Now
	}
	return en, nil
}

// Store returns the engine's rule store.
func (en *Engine) Store() RuleStore {
	return en.store
}

// Metrics returns the configured metrics, possibly nil.
func (en *Engine) Metrics() *Metrics {
	return en.metrics
}

// ExecuteRules runs every active, enabled rule of ruleType against rctx in priority order
// (CRITICAL first, ties in store order) and aggregates the outcome.
//
// A CRITICAL rule that fails, or that cannot be executed, stops the run; the remaining
// rules are not evaluated. Other per-rule errors are reported in the result and the run
// continues. Store failures and context cancellation are returned as errors.
func (en *Engine) ExecuteRules(ctx context.Context, ruleType RuleType, rctx *RuleContext) (*ValidationResult, error) {
	start := en.now()

	rules, err := en.activeRules(ctx, ruleType)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority > rules[j].Priority
	})

	result := &ValidationResult{
		IsValid:       true,
		Errors:        []string{},
		Warnings:      []string{},
		ExecutedRules: []string{},
	}

	for _, rule := range rules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result.ExecutedRules = append(result.ExecutedRules, rule.Name)

		res, err := en.ExecuteRule(ctx, rule, rctx)
		if err != nil {
			if errors.Is(err, ErrStore) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			result.Errors = append(result.Errors, fmt.Sprintf("Rule %s execution failed: %s", rule.Name, err.Error()))
			if rule.IsCritical() {
				en.stop(result, rule)
				break
			}
			continue
		}

		result.Errors = append(result.Errors, res.Errors...)
		result.Warnings = append(result.Warnings, res.Warnings...)

		if !res.Success && rule.IsCritical() {
			en.stop(result, rule)
			break
		}
	}

	result.IsValid = len(result.Errors) == 0
	result.ExecutionTimeMs = en.now().Sub(start).Milliseconds()

	logger.Debug("rule set executed",
		"rule_type", string(ruleType),
		"rules", len(result.ExecutedRules),
		"valid", result.IsValid,
		"duration_ms", result.ExecutionTimeMs,
	)
	return result, nil
}

func (en *Engine) stop(result *ValidationResult, rule *BusinessRule) {
	result.StoppedBy = rule.Name
	logger.WarnShortCircuit(string(rule.Type), rule.Name)
	en.metrics.observeShortCircuit(rule.Type)
}

// activeRules returns the active rule set of a type, reading through the cache.
func (en *Engine) activeRules(ctx context.Context, ruleType RuleType) ([]*BusinessRule, error) {
	if en.cache != nil {
		if cached := en.cache.Get(ruleType); cached != nil {
			return cached, nil
		}
	}

	var gen uint64
	if en.cache != nil {
		gen = en.cache.Generation()
	}
	rules, err := en.store.ListActiveRules(ctx, ruleType)
	if err != nil {
		return nil, err
	}

	// A mutation that committed after the load has invalidated the cache; the
	// stale set is dropped.
	if en.cache != nil && !en.cache.Set(ruleType, rules, gen) {
		logger.Debug("discarded stale rule set", "rule_type", ruleType)
	}
	return rules, nil
}

// invalidate drops the active-rules cache. Called after every lifecycle mutation.
func (en *Engine) invalidate() {
	if en.cache != nil {
		en.cache.Invalidate()
	}
}

// ExecuteRule evaluates the rule's active version against rctx and records exactly one
// RuleExecution for the attempt.
//
// Conditions that do not hold yield a successful result with a "Rule conditions not met"
// warning and a SKIPPED execution. Errors are recorded with status ERROR and returned.
func (en *Engine) ExecuteRule(ctx context.Context, rule *BusinessRule, rctx *RuleContext) (*ExecutionResult, error) {
	start := en.now()

	version, err := en.resolveVersion(ctx, rule)
	if err != nil {
		if recErr := en.record(ctx, rule, nil, rctx, nil, ExecutionError, err, start); recErr != nil {
			return nil, recErr
		}
		return nil, err
	}

	res, matched, err := en.EvaluateVersion(ctx, version, rctx)
	if err != nil {
		if recErr := en.record(ctx, rule, version, rctx, nil, ExecutionError, err, start); recErr != nil {
			return nil, recErr
		}
		return nil, err
	}

	status := ExecutionSuccess
	switch {
	case !matched:
		status = ExecutionSkipped
	case !res.Success:
		status = ExecutionFailure
	}

	if err := en.record(ctx, rule, version, rctx, res, status, nil, start); err != nil {
		return nil, err
	}

	en.dispatch(ctx, res.Notifications)
	return res, nil
}

// resolveVersion returns the rule's ACTIVE version if it is within its effective window.
func (en *Engine) resolveVersion(ctx context.Context, rule *BusinessRule) (*RuleVersion, error) {
	version, err := en.store.GetActiveVersion(ctx, rule.ID)
	if err != nil {
		if errors.Is(err, ErrNoActiveVersion) {
			return nil, fmt.Errorf("%w for rule %s", ErrNoActiveVersion, rule.Name)
		}
		return nil, err
	}

	if !version.InEffect(en.now()) {
		return nil, fmt.Errorf("%w for rule %s: version %d is outside its effective window", ErrNoActiveVersion, rule.Name, version.Version)
	}
	return version, nil
}

// EvaluateVersion runs a version's conditions and actions against rctx without recording
// an execution or delivering notifications. matched reports whether the conditions held.
//
// When the conditions do not hold the result is successful and carries the
// "Rule conditions not met" warning.
func (en *Engine) EvaluateVersion(ctx context.Context, version *RuleVersion, rctx *RuleContext) (result *ExecutionResult, matched bool, err error) {
	result = newExecutionResult()

	matched, err = EvaluateConditions(version.Conditions, rctx)
	if err != nil {
		return nil, false, err
	}
	if !matched {
		result.Warnings = append(result.Warnings, ConditionsNotMet)
		return result, false, nil
	}

	for i, action := range version.Actions {
		if err := ctx.Err(); err != nil {
			return nil, true, err
		}
		part, err := en.actions.Execute(ctx, action, rctx)
		if err != nil {
			return nil, true, fmt.Errorf("action %d (%s): %w", i, action.Type, err)
		}
		result.merge(part)
	}

	for i := range result.Notifications {
		result.Notifications[i].RuleID = version.RuleID
	}
	return result, true, nil
}

func (en *Engine) dispatch(ctx context.Context, notifications []Notification) {
	if en.notifier == nil {
		return
	}
	for _, n := range notifications {
		if err := en.notifier.Notify(ctx, n); err != nil {
			logger.Warn("notification delivery failed", "rule_id", n.RuleID, "type", n.Type, "error", err)
		}
	}
}

// record appends the execution log entry for one attempt. A failure to record is returned
// as a store error.
func (en *Engine) record(ctx context.Context, rule *BusinessRule, version *RuleVersion, rctx *RuleContext,
	res *ExecutionResult, status ExecutionStatus, execErr error, start time.Time) error {

	elapsed := en.now().Sub(start)

	exec := &RuleExecution{
		ID:              uuid.New().String(),
		RuleID:          rule.ID,
		Context:         rctx,
		Result:          res,
		Status:          status,
		ExecutionTimeMs: elapsed.Milliseconds(),
		TriggeredBy:     en.triggeredBy,
		ExecutedAt:      start,
	}
	if version != nil {
		exec.RuleVersion = version.Version
	}
	if rctx != nil {
		exec.EntityType = rctx.EntityType
		exec.EntityID = rctx.EntityID
		exec.Metadata = rctx.Metadata
		if rctx.UserID != "" {
			exec.TriggeredBy = rctx.UserID
		}
	}
	if execErr != nil {
		exec.ErrorMessage = execErr.Error()
		logger.ErrorRule(rule.Name, execErr)
	}

	en.metrics.observeExecution(rule.Type, status, elapsed)

	if err := en.store.RecordExecution(ctx, exec); err != nil {
		if errors.Is(err, ErrStore) {
			return err
		}
		return storeError("record execution", err)
	}

	en.audit.Publish(AuditEvent{
		Type:      AuditRuleExecuted,
		RuleID:    rule.ID,
		RuleName:  rule.Name,
		Version:   exec.RuleVersion,
		Actor:     exec.TriggeredBy,
		Timestamp: start,
		Details:   map[string]any{"status": string(status), "executionTimeMs": exec.ExecutionTimeMs},
	})
	return nil
}

// GetExecutionHistory returns the rule's most recent executions, newest first.
// A limit of 0 or less returns every execution.
func (en *Engine) GetExecutionHistory(ctx context.Context, ruleID string, limit int) ([]*RuleExecution, error) {
	if _, err := en.store.GetRule(ctx, ruleID); err != nil {
		return nil, err
	}
	return en.store.ListExecutions(ctx, ruleID, limit)
}
