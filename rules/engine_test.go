package rules

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestEngine(t *testing.T, opts EngineOptions) (*Engine, *InMemoryRuleStore) {
	t.Helper()
	store := NewInMemoryRuleStore()
	engine, err := NewEngine(store, opts)
	if err != nil {
		t.Fatalf("NewEngine() failed: %v", err)
	}
	return engine, store
}

// createActiveRule creates a rule whose version 1 is activated.
func createActiveRule(t *testing.T, engine *Engine, in CreateRuleInput) *BusinessRule {
	t.Helper()
	ctx := context.Background()
	if in.Type == "" {
		in.Type = RuleTypeCoverage
	}
	rule, err := engine.CreateRule(ctx, in)
	if err != nil {
		t.Fatalf("CreateRule(%s) failed: %v", in.Name, err)
	}
	rule, err = engine.ActivateRuleVersion(ctx, rule.ID, 1, "test")
	if err != nil {
		t.Fatalf("ActivateRuleVersion(%s) failed: %v", in.Name, err)
	}
	return rule
}

func positiveAmount(field string) []RuleAction {
	return []RuleAction{{Type: ActionValidate, Parameters: map[string]any{"field": field, "validation": "positive"}}}
}

func dataContext(data map[string]any) *RuleContext {
	return &RuleContext{EntityType: "claim", EntityID: "c-1", Data: data}
}

// TestNewEngine verifies constructor defaults and the nil store check
func TestNewEngine(t *testing.T) {
	if _, err := NewEngine(nil, EngineOptions{}); err == nil {
		t.Error("NewEngine(nil) should fail")
	}

	engine, store := newTestEngine(t, EngineOptions{})
	if engine.Store() != store {
		t.Error("Store() should return the configured store")
	}
	if engine.Metrics() != nil {
		t.Error("Metrics() should be nil when not configured")
	}
	if _, ok := engine.expressions.(*CELExpressionEvaluator); !ok {
		t.Errorf("default expressions = %T, want *CELExpressionEvaluator", engine.expressions)
	}
	if engine.cache == nil {
		t.Error("cache should default to an in-memory cache")
	}

	engine, _ = newTestEngine(t, EngineOptions{DisableCache: true})
	if engine.cache != nil {
		t.Error("DisableCache should leave the cache unset")
	}
}

// TestExecuteRulesEmpty verifies a type with no active rules is valid
func TestExecuteRulesEmpty(t *testing.T) {
	engine, _ := newTestEngine(t, EngineOptions{})

	result, err := engine.ExecuteRules(context.Background(), RuleTypePricing, dataContext(map[string]any{}))
	if err != nil {
		t.Fatalf("ExecuteRules() error = %v", err)
	}
	if !result.IsValid || len(result.Errors) != 0 || len(result.ExecutedRules) != 0 {
		t.Errorf("result = %+v, want valid and empty", result)
	}
}

// TestExecuteRulesPriorityOrder verifies CRITICAL runs first and ties keep creation order
func TestExecuteRulesPriorityOrder(t *testing.T) {
	engine, _ := newTestEngine(t, EngineOptions{})

	createActiveRule(t, engine, CreateRuleInput{Name: "low", Priority: PriorityLow})
	createActiveRule(t, engine, CreateRuleInput{Name: "medium-a", Priority: PriorityMedium})
	createActiveRule(t, engine, CreateRuleInput{Name: "critical", Priority: PriorityCritical})
	createActiveRule(t, engine, CreateRuleInput{Name: "medium-b", Priority: PriorityMedium})
	createActiveRule(t, engine, CreateRuleInput{Name: "high", Priority: PriorityHigh})

	result, err := engine.ExecuteRules(context.Background(), RuleTypeCoverage, dataContext(map[string]any{}))
	if err != nil {
		t.Fatalf("ExecuteRules() error = %v", err)
	}

	want := []string{"critical", "high", "medium-a", "medium-b", "low"}
	if strings.Join(result.ExecutedRules, ",") != strings.Join(want, ",") {
		t.Errorf("ExecutedRules = %v, want %v", result.ExecutedRules, want)
	}
	if !result.IsValid {
		t.Errorf("IsValid = false, errors = %v", result.Errors)
	}
}

// TestExecuteRulesCriticalShortCircuit verifies a failing CRITICAL rule stops the run
func TestExecuteRulesCriticalShortCircuit(t *testing.T) {
	engine, _ := newTestEngine(t, EngineOptions{})

	createActiveRule(t, engine, CreateRuleInput{
		Name:         "claim-amount-required",
		Priority:     PriorityCritical,
		VersionInput: VersionInput{Actions: positiveAmount("claimAmount")},
	})
	createActiveRule(t, engine, CreateRuleInput{
		Name:         "deductible-positive",
		Priority:     PriorityHigh,
		VersionInput: VersionInput{Actions: positiveAmount("deductible")},
	})

	result, err := engine.ExecuteRules(context.Background(), RuleTypeCoverage, dataContext(map[string]any{"claimAmount": -5.0}))
	if err != nil {
		t.Fatalf("ExecuteRules() error = %v", err)
	}
	if result.IsValid {
		t.Error("IsValid should be false")
	}
	if len(result.ExecutedRules) != 1 || result.ExecutedRules[0] != "claim-amount-required" {
		t.Errorf("ExecutedRules = %v, want only the critical rule", result.ExecutedRules)
	}
	if result.StoppedBy != "claim-amount-required" {
		t.Errorf("StoppedBy = %q", result.StoppedBy)
	}
	if len(result.Errors) != 1 || result.Errors[0] != "Field claimAmount must be a positive number" {
		t.Errorf("Errors = %v", result.Errors)
	}
}

// TestExecuteRulesNonCriticalFailureContinues verifies lower priorities do not halt the run
func TestExecuteRulesNonCriticalFailureContinues(t *testing.T) {
	engine, _ := newTestEngine(t, EngineOptions{})

	createActiveRule(t, engine, CreateRuleInput{
		Name:         "amount-positive",
		Priority:     PriorityHigh,
		VersionInput: VersionInput{Actions: positiveAmount("claimAmount")},
	})
	createActiveRule(t, engine, CreateRuleInput{
		Name:         "deductible-positive",
		Priority:     PriorityLow,
		VersionInput: VersionInput{Actions: positiveAmount("deductible")},
	})

	result, err := engine.ExecuteRules(context.Background(), RuleTypeCoverage, dataContext(map[string]any{}))
	if err != nil {
		t.Fatalf("ExecuteRules() error = %v", err)
	}
	if len(result.ExecutedRules) != 2 {
		t.Errorf("ExecutedRules = %v, want both", result.ExecutedRules)
	}
	if len(result.Errors) != 2 || result.StoppedBy != "" {
		t.Errorf("Errors = %v StoppedBy = %q", result.Errors, result.StoppedBy)
	}
}

// TestExecuteRulesConditionsNotMet verifies unmatched rules warn without failing
func TestExecuteRulesConditionsNotMet(t *testing.T) {
	engine, _ := newTestEngine(t, EngineOptions{})

	createActiveRule(t, engine, CreateRuleInput{
		Name:     "large-claim",
		Priority: PriorityCritical,
		VersionInput: VersionInput{
			Conditions: []RuleCondition{{Operator: OpGreaterThan, Field: "claimAmount", Value: 10000}},
			Actions:    positiveAmount("missing"),
		},
	})

	result, err := engine.ExecuteRules(context.Background(), RuleTypeCoverage, dataContext(map[string]any{"claimAmount": 50.0}))
	if err != nil {
		t.Fatalf("ExecuteRules() error = %v", err)
	}
	if !result.IsValid {
		t.Errorf("IsValid = false, errors = %v", result.Errors)
	}
	if len(result.Warnings) != 1 || result.Warnings[0] != ConditionsNotMet {
		t.Errorf("Warnings = %v, want [%q]", result.Warnings, ConditionsNotMet)
	}
}

// TestExecuteRulesExecutionError verifies per-rule errors are reported with the rule name
func TestExecuteRulesExecutionError(t *testing.T) {
	engine, _ := newTestEngine(t, EngineOptions{})

	createActiveRule(t, engine, CreateRuleInput{
		Name:     "custom-check",
		Priority: PriorityHigh,
		VersionInput: VersionInput{
			Conditions: []RuleCondition{{Operator: OpCustom, CustomFunction: "fraudScore"}},
		},
	})
	createActiveRule(t, engine, CreateRuleInput{Name: "always-ok", Priority: PriorityLow})

	result, err := engine.ExecuteRules(context.Background(), RuleTypeCoverage, dataContext(map[string]any{}))
	if err != nil {
		t.Fatalf("ExecuteRules() error = %v", err)
	}
	if len(result.Errors) != 1 || !strings.HasPrefix(result.Errors[0], "Rule custom-check execution failed: ") {
		t.Errorf("Errors = %v", result.Errors)
	}
	if len(result.ExecutedRules) != 2 {
		t.Errorf("ExecutedRules = %v, want both rules attempted", result.ExecutedRules)
	}
}

// TestExecuteRulesCriticalErrorStops verifies an execution error in a CRITICAL rule stops the run
func TestExecuteRulesCriticalErrorStops(t *testing.T) {
	engine, _ := newTestEngine(t, EngineOptions{})

	createActiveRule(t, engine, CreateRuleInput{
		Name:     "critical-custom",
		Priority: PriorityCritical,
		VersionInput: VersionInput{
			Actions: []RuleAction{{Type: ActionCustom, CustomFunction: "reinsure"}},
		},
	})
	createActiveRule(t, engine, CreateRuleInput{Name: "after", Priority: PriorityLow})

	result, err := engine.ExecuteRules(context.Background(), RuleTypeCoverage, dataContext(map[string]any{}))
	if err != nil {
		t.Fatalf("ExecuteRules() error = %v", err)
	}
	if result.StoppedBy != "critical-custom" || len(result.ExecutedRules) != 1 {
		t.Errorf("StoppedBy = %q ExecutedRules = %v", result.StoppedBy, result.ExecutedRules)
	}
}

// TestExecuteRulesSkipsInactiveAndDisabled verifies only ACTIVE, enabled rules of the type run
func TestExecuteRulesSkipsInactiveAndDisabled(t *testing.T) {
	engine, _ := newTestEngine(t, EngineOptions{})
	ctx := context.Background()

	createActiveRule(t, engine, CreateRuleInput{Name: "active"})
	if _, err := engine.CreateRule(ctx, CreateRuleInput{Name: "draft", Type: RuleTypeCoverage}); err != nil {
		t.Fatalf("CreateRule() failed: %v", err)
	}
	disabled := createActiveRule(t, engine, CreateRuleInput{Name: "disabled"})
	off := false
	if _, err := engine.UpdateRule(ctx, disabled.ID, UpdateRuleInput{IsEnabled: &off}); err != nil {
		t.Fatalf("UpdateRule() failed: %v", err)
	}
	createActiveRule(t, engine, CreateRuleInput{Name: "pricing", Type: RuleTypePricing})

	result, err := engine.ExecuteRules(ctx, RuleTypeCoverage, dataContext(map[string]any{}))
	if err != nil {
		t.Fatalf("ExecuteRules() error = %v", err)
	}
	if len(result.ExecutedRules) != 1 || result.ExecutedRules[0] != "active" {
		t.Errorf("ExecutedRules = %v, want [active]", result.ExecutedRules)
	}
}

// TestExecuteRuleRecordsExecutions verifies one execution log entry per attempt with its status
func TestExecuteRuleRecordsExecutions(t *testing.T) {
	engine, _ := newTestEngine(t, EngineOptions{})
	ctx := context.Background()

	rule := createActiveRule(t, engine, CreateRuleInput{
		Name: "large-claim-positive",
		VersionInput: VersionInput{
			Conditions: []RuleCondition{{Operator: OpGreaterThan, Field: "claimAmount", Value: 1000}},
			Actions:    positiveAmount("deductible"),
		},
	})

	tests := []struct {
		name        string
		data        map[string]any
		userID      string
		wantStatus  ExecutionStatus
		wantSuccess bool
		wantBy      string
	}{
		{"success", map[string]any{"claimAmount": 5000.0, "deductible": 500.0}, "adjuster-1", ExecutionSuccess, true, "adjuster-1"},
		{"failure", map[string]any{"claimAmount": 5000.0, "deductible": 0.0}, "", ExecutionFailure, false, DefaultTriggeredBy},
		{"skipped", map[string]any{"claimAmount": 50.0}, "", ExecutionSkipped, true, DefaultTriggeredBy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rctx := dataContext(tt.data)
			rctx.UserID = tt.userID

			res, err := engine.ExecuteRule(ctx, rule, rctx)
			if err != nil {
				t.Fatalf("ExecuteRule() error = %v", err)
			}
			if res.Success != tt.wantSuccess {
				t.Errorf("Success = %v, want %v", res.Success, tt.wantSuccess)
			}

			history, err := engine.GetExecutionHistory(ctx, rule.ID, 1)
			if err != nil {
				t.Fatalf("GetExecutionHistory() error = %v", err)
			}
			if len(history) != 1 {
				t.Fatalf("history = %d entries, want 1", len(history))
			}
			exec := history[0]
			if exec.Status != tt.wantStatus {
				t.Errorf("Status = %s, want %s", exec.Status, tt.wantStatus)
			}
			if exec.TriggeredBy != tt.wantBy {
				t.Errorf("TriggeredBy = %q, want %q", exec.TriggeredBy, tt.wantBy)
			}
			if exec.RuleVersion != 1 || exec.EntityType != "claim" || exec.EntityID != "c-1" {
				t.Errorf("execution = %+v", exec)
			}
		})
	}

	all, err := engine.GetExecutionHistory(ctx, rule.ID, 0)
	if err != nil {
		t.Fatalf("GetExecutionHistory() error = %v", err)
	}
	if len(all) != 3 || all[0].Status != ExecutionSkipped {
		t.Errorf("history should hold 3 entries newest first, got %d", len(all))
	}

	if _, err := engine.GetExecutionHistory(ctx, "missing", 10); !errors.Is(err, ErrNotFound) {
		t.Errorf("history for missing rule error = %v, want ErrNotFound", err)
	}
}

// TestExecuteRuleNoActiveVersion verifies rules outside their effective window record an ERROR
func TestExecuteRuleNoActiveVersion(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	engine, _ := newTestEngine(t, EngineOptions{Now: func() time.Time { return now }})
	ctx := context.Background()

	expired := now.Add(-time.Hour)
	rule := createActiveRule(t, engine, CreateRuleInput{
		Name:         "expired",
		VersionInput: VersionInput{ExpiryDate: &expired},
	})

	_, err := engine.ExecuteRule(ctx, rule, dataContext(map[string]any{}))
	if !errors.Is(err, ErrNoActiveVersion) {
		t.Fatalf("ExecuteRule() error = %v, want ErrNoActiveVersion", err)
	}

	history, err := engine.GetExecutionHistory(ctx, rule.ID, 0)
	if err != nil {
		t.Fatalf("GetExecutionHistory() error = %v", err)
	}
	if len(history) != 1 || history[0].Status != ExecutionError || history[0].ErrorMessage == "" {
		t.Errorf("history = %+v, want one ERROR entry with a message", history)
	}

	draft, err := engine.CreateRule(ctx, CreateRuleInput{Name: "never-activated", Type: RuleTypeCoverage})
	if err != nil {
		t.Fatalf("CreateRule() failed: %v", err)
	}
	if _, err := engine.ExecuteRule(ctx, draft, dataContext(nil)); !errors.Is(err, ErrNoActiveVersion) {
		t.Errorf("draft rule error = %v, want ErrNoActiveVersion", err)
	}
}

// TestExecuteRuleNotifications verifies notify output reaches the Notifier tagged with the rule
func TestExecuteRuleNotifications(t *testing.T) {
	var mu sync.Mutex
	var got []Notification
	notifier := NotifierFunc(func(ctx context.Context, n Notification) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, n)
		return nil
	})

	engine, _ := newTestEngine(t, EngineOptions{Notifier: notifier})
	rule := createActiveRule(t, engine, CreateRuleInput{
		Name: "notify-large",
		VersionInput: VersionInput{
			Actions: []RuleAction{{Type: ActionNotify, Parameters: map[string]any{"type": "email", "message": "large claim"}}},
		},
	})

	res, err := engine.ExecuteRule(context.Background(), rule, dataContext(map[string]any{}))
	if err != nil {
		t.Fatalf("ExecuteRule() error = %v", err)
	}
	if len(res.Notifications) != 1 || res.Notifications[0].RuleID != rule.ID {
		t.Errorf("result notifications = %+v", res.Notifications)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].Message != "large claim" || got[0].RuleID != rule.ID {
		t.Errorf("delivered = %+v", got)
	}
}

// TestEvaluateVersionDryRun verifies EvaluateVersion records nothing
func TestEvaluateVersionDryRun(t *testing.T) {
	engine, store := newTestEngine(t, EngineOptions{})
	ctx := context.Background()

	rule := createActiveRule(t, engine, CreateRuleInput{Name: "dry", VersionInput: VersionInput{Actions: positiveAmount("x")}})
	version, err := engine.GetActiveVersion(ctx, rule.ID)
	if err != nil {
		t.Fatalf("GetActiveVersion() error = %v", err)
	}

	res, matched, err := engine.EvaluateVersion(ctx, version, dataContext(map[string]any{"x": 1.0}))
	if err != nil || !matched || !res.Success {
		t.Fatalf("EvaluateVersion() = (%+v, %v, %v)", res, matched, err)
	}

	history, _ := store.ListExecutions(ctx, rule.ID, 0)
	if len(history) != 0 {
		t.Errorf("dry run recorded %d executions", len(history))
	}
}

// failingStore fails RecordExecution and counts active rule reads.
type failingStore struct {
	*InMemoryRuleStore
	failRecord  atomic.Bool
	activeReads atomic.Int64
}

func (s *failingStore) ListActiveRules(ctx context.Context, ruleType RuleType) ([]*BusinessRule, error) {
	s.activeReads.Add(1)
	return s.InMemoryRuleStore.ListActiveRules(ctx, ruleType)
}

func (s *failingStore) RecordExecution(ctx context.Context, exec *RuleExecution) error {
	if s.failRecord.Load() {
		return errors.New("connection reset")
	}
	return s.InMemoryRuleStore.RecordExecution(ctx, exec)
}

// TestExecuteRulesStoreFailure verifies store failures propagate instead of being folded into the result
func TestExecuteRulesStoreFailure(t *testing.T) {
	store := &failingStore{InMemoryRuleStore: NewInMemoryRuleStore()}
	engine, err := NewEngine(store, EngineOptions{})
	if err != nil {
		t.Fatalf("NewEngine() failed: %v", err)
	}
	createActiveRule(t, engine, CreateRuleInput{Name: "any"})

	store.failRecord.Store(true)
	_, err = engine.ExecuteRules(context.Background(), RuleTypeCoverage, dataContext(map[string]any{}))
	if !errors.Is(err, ErrStore) {
		t.Fatalf("ExecuteRules() error = %v, want ErrStore", err)
	}
	var serr *StoreError
	if !errors.As(err, &serr) || serr.Op != "record execution" {
		t.Errorf("error = %#v, want StoreError for record execution", err)
	}
}

// TestExecuteRulesCache verifies the active set is cached and invalidated by lifecycle changes
func TestExecuteRulesCache(t *testing.T) {
	store := &failingStore{InMemoryRuleStore: NewInMemoryRuleStore()}
	engine, err := NewEngine(store, EngineOptions{})
	if err != nil {
		t.Fatalf("NewEngine() failed: %v", err)
	}
	ctx := context.Background()
	createActiveRule(t, engine, CreateRuleInput{Name: "first"})

	for i := 0; i < 3; i++ {
		if _, err := engine.ExecuteRules(ctx, RuleTypeCoverage, dataContext(map[string]any{})); err != nil {
			t.Fatalf("ExecuteRules() error = %v", err)
		}
	}
	if reads := store.activeReads.Load(); reads != 1 {
		t.Errorf("store reads = %d, want 1 with a warm cache", reads)
	}

	createActiveRule(t, engine, CreateRuleInput{Name: "second"})
	result, err := engine.ExecuteRules(ctx, RuleTypeCoverage, dataContext(map[string]any{}))
	if err != nil {
		t.Fatalf("ExecuteRules() error = %v", err)
	}
	if len(result.ExecutedRules) != 2 {
		t.Errorf("ExecutedRules = %v, want the new rule after invalidation", result.ExecutedRules)
	}
	if reads := store.activeReads.Load(); reads != 2 {
		t.Errorf("store reads = %d, want 2", reads)
	}
}

// racingCache deactivates a rule just before the first fill lands, the way a
// concurrent lifecycle change would.
type racingCache struct {
	*InMemoryRulesCache
	engine *Engine
	ruleID string
	once   sync.Once
}

func (c *racingCache) Set(ruleType RuleType, rules []*BusinessRule, generation uint64) bool {
	c.once.Do(func() {
		if _, err := c.engine.DeactivateRule(context.Background(), c.ruleID, "test"); err != nil {
			panic(err)
		}
	})
	return c.InMemoryRulesCache.Set(ruleType, rules, generation)
}

// TestExecuteRulesCacheDropsStaleFill verifies a rule set loaded before a mutation is not cached after it
func TestExecuteRulesCacheDropsStaleFill(t *testing.T) {
	cache := &racingCache{InMemoryRulesCache: NewInMemoryRulesCache(DefaultCacheConfig())}
	engine, err := NewEngine(NewInMemoryRuleStore(), EngineOptions{Cache: cache})
	if err != nil {
		t.Fatalf("NewEngine() failed: %v", err)
	}
	ctx := context.Background()
	rule := createActiveRule(t, engine, CreateRuleInput{Name: "r"})
	cache.engine, cache.ruleID = engine, rule.ID

	if _, err := engine.ExecuteRules(ctx, RuleTypeCoverage, dataContext(map[string]any{})); err != nil {
		t.Fatalf("ExecuteRules() error = %v", err)
	}

	result, err := engine.ExecuteRules(ctx, RuleTypeCoverage, dataContext(map[string]any{}))
	if err != nil {
		t.Fatalf("ExecuteRules() error = %v", err)
	}
	if len(result.ExecutedRules) != 0 || !result.IsValid {
		t.Errorf("after deactivate: ExecutedRules = %v, Errors = %v; want the deactivated rule gone", result.ExecutedRules, result.Errors)
	}
}

// TestExecuteRulesCancelled verifies a cancelled context aborts the run
func TestExecuteRulesCancelled(t *testing.T) {
	engine, _ := newTestEngine(t, EngineOptions{})
	createActiveRule(t, engine, CreateRuleInput{Name: "any"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := engine.ExecuteRules(ctx, RuleTypeCoverage, dataContext(map[string]any{})); !errors.Is(err, context.Canceled) {
		t.Errorf("ExecuteRules() error = %v, want context.Canceled", err)
	}
}

// TestEngineConcurrentExecuteAndActivate verifies evaluation and lifecycle changes can interleave
func TestEngineConcurrentExecuteAndActivate(t *testing.T) {
	engine, _ := newTestEngine(t, EngineOptions{})
	ctx := context.Background()

	rule := createActiveRule(t, engine, CreateRuleInput{Name: "flip", VersionInput: VersionInput{Actions: positiveAmount("x")}})
	if _, err := engine.CreateRuleVersion(ctx, rule.ID, VersionInput{Actions: positiveAmount("y")}, "test"); err != nil {
		t.Fatalf("CreateRuleVersion() failed: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 100)
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := engine.ExecuteRules(ctx, RuleTypeCoverage, dataContext(map[string]any{"x": 1.0, "y": 1.0})); err != nil {
				errs <- err
			}
		}()
		go func(v int) {
			defer wg.Done()
			if _, err := engine.ActivateRuleVersion(ctx, rule.ID, v, "test"); err != nil {
				errs <- err
			}
		}(i%2 + 1)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent operation failed: %v", err)
	}

	versions, err := engine.GetRuleVersions(ctx, rule.ID)
	if err != nil {
		t.Fatalf("GetRuleVersions() error = %v", err)
	}
	active := 0
	for _, v := range versions {
		if v.Status == VersionStatusActive {
			active++
		}
	}
	if active != 1 {
		t.Errorf("active versions = %d, want exactly 1", active)
	}
}
