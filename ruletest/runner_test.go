package ruletest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/liamcoop/businessrules/rules"
)

func newTestRunner(t *testing.T, engineOpts rules.EngineOptions, opts RunnerOptions) (*Runner, *rules.Engine, *rules.InMemoryRuleStore) {
	t.Helper()
	store := rules.NewInMemoryRuleStore()
	engine, err := rules.NewEngine(store, engineOpts)
	if err != nil {
		t.Fatalf("NewEngine() failed: %v", err)
	}
	return NewRunner(engine, opts), engine, store
}

func createRule(t *testing.T, engine *rules.Engine, in rules.CreateRuleInput, activate bool) *rules.BusinessRule {
	t.Helper()
	if in.Type == "" {
		in.Type = rules.RuleTypePricing
	}
	rule, err := engine.CreateRule(context.Background(), in)
	if err != nil {
		t.Fatalf("CreateRule(%s) error = %v", in.Name, err)
	}
	if activate {
		if rule, err = engine.ActivateRuleVersion(context.Background(), rule.ID, 1, "test"); err != nil {
			t.Fatalf("ActivateRuleVersion(%s) error = %v", in.Name, err)
		}
	}
	return rule
}

func boolp(b bool) *bool { return &b }

func discountVersion() rules.VersionInput {
	return rules.VersionInput{
		Conditions: []rules.RuleCondition{
			{Operator: rules.OpGreaterThan, Field: "age", Value: 64},
		},
		Actions: []rules.RuleAction{
			{Type: rules.ActionCalculate, Parameters: map[string]any{"expression": "double(data.premium) * 0.8", "targetField": "premium"}},
		},
	}
}

// TestExecuteTestSuiteStoredCases verifies fixtures stored with the version are run and summarized
func TestExecuteTestSuiteStoredCases(t *testing.T) {
	runner, engine, store := newTestRunner(t, rules.EngineOptions{}, RunnerOptions{})

	version := discountVersion()
	version.TestCases = []rules.RuleTestCase{
		{
			Name:     "senior discount",
			Context:  rules.RuleContext{Data: map[string]any{"age": 70, "premium": 100}},
			Expected: rules.TestExpectation{Success: boolp(true), Data: map[string]any{"premium": 80}},
		},
		{
			Name:     "too young",
			Context:  rules.RuleContext{Data: map[string]any{"age": 30, "premium": 100}},
			Expected: rules.TestExpectation{Success: boolp(false), Errors: []string{rules.ConditionsNotMet}},
		},
		{
			Name:     "wrong data",
			Context:  rules.RuleContext{Data: map[string]any{"age": 70, "premium": 100}},
			Expected: rules.TestExpectation{Data: map[string]any{"premium": 75}},
		},
		{Name: "not ready", Skip: true},
	}
	rule := createRule(t, engine, rules.CreateRuleInput{Name: "senior-discount", VersionInput: version}, true)

	report, err := runner.ExecuteTestSuite(context.Background(), Suite{RuleID: rule.ID})
	if err != nil {
		t.Fatalf("ExecuteTestSuite() error = %v", err)
	}

	if report.Suite != "senior-discount v1" || report.RuleName != "senior-discount" || report.Version != 1 {
		t.Errorf("report header = %q %q v%d", report.Suite, report.RuleName, report.Version)
	}
	want := Summary{Total: 4, Passed: 2, Failed: 1, Skipped: 1}
	got := report.Summary
	got.ExecutionTimeMs = 0
	if got != want {
		t.Errorf("Summary = %+v, want %+v", got, want)
	}

	statuses := []CaseStatus{CasePassed, CasePassed, CaseFailed, CaseSkipped}
	for i, s := range statuses {
		if report.Results[i].Status != s {
			t.Errorf("case %d (%s) status = %s, want %s", i, report.Results[i].Name, report.Results[i].Status, s)
		}
		if report.Results[i].Synthesized {
			t.Errorf("case %d should not be marked synthesized", i)
		}
	}
	if m := report.Results[2].Mismatches; len(m) != 1 || !strings.HasPrefix(m[0], "data:") {
		t.Errorf("mismatches = %v, want one data mismatch", m)
	}

	// Test runs are dry runs.
	history, _ := store.ListExecutions(context.Background(), rule.ID, 0)
	if len(history) != 0 {
		t.Errorf("test run recorded %d executions, want 0", len(history))
	}
}

// TestExecuteTestSuiteCaseSources verifies suite cases override stored ones and synthesis is the fallback
func TestExecuteTestSuiteCaseSources(t *testing.T) {
	runner, engine, _ := newTestRunner(t, rules.EngineOptions{}, RunnerOptions{})
	ctx := context.Background()

	version := discountVersion()
	version.TestCases = []rules.RuleTestCase{{Name: "stored", Context: rules.RuleContext{Data: map[string]any{"age": 70, "premium": 10}}}}
	stored := createRule(t, engine, rules.CreateRuleInput{Name: "stored", VersionInput: version}, true)
	bare := createRule(t, engine, rules.CreateRuleInput{Name: "bare", VersionInput: rules.VersionInput{
		Conditions: []rules.RuleCondition{{Operator: rules.OpIn, Field: "state", Value: []any{"CA", "NY"}}},
	}}, false)

	report, err := runner.ExecuteTestSuite(ctx, Suite{
		Name:   "override",
		RuleID: stored.ID,
		TestCases: []rules.RuleTestCase{
			{Name: "supplied", Context: rules.RuleContext{Data: map[string]any{"age": 80, "premium": 10}}},
		},
	})
	if err != nil {
		t.Fatalf("ExecuteTestSuite() error = %v", err)
	}
	if len(report.Results) != 1 || report.Results[0].Name != "supplied" {
		t.Errorf("suite cases should replace stored ones, got %+v", report.Results)
	}

	report, err = runner.ExecuteTestSuite(ctx, Suite{RuleID: stored.ID})
	if err != nil {
		t.Fatalf("ExecuteTestSuite() error = %v", err)
	}
	if len(report.Results) != 1 || report.Results[0].Name != "stored" {
		t.Errorf("stored cases should be used, got %+v", report.Results)
	}

	// A DRAFT rule falls back to its current version and synthesized cases.
	report, err = runner.ExecuteTestSuite(ctx, Suite{RuleID: bare.ID})
	if err != nil {
		t.Fatalf("ExecuteTestSuite() error = %v", err)
	}
	if report.Summary.Total != 2 || report.Summary.Passed != 2 {
		t.Errorf("synthesized summary = %+v, want 2 passed", report.Summary)
	}
	for _, r := range report.Results {
		if !r.Synthesized {
			t.Errorf("case %q should be marked synthesized", r.Name)
		}
	}
}

// TestExecuteTestSuiteVersionSelection verifies explicit and default version selection
func TestExecuteTestSuiteVersionSelection(t *testing.T) {
	runner, engine, _ := newTestRunner(t, rules.EngineOptions{}, RunnerOptions{})
	ctx := context.Background()

	rule := createRule(t, engine, rules.CreateRuleInput{Name: "versioned", VersionInput: discountVersion()}, false)
	if _, err := engine.CreateRuleVersion(ctx, rule.ID, rules.VersionInput{}, "test"); err != nil {
		t.Fatalf("CreateRuleVersion() error = %v", err)
	}
	if _, err := engine.ActivateRuleVersion(ctx, rule.ID, 2, "test"); err != nil {
		t.Fatalf("ActivateRuleVersion() error = %v", err)
	}

	tests := []struct {
		version int
		want    int
	}{
		{0, 2},
		{1, 1},
		{2, 2},
	}
	for _, tt := range tests {
		report, err := runner.ExecuteTestSuite(ctx, Suite{RuleID: rule.ID, Version: tt.version})
		if err != nil {
			t.Fatalf("ExecuteTestSuite(version %d) error = %v", tt.version, err)
		}
		if report.Version != tt.want {
			t.Errorf("ExecuteTestSuite(version %d) tested v%d, want v%d", tt.version, report.Version, tt.want)
		}
	}

	if _, err := runner.ExecuteTestSuite(ctx, Suite{RuleID: rule.ID, Version: 7}); !errors.Is(err, rules.ErrVersionNotFound) {
		t.Errorf("missing version error = %v, want ErrVersionNotFound", err)
	}
	if _, err := runner.ExecuteTestSuite(ctx, Suite{RuleID: "missing"}); !errors.Is(err, rules.ErrRuleNotFound) {
		t.Errorf("missing rule error = %v, want ErrRuleNotFound", err)
	}
}

// slowEvaluator blocks until the evaluation context is done.
type slowEvaluator struct{}

func (slowEvaluator) Evaluate(ctx context.Context, expression string, rctx *rules.RuleContext) (any, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// TestExecuteTestSuiteTimeout verifies a case that exceeds its budget fails without failing the suite
func TestExecuteTestSuiteTimeout(t *testing.T) {
	runner, engine, _ := newTestRunner(t, rules.EngineOptions{Expressions: slowEvaluator{}}, RunnerOptions{CaseTimeout: 20 * time.Millisecond})

	rule := createRule(t, engine, rules.CreateRuleInput{Name: "slow", VersionInput: rules.VersionInput{
		Actions: []rules.RuleAction{
			{Type: rules.ActionCalculate, Parameters: map[string]any{"expression": "forever()", "targetField": "x"}},
		},
		TestCases: []rules.RuleTestCase{
			{Name: "hangs", Context: rules.RuleContext{Data: map[string]any{}}},
			{Name: "also hangs", Context: rules.RuleContext{Data: map[string]any{}}},
		},
	}}, true)

	start := time.Now()
	report, err := runner.ExecuteTestSuite(context.Background(), Suite{RuleID: rule.ID})
	if err != nil {
		t.Fatalf("ExecuteTestSuite() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("suite took %s, timeouts were not enforced", elapsed)
	}
	if report.Summary.Failed != 2 {
		t.Fatalf("Summary = %+v, want 2 failed", report.Summary)
	}
	for _, r := range report.Results {
		if !strings.Contains(r.Error, rules.ErrExecutionTimeout.Error()) {
			t.Errorf("case %q error = %q, want execution timeout", r.Name, r.Error)
		}
	}
}

// TestExecuteTestSuiteCancelled verifies cancellation of the caller's context is returned
func TestExecuteTestSuiteCancelled(t *testing.T) {
	runner, engine, _ := newTestRunner(t, rules.EngineOptions{}, RunnerOptions{})
	rule := createRule(t, engine, rules.CreateRuleInput{Name: "any", VersionInput: discountVersion()}, true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := runner.ExecuteTestSuite(ctx, Suite{RuleID: rule.ID}); !errors.Is(err, context.Canceled) {
		t.Errorf("ExecuteTestSuite() error = %v, want context.Canceled", err)
	}
}

// TestExecuteTestSuiteEvaluationError verifies evaluation errors fail the case
func TestExecuteTestSuiteEvaluationError(t *testing.T) {
	runner, engine, _ := newTestRunner(t, rules.EngineOptions{}, RunnerOptions{})
	rule := createRule(t, engine, rules.CreateRuleInput{Name: "custom", VersionInput: rules.VersionInput{
		Actions: []rules.RuleAction{{Type: rules.ActionCustom, CustomFunction: "scoreFraud"}},
		TestCases: []rules.RuleTestCase{
			{Name: "custom action", Context: rules.RuleContext{Data: map[string]any{}}},
		},
	}}, true)

	report, err := runner.ExecuteTestSuite(context.Background(), Suite{RuleID: rule.ID})
	if err != nil {
		t.Fatalf("ExecuteTestSuite() error = %v", err)
	}
	res := report.Results[0]
	if res.Status != CaseFailed || !strings.Contains(res.Error, rules.ErrCustomFunctionUnimplemented.Error()) {
		t.Errorf("result = %+v, want failure from the custom action", res)
	}
}

// TestExecuteSuites verifies suites run concurrently with results in input order
func TestExecuteSuites(t *testing.T) {
	runner, engine, _ := newTestRunner(t, rules.EngineOptions{}, RunnerOptions{Concurrency: 2})

	var suites []Suite
	for i := 0; i < 6; i++ {
		name := fmt.Sprintf("rule-%d", i)
		rule := createRule(t, engine, rules.CreateRuleInput{Name: name, VersionInput: discountVersion()}, true)
		suites = append(suites, Suite{Name: name, RuleID: rule.ID})
	}

	results, err := runner.ExecuteSuites(context.Background(), suites)
	if err != nil {
		t.Fatalf("ExecuteSuites() error = %v", err)
	}
	if len(results) != len(suites) {
		t.Fatalf("ExecuteSuites() returned %d results, want %d", len(results), len(suites))
	}
	for i, r := range results {
		if r.Suite != suites[i].Name {
			t.Errorf("result %d is suite %q, want %q", i, r.Suite, suites[i].Name)
		}
	}

	suites = append(suites, Suite{Name: "broken", RuleID: "missing"})
	if _, err := runner.ExecuteSuites(context.Background(), suites); !errors.Is(err, rules.ErrRuleNotFound) {
		t.Errorf("ExecuteSuites() error = %v, want ErrRuleNotFound", err)
	} else if !strings.Contains(err.Error(), `suite "broken"`) {
		t.Errorf("error %q should name the suite", err)
	}
}

// TestCompare verifies declared fields are compared and numbers are normalized
func TestCompare(t *testing.T) {
	actual := &rules.ExecutionResult{
		Success:  false,
		Errors:   []string{"b", "a"},
		Warnings: []string{},
		Data:     map[string]any{"n": 2.0, "nested": map[string]any{"x": int64(1)}},
	}

	tests := []struct {
		name     string
		expected rules.TestExpectation
		want     int
	}{
		{"matching", rules.TestExpectation{Success: boolp(false), Errors: []string{"a", "b"}, Data: map[string]any{"n": 2, "nested": map[string]any{"x": 1.0}}}, 0},
		{"default success", rules.TestExpectation{}, 1},
		{"undeclared fields ignored", rules.TestExpectation{Success: boolp(false)}, 0},
		{"error count", rules.TestExpectation{Success: boolp(false), Errors: []string{"a"}}, 1},
		{"error text", rules.TestExpectation{Success: boolp(false), Errors: []string{"a", "c"}}, 1},
		{"empty warnings declared", rules.TestExpectation{Success: boolp(false), Warnings: []string{}}, 0},
		{"everything wrong", rules.TestExpectation{Success: boolp(true), Errors: []string{}, Warnings: []string{"w"}, Data: map[string]any{}}, 4},
	}
	for _, tt := range tests {
		if got := compare(tt.expected, actual); len(got) != tt.want {
			t.Errorf("%s: compare() = %v, want %d mismatches", tt.name, got, tt.want)
		}
	}
}
