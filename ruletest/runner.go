package ruletest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/liamcoop/businessrules/internal/logger"
	"github.com/liamcoop/businessrules/rules"
)

const (
	// DefaultCaseTimeout bounds a single test case.
	DefaultCaseTimeout = 5000 * time.Millisecond

	// DefaultSuiteConcurrency bounds ExecuteSuites.
	DefaultSuiteConcurrency = 4
)

// CaseStatus is the outcome of one test case.
type CaseStatus string

const (
	CasePassed  CaseStatus = "PASSED"
	CaseFailed  CaseStatus = "FAILED"
	CaseSkipped CaseStatus = "SKIPPED"
)

// Suite selects a rule version and the cases to run against it.
type Suite struct {
	Name   string `json:"name" yaml:"name"`
	RuleID string `json:"ruleId" yaml:"ruleId"`
	// Version 0 selects the ACTIVE version, falling back to the rule's current version.
	Version int `json:"version,omitempty" yaml:"version,omitempty"`
	// TestCases overrides the fixtures stored with the version.
	TestCases []rules.RuleTestCase `json:"testCases,omitempty" yaml:"testCases,omitempty"`
}

// CaseResult reports one executed test case.
type CaseResult struct {
	Name            string                 `json:"name"`
	Description     string                 `json:"description,omitempty"`
	Status          CaseStatus             `json:"status"`
	Synthesized     bool                   `json:"synthesized,omitempty"`
	Expected        rules.TestExpectation  `json:"expected"`
	Actual          *rules.ExecutionResult `json:"actual,omitempty"`
	Mismatches      []string               `json:"mismatches,omitempty"`
	Error           string                 `json:"error,omitempty"`
	ExecutionTimeMs int64                  `json:"executionTimeMs"`
}

// Passed reports whether the case passed.
func (r CaseResult) Passed() bool {
	return r.Status == CasePassed
}

// Summary counts case outcomes of a suite.
type Summary struct {
	Total           int   `json:"total"`
	Passed          int   `json:"passed"`
	Failed          int   `json:"failed"`
	Skipped         int   `json:"skipped"`
	ExecutionTimeMs int64 `json:"executionTimeMs"`
}

// SuiteResult is the report for one suite.
type SuiteResult struct {
	Suite    string       `json:"suite"`
	RuleID   string       `json:"ruleId"`
	RuleName string       `json:"ruleName"`
	Version  int          `json:"version"`
	Results  []CaseResult `json:"results"`
	Summary  Summary      `json:"summary"`
}

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	// CaseTimeout bounds each test case. Zero selects DefaultCaseTimeout.
	CaseTimeout time.Duration
	// Concurrency bounds how many suites ExecuteSuites runs at once.
	Concurrency int
}

// Runner executes test suites as dry runs: no execution is logged and no notification is
// delivered.
type Runner struct {
	engine      *rules.Engine
	timeout     time.Duration
	concurrency int
}

// NewRunner creates a runner over engine.
func NewRunner(engine *rules.Engine, opts RunnerOptions) *Runner {
	if opts.CaseTimeout <= 0 {
		opts.CaseTimeout = DefaultCaseTimeout
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultSuiteConcurrency
	}
	return &Runner{engine: engine, timeout: opts.CaseTimeout, concurrency: opts.Concurrency}
}

// ExecuteTestSuite runs the suite's cases sequentially against the selected version.
//
// Cases come from the suite, else from the version's stored fixtures, else from
// Synthesize. Store failures and cancellation of ctx are returned as errors; everything
// else, including a case exceeding its timeout, is reported as a failed case.
func (r *Runner) ExecuteTestSuite(ctx context.Context, suite Suite) (*SuiteResult, error) {
	start := time.Now()

	rule, err := r.engine.GetRule(ctx, suite.RuleID)
	if err != nil {
		return nil, err
	}
	version, err := r.selectVersion(ctx, rule, suite.Version)
	if err != nil {
		return nil, err
	}

	cases := suite.TestCases
	synthesized := false
	if len(cases) == 0 {
		cases = version.TestCases
	}
	if len(cases) == 0 {
		cases = Synthesize(version)
		synthesized = true
	}

	name := suite.Name
	if name == "" {
		name = fmt.Sprintf("%s v%d", rule.Name, version.Version)
	}
	report := &SuiteResult{
		Suite:    name,
		RuleID:   rule.ID,
		RuleName: rule.Name,
		Version:  version.Version,
		Results:  make([]CaseResult, 0, len(cases)),
	}

	for _, tc := range cases {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res := r.runCase(ctx, version, tc)
		res.Synthesized = synthesized
		r.engine.Metrics().ObserveTestCase(string(res.Status))
		report.Results = append(report.Results, res)
	}

	report.Summary = summarize(report.Results)
	report.Summary.ExecutionTimeMs = time.Since(start).Milliseconds()

	logger.Info("test suite executed",
		"suite", report.Suite,
		"rule", rule.Name,
		"version", version.Version,
		"total", report.Summary.Total,
		"passed", report.Summary.Passed,
		"failed", report.Summary.Failed,
		"skipped", report.Summary.Skipped,
	)
	return report, nil
}

// ExecuteSuites runs suites concurrently, each with sequential cases. Results keep the
// order of suites. The first suite-level error cancels the rest.
func (r *Runner) ExecuteSuites(ctx context.Context, suites []Suite) ([]*SuiteResult, error) {
	results := make([]*SuiteResult, len(suites))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, suite := range suites {
		g.Go(func() error {
			res, err := r.ExecuteTestSuite(gctx, suite)
			if err != nil {
				return fmt.Errorf("suite %q: %w", suite.Name, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *Runner) selectVersion(ctx context.Context, rule *rules.BusinessRule, number int) (*rules.RuleVersion, error) {
	if number > 0 {
		return r.engine.GetRuleVersion(ctx, rule.ID, number)
	}
	active, err := r.engine.GetActiveVersion(ctx, rule.ID)
	if err == nil {
		return active, nil
	}
	if !errors.Is(err, rules.ErrNoActiveVersion) {
		return nil, err
	}
	return r.engine.GetRuleVersion(ctx, rule.ID, rule.CurrentVersion)
}

type evalOutcome struct {
	result  *rules.ExecutionResult
	matched bool
	err     error
}

func (r *Runner) runCase(ctx context.Context, version *rules.RuleVersion, tc rules.RuleTestCase) CaseResult {
	res := CaseResult{
		Name:        tc.Name,
		Description: tc.Description,
		Expected:    tc.Expected,
	}
	if tc.Skip {
		res.Status = CaseSkipped
		return res
	}

	start := time.Now()
	caseCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rctx := tc.Context
	done := make(chan evalOutcome, 1)
	go func() {
		result, matched, err := r.engine.EvaluateVersion(caseCtx, version, &rctx)
		done <- evalOutcome{result: result, matched: matched, err: err}
	}()

	var out evalOutcome
	select {
	case out = <-done:
	case <-caseCtx.Done():
		out.err = caseCtx.Err()
	}
	res.ExecutionTimeMs = time.Since(start).Milliseconds()

	if out.err != nil {
		if errors.Is(out.err, context.DeadlineExceeded) && ctx.Err() == nil {
			out.err = fmt.Errorf("%w after %s", rules.ErrExecutionTimeout, r.timeout)
		}
		res.Status = CaseFailed
		res.Error = out.err.Error()
		return res
	}

	actual := out.result
	if !out.matched {
		actual = &rules.ExecutionResult{
			Success:  false,
			Errors:   []string{rules.ConditionsNotMet},
			Warnings: out.result.Warnings,
			Data:     out.result.Data,
		}
	}
	res.Actual = actual
	res.Mismatches = compare(tc.Expected, actual)
	if len(res.Mismatches) == 0 {
		res.Status = CasePassed
	} else {
		res.Status = CaseFailed
	}
	return res
}

// compare lists every way actual departs from expected. Success is always compared;
// errors, warnings and data only when declared.
func compare(expected rules.TestExpectation, actual *rules.ExecutionResult) []string {
	var mismatches []string

	if want := expected.ExpectsSuccess(); want != actual.Success {
		mismatches = append(mismatches, fmt.Sprintf("success: expected %t, got %t", want, actual.Success))
	}
	if expected.Errors != nil {
		if m := compareMessages("errors", expected.Errors, actual.Errors); m != "" {
			mismatches = append(mismatches, m)
		}
	}
	if expected.Warnings != nil {
		if m := compareMessages("warnings", expected.Warnings, actual.Warnings); m != "" {
			mismatches = append(mismatches, m)
		}
	}
	if expected.Data != nil && !reflect.DeepEqual(normalize(expected.Data), normalize(actual.Data)) {
		mismatches = append(mismatches, fmt.Sprintf("data: expected %v, got %v", expected.Data, actual.Data))
	}
	return mismatches
}

// compareMessages checks length and set membership.
func compareMessages(kind string, expected, actual []string) string {
	if len(expected) != len(actual) {
		return fmt.Sprintf("%s: expected %d %v, got %d %v", kind, len(expected), expected, len(actual), actual)
	}
	present := make(map[string]bool, len(actual))
	for _, msg := range actual {
		present[msg] = true
	}
	for _, msg := range expected {
		if !present[msg] {
			return fmt.Sprintf("%s: expected %q in %v", kind, msg, actual)
		}
	}
	return ""
}

// normalize round-trips through JSON so 2, int64(2) and 2.0 compare equal.
func normalize(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}

func summarize(results []CaseResult) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		switch r.Status {
		case CasePassed:
			s.Passed++
		case CaseSkipped:
			s.Skipped++
		default:
			s.Failed++
		}
	}
	return s
}
