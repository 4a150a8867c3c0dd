package rules

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RuleType classifies which decision a rule participates in.
type RuleType string

const (
	RuleTypePolicyValidation RuleType = "POLICY_VALIDATION"
	RuleTypeEligibility      RuleType = "ELIGIBILITY"
	RuleTypeCoverage         RuleType = "COVERAGE"
	RuleTypePricing          RuleType = "PRICING"
	RuleTypeUnderwriting     RuleType = "UNDERWRITING"
)

// Valid reports whether t is one of the known rule types.
func (t RuleType) Valid() bool {
	switch t {
	case RuleTypePolicyValidation, RuleTypeEligibility, RuleTypeCoverage,
		RuleTypePricing, RuleTypeUnderwriting:
		return true
	}
	return false
}

// RuleStatus is the lifecycle state of a BusinessRule.
type RuleStatus string

const (
	RuleStatusDraft      RuleStatus = "DRAFT"
	RuleStatusActive     RuleStatus = "ACTIVE"
	RuleStatusInactive   RuleStatus = "INACTIVE"
	RuleStatusDeprecated RuleStatus = "DEPRECATED"
)

// VersionStatus is the lifecycle state of a RuleVersion.
type VersionStatus string

const (
	VersionStatusDraft    VersionStatus = "DRAFT"
	VersionStatusActive   VersionStatus = "ACTIVE"
	VersionStatusInactive VersionStatus = "INACTIVE"
)

// Priority orders rule evaluation inside a rule set. Higher runs first.
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityMedium   Priority = 2
	PriorityHigh     Priority = 3
	PriorityCritical Priority = 4
)

var priorityNames = map[Priority]string{
	PriorityLow:      "LOW",
	PriorityMedium:   "MEDIUM",
	PriorityHigh:     "HIGH",
	PriorityCritical: "CRITICAL",
}

func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Priority(%d)", int(p))
}

// Valid reports whether p is within LOW..CRITICAL.
func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityCritical
}

// ParsePriority accepts either the symbolic name (case-insensitive) or the numeric level.
func ParsePriority(s string) (Priority, error) {
	s = strings.TrimSpace(s)
	for p, name := range priorityNames {
		if strings.EqualFold(name, s) || fmt.Sprint(int(p)) == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown priority %q (must be one of LOW, MEDIUM, HIGH, CRITICAL)", s)
}

// UnmarshalJSON accepts the numeric level or the symbolic name.
func (p *Priority) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		*p = Priority(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("priority must be a number or a name: %w", err)
	}
	parsed, err := ParsePriority(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// UnmarshalYAML accepts the numeric level or the symbolic name.
func (p *Priority) UnmarshalYAML(node *yaml.Node) error {
	if n, err := strconv.Atoi(node.Value); err == nil {
		*p = Priority(n)
		return nil
	}
	parsed, err := ParsePriority(node.Value)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ExecutionStatus is the outcome recorded for one rule evaluation attempt.
type ExecutionStatus string

const (
	ExecutionSuccess ExecutionStatus = "SUCCESS"
	ExecutionFailure ExecutionStatus = "FAILURE"
	ExecutionError   ExecutionStatus = "ERROR"
	ExecutionSkipped ExecutionStatus = "SKIPPED"
)

// BusinessRule is a named, typed policy decision unit.
// Conditions and actions live on its versions; the rule itself only carries metadata.
type BusinessRule struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Description    string     `json:"description,omitempty"`
	Type           RuleType   `json:"type"`
	Status         RuleStatus `json:"status"`
	Priority       Priority   `json:"priority"`
	IsEnabled      bool       `json:"isEnabled"`
	Category       string     `json:"category,omitempty"`
	Tags           []string   `json:"tags,omitempty"`
	CurrentVersion int        `json:"currentVersion"`
	CreatedBy      string     `json:"createdBy,omitempty"`
	UpdatedBy      string     `json:"updatedBy,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// IsCritical reports whether a failure of this rule halts a rule set.
func (r *BusinessRule) IsCritical() bool {
	return r.Priority == PriorityCritical
}

// Clone returns a copy that does not share the tags slice.
func (r *BusinessRule) Clone() *BusinessRule {
	c := *r
	if r.Tags != nil {
		c.Tags = append([]string(nil), r.Tags...)
	}
	return &c
}

// LogicalOperator combines the conditions of a version. Only AND is evaluated.
type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "AND"
	LogicalOr  LogicalOperator = "OR"
)

// RuleVersion is an immutable snapshot of a rule's conditions and actions.
type RuleVersion struct {
	ID                   string          `json:"id"`
	RuleID               string          `json:"ruleId"`
	Version              int             `json:"version"`
	Conditions           []RuleCondition `json:"conditions"`
	LogicalOperator      LogicalOperator `json:"logicalOperator,omitempty"`
	Actions              []RuleAction    `json:"actions"`
	Status               VersionStatus   `json:"status"`
	TestCases            []RuleTestCase  `json:"testCases,omitempty"`
	IsBackwardCompatible bool            `json:"isBackwardCompatible"`
	EffectiveDate        *time.Time      `json:"effectiveDate,omitempty"`
	ExpiryDate           *time.Time      `json:"expiryDate,omitempty"`
	ChangeDescription    string          `json:"changeDescription,omitempty"`
	CreatedBy            string          `json:"createdBy,omitempty"`
	CreatedAt            time.Time       `json:"createdAt"`
}

// InEffect reports whether the version's effective window contains at.
// Unset bounds are open.
func (v *RuleVersion) InEffect(at time.Time) bool {
	if v.EffectiveDate != nil && at.Before(*v.EffectiveDate) {
		return false
	}
	if v.ExpiryDate != nil && !at.Before(*v.ExpiryDate) {
		return false
	}
	return true
}

// Clone copies the version header. Conditions, actions and fixtures are write-once
// and stay shared.
func (v *RuleVersion) Clone() *RuleVersion {
	c := *v
	return &c
}

// Operator is the closed set of condition operators.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpBetween     Operator = "between"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpCustom      Operator = "custom"
)

// Operators lists every supported operator in evaluation-table order.
var Operators = []Operator{
	OpEquals, OpNotEquals, OpGreaterThan, OpLessThan, OpBetween,
	OpIn, OpNotIn, OpContains, OpNotContains, OpCustom,
}

// Valid reports whether op is a known operator.
func (op Operator) Valid() bool {
	for _, known := range Operators {
		if op == known {
			return true
		}
	}
	return false
}

// RuleCondition is a predicate over one context field.
type RuleCondition struct {
	Operator       Operator `json:"operator" yaml:"operator"`
	Field          string   `json:"field" yaml:"field"`
	Value          any      `json:"value,omitempty" yaml:"value,omitempty"`
	CustomFunction string   `json:"customFunction,omitempty" yaml:"customFunction,omitempty"`
}

// ActionType is the closed set of action kinds.
type ActionType string

const (
	ActionValidate  ActionType = "validate"
	ActionCalculate ActionType = "calculate"
	ActionTransform ActionType = "transform"
	ActionNotify    ActionType = "notify"
	ActionCustom    ActionType = "custom"
)

// Valid reports whether t is a known action type.
func (t ActionType) Valid() bool {
	switch t {
	case ActionValidate, ActionCalculate, ActionTransform, ActionNotify, ActionCustom:
		return true
	}
	return false
}

// RuleAction is an operation applied when a version's conditions hold.
type RuleAction struct {
	Type           ActionType     `json:"type" yaml:"type"`
	Parameters     map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	CustomFunction string         `json:"customFunction,omitempty" yaml:"customFunction,omitempty"`
}

// StringParam returns a string parameter or def when absent or not a string.
func (a RuleAction) StringParam(name, def string) string {
	if v, ok := a.Parameters[name].(string); ok && v != "" {
		return v
	}
	return def
}

// RuleContext is the input bag a rule is evaluated against. It is supplied fresh per call
// and never mutated by the engine.
type RuleContext struct {
	EntityType string         `json:"entityType,omitempty" yaml:"entityType,omitempty"`
	EntityID   string         `json:"entityId,omitempty" yaml:"entityId,omitempty"`
	UserID     string         `json:"userId,omitempty" yaml:"userId,omitempty"`
	Data       map[string]any `json:"data" yaml:"data"`
	Metadata   map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Notification is the descriptor produced by a notify action.
type Notification struct {
	Type       string   `json:"type"`
	Message    string   `json:"message"`
	Recipients []string `json:"recipients,omitempty"`
	RuleID     string   `json:"ruleId,omitempty"`
}

// ExecutionResult is the outcome of running one rule version against a context.
type ExecutionResult struct {
	Success       bool           `json:"success"`
	Errors        []string       `json:"errors"`
	Warnings      []string       `json:"warnings"`
	Data          map[string]any `json:"data"`
	Notifications []Notification `json:"notifications,omitempty"`
}

func newExecutionResult() *ExecutionResult {
	return &ExecutionResult{
		Success:  true,
		Errors:   []string{},
		Warnings: []string{},
		Data:     map[string]any{},
	}
}

// merge folds a partial action result in. Later data keys overwrite earlier ones.
func (r *ExecutionResult) merge(part *ExecutionResult) {
	r.Success = r.Success && part.Success
	r.Errors = append(r.Errors, part.Errors...)
	r.Warnings = append(r.Warnings, part.Warnings...)
	for k, v := range part.Data {
		r.Data[k] = v
	}
	r.Notifications = append(r.Notifications, part.Notifications...)
}

// ValidationResult aggregates a rule set run.
type ValidationResult struct {
	IsValid         bool     `json:"isValid"`
	Errors          []string `json:"errors"`
	Warnings        []string `json:"warnings"`
	ExecutedRules   []string `json:"executedRules"`
	ExecutionTimeMs int64    `json:"executionTimeMs"`
	// StoppedBy names the CRITICAL rule that short-circuited the run, if any.
	StoppedBy string `json:"stoppedBy,omitempty"`
}

// RuleExecution is the immutable log record of one evaluation attempt.
type RuleExecution struct {
	ID              string           `json:"id"`
	RuleID          string           `json:"ruleId"`
	RuleVersion     int              `json:"ruleVersion,omitempty"`
	Context         *RuleContext     `json:"context"`
	Result          *ExecutionResult `json:"result,omitempty"`
	Status          ExecutionStatus  `json:"status"`
	ErrorMessage    string           `json:"errorMessage,omitempty"`
	ExecutionTimeMs int64            `json:"executionTimeMs"`
	TriggeredBy     string           `json:"triggeredBy,omitempty"`
	EntityType      string           `json:"entityType,omitempty"`
	EntityID        string           `json:"entityId,omitempty"`
	Metadata        map[string]any   `json:"metadata,omitempty"`
	ExecutedAt      time.Time        `json:"executedAt"`
}

// TestExpectation is the expected outcome of a fixture. Nil slices and maps mean
// "not declared" and are not compared; empty ones mean "expect none". The JSON
// form keeps the difference (null against [] or {}) so fixtures survive storage.
type TestExpectation struct {
	Success  *bool          `json:"success,omitempty" yaml:"success,omitempty"`
	Errors   []string       `json:"errors" yaml:"errors,omitempty"`
	Warnings []string       `json:"warnings" yaml:"warnings,omitempty"`
	Data     map[string]any `json:"data" yaml:"data,omitempty"`
}

// ExpectsSuccess returns the declared success flag, defaulting to true.
func (e TestExpectation) ExpectsSuccess() bool {
	if e.Success == nil {
		return true
	}
	return *e.Success
}

// RuleTestCase is a literal input fixture stored with a version or a suite.
type RuleTestCase struct {
	Name        string          `json:"name" yaml:"name"`
	Description string          `json:"description,omitempty" yaml:"description,omitempty"`
	Context     RuleContext     `json:"context" yaml:"context"`
	Expected    TestExpectation `json:"expected" yaml:"expected"`
	Skip        bool            `json:"skip,omitempty" yaml:"skip,omitempty"`
}

// RuleFilter narrows ListRules. Zero fields match everything.
type RuleFilter struct {
	Type     RuleType
	Status   RuleStatus
	Category string
	Enabled  *bool
}

// Matches reports whether r satisfies the filter.
func (f RuleFilter) Matches(r *BusinessRule) bool {
	if f.Type != "" && r.Type != f.Type {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.Category != "" && r.Category != f.Category {
		return false
	}
	if f.Enabled != nil && r.IsEnabled != *f.Enabled {
		return false
	}
	return true
}
