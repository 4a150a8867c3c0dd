package rules

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	maxNameLength       = 200
	maxConditions       = 100
	maxActions          = 100
	maxCategoryLength   = 100
	maxFieldPathSegment = 100
)

var fieldSegment = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$|^[0-9]+$`)

// ExpressionCompiler is implemented by evaluators that can check an expression ahead of
// evaluation. CELExpressionEvaluator satisfies it.
type ExpressionCompiler interface {
	Compile(expression string) error
}

// ValidateRule checks rule metadata. Every problem is reported, not only the first.
func ValidateRule(rule *BusinessRule) error {
	var problems []string

	name := strings.TrimSpace(rule.Name)
	switch {
	case name == "":
		problems = append(problems, "name cannot be empty")
	case name != rule.Name:
		problems = append(problems, fmt.Sprintf("name %q has leading/trailing whitespace", rule.Name))
	case len(name) > maxNameLength:
		problems = append(problems, fmt.Sprintf("name length %d exceeds maximum of %d characters", len(name), maxNameLength))
	}

	if !rule.Type.Valid() {
		problems = append(problems, fmt.Sprintf("invalid type %q (must be one of POLICY_VALIDATION, ELIGIBILITY, COVERAGE, PRICING, UNDERWRITING)", rule.Type))
	}
	if !rule.Priority.Valid() {
		problems = append(problems, fmt.Sprintf("invalid priority %d (must be 1-4)", int(rule.Priority)))
	}
	if len(rule.Category) > maxCategoryLength {
		problems = append(problems, fmt.Sprintf("category length %d exceeds maximum of %d characters", len(rule.Category), maxCategoryLength))
	}
	for i, tag := range rule.Tags {
		if strings.TrimSpace(tag) == "" {
			problems = append(problems, fmt.Sprintf("tag %d is empty", i))
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// ValidateVersion checks the shape of a version's conditions and actions. A non-nil compiler
// is used to reject calculate expressions that do not compile.
func ValidateVersion(version *RuleVersion, compiler ExpressionCompiler) error {
	var problems []string

	switch version.LogicalOperator {
	case "", LogicalAnd:
	default:
		problems = append(problems, fmt.Sprintf("logical operator %q is not supported (conditions are always combined with AND)", version.LogicalOperator))
	}

	if len(version.Conditions) > maxConditions {
		problems = append(problems, fmt.Sprintf("version has %d conditions, maximum allowed is %d", len(version.Conditions), maxConditions))
	}
	if len(version.Actions) > maxActions {
		problems = append(problems, fmt.Sprintf("version has %d actions, maximum allowed is %d", len(version.Actions), maxActions))
	}

	for i, cond := range version.Conditions {
		for _, p := range validateCondition(cond) {
			problems = append(problems, fmt.Sprintf("condition %d: %s", i, p))
		}
	}
	for i, action := range version.Actions {
		for _, p := range validateAction(action, compiler) {
			problems = append(problems, fmt.Sprintf("action %d: %s", i, p))
		}
	}

	if version.EffectiveDate != nil && version.ExpiryDate != nil && !version.ExpiryDate.After(*version.EffectiveDate) {
		problems = append(problems, "expiry date must be after effective date")
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func validateCondition(cond RuleCondition) []string {
	var problems []string

	if !cond.Operator.Valid() {
		return []string{fmt.Sprintf("unknown operator %q", cond.Operator)}
	}
	if cond.Operator == OpCustom {
		if cond.CustomFunction == "" {
			problems = append(problems, "custom operator requires customFunction")
		}
		return problems
	}

	if err := validateFieldPath(cond.Field); err != nil {
		problems = append(problems, fmt.Sprintf("invalid field %q: %v", cond.Field, err))
	}

	switch cond.Operator {
	case OpBetween:
		if list, ok := asList(cond.Value); !ok || len(list) != 2 {
			problems = append(problems, "between requires a two-element [min, max] value")
		}
	case OpIn, OpNotIn:
		if list, ok := asList(cond.Value); !ok || len(list) == 0 {
			problems = append(problems, fmt.Sprintf("%s requires a non-empty list value", cond.Operator))
		}
	case OpGreaterThan, OpLessThan:
		if cond.Value == nil {
			problems = append(problems, fmt.Sprintf("%s requires a value", cond.Operator))
		}
	}
	return problems
}

func validateAction(action RuleAction, compiler ExpressionCompiler) []string {
	var problems []string

	switch action.Type {
	case ActionValidate:
		if action.StringParam("field", "") == "" {
			problems = append(problems, "validate requires parameters.field")
		}
		// Validation kinds other than required and positive pass at run time.
	case ActionCalculate:
		expr := action.StringParam("expression", "")
		if expr == "" {
			problems = append(problems, "calculate requires parameters.expression")
		} else if compiler != nil {
			if err := compiler.Compile(expr); err != nil {
				problems = append(problems, err.Error())
			}
		}
		if action.StringParam("targetField", "") == "" {
			problems = append(problems, "calculate requires parameters.targetField")
		}
	case ActionTransform:
		if action.StringParam("field", "") == "" {
			problems = append(problems, "transform requires parameters.field")
		}
		// Unknown transforms copy the value unchanged.
	case ActionNotify:
	case ActionCustom:
		if action.CustomFunction == "" {
			problems = append(problems, "custom action requires customFunction")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown action type %q", action.Type))
	}
	return problems
}

// validateFieldPath checks a dotted data path such as policy.holder.age or drivers.0.age.
func validateFieldPath(path string) error {
	if path == "" {
		return fmt.Errorf("field cannot be empty")
	}
	for _, seg := range strings.Split(path, ".") {
		if len(seg) == 0 {
			return fmt.Errorf("empty path segment")
		}
		if len(seg) > maxFieldPathSegment {
			return fmt.Errorf("segment length %d exceeds maximum of %d characters", len(seg), maxFieldPathSegment)
		}
		if !fieldSegment.MatchString(seg) {
			return fmt.Errorf("segment %q must be an identifier or an array index", seg)
		}
	}
	return nil
}
