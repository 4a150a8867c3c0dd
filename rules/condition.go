package rules

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ResolveField walks data along a dotted path such as "policy.remainingCoverage".
// Missing segments are not an error: found is false and the value is nil.
func ResolveField(data map[string]any, path string) (value any, found bool) {
	if path == "" || data == nil {
		return nil, false
	}

	var current any = data
	for _, part := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			v, ok := node[part]
			if !ok {
				return nil, false
			}
			current = v
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

// EvaluateCondition evaluates a single condition against the context.
func EvaluateCondition(cond RuleCondition, rctx *RuleContext) (bool, error) {
	var data map[string]any
	if rctx != nil {
		data = rctx.Data
	}
	actual, _ := ResolveField(data, cond.Field)

	switch cond.Operator {
	case OpEquals:
		return strictEqual(actual, cond.Value), nil

	case OpNotEquals:
		return !strictEqual(actual, cond.Value), nil

	case OpGreaterThan:
		return toNumber(actual) > toNumber(operand(cond.Value, data)), nil

	case OpLessThan:
		return toNumber(actual) < toNumber(operand(cond.Value, data)), nil

	case OpBetween:
		bounds, ok := asList(cond.Value)
		if !ok || len(bounds) != 2 {
			return false, fmt.Errorf("%w: between on %q requires a [min, max] value, got %v", ErrInvalidCondition, cond.Field, cond.Value)
		}
		n := toNumber(actual)
		lo := toNumber(operand(bounds[0], data))
		hi := toNumber(operand(bounds[1], data))
		return n >= lo && n <= hi, nil

	case OpIn, OpNotIn:
		list, ok := asList(cond.Value)
		if !ok {
			return false, fmt.Errorf("%w: %s on %q requires an array value, got %T", ErrInvalidCondition, cond.Operator, cond.Field, cond.Value)
		}
		member := false
		for _, elem := range list {
			if strictEqual(actual, elem) {
				member = true
				break
			}
		}
		if cond.Operator == OpIn {
			return member, nil
		}
		return !member, nil

	case OpContains:
		return strings.Contains(toString(actual), toString(cond.Value)), nil

	case OpNotContains:
		return !strings.Contains(toString(actual), toString(cond.Value)), nil

	case OpCustom:
		return false, fmt.Errorf("%w: condition function %q", ErrCustomFunctionUnimplemented, cond.CustomFunction)

	default:
		return false, fmt.Errorf("%w: %q", ErrUnsupportedOperator, cond.Operator)
	}
}

// EvaluateConditions reports whether every condition holds. An empty list is satisfied.
// Evaluation stops at the first false condition.
func EvaluateConditions(conds []RuleCondition, rctx *RuleContext) (bool, error) {
	for i, cond := range conds {
		ok, err := EvaluateCondition(cond, rctx)
		if err != nil {
			return false, fmt.Errorf("condition %d (%s %s): %w", i, cond.Field, cond.Operator, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// operand dereferences a numeric operand that names a context path. Literal numbers and
// strings that do not resolve are returned unchanged.
func operand(v any, data map[string]any) any {
	s, ok := v.(string)
	if !ok || !math.IsNaN(toNumber(s)) {
		return v
	}
	if resolved, found := ResolveField(data, s); found {
		return resolved
	}
	return v
}
