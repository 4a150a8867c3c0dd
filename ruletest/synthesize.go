// Package ruletest runs fixtures against rule versions and synthesizes fixtures from
// rule conditions when none are declared.
package ruletest

import (
	"fmt"
	"math"
	"strings"

	"github.com/liamcoop/businessrules/rules"
)

const (
	// PositiveCaseName and NegativeCaseName name the two synthesized cases.
	PositiveCaseName = "Positive test case"
	NegativeCaseName = "Negative test case"

	// referenceValue is written to a path a condition compares against.
	referenceValue = 100.0
)

// Synthesize derives a positive and a negative fixture from the version's conditions.
//
// The positive context satisfies every condition; the negative context satisfies all but
// the first. Both are checked against the real condition evaluator, and a case that cannot
// be built (custom operators, contradictory conditions, no conditions to violate) is
// returned with Skip set and the reason in its description.
func Synthesize(version *rules.RuleVersion) []rules.RuleTestCase {
	positive := rules.RuleTestCase{
		Name:        PositiveCaseName,
		Description: "Context built to satisfy every condition",
		Expected:    rules.TestExpectation{Success: boolPtr(true), Errors: []string{}},
	}
	negative := rules.RuleTestCase{
		Name:        NegativeCaseName,
		Description: "Context built to violate the first condition",
		Expected:    rules.TestExpectation{Success: boolPtr(false), Errors: []string{rules.ConditionsNotMet}},
	}

	for _, cond := range version.Conditions {
		if cond.Operator == rules.OpCustom {
			reason := fmt.Sprintf("cannot synthesize input for custom function %q", cond.CustomFunction)
			return []rules.RuleTestCase{skip(positive, reason), skip(negative, reason)}
		}
	}

	posData := map[string]any{}
	for _, cond := range version.Conditions {
		value, ok := sample(cond, posData, true)
		if !ok {
			reason := fmt.Sprintf("cannot synthesize input for %s on %s", cond.Operator, cond.Field)
			return []rules.RuleTestCase{skip(positive, reason), skip(negative, reason)}
		}
		setPath(posData, cond.Field, value)
	}
	positive.Context = rules.RuleContext{EntityType: "test", EntityID: "synthesized", Data: posData}
	if ok, err := rules.EvaluateConditions(version.Conditions, &positive.Context); err != nil || !ok {
		positive = skip(positive, "conditions cannot all be satisfied by synthesized input")
	}

	if len(version.Conditions) == 0 {
		negative = skip(negative, "version has no conditions to violate")
		return []rules.RuleTestCase{positive, negative}
	}

	negData := deepCopy(posData)
	first := version.Conditions[0]
	value, ok := sample(first, negData, false)
	if !ok {
		return []rules.RuleTestCase{positive, skip(negative, fmt.Sprintf("cannot synthesize input violating %s on %s", first.Operator, first.Field))}
	}
	setPath(negData, first.Field, value)
	negative.Context = rules.RuleContext{EntityType: "test", EntityID: "synthesized", Data: negData}
	if ok, err := rules.EvaluateConditions(version.Conditions, &negative.Context); err != nil || ok {
		negative = skip(negative, "synthesized input does not violate the conditions")
	}

	return []rules.RuleTestCase{positive, negative}
}

// sample picks a field value that satisfies (want=true) or violates (want=false) cond.
// References to other paths are written into data first.
func sample(cond rules.RuleCondition, data map[string]any, want bool) (any, bool) {
	switch cond.Operator {
	case rules.OpEquals, rules.OpNotEquals:
		same := (cond.Operator == rules.OpEquals) == want
		if same {
			return cond.Value, true
		}
		return different(cond.Value), true

	case rules.OpGreaterThan, rules.OpLessThan:
		bound, ok := numericOperand(cond.Value, data)
		if !ok {
			return nil, false
		}
		above := (cond.Operator == rules.OpGreaterThan) == want
		if above {
			return bound + 1, true
		}
		return bound - 1, true

	case rules.OpBetween:
		bounds, ok := rules.AsList(cond.Value)
		if !ok || len(bounds) != 2 {
			return nil, false
		}
		lo, okLo := numericOperand(bounds[0], data)
		hi, okHi := numericOperand(bounds[1], data)
		if !okLo || !okHi || lo > hi {
			return nil, false
		}
		if want {
			return lo + (hi-lo)/2, true
		}
		return hi + 1, true

	case rules.OpIn, rules.OpNotIn:
		list, ok := rules.AsList(cond.Value)
		if !ok || len(list) == 0 {
			return nil, false
		}
		member := (cond.Operator == rules.OpIn) == want
		if member {
			return list[0], true
		}
		return nonMember(list), true

	case rules.OpContains, rules.OpNotContains:
		needle := rules.ToString(cond.Value)
		if needle == "" {
			return nil, false
		}
		if (cond.Operator == rules.OpContains) == want {
			return needle, true
		}
		return "", true
	}
	return nil, false
}

// numericOperand returns the numeric bound of a comparison. A non-numeric string is a path
// reference: the path is set to referenceValue in data and that value is the bound.
func numericOperand(v any, data map[string]any) (float64, bool) {
	n := rules.ToNumber(v)
	if !math.IsNaN(n) {
		return n, true
	}
	path, ok := v.(string)
	if !ok || path == "" {
		return 0, false
	}
	if existing, found := rules.ResolveField(data, path); found {
		if n := rules.ToNumber(existing); !math.IsNaN(n) {
			return n, true
		}
	}
	setPath(data, path, referenceValue)
	return referenceValue, true
}

func different(v any) any {
	switch val := v.(type) {
	case nil:
		return "__synthesized__"
	case bool:
		return !val
	case string:
		return val + "_other"
	}
	if n := rules.ToNumber(v); !math.IsNaN(n) {
		return n + 1
	}
	return "__synthesized__"
}

func nonMember(list []any) any {
	max := math.Inf(-1)
	numeric := false
	for _, elem := range list {
		if n := rules.ToNumber(elem); !math.IsNaN(n) {
			if _, isString := elem.(string); !isString {
				numeric = true
				max = math.Max(max, n)
			}
		}
	}
	if numeric {
		return max + 1
	}

	candidate := "__not_in_list__"
	for contains(list, candidate) {
		candidate += "_"
	}
	return candidate
}

func contains(list []any, v any) bool {
	for _, elem := range list {
		if rules.StrictEqual(elem, v) {
			return true
		}
	}
	return false
}

// setPath writes value at a dotted path, creating intermediate maps.
func setPath(data map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	node := data
	for _, part := range parts[:len(parts)-1] {
		next, ok := node[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			node[part] = next
		}
		node = next
	}
	node[parts[len(parts)-1]] = value
}

func deepCopy(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			out[k] = deepCopy(nested)
			continue
		}
		out[k] = v
	}
	return out
}

func skip(tc rules.RuleTestCase, reason string) rules.RuleTestCase {
	tc.Skip = true
	tc.Description = reason
	return tc
}

func boolPtr(b bool) *bool {
	return &b
}
