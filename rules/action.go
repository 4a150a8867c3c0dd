package rules

import (
	"context"
	"fmt"
	"math"
	"strings"
)

// ActionExecutor runs a single action against a context and returns a partial result.
// It has no side effects: notify actions only record a descriptor, delivery is up to the
// engine's Notifier.
type ActionExecutor struct {
	expressions ExpressionEvaluator
}

// NewActionExecutor creates an executor. With a nil evaluator calculate actions fail
// with ErrExpression.
func NewActionExecutor(expressions ExpressionEvaluator) *ActionExecutor {
	return &ActionExecutor{expressions: expressions}
}

// Execute runs one action. Business failures are reported in the result; the error return
// is reserved for actions that cannot be executed at all.
func (x *ActionExecutor) Execute(ctx context.Context, action RuleAction, rctx *RuleContext) (*ExecutionResult, error) {
	var data map[string]any
	if rctx != nil {
		data = rctx.Data
	}

	switch action.Type {
	case ActionValidate:
		return x.validate(action, data), nil
	case ActionCalculate:
		return x.calculate(ctx, action, rctx)
	case ActionTransform:
		return x.transform(action, data), nil
	case ActionNotify:
		return x.notify(action), nil
	case ActionCustom:
		return nil, fmt.Errorf("%w: action function %q", ErrCustomFunctionUnimplemented, action.CustomFunction)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedActionType, action.Type)
	}
}

func (x *ActionExecutor) validate(action RuleAction, data map[string]any) *ExecutionResult {
	result := newExecutionResult()
	field := action.StringParam("field", "")
	value, _ := ResolveField(data, field)

	var failed bool
	var defaultMessage string
	switch action.StringParam("validation", "") {
	case "required":
		failed = isFalsy(value)
		defaultMessage = fmt.Sprintf("Field %s is required", field)
	case "positive":
		// NaN is not positive.
		failed = !(toNumber(value) > 0)
		defaultMessage = fmt.Sprintf("Field %s must be a positive number", field)
	}

	if failed {
		result.Success = false
		result.Errors = append(result.Errors, action.StringParam("message", defaultMessage))
	}
	return result
}

func (x *ActionExecutor) calculate(ctx context.Context, action RuleAction, rctx *RuleContext) (*ExecutionResult, error) {
	if x.expressions == nil {
		return nil, fmt.Errorf("%w: no expression evaluator configured", ErrExpression)
	}
	target := action.StringParam("targetField", "")
	if target == "" {
		return nil, fmt.Errorf("%w: calculate action requires targetField", ErrInvalidRule)
	}

	value, err := x.expressions.Evaluate(ctx, action.StringParam("expression", ""), rctx)
	if err != nil {
		return nil, err
	}

	result := newExecutionResult()
	result.Data[target] = value
	return result, nil
}

func (x *ActionExecutor) transform(action RuleAction, data map[string]any) *ExecutionResult {
	result := newExecutionResult()
	field := action.StringParam("field", "")
	target := action.StringParam("targetField", field)

	value, found := ResolveField(data, field)
	if !found {
		result.Warnings = append(result.Warnings, fmt.Sprintf("Field %s not found for transform", field))
		return result
	}

	switch action.StringParam("transform", "") {
	case "uppercase":
		value = strings.ToUpper(toString(value))
	case "lowercase":
		value = strings.ToLower(toString(value))
	case "round":
		n := toNumber(value)
		precision := toNumber(action.Parameters["precision"])
		if math.IsNaN(precision) || precision < 0 {
			precision = 0
		}
		scale := math.Pow(10, math.Floor(precision))
		value = math.Round(n*scale) / scale
	}

	result.Data[target] = value
	return result
}

func (x *ActionExecutor) notify(action RuleAction) *ExecutionResult {
	result := newExecutionResult()

	n := Notification{
		Type:    action.StringParam("type", "system"),
		Message: action.StringParam("message", ""),
	}
	if list, ok := asList(action.Parameters["recipients"]); ok {
		for _, r := range list {
			n.Recipients = append(n.Recipients, toString(r))
		}
	}

	result.Notifications = append(result.Notifications, n)
	return result
}
