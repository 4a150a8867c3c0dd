package rules

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// ExpressionEvaluator computes the value of a calculate action's expression.
type ExpressionEvaluator interface {
	Evaluate(ctx context.Context, expression string, rctx *RuleContext) (any, error)
}

// DefaultExpressionCostLimit bounds CEL evaluation cost to stop runaway expressions.
const DefaultExpressionCostLimit = 1000000

// CELExpressionEvaluator evaluates calculate expressions with CEL.
//
// Expressions see the context through the variables data, metadata, entityType, entityId
// and userId, e.g. `double(data.policy.premium) * 0.15`. Compiled programs are cached by
// expression text.
type CELExpressionEvaluator struct {
	env       *cel.Env
	costLimit uint64
	programs  map[string]cel.Program
	mu        sync.RWMutex
}

// NewCELExpressionEvaluator creates an evaluator. A costLimit of 0 selects
// DefaultExpressionCostLimit.
func NewCELExpressionEvaluator(costLimit uint64) (*CELExpressionEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("data", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("metadata", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("entityType", cel.StringType),
		cel.Variable("entityId", cel.StringType),
		cel.Variable("userId", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	if costLimit == 0 {
		costLimit = DefaultExpressionCostLimit
	}

	return &CELExpressionEvaluator{
		env:       env,
		costLimit: costLimit,
		programs:  make(map[string]cel.Program),
	}, nil
}

// Compile checks and caches an expression. Validation uses it to reject bad expressions
// before a version is stored.
func (e *CELExpressionEvaluator) Compile(expression string) error {
	_, err := e.program(expression)
	return err
}

func (e *CELExpressionEvaluator) program(expression string) (cel.Program, error) {
	e.mu.RLock()
	prog, ok := e.programs[expression]
	e.mu.RUnlock()
	if ok {
		return prog, nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: compile error: %v", ErrExpression, issues.Err())
	}

	prog, err := e.env.Program(ast,
		cel.CostLimit(e.costLimit),
		cel.InterruptCheckFrequency(100),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: program creation error: %v", ErrExpression, err)
	}

	e.mu.Lock()
	e.programs[expression] = prog
	e.mu.Unlock()

	return prog, nil
}

// Evaluate runs the expression against the context.
func (e *CELExpressionEvaluator) Evaluate(ctx context.Context, expression string, rctx *RuleContext) (any, error) {
	prog, err := e.program(expression)
	if err != nil {
		return nil, err
	}

	vars := map[string]any{
		"data":       map[string]any{},
		"metadata":   map[string]any{},
		"entityType": "",
		"entityId":   "",
		"userId":     "",
	}
	if rctx != nil {
		if rctx.Data != nil {
			vars["data"] = rctx.Data
		}
		if rctx.Metadata != nil {
			vars["metadata"] = rctx.Metadata
		}
		vars["entityType"] = rctx.EntityType
		vars["entityId"] = rctx.EntityID
		vars["userId"] = rctx.UserID
	}

	out, _, err := prog.ContextEval(ctx, vars)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrExpression, expression, err)
	}
	return out.Value(), nil
}
