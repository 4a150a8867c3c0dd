package rules

import (
	"context"
	"errors"
	"testing"
)

// TestCELExpressionEvaluator verifies expressions see the context variables
func TestCELExpressionEvaluator(t *testing.T) {
	eval, err := NewCELExpressionEvaluator(0)
	if err != nil {
		t.Fatalf("NewCELExpressionEvaluator() failed: %v", err)
	}

	rctx := &RuleContext{
		EntityType: "policy",
		EntityID:   "p-1",
		UserID:     "underwriter-7",
		Data:       map[string]any{"premium": 1000.0, "drivers": []any{"a", "b"}},
		Metadata:   map[string]any{"channel": "web"},
	}

	tests := []struct {
		expr string
		want any
	}{
		{`double(data.premium) * 1.1`, 1100.0000000000002},
		{`size(data.drivers)`, int64(2)},
		{`entityType + ":" + entityId`, "policy:p-1"},
		{`userId`, "underwriter-7"},
		{`metadata.channel == "web"`, true},
		{`"premium" in data`, true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := eval.Evaluate(context.Background(), tt.expr, rctx)
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Evaluate(%q) = %#v, want %#v", tt.expr, got, tt.want)
			}
		})
	}
}

// TestCELExpressionEvaluatorNilContext verifies variables default to empty values
func TestCELExpressionEvaluatorNilContext(t *testing.T) {
	eval, err := NewCELExpressionEvaluator(0)
	if err != nil {
		t.Fatalf("NewCELExpressionEvaluator() failed: %v", err)
	}

	got, err := eval.Evaluate(context.Background(), `size(data) == 0 && userId == ""`, nil)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if got != true {
		t.Errorf("Evaluate() = %v, want true", got)
	}
}

// TestCELCompile verifies compile errors are reported before evaluation
func TestCELCompile(t *testing.T) {
	eval, err := NewCELExpressionEvaluator(0)
	if err != nil {
		t.Fatalf("NewCELExpressionEvaluator() failed: %v", err)
	}

	if err := eval.Compile(`double(data.premium) * 0.15`); err != nil {
		t.Errorf("Compile() valid expression error = %v", err)
	}
	for _, expr := range []string{`1 +`, `unknownVar + 1`, `data.premium +`} {
		if err := eval.Compile(expr); !errors.Is(err, ErrExpression) {
			t.Errorf("Compile(%q) error = %v, want ErrExpression", expr, err)
		}
	}
}

// TestCELCostLimit verifies runaway expressions are stopped
func TestCELCostLimit(t *testing.T) {
	eval, err := NewCELExpressionEvaluator(10)
	if err != nil {
		t.Fatalf("NewCELExpressionEvaluator() failed: %v", err)
	}

	rctx := &RuleContext{Data: map[string]any{"items": make([]any, 1000)}}
	_, err = eval.Evaluate(context.Background(), `data.items.map(x, [x, x]).size() > 0`, rctx)
	if !errors.Is(err, ErrExpression) {
		t.Errorf("Evaluate() error = %v, want ErrExpression for exceeded cost", err)
	}
}

// TestCELEvaluateCancelled verifies a cancelled context stops evaluation
func TestCELEvaluateCancelled(t *testing.T) {
	eval, err := NewCELExpressionEvaluator(0)
	if err != nil {
		t.Fatalf("NewCELExpressionEvaluator() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	items := make([]any, 5000)
	for i := range items {
		items[i] = float64(i)
	}
	_, err = eval.Evaluate(ctx, `data.items.all(x, x >= 0.0)`, &RuleContext{Data: map[string]any{"items": items}})
	if err == nil {
		t.Error("Evaluate() with cancelled context should fail")
	}
}
