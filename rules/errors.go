package rules

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateName is returned when a rule name is already taken.
	ErrDuplicateName = errors.New("rule name already exists")

	// ErrNotFound is the parent of every missing-entity error.
	ErrNotFound = errors.New("not found")

	// ErrRuleNotFound indicates no rule exists for the given id or name.
	ErrRuleNotFound = fmt.Errorf("rule %w", ErrNotFound)

	// ErrVersionNotFound indicates the rule has no such version.
	ErrVersionNotFound = fmt.Errorf("rule version %w", ErrNotFound)

	// ErrConflict indicates the operation is not allowed in the rule's current state.
	ErrConflict = errors.New("conflict")

	// ErrNoActiveVersion indicates the rule has no version in effect.
	ErrNoActiveVersion = errors.New("no active version")

	// ErrUnsupportedOperator indicates a condition operator outside the supported set.
	ErrUnsupportedOperator = errors.New("unsupported operator")

	// ErrUnsupportedActionType indicates an action type outside the supported set.
	ErrUnsupportedActionType = errors.New("unsupported action type")

	// ErrCustomFunctionUnimplemented is returned by custom conditions and actions.
	ErrCustomFunctionUnimplemented = errors.New("custom functions are not implemented")

	// ErrExecutionTimeout indicates a test case exceeded its time budget.
	ErrExecutionTimeout = errors.New("execution timeout")

	// ErrInvalidRule indicates a rule or version failed shape validation.
	ErrInvalidRule = errors.New("invalid rule definition")

	// ErrInvalidCondition indicates a condition value has the wrong shape at evaluation time.
	ErrInvalidCondition = errors.New("invalid condition")

	// ErrExpression indicates a calculate expression failed to compile or evaluate.
	ErrExpression = errors.New("expression evaluation failed")

	// ErrStore is matched by every *StoreError.
	ErrStore = errors.New("rule store failure")
)

// StoreError wraps an infrastructure failure from a RuleStore implementation.
// It propagates out of ExecuteRules unchanged.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("rule store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrStore) match any StoreError.
func (e *StoreError) Is(target error) bool {
	return target == ErrStore
}

func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// ValidationError lists every problem found while validating a definition.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return fmt.Sprintf("%v: %s", ErrInvalidRule, e.Problems[0])
	}
	return fmt.Sprintf("%v: %d problems: %v", ErrInvalidRule, len(e.Problems), e.Problems)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidRule
}
