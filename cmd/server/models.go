package main

import (
	"github.com/liamcoop/businessrules/rules"
	"github.com/liamcoop/businessrules/ruletest"
)

// API Request and Response Models

// EvaluateRequest represents the request body for running a rule set
type EvaluateRequest struct {
	Type    rules.RuleType    `json:"type" example:"COVERAGE" binding:"required"`
	Context rules.RuleContext `json:"context" binding:"required"`
} // @name EvaluateRequest

// ExecuteRuleRequest represents the request body for running a single rule
type ExecuteRuleRequest struct {
	Context rules.RuleContext `json:"context" binding:"required"`
} // @name ExecuteRuleRequest

// CreateRuleRequest represents the request body for creating a rule with version 1
type CreateRuleRequest = rules.CreateRuleInput

// UpdateRuleRequest represents the request body for patching rule metadata
type UpdateRuleRequest = rules.UpdateRuleInput

// CreateVersionRequest represents the request body for appending a version
type CreateVersionRequest = rules.VersionInput

// RunTestsRequest represents the request body for running a rule's test suite
type RunTestsRequest struct {
	Name      string               `json:"name,omitempty" example:"regression"`
	Version   int                  `json:"version,omitempty" example:"2"`
	TestCases []rules.RuleTestCase `json:"testCases,omitempty"`
} // @name RunTestsRequest

// RulesListResponse represents the response for listing rules
type RulesListResponse struct {
	Rules []*rules.BusinessRule `json:"rules"`
} // @name RulesListResponse

// VersionsListResponse represents the response for listing versions, newest first
type VersionsListResponse struct {
	Versions []*rules.RuleVersion `json:"versions"`
} // @name VersionsListResponse

// ExecutionsListResponse represents the response for execution history, newest first
type ExecutionsListResponse struct {
	Executions []*rules.RuleExecution `json:"executions"`
} // @name ExecutionsListResponse

// TestSuiteResponse represents a test suite report
type TestSuiteResponse = ruletest.SuiteResult

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error    string   `json:"error" example:"failed to create rule"`
	Details  string   `json:"details,omitempty" example:"rule name already exists"`
	Problems []string `json:"problems,omitempty"`
} // @name ErrorResponse

// HealthResponse represents the health check response
type HealthResponse struct {
	Status   string           `json:"status" example:"healthy"`
	Store    string           `json:"store" example:"postgres"`
	Error    string           `json:"error,omitempty"`
	Counters map[string]int64 `json:"counters,omitempty"`
} // @name HealthResponse
