package main

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/liamcoop/businessrules/internal/logger"
	"github.com/liamcoop/businessrules/rules"
	"github.com/liamcoop/businessrules/ruletest"
)

const defaultExecutionLimit = 50

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "healthy", Store: "memory", Counters: logger.Counters()}
	if s.opts.DB != nil {
		resp.Store = "postgres"
		if err := s.opts.DB.PingContext(r.Context()); err != nil {
			resp.Status = "unhealthy"
			resp.Error = err.Error()
			respondJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// Rule set evaluation handler
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := s.decode(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if !req.Type.Valid() {
		respondError(w, http.StatusBadRequest, "a valid rule type is required", nil)
		return
	}
	if req.Context.Data == nil {
		respondError(w, http.StatusBadRequest, "context.data is required", nil)
		return
	}

	result, err := s.engine.ExecuteRules(r.Context(), req.Type, &req.Context)
	if err != nil {
		respondErr(w, "evaluation failed", err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// List rules handler. Supports type, status, category and enabled query filters.
func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := rules.RuleFilter{
		Type:     rules.RuleType(q.Get("type")),
		Status:   rules.RuleStatus(q.Get("status")),
		Category: q.Get("category"),
	}
	if v := q.Get("enabled"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "enabled must be a boolean", err)
			return
		}
		filter.Enabled = &enabled
	}

	list, err := s.engine.ListRules(r.Context(), filter)
	if err != nil {
		respondErr(w, "failed to list rules", err)
		return
	}
	if list == nil {
		list = []*rules.BusinessRule{}
	}
	respondJSON(w, http.StatusOK, RulesListResponse{Rules: list})
}

// Create rule handler
func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req CreateRuleRequest
	if err := s.decode(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.CreatedBy == "" {
		req.CreatedBy = actor(r)
	}

	rule, err := s.engine.CreateRule(r.Context(), req)
	if err != nil {
		respondErr(w, "failed to create rule", err)
		return
	}
	respondJSON(w, http.StatusCreated, rule)
}

// Get rule handler
func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.engine.GetRule(r.Context(), chi.URLParam(r, "ruleId"))
	if err != nil {
		respondErr(w, "failed to get rule", err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

// Update rule handler
func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var req UpdateRuleRequest
	if err := s.decode(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.UpdatedBy == "" {
		req.UpdatedBy = actor(r)
	}

	rule, err := s.engine.UpdateRule(r.Context(), chi.URLParam(r, "ruleId"), req)
	if err != nil {
		respondErr(w, "failed to update rule", err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

// Delete rule handler
func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteRule(r.Context(), chi.URLParam(r, "ruleId"), actor(r)); err != nil {
		respondErr(w, "failed to delete rule", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// List versions handler
func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := s.engine.GetRuleVersions(r.Context(), chi.URLParam(r, "ruleId"))
	if err != nil {
		respondErr(w, "failed to list versions", err)
		return
	}
	if versions == nil {
		versions = []*rules.RuleVersion{}
	}
	respondJSON(w, http.StatusOK, VersionsListResponse{Versions: versions})
}

// Create version handler
func (s *Server) handleCreateVersion(w http.ResponseWriter, r *http.Request) {
	var req CreateVersionRequest
	if err := s.decode(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	version, err := s.engine.CreateRuleVersion(r.Context(), chi.URLParam(r, "ruleId"), req, actor(r))
	if err != nil {
		respondErr(w, "failed to create version", err)
		return
	}
	respondJSON(w, http.StatusCreated, version)
}

// Get version handler
func (s *Server) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	number, ok := versionParam(w, r)
	if !ok {
		return
	}
	version, err := s.engine.GetRuleVersion(r.Context(), chi.URLParam(r, "ruleId"), number)
	if err != nil {
		respondErr(w, "failed to get version", err)
		return
	}
	respondJSON(w, http.StatusOK, version)
}

// Activate version handler
func (s *Server) handleActivateVersion(w http.ResponseWriter, r *http.Request) {
	number, ok := versionParam(w, r)
	if !ok {
		return
	}
	rule, err := s.engine.ActivateRuleVersion(r.Context(), chi.URLParam(r, "ruleId"), number, actor(r))
	if err != nil {
		respondErr(w, "failed to activate version", err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

// Deactivate rule handler
func (s *Server) handleDeactivateRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.engine.DeactivateRule(r.Context(), chi.URLParam(r, "ruleId"), actor(r))
	if err != nil {
		respondErr(w, "failed to deactivate rule", err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

// Single rule execution handler
func (s *Server) handleExecuteRule(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRuleRequest
	if err := s.decode(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	rule, err := s.engine.GetRule(r.Context(), chi.URLParam(r, "ruleId"))
	if err != nil {
		respondErr(w, "failed to get rule", err)
		return
	}
	if req.Context.UserID == "" {
		req.Context.UserID = actor(r)
	}

	result, err := s.engine.ExecuteRule(r.Context(), rule, &req.Context)
	if err != nil {
		respondErr(w, "rule execution failed", err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Execution history handler
func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	limit := defaultExecutionLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer", err)
			return
		}
		limit = n
	}

	executions, err := s.engine.GetExecutionHistory(r.Context(), chi.URLParam(r, "ruleId"), limit)
	if err != nil {
		respondErr(w, "failed to list executions", err)
		return
	}
	if executions == nil {
		executions = []*rules.RuleExecution{}
	}
	respondJSON(w, http.StatusOK, ExecutionsListResponse{Executions: executions})
}

// Test suite handler. An empty body runs the stored or synthesized fixtures of the
// active version.
func (s *Server) handleRunTests(w http.ResponseWriter, r *http.Request) {
	var req RunTestsRequest
	if r.ContentLength != 0 {
		if err := s.decode(w, r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body", err)
			return
		}
	}

	report, err := s.runner.ExecuteTestSuite(r.Context(), ruletest.Suite{
		Name:      req.Name,
		RuleID:    chi.URLParam(r, "ruleId"),
		Version:   req.Version,
		TestCases: req.TestCases,
	})
	if err != nil {
		respondErr(w, "failed to run test suite", err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func versionParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	number, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil || number < 1 {
		respondError(w, http.StatusBadRequest, "version must be a positive integer", err)
		return 0, false
	}
	return number, true
}
