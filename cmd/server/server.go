package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/liamcoop/businessrules/internal/logger"
	"github.com/liamcoop/businessrules/rules"
	"github.com/liamcoop/businessrules/ruletest"
)

// ServerOptions configures optional server dependencies.
type ServerOptions struct {
	// DB is pinged by the health check when the Postgres store is in use.
	DB *sql.DB
	// Gatherer serves MetricsPath when set.
	Gatherer    prometheus.Gatherer
	MetricsPath string

	MaxBodyBytes         int64
	SlowRequestThreshold time.Duration
}

type Server struct {
	engine *rules.Engine
	runner *ruletest.Runner
	opts   ServerOptions
	router *chi.Mux
}

func NewServer(engine *rules.Engine, runner *ruletest.Runner, opts ServerOptions) *Server {
	s := &Server{
		engine: engine,
		runner: runner,
		opts:   opts,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	if s.opts.Gatherer != nil {
		r.Handle(s.opts.MetricsPath, promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Get("/api/v1/health", s.handleHealth)

	// Rule set evaluation
	r.Post("/api/v1/evaluate", s.handleEvaluate)

	r.Route("/api/v1/rules", func(r chi.Router) {
		r.Get("/", s.handleListRules)
		r.Post("/", s.handleCreateRule)

		r.Route("/{ruleId}", func(r chi.Router) {
			r.Get("/", s.handleGetRule)
			r.Put("/", s.handleUpdateRule)
			r.Delete("/", s.handleDeleteRule)

			r.Get("/versions", s.handleListVersions)
			r.Post("/versions", s.handleCreateVersion)
			r.Get("/versions/{version}", s.handleGetVersion)
			r.Post("/versions/{version}/activate", s.handleActivateVersion)
			r.Post("/deactivate", s.handleDeactivateRule)

			r.Post("/execute", s.handleExecuteRule)
			r.Get("/executions", s.handleListExecutions)
			r.Post("/test", s.handleRunTests)
		})
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requestLogger logs every request and feeds the HTTP counters in internal/logger.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		elapsed := time.Since(start)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		slow := s.opts.SlowRequestThreshold > 0 && elapsed > s.opts.SlowRequestThreshold
		logger.CountRequest(status, slow)

		logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration_ms", elapsed.Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// statusFor maps package errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, rules.ErrInvalidRule):
		return http.StatusBadRequest
	case errors.Is(err, rules.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, rules.ErrDuplicateName), errors.Is(err, rules.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, rules.ErrNoActiveVersion),
		errors.Is(err, rules.ErrInvalidCondition),
		errors.Is(err, rules.ErrUnsupportedOperator),
		errors.Is(err, rules.ErrUnsupportedActionType),
		errors.Is(err, rules.ErrCustomFunctionUnimplemented),
		errors.Is(err, rules.ErrExpression):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// actor identifies the caller for audit fields.
func actor(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}
	return "api"
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	body := r.Body
	if s.opts.MaxBodyBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
	}
	return json.NewDecoder(body).Decode(v)
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := ErrorResponse{Error: message}
	if err != nil {
		response.Details = err.Error()
		var verr *rules.ValidationError
		if errors.As(err, &verr) {
			response.Problems = verr.Problems
		}
	}
	respondJSON(w, status, response)
}

// respondErr picks the status from the error.
func respondErr(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status >= 500 {
		logger.Error(message, "error", err)
	}
	respondError(w, status, message, err)
}
