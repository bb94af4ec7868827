// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/okian/pagespeed/internal/domain/model"
	"github.com/okian/pagespeed/pkg/logger"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	RunDependencies
	ResultsDependencies
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler    *HealthHandler
	statsHandler     *StatsHandler
	runHandler       *RunHandler
	resultsHandler   *ResultsHandler
	dashboardHandler *dashboardHandler
}

// Option configures the Server.
type Option func(*serverOptions)

type serverOptions struct {
	logger logger.Logger
}

// WithLogger sets the logger used by handlers.
func WithLogger(l logger.Logger) Option {
	return func(o *serverOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...Option) *Server {
	o := serverOptions{logger: logger.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Server{
		healthHandler:    NewHealthHandler(),
		statsHandler:     NewStatsHandler(statsProvider),
		runHandler:       NewRunHandler(deps, o.logger),
		resultsHandler:   NewResultsHandler(deps),
		dashboardHandler: newDashboardHandler(),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	// Specific paths first (most specific to least specific)
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/metrics", s.healthHandler.HandleMetrics)
	mux.HandleFunc("/dashboard", s.dashboardHandler.HandleDashboard)
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/api/run-pagespeed", MetricsMiddleware(s.runHandler.HandleRun, "run_pagespeed"))
	mux.HandleFunc("/api/results", MetricsMiddleware(s.resultsHandler.HandleList, "results"))
	mux.HandleFunc("/api/results/", MetricsMiddleware(s.resultsHandler.HandleGet, "result"))
}

// runRequest mirrors the OpenAPI schema for POST /api/run-pagespeed.
// Fields stay raw so a non-string value can be told apart from an absent one.
type runRequest struct {
	URLs    json.RawMessage `json:"urls"`
	URL     json.RawMessage `json:"url"`
	Devices []string        `json:"devices"`
}

type batchResponse struct {
	Message string              `json:"message"`
	Results []model.ScoreResult `json:"results"`
}

type singleResponse struct {
	Message  string  `json:"message"`
	Score    float64 `json:"score"`
	ResultID string  `json:"resultId"`
}

type listResponse struct {
	Results []model.ScoreResult `json:"results"`
	Limit   int                 `json:"limit"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes {code, message, error}. err may be nil, in which case the
// error field is omitted.
func writeError(w http.ResponseWriter, status int, code, message string, err error) {
	if message == "" {
		message = http.StatusText(status)
	}
	if ec, ok := w.(errorCoder); ok {
		ec.setErrorCode(code)
	}
	resp := errorResponse{Code: code, Message: message}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, status, resp)
}
