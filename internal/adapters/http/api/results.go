package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/okian/pagespeed/internal/adapters/repository"
	"github.com/okian/pagespeed/internal/domain/model"
)

// ResultsDependencies defines the read operations over stored results.
type ResultsDependencies interface {
	Get(ctx context.Context, id string) (model.ScoreResult, error)
	List(ctx context.Context, f repository.Filter) ([]model.ScoreResult, error)
}

// ResultsHandler handles stored result queries.
type ResultsHandler struct {
	deps ResultsDependencies
}

// NewResultsHandler creates a new results handler.
func NewResultsHandler(deps ResultsDependencies) *ResultsHandler {
	return &ResultsHandler{deps: deps}
}

// HandleList handles GET /api/results?url=&device=&limit= requests.
func (h *ResultsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_results"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}

	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid limit", WrapKind(op, ErrBadRequest, err))
		return
	}
	f := repository.Filter{URL: strings.TrimSpace(q.Get("url")), Limit: limit}
	if raw := q.Get("device"); raw != "" {
		d, err := model.ParseDevice(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "Invalid device", WrapKind(op, ErrBadRequest, err))
			return
		}
		f.Device = d
	}

	results, err := h.deps.List(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "Error listing results", NewKind(op, ErrInternal))
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Results: results, Limit: limit})
}

// HandleGet handles GET /api/results/{id} requests.
func (h *ResultsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_result"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	// Extract path parameter after /api/results/
	id := strings.TrimPrefix(r.URL.Path, "/api/results/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid result id", NewKind(op, ErrBadRequest))
		return
	}

	result, err := h.deps.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "Result not found", NewKind(op, ErrNotFound))
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "Error reading result", NewKind(op, ErrInternal))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// parseLimit accepts 1..MaxListLimit; empty means the default.
func parseLimit(raw string) (int, error) {
	if raw == "" {
		return repository.DefaultListLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if n < 1 || n > repository.MaxListLimit {
		return 0, repository.ErrInvalidLimit
	}
	return n, nil
}
