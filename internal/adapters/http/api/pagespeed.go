package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/okian/pagespeed/internal/adapters/pagespeed"
	"github.com/okian/pagespeed/internal/adapters/repository"
	service "github.com/okian/pagespeed/internal/app"
	"github.com/okian/pagespeed/internal/domain/model"
	"github.com/okian/pagespeed/pkg/logger"
)

// Response messages.
const (
	msgBatchOK     = "PageSpeed tests completed successfully"
	msgSingleOK    = "PageSpeed test completed successfully"
	msgRateLimited = "Rate limit exceeded. Please try again later."
	msgRunFailed   = "Error running PageSpeed test"
	msgURLsInvalid = "URLs are required and must be a comma-separated string"
	msgURLRequired = "URL is required"
	msgTooManyURLs = "Too many URLs"
)

// maxRunBody bounds the request body; 30 URLs fit comfortably.
const maxRunBody = 64 << 10

// RunDependencies defines what the run endpoint needs from the service.
type RunDependencies interface {
	Ready() error
	RunBatch(ctx context.Context, rawURLs string, devices []model.Device) ([]model.ScoreResult, error)
	RunSingle(ctx context.Context, rawURL string) (model.ScoreResult, error)
}

// RunHandler handles PageSpeed run requests.
type RunHandler struct {
	deps   RunDependencies
	logger logger.Logger
}

// NewRunHandler creates a new run handler.
func NewRunHandler(deps RunDependencies, l logger.Logger) *RunHandler {
	if l == nil {
		l = logger.Nop()
	}
	return &RunHandler{deps: deps, logger: l}
}

// HandleRun handles POST /api/run-pagespeed requests.
// Body {urls} runs a batch; the legacy body {url} runs one URL on mobile.
func (h *RunHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	const op = "api.run_pagespeed"
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "", nil)
		return
	}

	// Configuration comes first so a missing key is reported even for bad input.
	if err := h.deps.Ready(); err != nil {
		h.writeRunError(r.Context(), w, WrapKind(op, ErrInternal, err))
		return
	}

	var req runRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRunBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", msgURLsInvalid, WrapKind(op, ErrBadRequest, fmt.Errorf("invalid JSON body: %w", err)))
		return
	}

	devices, err := parseDevices(req.Devices)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "Invalid devices", WrapKind(op, ErrBadRequest, err))
		return
	}

	switch {
	case present(req.URLs):
		var raw string
		if err := json.Unmarshal(req.URLs, &raw); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_input", msgURLsInvalid, NewKind(op, errors.New("urls must be a string")))
			return
		}
		results, err := h.deps.RunBatch(r.Context(), raw, devices)
		if err != nil {
			h.writeRunError(r.Context(), w, Wrap(op, err))
			return
		}
		writeJSON(w, http.StatusOK, batchResponse{Message: msgBatchOK, Results: results})

	case present(req.URL):
		var raw string
		if err := json.Unmarshal(req.URL, &raw); err != nil || raw == "" {
			writeError(w, http.StatusBadRequest, "invalid_input", msgURLRequired, NewKind(op, errors.New("url must be a non-empty string")))
			return
		}
		result, err := h.deps.RunSingle(r.Context(), raw)
		if err != nil {
			h.writeRunError(r.Context(), w, Wrap(op, err))
			return
		}
		writeJSON(w, http.StatusOK, singleResponse{Message: msgSingleOK, Score: result.PerformanceScore, ResultID: result.ID})

	default:
		writeError(w, http.StatusBadRequest, "invalid_input", msgURLsInvalid, NewKind(op, errors.New("urls is required")))
	}
}

// writeRunError maps a batch failure to its status and body.
func (h *RunHandler) writeRunError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrTooManyURLs):
		writeError(w, http.StatusBadRequest, "too_many_urls", msgTooManyURLs, errors.Unwrap(err))
		return
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", msgURLsInvalid, errors.Unwrap(err))
		return
	case errors.Is(err, service.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate_limited", msgRateLimited, nil)
		return
	}

	code, detail := failureDetail(err)
	h.logger.Error(ctx, "pagespeed run failed",
		logger.String("op", opOf(err)),
		logger.String("code", code),
		logger.Error(err),
	)
	writeError(w, http.StatusInternalServerError, code, msgRunFailed, errors.New(detail))
}

// failureDetail picks what a 500 may tell the caller. Upstream and
// configuration messages are surfaced; storage and unknown failures are not.
func failureDetail(err error) (code, detail string) {
	var (
		ue *pagespeed.UpstreamError
		me *pagespeed.MalformedError
	)
	switch {
	case errors.Is(err, service.ErrConfiguration):
		return "configuration_error", "PageSpeed API key is not configured"
	case errors.As(err, &me):
		return "malformed_response", me.Error()
	case errors.As(err, &ue):
		return "upstream_error", ue.Message
	case errors.Is(err, repository.ErrPersist):
		return "persistence_error", repository.ErrPersist.Error()
	default:
		return "internal_error", ErrInternal.Error()
	}
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

func parseDevices(raw []string) ([]model.Device, error) {
	devices := make([]model.Device, 0, len(raw))
	for _, s := range raw {
		d, err := model.ParseDevice(s)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, nil
}
