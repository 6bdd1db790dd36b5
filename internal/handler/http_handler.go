package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/gosight/gosight/analyzer/internal/apperr"
	"github.com/gosight/gosight/analyzer/internal/auth"
	"github.com/gosight/gosight/analyzer/internal/correlator"
	"github.com/gosight/gosight/analyzer/internal/model"
	"github.com/gosight/gosight/analyzer/internal/patterns"
	"github.com/gosight/gosight/analyzer/internal/ranking"
	"github.com/gosight/gosight/analyzer/internal/ratelimit"
	"github.com/gosight/gosight/analyzer/internal/service"
)

// API is the service surface served over HTTP
type API interface {
	RecomputePatterns(ctx context.Context) (patterns.Result, error)
	RecomputeInsights(ctx context.Context, projectID string) ([]model.Insight, error)
	ListInsights(ctx context.Context, q service.InsightQuery) ([]model.Insight, error)
	InsightSummary(ctx context.Context, projectID string) (ranking.Summary, error)
	SessionsForInsight(ctx context.Context, projectID, insightID string) ([]correlator.SessionMatch, error)
	SetInsightStatus(ctx context.Context, projectID, insightID, status string) (model.Insight, error)
	ListPatterns(ctx context.Context, projectID, status string, limit int) ([]model.Pattern, error)
	SetPatternStatus(ctx context.Context, projectID, patternID, status string) (model.Pattern, error)
}

type HTTPHandler struct {
	api     API
	limiter ratelimit.Limiter
}

func NewHTTPHandler(api API, limiter ratelimit.Limiter) *HTTPHandler {
	return &HTTPHandler{api: api, limiter: limiter}
}

type statusRequest struct {
	Status string `json:"status"`
}

type listResponse struct {
	Items  interface{} `json:"items"`
	Limit  int         `json:"limit,omitempty"`
	Offset int         `json:"offset,omitempty"`
}

func (h *HTTPHandler) HandleRecomputePatterns(w http.ResponseWriter, r *http.Request) {
	projectID := projectFrom(r)
	if !h.allow(w, r, projectID) {
		return
	}

	result, err := h.api.RecomputePatterns(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *HTTPHandler) HandleRecomputeInsights(w http.ResponseWriter, r *http.Request) {
	projectID := projectFrom(r)
	if !h.allow(w, r, projectID) {
		return
	}

	insights, err := h.api.RecomputeInsights(r.Context(), projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: nonNil(insights)})
}

func (h *HTTPHandler) HandleListInsights(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := intParam(q.Get("offset"), "offset")
	if err != nil {
		writeError(w, err)
		return
	}

	insights, err := h.api.ListInsights(r.Context(), service.InsightQuery{
		ProjectID: projectFrom(r),
		Type:      q.Get("type"),
		Severity:  q.Get("severity"),
		Status:    q.Get("status"),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: insights, Limit: limit, Offset: offset})
}

func (h *HTTPHandler) HandleInsightSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.api.InsightSummary(r.Context(), projectFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *HTTPHandler) HandleInsightSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.api.SessionsForInsight(r.Context(), projectFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: sessions})
}

func (h *HTTPHandler) HandleSetInsightStatus(w http.ResponseWriter, r *http.Request) {
	req, ok := readStatus(w, r)
	if !ok {
		return
	}

	insight, err := h.api.SetInsightStatus(r.Context(), projectFrom(r), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, insight)
}

func (h *HTTPHandler) HandleListPatterns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), "limit")
	if err != nil {
		writeError(w, err)
		return
	}

	list, err := h.api.ListPatterns(r.Context(), projectFrom(r), q.Get("status"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: list, Limit: limit})
}

func (h *HTTPHandler) HandleSetPatternStatus(w http.ResponseWriter, r *http.Request) {
	req, ok := readStatus(w, r)
	if !ok {
		return
	}

	pattern, err := h.api.SetPatternStatus(r.Context(), projectFrom(r), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pattern)
}

// allow applies the recompute rate limit keyed by project
func (h *HTTPHandler) allow(w http.ResponseWriter, r *http.Request, projectID string) bool {
	if h.limiter == nil {
		return true
	}

	ok, err := h.limiter.Allow(r.Context(), projectID)
	if err != nil {
		// Allow on error
		log.Warn().Err(err).Str("project_id", projectID).Msg("Rate limiter unavailable")
		return true
	}
	if !ok {
		writeMessage(w, http.StatusTooManyRequests, "Rate limit exceeded")
		return false
	}
	return true
}

func readStatus(w http.ResponseWriter, r *http.Request) (statusRequest, bool) {
	var req statusRequest

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Failed to read body")
		return req, false
	}
	defer r.Body.Close()

	if err := json.Unmarshal(body, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid JSON")
		return req, false
	}
	if req.Status == "" {
		writeError(w, apperr.Validation("status", "is required"))
		return req, false
	}
	return req, true
}

func intParam(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Validation(name, "must be an integer")
	}
	return n, nil
}

func projectFrom(r *http.Request) string {
	id, _ := auth.ProjectFrom(r.Context())
	return id
}

func nonNil(insights []model.Insight) []model.Insight {
	if insights == nil {
		return []model.Insight{}
	}
	return insights
}

// writeError maps the error taxonomy onto HTTP status codes. Not-found never
// says more than "not found".
func writeError(w http.ResponseWriter, err error) {
	switch {
	case apperr.IsValidation(err):
		writeMessage(w, http.StatusBadRequest, err.Error())
	case apperr.IsNotFound(err):
		writeMessage(w, http.StatusNotFound, "not found")
	case apperr.IsUpstream(err):
		log.Error().Err(err).Msg("Upstream failure")
		writeMessage(w, http.StatusServiceUnavailable, "upstream unavailable")
	default:
		log.Error().Err(err).Msg("Request failed")
		writeMessage(w, http.StatusInternalServerError, "internal error")
	}
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"message": message,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
