package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"go-query-pipeline/internal/model"
)

var requestValidate = validator.New()

// QueryService is the part of pipeline.Service the handlers need
type QueryService interface {
	Answer(ctx context.Context, req model.Request) (*model.Answer, error)
	Stats() model.Stats
	InvalidateCache(pattern string) int
}

// ErrorResponse is the body of every non-2xx answer
type ErrorResponse struct {
	Error    string `json:"error"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
	Question string `json:"question,omitempty"`
}

// InvalidateResponse reports how many cache entries were dropped
type InvalidateResponse struct {
	Pattern string `json:"pattern"`
	Removed int    `json:"removed"`
}

// Handler exposes the query pipeline over HTTP
type Handler struct {
	svc    QueryService
	logger *slog.Logger
}

// New creates the handler set
func New(svc QueryService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger.With("component", "api")}
}

// Query answers one business question
// @Summary Answer a business question
// @Description Interpret the question, compute exact metrics and return the bounded context
// @Tags query
// @Accept json
// @Produce json
// @Param request body model.Request true "Question, optional overrides and filters"
// @Success 200 {object} model.Answer "Answer"
// @Failure 400 {object} ErrorResponse "Invalid payload or filter"
// @Failure 404 {object} ErrorResponse "No data for the requested filters"
// @Failure 422 {object} ErrorResponse "Question needs clarification"
// @Failure 503 {object} ErrorResponse "Dependency unavailable"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /query [post]
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	var req model.Request
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_payload", Message: "Invalid JSON payload"})
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if err := requestValidate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_payload", Message: validationMessage(err)})
		return
	}

	ans, err := h.svc.Answer(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ans)
}

// Stats returns component snapshots
// @Summary Pipeline statistics
// @Description Pool, cache, circuit breaker and retry counters
// @Tags ops
// @Produce json
// @Success 200 {object} model.Stats "Snapshot"
// @Router /stats [get]
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Stats())
}

// InvalidateCache drops cached results by signature substring
// @Summary Invalidate cached results
// @Description Remove cache entries whose query signature contains the pattern; no pattern clears the cache
// @Tags ops
// @Produce json
// @Param pattern query string false "Signature substring, e.g. une=1685"
// @Success 200 {object} InvalidateResponse "Entries removed"
// @Router /cache [delete]
func (h *Handler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")
	removed := h.svc.InvalidateCache(pattern)
	writeJSON(w, http.StatusOK, InvalidateResponse{Pattern: pattern, Removed: removed})
}

// Health is a liveness probe
// @Summary Liveness probe
// @Tags ops
// @Produce json
// @Success 200 {object} map[string]string "ok"
// @Router /health [get]
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeError maps typed pipeline errors onto HTTP statuses
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		clarify   *model.NeedsClarificationError
		noData    *model.NoDataError
		exhausted *model.ResourceExhaustedError
		open      *model.CircuitBreakerOpenError
	)
	resp := ErrorResponse{Error: string(model.KindOf(err)), Message: err.Error()}
	status := http.StatusInternalServerError

	switch {
	case errors.As(err, &clarify):
		status = http.StatusUnprocessableEntity
		resp.Field = clarify.Field
		resp.Question = clarify.Question
	case errors.As(err, &noData):
		status = http.StatusNotFound
	case errors.As(err, &open):
		status = http.StatusServiceUnavailable
		if secs := int(math.Ceil(open.RetryAfter.Seconds())); secs > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
	case errors.As(err, &exhausted):
		status = http.StatusServiceUnavailable
	case errors.Is(err, model.ErrInvalidFilter):
		status = http.StatusBadRequest
		resp.Error = "invalid_filter"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		status = http.StatusGatewayTimeout
		resp.Error = "timeout"
	}
	if resp.Error == "" {
		resp.Error = "internal"
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("query failed", "path", r.URL.Path, "status", status, "error", err)
	} else {
		h.logger.Info("query rejected", "path", r.URL.Path, "status", status, "kind", resp.Error)
	}
	writeJSON(w, status, resp)
}

// validationMessage names the first offending field
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		if fe.Param() != "" {
			return fmt.Sprintf("%s failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param())
		}
		return fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag())
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
