package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/pipetrace-io/pipetrace/internal/api/middleware"
	"github.com/pipetrace-io/pipetrace/internal/lineage"
	"github.com/pipetrace-io/pipetrace/internal/metadata"
	"github.com/pipetrace-io/pipetrace/internal/storage"
)

// ProblemDetail represents an RFC 7807 Problem Details structure.
// See https://tools.ietf.org/html/rfc7807 for specification.
type ProblemDetail struct {
	Type          string `json:"type"`
	Title         string `json:"title"`
	Status        int    `json:"status"`
	Detail        string `json:"detail,omitempty"`
	Instance      string `json:"instance,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// NewProblemDetail creates a new RFC 7807 Problem Detail.
func NewProblemDetail(status int, title, detail string) *ProblemDetail {
	return &ProblemDetail{
		Type:   fmt.Sprintf("https://pipetrace.io/problems/%d", status),
		Title:  title,
		Status: status,
		Detail: detail,
	}
}

// WriteErrorResponse writes an RFC 7807 compliant error response.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, logger *slog.Logger, problem *ProblemDetail) {
	correlationID := middleware.GetCorrelationID(r.Context())

	if problem.CorrelationID == "" {
		problem.CorrelationID = correlationID
	}

	if problem.Instance == "" {
		problem.Instance = r.URL.Path
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(problem.Status)

	if err := json.NewEncoder(w).Encode(problem); err != nil {
		logger.Error("Failed to encode error response",
			slog.String("correlation_id", correlationID),
			slog.String("path", r.URL.Path),
			slog.Any("encode_error", err),
			slog.Int("status", problem.Status),
		)

		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// Common error constructors for frequently used errors.

// InternalServerError creates a 500 Internal Server Error problem.
func InternalServerError(detail string) *ProblemDetail {
	return NewProblemDetail(http.StatusInternalServerError, "Internal Server Error", detail)
}

// BadRequest creates a 400 Bad Request problem.
func BadRequest(detail string) *ProblemDetail {
	return NewProblemDetail(http.StatusBadRequest, "Bad Request", detail)
}

// NotFound creates a 404 Not Found problem.
func NotFound(detail string) *ProblemDetail {
	return NewProblemDetail(http.StatusNotFound, "Not Found", detail)
}

// Conflict creates a 409 Conflict problem.
func Conflict(detail string) *ProblemDetail {
	return NewProblemDetail(http.StatusConflict, "Conflict", detail)
}

// UnprocessableEntity creates a 422 Unprocessable Entity problem.
func UnprocessableEntity(detail string) *ProblemDetail {
	return NewProblemDetail(http.StatusUnprocessableEntity, "Unprocessable Entity", detail)
}

// ServiceUnavailable creates a 503 Service Unavailable problem.
func ServiceUnavailable(detail string) *ProblemDetail {
	return NewProblemDetail(http.StatusServiceUnavailable, "Service Unavailable", detail)
}

// problemFromError maps domain errors to HTTP problem responses. Missing
// entities map to 404, bad selectors to 400, rejected state transitions to
// 409, malformed lineage graphs to 422 and store outages to 503; everything
// else is a 500.
func problemFromError(err error) *ProblemDetail {
	var (
		traceErr *lineage.TraceError
		storeErr *metadata.StoreError
	)

	// TraceError may wrap ErrNotFound (missing producer), so it is checked
	// before the plain not-found mapping.
	switch {
	case errors.As(err, &traceErr):
		return UnprocessableEntity(err.Error())
	case errors.Is(err, metadata.ErrNotFound):
		return NotFound(err.Error())
	case errors.Is(err, lineage.ErrSelectorConflict),
		errors.Is(err, metadata.ErrInvalidComponentID),
		errors.Is(err, metadata.ErrInvalidState):
		return BadRequest(err.Error())
	case errors.Is(err, storage.ErrInvalidStateTransition):
		return Conflict(err.Error())
	case errors.As(err, &storeErr):
		return ServiceUnavailable("metadata store unavailable")
	default:
		return InternalServerError(err.Error())
	}
}
