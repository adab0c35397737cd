package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"ecolearn-gamification/internal/domain"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	RequestID string `json:"requestId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	writeJSON(w, status, ErrorResponse{
		Code:      code,
		Message:   err.Error(),
		Retryable: domain.IsRetryable(err),
		RequestID: RequestID(r.Context()),
	})
}

// classify maps the error taxonomy onto HTTP statuses.
func classify(err error) (int, string) {
	var authErr *domain.AuthError
	switch {
	case errors.As(err, &authErr):
		if authErr.Reason == domain.AuthExpired {
			return http.StatusUnauthorized, "TOKEN_EXPIRED"
		}
		return http.StatusUnauthorized, "INVALID_TOKEN"
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "VALIDATION_FAILED"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "CONFLICT"
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "STORE_UNAVAILABLE"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMEOUT"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}
