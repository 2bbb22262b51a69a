package api

import (
	"net/http"

	json "github.com/goccy/go-json"

	"github.com/funnel-metrics/internal/errors"
	"github.com/funnel-metrics/internal/logging"
	"github.com/funnel-metrics/internal/types"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error types.ServiceError `json:"error"`
}

// Common error codes
const (
	ErrCodeInvalidInput      = "INVALID_INPUT"
	ErrCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternalError     = "INTERNAL_ERROR"
)

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	writeError(w, statusCode, &types.ServiceError{
		Code:    code,
		Message: message,
		Details: details,
	})
}

func writeError(w http.ResponseWriter, statusCode int, svcErr *types.ServiceError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	json.NewEncoder(w).Encode(ErrorResponse{Error: *svcErr})
}

// respondServiceError maps a service error onto its status and error body.
// Server-side failures are logged with their cause and reported generically;
// vendor failures keep the vendor's text.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	catErr := errors.Categorize(err)
	status := errors.GetHTTPStatusCode(catErr)

	logger := logging.FromContext(r.Context()).WithError(err).WithField("code", catErr.Code)
	switch {
	case errors.IsUserError(catErr):
		logger.Warn("Request rejected")
	case status == http.StatusBadGateway:
		logger.Warn("Platform call failed")
	default:
		logger.Error("Request failed")
		respondError(w, status, catErr.Code, "An internal error occurred", nil)
		return
	}
	writeError(w, status, catErr.ToServiceError())
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}
