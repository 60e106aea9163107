package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/devrev/avcorr/internal/errors"
	"go.uber.org/zap"
)

// ErrorResponse represents the standard error response format.
type ErrorResponse struct {
	Status    string `json:"status"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// httpStatus maps a store error code to the HTTP status returned for it.
func httpStatus(err error) int {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	switch errors.GetCode(err) {
	case errors.ErrCodeInvalidArgument, errors.ErrCodeKeySpaceExhausted:
		return http.StatusBadRequest
	case errors.ErrCodeNotFound:
		return http.StatusNotFound
	case errors.ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleError writes err as a JSON error response. Server side failures are
// logged, caller errors are not.
func handleError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	code := httpStatus(err)
	requestID := r.Header.Get("X-Request-ID")
	if code >= http.StatusInternalServerError {
		logger.Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestID),
			zap.Int("status", code),
			zap.Error(err))
	}
	writeErrorResponse(w, code, errors.GetCode(err).String(), err.Error(), requestID)
}

func writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message, requestID string) {
	writeJSON(w, statusCode, ErrorResponse{
		Status:    "error",
		ErrorCode: errorCode,
		Message:   message,
		RequestID: requestID,
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}
