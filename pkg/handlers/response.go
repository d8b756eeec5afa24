package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/contexthq/memory-engine/pkg/apperrors"
)

// ErrorDetail is the error payload shape for every endpoint.
type ErrorDetail struct {
	Detail string `json:"detail"`
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, detail string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(ErrorDetail{Detail: detail})
}

// HandleServiceError maps service-layer errors to HTTP status codes:
// validation failures to 422, missing resources to 404, everything else
// to 500 with a generic message.
func HandleServiceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, apperrors.ErrValidation):
		_ = ErrorResponse(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, apperrors.ErrNotFound):
		_ = ErrorResponse(w, http.StatusNotFound, err.Error())
	default:
		logger.Error("request failed", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "Internal server error")
	}
}
