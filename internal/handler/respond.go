// internal/handler/respond.go
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/smsleopard-segments/internal/errors"
)

// WriteJSON encodes v as the response body.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// StatusFor maps service errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, appErrors.ErrInvalidInput),
		errors.Is(err, appErrors.ErrInvalidRule),
		errors.Is(err, appErrors.ErrNoMatchingAudience):
		return http.StatusBadRequest
	case errors.Is(err, appErrors.ErrDuplicateCustomer):
		return http.StatusConflict
	case appErrors.IsNotFound(err):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// WriteError writes {"error": ...}. Internal errors are logged and
// replaced by fallback so store details never reach the client.
func WriteError(w http.ResponseWriter, logger *zap.Logger, err error, fallback string) {
	status := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error(fallback, zap.Error(err))
		msg = fallback
	}
	WriteJSON(w, status, map[string]string{"error": msg})
}
