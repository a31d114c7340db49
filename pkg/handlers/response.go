package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ekaya-inc/ekaya-rules/pkg/apperrors"
)

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// errorStatus maps a service error to its HTTP status and error code.
// ok is false for errors without a client-facing meaning.
func errorStatus(err error) (status int, code string, ok bool) {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, "not_found", true
	case errors.Is(err, apperrors.ErrRunInProgress):
		return http.StatusConflict, "run_in_progress", true
	case errors.Is(err, apperrors.ErrConflict):
		return http.StatusConflict, "conflict", true
	case errors.Is(err, apperrors.ErrInvalidTag):
		return http.StatusUnprocessableEntity, "invalid_tag", true
	case errors.Is(err, apperrors.ErrInvalidRemediation),
		errors.Is(err, apperrors.ErrUnknownCharacteristic),
		errors.Is(err, apperrors.ErrCharacteristicHierarchy),
		errors.Is(err, apperrors.ErrInvalidConfiguration):
		return http.StatusUnprocessableEntity, "invalid_configuration", true
	}
	return http.StatusInternalServerError, "internal_error", false
}
