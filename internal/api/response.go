package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"papermarket/internal/errors"
	"papermarket/internal/logging"
)

// WriteJSON writes a JSON response with the given status code and data.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// errorResponse is the standard error body.
type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

// WriteError writes an error body with a machine-readable code.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, errorResponse{Success: false, Error: message, Code: code})
}

// WriteDomainError maps a domain error onto a status and code.
func WriteDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		logger := logging.FromContext(r.Context())
		logger.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		message = "internal error"
	}
	WriteError(w, status, code, message)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, errors.ErrInsufficientFunds):
		return http.StatusBadRequest, "insufficient_funds"
	case errors.Is(err, errors.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, errors.ErrInvalidRange):
		return http.StatusBadRequest, "invalid_range"
	case errors.Is(err, errors.ErrInvalidOrder):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, errors.ErrPositionNotFound),
		errors.Is(err, errors.ErrOrderNotFound),
		errors.Is(err, errors.ErrSymbolNotFound),
		errors.Is(err, errors.ErrAccountNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, errors.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// ParseJSON decodes the request body into v. An empty body leaves v
// untouched.
func ParseJSON(r *http.Request, v any) error {
	ct := r.Header.Get("Content-Type")
	if ct != "" && !strings.HasPrefix(ct, "application/json") {
		return fmt.Errorf("request body must be JSON")
	}
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("request body must be valid JSON: %v", err)
	}
	return nil
}
