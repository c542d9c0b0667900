// Package respond writes JSON responses and maps domain errors to HTTP statuses.
package respond

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aristath/autopublish/internal/domain"
	"github.com/rs/zerolog"
)

// ErrorBody is the JSON shape of every error response
type ErrorBody struct {
	Error    string                `json:"error"`
	Problems []domain.FieldProblem `json:"problems,omitempty"`
}

// JSON writes data with the given status
func JSON(w http.ResponseWriter, log zerolog.Logger, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// Message writes an error body with a plain message
func Message(w http.ResponseWriter, log zerolog.Logger, status int, message string) {
	JSON(w, log, status, ErrorBody{Error: message})
}

// Status returns the HTTP status for err
func Status(err error) int {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrRunActive), errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error writes err with the status Status picks.
// Internal failures are logged and answered with a generic message.
func Error(w http.ResponseWriter, log zerolog.Logger, err error) {
	status := Status(err)

	body := ErrorBody{Error: err.Error()}
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		body.Error = "validation failed"
		body.Problems = verr.Problems
	case errors.Is(err, domain.ErrNotFound):
		body.Error = "not found"
	case status >= http.StatusInternalServerError:
		log.Error().Err(err).Int("status", status).Msg("Request failed")
		body.Error = http.StatusText(status)
	}

	JSON(w, log, status, body)
}

// Decode reads a JSON request body into v, rejecting unknown fields
func Decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.NewValidationError("body", "invalid JSON: "+err.Error())
	}
	return nil
}
