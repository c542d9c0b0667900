package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrQuotaExhausted is a normal halt condition, not a failure
	ErrQuotaExhausted = errors.New("daily quota exhausted")
	// ErrStoreUnavailable means state can no longer be persisted safely
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrNotFound          = errors.New("not found")
	ErrRunActive         = errors.New("profile already has an active run")
	ErrInvalidTransition = errors.New("invalid run status transition")
)

// FieldProblem describes one invalid field of a request
type FieldProblem struct {
	Field   string `json:"field"`
	Problem string `json:"problem"`
}

// ValidationError rejects a whole request before any work starts
type ValidationError struct {
	Problems []FieldProblem
}

// NewValidationError creates a ValidationError with a single problem
func NewValidationError(field, problem string) *ValidationError {
	return &ValidationError{Problems: []FieldProblem{{Field: field, Problem: problem}}}
}

// Add appends a problem
func (e *ValidationError) Add(field, problem string) {
	e.Problems = append(e.Problems, FieldProblem{Field: field, Problem: problem})
}

// HasProblems reports whether any problem was recorded
func (e *ValidationError) HasProblems() bool {
	return len(e.Problems) > 0
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, p.Field+": "+p.Problem)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// ConfigurationError fails a single profile's worker
type ConfigurationError struct {
	ProfileID string
	Reason    string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("profile %s misconfigured: %s", e.ProfileID, e.Reason)
}

// GeneratorFailure is a per-ticker report generation failure
type GeneratorFailure struct {
	Err    error
	Ticker string
}

func (e *GeneratorFailure) Error() string {
	return fmt.Sprintf("report generation failed for %s: %v", e.Ticker, e.Err)
}

func (e *GeneratorFailure) Unwrap() error { return e.Err }

// PublisherFailure is a per-ticker publish failure.
// Permanent failures are not retried.
type PublisherFailure struct {
	Err        error
	StatusCode int
	Permanent  bool
}

func (e *PublisherFailure) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("publish failed (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("publish failed: %v", e.Err)
}

func (e *PublisherFailure) Unwrap() error { return e.Err }

// IsPermanent reports whether err is a publisher failure that retrying cannot fix
func IsPermanent(err error) bool {
	var pf *PublisherFailure
	return errors.As(err, &pf) && pf.Permanent
}

// StoreError wraps a persistence failure so that errors.Is(err, ErrStoreUnavailable) holds
type StoreError struct {
	Err error
	Op  string
}

// NewStoreError wraps err as a store failure of operation op
func NewStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: store unavailable: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStoreUnavailable }
