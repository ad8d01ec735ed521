package model

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError holds a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation failure on a named field.
type FieldError struct {
	Field   string
	Message string
}

// Error formats the validation error as a semicolon-separated list of field messages.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether the validation error contains any field errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// Field returns the first error recorded for field, if any.
func (e *ValidationError) Field(field string) (FieldError, bool) {
	for _, fe := range e.Errors {
		if fe.Field == field {
			return fe, true
		}
	}
	return FieldError{}, false
}

// ValidateSettings checks a Settings record for constraint violations.
// It returns a *ValidationError if any rules fail, or nil if the record is valid.
func ValidateSettings(s Settings) error {
	var ve ValidationError

	if strings.TrimSpace(s.SystemName) == "" {
		ve.Errors = append(ve.Errors, FieldError{Field: "systemName", Message: "is required"})
	} else if len([]rune(s.SystemName)) > 100 {
		ve.Errors = append(ve.Errors, FieldError{Field: "systemName", Message: "must be 100 characters or fewer"})
	}

	if u, err := url.Parse(s.APIEndpoint); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		ve.Errors = append(ve.Errors, FieldError{
			Field:   "apiEndpoint",
			Message: fmt.Sprintf("must be an absolute http(s) URL, got %q", s.APIEndpoint),
		})
	}

	if s.RefreshIntervalSeconds < 1 {
		ve.Errors = append(ve.Errors, FieldError{
			Field:   "refreshInterval",
			Message: fmt.Sprintf("must be at least 1 second, got %d", s.RefreshIntervalSeconds),
		})
	}

	if ve.HasErrors() {
		return &ve
	}
	return nil
}
