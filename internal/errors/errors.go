package errors

import (
	"errors"
	"fmt"
)

// ErrorType classifies pipeline errors by origin
type ErrorType string

const (
	// ErrorTypeConfiguration covers invalid or mutually exclusive options.
	// Always raised before any data is read.
	ErrorTypeConfiguration ErrorType = "configuration"
	// ErrorTypeValidation covers malformed input tables (missing columns,
	// unknown subjects in strict mode, empty cohort).
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeIntegrity covers person-time conservation violations and
	// duplicate cohort ids. Fatal only under strict diagnostics.
	ErrorTypeIntegrity ErrorType = "integrity"
	// ErrorTypeIO covers dataset read/write failures.
	ErrorTypeIO ErrorType = "io"
)

// PipelineError is the error type returned by every stage of the
// time-varying exposure pipeline.
type PipelineError struct {
	Type    ErrorType              `json:"type"`
	Stage   string                 `json:"stage,omitempty"`
	Message string                 `json:"message"`
	Cause   error                  `json:"cause,omitempty"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *PipelineError) Error() string {
	if e == nil {
		return "unknown pipeline error"
	}
	if e.Stage != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Type, e.Stage, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *PipelineError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// WithContext attaches a key/value pair to the error context
func (e *PipelineError) WithContext(key string, value interface{}) *PipelineError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewConfigurationError reports an invalid option combination or value
func NewConfigurationError(message string) *PipelineError {
	return &PipelineError{
		Type:    ErrorTypeConfiguration,
		Message: message,
	}
}

// NewConfigurationErrorf formats a configuration error message
func NewConfigurationErrorf(format string, args ...interface{}) *PipelineError {
	return NewConfigurationError(fmt.Sprintf(format, args...))
}

// NewValidationError reports malformed input data
func NewValidationError(stage, message string) *PipelineError {
	return &PipelineError{
		Type:    ErrorTypeValidation,
		Stage:   stage,
		Message: message,
	}
}

// NewValidationErrorf formats a validation error message
func NewValidationErrorf(stage, format string, args ...interface{}) *PipelineError {
	return NewValidationError(stage, fmt.Sprintf(format, args...))
}

// NewIntegrityError reports a violated output invariant
func NewIntegrityError(stage, message string) *PipelineError {
	return &PipelineError{
		Type:    ErrorTypeIntegrity,
		Stage:   stage,
		Message: message,
	}
}

// NewIOError wraps a dataset read/write failure
func NewIOError(stage string, cause error) *PipelineError {
	return &PipelineError{
		Type:    ErrorTypeIO,
		Stage:   stage,
		Message: cause.Error(),
		Cause:   cause,
	}
}

// typeOf extracts the ErrorType from an error chain, or "" when the chain
// holds no PipelineError.
func typeOf(err error) ErrorType {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Type
	}
	return ""
}

// IsConfiguration reports whether err is a configuration error
func IsConfiguration(err error) bool { return typeOf(err) == ErrorTypeConfiguration }

// IsValidation reports whether err is a validation error
func IsValidation(err error) bool { return typeOf(err) == ErrorTypeValidation }

// IsIntegrity reports whether err is an integrity error
func IsIntegrity(err error) bool { return typeOf(err) == ErrorTypeIntegrity }
