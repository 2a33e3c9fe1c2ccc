// Package errors provides a lightweight structured error type (PipelineError)
// for category-based classification of build failures in the orchestrator and CLI.
package errors

import (
	"fmt"
)

// ErrorCategory represents the category of a pipeline error for classification
type ErrorCategory string

const (
	// User-facing configuration and input errors
	CategoryConfig   ErrorCategory = "config"
	CategoryManifest ErrorCategory = "manifest"

	// External collaborator errors
	CategoryProvision ErrorCategory = "provision"
	CategoryInstall   ErrorCategory = "install"
	CategoryCompile   ErrorCategory = "compile"
	CategoryTypeCheck ErrorCategory = "typecheck"

	// Storage and infrastructure errors
	CategoryPromotion  ErrorCategory = "promotion"
	CategoryCache      ErrorCategory = "cache"
	CategoryFileSystem ErrorCategory = "filesystem"
	CategoryUnknown    ErrorCategory = "unknown"
)

// ErrorSeverity indicates how critical an error is
type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"   // Stops the build
	SeverityError   ErrorSeverity = "error"   // Error, but not fatal
	SeverityWarning ErrorSeverity = "warning" // Continues with degraded output
	SeverityInfo    ErrorSeverity = "info"    // Informational, no impact
)

// PipelineError is a structured error with category, retryability, and context
type PipelineError struct {
	Category  ErrorCategory `json:"category"`
	Severity  ErrorSeverity `json:"severity"`
	Message   string        `json:"message"`
	Cause     error         `json:"cause,omitempty"`
	Retryable bool          `json:"retryable"`
	Context   ContextFields `json:"context,omitempty"`
}

// ContextFields carries structured context for PipelineError
type ContextFields map[string]any

// Error implements the error interface
func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Category, e.Severity, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s (%s): %s", e.Category, e.Severity, e.Message)
}

// Unwrap implements error unwrapping for Go 1.13+ error handling
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error
func (e *PipelineError) WithContext(key string, value any) *PipelineError {
	if e.Context == nil {
		e.Context = make(ContextFields)
	}
	e.Context[key] = value
	return e
}

// New creates a new PipelineError
func New(category ErrorCategory, severity ErrorSeverity, message string) *PipelineError {
	return &PipelineError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Retryable: false,
	}
}

// Wrap creates a new PipelineError that wraps an existing error
func Wrap(err error, category ErrorCategory, severity ErrorSeverity, message string) *PipelineError {
	return &PipelineError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Cause:     err,
		Retryable: false,
	}
}

// WrapRetryable creates a retryable PipelineError that wraps an existing error
func WrapRetryable(err error, category ErrorCategory, severity ErrorSeverity, message string) *PipelineError {
	e := Wrap(err, category, severity, message)
	e.Retryable = true
	return e
}

// IsCategory reports whether err (or any error it wraps) is a PipelineError
// with the given category.
func IsCategory(err error, category ErrorCategory) bool {
	for err != nil {
		if pe, ok := err.(*PipelineError); ok && pe.Category == category {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// CategoryOf returns the category of the outermost PipelineError in the chain,
// or CategoryUnknown if the chain contains none.
func CategoryOf(err error) ErrorCategory {
	for err != nil {
		if pe, ok := err.(*PipelineError); ok {
			return pe.Category
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return CategoryUnknown
}
