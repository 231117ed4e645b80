// Package domain defines the typed errors shared across the pipeline.
package domain

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies an error for retry and reporting purposes.
type ErrorCategory string

const (
	CategoryTransient     ErrorCategory = "transient"
	CategoryPermanent     ErrorCategory = "permanent"
	CategoryValidation    ErrorCategory = "validation"
	CategoryConfiguration ErrorCategory = "configuration"
)

// ErrorKind identifies the specific failure class.
type ErrorKind string

const (
	KindTransientService ErrorKind = "transient_service"
	KindPermanentService ErrorKind = "permanent_service"
	KindValidation       ErrorKind = "validation"
	KindInput            ErrorKind = "input"
	KindInvariant        ErrorKind = "invariant"
	KindConfiguration    ErrorKind = "configuration"
)

// PipelineError is the domain error carried between extractors, clients,
// and the orchestrator.
type PipelineError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Category maps the error kind to its retry category.
func (e *PipelineError) Category() ErrorCategory {
	switch e.Kind {
	case KindTransientService:
		return CategoryTransient
	case KindValidation:
		return CategoryValidation
	case KindConfiguration:
		return CategoryConfiguration
	default:
		return CategoryPermanent
	}
}

// NewError creates a new pipeline error.
func NewError(kind ErrorKind, message string, err error) *PipelineError {
	return &PipelineError{
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Transient marks a retryable service failure (network, 5xx, 429, timeout,
// model not ready).
func Transient(message string, err error) *PipelineError {
	return NewError(KindTransientService, message, err)
}

// Permanent marks a non-retryable service failure (4xx other than 429,
// malformed response).
func Permanent(message string, err error) *PipelineError {
	return NewError(KindPermanentService, message, err)
}

// Validation marks a closed-vocabulary violation or missing required id.
func Validation(message string, err error) *PipelineError {
	return NewError(KindValidation, message, err)
}

// Input marks an unreadable or empty input file.
func Input(message string, err error) *PipelineError {
	return NewError(KindInput, message, err)
}

// Invariant marks a broken internal invariant; it signals a bug.
func Invariant(message string, err error) *PipelineError {
	return NewError(KindInvariant, message, err)
}

// Configuration marks a misconfiguration discovered at runtime.
func Configuration(message string, err error) *PipelineError {
	return NewError(KindConfiguration, message, err)
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return CategoryOf(err) == CategoryTransient
}

// CategoryOf returns the retry category for any error. Errors that are not
// PipelineErrors default to transient so that unknown failures are retried
// rather than silently dropped.
func CategoryOf(err error) ErrorCategory {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Category()
	}
	return CategoryTransient
}

// KindOf returns the error kind, or KindTransientService for untyped errors.
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindTransientService
}
