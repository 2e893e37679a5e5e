package engine

import (
	"errors"
	"fmt"
)

// ErrorClass classifies an engine error for propagation and recovery logic.
// Permission, cancellation, and not-reversible errors abort the whole call;
// everything else is recorded at the operation granularity and execution
// continues with the next operation.
type ErrorClass string

const (
	// ErrorClassConfiguration indicates a malformed detection rule or
	// operation, such as a missing required field.
	ErrorClassConfiguration ErrorClass = "configuration"

	// ErrorClassPermission indicates elevation was required but absent.
	ErrorClassPermission ErrorClass = "permission"

	// ErrorClassProbeUnavailable indicates the probe's underlying system
	// surface is inaccessible.
	ErrorClassProbeUnavailable ErrorClass = "probe_unavailable"

	// ErrorClassMutatorUnavailable indicates the mutator's underlying
	// system surface is inaccessible.
	ErrorClassMutatorUnavailable ErrorClass = "mutator_unavailable"

	// ErrorClassTimeout indicates a script operation exceeded its bound.
	ErrorClassTimeout ErrorClass = "timeout"

	// ErrorClassCancelled indicates cooperative cancellation was observed
	// at an operation boundary.
	ErrorClassCancelled ErrorClass = "cancelled"

	// ErrorClassNotReversible indicates revert was requested for a tweak
	// marked non-reversible.
	ErrorClassNotReversible ErrorClass = "not_reversible"

	// ErrorClassInternal indicates an unexpected engine failure.
	ErrorClassInternal ErrorClass = "internal"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// TweakID is the tweak that caused the error, if applicable.
	TweakID string `json:"tweak_id,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.TweakID != "" && e.Operation != "" {
		return fmt.Sprintf("[%s] %s (tweak=%s, operation=%s)%s",
			e.Class, e.Message, e.TweakID, e.Operation, e.unwrapSuffix())
	}
	if e.TweakID != "" {
		return fmt.Sprintf("[%s] %s (tweak=%s)%s", e.Class, e.Message, e.TweakID, e.unwrapSuffix())
	}
	return fmt.Sprintf("[%s] %s%s", e.Class, e.Message, e.unwrapSuffix())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

func (e *EngineError) unwrapSuffix() string {
	if e.Err != nil {
		return ": " + e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewConfigurationError creates a configuration error.
func NewConfigurationError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassConfiguration, Message: message, Err: err}
}

// NewPermissionError creates a permission error.
func NewPermissionError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassPermission, Message: message, Err: err}
}

// NewProbeUnavailableError creates a probe-unavailable error.
func NewProbeUnavailableError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassProbeUnavailable, Message: message, Err: err}
}

// NewMutatorUnavailableError creates a mutator-unavailable error.
func NewMutatorUnavailableError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassMutatorUnavailable, Message: message, Err: err}
}

// NewTimeoutError creates a timeout error.
func NewTimeoutError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassTimeout, Message: message, Err: err}
}

// NewCancelledError creates a cancellation error.
func NewCancelledError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassCancelled, Message: message, Err: err}
}

// NewNotReversibleError creates a not-reversible error.
func NewNotReversibleError(message string) *EngineError {
	return &EngineError{Class: ErrorClassNotReversible, Message: message}
}

// NewInternalError creates an internal error.
func NewInternalError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassInternal, Message: message, Err: err}
}

// WithTweak adds tweak context to an error.
func (e *EngineError) WithTweak(tweakID string) *EngineError {
	e.TweakID = tweakID
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// ClassOf extracts the error class, or internal for unclassified errors.
func ClassOf(err error) ErrorClass {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class
	}
	return ErrorClassInternal
}

// IsConfiguration returns true if the error is a configuration error.
func IsConfiguration(err error) bool {
	var e *EngineError
	return errors.As(err, &e) && e.Class == ErrorClassConfiguration
}

// IsPermission returns true if the error is a permission error.
func IsPermission(err error) bool {
	var e *EngineError
	return errors.As(err, &e) && e.Class == ErrorClassPermission
}

// IsProbeUnavailable returns true if the error is a probe-unavailable error.
func IsProbeUnavailable(err error) bool {
	var e *EngineError
	return errors.As(err, &e) && e.Class == ErrorClassProbeUnavailable
}

// IsMutatorUnavailable returns true if the error is a mutator-unavailable error.
func IsMutatorUnavailable(err error) bool {
	var e *EngineError
	return errors.As(err, &e) && e.Class == ErrorClassMutatorUnavailable
}

// IsTimeout returns true if the error is a timeout error.
func IsTimeout(err error) bool {
	var e *EngineError
	return errors.As(err, &e) && e.Class == ErrorClassTimeout
}

// IsCancelled returns true if the error is a cancellation error.
func IsCancelled(err error) bool {
	var e *EngineError
	return errors.As(err, &e) && e.Class == ErrorClassCancelled
}

// IsNotReversible returns true if the error is a not-reversible error.
func IsNotReversible(err error) bool {
	var e *EngineError
	return errors.As(err, &e) && e.Class == ErrorClassNotReversible
}

// IsCallAborting returns true for errors that fail the whole apply or
// revert call rather than a single operation.
func IsCallAborting(err error) bool {
	return IsPermission(err) || IsCancelled(err) || IsNotReversible(err)
}

// Common error codes.
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodePermissionDenied = "PERMISSION_DENIED"
	ErrCodePolicyDenied     = "POLICY_DENIED"
	ErrCodeTimeout          = "TIMEOUT"
	ErrCodeCancelled        = "CANCELLED"
	ErrCodeNotReversible    = "NOT_REVERSIBLE"
	ErrCodeInternal         = "INTERNAL_ERROR"
)
