package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
)

// Error types, one per failure class the engine distinguishes.
type ErrorType string

const (
	// ErrorTypeConfiguration aborts the whole run.
	ErrorTypeConfiguration ErrorType = "configuration"
	// ErrorTypeDataContract signals a caller bug upstream of the engine.
	ErrorTypeDataContract ErrorType = "data_contract"
	// ErrorTypeEstimation is a per-unit failure; recovered as a missing value.
	ErrorTypeEstimation ErrorType = "estimation"
	// ErrorTypeCollaborator is a failure of an external prediction source.
	ErrorTypeCollaborator ErrorType = "collaborator"
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeStorage      ErrorType = "storage"
)

// StructuredError provides rich error context
type StructuredError struct {
	Type      ErrorType
	Operation string
	Message   string
	Cause     error
	Context   map[string]interface{}
	Stack     []uintptr
}

// Error implements the error interface
func (e *StructuredError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s: %v", e.Type, e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Type, e.Operation, e.Message)
}

// Unwrap returns the underlying cause
func (e *StructuredError) Unwrap() error {
	return e.Cause
}

// New creates a new structured error
func New(errType ErrorType, operation, message string) *StructuredError {
	return &StructuredError{
		Type:      errType,
		Operation: operation,
		Message:   message,
		Context:   make(map[string]interface{}),
		Stack:     captureStack(),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, operation, message string) *StructuredError {
	if err == nil {
		return nil
	}

	return &StructuredError{
		Type:      errType,
		Operation: operation,
		Message:   message,
		Cause:     err,
		Context:   make(map[string]interface{}),
		Stack:     captureStack(),
	}
}

// WithContext adds context information to an error
func (e *StructuredError) WithContext(key string, value interface{}) *StructuredError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func captureStack() []uintptr {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])
	return pcs[:n]
}

// TypeOf returns the type of the outermost StructuredError in err's chain.
func TypeOf(err error) (ErrorType, bool) {
	var se *StructuredError
	if stderrors.As(err, &se) {
		return se.Type, true
	}
	return "", false
}

// IsFatal reports whether err must abort a run instead of being recorded
// against a single fold or unit.
func IsFatal(err error) bool {
	t, ok := TypeOf(err)
	if !ok {
		return false
	}
	return t == ErrorTypeConfiguration || t == ErrorTypeDataContract
}

// IsRecoverable reports whether err is a per-unit estimation failure.
func IsRecoverable(err error) bool {
	t, ok := TypeOf(err)
	return ok && t == ErrorTypeEstimation
}

// NewConfigurationError creates a configuration error
func NewConfigurationError(operation, message string) *StructuredError {
	return New(ErrorTypeConfiguration, operation, message)
}

// NewDataContractError creates a data contract error
func NewDataContractError(operation, message string) *StructuredError {
	return New(ErrorTypeDataContract, operation, message)
}

// NewValidationError creates a validation error
func NewValidationError(operation, message string) *StructuredError {
	return New(ErrorTypeValidation, operation, message)
}

// WrapConfigurationError wraps an error as a configuration error
func WrapConfigurationError(err error, operation, message string) *StructuredError {
	return Wrap(err, ErrorTypeConfiguration, operation, message)
}

// WrapDataContractError wraps an error as a data contract error
func WrapDataContractError(err error, operation, message string) *StructuredError {
	return Wrap(err, ErrorTypeDataContract, operation, message)
}

// WrapEstimationError wraps an error as a per-unit estimation failure
func WrapEstimationError(err error, operation, message string) *StructuredError {
	return Wrap(err, ErrorTypeEstimation, operation, message)
}

// WrapCollaboratorError wraps an error raised by an external collaborator
func WrapCollaboratorError(err error, operation, message string) *StructuredError {
	return Wrap(err, ErrorTypeCollaborator, operation, message)
}

// WrapStorageError wraps an error as a storage error
func WrapStorageError(err error, operation, message string) *StructuredError {
	return Wrap(err, ErrorTypeStorage, operation, message)
}
