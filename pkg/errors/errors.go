package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType classifies supervisor failures for policy decisions.
type ErrorType string

const (
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeConflict     ErrorType = "conflict"
	ErrorTypeSpawn        ErrorType = "spawn"
	ErrorTypeProcess      ErrorType = "process"
	ErrorTypeProbeTimeout ErrorType = "probe_timeout"
	ErrorTypeCrashLoop    ErrorType = "crash_loop"
	ErrorTypeTimeout      ErrorType = "timeout"
	ErrorTypeIO           ErrorType = "io"
	ErrorTypeInternal     ErrorType = "internal"
	ErrorTypeCancelled    ErrorType = "cancelled"
)

// DomainError is a structured error with a type and optional context.
type DomainError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is matches on error type, so errors.Is works against sentinel
// DomainError values.
func (e *DomainError) Is(target error) bool {
	if other, ok := target.(*DomainError); ok {
		return e.Type == other.Type
	}
	return false
}

// WithContext attaches a key/value pair for diagnostics.
func (e *DomainError) WithContext(key string, value interface{}) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func NewDomainError(errorType ErrorType, message string, cause error) *DomainError {
	return &DomainError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

func NewValidationError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeValidation, message, cause)
}

func NewConflictError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeConflict, message, cause)
}

func NewSpawnError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeSpawn, message, cause)
}

func NewProcessError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeProcess, message, cause)
}

func NewProbeTimeoutError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeProbeTimeout, message, cause)
}

func NewCrashLoopError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeCrashLoop, message, cause)
}

func NewTimeoutError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeTimeout, message, cause)
}

func NewIOError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeIO, message, cause)
}

func NewInternalError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeInternal, message, cause)
}

func NewCancelledError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeCancelled, message, cause)
}

func IsValidationError(err error) bool {
	return isErrorType(err, ErrorTypeValidation)
}

func IsConflictError(err error) bool {
	return isErrorType(err, ErrorTypeConflict)
}

func IsSpawnError(err error) bool {
	return isErrorType(err, ErrorTypeSpawn)
}

func IsProcessError(err error) bool {
	return isErrorType(err, ErrorTypeProcess)
}

func IsProbeTimeoutError(err error) bool {
	return isErrorType(err, ErrorTypeProbeTimeout)
}

func IsCrashLoopError(err error) bool {
	return isErrorType(err, ErrorTypeCrashLoop)
}

func IsTimeoutError(err error) bool {
	return isErrorType(err, ErrorTypeTimeout)
}

func IsIOError(err error) bool {
	return isErrorType(err, ErrorTypeIO)
}

func IsCancelledError(err error) bool {
	return isErrorType(err, ErrorTypeCancelled)
}

func isErrorType(err error, errorType ErrorType) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Type == errorType
}

// ErrorCollection aggregates independent per-unit failures, e.g. during
// shutdown where every unit is stopped regardless of earlier errors.
type ErrorCollection struct {
	errors []error
}

func NewErrorCollection() *ErrorCollection {
	return &ErrorCollection{}
}

func (c *ErrorCollection) Add(err error) {
	if err != nil {
		c.errors = append(c.errors, err)
	}
}

func (c *ErrorCollection) HasErrors() bool {
	return len(c.errors) > 0
}

func (c *ErrorCollection) Errors() []error {
	return c.errors
}

func (c *ErrorCollection) Error() string {
	if len(c.errors) == 0 {
		return ""
	}
	messages := make([]string, 0, len(c.errors))
	for _, err := range c.errors {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("%d errors: %s", len(c.errors), strings.Join(messages, "; "))
}

// Err returns the collection as an error, or nil when empty.
func (c *ErrorCollection) Err() error {
	if len(c.errors) == 0 {
		return nil
	}
	return errors.New(c.Error())
}
