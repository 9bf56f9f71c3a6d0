package apperr

import (
	"errors"
	"fmt"
)

// Error codes
const (
	// Input errors
	CodeParseError      = "PARSE_ERROR"      // Missing required headers/body
	CodeValidationError = "VALIDATION_ERROR" // Output fails the classification contract
	CodeJSONError       = "JSON_ERROR"       // Malformed model output
	CodeEmptyBatch      = "EMPTY_BATCH"      // Nothing left after dedup

	// Adapter errors
	CodeTransientAdapter = "TRANSIENT_ADAPTER_ERROR" // 5xx/timeout/network, retryable
	CodePermanentAdapter = "PERMANENT_ADAPTER_ERROR" // 4xx/auth/schema, never retried
	CodeTimeout          = "TIMEOUT"

	// Storage errors
	CodeConcurrency   = "CONCURRENCY_ERROR" // "database is locked", retried with backoff
	CodeDatabaseError = "DATABASE_ERROR"
	CodeSchemaError   = "SCHEMA_ERROR" // no such table/column, fatal at startup

	// Policy errors
	CodeCircuitOpen   = "CIRCUIT_OPEN"
	CodeRuleConflict  = "RULE_CONFLICT"
	CodeConfigError   = "CONFIG_ERROR"
	CodeInternalError = "INTERNAL_ERROR"
)

// AppError is a structured error with a stable code and optional failing
// stage, so callers can map failures without string matching.
type AppError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Stage   string         `json:"stage,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *AppError) Error() string {
	switch {
	case e.Stage != "" && e.Err != nil:
		return fmt.Sprintf("[%s] %s (stage=%s): %v", e.Code, e.Message, e.Stage, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	case e.Stage != "":
		return fmt.Sprintf("[%s] %s (stage=%s)", e.Code, e.Message, e.Stage)
	default:
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func (e *AppError) WithStage(stage string) *AppError {
	e.Stage = stage
	return e
}

// Constructor functions
func New(code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func Wrap(err error, code, message string) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// Input errors
func ParseError(messageID, reason string) *AppError {
	return &AppError{
		Code:    CodeParseError,
		Message: fmt.Sprintf("failed to parse message: %s", reason),
		Details: map[string]any{"message_id": messageID},
	}
}

func ValidationError(reason string) *AppError {
	return &AppError{
		Code:    CodeValidationError,
		Message: reason,
	}
}

func JSONError(reason string, err error) *AppError {
	return &AppError{
		Code:    CodeJSONError,
		Message: reason,
		Err:     err,
	}
}

func EmptyBatch() *AppError {
	return &AppError{
		Code:    CodeEmptyBatch,
		Message: "no new emails to process",
	}
}

// Adapter errors
func TransientAdapter(service string, err error) *AppError {
	return &AppError{
		Code:    CodeTransientAdapter,
		Message: fmt.Sprintf("transient failure from %s", service),
		Details: map[string]any{"service": service},
		Err:     err,
	}
}

func PermanentAdapter(service string, err error) *AppError {
	return &AppError{
		Code:    CodePermanentAdapter,
		Message: fmt.Sprintf("permanent failure from %s", service),
		Details: map[string]any{"service": service},
		Err:     err,
	}
}

func Timeout(operation string) *AppError {
	return &AppError{
		Code:    CodeTimeout,
		Message: fmt.Sprintf("operation timed out: %s", operation),
	}
}

// Storage errors
func Concurrency(operation string, err error) *AppError {
	return &AppError{
		Code:    CodeConcurrency,
		Message: fmt.Sprintf("database locked during %s", operation),
		Err:     err,
	}
}

func DatabaseError(operation string, err error) *AppError {
	return &AppError{
		Code:    CodeDatabaseError,
		Message: fmt.Sprintf("database error: %s", operation),
		Err:     err,
	}
}

func SchemaError(detail string, err error) *AppError {
	return &AppError{
		Code:    CodeSchemaError,
		Message: fmt.Sprintf("schema error: %s", detail),
		Err:     err,
	}
}

// Policy errors
func CircuitOpen(stage string) *AppError {
	return &AppError{
		Code:    CodeCircuitOpen,
		Message: "circuit breaker is open",
		Stage:   stage,
	}
}

func RuleConflict(message string) *AppError {
	return &AppError{
		Code:    CodeRuleConflict,
		Message: message,
	}
}

func ConfigError(message string) *AppError {
	return &AppError{
		Code:    CodeConfigError,
		Message: message,
	}
}

func Internal(message string, err error) *AppError {
	if message == "" {
		message = "internal error"
	}
	return &AppError{
		Code:    CodeInternalError,
		Message: message,
		Err:     err,
	}
}

// Helper functions
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal("", err)
}

// CodeOf returns the stable code, or INTERNAL_ERROR for unknown errors.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternalError
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// Retryable reports whether an error should be retried under a policy.
// Transient adapter failures, timeouts, and lock contention retry; parse,
// validation, schema, and permanent adapter failures never do.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case CodeTransientAdapter, CodeTimeout, CodeConcurrency:
		return true
	}
	return false
}
