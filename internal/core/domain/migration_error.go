package domain

import (
	"fmt"
	"time"
)

// ErrorLevel is the severity of a migration failure.
type ErrorLevel string

const (
	LevelCritical ErrorLevel = "CRITICAL"
	LevelError    ErrorLevel = "ERROR"
	LevelWarning  ErrorLevel = "WARNING"
	LevelInfo     ErrorLevel = "INFO"
)

// IsFailure reports whether the level counts against the circuit breaker.
func (l ErrorLevel) IsFailure() bool {
	return l == LevelCritical || l == LevelError
}

// ErrorCategory groups failures by their origin.
type ErrorCategory string

const (
	CategoryDataIntegrity ErrorCategory = "DATA_INTEGRITY"
	CategoryNetwork       ErrorCategory = "NETWORK"
	CategoryValidation    ErrorCategory = "VALIDATION"
	CategoryPermission    ErrorCategory = "PERMISSION"
	CategoryResource      ErrorCategory = "RESOURCE"
	CategoryTimeout       ErrorCategory = "TIMEOUT"
	CategoryUnknown       ErrorCategory = "UNKNOWN"
)

// RecoveryStrategy selects what the recovery executor does with a failure.
type RecoveryStrategy string

const (
	StrategyRetry            RecoveryStrategy = "RETRY"
	StrategyRetryWithBackoff RecoveryStrategy = "RETRY_WITH_BACKOFF"
	StrategySkip             RecoveryStrategy = "SKIP"
	StrategyRollback         RecoveryStrategy = "ROLLBACK"
	StrategyManual           RecoveryStrategy = "MANUAL"
	StrategyNone             RecoveryStrategy = "NONE"
)

// CatalogEntry describes a known failure mode. Entries are registered at
// startup and treated as read-only afterwards.
type CatalogEntry struct {
	Code             string           `json:"code"`
	Level            ErrorLevel       `json:"level"`
	Category         ErrorCategory    `json:"category"`
	Message          string           `json:"message"`
	Description      string           `json:"description"`
	PossibleCauses   []string         `json:"possible_causes,omitempty"`
	SuggestedFixes   []string         `json:"suggested_fixes,omitempty"`
	RecoveryStrategy RecoveryStrategy `json:"recovery_strategy"`
	MaxRetries       int              `json:"max_retries,omitempty"` // 0 = handler default
}

// MigrationError is one classified failure occurrence. Only RetryCount is
// mutated after creation.
type MigrationError struct {
	ID               string           `json:"id"`
	Code             string           `json:"code,omitempty"`
	Level            ErrorLevel       `json:"level"`
	Category         ErrorCategory    `json:"category"`
	Message          string           `json:"message"`
	Timestamp        time.Time        `json:"timestamp"`
	Context          map[string]any   `json:"context,omitempty"`
	Stack            string           `json:"stack,omitempty"`
	RetryCount       int              `json:"retry_count"`
	RecoveryStrategy RecoveryStrategy `json:"recovery_strategy"`

	cause error
}

// NewMigrationError builds a classified error wrapping cause.
func NewMigrationError(id string, cause error) *MigrationError {
	e := &MigrationError{ID: id, cause: cause}
	if cause != nil {
		e.Message = cause.Error()
	}
	return e
}

func (e *MigrationError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	return e.Message
}

func (e *MigrationError) Unwrap() error {
	return e.cause
}

// ErrorCode returns the catalog code, if any.
func (e *MigrationError) ErrorCode() string {
	return e.Code
}

// CodedError is a raw failure tagged with a catalog code.
type CodedError struct {
	Code    string
	Message string
	Context map[string]any
	Err     error
}

// NewCodedError creates a coded failure.
func NewCodedError(code, message string) *CodedError {
	return &CodedError{Code: code, Message: message}
}

// WrapCoded tags err with a catalog code.
func WrapCoded(code string, err error) *CodedError {
	return &CodedError{Code: code, Err: err}
}

func (e *CodedError) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Code
	}
}

func (e *CodedError) Unwrap() error {
	return e.Err
}

// ErrorCode returns the catalog code.
func (e *CodedError) ErrorCode() string {
	return e.Code
}
