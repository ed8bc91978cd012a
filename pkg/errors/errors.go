// Package errors provides a structured error system for TuneCache with error codes, categories, and context.
package errors

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for preloader operations.
type ErrorCode string

// Error code constants organized by category.
const (
	// Configuration Errors
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"

	// Network Errors
	ErrCodeNetworkUnavailable ErrorCode = "NETWORK_UNAVAILABLE"
	ErrCodeNetworkMetered     ErrorCode = "NETWORK_METERED"
	ErrCodeConnectionFailed   ErrorCode = "CONNECTION_FAILED"
	ErrCodeCircuitOpen        ErrorCode = "CIRCUIT_OPEN"

	// Fetch Errors
	ErrCodeFetchFailed    ErrorCode = "FETCH_FAILED"
	ErrCodeFetchBadStatus ErrorCode = "FETCH_BAD_STATUS"
	ErrCodeFetchTimeout   ErrorCode = "FETCH_TIMEOUT"
	ErrCodeInvalidURL     ErrorCode = "INVALID_URL"
	ErrCodeObjectNotFound ErrorCode = "OBJECT_NOT_FOUND"

	// Cache Errors
	ErrCodeCacheFull     ErrorCode = "CACHE_FULL"
	ErrCodeEntryTooLarge ErrorCode = "ENTRY_TOO_LARGE"

	// Operation Errors
	ErrCodeOperationCanceled ErrorCode = "OPERATION_CANCELED"
	ErrCodeRetryExhausted    ErrorCode = "RETRY_EXHAUSTED"
	ErrCodeAlreadyClosed     ErrorCode = "ALREADY_CLOSED"

	// Internal Errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryNetwork       ErrorCategory = "network"
	CategoryFetch         ErrorCategory = "fetch"
	CategoryCache         ErrorCategory = "cache"
	CategoryOperation     ErrorCategory = "operation"
	CategoryInternal      ErrorCategory = "internal"
)

// PreloadError represents a structured error with context and metadata.
type PreloadError struct {
	// Core error information
	Code     ErrorCode     `json:"code"`
	Category ErrorCategory `json:"category"`
	Message  string        `json:"message"`

	// Contextual information
	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"` // Not serialized to avoid circular refs
	Timestamp time.Time         `json:"timestamp"`

	// Operational metadata
	Component string `json:"component,omitempty"`
	Operation string `json:"operation,omitempty"`
	SongID    string `json:"song_id,omitempty"`

	// Error handling hints
	Retryable bool `json:"retryable"`
}

// Error implements the error interface.
func (e *PreloadError) Error() string {
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *PreloadError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error (for errors.Is compatibility).
func (e *PreloadError) Is(target error) bool {
	if perr, ok := target.(*PreloadError); ok {
		return e.Code == perr.Code
	}
	return false
}

// String returns a detailed string representation for logging.
func (e *PreloadError) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Code=%s", e.Code))
	parts = append(parts, fmt.Sprintf("Category=%s", e.Category))
	parts = append(parts, fmt.Sprintf("Message=%q", e.Message))

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}

	if e.SongID != "" {
		parts = append(parts, fmt.Sprintf("SongID=%s", e.SongID))
	}

	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}

	return fmt.Sprintf("PreloadError{%s}", strings.Join(parts, ", "))
}

// JSON returns the error as a JSON string.
func (e *PreloadError) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal error: %s"}`, err.Error())
	}
	return string(data)
}

// NewError creates a new preload error with default values.
func NewError(code ErrorCode, message string) *PreloadError {
	return &PreloadError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
		Retryable: IsRetryableByDefault(code),
	}
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "INVALID_CONFIG") || strings.HasPrefix(codeStr, "CONFIG_"):
		return CategoryConfiguration
	case strings.HasPrefix(codeStr, "NETWORK_") || strings.HasPrefix(codeStr, "CONNECTION_") ||
		strings.HasPrefix(codeStr, "CIRCUIT_"):
		return CategoryNetwork
	case strings.HasPrefix(codeStr, "FETCH_") || strings.HasPrefix(codeStr, "INVALID_URL") ||
		strings.HasPrefix(codeStr, "OBJECT_"):
		return CategoryFetch
	case strings.HasPrefix(codeStr, "CACHE_") || strings.HasPrefix(codeStr, "ENTRY_"):
		return CategoryCache
	case strings.HasPrefix(codeStr, "OPERATION_") || strings.HasPrefix(codeStr, "RETRY_") ||
		strings.HasPrefix(codeStr, "ALREADY_"):
		return CategoryOperation
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault determines if an error is retryable by default.
func IsRetryableByDefault(code ErrorCode) bool {
	retryableCodes := map[ErrorCode]bool{
		ErrCodeConnectionFailed: true,
		ErrCodeFetchFailed:      true,
		ErrCodeFetchTimeout:     true,
		ErrCodeInternalError:    true,
	}
	return retryableCodes[code]
}

// WithContext adds contextual information to an error
func (e *PreloadError) WithContext(key, value string) *PreloadError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithComponent sets the component for an error
func (e *PreloadError) WithComponent(component string) *PreloadError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *PreloadError) WithOperation(operation string) *PreloadError {
	e.Operation = operation
	return e
}

// WithSong sets the related song id for an error
func (e *PreloadError) WithSong(songID string) *PreloadError {
	e.SongID = songID
	return e
}

// WithCause sets the underlying cause
func (e *PreloadError) WithCause(cause error) *PreloadError {
	e.Cause = cause
	return e
}

// WithRetryable overrides the default retryable hint
func (e *PreloadError) WithRetryable(retryable bool) *PreloadError {
	e.Retryable = retryable
	return e
}
