// Package llmerrors classifies provider failures so middleware can decide whether to retry.
package llmerrors

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorType is the failure category of a provider call.
type ErrorType int8

const (
	// ErrorTypeRateLimit is a 429 or quota rejection.
	ErrorTypeRateLimit ErrorType = iota
	// ErrorTypeTransient is a 5xx, reset connection or per-request timeout.
	ErrorTypeTransient
	// ErrorTypeEmptyResponse is a successful call that carried no text.
	ErrorTypeEmptyResponse
	// ErrorTypeAuth is a 401/403 or missing credential.
	ErrorTypeAuth
	// ErrorTypeBadPrompt is a request the provider refuses to process.
	ErrorTypeBadPrompt
	// ErrorTypeUnknown is anything not classified above.
	ErrorTypeUnknown
	// ErrorTypeServiceUnavailable is emitted once retries are exhausted on a retryable error.
	ErrorTypeServiceUnavailable
)

func (et ErrorType) String() string {
	switch et {
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypeEmptyResponse:
		return "empty_response"
	case ErrorTypeAuth:
		return "auth"
	case ErrorTypeBadPrompt:
		return "bad_prompt"
	case ErrorTypeUnknown:
		return "unknown"
	case ErrorTypeServiceUnavailable:
		return "service_unavailable"
	default:
		return "invalid"
	}
}

// maxBodyStub bounds the amount of a provider response body kept on an error.
const maxBodyStub = 256

// Error is a classified provider error.
type Error struct {
	Err        error
	Message    string
	BodyStub   string // first bytes of the provider response body, if any
	Provider   string
	Type       ErrorType
	StatusCode int
}

func (e *Error) Error() string {
	prefix := "llm error"
	if e.Provider != "" {
		prefix = e.Provider + " error"
	}
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s (%s): %s: %v", prefix, e.Type, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s (%s): %s", prefix, e.Type, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s (%s): %v", prefix, e.Type, e.Err)
	default:
		return fmt.Sprintf("%s (%s): status %d", prefix, e.Type, e.StatusCode)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether another attempt could succeed.
// Everything is retryable unless it is known not to be.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeAuth, ErrorTypeBadPrompt, ErrorTypeServiceUnavailable:
		return false
	default:
		return true
	}
}

// Is reports whether err carries a classified error of the given type.
func Is(err error, errorType ErrorType) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type == errorType
	}
	return false
}

// TypeOf returns the type of a classified error, or ErrorTypeUnknown.
func TypeOf(err error) ErrorType {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type
	}
	return ErrorTypeUnknown
}

// As extracts the classified error, if any.
func As(err error) (*Error, bool) {
	var llmErr *Error
	ok := errors.As(err, &llmErr)
	return llmErr, ok
}

// NewError creates a classified error.
func NewError(errorType ErrorType, message string) *Error {
	return &Error{Type: errorType, Message: message}
}

// NewErrorWithStatus creates a classified error carrying an HTTP status.
func NewErrorWithStatus(errorType ErrorType, statusCode int, message string) *Error {
	return &Error{Type: errorType, StatusCode: statusCode, Message: message}
}

// NewErrorWithCause creates a classified error wrapping cause.
func NewErrorWithCause(errorType ErrorType, cause error, message string) *Error {
	return &Error{Type: errorType, Err: cause, Message: message}
}

// NewServiceUnavailableError marks a retryable error whose retries ran out.
func NewServiceUnavailableError(cause error, attempts int) *Error {
	return &Error{
		Type:    ErrorTypeServiceUnavailable,
		Err:     cause,
		Message: fmt.Sprintf("service unavailable after %d attempts", attempts),
	}
}

// IsServiceUnavailable reports whether retries were exhausted.
func IsServiceUnavailable(err error) bool {
	return Is(err, ErrorTypeServiceUnavailable)
}

// TypeForStatus maps an HTTP status code onto an error type.
func TypeForStatus(statusCode int) ErrorType {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return ErrorTypeAuth
	case statusCode == http.StatusBadRequest ||
		statusCode == http.StatusNotFound ||
		statusCode == http.StatusRequestEntityTooLarge ||
		statusCode == http.StatusUnprocessableEntity:
		return ErrorTypeBadPrompt
	case statusCode == http.StatusRequestTimeout || statusCode >= http.StatusInternalServerError:
		return ErrorTypeTransient
	default:
		return ErrorTypeUnknown
	}
}

// FromStatus builds a classified error from a provider HTTP failure.
func FromStatus(provider string, statusCode int, cause error, body string) *Error {
	return &Error{
		Err:        cause,
		Provider:   provider,
		Type:       TypeForStatus(statusCode),
		StatusCode: statusCode,
		BodyStub:   stub(body),
	}
}

// Classify wraps an unclassified provider error, inferring the type from its text.
// Already classified errors are returned unchanged.
func Classify(provider string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := As(err); ok {
		return err
	}
	msg := strings.ToLower(err.Error())
	errorType := ErrorTypeUnknown
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "quota"):
		errorType = ErrorTypeRateLimit
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") ||
		strings.Contains(msg, "api key") || strings.Contains(msg, "unauthorized"):
		errorType = ErrorTypeAuth
	case strings.Contains(msg, "500") || strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") || strings.Contains(msg, "504") ||
		strings.Contains(msg, "timeout") || strings.Contains(msg, "connection") ||
		strings.Contains(msg, "eof") || strings.Contains(msg, "overloaded"):
		errorType = ErrorTypeTransient
	case strings.Contains(msg, "400") || strings.Contains(msg, "too long") ||
		strings.Contains(msg, "context length"):
		errorType = ErrorTypeBadPrompt
	}
	return &Error{Err: err, Provider: provider, Type: errorType}
}

func stub(body string) string {
	if len(body) <= maxBodyStub {
		return body
	}
	return body[:maxBodyStub]
}

// SanitizePrompt shortens a prompt for logging: head, tail and a hash of the whole.
func SanitizePrompt(prompt string, maxChars int) string {
	if len(prompt) <= maxChars {
		return prompt
	}
	halfMax := maxChars / 2
	if halfMax < 100 {
		halfMax = 100
	}
	if 2*halfMax >= len(prompt) {
		return prompt
	}

	hash := sha256.Sum256([]byte(prompt))
	return fmt.Sprintf("%s...[%d chars, hash:%x]...%s",
		prompt[:halfMax], len(prompt), hash[:8], prompt[len(prompt)-halfMax:])
}
