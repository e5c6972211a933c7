package ttypes

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Argument errors. These are the only errors returned synchronously by
// speak and preload.
var (
	// ErrEmptyText is returned when the text to speak is blank
	ErrEmptyText = errors.New("text cannot be empty")

	// ErrInvalidSpeed is returned when speed is out of range
	ErrInvalidSpeed = fmt.Errorf("speed must be between %.2f and %.2f", MinSpeed, MaxSpeed)

	// ErrInvalidFormat is returned for an unknown audio format
	ErrInvalidFormat = errors.New("unsupported audio format")
)

// ErrorCode identifies the failure category
type ErrorCode string

const (
	// Provider errors
	CodeProviderUnavailable     ErrorCode = "PROVIDER_UNAVAILABLE"
	CodeProviderTimeout         ErrorCode = "PROVIDER_TIMEOUT"
	CodeProviderAuth            ErrorCode = "PROVIDER_AUTH"
	CodeProviderResponseInvalid ErrorCode = "PROVIDER_RESPONSE_INVALID"
	CodeProviderError           ErrorCode = "PROVIDER_ERROR"

	// Cache errors
	CodeCacheWrite          ErrorCode = "CACHE_WRITE"
	CodeCacheReadCorruption ErrorCode = "CACHE_READ_CORRUPTION"

	// Chain errors
	CodeNoProviderAvailable ErrorCode = "NO_PROVIDER_AVAILABLE"
	CodeProvidersExhausted  ErrorCode = "PROVIDERS_EXHAUSTED"

	CodeConfiguration ErrorCode = "CONFIGURATION"
)

// Error is a categorized error with optional provider context
type Error struct {
	Code     ErrorCode
	Provider string
	Message  string
	Cause    error
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Provider != "" {
		b.WriteString(" [")
		b.WriteString(e.Provider)
		b.WriteString("]")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error with the same code, so sentinel comparisons
// like errors.Is(err, &Error{Code: CodeProviderAuth}) work.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Provider == "" || t.Provider == e.Provider)
}

// NewError creates a new categorized error.
func NewError(code ErrorCode, provider, message string, cause error) *Error {
	return &Error{
		Code:     code,
		Provider: provider,
		Message:  message,
		Cause:    cause,
	}
}

// CodeOf classifies err. Chain and categorized errors report their own code;
// deadline errors are timeouts; anything else is a generic provider error.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var fe *FallbackError
	if errors.As(err, &fe) {
		return fe.Code
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeProviderTimeout
	}
	return CodeProviderError
}

// FallbackError aggregates every attempt of an exhausted fallback chain.
type FallbackError struct {
	Code     ErrorCode
	Attempts []Attempt
}

// Error lists every attempted provider and its failure reason.
func (e *FallbackError) Error() string {
	if len(e.Attempts) == 0 {
		return string(e.Code) + ": no TTS provider available"
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, a.String())
	}
	return fmt.Sprintf("%s: all %d providers failed: %s", e.Code, len(e.Attempts), strings.Join(parts, "; "))
}

// Unwrap exposes the individual attempt errors.
func (e *FallbackError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		if a.Err != nil {
			errs = append(errs, a.Err)
		}
	}
	return errs
}
