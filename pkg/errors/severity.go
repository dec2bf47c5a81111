// Package errors provides severity-aware error types.
package errors

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Severity indicates error impact level.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// LogLevel maps a severity onto the logger level it should be reported at.
func (s Severity) LogLevel() zerolog.Level {
	switch s {
	case SeverityInfo:
		return zerolog.InfoLevel
	case SeverityWarning:
		return zerolog.WarnLevel
	case SeverityError, SeverityFatal:
		return zerolog.ErrorLevel
	default:
		return zerolog.DebugLevel
	}
}

// MarshalText renders the severity by name in JSON output.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// QuoteError is a structured error with context.
type QuoteError struct {
	Code        string   `json:"code"`
	Message     string   `json:"message"`
	Severity    Severity `json:"severity"`
	Scope       string   `json:"scope,omitempty"`
	Recoverable bool     `json:"recoverable"`
	Err         error    `json:"-"`
}

func (e *QuoteError) Error() string {
	if e.Scope != "" {
		return fmt.Sprintf("[%s] %s: %s (scope: %s)", e.Severity, e.Code, e.Message, e.Scope)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Severity, e.Code, e.Message)
}

func (e *QuoteError) Unwrap() error { return e.Err }

// Error codes
const (
	ErrCodeInvalidPayload      = "INVALID_PAYLOAD"
	ErrCodeRateCardUnavailable = "RATE_CARD_UNAVAILABLE"
	ErrCodeStoreFailed         = "STORE_FAILED"
	ErrCodePolicyViolation     = "POLICY_VIOLATION"
)

// NewInvalidPayloadError creates an error for request bodies that are not JSON at all.
func NewInvalidPayloadError(scope string, err error) *QuoteError {
	return &QuoteError{
		Code:        ErrCodeInvalidPayload,
		Message:     fmt.Sprintf("payload could not be decoded: %v", err),
		Severity:    SeverityError,
		Scope:       scope,
		Recoverable: false,
		Err:         err,
	}
}

// NewRateCardUnavailableError creates an error for a rate card source that failed.
func NewRateCardUnavailableError(workspace string, err error) *QuoteError {
	return &QuoteError{
		Code:        ErrCodeRateCardUnavailable,
		Message:     fmt.Sprintf("rate card could not be loaded: %v", err),
		Severity:    SeverityError,
		Scope:       workspace,
		Recoverable: true,
		Err:         err,
	}
}

// NewStoreFailedError creates an error for a failed persistence call.
func NewStoreFailedError(op string, err error) *QuoteError {
	return &QuoteError{
		Code:        ErrCodeStoreFailed,
		Message:     fmt.Sprintf("%s failed: %v", op, err),
		Severity:    SeverityWarning,
		Recoverable: true,
		Err:         err,
	}
}

// NewPolicyViolationError creates an error for a quote denied by review.
func NewPolicyViolationError(scope, message string) *QuoteError {
	return &QuoteError{
		Code:        ErrCodePolicyViolation,
		Message:     message,
		Severity:    SeverityError,
		Scope:       scope,
		Recoverable: false,
	}
}
