// Package llmerrors classifies model-client failures and carries the retry
// policy for each class.
package llmerrors

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"time"
)

// ErrModelStream matches any error raised while a response stream was being
// consumed. The partial assistant turn is discarded when it surfaces.
var ErrModelStream = errors.New("model stream failed")

// ErrorType is the retry class of a model error.
type ErrorType int8

const (
	// ErrorTypeRateLimit covers 429 and quota errors.
	ErrorTypeRateLimit ErrorType = iota
	// ErrorTypeTransient covers 5xx, connection resets and timeouts.
	ErrorTypeTransient
	// ErrorTypeEmptyResponse is a successful call that produced no content.
	ErrorTypeEmptyResponse
	// ErrorTypeAuth covers 401/403 and missing credentials.
	ErrorTypeAuth
	// ErrorTypeBadPrompt covers malformed or oversized requests.
	ErrorTypeBadPrompt
	// ErrorTypeUnknown is the default for unclassified errors.
	ErrorTypeUnknown
	// ErrorTypeStream is a failure in the middle of a stream, after
	// content was already delivered.
	ErrorTypeStream
	// ErrorTypeServiceUnavailable is emitted once retries are exhausted.
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
	case ErrorTypeStream:
		return "stream"
	case ErrorTypeServiceUnavailable:
		return "service_unavailable"
	default:
		return "invalid"
	}
}

// RetryConfig is an exponential backoff policy.
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        bool
}

// Delay returns the backoff before retry number attempt (1-based), without jitter.
func (c RetryConfig) Delay(attempt int) time.Duration {
	if attempt < 1 || c.InitialDelay <= 0 {
		return 0
	}
	d := float64(c.InitialDelay)
	for i := 1; i < attempt; i++ {
		d *= c.BackoffFactor
		if c.MaxDelay > 0 && time.Duration(d) >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	return time.Duration(d)
}

// DefaultRetryConfigs maps each error type to its retry policy.
//
//nolint:gochecknoglobals // package defaults
var DefaultRetryConfigs = map[ErrorType]RetryConfig{
	ErrorTypeEmptyResponse: {
		MaxRetries: 2, InitialDelay: time.Second, MaxDelay: 10 * time.Second, BackoffFactor: 2, Jitter: true,
	},
	ErrorTypeRateLimit: {
		MaxRetries: 6, InitialDelay: time.Second, MaxDelay: time.Minute, BackoffFactor: 2, Jitter: true,
	},
	ErrorTypeTransient: {
		MaxRetries: 4, InitialDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second, BackoffFactor: 2, Jitter: true,
	},
	ErrorTypeUnknown: {
		MaxRetries: 1, InitialDelay: time.Second, MaxDelay: 5 * time.Second, BackoffFactor: 2, Jitter: true,
	},
	// Auth, bad prompt, stream and service-unavailable errors are never retried.
	ErrorTypeAuth:               {},
	ErrorTypeBadPrompt:          {},
	ErrorTypeStream:             {},
	ErrorTypeServiceUnavailable: {},
}

// Error is a classified model error.
type Error struct {
	Err        error
	Message    string
	Type       ErrorType
	StatusCode int
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("LLM error (%s): %s: %v", e.Type, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("LLM error (%s): %s", e.Type, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("LLM error (%s): %v", e.Type, e.Err)
	default:
		return fmt.Sprintf("LLM error (%s): status %d", e.Type, e.StatusCode)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is makes stream failures match ErrModelStream.
func (e *Error) Is(target error) bool {
	return target == ErrModelStream && e.Type == ErrorTypeStream
}

// IsRetryable reports whether the retry middleware may try again.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeAuth, ErrorTypeBadPrompt, ErrorTypeStream, ErrorTypeServiceUnavailable:
		return false
	default:
		return true
	}
}

// RetryConfig returns the policy for e's type.
func (e *Error) RetryConfig() RetryConfig {
	if cfg, ok := DefaultRetryConfigs[e.Type]; ok {
		return cfg
	}
	return DefaultRetryConfigs[ErrorTypeUnknown]
}

// Is reports whether err is a classified error of the given type.
func Is(err error, errorType ErrorType) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type == errorType
	}
	return false
}

// TypeOf returns the type of err, or ErrorTypeUnknown if it is unclassified.
func TypeOf(err error) ErrorType {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type
	}
	return ErrorTypeUnknown
}

func NewError(errorType ErrorType, message string) *Error {
	return &Error{Type: errorType, Message: message}
}

func NewErrorWithStatus(errorType ErrorType, statusCode int, message string) *Error {
	return &Error{Type: errorType, StatusCode: statusCode, Message: message}
}

func NewErrorWithCause(errorType ErrorType, cause error, message string) *Error {
	return &Error{Type: errorType, Err: cause, Message: message}
}

// NewStreamError wraps a failure observed mid-stream.
func NewStreamError(cause error) *Error {
	return &Error{Type: ErrorTypeStream, Err: cause, Message: "stream interrupted"}
}

// NewServiceUnavailableError wraps the last error once attempts are used up.
func NewServiceUnavailableError(cause error, attempts int) *Error {
	return &Error{
		Type:    ErrorTypeServiceUnavailable,
		Err:     cause,
		Message: fmt.Sprintf("service unavailable after %d attempts", attempts),
	}
}

// SanitizePrompt shortens a prompt for logging, keeping head and tail plus a
// hash of the whole text for correlation.
func SanitizePrompt(prompt string, maxChars int) string {
	if len(prompt) <= maxChars {
		return prompt
	}
	half := max(maxChars/2, 100)
	if 2*half >= len(prompt) {
		return prompt
	}
	sum := sha256.Sum256([]byte(prompt))
	return fmt.Sprintf("%s...[%d chars, hash:%x]...%s", prompt[:half], len(prompt), sum[:8], prompt[len(prompt)-half:])
}
