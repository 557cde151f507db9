package llmerrors

import (
	"errors"
	"net"
	"regexp"
	"strconv"
	"strings"
)

var statusPattern = regexp.MustCompile(`(?i)(?:status(?: code)?[: ]+|HTTP |Error )(\d{3})`)

// ClassifyStatus maps an HTTP status onto an error type.
func ClassifyStatus(status int, cause error) *Error {
	switch {
	case status == 401 || status == 403:
		return &Error{Type: ErrorTypeAuth, StatusCode: status, Err: cause, Message: "authentication failed"}
	case status == 429:
		return &Error{Type: ErrorTypeRateLimit, StatusCode: status, Err: cause, Message: "rate limit exceeded"}
	case status == 408 || status == 409 || status >= 500:
		return &Error{Type: ErrorTypeTransient, StatusCode: status, Err: cause, Message: "server error"}
	case status >= 400:
		return &Error{Type: ErrorTypeBadPrompt, StatusCode: status, Err: cause, Message: "request rejected"}
	default:
		return ClassifyMessage(cause)
	}
}

// ClassifyMessage classifies errors that carry no structured status, using the
// status code embedded in the message when there is one, then known phrases.
func ClassifyMessage(err error) *Error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return existing
	}
	msg := err.Error()
	if m := statusPattern.FindStringSubmatch(msg); m != nil {
		if status, convErr := strconv.Atoi(m[1]); convErr == nil && status >= 400 {
			return ClassifyStatus(status, err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return NewErrorWithCause(ErrorTypeTransient, err, "network error")
	}

	lower := strings.ToLower(msg)
	switch {
	case containsAny(lower, "timeout", "connection", "temporar", "eof", "reset", "refused", "overloaded"):
		return NewErrorWithCause(ErrorTypeTransient, err, "network or connection error")
	case containsAny(lower, "rate limit", "quota", "too many requests"):
		return NewErrorWithCause(ErrorTypeRateLimit, err, "rate limiting detected")
	case containsAny(lower, "unauthorized", "api key", "permission denied", "forbidden"):
		return NewErrorWithCause(ErrorTypeAuth, err, "authentication error")
	case containsAny(lower, "invalid", "malformed", "too large", "context length", "not found"):
		return NewErrorWithCause(ErrorTypeBadPrompt, err, "request error")
	default:
		return NewErrorWithCause(ErrorTypeUnknown, err, "unclassified error")
	}
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
