package errors

import (
	"fmt"
	"time"
)

// ErrorType classifies failures at the platform boundary.
type ErrorType string

const (
	// ErrorTypeNetwork covers connection failures and non-2xx responses
	// other than 404. Always retried.
	ErrorTypeNetwork ErrorType = "network"

	// ErrorTypeRateLimit is a 429 or an upstream throttle signal.
	ErrorTypeRateLimit ErrorType = "rate_limit"

	// ErrorTypeNotFound is a 404. Treated as valid empty data by callers,
	// never retried.
	ErrorTypeNotFound ErrorType = "not_found"

	// ErrorTypeAuthMissing marks an elevated-access call attempted without
	// a session. The call is skipped, not failed.
	ErrorTypeAuthMissing ErrorType = "auth_missing"

	// ErrorTypeUsernameUnknown marks a project call that needs the author's
	// username before it can be issued. The sub-call is skipped.
	ErrorTypeUsernameUnknown ErrorType = "username_unknown"

	// ErrorTypeParsing covers malformed JSON or HTML from upstream.
	ErrorTypeParsing ErrorType = "parsing"

	// ErrorTypeFatal marks programming errors. These abort the run.
	ErrorTypeFatal ErrorType = "fatal"
)

// Error is a typed platform error.
type Error struct {
	Type    ErrorType
	Message string
	Code    int

	// RetryAfter carries a server-specified Retry-After duration, when the
	// response included one. Zero means no server hint.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Type, e.Message)
}

// New constructs a typed error.
func New(t ErrorType, format string, args ...interface{}) *Error {
	return &Error{Type: t, Message: fmt.Sprintf(format, args...)}
}

// NewWithCode constructs a typed error carrying an HTTP status code.
func NewWithCode(t ErrorType, code int, format string, args ...interface{}) *Error {
	return &Error{Type: t, Message: fmt.Sprintf(format, args...), Code: code}
}

// IsRetryable reports whether an error type should be retried.
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeRateLimit:
		return true
	default:
		return false
	}
}

// IsRetryableStatusCode reports whether an HTTP status code is transient.
// 404 is valid empty data and everything else non-2xx is retried, per the
// archive-completeness-over-liveness policy.
func IsRetryableStatusCode(statusCode int) bool {
	if statusCode == 0 {
		return true // network error, no response
	}
	if statusCode >= 200 && statusCode < 300 {
		return false
	}
	return statusCode != 404
}
