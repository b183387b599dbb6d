package transport

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Common errors returned by the transport.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during backoff.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrRateLimited marks an attempt the server refused for rate reasons.
	// Execute always retries it; callers only see it wrapped in an exhausted error.
	ErrRateLimited = errors.New("rate limited")
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors other than 429.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents HTTP 429 and GraphQL THROTTLED responses.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// maxErrorBody bounds how much of a failed response body is kept.
const maxErrorBody = 4 << 10

// TransportError is a failed request: a non-success status, a network
// failure, or a retryable failure that ran out of attempts.
type TransportError struct {
	StatusCode int
	Body       string
	Class      ErrorClass
	Attempts   int

	// RetryAfter is the server's Retry-After hint, if any.
	RetryAfter time.Duration

	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	msg := fmt.Sprintf("transport %s error", e.Class)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status to an error class.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// classify reports the class of an attempt error and whether it is retried.
// Errors that are neither transport failures nor rate limits (for example
// a response that failed to parse) are returned to the caller untouched.
func classify(err error) (ErrorClass, bool) {
	if errors.Is(err, ErrRateLimited) {
		return ErrorClassRateLimit, true
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te.Class, shouldRetry(te.Class)
	}
	return "", false
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassRateLimit:
		return true
	case ErrorClassNetwork:
		return true
	default:
		// 4xx and 5xx surface immediately with status and body.
		return false
	}
}
