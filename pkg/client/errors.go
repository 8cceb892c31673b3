package client

import (
	"errors"
	"fmt"
	"time"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted matches (via errors.Is) a ClassifiedError returned
	// after every allowed attempt failed with a retryable error.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrCanceled is wrapped by the error returned when the caller's context
	// ends before the request completes.
	ErrCanceled = errors.New("request canceled")

	// ErrInvalidConfig is wrapped by configuration validation errors.
	ErrInvalidConfig = errors.New("invalid client config")
)

// Kind is the category a failure is classified into.
type Kind string

const (
	// KindNetwork is a transport failure: refused, reset, unreachable, timed out.
	KindNetwork Kind = "network"

	// KindAuth is a 401. Credentials must be refreshed by the caller.
	KindAuth Kind = "auth"

	// KindForbidden is a 403.
	KindForbidden Kind = "forbidden"

	// KindNotFound is a 404.
	KindNotFound Kind = "not_found"

	// KindRateLimited is a 429, retried after the server-directed delay.
	KindRateLimited Kind = "rate_limited"

	// KindServerUnavailable is a 500, 502, 503 or 504.
	KindServerUnavailable Kind = "server_unavailable"

	// KindClientError is any other non-2xx response or a malformed body.
	KindClientError Kind = "client_error"

	// KindUnknown covers everything else, including caller cancellation.
	KindUnknown Kind = "unknown"
)

// ClassifiedError is the error returned for a failed logical request.
// Retrieve it with errors.As.
type ClassifiedError struct {
	// Kind is the failure category.
	Kind Kind

	// StatusCode is the HTTP status, or 0 when no response was received.
	StatusCode int

	// Retryable reports whether the failure was eligible for another attempt
	// under the request's retry policy.
	Retryable bool

	// RetryAfter is the server-directed delay. Only meaningful when
	// HasRetryAfter is true.
	RetryAfter    time.Duration
	HasRetryAfter bool

	// Message is the raw failure message (response status or transport error).
	Message string

	// Attempts is the number of physical attempts made.
	Attempts int

	// Exhausted is set when the request stopped because it ran out of retries.
	Exhausted bool

	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *ClassifiedError) Error() string {
	status := ""
	if e.StatusCode != 0 {
		status = fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s error%s: %s: %v", e.Kind, status, e.Message, e.Err)
	}
	return fmt.Sprintf("%s error%s: %s", e.Kind, status, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// Is reports ErrRetryExhausted for exhausted requests.
func (e *ClassifiedError) Is(target error) bool {
	return target == ErrRetryExhausted && e.Exhausted
}

// UserMessage returns a description suitable for showing to the user.
func (e *ClassifiedError) UserMessage() string {
	switch e.Kind {
	case KindNetwork:
		return "Unable to reach the server. Check your network connection."
	case KindAuth:
		return "Authentication failed. Please reconfigure your credentials."
	case KindForbidden:
		return "You do not have permission to perform this action."
	case KindNotFound:
		return "The requested item was not found."
	case KindRateLimited:
		if e.HasRetryAfter && e.RetryAfter > 0 {
			return fmt.Sprintf("Rate limit exceeded. Try again in %s.", e.RetryAfter.Round(time.Second))
		}
		return "Rate limit exceeded. Please try again later."
	case KindServerUnavailable:
		return "The service is temporarily unavailable. Please try again later."
	case KindClientError:
		return "The request could not be completed."
	default:
		return "An unexpected error occurred."
	}
}

// AsClassified extracts a *ClassifiedError from err's chain.
func AsClassified(err error) (*ClassifiedError, bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// KindOf returns the classification kind of err, or KindUnknown.
func KindOf(err error) Kind {
	if ce, ok := AsClassified(err); ok {
		return ce.Kind
	}
	return KindUnknown
}
