package client

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/Sternrassler/tracker-client/pkg/ratelimit"
)

type statusRule struct {
	kind      Kind
	retryable bool
}

// statusRules maps the statuses with a dedicated kind. Every other non-2xx
// status is a client error.
var statusRules = map[int]statusRule{
	http.StatusUnauthorized:        {kind: KindAuth},
	http.StatusForbidden:           {kind: KindForbidden},
	http.StatusNotFound:            {kind: KindNotFound},
	http.StatusTooManyRequests:     {kind: KindRateLimited, retryable: true},
	http.StatusInternalServerError: {kind: KindServerUnavailable, retryable: true},
	http.StatusBadGateway:          {kind: KindServerUnavailable, retryable: true},
	http.StatusServiceUnavailable:  {kind: KindServerUnavailable, retryable: true},
	http.StatusGatewayTimeout:      {kind: KindServerUnavailable, retryable: true},
}

// networkMessages are lower-case fragments that identify transport failures
// in errors that carry no type information.
var networkMessages = []string{
	"aborted",
	"connection refused",
	"connection reset",
	"broken pipe",
	"unreachable",
	"no such host",
	"timed out",
	"timeout",
	"deadline exceeded",
	"eof",
	"network is down",
	"tls handshake",
}

// Classify maps a failed request outcome to a ClassifiedError. A non-nil
// resp is classified by status code; otherwise err is classified. The
// mapping is total: every input yields exactly one kind.
func Classify(resp *http.Response, err error) *ClassifiedError {
	if resp != nil {
		return ClassifyStatus(resp.StatusCode, resp.Status, resp.Header)
	}
	if err == nil {
		return &ClassifiedError{Kind: KindUnknown, Message: "no response and no error"}
	}

	if ce, ok := AsClassified(err); ok {
		return ce
	}

	if IsNetworkError(err) {
		return &ClassifiedError{
			Kind:      KindNetwork,
			Retryable: true,
			Message:   err.Error(),
			Err:       err,
		}
	}

	return &ClassifiedError{
		Kind:    KindUnknown,
		Message: err.Error(),
		Err:     err,
	}
}

// ClassifyStatus classifies a non-2xx HTTP status. header may be nil;
// when present, its Retry-After (sent with 429 and some 503s) is parsed
// into RetryAfter.
func ClassifyStatus(statusCode int, status string, header http.Header) *ClassifiedError {
	if status == "" {
		status = http.StatusText(statusCode)
	}

	rule, ok := statusRules[statusCode]
	if !ok {
		rule = statusRule{kind: KindClientError}
		if statusCode >= 200 && statusCode < 300 {
			rule = statusRule{kind: KindUnknown}
		}
	}

	ce := &ClassifiedError{
		Kind:       rule.kind,
		StatusCode: statusCode,
		Retryable:  rule.retryable,
		Message:    status,
	}

	if header != nil {
		if d, ok := ratelimit.RetryAfterFromHeaders(header, time.Now()); ok {
			ce.RetryAfter = d
			ce.HasRetryAfter = true
		}
	}

	return ce
}

// IsNetworkError reports whether err is a transport-level failure rather
// than a well-formed HTTP response. Caller cancellation (context.Canceled)
// is not a network error.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	// *url.Error wraps every http.Client failure, redirect loops and
	// CheckRedirect refusals included, so judge what it wraps.
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err != nil && IsNetworkError(urlErr.Err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range networkMessages {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}
