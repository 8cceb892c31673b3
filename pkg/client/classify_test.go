package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"testing"
	"time"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status        int
		wantKind      Kind
		wantRetryable bool
	}{
		{401, KindAuth, false},
		{403, KindForbidden, false},
		{404, KindNotFound, false},
		{429, KindRateLimited, true},
		{500, KindServerUnavailable, true},
		{502, KindServerUnavailable, true},
		{503, KindServerUnavailable, true},
		{504, KindServerUnavailable, true},
		{400, KindClientError, false},
		{408, KindClientError, false},
		{409, KindClientError, false},
		{422, KindClientError, false},
		{501, KindClientError, false},
		{302, KindClientError, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			ce := ClassifyStatus(tt.status, "", nil)

			if ce.Kind != tt.wantKind {
				t.Errorf("Kind = %s, want %s", ce.Kind, tt.wantKind)
			}
			if ce.Retryable != tt.wantRetryable {
				t.Errorf("Retryable = %v, want %v", ce.Retryable, tt.wantRetryable)
			}
			if ce.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", ce.StatusCode, tt.status)
			}
			if ce.Message != http.StatusText(tt.status) {
				t.Errorf("Message = %q, want %q", ce.Message, http.StatusText(tt.status))
			}
		})
	}
}

func TestClassifyStatus_RetryAfter(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "5")

	ce := ClassifyStatus(http.StatusTooManyRequests, "429 Too Many Requests", h)

	if !ce.HasRetryAfter {
		t.Fatal("HasRetryAfter = false, want true")
	}
	if ce.RetryAfter != 5*time.Second {
		t.Errorf("RetryAfter = %v, want 5s", ce.RetryAfter)
	}

	ce = ClassifyStatus(http.StatusTooManyRequests, "", http.Header{})
	if ce.HasRetryAfter {
		t.Error("HasRetryAfter = true without header")
	}
}

func TestClassify_Response(t *testing.T) {
	resp := &http.Response{StatusCode: 503, Status: "503 Service Unavailable", Header: http.Header{}}

	ce := Classify(resp, nil)
	if ce.Kind != KindServerUnavailable {
		t.Errorf("Kind = %s, want server_unavailable", ce.Kind)
	}
	if ce.Message != "503 Service Unavailable" {
		t.Errorf("Message = %q", ce.Message)
	}
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o deadline reached" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestClassify_TransportErrors(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantKind      Kind
		wantRetryable bool
	}{
		{"connection refused", fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED), KindNetwork, true},
		{"connection reset", fmt.Errorf("read: %w", syscall.ECONNRESET), KindNetwork, true},
		{"url error wrapping refused dial", &url.Error{Op: "Post", URL: "https://api.linear.app", Err: &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}}, KindNetwork, true},
		{"url error wrapping timeout", &url.Error{Op: "Post", URL: "https://api.linear.app", Err: timeoutError{}}, KindNetwork, true},
		{"url error wrapping other", &url.Error{Op: "Get", URL: "https://api.linear.app", Err: errors.New("boom")}, KindUnknown, false},
		{"redirect loop", &url.Error{Op: "Get", URL: "https://api.linear.app", Err: errors.New("stopped after 10 redirects")}, KindUnknown, false},
		{"check redirect refusal", &url.Error{Op: "Get", URL: "https://api.linear.app", Err: errors.New("redirect to foreign host")}, KindUnknown, false},
		{"attempt timeout", context.DeadlineExceeded, KindNetwork, true},
		{"net.Error", timeoutError{}, KindNetwork, true},
		{"eof", io.EOF, KindNetwork, true},
		{"unexpected eof", fmt.Errorf("read body: %w", io.ErrUnexpectedEOF), KindNetwork, true},
		{"message aborted", errors.New("The operation was aborted"), KindNetwork, true},
		{"message unreachable", errors.New("host unreachable"), KindNetwork, true},
		{"message timed out", errors.New("request timed out"), KindNetwork, true},
		{"caller canceled", context.Canceled, KindUnknown, false},
		{"canceled url error", &url.Error{Op: "Get", URL: "https://x", Err: context.Canceled}, KindUnknown, false},
		{"arbitrary", errors.New("something else"), KindUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ce := Classify(nil, tt.err)

			if ce.Kind != tt.wantKind {
				t.Errorf("Kind = %s, want %s", ce.Kind, tt.wantKind)
			}
			if ce.Retryable != tt.wantRetryable {
				t.Errorf("Retryable = %v, want %v", ce.Retryable, tt.wantRetryable)
			}
			if ce.StatusCode != 0 {
				t.Errorf("StatusCode = %d, want 0", ce.StatusCode)
			}
			if !errors.Is(ce, tt.err) {
				t.Error("classified error should wrap the original")
			}
		})
	}
}

func TestClassify_Total(t *testing.T) {
	ce := Classify(nil, nil)
	if ce == nil || ce.Kind != KindUnknown {
		t.Fatalf("Classify(nil, nil) = %v, want unknown", ce)
	}

	original := &ClassifiedError{Kind: KindAuth, StatusCode: 401}
	if got := Classify(nil, fmt.Errorf("wrapped: %w", original)); got != original {
		t.Errorf("Classify should pass through an existing ClassifiedError, got %v", got)
	}
}
