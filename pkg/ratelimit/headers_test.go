package ratelimit

import (
	"net/http"
	"testing"
	"time"
)

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		value  string
		want   time.Duration
		wantOK bool
	}{
		{name: "seconds", value: "5", want: 5 * time.Second, wantOK: true},
		{name: "zero seconds", value: "0", want: 0, wantOK: true},
		{name: "padded seconds", value: " 120 ", want: 2 * time.Minute, wantOK: true},
		{name: "negative seconds", value: "-3", want: 0, wantOK: false},
		{name: "fractional seconds rejected", value: "1.5", want: 0, wantOK: false},
		{name: "http date in future", value: now.Add(90 * time.Second).Format(http.TimeFormat), want: 90 * time.Second, wantOK: true},
		{name: "http date in past", value: now.Add(-time.Hour).Format(http.TimeFormat), want: 0, wantOK: true},
		{name: "empty", value: "", want: 0, wantOK: false},
		{name: "garbage", value: "soon", want: 0, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseRetryAfter(tt.value, now)
			if ok != tt.wantOK {
				t.Fatalf("ParseRetryAfter(%q) ok = %v, want %v", tt.value, ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("ParseRetryAfter(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestParseRetryAfter_HugeValueDoesNotOverflow(t *testing.T) {
	got, ok := ParseRetryAfter("99999999999999", time.Now())
	if !ok {
		t.Fatal("expected huge value to parse")
	}
	if got <= 0 {
		t.Errorf("ParseRetryAfter() = %v, want positive duration", got)
	}
}

func TestRetryAfterFromHeaders_Nil(t *testing.T) {
	if _, ok := RetryAfterFromHeaders(nil, time.Now()); ok {
		t.Error("expected nil headers to yield no value")
	}
}

func TestFromHeaders(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name          string
		headers       map[string]string
		wantNil       bool
		wantErr       bool
		wantLimit     int
		wantRemaining int
		wantResetAt   time.Time
	}{
		{
			name:    "no quota headers",
			headers: map[string]string{"Content-Type": "application/json"},
			wantNil: true,
		},
		{
			name: "relative reset seconds",
			headers: map[string]string{
				HeaderLimit:     "100",
				HeaderRemaining: "42",
				HeaderReset:     "60",
			},
			wantLimit:     100,
			wantRemaining: 42,
			wantResetAt:   now.Add(60 * time.Second),
		},
		{
			name: "linear style epoch millis",
			headers: map[string]string{
				HeaderRequestsLimit:     "1500",
				HeaderRequestsRemaining: "1499",
				HeaderRequestsReset:     "1709294460000",
			},
			wantLimit:     1500,
			wantRemaining: 1499,
			wantResetAt:   time.UnixMilli(1709294460000),
		},
		{
			name: "epoch seconds",
			headers: map[string]string{
				HeaderRemaining: "7",
				HeaderReset:     "1709294460",
			},
			wantRemaining: 7,
			wantResetAt:   time.Unix(1709294460, 0),
		},
		{
			name:    "invalid remaining",
			headers: map[string]string{HeaderRemaining: "lots"},
			wantErr: true,
		},
		{
			name: "invalid reset",
			headers: map[string]string{
				HeaderRemaining: "10",
				HeaderReset:     "tomorrow",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			for k, v := range tt.headers {
				h.Set(k, v)
			}

			state, err := FromHeaders(h, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("FromHeaders() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if tt.wantNil {
				if state != nil {
					t.Errorf("FromHeaders() = %+v, want nil", state)
				}
				return
			}
			if state == nil {
				t.Fatal("FromHeaders() returned nil state")
			}
			if state.Limit != tt.wantLimit {
				t.Errorf("Limit = %d, want %d", state.Limit, tt.wantLimit)
			}
			if state.Remaining != tt.wantRemaining {
				t.Errorf("Remaining = %d, want %d", state.Remaining, tt.wantRemaining)
			}
			if !state.ResetAt.Equal(tt.wantResetAt) {
				t.Errorf("ResetAt = %v, want %v", state.ResetAt, tt.wantResetAt)
			}
			if !state.ObservedAt.Equal(now) {
				t.Errorf("ObservedAt = %v, want %v", state.ObservedAt, now)
			}
		})
	}
}
