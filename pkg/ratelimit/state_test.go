package ratelimit

import (
	"testing"
	"time"
)

func TestState_IsStale(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		observed time.Time
		maxAge   time.Duration
		expected bool
	}{
		{
			name:     "fresh state",
			observed: now,
			maxAge:   5 * time.Minute,
			expected: false,
		},
		{
			name:     "stale state",
			observed: now.Add(-10 * time.Minute),
			maxAge:   5 * time.Minute,
			expected: true,
		},
		{
			name:     "just under max age",
			observed: now.Add(-4 * time.Minute),
			maxAge:   5 * time.Minute,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &State{ObservedAt: tt.observed}
			if got := s.IsStale(now, tt.maxAge); got != tt.expected {
				t.Errorf("IsStale() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestState_NearlyExhausted(t *testing.T) {
	tests := []struct {
		name      string
		limit     int
		remaining int
		expected  bool
	}{
		{name: "plenty left", limit: 1500, remaining: 1200, expected: false},
		{name: "at ratio boundary", limit: 100, remaining: 10, expected: false},
		{name: "below ratio", limit: 100, remaining: 9, expected: true},
		{name: "zero remaining", limit: 100, remaining: 0, expected: true},
		{name: "unknown limit", limit: 0, remaining: 3, expected: false},
		{name: "unknown limit exhausted", limit: 0, remaining: 0, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &State{Limit: tt.limit, Remaining: tt.remaining}
			if got := s.NearlyExhausted(); got != tt.expected {
				t.Errorf("NearlyExhausted() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestState_TimeUntilReset(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		resetAt  time.Time
		expected time.Duration
	}{
		{name: "future reset", resetAt: now.Add(30 * time.Second), expected: 30 * time.Second},
		{name: "past reset", resetAt: now.Add(-30 * time.Second), expected: 0},
		{name: "unknown reset", resetAt: time.Time{}, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &State{ResetAt: tt.resetAt}
			if got := s.TimeUntilReset(now); got != tt.expected {
				t.Errorf("TimeUntilReset() = %v, want %v", got, tt.expected)
			}
		})
	}
}
