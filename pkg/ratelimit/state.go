// Package ratelimit parses the rate-limit hints that ticket-tracker APIs
// attach to their responses: the standard Retry-After header and the
// X-RateLimit-* quota headers sent by Linear and Jira.
package ratelimit

import (
	"time"
)

// NearlyExhaustedRatio is the remaining/limit ratio below which a quota is
// considered close to exhaustion.
const NearlyExhaustedRatio = 0.1

// State is a point-in-time snapshot of a server-reported request quota.
type State struct {
	// Limit is the total number of requests allowed in the current window.
	Limit int `json:"limit"`

	// Remaining is the number of requests left in the current window.
	Remaining int `json:"remaining"`

	// ResetAt is when the window resets. Zero if the server did not say.
	ResetAt time.Time `json:"reset_at"`

	// ObservedAt is when the snapshot was taken.
	ObservedAt time.Time `json:"observed_at"`
}

// IsStale returns true if the snapshot is older than maxAge.
func (s *State) IsStale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(s.ObservedAt) > maxAge
}

// Exhausted returns true if no requests remain in the window.
func (s *State) Exhausted() bool {
	return s.Remaining <= 0
}

// NearlyExhausted returns true if less than NearlyExhaustedRatio of the
// limit remains. A snapshot without a limit is never nearly exhausted
// unless it is fully exhausted.
func (s *State) NearlyExhausted() bool {
	if s.Exhausted() {
		return true
	}
	if s.Limit <= 0 {
		return false
	}
	return float64(s.Remaining)/float64(s.Limit) < NearlyExhaustedRatio
}

// TimeUntilReset returns the duration until the window resets.
// Returns 0 if the reset time is unknown or has already passed.
func (s *State) TimeUntilReset(now time.Time) time.Duration {
	if s.ResetAt.IsZero() {
		return 0
	}
	d := s.ResetAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
