package ratelimit

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Header names understood by FromHeaders. Linear uses the *-Requests-*
// variants, Jira and most REST APIs use the short form.
const (
	HeaderRetryAfter = "Retry-After"

	HeaderLimit     = "X-RateLimit-Limit"
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"

	HeaderRequestsLimit     = "X-RateLimit-Requests-Limit"
	HeaderRequestsRemaining = "X-RateLimit-Requests-Remaining"
	HeaderRequestsReset     = "X-RateLimit-Requests-Reset"
)

// epochThreshold separates "seconds until reset" from "unix timestamp" in
// X-RateLimit-Reset values. Anything above it is treated as a timestamp
// (seconds or milliseconds since the epoch).
const epochThreshold = 1_000_000_000

// maxRetryAfterSeconds keeps huge Retry-After values from overflowing
// time.Duration. Callers cap the delay far below this anyway.
const maxRetryAfterSeconds = 365 * 24 * 60 * 60

var quotaRemaining = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "tracker_ratelimit_remaining",
	Help: "Requests remaining in the server-reported rate limit window by host",
}, []string{"host"})

// ParseRetryAfter parses a Retry-After header value. Both forms from
// RFC 9110 are accepted: a non-negative number of seconds, or an HTTP-date.
// A date in the past yields a zero delay. The bool is false when the value
// is empty or malformed.
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}

	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		if seconds < 0 {
			return 0, false
		}
		if seconds > maxRetryAfterSeconds {
			seconds = maxRetryAfterSeconds
		}
		return time.Duration(seconds) * time.Second, true
	}

	at, err := http.ParseTime(value)
	if err != nil {
		return 0, false
	}
	if d := at.Sub(now); d > 0 {
		return d, true
	}
	return 0, true
}

// RetryAfterFromHeaders is ParseRetryAfter applied to the Retry-After header.
func RetryAfterFromHeaders(h http.Header, now time.Time) (time.Duration, bool) {
	if h == nil {
		return 0, false
	}
	return ParseRetryAfter(h.Get(HeaderRetryAfter), now)
}

// FromHeaders builds a quota snapshot from X-RateLimit-* headers.
// It returns (nil, nil) when no remaining-count header is present, which is
// the normal case for APIs that do not report quotas.
func FromHeaders(h http.Header, now time.Time) (*State, error) {
	if h == nil {
		return nil, nil
	}

	remainStr := firstHeader(h, HeaderRemaining, HeaderRequestsRemaining)
	if remainStr == "" {
		return nil, nil
	}

	remain, err := strconv.Atoi(remainStr)
	if err != nil {
		return nil, fmt.Errorf("parse %s header: %w", HeaderRemaining, err)
	}

	state := &State{
		Remaining:  remain,
		ObservedAt: now,
	}

	if limitStr := firstHeader(h, HeaderLimit, HeaderRequestsLimit); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, fmt.Errorf("parse %s header: %w", HeaderLimit, err)
		}
		state.Limit = limit
	}

	if resetStr := firstHeader(h, HeaderReset, HeaderRequestsReset); resetStr != "" {
		reset, err := strconv.ParseInt(resetStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %s header: %w", HeaderReset, err)
		}
		state.ResetAt = resetTime(reset, now)
	}

	return state, nil
}

// Observe exports the snapshot's remaining count for host.
func Observe(host string, s *State) {
	if s == nil {
		return
	}
	quotaRemaining.WithLabelValues(host).Set(float64(s.Remaining))
}

func resetTime(v int64, now time.Time) time.Time {
	switch {
	case v > epochThreshold*1000:
		return time.UnixMilli(v)
	case v > epochThreshold:
		return time.Unix(v, 0)
	default:
		return now.Add(time.Duration(v) * time.Second)
	}
}

func firstHeader(h http.Header, names ...string) string {
	for _, name := range names {
		if v := strings.TrimSpace(h.Get(name)); v != "" {
			return v
		}
	}
	return ""
}
