package client

import (
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"time"
)

// JitterFraction is the relative jitter applied to exponential backoff (±25%).
const JitterFraction = 0.25

// DefaultRateLimitFloor is the minimum wait after a 429 without Retry-After.
// It is long enough to clear the per-minute windows used by Linear and Jira.
const DefaultRateLimitFloor = 60 * time.Second

// RetryPolicy controls how a logical request is retried. Policies are
// values; the With* helpers return modified copies.
//
// The zero values of DisableNetworkRetry and RateLimitFloor keep the safe
// defaults, so a partial literal such as
//
//	RetryPolicy{MaxRetries: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: 10 * time.Second}
//
// still retries transport failures and still waits DefaultRateLimitFloor
// after a bare 429.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// BaseDelay is the backoff before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps every computed delay, including Retry-After.
	MaxDelay time.Duration

	// RetryableStatuses lists the HTTP statuses that may be retried.
	// nil defers to the classification (429 and 5xx retry, others don't).
	// 401, 403 and 404 are never retried.
	RetryableStatuses map[int]bool

	// DisableNetworkRetry turns off retries of transport failures.
	DisableNetworkRetry bool

	// RateLimitFloor is the minimum delay after a 429 that carries no
	// Retry-After header. It is not capped by MaxDelay. Zero means
	// DefaultRateLimitFloor.
	RateLimitFloor time.Duration
}

// DefaultRetryPolicy returns the default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
		RetryableStatuses: map[int]bool{
			http.StatusRequestTimeout:      true,
			http.StatusTooManyRequests:     true,
			http.StatusInternalServerError: true,
			http.StatusBadGateway:          true,
			http.StatusServiceUnavailable:  true,
			http.StatusGatewayTimeout:      true,
		},
		RateLimitFloor: DefaultRateLimitFloor,
	}
}

// NoRetryPolicy returns a policy that makes exactly one attempt.
func NoRetryPolicy() RetryPolicy {
	p := DefaultRetryPolicy()
	p.MaxRetries = 0
	return p
}

// WithMaxRetries returns a copy with MaxRetries set.
func (p RetryPolicy) WithMaxRetries(n int) RetryPolicy {
	p.MaxRetries = n
	return p
}

// WithDelays returns a copy with BaseDelay and MaxDelay set.
func (p RetryPolicy) WithDelays(base, max time.Duration) RetryPolicy {
	p.BaseDelay = base
	p.MaxDelay = max
	return p
}

// WithRetryableStatuses returns a copy that retries exactly the given statuses.
func (p RetryPolicy) WithRetryableStatuses(statuses ...int) RetryPolicy {
	set := make(map[int]bool, len(statuses))
	for _, s := range statuses {
		set[s] = true
	}
	p.RetryableStatuses = set
	return p
}

// WithRetryOnNetworkError returns a copy that does or does not retry
// transport failures.
func (p RetryPolicy) WithRetryOnNetworkError(retry bool) RetryPolicy {
	p.DisableNetworkRetry = !retry
	return p
}

// RetryOnNetworkError reports whether transport failures are retried.
func (p RetryPolicy) RetryOnNetworkError() bool {
	return !p.DisableNetworkRetry
}

// EffectiveRateLimitFloor returns RateLimitFloor, or DefaultRateLimitFloor
// when it is unset.
func (p RetryPolicy) EffectiveRateLimitFloor() time.Duration {
	if p.RateLimitFloor <= 0 {
		return DefaultRateLimitFloor
	}
	return p.RateLimitFloor
}

// WithRateLimitFloor returns a copy with RateLimitFloor set.
func (p RetryPolicy) WithRateLimitFloor(floor time.Duration) RetryPolicy {
	p.RateLimitFloor = floor
	return p
}

// Validate checks the policy for nonsensical values.
func (p RetryPolicy) Validate() error {
	if p.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries must be >= 0 (got %d)", ErrInvalidConfig, p.MaxRetries)
	}
	if p.BaseDelay < 0 {
		return fmt.Errorf("%w: base_delay must be >= 0 (got %s)", ErrInvalidConfig, p.BaseDelay)
	}
	if p.MaxDelay < p.BaseDelay {
		return fmt.Errorf("%w: max_delay (%s) must be >= base_delay (%s)", ErrInvalidConfig, p.MaxDelay, p.BaseDelay)
	}
	if p.RateLimitFloor < 0 {
		return fmt.Errorf("%w: rate_limit_floor must be >= 0 (got %s)", ErrInvalidConfig, p.RateLimitFloor)
	}
	return nil
}

func (p RetryPolicy) isZero() bool {
	return p.MaxRetries == 0 && p.BaseDelay == 0 && p.MaxDelay == 0 &&
		p.RetryableStatuses == nil && !p.DisableNetworkRetry && p.RateLimitFloor == 0
}

// Allows reports whether the policy permits retrying a failure of this
// classification. Attempt counting is up to the caller.
func (p RetryPolicy) Allows(ce *ClassifiedError) bool {
	switch ce.Kind {
	case KindNetwork:
		return !p.DisableNetworkRetry
	case KindAuth, KindForbidden, KindNotFound, KindUnknown:
		return false
	}
	if ce.StatusCode == 0 {
		return false
	}
	if p.RetryableStatuses == nil {
		return ce.Retryable
	}
	return p.RetryableStatuses[ce.StatusCode]
}

// BackoffDelay returns the exponential backoff for the given zero-based
// attempt: BaseDelay × 2^attempt, jittered by ±25% and clamped to
// [0, MaxDelay].
func (p RetryPolicy) BackoffDelay(attempt int) time.Duration {
	return p.backoff(attempt, rand.Float64)
}

func (p RetryPolicy) backoff(attempt int, random func() float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	base := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	jitter := base * JitterFraction * (random()*2 - 1)
	d := base + jitter

	if d > float64(p.MaxDelay) || math.IsInf(d, 0) || math.IsNaN(d) {
		return p.MaxDelay
	}
	if d < 0 {
		return 0
	}
	return time.Duration(d)
}

// RetryDelay returns how long to wait before retrying after ce on the given
// zero-based attempt. A server-directed Retry-After wins (capped at
// MaxDelay); a 429 without one waits at least EffectiveRateLimitFloor; everything
// else uses BackoffDelay.
func (p RetryPolicy) RetryDelay(attempt int, ce *ClassifiedError) time.Duration {
	return p.retryDelay(attempt, ce, rand.Float64)
}

func (p RetryPolicy) retryDelay(attempt int, ce *ClassifiedError, random func() float64) time.Duration {
	if ce != nil && ce.HasRetryAfter {
		return min(ce.RetryAfter, p.MaxDelay)
	}

	d := p.backoff(attempt, random)
	if floor := p.EffectiveRateLimitFloor(); ce != nil && ce.Kind == KindRateLimited && d < floor {
		d = floor
	}
	return d
}
