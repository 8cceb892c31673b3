package cache

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// TTL presets. Call sites pick a tier instead of a raw duration.
const (
	// TTLNone disables caching for a call.
	TTLNone time.Duration = 0

	// TTLShort suits data that changes often (issue lists, search results).
	TTLShort = 1 * time.Minute

	// TTLMedium suits single issues and comments.
	TTLMedium = 2 * time.Minute

	// TTLDefault is the cache-wide default.
	TTLDefault = 5 * time.Minute

	// TTLLong suits slow-moving metadata (projects, teams, workflow states).
	TTLLong = 15 * time.Minute

	// TTLVeryLong suits near-static data (current user, instance info).
	TTLVeryLong = 30 * time.Minute
)

// TTLFromHeaders derives a TTL from HTTP caching headers.
//
// Cache-Control no-store / no-cache yields TTLNone. A max-age (or s-maxage)
// directive wins over Expires. Without usable headers, fallback is returned.
func TTLFromHeaders(h http.Header, fallback time.Duration, now time.Time) time.Duration {
	if h == nil {
		return fallback
	}

	if cc := h.Get("Cache-Control"); cc != "" {
		maxAge := time.Duration(-1)
		for _, directive := range strings.Split(cc, ",") {
			name, value, _ := strings.Cut(strings.TrimSpace(directive), "=")
			switch strings.ToLower(name) {
			case "no-store", "no-cache":
				return TTLNone
			case "max-age", "s-maxage":
				if secs, err := strconv.Atoi(strings.Trim(value, `"`)); err == nil && secs >= 0 {
					maxAge = time.Duration(secs) * time.Second
				}
			}
		}
		if maxAge >= 0 {
			return maxAge
		}
	}

	if expiresStr := h.Get("Expires"); expiresStr != "" {
		expires, err := http.ParseTime(expiresStr)
		if err != nil {
			return fallback
		}
		if ttl := expires.Sub(now); ttl > 0 {
			return ttl
		}
		return TTLNone
	}

	return fallback
}
