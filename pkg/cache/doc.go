// Package cache provides an in-memory, size-bounded LRU cache with
// per-entry expiry for ticket-tracker API responses.
//
// The cache is deliberately dumb about what it stores: callers decide what
// is cacheable, build the keys, pick a TTL tier, and invalidate after
// mutations.
//
// # Basic Usage
//
//	c := cache.New(cache.DefaultConfig())
//
//	key := cache.Key{Namespace: "linear", Operation: "issue", EntityID: "ENG-123"}.String()
//	if v, ok := c.Get(key); ok {
//		return v.(*Issue), nil
//	}
//
//	issue, err := fetchIssue(ctx, "ENG-123")
//	if err != nil {
//		return nil, err
//	}
//	c.Set(key, issue, cache.TTLMedium)
//
// A TTL of zero (cache.TTLNone) makes Set a no-op, so call sites can express
// "do not cache" through the same path.
//
// # Invalidation
//
//	// After updating issue ENG-123
//	c.InvalidateByPattern("linear:issue:ENG-123")
//
//	// Wildcards match any run of characters
//	c.InvalidateByPattern("user:123:*")
//
//	// Full regular expressions
//	c.InvalidateByRegexp(regexp.MustCompile(`^jira:search:`))
//
// # Expiry
//
// Expiry is checked on read: an expired entry is removed the next time it is
// looked up. Until then it still occupies a slot and is counted by Stats.
// Long-lived processes that cache many one-off keys can call Sweep or start
// a janitor with StartJanitor.
//
// # Metrics
//
//   - tracker_cache_hits_total{cache} - Cache hits
//   - tracker_cache_misses_total{cache} - Cache misses
//   - tracker_cache_evictions_total{cache, reason} - capacity, expired, invalidated
//   - tracker_cache_entries{cache} - Resident entries (including not yet swept expired ones)
package cache
