package cache

import (
	"container/list"
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultMaxSize is the resident entry limit used when Config.MaxSize is not positive.
	DefaultMaxSize = 500

	// DefaultName labels the metrics of caches created without a name.
	DefaultName = "default"
)

// Config holds the cache configuration.
type Config struct {
	// Name labels this cache's metrics (default: "default").
	Name string

	// MaxSize is the maximum number of resident entries, expired ones included.
	MaxSize int

	// DefaultTTL applies when Set is called without a TTL.
	DefaultTTL time.Duration

	// Clock returns the current time (default: time.Now). Tests inject a fake clock.
	Clock func() time.Time

	// Logger receives debug output for evictions and invalidations.
	// Defaults to the global logger with component=cache.
	Logger *zerolog.Logger
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{
		Name:       DefaultName,
		MaxSize:    DefaultMaxSize,
		DefaultTTL: TTLDefault,
	}
}

// Stats describes the cache at a point in time.
type Stats struct {
	Size       int           `json:"size"`
	MaxSize    int           `json:"max_size"`
	DefaultTTL time.Duration `json:"default_ttl"`
}

// Cache is a goroutine-safe LRU cache with per-entry TTL.
//
// Every method completes its mutation under a single lock, so concurrent
// callers never observe a partially updated cache. Methods never panic and
// never return errors.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	// front = most recently used
	order *list.List

	name       string
	maxSize    int
	defaultTTL time.Duration
	now        func() time.Time
	logger     zerolog.Logger

	loads singleflight.Group
	// loading holds the in-flight GetOrLoad call per key.
	loading map[string]*pendingLoad
}

// pendingLoad is marked superseded when its key is deleted or invalidated
// mid-load; its result is then not stored.
type pendingLoad struct {
	superseded bool
}

// New creates a cache. Non-positive MaxSize falls back to DefaultMaxSize,
// non-positive DefaultTTL to TTLDefault.
func New(cfg Config) *Cache {
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = TTLDefault
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	logger := log.With().Str("component", "cache").Str("cache", cfg.Name).Logger()
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("cache", cfg.Name).Logger()
	}

	return &Cache{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		loading:    make(map[string]*pendingLoad),
		name:       cfg.Name,
		maxSize:    cfg.MaxSize,
		defaultTTL: cfg.DefaultTTL,
		now:        cfg.Clock,
		logger:     logger,
	}
}

// Set stores value under key. Without a ttl argument the default TTL
// applies. A ttl of zero (or less) is a no-op: nothing is stored and any
// existing entry for key is left untouched.
//
// Overwriting an existing key refreshes its value, expiry and recency.
// Inserting a new key into a full cache first evicts the least recently
// used resident entry.
func (c *Cache) Set(key string, value any, ttl ...time.Duration) {
	d := c.defaultTTL
	if len(ttl) > 0 {
		d = ttl[0]
	}
	if d <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.set(key, value, d)
}

// set stores value under key. Caller must hold c.mu.
func (c *Cache) set(key string, value any, d time.Duration) {
	now := c.now()

	if el, ok := c.entries[key]; ok {
		e := el.Value.(*Entry)
		e.Value = value
		e.ExpiresAt = now.Add(d)
		e.LastAccessed = now
		e.CreatedAt = now
		c.order.MoveToFront(el)
		return
	}

	for c.order.Len() >= c.maxSize {
		c.evictOldest()
	}

	e := &Entry{
		Key:          key,
		Value:        value,
		ExpiresAt:    now.Add(d),
		LastAccessed: now,
		CreatedAt:    now,
	}
	c.entries[key] = c.order.PushFront(e)
	CacheEntries.WithLabelValues(c.name).Set(float64(c.order.Len()))
}

// Get returns the value stored under key and marks it as most recently used.
// Expired entries are removed and reported as absent.
func (c *Cache) Get(key string) (any, bool) {
	e, ok := c.Lookup(key)
	if !ok {
		return nil, false
	}
	return e.Value, true
}

// Lookup is Get returning a copy of the whole entry, for callers that also
// need its age or remaining TTL.
func (c *Cache) Lookup(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lookup(key)
	if !ok {
		CacheMisses.WithLabelValues(c.name).Inc()
		return Entry{}, false
	}

	e.LastAccessed = c.now()
	c.order.MoveToFront(c.entries[key])
	CacheHits.WithLabelValues(c.name).Inc()
	return *e, true
}

// Has reports whether key holds a live entry. It removes an expired entry
// like Get does but does not change recency.
func (c *Cache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.lookup(key)
	return ok
}

// Delete removes key and reports whether it was resident.
func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.forgetLoads(func(k string) bool { return k == key })

	el, ok := c.entries[key]
	if !ok {
		return false
	}
	c.remove(el)
	return true
}

// InvalidateByPattern removes every key containing pattern and returns the
// number of removed entries. A '*' in pattern matches any run of
// characters, so "user:123:*" drops everything cached for user 123.
func (c *Cache) InvalidateByPattern(pattern string) int {
	if strings.Contains(pattern, "*") {
		return c.InvalidateByRegexp(wildcardRegexp(pattern))
	}
	return c.invalidate(func(key string) bool {
		return strings.Contains(key, pattern)
	})
}

// InvalidateByRegexp removes every key matched by re and returns the number
// of removed entries. A nil re removes nothing.
func (c *Cache) InvalidateByRegexp(re *regexp.Regexp) int {
	if re == nil {
		return 0
	}
	return c.invalidate(re.MatchString)
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.forgetLoads(func(string) bool { return true })

	n := c.order.Len()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
	CacheEntries.WithLabelValues(c.name).Set(0)

	c.logger.Debug().Int("removed", n).Msg("Cache cleared")
}

// Stats returns the current size and configuration. Size counts expired
// entries that have not been read or swept yet.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Size:       c.order.Len(),
		MaxSize:    c.maxSize,
		DefaultTTL: c.defaultTTL,
	}
}

// Len returns the number of resident entries.
func (c *Cache) Len() int {
	return c.Stats().Size
}

// Sweep removes all expired entries and returns how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		if el.Value.(*Entry).IsExpired(now) {
			c.remove(el)
			CacheEvictions.WithLabelValues(c.name, reasonExpired).Inc()
			removed++
		}
		el = prev
	}

	if removed > 0 {
		c.logger.Debug().Int("removed", removed).Msg("Swept expired entries")
	}
	return removed
}

// StartJanitor sweeps expired entries every interval until ctx is done.
// It returns immediately; a non-positive interval disables the janitor.
func (c *Cache) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Sweep()
			}
		}
	}()
}

// GetOrLoad returns the live value for key, or calls load and caches its
// result with ttl. Concurrent callers missing the same key share a single
// load call. A load error is returned to every waiting caller and nothing
// is cached.
//
// If key is deleted or invalidated (or the cache cleared) while the load
// runs, the loaded value is still returned to the callers already waiting
// but is not cached, and later callers start a fresh load.
func (c *Cache) GetOrLoad(ctx context.Context, key string, ttl time.Duration, load func(ctx context.Context) (any, error)) (any, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	v, err, shared := c.loads.Do(key, func() (any, error) {
		pending := &pendingLoad{}
		c.mu.Lock()
		c.loading[key] = pending
		c.mu.Unlock()

		v, err := load(ctx)

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.loading[key] == pending {
			delete(c.loading, key)
		}
		if err != nil {
			return nil, err
		}
		if pending.superseded {
			c.logger.Debug().Str("key", key).Msg("Discarded load superseded by invalidation")
			return v, nil
		}
		if ttl > 0 {
			c.set(key, v, ttl)
		}
		return v, nil
	})
	if shared {
		c.logger.Debug().Str("key", key).Msg("Shared in-flight load")
	}
	return v, err
}

// lookup returns the live entry for key, removing it if expired.
// Caller must hold c.mu.
func (c *Cache) lookup(key string) (*Entry, bool) {
	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}

	e := el.Value.(*Entry)
	if e.IsExpired(c.now()) {
		c.remove(el)
		CacheEvictions.WithLabelValues(c.name, reasonExpired).Inc()
		return nil, false
	}
	return e, true
}

func (c *Cache) invalidate(match func(key string) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.forgetLoads(match)

	removed := 0
	for key, el := range c.entries {
		if match(key) {
			c.remove(el)
			removed++
		}
	}

	if removed > 0 {
		CacheEvictions.WithLabelValues(c.name, reasonInvalidated).Add(float64(removed))
		c.logger.Debug().Int("removed", removed).Msg("Invalidated entries")
	}
	return removed
}

// forgetLoads supersedes in-flight loads of matching keys and detaches
// them so that later callers start a fresh load. Caller must hold c.mu.
func (c *Cache) forgetLoads(match func(key string) bool) {
	for key, pending := range c.loading {
		if match(key) {
			pending.superseded = true
			delete(c.loading, key)
			c.loads.Forget(key)
		}
	}
}

// evictOldest drops the least recently used entry. Caller must hold c.mu.
func (c *Cache) evictOldest() {
	el := c.order.Back()
	if el == nil {
		return
	}
	e := el.Value.(*Entry)
	c.remove(el)
	CacheEvictions.WithLabelValues(c.name, reasonCapacity).Inc()

	c.logger.Debug().
		Str("key", e.Key).
		Time("last_accessed", e.LastAccessed).
		Msg("Evicted least recently used entry")
}

// remove unlinks el. Caller must hold c.mu.
func (c *Cache) remove(el *list.Element) {
	e := c.order.Remove(el).(*Entry)
	delete(c.entries, e.Key)
	CacheEntries.WithLabelValues(c.name).Set(float64(c.order.Len()))
}

func wildcardRegexp(pattern string) *regexp.Regexp {
	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return regexp.MustCompile(strings.Join(parts, ".*"))
}
