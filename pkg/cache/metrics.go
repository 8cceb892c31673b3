package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Eviction reasons.
const (
	reasonCapacity    = "capacity"
	reasonExpired     = "expired"
	reasonInvalidated = "invalidated"
)

var (
	// CacheHits tracks cache hits by cache name
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache"},
	)

	// CacheMisses tracks cache misses, including reads of expired entries
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache"},
	)

	// CacheEvictions tracks removed entries by reason
	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_cache_evictions_total",
			Help: "Total number of cache entries removed by reason",
		},
		[]string{"cache", "reason"}, // "capacity", "expired", "invalidated"
	)

	// CacheEntries tracks resident entries
	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tracker_cache_entries",
			Help: "Current number of resident cache entries",
		},
		[]string{"cache"},
	)
)
