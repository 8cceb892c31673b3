// Package metrics provides the Prometheus registry and HTTP handler for the
// tracker client. All metrics are defined in their respective packages
// (cache, client, netstatus, ratelimit) to maintain modularity and avoid
// circular dependencies.
//
// This package also serves as the reference for all available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the tracker client.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer exposes the metrics registered in Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler returns an HTTP handler serving all registered metrics in the
// Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Cache Metrics (pkg/cache):
//   - tracker_cache_hits_total{cache} (Counter): Cache hits
//   - tracker_cache_misses_total{cache} (Counter): Cache misses, expired reads included
//   - tracker_cache_evictions_total{cache, reason} (Counter): Removed entries by reason (capacity, expired, invalidated)
//   - tracker_cache_entries{cache} (Gauge): Resident entries, expired but unswept ones included
//
// Request Metrics (pkg/client):
//   - tracker_requests_total{method, outcome} (Counter): Logical requests by outcome (success, failed, exhausted, canceled)
//   - tracker_request_attempt_duration_seconds{method} (Histogram): Duration of each physical attempt
//   - tracker_errors_total{kind} (Counter): Failed attempts by classification
//
// Retry Metrics (pkg/client):
//   - tracker_retries_total{kind} (Counter): Retries by classification
//   - tracker_retry_backoff_seconds{kind} (Histogram): Delay before each retry
//   - tracker_retry_exhausted_total{kind} (Counter): Requests that ran out of retries
//
// Network Status Metrics (pkg/netstatus):
//   - tracker_network_status (Gauge): 0 online, 1 degraded, 2 offline
//   - tracker_network_status_transitions_total{to} (Counter): Status transitions by target status
//   - tracker_network_listener_panics_total (Counter): Recovered panics in status listeners
//
// Rate Limit Metrics (pkg/ratelimit):
//   - tracker_ratelimit_remaining{host} (Gauge): Requests left in the upstream window
//
// Proxy Metrics (cmd/tracker-proxy):
//   - tracker_proxy_requests_total{method, result} (Counter): Proxied requests by result (hit, miss, bypass, error)
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(tracker_cache_hits_total[5m])) /
//   (sum(rate(tracker_cache_hits_total[5m])) + sum(rate(tracker_cache_misses_total[5m])))
//
//   # Offline
//   tracker_network_status == 2
//
//   # Retry Rate by Kind
//   sum by (kind) (rate(tracker_retries_total[5m]))
//
//   # P95 Attempt Latency
//   histogram_quantile(0.95, rate(tracker_request_attempt_duration_seconds_bucket[5m]))
//
//   # Upstream Quota Running Low
//   tracker_ratelimit_remaining < 100
