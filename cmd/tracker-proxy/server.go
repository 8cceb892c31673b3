package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/tracker-client/pkg/cache"
	"github.com/Sternrassler/tracker-client/pkg/client"
	"github.com/Sternrassler/tracker-client/pkg/metrics"
	"github.com/Sternrassler/tracker-client/pkg/netstatus"
	"github.com/Sternrassler/tracker-client/pkg/ratelimit"
)

const (
	headerSkipCache = "X-Skip-Cache"
	headerCache     = "X-Cache"

	maxRequestBody = 10 << 20

	// rateLimitStaleAfter marks a quota snapshot as outdated in /status.
	rateLimitStaleAfter = 5 * time.Minute
)

var proxyRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tracker_proxy_requests_total",
	Help: "Total proxied requests by method and result",
}, []string{"method", "result"}) // result: "hit", "miss", "bypass", "forward", "error"

// forwardedHeaders are copied from the caller to the upstream request.
var forwardedHeaders = []string{"Authorization", "Idempotency-Key", client.HeaderRequestID}

// cachedResponse is what the proxy stores per GET.
type cachedResponse struct {
	StatusCode int
	Body       []byte
}

type server struct {
	upstream     *client.Client
	responses    *cache.Cache
	tracker      *netstatus.Tracker
	cacheEnabled bool
	logger       zerolog.Logger
	now          func() time.Time
}

func newServer(upstream *client.Client, responses *cache.Cache, tracker *netstatus.Tracker, cacheEnabled bool, logger zerolog.Logger) *server {
	return &server{
		upstream:     upstream,
		responses:    responses,
		tracker:      tracker,
		cacheEnabled: cacheEnabled,
		logger:       logger,
		now:          time.Now,
	}
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Get("/status", s.handleStatus)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.HandleFunc("/api/*", s.handleAPI)

	return r
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// handleReady fails while the upstream is considered offline.
func (s *server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := s.tracker.Status()
	if status == netstatus.StatusOffline {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, "NOT READY: upstream %s", status)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "READY: upstream %s", status)
}

type statusResponse struct {
	Network   netstatus.Snapshot `json:"network"`
	Cache     cache.Stats        `json:"cache"`
	RateLimit *rateLimitStatus   `json:"rate_limit,omitempty"`
}

type rateLimitStatus struct {
	ratelimit.State
	ResetInSeconds int  `json:"reset_in_seconds"`
	Stale          bool `json:"stale"`
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Network: s.tracker.Snapshot(),
		Cache:   s.responses.Stats(),
	}
	if state, ok := s.upstream.RateLimit(); ok {
		now := s.now()
		resp.RateLimit = &rateLimitStatus{
			State:          state,
			ResetInSeconds: int(state.TimeUntilReset(now) / time.Second),
			Stale:          state.IsStale(now, rateLimitStaleAfter),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleAPI(w http.ResponseWriter, r *http.Request) {
	target := "/" + chi.URLParam(r, "*")
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	opts := client.RequestOptions{
		Method:    r.Method,
		Headers:   make(map[string]string),
		SkipCache: strings.EqualFold(r.Header.Get(headerSkipCache), "true"),
	}
	for _, h := range forwardedHeaders {
		if v := r.Header.Get(h); v != "" {
			opts.Headers[h] = v
		}
	}

	if r.Method == http.MethodGet {
		s.proxyRead(w, r, target, opts)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	if len(body) > 0 {
		opts.Body = body
	}

	s.proxyWrite(w, r, target, opts)
}

func (s *server) proxyRead(w http.ResponseWriter, r *http.Request, target string, opts client.RequestOptions) {
	key := readKey(target)

	result := "miss"
	switch {
	case !s.cacheEnabled:
		result = "forward"
	case opts.SkipCache:
		result = "bypass"
	default:
		if e, ok := s.responses.Lookup(key); ok {
			cached := e.Value.(cachedResponse)
			now := s.now()
			proxyRequestsTotal.WithLabelValues(r.Method, "hit").Inc()
			w.Header().Set(headerCache, "HIT")
			w.Header().Set("Age", strconv.Itoa(int(now.Sub(e.CreatedAt)/time.Second)))
			w.Header().Set("Cache-Control", "max-age="+strconv.Itoa(int(e.TTL(now)/time.Second)))
			writeRaw(w, cached.StatusCode, cached.Body)
			return
		}
	}

	resp, err := s.upstream.Request(r.Context(), target, opts)
	if err != nil {
		proxyRequestsTotal.WithLabelValues(r.Method, "error").Inc()
		s.writeError(w, r, err)
		return
	}
	proxyRequestsTotal.WithLabelValues(r.Method, result).Inc()

	if s.cacheEnabled {
		ttl := cache.TTLFromHeaders(resp.Header, s.responses.Stats().DefaultTTL, s.now())
		s.responses.Set(key, cachedResponse{StatusCode: resp.StatusCode, Body: resp.Body}, ttl)
	}

	w.Header().Set(headerCache, strings.ToUpper(result))
	writeRaw(w, resp.StatusCode, resp.Body)
}

func (s *server) proxyWrite(w http.ResponseWriter, r *http.Request, target string, opts client.RequestOptions) {
	resp, err := s.upstream.Request(r.Context(), target, opts)

	// The mutation may have been applied even if the response was lost.
	if s.cacheEnabled {
		if n := s.invalidate(target); n > 0 {
			s.logger.Debug().Str("target", target).Int("removed", n).Msg("Invalidated cached reads")
		}
	}

	if err != nil {
		proxyRequestsTotal.WithLabelValues(r.Method, "error").Inc()
		s.writeError(w, r, err)
		return
	}

	proxyRequestsTotal.WithLabelValues(r.Method, "forward").Inc()
	writeRaw(w, resp.StatusCode, resp.Body)
}

// invalidate drops cached reads of the resource a mutation touched: the
// resource itself (first two path segments) and its collection listing.
func (s *server) invalidate(target string) int {
	path, _, _ := strings.Cut(target, "?")
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		return 0
	}

	collection := "/" + segments[0]
	removed := s.responses.InvalidateByRegexp(regexp.MustCompile(
		"^" + regexp.QuoteMeta(readKey(collection)) + `(\?|$)`,
	))

	if len(segments) > 1 {
		resource := collection + "/" + segments[1]
		removed += s.responses.InvalidateByRegexp(regexp.MustCompile(
			"^" + regexp.QuoteMeta(readKey(resource)) + `([/?]|$)`,
		))
	}
	return removed
}

// readKey is the cache key of a GET for target. Targets start with '/', so
// the key of a path is always a prefix of the keys of its sub-paths.
func readKey(target string) string {
	return cache.GenerateKey("proxy", http.MethodGet, target)
}

type errorResponse struct {
	Error    string `json:"error"`
	Message  string `json:"message"`
	Status   int    `json:"upstream_status,omitempty"`
	Attempts int    `json:"attempts,omitempty"`
}

// statusForKind maps error kinds to the status the proxy answers with.
var statusForKind = map[client.Kind]int{
	client.KindAuth:        http.StatusUnauthorized,
	client.KindForbidden:   http.StatusForbidden,
	client.KindNotFound:    http.StatusNotFound,
	client.KindRateLimited: http.StatusTooManyRequests,
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	ce, ok := client.AsClassified(err)
	if !ok {
		ce = client.Classify(nil, err)
	}

	status, ok := statusForKind[ce.Kind]
	if !ok {
		status = http.StatusBadGateway
	}
	if ce.HasRetryAfter {
		w.Header().Set("Retry-After", strconv.Itoa(int(ce.RetryAfter.Round(time.Second)/time.Second)))
	}

	s.logger.Debug().
		Err(err).
		Str("path", r.URL.Path).
		Str("kind", string(ce.Kind)).
		Int("status", status).
		Msg("Upstream request failed")

	writeJSON(w, status, errorResponse{
		Error:    string(ce.Kind),
		Message:  ce.UserMessage(),
		Status:   ce.StatusCode,
		Attempts: ce.Attempts,
	})
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	if len(body) > 0 {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(status)
	w.Write(body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
