// Package client provides a retrying JSON HTTP client for ticket-tracker
// APIs with failure classification, backoff and network status reporting.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/tracker-client/pkg/netstatus"
	"github.com/Sternrassler/tracker-client/pkg/ratelimit"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout bounds a single physical attempt.
	DefaultTimeout = 30 * time.Second

	// HeaderRequestID correlates all attempts of one logical request.
	HeaderRequestID = "X-Request-ID"

	// maxBodySize limits how much of a response body is read.
	maxBodySize = 32 << 20
)

// Config holds the client configuration.
type Config struct {
	// BaseURL is prepended to relative request URLs, e.g.
	// "https://api.linear.app" or "https://example.atlassian.net/rest/api/3".
	BaseURL string

	// User-Agent header sent with every request (REQUIRED)
	UserAgent string

	// DefaultHeaders are sent with every request, typically Authorization.
	// Per-request headers override them.
	DefaultHeaders map[string]string

	// Policy is the retry policy used when a request does not carry one.
	Policy RetryPolicy

	// Timeout bounds each attempt, not the logical request.
	Timeout time.Duration

	// RequestsPerSecond paces outgoing attempts. 0 disables pacing.
	RequestsPerSecond float64

	// Tracker receives success/failure reports. Optional.
	Tracker *netstatus.Tracker

	// HTTPClient performs the round trips (default: a new http.Client).
	HTTPClient *http.Client

	// Logger overrides the component logger.
	Logger *zerolog.Logger
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL, userAgent string) Config {
	return Config{
		BaseURL:   baseURL,
		UserAgent: userAgent,
		Policy:    DefaultRetryPolicy(),
		Timeout:   DefaultTimeout,
	}
}

// RequestOptions customizes one logical request.
type RequestOptions struct {
	// Method defaults to GET.
	Method string

	// Headers are added to the request, overriding DefaultHeaders.
	Headers map[string]string

	// Body is sent as-is on every attempt.
	Body []byte

	// Timeout overrides Config.Timeout for each attempt of this request.
	Timeout time.Duration

	// Policy overrides Config.Policy for this request.
	Policy *RetryPolicy

	// SkipCache asks caching callers to bypass their cache. The client
	// itself does not cache and ignores it.
	SkipCache bool
}

// Response is a successful response with its JSON body.
type Response struct {
	StatusCode int
	Header     http.Header

	// Body is nil for 204 and zero-length responses.
	Body json.RawMessage

	// Attempts is the number of physical attempts it took.
	Attempts int
}

// Empty reports whether the response carried no body.
func (r *Response) Empty() bool {
	return len(r.Body) == 0
}

// Decode unmarshals the body into v. An empty response leaves v untouched.
func (r *Response) Decode(v any) error {
	if r.Empty() {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return &ClassifiedError{
			Kind:       KindClientError,
			StatusCode: r.StatusCode,
			Message:    "decode response body",
			Attempts:   r.Attempts,
			Err:        err,
		}
	}
	return nil
}

// Client is a retrying JSON HTTP client. It is safe for concurrent use;
// no lock is held while a request waits between attempts.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	userAgent      string
	defaultHeaders map[string]string
	policy         RetryPolicy
	timeout        time.Duration
	limiter        *rate.Limiter
	tracker        *netstatus.Tracker
	logger         zerolog.Logger

	// sleep waits between attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error

	rateLimitMu sync.Mutex
	rateLimit   *ratelimit.State
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("%w: user-agent is required", ErrInvalidConfig)
	}

	if cfg.BaseURL != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("%w: base_url must be an absolute URL (got %q)", ErrInvalidConfig, cfg.BaseURL)
		}
	}

	if cfg.Policy.isZero() {
		cfg.Policy = DefaultRetryPolicy()
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}

	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("%w: timeout must be >= 0 (got %s)", ErrInvalidConfig, cfg.Timeout)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	if cfg.RequestsPerSecond < 0 {
		return nil, fmt.Errorf("%w: requests_per_second must be >= 0 (got %g)", ErrInvalidConfig, cfg.RequestsPerSecond)
	}

	logger := log.With().Str("component", "tracker-client").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := max(1, int(cfg.RequestsPerSecond))
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	headers := make(map[string]string, len(cfg.DefaultHeaders))
	for k, v := range cfg.DefaultHeaders {
		headers[k] = v
	}

	return &Client{
		httpClient:     httpClient,
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		userAgent:      cfg.UserAgent,
		defaultHeaders: headers,
		policy:         cfg.Policy,
		timeout:        cfg.Timeout,
		limiter:        limiter,
		tracker:        cfg.Tracker,
		logger:         logger,
		sleep:          sleepContext,
	}, nil
}

// Request performs one logical request, retrying retryable failures per
// the request's policy. On failure the returned error is a
// *ClassifiedError; it matches ErrRetryExhausted when retries ran out and
// ErrCanceled when ctx ended first.
func (c *Client) Request(ctx context.Context, rawURL string, opts RequestOptions) (*Response, error) {
	method := strings.ToUpper(opts.Method)
	if method == "" {
		method = http.MethodGet
	}

	target, err := c.resolve(rawURL)
	if err != nil {
		return nil, err
	}

	policy := c.policy
	if opts.Policy != nil {
		if err := opts.Policy.Validate(); err != nil {
			return nil, err
		}
		policy = *opts.Policy
	}

	timeout := c.timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}

	requestID := opts.Headers[HeaderRequestID]
	if requestID == "" {
		requestID = uuid.NewString()
	}

	logger := c.logger.With().
		Str("request_id", requestID).
		Str("method", method).
		Str("url", target).
		Logger()

	for attempt := 0; ; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, c.canceled(ctx, method, err, attempt)
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, c.canceled(ctx, method, err, attempt)
		}

		logger.Debug().Int("attempt", attempt+1).Msg("Executing request")

		resp, cerr := c.do(ctx, method, target, requestID, opts, timeout)
		if cerr == nil {
			resp.Attempts = attempt + 1
			c.recordSuccess()
			requestsTotal.WithLabelValues(method, outcomeSuccess).Inc()
			if attempt > 0 {
				logger.Info().Int("attempts", resp.Attempts).Msg("Request succeeded after retry")
			}
			return resp, nil
		}

		// A parent context ending mid-attempt is the caller's doing, not
		// the network's.
		if err := ctx.Err(); err != nil {
			return nil, c.canceled(ctx, method, err, attempt+1)
		}

		cerr.Attempts = attempt + 1
		cerr.Retryable = policy.Allows(cerr)
		errorsTotal.WithLabelValues(string(cerr.Kind)).Inc()
		c.recordFailure(cerr)

		if !cerr.Retryable {
			logger.Warn().
				Str("kind", string(cerr.Kind)).
				Int("status", cerr.StatusCode).
				Int("attempts", cerr.Attempts).
				Msg("Request failed")
			requestsTotal.WithLabelValues(method, outcomeFailed).Inc()
			return nil, cerr
		}

		if attempt >= policy.MaxRetries {
			cerr.Exhausted = true
			logger.Error().
				Err(cerr).
				Str("kind", string(cerr.Kind)).
				Int("attempts", cerr.Attempts).
				Msg("Retry attempts exhausted")
			retryExhaustedTotal.WithLabelValues(string(cerr.Kind)).Inc()
			requestsTotal.WithLabelValues(method, outcomeExhausted).Inc()
			return nil, cerr
		}

		delay := policy.RetryDelay(attempt, cerr)
		retriesTotal.WithLabelValues(string(cerr.Kind)).Inc()
		retryBackoffSeconds.WithLabelValues(string(cerr.Kind)).Observe(delay.Seconds())

		logger.Warn().
			Str("kind", string(cerr.Kind)).
			Int("status", cerr.StatusCode).
			Int("attempt", attempt+1).
			Dur("backoff", delay).
			Bool("retry_after", cerr.HasRetryAfter).
			Msg("Retrying request after backoff")

		if err := c.sleep(ctx, delay); err != nil {
			return nil, c.canceled(ctx, method, err, attempt+1)
		}
	}
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, endpoint string, opts RequestOptions) (*Response, error) {
	opts.Method = http.MethodGet
	return c.Request(ctx, endpoint, opts)
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, endpoint string, opts RequestOptions) (*Response, error) {
	opts.Method = http.MethodDelete
	return c.Request(ctx, endpoint, opts)
}

// Post performs a POST request with body encoded as JSON.
// POST is retried like any other method; pass an Idempotency-Key header
// when the server supports one.
func (c *Client) Post(ctx context.Context, endpoint string, body any, opts RequestOptions) (*Response, error) {
	return c.send(ctx, http.MethodPost, endpoint, body, opts)
}

// Put performs a PUT request with body encoded as JSON.
func (c *Client) Put(ctx context.Context, endpoint string, body any, opts RequestOptions) (*Response, error) {
	return c.send(ctx, http.MethodPut, endpoint, body, opts)
}

// Patch performs a PATCH request with body encoded as JSON.
func (c *Client) Patch(ctx context.Context, endpoint string, body any, opts RequestOptions) (*Response, error) {
	return c.send(ctx, http.MethodPatch, endpoint, body, opts)
}

// DoJSON performs a request and decodes the response into T. An empty
// response yields the zero T.
func DoJSON[T any](ctx context.Context, c *Client, method, endpoint string, body any, opts RequestOptions) (T, error) {
	var out T

	resp, err := c.send(ctx, method, endpoint, body, opts)
	if err != nil {
		return out, err
	}
	if err := resp.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}

// Tracker returns the network status tracker, or nil.
func (c *Client) Tracker() *netstatus.Tracker {
	return c.tracker
}

// RateLimit returns the most recent quota snapshot reported by the server.
// The bool is false until a response carried X-RateLimit headers.
func (c *Client) RateLimit() (ratelimit.State, bool) {
	c.rateLimitMu.Lock()
	defer c.rateLimitMu.Unlock()

	if c.rateLimit == nil {
		return ratelimit.State{}, false
	}
	return *c.rateLimit, true
}

func (c *Client) send(ctx context.Context, method, endpoint string, body any, opts RequestOptions) (*Response, error) {
	opts.Method = method

	if body != nil {
		encoded, err := encodeBody(body)
		if err != nil {
			return nil, &ClassifiedError{
				Kind:    KindClientError,
				Message: "encode request body",
				Err:     err,
			}
		}
		opts.Body = encoded
	}

	return c.Request(ctx, endpoint, opts)
}

// do executes one physical attempt.
func (c *Client) do(ctx context.Context, method, target, requestID string, opts RequestOptions, timeout time.Duration) (*Response, *ClassifiedError) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if opts.Body != nil {
		body = bytes.NewReader(opts.Body)
	}

	req, err := http.NewRequestWithContext(attemptCtx, method, target, body)
	if err != nil {
		return nil, &ClassifiedError{Kind: KindClientError, Message: "create request", Err: err}
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if opts.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.defaultHeaders {
		req.Header.Set(k, v)
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set(HeaderRequestID, requestID)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		attemptDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
		return nil, Classify(nil, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	attemptDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, Classify(nil, err)
	}

	c.observeRateLimit(req.URL.Host, resp.Header)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, ClassifyStatus(resp.StatusCode, resp.Status, resp.Header)
	}

	out := &Response{StatusCode: resp.StatusCode, Header: resp.Header}
	if resp.StatusCode == http.StatusNoContent || len(raw) == 0 {
		return out, nil
	}

	if !json.Valid(raw) {
		return nil, &ClassifiedError{
			Kind:       KindClientError,
			StatusCode: resp.StatusCode,
			Message:    "malformed JSON response body",
		}
	}
	out.Body = raw
	return out, nil
}

func (c *Client) observeRateLimit(host string, h http.Header) {
	now := time.Now()
	state, err := ratelimit.FromHeaders(h, now)
	if err != nil {
		c.logger.Debug().Err(err).Msg("Ignoring malformed rate limit headers")
		return
	}
	if state == nil {
		return
	}

	ratelimit.Observe(host, state)
	c.rateLimitMu.Lock()
	c.rateLimit = state
	c.rateLimitMu.Unlock()

	if state.NearlyExhausted() {
		c.logger.Warn().
			Str("host", host).
			Int("remaining", state.Remaining).
			Int("limit", state.Limit).
			Time("reset_at", state.ResetAt).
			Dur("reset_in", state.TimeUntilReset(now)).
			Msg("Rate limit nearly exhausted")
	}
}

func (c *Client) resolve(rawURL string) (string, error) {
	if strings.HasPrefix(rawURL, "http://") || strings.HasPrefix(rawURL, "https://") {
		return rawURL, nil
	}
	if c.baseURL == "" {
		return "", &ClassifiedError{
			Kind:    KindClientError,
			Message: fmt.Sprintf("relative url %q without base url", rawURL),
		}
	}
	return c.baseURL + "/" + strings.TrimLeft(rawURL, "/"), nil
}

func (c *Client) recordSuccess() {
	if c.tracker != nil {
		c.tracker.RecordSuccess()
	}
}

// recordFailure reports failures that say something about reachability.
// A 404 or 401 proves the server answered, so it does not count.
func (c *Client) recordFailure(cerr *ClassifiedError) {
	if c.tracker == nil {
		return
	}
	switch cerr.Kind {
	case KindNetwork, KindServerUnavailable:
		c.tracker.RecordFailure()
	}
}

func (c *Client) canceled(ctx context.Context, method string, err error, attempts int) *ClassifiedError {
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	}
	requestsTotal.WithLabelValues(method, outcomeCanceled).Inc()
	c.logger.Debug().Err(err).Int("attempts", attempts).Msg("Request canceled")

	return &ClassifiedError{
		Kind:     KindUnknown,
		Message:  "request canceled",
		Attempts: attempts,
		Err:      fmt.Errorf("%w: %w", ErrCanceled, err),
	}
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	case string:
		return []byte(b), nil
	default:
		return json.Marshal(body)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
