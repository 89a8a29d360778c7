package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/statwerk/istat-client/pkg/protocol"
	"github.com/statwerk/istat-client/pkg/ratelimit"
)

// Prometheus metrics for transport operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "istat_requests_total",
		Help: "Total requests by endpoint kind and outcome",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "istat_request_duration_seconds",
		Help:    "Request duration in seconds by endpoint kind",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"endpoint"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "istat_retries_total",
		Help: "Total retry attempts by trigger",
	}, []string{"trigger"})

	retryBackoffSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "istat_retry_backoff_seconds",
		Help:    "Backoff duration before a retry",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
	})

	retryExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "istat_retry_exhausted_total",
		Help: "Total number of times the retry budget was exhausted",
	})
)

// Config holds the transport configuration.
type Config struct {
	// MaxRetries is the total attempt budget per logical request,
	// including the first attempt.
	MaxRetries int

	// InitialBackoff is the wait before the second attempt when the
	// server sends no Retry-After header.
	InitialBackoff time.Duration

	// BackoffMultiplier grows the backoff exponentially per attempt.
	BackoffMultiplier float64

	// MaxBackoff caps the computed backoff.
	MaxBackoff time.Duration

	// RequestTimeout bounds each individual attempt.
	RequestTimeout time.Duration

	// UserAgent is sent with every request.
	UserAgent string
}

// DefaultConfig returns the transport defaults matching the service's
// informally documented limits.
func DefaultConfig() Config {
	return Config{
		MaxRetries:        3,
		InitialBackoff:    60 * time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        300 * time.Second,
		RequestTimeout:    30 * time.Second,
		UserAgent:         "istat-client/1.0",
	}
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Status     string
	Headers    http.Header
	Body       []byte
}

// ContentType returns the response content type header.
func (r *Response) ContentType() string {
	return r.Headers.Get("Content-Type")
}

// Transport executes request descriptors with throttling and retries. Every
// attempt passes through the shared rate limiter first, which serializes all
// outbound calls.
type Transport struct {
	strategy Strategy
	limiter  *ratelimit.Limiter
	cfg      Config
	logger   zerolog.Logger

	// Injectable for tests.
	sleep     func(ctx context.Context, d time.Duration) error
	randFloat func() float64
}

// New creates a transport on the given execution strategy.
func New(strategy Strategy, limiter *ratelimit.Limiter, cfg Config, logger zerolog.Logger) *Transport {
	return &Transport{
		strategy:  strategy,
		limiter:   limiter,
		cfg:       cfg,
		logger:    logger,
		sleep:     sleepContext,
		randFloat: rand.Float64,
	}
}

// NewDefault wires the primary/fallback strategy chain with defaults.
func NewDefault(limiter *ratelimit.Limiter, cfg Config, logger zerolog.Logger) *Transport {
	chain := NewFallbackChain(NewNetHTTPStrategy(), NewFallbackStrategy(), logger)
	return New(chain, limiter, cfg, logger)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// GetWithRetry executes a GET descriptor with the full retry policy.
func (t *Transport) GetWithRetry(ctx context.Context, desc *protocol.RequestDescriptor) (*Response, error) {
	if desc.Method != http.MethodGet {
		return nil, fmt.Errorf("descriptor method is %s, want GET", desc.Method)
	}
	return t.execute(ctx, desc)
}

// PostWithRetry executes a POST descriptor with the full retry policy.
func (t *Transport) PostWithRetry(ctx context.Context, desc *protocol.RequestDescriptor) (*Response, error) {
	if desc.Method != http.MethodPost {
		return nil, fmt.Errorf("descriptor method is %s, want POST", desc.Method)
	}
	return t.execute(ctx, desc)
}

// Execute dispatches on the descriptor method.
func (t *Transport) Execute(ctx context.Context, desc *protocol.RequestDescriptor) (*Response, error) {
	return t.execute(ctx, desc)
}

func (t *Transport) execute(ctx context.Context, desc *protocol.RequestDescriptor) (*Response, error) {
	endpoint := string(desc.Endpoint)
	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}()

	backoff := t.cfg.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= t.cfg.MaxRetries; attempt++ {
		if err := t.limiter.Throttle(ctx); err != nil {
			return nil, err
		}

		resp, err := t.attempt(ctx, desc)

		var wait time.Duration
		var trigger string

		switch {
		case err != nil && isTimeout(err):
			// Retryable with the same backoff policy as rate limiting.
			lastErr = err
			wait = t.jittered(backoff)
			trigger = "timeout"
			requestsTotal.WithLabelValues(endpoint, "timeout").Inc()

		case err != nil:
			// Connectivity failure: the fallback strategy was already
			// attempted inside the chain, surface immediately.
			requestsTotal.WithLabelValues(endpoint, "connectivity_error").Inc()
			return nil, err

		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			t.limiter.RecordSuccess()
			requestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()
			if attempt > 1 {
				t.logger.Info().
					Int("attempt", attempt).
					Str("endpoint", endpoint).
					Msg("Request succeeded after retry")
			}
			return resp, nil

		case resp.StatusCode == http.StatusTooManyRequests:
			requestsTotal.WithLabelValues(endpoint, "429").Inc()
			if banned := t.limiter.Record429(); banned {
				return nil, fmt.Errorf("%w after %d consecutive 429 responses", ErrBanSuspected, t.limiter.Snapshot().Consecutive429)
			}
			lastErr = &HTTPStatusError{StatusCode: resp.StatusCode, Status: resp.Status}
			wait = t.retryWait(resp.Headers, backoff)
			trigger = "rate_limited"

		case resp.StatusCode == http.StatusServiceUnavailable:
			// Same backoff path as 429 but the ban counter is untouched.
			requestsTotal.WithLabelValues(endpoint, "503").Inc()
			lastErr = &HTTPStatusError{StatusCode: resp.StatusCode, Status: resp.Status}
			wait = t.retryWait(resp.Headers, backoff)
			trigger = "service_unavailable"

		default:
			requestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()
			return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Status: resp.Status}
		}

		if attempt == t.cfg.MaxRetries {
			break
		}

		retriesTotal.WithLabelValues(trigger).Inc()
		retryBackoffSeconds.Observe(wait.Seconds())
		t.logger.Debug().
			Str("trigger", trigger).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("Retrying request after backoff")

		if err := t.sleep(ctx, wait); err != nil {
			return nil, err
		}

		backoff = time.Duration(float64(backoff) * t.cfg.BackoffMultiplier)
		if backoff > t.cfg.MaxBackoff {
			backoff = t.cfg.MaxBackoff
		}
	}

	retryExhaustedTotal.Inc()
	t.logger.Warn().
		Int("max_retries", t.cfg.MaxRetries).
		Str("endpoint", endpoint).
		Msg("Retry attempts exhausted")
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, t.cfg.MaxRetries, lastErr)
}

// attempt performs one HTTP call with the per-attempt timeout and reads the
// full body.
func (t *Transport) attempt(ctx context.Context, desc *protocol.RequestDescriptor) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, t.cfg.RequestTimeout)
	defer cancel()

	var bodyReader io.Reader
	if len(desc.Body) > 0 {
		bodyReader = bytes.NewReader(desc.Body)
	}
	req, err := http.NewRequestWithContext(attemptCtx, desc.Method, desc.URL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for key, values := range desc.Headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	req.Header.Set("User-Agent", t.cfg.UserAgent)

	resp, err := t.strategy.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Headers:    resp.Header.Clone(),
		Body:       body,
	}, nil
}

// retryWait honors the server's Retry-After header when present, else the
// computed backoff with jitter.
func (t *Transport) retryWait(headers http.Header, backoff time.Duration) time.Duration {
	if retryAfter := parseRetryAfter(headers.Get("Retry-After"), time.Now()); retryAfter > 0 {
		return retryAfter
	}
	return t.jittered(backoff)
}

// jittered applies ±20% randomness to prevent synchronized retries.
func (t *Transport) jittered(d time.Duration) time.Duration {
	return time.Duration(float64(d) * (0.8 + t.randFloat()*0.4))
}

// parseRetryAfter understands both delay-seconds and HTTP-date forms.
func parseRetryAfter(value string, now time.Time) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// isTimeout reports whether err is a per-attempt timeout.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// SetSleep overrides the backoff sleep function (for testing).
func (t *Transport) SetSleep(sleep func(ctx context.Context, d time.Duration) error) {
	t.sleep = sleep
}

// SetRand overrides the jitter randomness source (for testing).
func (t *Transport) SetRand(randFloat func() float64) {
	t.randFloat = randFloat
}
