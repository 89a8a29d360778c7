// Package transport performs HTTP calls against the statistical service with
// throttling, retry with backoff, and a primary/fallback execution strategy.
package transport

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

var fallbackTriesTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "istat_fallback_tries_total",
	Help: "Total number of times the fallback HTTP strategy was attempted",
})

// Strategy executes a single HTTP request. Implementations return an error
// only for transport-level failures; HTTP status handling belongs to the
// caller.
type Strategy interface {
	Do(req *http.Request) (*http.Response, error)
}

// netHTTPStrategy is the primary execution strategy, a plain net/http client
// with connection reuse.
type netHTTPStrategy struct {
	client *http.Client
}

// NewNetHTTPStrategy returns the primary HTTP execution strategy.
func NewNetHTTPStrategy() Strategy {
	return &netHTTPStrategy{client: &http.Client{}}
}

func (s *netHTTPStrategy) Do(req *http.Request) (*http.Response, error) {
	return s.client.Do(req)
}

// NewFallbackStrategy returns the secondary execution strategy. It opens a
// fresh connection per request and stays on HTTP/1.1; some middleboxes in
// front of the service drop reused or multiplexed connections that the
// primary strategy trips over.
func NewFallbackStrategy() Strategy {
	return &netHTTPStrategy{client: &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: -1,
			}).DialContext,
			DisableKeepAlives: true,
			ForceAttemptHTTP2: false,
		},
	}}
}

// FallbackChain tries the primary strategy and, on a transport-level error,
// the fallback before surfacing failure. A circuit breaker around the
// primary routes straight to the fallback once the primary keeps failing.
type FallbackChain struct {
	breaker  *gobreaker.CircuitBreaker
	primary  Strategy
	fallback Strategy
	logger   zerolog.Logger
}

// NewFallbackChain wires the two strategies behind one Strategy capability.
func NewFallbackChain(primary, fallback Strategy, logger zerolog.Logger) *FallbackChain {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "primary-http",
		MaxRequests: 1,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	return &FallbackChain{
		breaker:  breaker,
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

// Do implements Strategy.
func (c *FallbackChain) Do(req *http.Request) (*http.Response, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.primary.Do(req)
	})
	if err == nil {
		return result.(*http.Response), nil
	}

	c.logger.Warn().
		Err(err).
		Str("url", req.URL.String()).
		Msg("Primary HTTP strategy failed - attempting fallback")
	fallbackTriesTotal.Inc()

	// The primary attempt may have consumed the request body.
	if req.GetBody != nil {
		body, bodyErr := req.GetBody()
		if bodyErr != nil {
			return nil, fmt.Errorf("primary strategy: %v; rewind body: %w", err, bodyErr)
		}
		req.Body = body
	}

	resp, fallbackErr := c.fallback.Do(req)
	if fallbackErr != nil {
		return nil, fmt.Errorf("primary strategy: %v; fallback strategy: %w", err, fallbackErr)
	}
	return resp, nil
}
