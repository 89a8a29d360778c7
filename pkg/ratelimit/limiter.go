// Package ratelimit implements the shared request throttle and ban detector.
// The remote service enforces an IP-wide minimum spacing between requests and
// temporarily bans clients that keep hammering it after repeated 429s, so a
// single Limiter instance gates every outbound call regardless of dataset or
// protocol dialect.
package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for throttle and ban tracking.
var (
	throttleSleepSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "istat_throttle_sleep_seconds",
		Help:    "Time spent sleeping in the request throttle",
		Buckets: []float64{1, 5, 10, 13, 15, 20, 30, 60},
	})

	consecutive429Gauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "istat_consecutive_429_count",
		Help: "Current number of consecutive 429 responses",
	})

	banSuspectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "istat_ban_suspected_total",
		Help: "Total number of times a ban was suspected",
	})
)

// DefaultBanThreshold is the number of consecutive 429 responses after which
// a temporary IP ban is suspected.
const DefaultBanThreshold = 3

// Config holds the limiter configuration.
type Config struct {
	// MinDelay is the minimum spacing between two outbound requests.
	MinDelay time.Duration

	// JitterFraction randomizes each throttle sleep by ±fraction.
	JitterFraction float64

	// BanThreshold is the consecutive-429 count at which a ban is suspected.
	BanThreshold int
}

// DefaultConfig returns the limiter defaults matching the service's
// informally documented limits.
func DefaultConfig() Config {
	return Config{
		MinDelay:       13 * time.Second,
		JitterFraction: 0.1,
		BanThreshold:   DefaultBanThreshold,
	}
}

// State is a snapshot of the limiter's mutable state.
type State struct {
	// LastRequest is when the last request was released. Zero until the
	// first Throttle call in a fresh process.
	LastRequest time.Time

	// Consecutive429 only increases on a 429 response and resets to zero
	// on any success or an explicit Reset.
	Consecutive429 int
}

// Limiter serializes outbound requests and tracks consecutive 429 responses.
// It is safe for concurrent use, although the client is designed to keep at
// most one request in flight at a time.
type Limiter struct {
	mu     sync.Mutex
	cfg    Config
	state  State
	logger zerolog.Logger

	// Injectable time sources so tests can simulate delays.
	clock     func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
	randFloat func() float64
}

// New creates a limiter with the given configuration.
func New(cfg Config, logger zerolog.Logger) *Limiter {
	if cfg.BanThreshold <= 0 {
		cfg.BanThreshold = DefaultBanThreshold
	}
	return &Limiter{
		cfg:       cfg,
		logger:    logger,
		clock:     time.Now,
		sleep:     sleepContext,
		randFloat: rand.Float64,
	}
}

// sleepContext sleeps for d or until the context is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Throttle blocks until the minimum request spacing has elapsed since the
// previous call, applying ± JitterFraction of randomness to the sleep. The
// first call in a fresh process never sleeps. The last-request time is
// updated afterward even when no sleep was needed.
func (l *Limiter) Throttle(ctx context.Context) error {
	l.mu.Lock()
	now := l.clock()
	var wait time.Duration
	if !l.state.LastRequest.IsZero() {
		elapsed := now.Sub(l.state.LastRequest)
		if elapsed < l.cfg.MinDelay {
			remaining := l.cfg.MinDelay - elapsed
			factor := 1 + l.cfg.JitterFraction*(2*l.randFloat()-1)
			wait = time.Duration(float64(remaining) * factor)
		}
	}
	l.mu.Unlock()

	if wait > 0 {
		throttleSleepSeconds.Observe(wait.Seconds())
		l.logger.Debug().
			Dur("wait", wait).
			Msg("Throttling request")
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}

	l.mu.Lock()
	l.state.LastRequest = l.clock()
	l.mu.Unlock()
	return nil
}

// Record429 increments the consecutive-429 counter and reports whether the
// count has reached the ban threshold. A true result is a signal to abort
// further retries for the current request, never to retry again.
func (l *Limiter) Record429() bool {
	l.mu.Lock()
	l.state.Consecutive429++
	count := l.state.Consecutive429
	l.mu.Unlock()

	consecutive429Gauge.Set(float64(count))
	banned := DetectBan(count, l.cfg.BanThreshold)
	if banned {
		banSuspectedTotal.Inc()
		l.logger.Warn().
			Int("consecutive_429", count).
			Int("threshold", l.cfg.BanThreshold).
			Msg("Temporary IP ban suspected - aborting retries, operator cooldown recommended")
	} else {
		l.logger.Warn().
			Int("consecutive_429", count).
			Msg("Rate limited by remote service")
	}
	return banned
}

// RecordSuccess resets the consecutive-429 counter.
func (l *Limiter) RecordSuccess() {
	l.mu.Lock()
	l.state.Consecutive429 = 0
	l.mu.Unlock()
	consecutive429Gauge.Set(0)
}

// Reset clears the last-request time and the 429 counter. Intended for
// operators and tests, never called by the normal request flow.
func (l *Limiter) Reset() {
	l.mu.Lock()
	l.state = State{}
	l.mu.Unlock()
	consecutive429Gauge.Set(0)
}

// Snapshot returns a copy of the current limiter state.
func (l *Limiter) Snapshot() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// DetectBan reports whether count consecutive 429 responses indicate a
// suspected temporary ban. The boundary count == threshold triggers.
func DetectBan(count, threshold int) bool {
	return count >= threshold
}

// SetClock overrides the time source (for testing).
func (l *Limiter) SetClock(clock func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clock = clock
}

// SetSleep overrides the sleep function (for testing).
func (l *Limiter) SetSleep(sleep func(ctx context.Context, d time.Duration) error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sleep = sleep
}

// SetRand overrides the jitter randomness source (for testing).
func (l *Limiter) SetRand(randFloat func() float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.randFloat = randFloat
}
