// Package metrics provides the centralized Prometheus metrics registry for
// the ISTAT client. All metrics are defined in their respective packages
// (ratelimit, transport, cache, orchestrator) to maintain modularity and
// avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the ISTAT client.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Rate Limit Metrics (pkg/ratelimit):
//   - istat_throttle_sleep_seconds (Histogram): Time spent waiting for the minimum request gap
//   - istat_consecutive_429_count (Gauge): Current consecutive 429 responses
//   - istat_ban_suspected_total (Counter): Times the consecutive-429 threshold was reached
//
// Transport Metrics (pkg/transport):
//   - istat_requests_total{endpoint, status} (Counter): Total requests by endpoint kind and outcome
//   - istat_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint kind
//   - istat_retries_total{trigger} (Counter): Retry attempts by trigger (rate_limited, service_unavailable, timeout)
//   - istat_retry_backoff_seconds (Histogram): Backoff duration before a retry
//   - istat_retry_exhausted_total (Counter): Requests that exhausted the retry budget
//   - istat_fallback_tries_total (Counter): Fallback strategy attempts
//
// Cache Metrics (pkg/cache):
//   - istat_cache_hits_total{kind} (Counter): Metadata cache hits by entry kind (codelist, catalog)
//   - istat_cache_misses_total (Counter): Metadata cache misses
//   - istat_cache_errors_total{operation} (Counter): Cache store operation errors
//   - istat_cache_refreshes_total (Counter): Entries re-downloaded after expiry
//   - istat_no_update_skips_total (Counter): Downloads skipped because no remote update was available
//
// Orchestrator Metrics (pkg/orchestrator):
//   - istat_downloads_total{outcome} (Counter): Dataset downloads by outcome (success, no_update, failure)
//   - istat_batch_items_total{outcome} (Counter): Batch items by outcome
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(istat_cache_hits_total[5m])) /
//   (sum(rate(istat_cache_hits_total[5m])) + sum(rate(istat_cache_misses_total[5m])))
//
//   # Suspected Ban Alert
//   increase(istat_ban_suspected_total[1h]) > 0
//
//   # Retry Pressure
//   rate(istat_retries_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(istat_request_duration_seconds_bucket[5m]))
//
//   # No-Update Skip Rate
//   rate(istat_no_update_skips_total[5m]) / rate(istat_downloads_total[5m])
