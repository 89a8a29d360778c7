package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// cacheHits tracks metadata cache hits by entry kind.
	cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "istat_cache_hits_total",
			Help: "Total number of metadata cache hits",
		},
		[]string{"kind"}, // "codelist", "catalog"
	)

	// cacheMisses tracks metadata cache misses.
	cacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "istat_cache_misses_total",
			Help: "Total number of metadata cache misses",
		},
	)

	// cacheErrors tracks store operation errors.
	cacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "istat_cache_errors_total",
			Help: "Total number of cache store operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "keys"
	)

	// refreshesTotal tracks entries refreshed after expiry.
	refreshesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "istat_cache_refreshes_total",
			Help: "Total number of cache entries re-downloaded after expiry",
		},
	)

	// noUpdateTotal tracks downloads skipped because the remote
	// last-update timestamp was unchanged.
	noUpdateTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "istat_no_update_skips_total",
			Help: "Total number of downloads skipped because no remote update was available",
		},
	)
)
