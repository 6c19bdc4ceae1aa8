package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bicat_cache_hits_total",
		Help: "Metadata lookups served from the cache",
	}, []string{"layer"})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bicat_cache_misses_total",
		Help: "Metadata lookups not found in the cache",
	})

	// CacheSize only grows; Redis evicts without telling us.
	CacheSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bicat_cache_size_bytes",
		Help: "Bytes written to the metadata cache by this process",
	}, []string{"layer"})

	CacheErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bicat_cache_errors_total",
		Help: "Failed cache operations",
	}, []string{"operation"})
)
