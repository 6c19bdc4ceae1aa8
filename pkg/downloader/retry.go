package downloader

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bicat_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bicat_retry_backoff_seconds",
		Help:    "Backoff duration before a retry by error class",
		Buckets: []float64{0.5, 1, 2, 4, 8, 16, 32},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bicat_retry_exhausted_total",
		Help: "Total number of items whose retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// Default retry settings.
const (
	DefaultRetryLimit  = 3
	DefaultBaseBackoff = 1 * time.Second
)

// Backoff returns the wait after failed attempt k (0-based): base·2^k.
// There is no jitter and no cap; the retry limit bounds the growth.
func Backoff(base time.Duration, k int) time.Duration {
	if k < 0 {
		k = 0
	}
	return base << uint(k)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// sleepContext is the default SleepFunc.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
