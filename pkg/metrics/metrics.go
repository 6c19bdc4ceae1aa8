// Package metrics exposes the Prometheus metrics of bicat over HTTP.
// All metrics are defined in their respective packages via promauto to
// keep those packages independent; this package serves them and
// documents what is available.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Registry is the registry every bicat metric is registered with.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - bicat_requests_total{kind, status} (Counter): Requests by kind (api, stream) and HTTP status
//   - bicat_request_duration_seconds{kind} (Histogram): Request duration by kind
//   - bicat_request_errors_total{class} (Counter): Errors by class (network, status, body, throttled)
//
// Retry Metrics (pkg/downloader):
//   - bicat_retries_total{error_class} (Counter): Retry attempts by error class
//   - bicat_retry_backoff_seconds{error_class} (Histogram): Backoff before each retry
//   - bicat_retry_exhausted_total{error_class} (Counter): Items that used up every attempt
//   - bicat_downloads_total{result} (Counter): Downloads by result
//   - bicat_download_bytes_total (Counter): Bytes persisted
//
// Batch Metrics (pkg/batch, pkg/gate, pkg/tempfile):
//   - bicat_batch_items_total{result} (Counter): Items by result
//   - bicat_batches_total{result} (Counter): Batch runs by result (success, partial_failure, interrupted)
//   - bicat_batch_duration_seconds (Histogram): Batch run duration
//   - bicat_pipelines_in_flight (Gauge): Pipelines holding an admission permit
//   - bicat_gate_waits_total (Counter): Acquisitions that had to wait for a permit
//   - bicat_temp_files_registered (Gauge): Temp files currently registered
//   - bicat_temp_files_swept_total{result} (Counter): Temp files removed by sweeps
//
// Cache and Throttle Metrics (pkg/cache, pkg/ratelimit):
//   - bicat_cache_hits_total{layer="redis"} (Counter): Lookup cache hits
//   - bicat_cache_misses_total (Counter): Lookup cache misses
//   - bicat_cache_size_bytes{layer="redis"} (Gauge): Bytes written to the cache
//   - bicat_cache_errors_total{operation} (Counter): Cache operation errors
//   - bicat_throttle_events_total (Counter): 412/429 responses recorded
//   - bicat_throttle_blocks_total (Counter): Requests held back by a cool-down
//
// Example Prometheus Queries:
//
//	# Item failure rate
//	rate(bicat_batch_items_total{result="failure"}[5m]) / rate(bicat_batch_items_total[5m])
//
//	# P95 stream download latency
//	histogram_quantile(0.95, rate(bicat_request_duration_seconds_bucket{kind="stream"}[5m]))

// Handler returns the HTTP handler serving /metrics and /health.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", healthHandler)
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// Server serves Handler until its context is cancelled.
type Server struct {
	srv      *http.Server
	listener net.Listener
	logger   zerolog.Logger
}

// Listen binds addr. Use ":0" for an ephemeral port.
func Listen(addr string, logger zerolog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return &Server{
		srv: &http.Server{
			Handler:           Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: ln,
		logger:   logger,
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve blocks until ctx is done, then shuts the server down.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.Addr()).Msg("Metrics server listening")
		errCh <- s.srv.Serve(s.listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown metrics server: %w", err)
		}
		return nil
	}
}
