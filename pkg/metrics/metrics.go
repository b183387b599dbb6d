// Package metrics exposes the Prometheus metrics of a run.
// All metrics are defined in their respective packages (transport, ratelimit,
// pager, sink, checkpoint) and registered via promauto.
//
// This package serves them and documents what is available.
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

// Registry is the default Prometheus registry used by node-pager.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler returns the HTTP handler serving all registered metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Server serves /metrics while a run is in progress.
type Server struct {
	srv      *http.Server
	listener net.Listener
	done     chan struct{}
	logger   zerolog.Logger
}

// Start listens on addr and serves /metrics in the background.
func Start(addr string, logger zerolog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	s := &Server{
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: ln,
		done:     make(chan struct{}),
		logger:   logger,
	}

	go func() {
		defer close(s.done)
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()

	logger.Info().Str("addr", ln.Addr().String()).Msg("Serving metrics")
	return s, nil
}

// Addr returns the address the server listens on.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Shutdown stops the server, waiting for in-flight scrapes until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	<-s.done
	return err
}

// Metrics Documentation
//
// Request Metrics (pkg/transport):
//   - nodepager_requests_total{status} (Counter): GraphQL HTTP requests by status
//   - nodepager_request_duration_seconds (Histogram): Request duration
//   - nodepager_request_errors_total{class} (Counter): Failed attempts by class (client, server, rate_limit, network)
//
// Retry Metrics (pkg/transport):
//   - nodepager_retries_total{error_class} (Counter): Retry attempts by error class
//   - nodepager_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - nodepager_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Throttle Metrics (pkg/ratelimit):
//   - nodepager_throttle_available_points (Gauge): Query cost points left in the bucket
//   - nodepager_throttle_waits_total (Counter): Requests delayed to let the bucket refill
//   - nodepager_throttle_wait_seconds_total (Counter): Time spent waiting for the bucket
//
// Pagination Metrics (pkg/pager):
//   - nodepager_batches_total (Counter): ID batches processed
//   - nodepager_batch_fallbacks_total (Counter): Batches retried one ID at a time
//   - nodepager_nodes_total{outcome} (Counter): Top-level nodes by outcome (written, failed, not_found)
//   - nodepager_pagination_rounds_total (Counter): Follow-up requests for nested connections
//   - nodepager_node_rounds (Histogram): Follow-up requests per node
//
// Output Metrics (pkg/sink, pkg/checkpoint):
//   - nodepager_records_written_total (Counter): Records appended to the output log
//   - nodepager_output_bytes_total (Counter): Bytes appended to the output log
//   - nodepager_record_write_duration_seconds (Histogram): Append, sync and checkpoint time
//   - nodepager_checkpoint_redis_errors_total{operation} (Counter): Redis checkpoint failures
//
// Example Prometheus Queries:
//
//   # Throughput
//   rate(nodepager_records_written_total[5m])
//
//   # Failure Ratio
//   rate(nodepager_nodes_total{outcome="failed"}[5m]) / rate(nodepager_nodes_total[5m])
//
//   # Throttling
//   rate(nodepager_throttle_wait_seconds_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(nodepager_request_duration_seconds_bucket[5m]))
