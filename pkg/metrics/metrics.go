// Package metrics provides the centralized Prometheus metrics registry
// for the Horizon client. All metrics are defined in their respective
// packages (transport, datalist, cache) to maintain modularity and
// avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the Horizon client.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Request Metrics (pkg/transport):
//   - gpm_requests_total{endpoint, status} (Counter): Total requests by endpoint and HTTP status
//   - gpm_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - gpm_errors_total{class} (Counter): Errors by class (client, server, network)
//
// Retry Metrics (pkg/transport):
//   - gpm_retries_total{error_class} (Counter): Retry attempts by error class
//   - gpm_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - gpm_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Fetch Engine Metrics (pkg/datalist):
//   - gpm_datalist_batches_total{result} (Counter): Dispatched batches by result (ok, failed)
//   - gpm_datalist_dispatch_duration_seconds (Histogram): Wall time of one parallel fetch call
//   - gpm_datalist_rows_fetched_total (Counter): Raw records fetched across all batches
//
// Cache Metrics (pkg/cache):
//   - gpm_cache_hits_total (Counter): Metadata cache hits
//   - gpm_cache_misses_total (Counter): Metadata cache misses
//   - gpm_cache_size_bytes (Gauge): Bytes written to the metadata cache
//   - gpm_cache_errors_total{operation} (Counter): Cache operation errors
//
// Example Prometheus Queries:
//
//   # Batch Failure Rate
//   sum(rate(gpm_datalist_batches_total{result="failed"}[5m])) /
//   sum(rate(gpm_datalist_batches_total[5m]))
//
//   # Cache Hit Rate
//   sum(rate(gpm_cache_hits_total[5m])) /
//   (sum(rate(gpm_cache_hits_total[5m])) + sum(rate(gpm_cache_misses_total[5m])))
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(gpm_request_duration_seconds_bucket[5m]))
//
//   # Rows Throughput
//   rate(gpm_datalist_rows_fetched_total[5m])
