// Package metrics documents the Prometheus metrics exported by chemharvest.
// Metrics are defined next to the code they instrument (engine, throttle,
// cache) via promauto; this package only names the registry and serves as
// the reference list.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registerer used by all packages.
var Registry = prometheus.DefaultRegisterer

// Handler exposes all registered metrics in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Engine metrics (pkg/engine):
//   - chemharvest_runs_total (Counter): engine runs started
//   - chemharvest_jobs_total{result} (Counter): jobs by result (success, failure)
//   - chemharvest_job_duration_seconds (Histogram): per-job pipeline duration
//
// Throttle metrics (pkg/throttle):
//   - chemharvest_throttle_detections_total{source} (Counter): throttle markers seen
//   - chemharvest_throttle_wait_seconds{source} (Histogram): backoff wait durations
//
// Cache metrics (pkg/cache):
//   - chemharvest_cache_hits_total (Counter): document cache hits
//   - chemharvest_cache_misses_total (Counter): document cache misses
//   - chemharvest_cache_errors_total{operation} (Counter): cache operation errors
//
// Example queries:
//
//   # Job failure rate
//   rate(chemharvest_jobs_total{result="failure"}[5m]) /
//   rate(chemharvest_jobs_total[5m])
//
//   # Time lost to throttle backoff per source
//   sum by (source) (rate(chemharvest_throttle_wait_seconds_sum[15m]))
//
//   # P95 job latency
//   histogram_quantile(0.95, rate(chemharvest_job_duration_seconds_bucket[5m]))
