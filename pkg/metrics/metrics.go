// Package metrics exposes the Prometheus registry and HTTP handler for the
// offline agent. All metrics are defined in their respective packages
// (cache, network, lifecycle, proxy) to maintain modularity and avoid
// circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the agent.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler serves every registered metric in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Cache Metrics (pkg/cache):
//   - pdsw_cache_hits_total{layer} (Counter): Lookups answered from a store
//   - pdsw_cache_misses_total{layer} (Counter): Lookups that found nothing in any store
//   - pdsw_cache_errors_total{layer, operation} (Counter): Backend operation errors
//   - pdsw_cache_entries_written_total{layer} (Counter): Entries written by put and add-all
//   - pdsw_cache_stores_deleted_total{layer} (Counter): Cache stores deleted
//
// Network Metrics (pkg/network):
//   - pdsw_network_requests_total{host, status} (Counter): Network fetches by host and HTTP status
//   - pdsw_network_request_duration_seconds{host} (Histogram): Network fetch duration
//   - pdsw_network_errors_total{class} (Counter): Fetch failures by class (client, server, network)
//
// Lifecycle Metrics (pkg/lifecycle):
//   - pdsw_lifecycle_events_total{type, outcome} (Counter): Dispatched install, activate and fetch events
//   - pdsw_lifecycle_state (Gauge): Current host state (0 parsed .. 4 activated, 5 redundant)
//
// Proxy Metrics (pkg/proxy):
//   - pdsw_proxy_requests_total{outcome} (Counter): Proxied requests by outcome (ok, bad_request, failed)
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(pdsw_cache_hits_total[5m])) /
//   (sum(rate(pdsw_cache_hits_total[5m])) + sum(rate(pdsw_cache_misses_total[5m])))
//
//   # Failed Loads
//   rate(pdsw_lifecycle_events_total{type="fetch", outcome="failed"}[5m])
//
//   # P95 Network Latency
//   histogram_quantile(0.95, rate(pdsw_network_request_duration_seconds_bucket[5m]))
