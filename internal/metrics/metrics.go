// Package metrics exposes the mesh's process-wide Prometheus registry.
// Nothing in the query path reads these values back — they're exported
// for external scraping only, per spec.md §4.9's ambient-but-non-goal
// observability stance.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry owns every counter/gauge the mesh exports, registered against
// its own prometheus.Registry rather than the global default — so
// cmd/meshd can construct one cleanly per process without relying on
// package-level init-time registration racing test setup.
type Registry struct {
	reg *prometheus.Registry

	QueriesTotal      prometheus.Counter
	CacheHitsTotal    prometheus.Counter
	CacheMissesTotal  prometheus.Counter
	FanoutErrorsTotal prometheus.Counter
	AgentQueriesTotal *prometheus.CounterVec
}

// NewRegistry builds and registers every metric. Grounded on
// etalazz-vsa/internal/ratelimiter/telemetry/churn's global
// counter/gauge declarations, generalized from package-level `var` +
// `init()` registration (which makes every process share one global
// registry) to an explicit constructor, since the mesh may run more than
// one Registry in tests.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		QueriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orchestrator_queries_total",
			Help: "Total queries served by the orchestrator.",
		}),
		CacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orchestrator_cache_hits_total",
			Help: "Total ResultCache hits.",
		}),
		CacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orchestrator_cache_misses_total",
			Help: "Total ResultCache misses.",
		}),
		FanoutErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orchestrator_fanout_errors_total",
			Help: "Total agent errors observed during fan-out, across all retries.",
		}),
		AgentQueriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_queries_handled_total",
			Help: "Total queries handled by each agent, labeled by agent_id.",
		}, []string{"agent_id"}),
	}

	reg.MustRegister(r.QueriesTotal, r.CacheHitsTotal, r.CacheMissesTotal, r.FanoutErrorsTotal, r.AgentQueriesTotal)
	return r
}

// Handler returns the /metrics HTTP handler for this registry, used only
// by cmd/meshd — core query logic never imports net/http.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Serve starts a dedicated HTTP server exposing /metrics at addr,
// matching the churn package's startMetricsEndpoint convenience.
func (r *Registry) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		_ = server.ListenAndServe()
	}()
	return server
}
