package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRegistryExportsExpectedMetrics(t *testing.T) {
	r := NewRegistry()
	r.QueriesTotal.Inc()
	r.CacheHitsTotal.Inc()
	r.AgentQueriesTotal.WithLabelValues("iuk-1").Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	for _, want := range []string{
		"orchestrator_queries_total 1",
		"orchestrator_cache_hits_total 1",
		`agent_queries_handled_total{agent_id="iuk-1"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected metrics output to contain %q, got:\n%s", want, body)
		}
	}
}
