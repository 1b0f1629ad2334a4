package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func gatherValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		total := 0.0
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				total += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				total += m.GetGauge().GetValue()
			}
		}
		return total
	}
	t.Fatalf("metric %s not gathered", name)
	return 0
}

func TestNewWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg)

	m.SearchQueriesTotal.WithLabelValues("hit").Inc()
	m.SearchQueriesTotal.WithLabelValues("zero_result").Inc()
	m.IndexDocuments.Set(42)
	m.IndexPersistTotal.WithLabelValues("save", "ok").Inc()

	if got := gatherValue(t, reg, "search_queries_total"); got != 2 {
		t.Errorf("search_queries_total = %v, want 2", got)
	}
	if got := gatherValue(t, reg, "index_documents"); got != 42 {
		t.Errorf("index_documents = %v, want 42", got)
	}
	if got := gatherValue(t, reg, "index_persist_total"); got != 1 {
		t.Errorf("index_persist_total = %v, want 1", got)
	}

	// A second set of collectors on another registry must not collide.
	NewWithRegistry(prometheus.NewRegistry())
}

func TestHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Error("default registry output missing runtime metrics")
	}
}
