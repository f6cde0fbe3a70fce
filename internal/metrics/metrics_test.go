package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandler_nilMetrics(t *testing.T) {
	var m *Metrics
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	m.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if got := rr.Body.String(); !strings.Contains(got, "metrics unavailable") {
		t.Fatalf("expected body to mention metrics unavailable, got %q", got)
	}

	// Nil receivers are no-ops.
	m.ObserveRefresh(ResultSuccess, time.Second)
	m.IncRetry("devices")
	m.SetGraphCounts(map[string]int{"switch": 1}, nil)
	m.ObserveLayout("force", 10, false)
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	m.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	return rr.Body.String()
}

func TestHandler_exposesRegisteredMetrics(t *testing.T) {
	m := New()
	m.ObserveHTTPRequest(http.MethodGet, "/readyz", http.StatusOK, 12*time.Millisecond)
	m.ObserveRefresh(ResultSuccess, 3*time.Second)
	m.ObserveRefresh(ResultFailure, time.Second)
	m.IncRetry("clients")
	m.ObserveLayout("radial", 120, true)
	m.ObserveLayout("force", 300, false)

	body := scrape(t, m)
	for _, want := range []string{
		`topoview_http_requests_total{method="GET",path="/readyz",status="200"} 1`,
		`topoview_refresh_runs_total{result="success"} 1`,
		`topoview_refresh_runs_total{result="failure"} 1`,
		`topoview_refresh_run_duration_seconds_count 2`,
		`topoview_retrieval_retries_total{op="clients"} 1`,
		`topoview_layout_iterations_total 420`,
		`topoview_layout_nonconvergence_total{policy="force"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in scrape; body=%s", want, body)
		}
	}
	if strings.Contains(body, `topoview_layout_nonconvergence_total{policy="radial"}`) {
		t.Fatalf("converged layouts must not count as non-convergence")
	}
}

func TestSetGraphCounts_replacesPreviousSnapshot(t *testing.T) {
	m := New()
	m.SetGraphCounts(map[string]int{"switch": 3, "client": 10}, map[string]int{"uplink": 2})
	m.SetGraphCounts(map[string]int{"client": 4}, map[string]int{"wireless_link": 4})

	body := scrape(t, m)
	if !strings.Contains(body, `topoview_graph_nodes{role="client"} 4`) {
		t.Fatalf("expected updated client gauge; body=%s", body)
	}
	if strings.Contains(body, `topoview_graph_nodes{role="switch"}`) {
		t.Fatalf("expected stale role series to be removed; body=%s", body)
	}
	if !strings.Contains(body, `topoview_graph_edges{kind="wireless_link"} 4`) {
		t.Fatalf("expected edge gauge; body=%s", body)
	}
}
