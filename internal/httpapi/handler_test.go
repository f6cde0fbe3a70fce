package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"topoview/internal/inventory"
	"topoview/internal/layout"
	"topoview/internal/metrics"
	"topoview/internal/session"
	"topoview/internal/topology"
)

type fakeRefresher struct {
	calls int
}

func (f *fakeRefresher) Trigger() { f.calls++ }

type fakePinger struct {
	pingFn func(ctx context.Context) error
}

func (f fakePinger) Ping(ctx context.Context) error { return f.pingFn(ctx) }

func testGraph() *topology.Graph {
	return topology.Build(
		[]inventory.DeviceRecord{
			{Serial: "GW1", Model: "MX68"},
			{Serial: "SW1", Model: "MS120", Name: "Core"},
		},
		[]inventory.ClientRecord{{ClientID: "C1", ParentDeviceID: "SW1", Medium: inventory.MediumWired}},
		nil,
	)
}

func newTestSession(t *testing.T, publish bool) *session.Session {
	t.Helper()
	cfg := layout.DefaultConfig()
	cfg.MaxIterations = 30
	s := session.New(session.Options{
		Engine:   layout.NewEngine(cfg, zerolog.Nop(), nil),
		Viewport: layout.Viewport{Width: 800, Height: 600},
		Logger:   zerolog.Nop(),
	})
	if publish {
		s.Publish(s.Begin(), testGraph())
	}
	return s
}

func newTestHandler(t *testing.T) (*Handler, *fakeRefresher) {
	t.Helper()
	ref := &fakeRefresher{}
	h := NewHandler(zerolog.Nop(), Options{View: newTestSession(t, true), Refresher: ref})
	return h, ref
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var v map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode body as json: %v\nbody=%s", err, rr.Body.String())
	}
	return v
}

func do(t *testing.T, h *Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.Router().ServeHTTP(rr, req)
	return rr
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	errObj, ok := decodeBody(t, rr)["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected error envelope, got: %s", rr.Body.String())
	}
	code, _ := errObj["code"].(string)
	return code
}

func visibleNodes(t *testing.T, rr *httptest.ResponseRecorder) []any {
	t.Helper()
	view, ok := decodeBody(t, rr)["view"].(map[string]any)
	if !ok {
		t.Fatalf("expected view in body: %s", rr.Body.String())
	}
	nodes, _ := view["visible_nodes"].([]any)
	return nodes
}

func TestHealthz_SetsRequestID(t *testing.T) {
	h, _ := newTestHandler(t)
	rr := do(t, h, http.MethodGet, "/healthz", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := rr.Header().Get("Content-Type"); !strings.Contains(got, "application/json") {
		t.Fatalf("expected json content-type, got %q", got)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "trace-42")
	rr = httptest.NewRecorder()
	h.Router().ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Request-ID"); got != "trace-42" {
		t.Fatalf("expected caller request id echoed, got %q", got)
	}
}

func TestReadyz(t *testing.T) {
	h := NewHandler(zerolog.Nop(), Options{View: newTestSession(t, false)})
	if rr := do(t, h, http.MethodGet, "/readyz", ""); rr.Code != http.StatusServiceUnavailable || errorCode(t, rr) != "not_ready" {
		t.Fatalf("expected not_ready before the first snapshot, got %d %s", rr.Code, rr.Body.String())
	}

	h = NewHandler(zerolog.Nop(), Options{
		View: newTestSession(t, true),
		DB:   fakePinger{pingFn: func(context.Context) error { return errors.New("connection refused") }},
	})
	if rr := do(t, h, http.MethodGet, "/readyz", ""); rr.Code != http.StatusServiceUnavailable || errorCode(t, rr) != "db_unavailable" {
		t.Fatalf("expected db_unavailable, got %d %s", rr.Code, rr.Body.String())
	}

	h, _ = newTestHandler(t)
	if rr := do(t, h, http.MethodGet, "/readyz", ""); rr.Code != http.StatusOK {
		t.Fatalf("expected ready, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestGetTopology(t *testing.T) {
	h, _ := newTestHandler(t)
	rr := do(t, h, http.MethodGet, "/api/v1/topology", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["generation"].(float64) != 1 {
		t.Fatalf("expected generation 1, got %v", body["generation"])
	}
	positioned := body["positioned"].(map[string]any)
	graph := positioned["graph"].(map[string]any)
	if len(graph["nodes"].([]any)) != 3 || len(positioned["positions"].(map[string]any)) != 3 {
		t.Fatalf("unexpected positioned graph: %v", positioned)
	}
	if len(visibleNodes(t, rr)) != 3 {
		t.Fatalf("idle view shows every node")
	}
}

func TestStatsAndStatus(t *testing.T) {
	h, _ := newTestHandler(t)
	rr := do(t, h, http.MethodGet, "/api/v1/topology/stats", "")
	body := decodeBody(t, rr)
	if body["total_nodes"].(float64) != 3 || body["total_edges"].(float64) != 2 {
		t.Fatalf("unexpected stats: %v", body)
	}
	if body["nodes_by_role"].(map[string]any)["switch"].(float64) != 1 {
		t.Fatalf("expected one switch: %v", body["nodes_by_role"])
	}

	rr = do(t, h, http.MethodGet, "/api/v1/topology/status", "")
	if st := decodeBody(t, rr); st["last_result"] != "success" || st["published_generation"].(float64) != 1 {
		t.Fatalf("unexpected status: %v", st)
	}
}

func TestRefresh(t *testing.T) {
	h, ref := newTestHandler(t)
	rr := do(t, h, http.MethodPost, "/api/v1/topology/refresh", "")
	if rr.Code != http.StatusAccepted || ref.calls != 1 {
		t.Fatalf("expected 202 and one trigger, got %d calls=%d", rr.Code, ref.calls)
	}

	h = NewHandler(zerolog.Nop(), Options{View: newTestSession(t, true)})
	if rr := do(t, h, http.MethodPost, "/api/v1/topology/refresh", ""); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a refresher, got %d", rr.Code)
	}
}

func TestFilter(t *testing.T) {
	h, _ := newTestHandler(t)
	rr := do(t, h, http.MethodPost, "/api/v1/view/filter", `{"role":"switch"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if nodes := visibleNodes(t, rr); len(nodes) != 1 || nodes[0] != "SW1" {
		t.Fatalf("expected only SW1, got %v", nodes)
	}

	if rr := do(t, h, http.MethodPost, "/api/v1/view/filter", `{"role":"toaster"}`); rr.Code != http.StatusBadRequest || errorCode(t, rr) != "invalid_role" {
		t.Fatalf("expected invalid_role, got %d %s", rr.Code, rr.Body.String())
	}
	if rr := do(t, h, http.MethodPost, "/api/v1/view/filter", `{"role":"switch","colour":"red"}`); errorCode(t, rr) != "invalid_json" {
		t.Fatalf("unknown fields must be rejected")
	}

	rr = do(t, h, http.MethodPost, "/api/v1/view/filter", `{"roles":[]}`)
	if len(visibleNodes(t, rr)) != 3 {
		t.Fatalf("empty role list clears the filter")
	}
}

func TestSearch(t *testing.T) {
	h, _ := newTestHandler(t)
	rr := do(t, h, http.MethodPost, "/api/v1/view/search", `{"query":"core"}`)
	body := decodeBody(t, rr)
	matches := body["matches"].([]any)
	if len(matches) != 1 || matches[0] != "SW1" {
		t.Fatalf("expected SW1 to match, got %v", matches)
	}

	rr = do(t, h, http.MethodPost, "/api/v1/view/search", `{"query":"zzz"}`)
	body = decodeBody(t, rr)
	if len(body["matches"].([]any)) != 0 {
		t.Fatalf("expected no matches")
	}
	if body["view"].(map[string]any)["mode"] != "filtered" {
		t.Fatalf("a search with no matches keeps the previous view")
	}
}

func TestSelect(t *testing.T) {
	h, _ := newTestHandler(t)
	rr := do(t, h, http.MethodPost, "/api/v1/view/select", `{"node_id":"SW1"}`)
	if decodeBody(t, rr)["view"].(map[string]any)["mode"] != "highlighted" {
		t.Fatalf("expected highlighted view: %s", rr.Body.String())
	}
	if len(visibleNodes(t, rr)) != 3 {
		t.Fatalf("SW1 neighbors are GW1 and C1")
	}

	if rr := do(t, h, http.MethodPost, "/api/v1/view/select", `{"node_id":"nope"}`); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown node, got %d", rr.Code)
	}

	rr = do(t, h, http.MethodPost, "/api/v1/view/select", `{"node_id":null}`)
	if decodeBody(t, rr)["view"].(map[string]any)["mode"] != "idle" {
		t.Fatalf("null selection returns to idle: %s", rr.Body.String())
	}

	do(t, h, http.MethodPost, "/api/v1/view/select", `{"node_id":"C1"}`)
	rr = do(t, h, http.MethodPost, "/api/v1/view/reset", "")
	if decodeBody(t, rr)["view"].(map[string]any)["mode"] != "idle" {
		t.Fatalf("reset returns to idle")
	}
}

func TestLayoutAndViewport(t *testing.T) {
	h, _ := newTestHandler(t)
	rr := do(t, h, http.MethodPost, "/api/v1/view/layout", `{"policy":"hierarchical"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if decodeBody(t, rr)["positioned"].(map[string]any)["policy"] != "hierarchical" {
		t.Fatalf("expected hierarchical policy: %s", rr.Body.String())
	}
	if rr := do(t, h, http.MethodPost, "/api/v1/view/layout", `{"policy":"spiral"}`); errorCode(t, rr) != "invalid_policy" {
		t.Fatalf("expected invalid_policy")
	}
	if rr := do(t, h, http.MethodPost, "/api/v1/view/layout", `{}`); errorCode(t, rr) != "validation_failed" {
		t.Fatalf("expected validation_failed for a missing policy")
	}

	if rr := do(t, h, http.MethodPost, "/api/v1/view/viewport", `{"width":0,"height":600}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for zero width, got %d", rr.Code)
	}
	rr = do(t, h, http.MethodPost, "/api/v1/view/viewport", `{"width":1024,"height":768}`)
	vp := decodeBody(t, rr)["positioned"].(map[string]any)["viewport"].(map[string]any)
	if vp["width"].(float64) != 1024 {
		t.Fatalf("viewport not applied: %v", vp)
	}
}

func TestPin(t *testing.T) {
	h, _ := newTestHandler(t)
	rr := do(t, h, http.MethodPost, "/api/v1/view/pin", `{"node_id":"SW1","x":10,"y":20}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	pos := decodeBody(t, rr)["positioned"].(map[string]any)["positions"].(map[string]any)["SW1"].(map[string]any)
	if pos["pinned"] != true || pos["x"].(float64) != 10 || pos["y"].(float64) != 20 {
		t.Fatalf("unexpected pinned position: %v", pos)
	}

	if rr := do(t, h, http.MethodPost, "/api/v1/view/pin", `{"node_id":"nope","x":1,"y":1}`); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if rr := do(t, h, http.MethodPost, "/api/v1/view/pin", `{"x":1,"y":1}`); errorCode(t, rr) != "validation_failed" {
		t.Fatalf("expected validation_failed")
	}

	rr = do(t, h, http.MethodPost, "/api/v1/view/pin", `{"node_id":"SW1","pinned":false}`)
	pos = decodeBody(t, rr)["positioned"].(map[string]any)["positions"].(map[string]any)["SW1"].(map[string]any)
	if _, pinned := pos["pinned"]; pinned {
		t.Fatalf("expected SW1 released: %v", pos)
	}
}

func TestCapabilities(t *testing.T) {
	h, _ := newTestHandler(t)
	rr := do(t, h, http.MethodGet, "/api/v1/capabilities/security_appliance", "")
	caps := decodeBody(t, rr)["capabilities"].([]any)
	found := false
	for _, c := range caps {
		if c == "uplink" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected uplink capability, got %v", caps)
	}

	rr = do(t, h, http.MethodGet, "/api/v1/capabilities/client", "")
	if len(decodeBody(t, rr)["capabilities"].([]any)) != 0 {
		t.Fatalf("clients have no capabilities")
	}
	if rr := do(t, h, http.MethodGet, "/api/v1/capabilities/toaster", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := NewHandler(zerolog.Nop(), Options{View: newTestSession(t, true), Metrics: metrics.New()})
	do(t, h, http.MethodGet, "/api/v1/topology/stats", "")
	rr := do(t, h, http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `topoview_http_requests_total{method="GET",path="/api/v1/topology/stats",status="200"} 1`) {
		t.Fatalf("expected request counter in metrics output:\n%s", rr.Body.String())
	}

	h = NewHandler(zerolog.Nop(), Options{View: newTestSession(t, true)})
	if rr := do(t, h, http.MethodGet, "/metrics", ""); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a registry, got %d", rr.Code)
	}
}
