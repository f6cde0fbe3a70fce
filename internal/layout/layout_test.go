package layout

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"topoview/internal/classify"
	"topoview/internal/inventory"
	"topoview/internal/topology"
)

type fakeRecorder struct {
	calls     int
	converged []bool
	iters     []int
}

func (f *fakeRecorder) ObserveLayout(policy string, iterations int, converged bool) {
	f.calls++
	f.converged = append(f.converged, converged)
	f.iters = append(f.iters, iterations)
}

func sampleGraph(appliances, switches, aps, clients int) *topology.Graph {
	var devices []inventory.DeviceRecord
	add := func(prefix, model string, n int) {
		for i := 0; i < n; i++ {
			devices = append(devices, inventory.DeviceRecord{Serial: fmt.Sprintf("%s-%04d", prefix, i), Model: model})
		}
	}
	add("Q2QN", "MX68", appliances)
	add("Q2HW", "MS120", switches)
	add("Q2LD", "MR46", aps)

	var cl []inventory.ClientRecord
	for i := 0; i < clients; i++ {
		c := inventory.ClientRecord{ClientID: fmt.Sprintf("k%d", i)}
		if len(devices) > 0 {
			c.ParentDeviceID = devices[i%len(devices)].Serial
		}
		cl = append(cl, c)
	}
	return topology.Build(devices, cl, nil)
}

var testViewport = Viewport{Width: 1200, Height: 800}

func inViewport(t *testing.T, pg PositionedGraph) {
	t.Helper()
	for id, p := range pg.Positions {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
			t.Fatalf("node %s has non-finite position %+v", id, p)
		}
		if p.X < 0 || p.X > pg.Viewport.Width || p.Y < 0 || p.Y > pg.Viewport.Height {
			t.Fatalf("node %s left the viewport: %+v", id, p)
		}
	}
}

func TestLayout_TerminatesFor500Nodes(t *testing.T) {
	g := sampleGraph(5, 40, 100, 355)
	if len(g.Nodes) != 500 {
		t.Fatalf("expected 500 nodes, got %d", len(g.Nodes))
	}
	rec := &fakeRecorder{}
	e := NewEngine(DefaultConfig(), zerolog.Nop(), rec)

	start := time.Now()
	pg := e.Layout(g, PolicyForce, testViewport)
	elapsed := time.Since(start)

	if pg.Iterations > DefaultConfig().MaxIterations {
		t.Fatalf("iterations %d exceeded cap", pg.Iterations)
	}
	if elapsed > 30*time.Second {
		t.Fatalf("layout took too long: %v", elapsed)
	}
	if len(pg.Positions) != 500 {
		t.Fatalf("expected a position per node, got %d", len(pg.Positions))
	}
	if rec.calls != 1 {
		t.Fatalf("expected one recorder observation, got %d", rec.calls)
	}
	inViewport(t, pg)
}

func TestLayout_NonConvergenceReturnsBestPositions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxIterations = 3
	rec := &fakeRecorder{}
	e := NewEngine(cfg, zerolog.Nop(), rec)

	pg := e.Layout(sampleGraph(1, 2, 3, 10), PolicyForce, testViewport)
	if pg.Converged {
		t.Fatalf("expected non-convergence at a 3 iteration cap")
	}
	if pg.Iterations != 3 {
		t.Fatalf("expected 3 iterations, got %d", pg.Iterations)
	}
	if rec.calls != 1 || rec.converged[0] {
		t.Fatalf("expected one non-converged observation, got %+v", rec)
	}
	inViewport(t, pg)
}

func TestLayout_IsDeterministic(t *testing.T) {
	e := NewEngine(DefaultConfig(), zerolog.Nop(), nil)
	g := sampleGraph(1, 2, 4, 12)
	a := e.Layout(g, PolicyForce, testViewport)
	b := e.Layout(g, PolicyForce, testViewport)
	for id, p := range a.Positions {
		if b.Positions[id] != p {
			t.Fatalf("node %s: %+v vs %+v", id, p, b.Positions[id])
		}
	}
}

func TestTick_DoesNotMutateInput(t *testing.T) {
	s := NewState(sampleGraph(1, 1, 1, 3), PolicyForce, testViewport, DefaultConfig(), nil)
	before := s.Positioned().Positions
	next := Tick(s)
	after := s.Positioned().Positions
	for id, p := range before {
		if after[id] != p {
			t.Fatalf("Tick mutated its input for %s", id)
		}
	}
	if next.Iteration() != 1 || s.Iteration() != 0 {
		t.Fatalf("unexpected iterations: next=%d input=%d", next.Iteration(), s.Iteration())
	}
}

func TestRelayout_PreservesPinnedDiscardsFree(t *testing.T) {
	e := NewEngine(DefaultConfig(), zerolog.Nop(), nil)
	g := sampleGraph(1, 2, 3, 6)

	s := e.Start(g, PolicyForce, testViewport, nil)
	pinnedID := g.Nodes[1].ID
	s = s.Pin(pinnedID, 123, 456)
	for !s.Done() {
		s = e.Step(s)
	}
	pg := s.Positioned()
	if p := pg.Positions[pinnedID]; p.X != 123 || p.Y != 456 || !p.Pinned {
		t.Fatalf("pinned node moved during simulation: %+v", p)
	}

	for _, policy := range []Policy{PolicyRadial, PolicyHierarchical, PolicyForce} {
		next := e.Relayout(pg, policy, testViewport)
		if p := next.Positions[pinnedID]; p.X != 123 || p.Y != 456 || !p.Pinned {
			t.Fatalf("%s: pinned node not preserved: %+v", policy, p)
		}
		if len(next.Pinned()) != 1 {
			t.Fatalf("%s: expected exactly one pinned node, got %d", policy, len(next.Pinned()))
		}
		if next.Policy != policy {
			t.Fatalf("expected policy %s, got %s", policy, next.Policy)
		}
	}

	fresh := NewState(g, PolicyRadial, testViewport, DefaultConfig(), pg.Pinned()).Positioned()
	seeded := NewState(g, PolicyRadial, testViewport, DefaultConfig(), nil).Positioned()
	for id, p := range fresh.Positions {
		if id == pinnedID {
			continue
		}
		if p != seeded.Positions[id] {
			t.Fatalf("free node %s must restart from the policy seed", id)
		}
	}
}

func TestUnpin_ReleasesNode(t *testing.T) {
	g := sampleGraph(1, 1, 0, 0)
	s := NewState(g, PolicyForce, testViewport, DefaultConfig(), nil)
	id := g.Nodes[0].ID
	s = s.Pin(id, 10, 10)
	if !s.Positioned().Positions[id].Pinned {
		t.Fatalf("expected pinned")
	}
	s = s.Unpin(id)
	if s.Positioned().Positions[id].Pinned || s.Done() {
		t.Fatalf("expected released node and a running simulation")
	}
	if s.Pin("missing", 1, 1).Positioned().Positions[id] != s.Positioned().Positions[id] {
		t.Fatalf("pinning an unknown id must be a no-op")
	}
}

func meanBy(pg PositionedGraph, metric func(Position) float64) map[int]float64 {
	sum := map[int]float64{}
	count := map[int]int{}
	for _, n := range pg.Graph.Nodes {
		r := Rank(n.Role)
		sum[r] += metric(pg.Positions[n.ID])
		count[r]++
	}
	out := map[int]float64{}
	for r, s := range sum {
		out[r] = s / float64(count[r])
	}
	return out
}

func TestRadial_RolesOrderedByRing(t *testing.T) {
	e := NewEngine(DefaultConfig(), zerolog.Nop(), nil)
	pg := e.Layout(sampleGraph(1, 3, 6, 20), PolicyRadial, testViewport)
	cx, cy := testViewport.center()
	radius := meanBy(pg, func(p Position) float64 { return math.Hypot(p.X-cx, p.Y-cy) })
	for r := 1; r <= maxRank; r++ {
		if radius[r-1] >= radius[r] {
			t.Fatalf("rank %d mean radius %.1f not inside rank %d %.1f", r-1, radius[r-1], r, radius[r])
		}
	}
	inViewport(t, pg)
}

func TestHierarchical_RolesOrderedByBand(t *testing.T) {
	e := NewEngine(DefaultConfig(), zerolog.Nop(), nil)
	pg := e.Layout(sampleGraph(2, 3, 6, 20), PolicyHierarchical, testViewport)
	ys := meanBy(pg, func(p Position) float64 { return p.Y })
	for r := 1; r <= maxRank; r++ {
		if ys[r-1] >= ys[r] {
			t.Fatalf("rank %d mean y %.1f not above rank %d %.1f", r-1, ys[r-1], r, ys[r])
		}
	}
}

func TestHierarchical_SeedsEvenlyWithinBand(t *testing.T) {
	g := sampleGraph(0, 3, 0, 0)
	pg := NewState(g, PolicyHierarchical, testViewport, DefaultConfig(), nil).Positioned()
	var xs []float64
	for _, n := range g.Nodes {
		xs = append(xs, pg.Positions[n.ID].X)
	}
	gap := xs[1] - xs[0]
	if gap <= 0 || math.Abs((xs[2]-xs[1])-gap) > 1e-9 {
		t.Fatalf("expected even spacing, got %v", xs)
	}
}

func TestLayout_EdgeCases(t *testing.T) {
	e := NewEngine(DefaultConfig(), zerolog.Nop(), nil)
	empty := e.Layout(topology.Empty(), PolicyForce, testViewport)
	if !empty.Converged || len(empty.Positions) != 0 {
		t.Fatalf("empty graph should converge immediately: %+v", empty)
	}
	pg := e.Layout(sampleGraph(1, 0, 0, 0), Policy("bogus"), Viewport{})
	if pg.Policy != PolicyForce || !pg.Viewport.Valid() {
		t.Fatalf("expected fallback policy and viewport, got %s %+v", pg.Policy, pg.Viewport)
	}
}

func TestParsePolicy(t *testing.T) {
	if p, err := ParsePolicy("Force-Directed"); err != nil || p != PolicyForce {
		t.Fatalf("unexpected %q %v", p, err)
	}
	if _, err := ParsePolicy("spiral"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRank(t *testing.T) {
	if Rank(classify.RoleSecurityAppliance) != 0 || Rank(classify.RoleClient) != maxRank || Rank(classify.RoleCamera) != maxRank {
		t.Fatalf("unexpected ranks")
	}
}
