package layout

import (
	"hash/fnv"
	"math"

	"topoview/internal/topology"
)

type body struct {
	id     string
	x, y   float64
	pinned bool
	rank   int
	radius float64
}

// State is one layout session's simulation state. Tick never mutates its
// argument; it returns the next State. A session owns its State exclusively
// and a policy change or graph refresh starts a new one.
type State struct {
	graph    *topology.Graph
	policy   Policy
	viewport Viewport
	cfg      Config

	bodies  []body
	index   map[string]int
	springs [][2]int

	k           float64
	temperature float64
	iteration   int
	energy      float64
	done        bool
	converged   bool
}

var defaultViewport = Viewport{Width: 1200, Height: 800}

// NewState seeds positions for g. Nodes present in pinned with Pinned set
// keep those coordinates; every other node gets a deterministic start
// position for the policy.
func NewState(g *topology.Graph, policy Policy, vp Viewport, cfg Config, pinned map[string]Position) State {
	if g == nil {
		g = topology.Empty()
	}
	if !vp.Valid() {
		vp = defaultViewport
	}
	if _, err := ParsePolicy(string(policy)); err != nil {
		policy = PolicyForce
	}
	cfg = cfg.withDefaults()

	s := State{
		graph:    g,
		policy:   policy,
		viewport: vp,
		cfg:      cfg,
		bodies:   make([]body, len(g.Nodes)),
		index:    make(map[string]int, len(g.Nodes)),
	}

	perRank := make([]int, maxRank+1)
	for _, n := range g.Nodes {
		perRank[Rank(n.Role)]++
	}
	seenRank := make([]int, maxRank+1)

	free := 0
	for i, n := range g.Nodes {
		b := body{id: n.ID, rank: Rank(n.Role), radius: n.SizeHint}
		if b.radius <= 0 {
			b.radius = topology.SizeHint(n.Role)
		}
		if p, ok := pinned[n.ID]; ok && p.Pinned {
			b.x, b.y, b.pinned = p.X, p.Y, true
		} else {
			b.x, b.y = s.seed(n.ID, b.rank, seenRank[b.rank], perRank[b.rank])
			free++
		}
		seenRank[b.rank]++
		s.bodies[i] = b
		s.index[n.ID] = i
	}

	for _, e := range g.Edges {
		a, okA := s.index[e.SourceID]
		b, okB := s.index[e.TargetID]
		if okA && okB && a != b {
			s.springs = append(s.springs, [2]int{a, b})
		}
	}

	n := math.Max(1, float64(len(g.Nodes)))
	s.k = math.Min(math.Sqrt(vp.Width*vp.Height/n), 2*cfg.EdgeLength)
	s.temperature = math.Min(vp.Width, vp.Height) / 10

	if free == 0 {
		s.done, s.converged = true, true
	}
	return s
}

// seed returns the initial position of a free node.
func (s State) seed(id string, rank, ordinal, rankCount int) (float64, float64) {
	cx, cy := s.viewport.center()
	h := hashID(id)
	angle := float64(h%3600) / 3600 * 2 * math.Pi
	minDim := math.Min(s.viewport.Width, s.viewport.Height)

	switch s.policy {
	case PolicyRadial:
		r := s.ringRadius(rank)
		return cx + r*math.Cos(angle), cy + r*math.Sin(angle)
	case PolicyHierarchical:
		usable := s.viewport.Width - 2*s.cfg.Padding
		x := s.cfg.Padding + usable*float64(ordinal+1)/float64(rankCount+1)
		return x, s.bandY(rank)
	default:
		r := float64((h>>16)%1000) / 1000 * 0.4 * minDim
		return cx + r*math.Cos(angle), cy + r*math.Sin(angle)
	}
}

// ringRadius places security appliances innermost and clients outermost.
func (s State) ringRadius(rank int) float64 {
	minDim := math.Min(s.viewport.Width, s.viewport.Height)
	return 0.45 * minDim * (float64(rank) + 0.5) / float64(maxRank+1)
}

func (s State) bandY(rank int) float64 {
	band := s.viewport.Height / float64(maxRank+1)
	return band*float64(rank) + band/2
}

func hashID(id string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	return h.Sum64()
}

// Tick advances the simulation one step. A finished State is returned as is.
func Tick(s State) State {
	if s.done {
		return s
	}

	bodies := make([]body, len(s.bodies))
	copy(bodies, s.bodies)

	fx := make([]float64, len(bodies))
	fy := make([]float64, len(bodies))
	k2 := s.k * s.k

	// Pairwise repulsion and collision. Pinned bodies push back but never move.
	for i := 0; i < len(bodies); i++ {
		for j := i + 1; j < len(bodies); j++ {
			dx := bodies[i].x - bodies[j].x
			dy := bodies[i].y - bodies[j].y
			dist := math.Sqrt(dx*dx + dy*dy)
			if dist < 0.01 {
				// Coincident bodies: separate along a direction fixed by index.
				a := float64((i*31+j*17)%360) * math.Pi / 180
				dx, dy, dist = 0.01*math.Cos(a), 0.01*math.Sin(a), 0.01
			}
			force := k2 / dist
			if overlap := bodies[i].radius + bodies[j].radius - dist; overlap > 0 {
				force += overlap
			}
			ux, uy := dx/dist, dy/dist
			fx[i] += ux * force
			fy[i] += uy * force
			fx[j] -= ux * force
			fy[j] -= uy * force
		}
	}

	for _, sp := range s.springs {
		a, b := sp[0], sp[1]
		dx := bodies[b].x - bodies[a].x
		dy := bodies[b].y - bodies[a].y
		dist := math.Sqrt(dx*dx + dy*dy)
		if dist < 0.01 {
			continue
		}
		force := s.cfg.SpringStrength * (dist - s.cfg.EdgeLength)
		ux, uy := dx/dist, dy/dist
		fx[a] += ux * force
		fy[a] += uy * force
		fx[b] -= ux * force
		fy[b] -= uy * force
	}

	cx, cy := s.viewport.center()
	for i := range bodies {
		switch s.policy {
		case PolicyHierarchical:
			fx[i] += (cx - bodies[i].x) * s.cfg.CenterStrength
		case PolicyForce:
			fx[i] += (cx - bodies[i].x) * s.cfg.CenterStrength * s.k
			fy[i] += (cy - bodies[i].y) * s.cfg.CenterStrength * s.k
		}
	}

	energy := 0.0
	free := 0
	for i := range bodies {
		if bodies[i].pinned {
			continue
		}
		free++
		x, y := bodies[i].x, bodies[i].y
		if mag := math.Sqrt(fx[i]*fx[i] + fy[i]*fy[i]); mag > 0 {
			step := math.Min(mag, s.temperature)
			x += fx[i] / mag * step
			y += fy[i] / mag * step
			// Energy counts the force step, not the net move: a node held on
			// its ring against unbalanced forces is not at rest.
			energy += step * step
		}
		x, y = s.constrain(bodies[i], x, y)
		bodies[i].x = s.clampX(x, bodies[i].radius)
		bodies[i].y = s.clampY(y, bodies[i].radius)
	}

	next := s
	next.bodies = bodies
	next.iteration++
	next.temperature *= s.cfg.Cooling
	if free > 0 {
		next.energy = energy / float64(free)
	} else {
		next.energy = 0
	}

	switch {
	case next.energy < s.cfg.EnergyThreshold:
		next.done, next.converged = true, true
	case next.iteration >= s.cfg.MaxIterations:
		next.done, next.converged = true, false
	}
	return next
}

// constrain projects a proposed position part of the way onto the node's
// ring (radial) or band (hierarchical). Force layout is unconstrained.
func (s State) constrain(b body, x, y float64) (float64, float64) {
	p := s.cfg.ConstraintStrength
	switch s.policy {
	case PolicyRadial:
		cx, cy := s.viewport.center()
		dx, dy := x-cx, y-cy
		r := math.Sqrt(dx*dx + dy*dy)
		if r < 0.01 {
			a := float64(hashID(b.id)%3600) / 3600 * 2 * math.Pi
			dx, dy, r = math.Cos(a), math.Sin(a), 1
		}
		target := r + (s.ringRadius(b.rank)-r)*p
		return cx + dx/r*target, cy + dy/r*target
	case PolicyHierarchical:
		return x, y + (s.bandY(b.rank)-y)*p
	default:
		return x, y
	}
}

func (s State) clampX(x, r float64) float64 {
	return clamp(x, s.cfg.Padding+r, s.viewport.Width-s.cfg.Padding-r)
}

func (s State) clampY(y, r float64) float64 {
	return clamp(y, s.cfg.Padding+r, s.viewport.Height-s.cfg.Padding-r)
}

func clamp(v, lo, hi float64) float64 {
	if lo > hi {
		return (lo + hi) / 2
	}
	return math.Max(lo, math.Min(hi, v))
}

// Pin fixes a node at (x, y) and reheats the simulation so its neighbors
// settle around the new anchor. Unknown ids leave the state unchanged.
func (s State) Pin(id string, x, y float64) State {
	i, ok := s.index[id]
	if !ok {
		return s
	}
	next := s.withBodies()
	next.bodies[i].x, next.bodies[i].y, next.bodies[i].pinned = x, y, true
	return next.reheat()
}

// Unpin releases a pinned node back into the simulation.
func (s State) Unpin(id string) State {
	i, ok := s.index[id]
	if !ok || !s.bodies[i].pinned {
		return s
	}
	next := s.withBodies()
	next.bodies[i].pinned = false
	return next.reheat()
}

func (s State) withBodies() State {
	bodies := make([]body, len(s.bodies))
	copy(bodies, s.bodies)
	s.bodies = bodies
	return s
}

func (s State) reheat() State {
	s.temperature = math.Max(s.temperature, math.Min(s.viewport.Width, s.viewport.Height)/40)
	s.iteration = 0
	s.done, s.converged = false, false
	for _, b := range s.bodies {
		if !b.pinned {
			return s
		}
	}
	s.done, s.converged = true, true
	return s
}

func (s State) Done() bool         { return s.done }
func (s State) Converged() bool    { return s.converged }
func (s State) Iteration() int     { return s.iteration }
func (s State) Energy() float64    { return s.energy }
func (s State) Policy() Policy     { return s.policy }
func (s State) Viewport() Viewport { return s.viewport }

func (s State) Graph() *topology.Graph { return s.graph }

// Positioned snapshots the current coordinates.
func (s State) Positioned() PositionedGraph {
	pos := make(map[string]Position, len(s.bodies))
	for _, b := range s.bodies {
		pos[b.id] = Position{X: b.x, Y: b.y, Pinned: b.pinned}
	}
	return PositionedGraph{
		Graph:      s.graph,
		Policy:     s.policy,
		Viewport:   s.viewport,
		Positions:  pos,
		Iterations: s.iteration,
		Converged:  s.converged,
		Energy:     s.energy,
	}
}
