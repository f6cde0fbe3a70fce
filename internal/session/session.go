package session

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"topoview/internal/classify"
	"topoview/internal/interaction"
	"topoview/internal/layout"
	"topoview/internal/topology"
)

var ErrUnknownNode = errors.New("unknown node")

// FailureNotice is shown while the last refresh failed and an older snapshot
// is still displayed.
const FailureNotice = "refresh failed, showing last known data"

// Snapshot is everything a renderer needs for one frame.
type Snapshot struct {
	Generation  uint64                 `json:"generation"`
	Positioned  layout.PositionedGraph `json:"positioned"`
	View        interaction.View       `json:"view"`
	Interaction interaction.State      `json:"interaction"`
	Settled     bool                   `json:"settled"`
	Notice      string                 `json:"notice,omitempty"`
}

// Status describes the refresh history of the session.
type Status struct {
	Published   uint64    `json:"published_generation"`
	Requested   uint64    `json:"requested_generation"`
	InFlight    bool      `json:"in_flight"`
	LastResult  string    `json:"last_result,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	LastAttempt time.Time `json:"last_attempt"`
	LastSuccess time.Time `json:"last_success"`
	FromCache   bool      `json:"from_cache"`
	Notice      string    `json:"notice,omitempty"`
}

type Options struct {
	Engine   *layout.Engine
	Policy   layout.Policy
	Viewport layout.Viewport
	Logger   zerolog.Logger
	Now      func() time.Time
}

type subscriber struct {
	id int
	fn func(Snapshot)
}

// Session owns the displayed graph, its layout simulation and the
// interaction state. Refreshes replace the graph wholesale; a refresh whose
// generation has been superseded is discarded.
type Session struct {
	mu     sync.Mutex
	log    zerolog.Logger
	engine *layout.Engine
	now    func() time.Time

	graph    *topology.Graph
	sim      layout.State
	view     interaction.State
	policy   layout.Policy
	viewport layout.Viewport

	requested uint64
	published uint64
	status    Status

	subs   []subscriber
	nextID int
}

func New(opts Options) *Session {
	engine := opts.Engine
	if engine == nil {
		engine = layout.NewEngine(layout.DefaultConfig(), opts.Logger, nil)
	}
	policy := opts.Policy
	if _, err := layout.ParsePolicy(string(policy)); err != nil {
		policy = layout.PolicyForce
	}
	vp := opts.Viewport
	if !vp.Valid() {
		vp = layout.Viewport{Width: 1200, Height: 800}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	g := topology.Empty()
	return &Session{
		log:      opts.Logger,
		engine:   engine,
		now:      now,
		graph:    g,
		sim:      engine.Start(g, policy, vp, nil),
		view:     interaction.Idle(),
		policy:   policy,
		viewport: vp,
	}
}

// Begin reserves a refresh generation. Any earlier generation still in
// flight is superseded from this point on.
func (s *Session) Begin() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requested++
	s.status.InFlight = true
	s.status.LastAttempt = s.now().UTC()
	return s.requested
}

// Publish installs g as the displayed graph if gen is still the latest
// requested generation. Subscribers are notified after the swap. It reports
// whether g was accepted.
func (s *Session) Publish(gen uint64, g *topology.Graph) bool {
	if g == nil {
		g = topology.Empty()
	}
	s.mu.Lock()
	if gen != s.requested {
		s.mu.Unlock()
		s.log.Debug().Uint64("generation", gen).Msg("discarding superseded refresh result")
		return false
	}
	s.install(g)
	s.published = gen
	s.status.InFlight = false
	s.status.LastResult = "success"
	s.status.LastError = ""
	s.status.LastSuccess = s.now().UTC()
	s.status.FromCache = false
	s.status.Notice = ""
	snap := s.snapshotLocked()
	subs := append([]subscriber(nil), s.subs...)
	s.mu.Unlock()

	s.log.Info().
		Uint64("generation", gen).
		Int("nodes", len(g.Nodes)).
		Int("edges", len(g.Edges)).
		Msg("topology snapshot published")
	for _, sub := range subs {
		sub.fn(snap)
	}
	return true
}

// Fail records a failed refresh. The displayed snapshot is kept and a
// notice is attached. Superseded failures are ignored.
func (s *Session) Fail(gen uint64, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.requested {
		return false
	}
	s.status.InFlight = false
	s.status.LastResult = "failure"
	if err != nil {
		s.status.LastError = err.Error()
	}
	s.status.Notice = FailureNotice
	return true
}

// Restore shows a cached graph before the first refresh completes. It is a
// no-op once any refresh has been published.
func (s *Session) Restore(g *topology.Graph) bool {
	if g == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.published != 0 {
		return false
	}
	s.install(g)
	s.status.FromCache = true
	return true
}

// install swaps the graph and starts a new simulation. Pinned nodes that
// survive the refresh keep their coordinates.
func (s *Session) install(g *topology.Graph) {
	pinned := s.sim.Positioned().Pinned()
	s.graph = g
	s.sim = s.engine.Start(g, s.policy, s.viewport, pinned)
	s.view = s.view.Reconcile(g)
}

// OnRefresh registers fn to run once per published refresh. The returned
// func removes the subscription.
func (s *Session) OnRefresh(fn func(Snapshot)) func() {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

func (s *Session) GetSnapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		Generation:  s.published,
		Positioned:  s.sim.Positioned(),
		View:        interaction.Render(s.graph, s.view),
		Interaction: s.view,
		Settled:     s.sim.Done(),
		Notice:      s.status.Notice,
	}
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	st.Published = s.published
	st.Requested = s.requested
	return st
}

// Stats recomputes counts from the displayed graph.
func (s *Session) Stats() topology.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return topology.ComputeStats(s.graph)
}

// Step advances the layout simulation by one tick and reports whether it
// has finished. Callers drive it from a ticker or synchronously in tests.
func (s *Session) Step() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.sim.Done() {
		s.sim = s.engine.Step(s.sim)
	}
	return s.sim.Done()
}

// Settle runs the simulation to completion.
func (s *Session) Settle() {
	for !s.Step() {
	}
}

// SetFilter restricts the view to roles; no roles shows everything.
func (s *Session) SetFilter(roles ...classify.Role) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view = s.view.SetRoleFilter(roles...)
	return s.snapshotLocked()
}

// Search applies query and returns the matching node ids. An empty match
// list leaves the view as it was.
func (s *Session) Search(query string) (Snapshot, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, matches := s.view.Search(s.graph, query)
	s.view = next
	return s.snapshotLocked(), matches
}

// SelectNode highlights id and its neighbors. An empty id clears the
// selection.
func (s *Session) SelectNode(id string) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view = s.view.Select(s.graph, id)
	return s.snapshotLocked()
}

func (s *Session) ResetView() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view = s.view.Reset()
	return s.snapshotLocked()
}

// SetLayoutPolicy starts a new simulation under policy. Pinned positions
// carry over; free node positions are reseeded.
func (s *Session) SetLayoutPolicy(policy layout.Policy) (Snapshot, error) {
	p, err := layout.ParsePolicy(string(policy))
	if err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	pinned := s.sim.Positioned().Pinned()
	s.policy = p
	s.sim = s.engine.Start(s.graph, p, s.viewport, pinned)
	return s.snapshotLocked(), nil
}

// SetViewport restarts the simulation for a new canvas size.
func (s *Session) SetViewport(vp layout.Viewport) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if vp.Valid() {
		pinned := s.sim.Positioned().Pinned()
		s.viewport = vp
		s.sim = s.engine.Start(s.graph, s.policy, vp, pinned)
	}
	return s.snapshotLocked()
}

// Pin fixes a node at (x, y), or releases it when pinned is false.
func (s *Session) Pin(id string, x, y float64, pinned bool) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.graph.HasNode(id) {
		return Snapshot{}, ErrUnknownNode
	}
	if pinned {
		s.sim = s.sim.Pin(id, x, y)
	} else {
		s.sim = s.sim.Unpin(id)
	}
	return s.snapshotLocked(), nil
}

// Graph returns the displayed graph.
func (s *Session) Graph() *topology.Graph {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph
}
