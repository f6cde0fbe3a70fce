package layout

import (
	"github.com/rs/zerolog"

	"topoview/internal/topology"
)

// Recorder receives one observation per finished simulation.
type Recorder interface {
	ObserveLayout(policy string, iterations int, converged bool)
}

type Engine struct {
	cfg Config
	log zerolog.Logger
	rec Recorder
}

func NewEngine(cfg Config, log zerolog.Logger, rec Recorder) *Engine {
	return &Engine{cfg: cfg.withDefaults(), log: log, rec: rec}
}

func (e *Engine) Config() Config { return e.cfg }

// Start seeds a new session for g without running it.
func (e *Engine) Start(g *topology.Graph, policy Policy, vp Viewport, pinned map[string]Position) State {
	return NewState(g, policy, vp, e.cfg, pinned)
}

// Step ticks s once and reports the outcome when the simulation finishes on
// this tick.
func (e *Engine) Step(s State) State {
	next := Tick(s)
	if next.done && !s.done {
		e.finish(next)
	}
	return next
}

// Layout runs a fresh simulation for g to completion.
func (e *Engine) Layout(g *topology.Graph, policy Policy, vp Viewport) PositionedGraph {
	return e.run(e.Start(g, policy, vp, nil))
}

// Relayout recomputes pg under policy. Pinned nodes keep their coordinates;
// free node positions are discarded.
func (e *Engine) Relayout(pg PositionedGraph, policy Policy, vp Viewport) PositionedGraph {
	return e.run(e.Start(pg.Graph, policy, vp, pg.Pinned()))
}

func (e *Engine) run(s State) PositionedGraph {
	for !s.Done() {
		s = e.Step(s)
	}
	return s.Positioned()
}

func (e *Engine) finish(s State) {
	if e.rec != nil {
		e.rec.ObserveLayout(string(s.policy), s.iteration, s.converged)
	}
	if s.converged {
		e.log.Debug().
			Str("policy", string(s.policy)).
			Int("iterations", s.iteration).
			Float64("energy", s.energy).
			Msg("layout converged")
		return
	}
	e.log.Warn().
		Str("policy", string(s.policy)).
		Int("iterations", s.iteration).
		Int("max_iterations", s.cfg.MaxIterations).
		Float64("energy", s.energy).
		Int("nodes", len(s.bodies)).
		Msg("layout did not converge; using positions at iteration cap")
}
