package layout

import (
	"fmt"
	"strings"

	"topoview/internal/classify"
	"topoview/internal/topology"
)

type Policy string

const (
	PolicyForce        Policy = "force"
	PolicyRadial       Policy = "radial"
	PolicyHierarchical Policy = "hierarchical"
)

func ParsePolicy(value string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(value))); p {
	case PolicyForce, PolicyRadial, PolicyHierarchical:
		return p, nil
	case "force-directed", "force_directed":
		return PolicyForce, nil
	default:
		return "", fmt.Errorf("unknown layout policy %q", value)
	}
}

type Viewport struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (v Viewport) Valid() bool { return v.Width > 0 && v.Height > 0 }

func (v Viewport) center() (float64, float64) { return v.Width / 2, v.Height / 2 }

type Position struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Pinned bool    `json:"pinned,omitempty"`
}

// PositionedGraph pairs an immutable Graph with one layout session's
// coordinates. Positions holds every node of Graph.
type PositionedGraph struct {
	Graph      *topology.Graph     `json:"graph"`
	Policy     Policy              `json:"policy"`
	Viewport   Viewport            `json:"viewport"`
	Positions  map[string]Position `json:"positions"`
	Iterations int                 `json:"iterations"`
	Converged  bool                `json:"converged"`
	Energy     float64             `json:"energy"`
}

// Pinned returns the pinned positions only.
func (pg PositionedGraph) Pinned() map[string]Position {
	out := make(map[string]Position)
	for id, p := range pg.Positions {
		if p.Pinned {
			out[id] = p
		}
	}
	return out
}

type Config struct {
	// MaxIterations bounds every simulation; it is always reached or beaten.
	MaxIterations int
	// EnergyThreshold is the mean squared force step per free node below
	// which the simulation counts as converged.
	EnergyThreshold float64
	// EdgeLength is the spring rest length.
	EdgeLength     float64
	SpringStrength float64
	CenterStrength float64
	// ConstraintStrength is the fraction of the distance to its ring or band
	// a node is moved each tick. Ignored by the force policy.
	ConstraintStrength float64
	// Cooling multiplies the step temperature after every tick.
	Cooling float64
	Padding float64
}

func DefaultConfig() Config {
	return Config{
		MaxIterations:      300,
		EnergyThreshold:    0.05,
		EdgeLength:         90,
		SpringStrength:     0.06,
		CenterStrength:     0.01,
		ConstraintStrength: 0.3,
		Cooling:            0.95,
		Padding:            20,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxIterations <= 0 {
		c.MaxIterations = d.MaxIterations
	}
	if c.EnergyThreshold <= 0 {
		c.EnergyThreshold = d.EnergyThreshold
	}
	if c.EdgeLength <= 0 {
		c.EdgeLength = d.EdgeLength
	}
	if c.SpringStrength <= 0 {
		c.SpringStrength = d.SpringStrength
	}
	if c.CenterStrength < 0 {
		c.CenterStrength = d.CenterStrength
	}
	if c.ConstraintStrength <= 0 || c.ConstraintStrength > 1 {
		c.ConstraintStrength = d.ConstraintStrength
	}
	if c.Cooling <= 0 || c.Cooling >= 1 {
		c.Cooling = d.Cooling
	}
	if c.Padding < 0 {
		c.Padding = d.Padding
	}
	return c
}

// Rank orders roles from the core of the network outward. Radial rings and
// hierarchical bands both follow it.
func Rank(role classify.Role) int {
	switch role {
	case classify.RoleSecurityAppliance:
		return 0
	case classify.RoleSwitch:
		return 1
	case classify.RoleWirelessAP:
		return 2
	default:
		return 3
	}
}

const maxRank = 3
