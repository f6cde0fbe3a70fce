package interaction

import (
	"strings"

	"topoview/internal/classify"
	"topoview/internal/topology"
)

// View is the rendered subset of a graph for one State. Suppressed nodes
// and edges stay in the model; they are only absent here.
type View struct {
	Mode            Mode               `json:"mode"`
	Nodes           []string           `json:"visible_nodes"`
	Edges           []topology.EdgeKey `json:"visible_edges"`
	SuppressedNodes int                `json:"suppressed_nodes"`
	SuppressedEdges int                `json:"suppressed_edges"`
}

// Render computes the visible node and edge sets without touching g.
func Render(g *topology.Graph, s State) View {
	s = s.Reconcile(g)
	v := View{Mode: s.mode(), Nodes: []string{}, Edges: []topology.EdgeKey{}}
	if g == nil {
		return v
	}

	visible := make(map[string]struct{}, len(g.Nodes))
	switch v.Mode {
	case ModeHighlighted:
		visible[s.Selected] = struct{}{}
		for _, id := range g.Neighbors(s.Selected) {
			visible[id] = struct{}{}
		}
	case ModeFiltered:
		roles := make(map[classify.Role]struct{}, len(s.Roles))
		for _, r := range s.Roles {
			roles[r] = struct{}{}
		}
		q := strings.ToLower(s.Query)
		for _, n := range g.Nodes {
			if len(roles) > 0 {
				if _, ok := roles[n.Role]; !ok {
					continue
				}
			}
			if q != "" && !nodeMatches(n, q) {
				continue
			}
			visible[n.ID] = struct{}{}
		}
	default:
		for _, n := range g.Nodes {
			visible[n.ID] = struct{}{}
		}
	}

	for _, n := range g.Nodes {
		if _, ok := visible[n.ID]; ok {
			v.Nodes = append(v.Nodes, n.ID)
		}
	}
	for _, e := range g.Edges {
		_, okS := visible[e.SourceID]
		_, okT := visible[e.TargetID]
		show := okS && okT
		// Highlight shows only edges touching the selected node.
		if v.Mode == ModeHighlighted && e.SourceID != s.Selected && e.TargetID != s.Selected {
			show = false
		}
		if show {
			v.Edges = append(v.Edges, e.Key())
		}
	}
	v.SuppressedNodes = len(g.Nodes) - len(v.Nodes)
	v.SuppressedEdges = len(g.Edges) - len(v.Edges)
	return v
}
