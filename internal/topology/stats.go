package topology

import "topoview/internal/classify"

// Stats is derived from a Graph on demand and never stored on its own.
type Stats struct {
	TotalNodes   int                   `json:"total_nodes"`
	TotalEdges   int                   `json:"total_edges"`
	NodesByRole  map[classify.Role]int `json:"nodes_by_role"`
	EdgesByKind  map[EdgeKind]int      `json:"edges_by_kind"`
	ByProvenance map[Provenance]int    `json:"edges_by_provenance"`
}

// ComputeStats counts nodes by role and edges by kind. Every role and kind
// appears in the maps, with zero counts where absent.
func ComputeStats(g *Graph) Stats {
	s := Stats{
		NodesByRole:  make(map[classify.Role]int),
		EdgesByKind:  make(map[EdgeKind]int),
		ByProvenance: map[Provenance]int{Authoritative: 0, Inferred: 0},
	}
	for _, r := range classify.AllRoles() {
		s.NodesByRole[r] = 0
	}
	for _, k := range AllEdgeKinds() {
		s.EdgesByKind[k] = 0
	}
	if g == nil {
		return s
	}

	s.TotalNodes = len(g.Nodes)
	s.TotalEdges = len(g.Edges)
	for _, n := range g.Nodes {
		s.NodesByRole[n.Role]++
	}
	for _, e := range g.Edges {
		s.EdgesByKind[e.Kind]++
		s.ByProvenance[e.Provenance]++
	}
	return s
}
