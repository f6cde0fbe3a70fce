package topology

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"topoview/internal/classify"
)

type EdgeKind string

const (
	KindUplink          EdgeKind = "uplink"
	KindSwitchLink      EdgeKind = "switch_link"
	KindWirelessLink    EdgeKind = "wireless_link"
	KindWiredClientLink EdgeKind = "wired_client_link"
	KindUnknownLink     EdgeKind = "unknown_link"
)

func AllEdgeKinds() []EdgeKind {
	return []EdgeKind{KindUplink, KindSwitchLink, KindWirelessLink, KindWiredClientLink, KindUnknownLink}
}

type Provenance string

const (
	Authoritative Provenance = "authoritative"
	Inferred      Provenance = "inferred"
)

// KindFromMedium maps a link's declared medium onto an edge kind. Absent or
// unrecognized media become unknown_link.
func KindFromMedium(medium string) EdgeKind {
	switch strings.ToLower(strings.TrimSpace(medium)) {
	case "uplink", "wan":
		return KindUplink
	case "switch", "switch_link", "wired", "ethernet", "lldp", "cdp", "stack":
		return KindSwitchLink
	case "wireless", "wireless_link", "wifi", "mesh":
		return KindWirelessLink
	case "wired_client", "wired_client_link":
		return KindWiredClientLink
	default:
		return KindUnknownLink
	}
}

type Node struct {
	ID       string         `json:"id"`
	Label    string         `json:"label"`
	Role     classify.Role  `json:"role"`
	Status   string         `json:"status"`
	SizeHint float64        `json:"size_hint"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type Edge struct {
	SourceID   string     `json:"source_id"`
	TargetID   string     `json:"target_id"`
	Kind       EdgeKind   `json:"kind"`
	Provenance Provenance `json:"provenance"`
	Interface  string     `json:"interface,omitempty"`
}

// Key is the deduplication key of an edge.
func (e Edge) Key() EdgeKey {
	return EdgeKey{SourceID: e.SourceID, TargetID: e.TargetID, Kind: e.Kind}
}

type EdgeKey struct {
	SourceID string   `json:"source_id"`
	TargetID string   `json:"target_id"`
	Kind     EdgeKind `json:"kind"`
}

// Diagnostics counts what construction absorbed instead of failing.
type Diagnostics struct {
	MalformedRecords   int  `json:"malformed_records"`
	DuplicateIDs       int  `json:"duplicate_ids"`
	DroppedLinks       int  `json:"dropped_links"`
	DroppedParentLinks int  `json:"dropped_parent_links"`
	CrossVendorLinks   int  `json:"cross_vendor_links"`
	FallbackApplied    bool `json:"fallback_applied"`
}

// Graph is an immutable snapshot. Callers must not modify Nodes, Edges or
// node metadata; derived views are computed elsewhere.
type Graph struct {
	ID          uuid.UUID   `json:"id"`
	GeneratedAt time.Time   `json:"generated_at"`
	Nodes       []Node      `json:"nodes"`
	Edges       []Edge      `json:"edges"`
	Diagnostics Diagnostics `json:"diagnostics"`

	index     map[string]int
	neighbors map[string][]string
}

func newGraph(id uuid.UUID, at time.Time, nodes []Node, edges []Edge, diag Diagnostics) *Graph {
	g := &Graph{ID: id, GeneratedAt: at, Nodes: nodes, Edges: edges, Diagnostics: diag}
	g.reindex()
	return g
}

// Empty returns a graph with no nodes, used before the first refresh.
func Empty() *Graph {
	return newGraph(uuid.Nil, time.Time{}, []Node{}, []Edge{}, Diagnostics{})
}

func (g *Graph) reindex() {
	g.index = make(map[string]int, len(g.Nodes))
	for i, n := range g.Nodes {
		g.index[n.ID] = i
	}
	g.neighbors = make(map[string][]string, len(g.Nodes))
	seen := make(map[[2]string]struct{}, len(g.Edges)*2)
	add := func(a, b string) {
		k := [2]string{a, b}
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		g.neighbors[a] = append(g.neighbors[a], b)
	}
	for _, e := range g.Edges {
		add(e.SourceID, e.TargetID)
		add(e.TargetID, e.SourceID)
	}
	for id := range g.neighbors {
		sort.Strings(g.neighbors[id])
	}
}

func (g *Graph) UnmarshalJSON(data []byte) error {
	type plain Graph
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*g = Graph(p)
	if g.Nodes == nil {
		g.Nodes = []Node{}
	}
	if g.Edges == nil {
		g.Edges = []Edge{}
	}
	g.reindex()
	return nil
}

func (g *Graph) Node(id string) (Node, bool) {
	i, ok := g.index[id]
	if !ok {
		return Node{}, false
	}
	return g.Nodes[i], true
}

func (g *Graph) HasNode(id string) bool {
	_, ok := g.index[id]
	return ok
}

// Neighbors returns the ids adjacent to id over any edge, in either
// direction, sorted.
func (g *Graph) Neighbors(id string) []string {
	n := g.neighbors[id]
	out := make([]string, len(n))
	copy(out, n)
	return out
}

func (g *Graph) Len() int { return len(g.Nodes) }
