package interaction

import (
	"strings"

	"topoview/internal/classify"
	"topoview/internal/topology"
)

type Mode string

const (
	ModeIdle        Mode = "idle"
	ModeFiltered    Mode = "filtered"
	ModeHighlighted Mode = "highlighted"
)

// State is the explicit interaction state threaded through every call.
// Transitions return a new State; the zero value is Idle.
//
// Filtered and Highlighted are mutually exclusive: selecting a node drops
// any role filter or search query, and filtering drops the selection.
type State struct {
	Mode     Mode            `json:"mode"`
	Roles    []classify.Role `json:"roles,omitempty"`
	Query    string          `json:"query,omitempty"`
	Selected string          `json:"selected,omitempty"`
}

func Idle() State { return State{Mode: ModeIdle} }

func (s State) mode() Mode {
	if s.Mode == "" {
		return ModeIdle
	}
	return s.Mode
}

// filtered recomputes the mode after a filter change.
func (s State) filtered() State {
	s.Selected = ""
	if len(s.Roles) > 0 || s.Query != "" {
		s.Mode = ModeFiltered
	} else {
		s.Mode = ModeIdle
	}
	return s
}

// SetRoleFilter restricts the view to the given roles. No roles, or only
// invalid ones, means "all" and clears the role filter.
func (s State) SetRoleFilter(roles ...classify.Role) State {
	var keep []classify.Role
	seen := make(map[classify.Role]struct{}, len(roles))
	for _, r := range roles {
		if !classify.IsValidRole(r) {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		keep = append(keep, r)
	}
	next := s
	next.Roles = keep
	return next.filtered()
}

// Search applies a case-insensitive substring query over node labels and
// roles. A query with no matches leaves the state untouched and reports an
// empty match list. An empty query clears the search.
func (s State) Search(g *topology.Graph, query string) (State, []string) {
	query = strings.TrimSpace(query)
	if query == "" {
		next := s
		next.Query = ""
		return next.filtered(), nil
	}

	matches := Matches(g, query)
	if len(matches) == 0 {
		return s, []string{}
	}
	next := s
	next.Query = query
	return next.filtered(), matches
}

// Select highlights id and its neighbors. Selecting the highlighted node
// again, or an empty id, returns to Idle. Unknown ids are ignored.
func (s State) Select(g *topology.Graph, id string) State {
	id = strings.TrimSpace(id)
	if id == "" {
		if s.mode() == ModeHighlighted {
			return Idle()
		}
		return s
	}
	if g == nil || !g.HasNode(id) {
		return s
	}
	if s.mode() == ModeHighlighted && s.Selected == id {
		return Idle()
	}
	return State{Mode: ModeHighlighted, Selected: id}
}

// Reset returns to Idle from any state.
func (s State) Reset() State { return Idle() }

// Reconcile adapts s to a replacement graph: a selection whose node no longer
// exists falls back to Idle. Filters carry over.
func (s State) Reconcile(g *topology.Graph) State {
	if s.mode() == ModeHighlighted && (g == nil || !g.HasNode(s.Selected)) {
		return Idle()
	}
	if s.Mode == "" {
		s.Mode = ModeIdle
	}
	return s
}

// Matches returns ids of nodes whose label or role contains query,
// case-insensitively, in graph order.
func Matches(g *topology.Graph, query string) []string {
	q := strings.ToLower(strings.TrimSpace(query))
	if g == nil || q == "" {
		return nil
	}
	var out []string
	for _, n := range g.Nodes {
		if nodeMatches(n, q) {
			out = append(out, n.ID)
		}
	}
	return out
}

func nodeMatches(n topology.Node, lowerQuery string) bool {
	return strings.Contains(strings.ToLower(n.Label), lowerQuery) ||
		strings.Contains(strings.ToLower(string(n.Role)), lowerQuery)
}
