package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"topoview/internal/classify"
	"topoview/internal/layout"
	"topoview/internal/session"
)

type filterRequest struct {
	Role  *string  `json:"role,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

type searchRequest struct {
	Query string `json:"query" validate:"max=256"`
}

type searchResponse struct {
	session.Snapshot
	Matches []string `json:"matches"`
}

type selectRequest struct {
	NodeID *string `json:"node_id"`
}

type layoutRequest struct {
	Policy string `json:"policy" validate:"required"`
}

type viewportRequest struct {
	Width  float64 `json:"width" validate:"gt=0"`
	Height float64 `json:"height" validate:"gt=0"`
}

type pinRequest struct {
	NodeID string  `json:"node_id" validate:"required"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Pinned *bool   `json:"pinned"`
}

type capabilitiesResponse struct {
	Role         classify.Role         `json:"role"`
	Capabilities []classify.Capability `json:"capabilities"`
}

func (h *Handler) ensureView(w http.ResponseWriter) bool {
	if h.view == nil {
		h.writeError(w, http.StatusServiceUnavailable, "not_ready", "topology session not configured", nil)
		return false
	}
	return true
}

func (h *Handler) handleGetTopology(w http.ResponseWriter, r *http.Request) {
	if !h.ensureView(w) {
		return
	}
	h.writeJSON(w, http.StatusOK, h.view.GetSnapshot())
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	if !h.ensureView(w) {
		return
	}
	h.writeJSON(w, http.StatusOK, h.view.Stats())
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !h.ensureView(w) {
		return
	}
	h.writeJSON(w, http.StatusOK, h.view.Status())
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if h.refresher == nil {
		h.writeError(w, http.StatusServiceUnavailable, "refresh_unavailable", "no dashboard source configured", nil)
		return
	}
	h.refresher.Trigger()
	h.writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
}

func (h *Handler) handleFilter(w http.ResponseWriter, r *http.Request) {
	if !h.ensureView(w) {
		return
	}
	var req filterRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}
	raw := req.Roles
	if req.Role != nil {
		raw = append(raw, *req.Role)
	}
	roles := make([]classify.Role, 0, len(raw))
	for _, v := range raw {
		if strings.TrimSpace(v) == "" {
			continue
		}
		role, ok := classify.ParseRole(v)
		if !ok {
			h.writeError(w, http.StatusBadRequest, "invalid_role", "unknown role", map[string]any{"role": v})
			return
		}
		roles = append(roles, role)
	}
	h.writeJSON(w, http.StatusOK, h.view.SetFilter(roles...))
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	if !h.ensureView(w) {
		return
	}
	var req searchRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}
	snap, matches := h.view.Search(req.Query)
	if matches == nil {
		matches = []string{}
	}
	h.writeJSON(w, http.StatusOK, searchResponse{Snapshot: snap, Matches: matches})
}

func (h *Handler) handleSelect(w http.ResponseWriter, r *http.Request) {
	if !h.ensureView(w) {
		return
	}
	var req selectRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}
	id := ""
	if req.NodeID != nil {
		id = strings.TrimSpace(*req.NodeID)
	}
	if id != "" && !h.view.Graph().HasNode(id) {
		h.writeError(w, http.StatusNotFound, "not_found", "node not found", map[string]any{"node_id": id})
		return
	}
	h.writeJSON(w, http.StatusOK, h.view.SelectNode(id))
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	if !h.ensureView(w) {
		return
	}
	h.writeJSON(w, http.StatusOK, h.view.ResetView())
}

func (h *Handler) handleLayout(w http.ResponseWriter, r *http.Request) {
	if !h.ensureView(w) {
		return
	}
	var req layoutRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}
	snap, err := h.view.SetLayoutPolicy(layout.Policy(req.Policy))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_policy", err.Error(), map[string]any{
			"allowed": []layout.Policy{layout.PolicyForce, layout.PolicyRadial, layout.PolicyHierarchical},
		})
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) handleViewport(w http.ResponseWriter, r *http.Request) {
	if !h.ensureView(w) {
		return
	}
	var req viewportRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}
	h.writeJSON(w, http.StatusOK, h.view.SetViewport(layout.Viewport{Width: req.Width, Height: req.Height}))
}

func (h *Handler) handlePin(w http.ResponseWriter, r *http.Request) {
	if !h.ensureView(w) {
		return
	}
	var req pinRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}
	pinned := req.Pinned == nil || *req.Pinned
	snap, err := h.view.Pin(strings.TrimSpace(req.NodeID), req.X, req.Y, pinned)
	if err != nil {
		if errors.Is(err, session.ErrUnknownNode) {
			h.writeError(w, http.StatusNotFound, "not_found", "node not found", map[string]any{"node_id": req.NodeID})
			return
		}
		h.log.Error().Err(err).Str("node_id", req.NodeID).Msg("pin failed")
		h.writeError(w, http.StatusInternalServerError, "internal_error", "failed to pin node", nil)
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	role, ok := classify.ParseRole(chi.URLParam(r, "role"))
	if !ok {
		h.writeError(w, http.StatusNotFound, "not_found", "unknown role", map[string]any{"role": chi.URLParam(r, "role")})
		return
	}
	h.writeJSON(w, http.StatusOK, capabilitiesResponse{Role: role, Capabilities: classify.Capabilities(role)})
}
