package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"topoview/internal/classify"
	"topoview/internal/layout"
	"topoview/internal/metrics"
	"topoview/internal/session"
	"topoview/internal/topology"
)

// TopologyView is the consumer boundary the API exposes.
// *session.Session satisfies this.
type TopologyView interface {
	GetSnapshot() session.Snapshot
	Status() session.Status
	Stats() topology.Stats
	Graph() *topology.Graph
	SetFilter(roles ...classify.Role) session.Snapshot
	Search(query string) (session.Snapshot, []string)
	SelectNode(id string) session.Snapshot
	ResetView() session.Snapshot
	SetLayoutPolicy(policy layout.Policy) (session.Snapshot, error)
	SetViewport(vp layout.Viewport) session.Snapshot
	Pin(id string, x, y float64, pinned bool) (session.Snapshot, error)
}

// Refresher starts an out-of-schedule refresh.
type Refresher interface {
	Trigger()
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	View      TopologyView
	Refresher Refresher
	// DB is optional; readiness only checks it when set.
	DB      Pinger
	Metrics *metrics.Metrics
}

type Handler struct {
	log       zerolog.Logger
	view      TopologyView
	refresher Refresher
	db        Pinger
	metrics   *metrics.Metrics
	validate  *validator.Validate
}

const maxBodyBytes = 64 << 10

func NewHandler(log zerolog.Logger, opts Options) *Handler {
	return &Handler{
		log:       log,
		view:      opts.View,
		refresher: opts.Refresher,
		db:        opts.DB,
		metrics:   opts.Metrics,
		validate:  validator.New(),
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))
	r.Use(h.accessLog)

	// Health
	r.Get("/healthz", h.handleHealthz)
	r.Get("/readyz", h.handleReadyZ)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	// API
	r.Route("/api", func(r chi.Router) {
		r.Route("/v1", func(r chi.Router) {
			r.Route("/topology", func(r chi.Router) {
				r.Get("/", h.handleGetTopology)
				r.Get("/stats", h.handleStats)
				r.Get("/status", h.handleStatus)
				r.Post("/refresh", h.handleRefresh)
			})

			r.Route("/view", func(r chi.Router) {
				r.Post("/filter", h.handleFilter)
				r.Post("/search", h.handleSearch)
				r.Post("/select", h.handleSelect)
				r.Post("/reset", h.handleReset)
				r.Post("/layout", h.handleLayout)
				r.Post("/viewport", h.handleViewport)
				r.Post("/pin", h.handlePin)
			})

			r.Get("/capabilities/{role}", h.handleCapabilities)
		})
	})

	return r
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		if id := middleware.GetReqID(r.Context()); id != "" {
			ww.Header().Set(middleware.RequestIDHeader, id)
		}

		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		h.metrics.ObserveHTTPRequest(r.Method, path, status, time.Since(start))

		h.log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Msg("http_request")
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, msg string, details map[string]any) {
	resp := map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": msg,
		},
	}
	if details != nil {
		resp["error"].(map[string]any)["details"] = details
	}
	h.writeJSON(w, status, resp)
}

func decodeJSONStrict(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return errors.New("unexpected extra data after JSON body")
		}
		return err
	}
	return nil
}

// decodeRequest reads and validates a JSON body, writing the error response
// itself. It reports whether the handler should continue.
func (h *Handler) decodeRequest(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := decodeJSONStrict(r, dst); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body", map[string]any{"error": err.Error()})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		details := map[string]any{}
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				details[fe.Field()] = fe.Tag()
			}
		}
		h.writeError(w, http.StatusBadRequest, "validation_failed", "request failed validation", details)
		return false
	}
	return true
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleReadyZ reports ready once a graph is on display (published or
// restored from cache) and the database, when configured, answers.
func (h *Handler) handleReadyZ(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			h.writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not ready", map[string]any{"error": err.Error()})
			return
		}
	}
	if h.view == nil {
		h.writeError(w, http.StatusServiceUnavailable, "not_ready", "topology session not configured", nil)
		return
	}
	st := h.view.Status()
	if st.Published == 0 && !st.FromCache {
		h.writeError(w, http.StatusServiceUnavailable, "not_ready", "no topology snapshot yet", map[string]any{
			"in_flight":   st.InFlight,
			"last_result": st.LastResult,
		})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}
