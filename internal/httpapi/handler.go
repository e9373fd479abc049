package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"routeview/core-go/internal/controller"
	"routeview/core-go/internal/db"
	"routeview/core-go/internal/geo"
	"routeview/core-go/internal/metrics"
	"routeview/core-go/internal/session"
)

type Handler struct {
	log      zerolog.Logger
	pool     *db.Pool
	sessions *session.Registry
	metrics  *metrics.Metrics
}

func NewHandler(log zerolog.Logger, pool *db.Pool, sessions *session.Registry, m *metrics.Metrics) *Handler {
	return &Handler{log: log, pool: pool, sessions: sessions, metrics: m}
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
			r.Route("/sessions", func(r chi.Router) {
				r.Post("/", h.handleCreateSession)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.handleGetSession)
					r.Delete("/", h.handleDeleteSession)
					r.Get("/places/{name}", h.handleSearchPlaces)
					r.Put("/start", h.handleSetStart)
					r.Put("/end", h.handleSetEnd)
					r.Post("/route", h.handleComputeRoute)
					r.Put("/hover", h.handleHoverEnter)
					r.Delete("/hover", h.handleHoverExit)
				})
			})
		})
	})

	return r
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
		}
		h.metrics.ObserveHTTPRequest(r.Method, path, ww.Status(), elapsed)

		h.log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Int64("duration_ms", elapsed.Milliseconds()).
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

// writeControllerError maps controller failures onto the error envelope.
func (h *Handler) writeControllerError(w http.ResponseWriter, err error) {
	var rce *controller.RouteComputationError
	switch {
	case errors.Is(err, controller.ErrEndpointsNotSelected):
		h.writeError(w, http.StatusConflict, "endpoints_not_selected", "select a start and an end place first", nil)
	case errors.Is(err, controller.ErrNoActiveRoute):
		h.writeError(w, http.StatusConflict, "no_active_route", "no route has been computed yet", nil)
	case errors.Is(err, controller.ErrRouteSuperseded):
		h.writeError(w, http.StatusConflict, "route_superseded", "a newer route request replaced this one", nil)
	case errors.Is(err, controller.ErrStepOutOfRange):
		h.writeError(w, http.StatusBadRequest, "validation_failed", "step index out of range", nil)
	case errors.Is(err, controller.ErrPlaceIDRequired):
		h.writeError(w, http.StatusBadRequest, "validation_failed", "place id is required", nil)
	case errors.As(err, &rce):
		h.writeError(w, http.StatusBadGateway, "route_computation_failed", "route computation failed", map[string]any{"reason": rce.Reason})
	case errors.Is(err, controller.ErrPlaceSearchFailed):
		h.writeError(w, http.StatusBadGateway, "place_search_failed", "place search failed", map[string]any{"error": err.Error()})
	case errors.Is(err, controller.ErrOverlayRenderFailed):
		h.writeError(w, http.StatusInternalServerError, "overlay_render_failed", "route overlay could not be rendered", map[string]any{"error": err.Error()})
	default:
		h.log.Error().Err(err).Msg("unexpected controller error")
		h.writeError(w, http.StatusInternalServerError, "internal_error", "unexpected error", nil)
	}
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

// pathParam returns the decoded URL parameter. chi matches against RawPath
// when the request has one, and then the parameter is still escaped.
func pathParam(r *http.Request, key string) (string, error) {
	v := chi.URLParam(r, key)
	if r.URL.RawPath == "" {
		return v, nil
	}
	return url.PathUnescape(v)
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleReadyZ(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.sessions == nil {
		h.writeError(w, http.StatusServiceUnavailable, "not_ready", "session registry not configured", nil)
		return
	}

	// The database is optional; places may come from the HTTP backend instead.
	if h.pool != nil {
		if err := h.pool.Ping(ctx); err != nil {
			h.writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not ready", map[string]any{"error": err.Error()})
			return
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}

// imageSize reads the width/height query parameters used to render GetMap
// URLs, writing 400 itself when they are invalid.
func (h *Handler) imageSize(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	width, height, err := parseImageSize(r.URL.Query())
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid image size", map[string]any{"error": err.Error()})
		return 0, 0, false
	}
	return width, height, true
}

// session looks up the {id} session, writing 404/503 itself when it fails.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	if h.sessions == nil {
		h.writeError(w, http.StatusServiceUnavailable, "not_ready", "session registry not configured", nil)
		return nil, false
	}
	id := chi.URLParam(r, "id")
	s, err := h.sessions.Get(id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "session not found", map[string]any{"id": id})
			return nil, false
		}
		h.log.Error().Err(err).Str("session_id", id).Msg("session lookup failed")
		h.writeError(w, http.StatusInternalServerError, "internal_error", "session lookup failed", nil)
		return nil, false
	}
	return s, true
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if h.sessions == nil {
		h.writeError(w, http.StatusServiceUnavailable, "not_ready", "session registry not configured", nil)
		return
	}
	s := h.sessions.Create()
	h.writeJSON(w, http.StatusCreated, newSessionState(s, defaultImageWidth, defaultImageHeight))
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	width, height, ok := h.imageSize(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, newSessionState(s, width, height))
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if h.sessions == nil {
		h.writeError(w, http.StatusServiceUnavailable, "not_ready", "session registry not configured", nil)
		return
	}
	if err := h.sessions.Delete(id); err != nil {
		h.writeError(w, http.StatusNotFound, "not_found", "session not found", map[string]any{"id": id})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSearchPlaces(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	name, err := pathParam(r, "name")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid place name", map[string]any{"error": err.Error()})
		return
	}

	places := make([]geo.Place, 0)
	for p, err := range s.Controller.SearchPlaces(r.Context(), name) {
		if err != nil {
			h.writeControllerError(w, err)
			return
		}
		places = append(places, p)
	}
	h.writeJSON(w, http.StatusOK, places)
}

func (h *Handler) handleSetStart(w http.ResponseWriter, r *http.Request) {
	h.handleSetEndpoint(w, r, (*controller.Controller).SetStart)
}

func (h *Handler) handleSetEnd(w http.ResponseWriter, r *http.Request) {
	h.handleSetEndpoint(w, r, (*controller.Controller).SetEnd)
}

func (h *Handler) handleSetEndpoint(w http.ResponseWriter, r *http.Request, set func(*controller.Controller, geo.Place) error) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	width, height, ok := h.imageSize(w, r)
	if !ok {
		return
	}
	var p geo.Place
	if err := decodeJSONStrict(r, &p); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	if err := set(s.Controller, p); err != nil {
		h.writeControllerError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newSessionState(s, width, height))
}

func (h *Handler) handleComputeRoute(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	width, height, ok := h.imageSize(w, r)
	if !ok {
		return
	}
	if _, err := s.Controller.ComputeRoute(r.Context()); err != nil {
		h.writeControllerError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newSessionState(s, width, height))
}

type hoverRequest struct {
	Step *int `json:"step"`
}

func (h *Handler) handleHoverEnter(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	width, height, ok := h.imageSize(w, r)
	if !ok {
		return
	}
	var req hoverRequest
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	if req.Step == nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "step is required", nil)
		return
	}
	if _, err := s.Controller.HoverStep(*req.Step); err != nil {
		h.writeControllerError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newMapState(s.Surface.Snapshot(), width, height))
}

func (h *Handler) handleHoverExit(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	width, height, ok := h.imageSize(w, r)
	if !ok {
		return
	}
	if err := s.Controller.OnStepHoverExit(); err != nil {
		h.writeControllerError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newMapState(s.Surface.Snapshot(), width, height))
}
