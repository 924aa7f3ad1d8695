package handler

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/creator-leaderboard/internal/domain"
	"github.com/creator-leaderboard/internal/metrics"
	"github.com/creator-leaderboard/internal/service"
	"github.com/creator-leaderboard/internal/websocket"
)

// Handler provides HTTP handlers for the leaderboard API
type Handler struct {
	service    *service.LeaderboardService
	refresher  *service.Refresher
	hub        *websocket.Hub
	adminToken string
	logger     *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	svc *service.LeaderboardService,
	refresher *service.Refresher,
	hub *websocket.Hub,
	adminToken string,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		service:    svc,
		refresher:  refresher,
		hub:        hub,
		adminToken: adminToken,
		logger:     logger,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	// Prometheus metrics
	r.Handle("/metrics", metrics.Handler())

	// WebSocket endpoint
	r.Get("/ws", h.HandleWebSocket)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/leaderboard", func(r chi.Router) {
			// POST variant carries {platform, limit} in the body for
			// clients that cannot set query parameters.
			r.Post("/top", h.GetTopByBody)

			r.Route("/{platform}", func(r chi.Router) {
				r.Get("/top", h.GetTop)
				r.Get("/entrants", h.GetNewEntrants)
			})
		})

		r.Post("/avatars", h.EnrichAvatars)
		r.Post("/stats", h.GetLiveStats)

		// Refresh-triggering endpoints require the admin bearer token.
		r.Route("/admin", func(r chi.Router) {
			r.Use(h.requireAdmin)
			r.Post("/refresh", h.Refresh)
		})

		// WebSocket info endpoint
		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requireAdmin rejects requests whose bearer token does not match the
// configured admin secret. A missing server-side secret locks the
// endpoints entirely rather than leaving them open.
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if h.adminToken == "" || token == "" ||
			subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) != 1 {
			h.writeError(w, http.StatusUnauthorized, domain.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]interface{}{
		"total_connections": h.hub.GetTotalConnections(),
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck returns service readiness status
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "ready"})
}

// topResponse is the public read response shape. On the no-data path it
// carries an explicit error marker and an empty item list so clients can
// render a "refresh has not run yet" state instead of a generic failure.
type topResponse struct {
	FetchedAt   *time.Time       `json:"fetched_at,omitempty"`
	PeriodStart *time.Time       `json:"period_start,omitempty"`
	Items       []domain.TopItem `json:"items"`
	Error       string           `json:"error,omitempty"`
}

// GetTop serves the freshest cached top list for a platform
func (h *Handler) GetTop(w http.ResponseWriter, r *http.Request) {
	platform, err := domain.ParsePlatform(chi.URLParam(r, "platform"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	limit := 100
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	h.serveTop(w, r, platform, limit)
}

// GetTopByBody serves the top list for clients that POST {platform, limit}
func (h *Handler) GetTopByBody(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Platform string `json:"platform"`
		Limit    int    `json:"limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	platform, err := domain.ParsePlatform(req.Platform)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	h.serveTop(w, r, platform, req.Limit)
}

func (h *Handler) serveTop(w http.ResponseWriter, r *http.Request, platform domain.Platform, limit int) {
	list, err := h.service.GetTop(r.Context(), platform, limit)
	if err != nil {
		if errors.Is(err, domain.ErrNoSnapshot) {
			// Expected steady state before the first successful refresh.
			h.writeJSON(w, http.StatusServiceUnavailable, topResponse{
				Items: []domain.TopItem{},
				Error: "no_snapshot",
			})
			return
		}
		h.logger.Error("failed to get top list", "platform", platform, "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
		return
	}

	h.writeJSON(w, http.StatusOK, topResponse{
		FetchedAt:   &list.FetchedAt,
		PeriodStart: list.PeriodStart,
		Items:       list.Items,
	})
}

// GetNewEntrants returns recently detected new entrants for a platform
func (h *Handler) GetNewEntrants(w http.ResponseWriter, r *http.Request) {
	platform, err := domain.ParsePlatform(chi.URLParam(r, "platform"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil {
			limit = l
		}
	}

	entrants, err := h.service.ListNewEntrants(r.Context(), platform, limit)
	if err != nil {
		h.logger.Error("failed to list new entrants", "platform", platform, "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
		return
	}
	if entrants == nil {
		entrants = []domain.NewEntrant{}
	}

	h.writeSuccess(w, entrants)
}

// EnrichAvatars resolves avatars for a batch of creators
func (h *Handler) EnrichAvatars(w http.ResponseWriter, r *http.Request) {
	var req domain.AvatarRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	platform, err := domain.ParsePlatform(string(req.Platform))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	req.Platform = platform

	if len(req.IDs) == 0 {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	avatars, err := h.service.EnrichAvatars(r.Context(), req)
	if err != nil {
		h.logger.Error("avatar enrichment failed", "platform", platform, "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"avatars": avatars})
}

// GetLiveStats proxies a single creator's statistics from the provider
func (h *Handler) GetLiveStats(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Platform   string `json:"platform"`
		Identifier string `json:"identifier"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"ok": false, "error": "invalid request",
		})
		return
	}

	platform, err := domain.ParsePlatform(req.Platform)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"ok": false, "error": "invalid platform", "reason": req.Platform,
		})
		return
	}

	data, err := h.service.GetLiveStats(r.Context(), platform, req.Identifier)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidRequest) {
			h.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"ok": false, "error": "identifier required",
			})
			return
		}
		h.logger.Warn("live stats lookup failed", "platform", platform, "error", err)
		h.writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"ok": false, "error": "upstream lookup failed", "reason": err.Error(),
		})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "data": data})
}

// Refresh triggers a refresh run across the requested platforms. The
// response is always 200 with a mixed refreshed/errors body; callers must
// inspect the errors array for partial failure.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Platforms []string `json:"platforms"`
	}
	// Body is optional; an empty or absent body means all platforms.
	_ = json.NewDecoder(r.Body).Decode(&req)

	var platforms []domain.Platform
	for _, p := range req.Platforms {
		platform, err := domain.ParsePlatform(p)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, err)
			return
		}
		platforms = append(platforms, platform)
	}

	result := h.refresher.RefreshAll(r.Context(), platforms)
	h.writeJSON(w, http.StatusOK, result)
}
