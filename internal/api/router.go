package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

type RouterConfig struct {
	// RefreshPerMinute caps POST /api/v1/refresh per client IP.
	RefreshPerMinute int
	// Metrics serves GET /metrics when set.
	Metrics http.Handler
}

// NewRouter wires the API routes onto a chi router.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	if cfg.RefreshPerMinute <= 0 {
		cfg.RefreshPerMinute = 6
	}

	r := chi.NewRouter()
	r.Use(RequestID())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(AccessLog())

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NewResponseWriter(w, r).NotFound("no such endpoint")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		NewResponseWriter(w, r).Error(http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/datasets", h.Datasets)
		r.Get("/summary", h.Summary)
		r.Get("/orders", h.Orders)
		r.Get("/orders/recent", h.RecentOrders)
		r.Get("/report", h.Report)
		r.With(RefreshRateLimit(cfg.RefreshPerMinute)).Post("/refresh", h.Refresh)
	})

	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}
	return r
}
