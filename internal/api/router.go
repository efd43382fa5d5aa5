package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates the chi router with all middleware and routes.
//
// Routes:
//   - GET /health
//   - GET /v1/targets
//   - GET /v1/points, GET|DELETE /v1/points/{point}
//   - POST /v1/points/{point}/hover|leave|click|close
//   - GET|DELETE /v1/monitor
//   - GET /v1/history?trigger=&limit=
//   - GET /v1/stats
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.opts.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", h.Health)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/targets", h.ListTargets)

		r.Route("/points", func(r chi.Router) {
			r.Get("/", h.ListPoints)
			r.Route("/{point}", func(r chi.Router) {
				r.Get("/", h.GetPoint)
				r.Delete("/", h.DeletePoint)
				r.Post("/hover", h.HoverStart)
				r.Post("/leave", h.HoverEnd)
				r.Post("/click", h.Click)
				r.Post("/close", h.Close)
			})
		})

		r.Get("/monitor", h.Monitor)
		r.Delete("/monitor", h.ResetMonitor)
		r.Get("/history", h.History)
		r.Get("/stats", h.Stats)
	})

	return r
}

// requestLogger logs request start at DEBUG and completion at INFO
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := middleware.GetReqID(r.Context())

			logger.Debug("API request started",
				"request_id", requestID,
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)

			// Wrap response writer to capture status code
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("API request completed",
				"request_id", requestID,
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start).String(),
			)
		})
	}
}
