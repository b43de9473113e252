package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// NewRouter mounts the workbench API and the health check.
func NewRouter(h *WorkbenchHandler, logger *zap.Logger) chi.Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		// Session endpoints
		r.Post("/sessions", h.OpenSession)
		r.Get("/sessions", h.ListSessions)
		r.Get("/sessions/{id}", h.GetSession)
		r.Delete("/sessions/{id}", h.CloseSession)

		// Query endpoints
		r.Post("/sessions/{id}/submit", h.Submit)
		r.Post("/sessions/{id}/cancel", h.Cancel)
		r.Post("/sessions/{id}/page", h.Page)
		r.Put("/sessions/{id}/page-size", h.SetPageSize)
		r.Get("/sessions/{id}/result", h.GetResult)
		r.Get("/sessions/{id}/history", h.History)
		r.Get("/sessions/{id}/events", h.Events)

		// Export endpoints
		r.Post("/sessions/{id}/export", h.Export)
		r.Post("/sessions/{id}/export/cancel", h.CancelExport)
		r.Get("/sessions/{id}/export/download", h.DownloadExport)

		// Dataset endpoints
		r.Post("/datasets", h.LoadDataset)
		r.Post("/datasets/transform", h.TransformDataset)
		r.Get("/tables", h.ListTables)
		r.Get("/tables/{table}", h.GetTable)
	})

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.Warn("failed to write health response", zap.Error(err))
		}
	})

	return r
}

// requestLogger logs each request through zap.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}
