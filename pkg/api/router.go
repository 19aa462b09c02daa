package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/marmos91/cnabflow/internal/logger"
	"github.com/marmos91/cnabflow/pkg/api/handlers"
)

// NewRouter builds the chi router serving the health and transactions
// surfaces of spec.md §6.
func NewRouter(healthHandler *handlers.HealthHandler, txHandler *handlers.TransactionsHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
		r.Get("/dependencies", healthHandler.Dependencies)
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	r.Route("/api/v1/transactions", func(r chi.Router) {
		r.Post("/upload", txHandler.Upload)
		r.Get("/uploads", txHandler.List)
		r.Get("/uploads/incomplete", txHandler.Incomplete)
		r.Get("/uploads/{uploadID}", txHandler.Get)
		r.Post("/uploads/{uploadID}/resume", txHandler.Resume)
		r.Post("/uploads/resume-all", txHandler.ResumeAll)
		r.Delete("/", txHandler.ClearAll)
	})

	return r
}

// requestLogger logs each request's lifecycle through internal/logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

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
