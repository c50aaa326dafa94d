// Package api provides the HTTP surface of the core service: uploads with
// live SSE progress, result retrieval and a small demo page.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/snaptrans/snaptrans/internal/coordinator"
	"github.com/snaptrans/snaptrans/internal/observability"
)

// RouterConfig holds HTTP layer settings.
type RouterConfig struct {
	MaxFileSize int64
}

// NewRouter creates the main router with all routes configured.
func NewRouter(logger *observability.Logger, coord *coordinator.Coordinator, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	h := NewHandlers(logger, coord, cfg.MaxFileSize)

	r.Get("/", h.Index)
	r.Get("/health", h.Health)
	r.Post("/upload", h.UploadSingle)
	r.Post("/upload/array", h.UploadArray)
	r.Get("/result/{jobId}", h.Result)

	return r
}
