// Package router provides HTTP routing configuration using Chi.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/remiblancher/qsign/internal/api/handler"
	"github.com/remiblancher/qsign/internal/api/middleware"
	"github.com/remiblancher/qsign/internal/service"
)

// Request body limits.
const (
	BatchBodyLimit   = 500_000_000
	VerifyBodyLimit  = 100_000_000
	DefaultBodyLimit = 100_000_000
)

// Config holds router configuration.
type Config struct {
	Service     *service.Service
	Version     string
	CORSOrigins []string

	// Checks are reported by /ready.
	Checks map[string]func() bool
}

// New creates a new Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.CORS(cfg.CORSOrigins))

	healthHandler := handler.NewHealthHandler(cfg.Version, cfg.Checks)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	signHandler := handler.NewSignHandler(cfg.Service)
	verifyHandler := handler.NewVerifyHandler(cfg.Service)

	r.Route("/api", func(r chi.Router) {
		r.Route("/sign", func(r chi.Router) {
			r.With(chimw.RequestSize(DefaultBodyLimit)).Post("/", signHandler.Sign)
			r.With(chimw.RequestSize(BatchBodyLimit)).Post("/batch", signHandler.Batch)
			r.With(chimw.RequestSize(DefaultBodyLimit)).Post("/cosign", signHandler.CoSign)
			r.With(chimw.RequestSize(DefaultBodyLimit)).Post("/certificate/info", signHandler.CertificateInfo)
			r.With(chimw.RequestSize(VerifyBodyLimit)).Post("/verify", signHandler.Verify)
			r.With(chimw.RequestSize(VerifyBodyLimit)).Post("/extract", signHandler.Extract)
		})
		r.Route("/verify", func(r chi.Router) {
			r.With(chimw.RequestSize(VerifyBodyLimit)).Post("/", verifyHandler.Verify)
			r.With(chimw.RequestSize(VerifyBodyLimit)).Post("/extract", verifyHandler.Extract)
		})
	})

	return r
}
