package handler

import (
	"net/http"

	"github.com/remiblancher/qsign/internal/api/dto"
)

// HealthHandler handles health and readiness endpoints.
type HealthHandler struct {
	version string
	checks  map[string]func() bool
}

// NewHealthHandler creates a HealthHandler. checks are run by Ready.
func NewHealthHandler(version string, checks map[string]func() bool) *HealthHandler {
	return &HealthHandler{version: version, checks: checks}
}

// Health handles GET /health.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	services := map[string]string{"sign": "ok", "verify": "ok"}
	for name := range h.checks {
		services[name] = "ok"
	}
	respondJSON(w, http.StatusOK, dto.HealthResponse{
		Status:   "ok",
		Version:  h.version,
		Services: services,
	})
}

// Ready handles GET /ready.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := map[string]bool{"server": true}
	allReady := true
	for name, check := range h.checks {
		ok := check()
		checks[name] = ok
		allReady = allReady && ok
	}

	status := http.StatusOK
	if !allReady {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, dto.ReadyResponse{Ready: allReady, Checks: checks})
}
