package handler

import (
	"context"
	"net/http"
	"time"
)

// DependencyPinger reports reachability of one backing dependency.
type DependencyPinger interface {
	Ping(ctx context.Context) error
}

// ProbeHandler serves the endpoints the integrity auditor probes: health,
// version, root echo, and dependency status. Vigil serves these itself so an
// auditor pointed at a Vigil instance gets a fully probeable target.
type ProbeHandler struct {
	version     string
	environment string
	startedAt   time.Time
	deps        map[string]DependencyPinger
}

// NewProbeHandler creates a ProbeHandler. deps maps dependency names to
// their pingers; statuses appear under /status/dependencies.
func NewProbeHandler(version, environment string, deps map[string]DependencyPinger) *ProbeHandler {
	return &ProbeHandler{
		version:     version,
		environment: environment,
		startedAt:   time.Now(),
		deps:        deps,
	}
}

// Health handles GET /health.
func (h *ProbeHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}

// Version handles GET /version.
func (h *ProbeHandler) Version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":        "vigil",
		"version":     h.version,
		"environment": h.environment,
	})
}

// Root handles GET /, echoing the version tuple for auditors that fall back
// to the root endpoint.
func (h *ProbeHandler) Root(w http.ResponseWriter, r *http.Request) {
	h.Version(w, r)
}

// Dependencies handles GET /status/dependencies, reporting each backing
// dependency as a status word the auditor's normalization understands.
func (h *ProbeHandler) Dependencies(w http.ResponseWriter, r *http.Request) {
	services := make(map[string]string, len(h.deps))
	for name, dep := range h.deps {
		if err := dep.Ping(r.Context()); err != nil {
			services[name] = "down"
		} else {
			services[name] = "healthy"
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"services": services})
}
