package handler

import (
	"context"
	"net/http"
	"time"
)

// DefaultCheckTimeout bounds all readiness checks together.
const DefaultCheckTimeout = 5 * time.Second

// HealthChecker defines an interface for checking service health.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Check is one named readiness dependency. A failing optional check is
// reported but does not fail readiness.
type Check struct {
	Name     string
	Checker  HealthChecker
	Optional bool
}

// HealthHandler manages health check endpoints.
type HealthHandler struct {
	checks  []Check
	timeout time.Duration
}

// NewHealthHandler creates a HealthHandler. Checks with a nil Checker are
// reported as not configured.
func NewHealthHandler(checks ...Check) *HealthHandler {
	return &HealthHandler{checks: checks, timeout: DefaultCheckTimeout}
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Healthz is the liveness check. It never touches dependencies.
//
// GET /healthz
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Readyz returns 200 only if every required dependency answers.
//
// GET /readyz
func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks := make(map[string]string, len(h.checks))
	healthy := true
	degraded := false

	for _, c := range h.checks {
		if c.Checker == nil {
			checks[c.Name] = "not configured"
			continue
		}
		if err := c.Checker.Ping(ctx); err != nil {
			checks[c.Name] = "error: " + err.Error()
			if c.Optional {
				degraded = true
			} else {
				healthy = false
			}
			continue
		}
		checks[c.Name] = "ok"
	}

	resp := HealthResponse{Status: "ok", Checks: checks}
	statusCode := http.StatusOK
	switch {
	case !healthy:
		resp.Status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	case degraded:
		resp.Status = "degraded"
	}
	writeJSON(w, statusCode, resp)
}
