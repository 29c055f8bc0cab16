package api

import (
	"context"
	"net/http"
	"time"

	"github.com/onnwee/paycore/internal/health"
)

// healthCheckTimeout bounds each dependency probe.
const healthCheckTimeout = 2 * time.Second

// HealthHandlers holds the dependency checkers probed by /health.
type HealthHandlers struct {
	checkers map[string]health.Checker
}

// NewHealthHandlers creates a new HealthHandlers instance.
func NewHealthHandlers(checkers map[string]health.Checker) *HealthHandlers {
	return &HealthHandlers{
		checkers: checkers,
	}
}

// healthResponse is the /health response body.
type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// HandleHealth probes every registered dependency.
// GET /health
func (h *HealthHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp := healthResponse{
		Status: "healthy",
		Checks: make(map[string]string, len(h.checkers)),
	}
	status := http.StatusOK

	for name, checker := range h.checkers {
		checkCtx, cancel := newCheckContext(ctx)
		err := checker.HealthCheck(checkCtx)
		cancel()
		if err != nil {
			resp.Status = "unhealthy"
			resp.Checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}

	WriteJSON(w, ctx, status, resp)
}

// newCheckContext derives a bounded context for a single dependency probe.
func newCheckContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, healthCheckTimeout)
}
