// Package api exposes the hub's HTTP surface: the health endpoint and the
// WebSocket upgrade.
package api

import (
	"github.com/gofiber/fiber/v3"

	"github.com/satlink/sathub/internal/httputil"
)

// Gauges reports the hub's live counters for the health endpoint.
type Gauges interface {
	ClientCount() int
	GroupCount() int
}

// HealthHandler serves the health check endpoint.
type HealthHandler struct {
	gauges Gauges
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(gauges Gauges) *HealthHandler {
	return &HealthHandler{gauges: gauges}
}

// Health handles GET /healthz. The hub holds no external dependencies, so a
// responding process is a healthy one; the counters are for operators.
func (h *HealthHandler) Health(c fiber.Ctx) error {
	return httputil.Success(c, fiber.Map{
		"status":  "ok",
		"clients": h.gauges.ClientCount(),
		"groups":  h.gauges.GroupCount(),
	})
}
