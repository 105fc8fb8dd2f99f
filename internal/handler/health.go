package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"egress-relay-go/internal/config"
	"egress-relay-go/internal/route"
)

// Version is a string type for dependency injection of the build version.
type Version string

// routeStatus describes one configured route. It never carries secrets.
type routeStatus struct {
	Name     string `json:"name"`
	Prefix   string `json:"prefix"`
	Upstream string `json:"upstream"`
}

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	table   *route.Table
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, table *route.Table, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, table: table, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns relay status information: version, egress mode and the
// configured routes. Secrets and the tunnel URL are never included.
func (h *HealthHandler) Status(c echo.Context) error {
	routes := h.table.Routes()
	inventory := make([]routeStatus, 0, len(routes))
	for _, r := range routes {
		inventory = append(inventory, routeStatus{
			Name:     r.Name,
			Prefix:   r.Prefix,
			Upstream: r.Upstream.Scheme + "://" + r.Upstream.Host,
		})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"status":  "ok",
		"version": string(h.version),
		"egress":  egressMode(h.cfg),
		"routes":  inventory,
	})
}

// egressMode names how outbound traffic leaves the relay.
func egressMode(cfg *config.Config) string {
	if cfg.Egress.Tunneled() {
		return "tunnel"
	}
	return "direct"
}
