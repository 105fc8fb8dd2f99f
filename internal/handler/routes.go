package handler

import (
	"github.com/labstack/echo/v4"

	"egress-relay-go/internal/route"
)

// RegisterRoutes wires the static endpoints plus one pair of echo routes per
// relay route onto the Echo instance. Paths outside the table fall through to
// echo's default 404; the relay never invents its own not-found shape.
func RegisterRoutes(e *echo.Echo, table *route.Table, relay *RelayHandler, health *HealthHandler, egress *EgressHandler) {
	e.GET("/healthz", health.Healthz)
	e.GET("/relay/status", health.Status)
	e.GET("/egress/ip", egress.IP)

	for _, r := range table.Routes() {
		h := relay.Relay(r)
		e.Any(r.Prefix, h)
		e.Any(r.Prefix+"/*", h)
	}
}
