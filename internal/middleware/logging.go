// Package middleware provides Echo middleware for logging, metrics and security.
package middleware

import (
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"

	"egress-relay-go/internal/route"
)

// RequestLogger returns an Echo middleware that logs each request with slog.
// Relayed requests are tagged with their matched route name. Header values
// are never logged; the path is, the query string is not.
func RequestLogger(logger *slog.Logger, table *route.Table) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			attrs := []any{
				"method", req.Method,
				"path", req.URL.Path,
				"status", res.Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"remote_ip", c.RealIP(),
				"bytes_out", res.Size,
			}
			if r := table.Match(req.URL.Path); r != nil {
				attrs = append(attrs, "route", r.Name)
			}

			logger.Info("request", attrs...)

			return err
		}
	}
}
