package middleware

import (
	"errors"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"egress-relay-go/internal/config"
	"egress-relay-go/internal/metrics"
	"egress-relay-go/internal/route"
)

// routeLabel resolves the metrics route label for a request path. Static
// endpoints keep their literal path; relayed paths collapse to the route
// name so label cardinality stays bounded no matter what callers request.
func routeLabel(table *route.Table, path string) string {
	for _, p := range config.StaticPaths {
		if path == p {
			return path
		}
	}
	if r := table.Match(path); r != nil {
		return r.Name
	}
	return "other"
}

// MetricsMiddleware returns an Echo middleware that records Prometheus metrics
// for each inbound request.
func MetricsMiddleware(m *metrics.Metrics, table *route.Table) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()

			err := next(c)

			// Resolve the actual status code. When a handler returns an
			// *echo.HTTPError, the response status hasn't been written yet;
			// Echo's central error handler will do that later. We inspect
			// the error to get the correct code for metrics.
			statusCode := c.Response().Status
			if err != nil {
				var he *echo.HTTPError
				if errors.As(err, &he) {
					statusCode = he.Code
				}
			}

			status := strconv.Itoa(statusCode)
			method := metrics.NormalizeMethod(c.Request().Method)
			routeName := routeLabel(table, c.Request().URL.Path)
			duration := time.Since(start).Seconds()

			m.RequestsTotal.WithLabelValues(method, status, routeName).Inc()
			m.RequestDuration.WithLabelValues(method, status, routeName).Observe(duration)

			return err
		}
	}
}
