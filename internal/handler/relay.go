package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"regexp"

	"github.com/labstack/echo/v4"

	"egress-relay-go/internal/model"
	"egress-relay-go/internal/route"
	"egress-relay-go/internal/service"
)

// credentialQueryPattern matches credential-carrying query parameter values in
// URLs embedded in error messages.
var credentialQueryPattern = regexp.MustCompile(`(?i)((?:api_?key|token|secret|authorization)=)[^&\s"]+`)

// userinfoPattern matches user:password userinfo embedded in URLs.
var userinfoPattern = regexp.MustCompile(`(https?://)[^/@\s]+@`)

// errorResponse is the JSON envelope for every error the relay synthesizes
// itself. Upstream error responses are relayed verbatim and never take this
// shape.
type errorResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Method  string `json:"method,omitempty"`
	URL     string `json:"url,omitempty"`
}

// RelayHandler forwards authenticated requests to their route's upstream.
type RelayHandler struct {
	service *service.RelayService
	logger  *slog.Logger
}

// NewRelayHandler creates a RelayHandler.
func NewRelayHandler(svc *service.RelayService, logger *slog.Logger) *RelayHandler {
	return &RelayHandler{
		service: svc,
		logger:  logger.With("component", "relay_handler"),
	}
}

// Relay returns an echo handler bound to r. It validates the shared secret,
// forwards the request upstream and streams the response back unchanged,
// status code included.
func (h *RelayHandler) Relay(r *route.Route) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()

		// EscapedPath keeps percent-encoded segments intact; the decoded
		// Path would turn an encoded %2F into a real slash upstream.
		fr := &model.ForwardRequest{
			Ctx:      req.Context(),
			Method:   req.Method,
			Path:     req.URL.EscapedPath(),
			RawQuery: req.URL.RawQuery,
			Header:   req.Header,
			Body:     req.Body,
		}

		resp, err := h.service.Forward(r, fr)
		if err != nil {
			return h.mapError(c, r, err)
		}
		defer func() { _ = resp.Body.Close() }()

		// Copy filtered response headers
		for key, vals := range resp.Header {
			for _, v := range vals {
				c.Response().Header().Add(key, v)
			}
		}

		c.Response().WriteHeader(resp.StatusCode)

		// Stream the upstream body directly to the caller. If io.Copy fails
		// mid-stream (e.g. client disconnect, network error), the HTTP status
		// code has already been sent, so the caller receives a truncated
		// response with the original status. This is an inherent trade-off of
		// streaming relays — we log the error for observability.
		if _, err := io.Copy(c.Response(), resp.Body); err != nil {
			h.logger.Error("streaming response body",
				"err", err,
				"route", r.Name,
				"path", req.URL.Path,
			)
		}

		return nil
	}
}

func (h *RelayHandler) mapError(c echo.Context, r *route.Route, err error) error {
	var authErr *service.AuthError
	if errors.As(err, &authErr) {
		h.logger.Warn("credential rejected",
			"route", r.Name,
			"path", c.Request().URL.Path,
		)
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: authErr.Code})
	}

	h.logger.Error("relay error",
		"err", sanitizeError(err),
		"route", r.Name,
		"path", c.Request().URL.Path,
	)

	var cfgErr *service.ConfigError
	if errors.As(err, &cfgErr) {
		return c.JSON(http.StatusInternalServerError, errorResponse{
			Error:   "RELAY_MISCONFIGURED",
			Message: cfgErr.Error(),
		})
	}

	var upErr *service.UpstreamError
	if errors.As(err, &upErr) {
		status := http.StatusBadGateway
		code := "UPSTREAM_UNREACHABLE"
		// The transport error itself is the useful diagnostic; credentials
		// are redacted before it leaves the relay.
		message := sanitizeError(upErr.Err)

		var netErr net.Error
		switch {
		case errors.Is(err, context.DeadlineExceeded),
			errors.As(err, &netErr) && netErr.Timeout():
			status = http.StatusGatewayTimeout
			code = "UPSTREAM_TIMEOUT"
		case errors.Is(err, context.Canceled):
			message = "client disconnected"
		}

		return c.JSON(status, errorResponse{
			Error:   code,
			Message: message,
			Method:  upErr.Method,
			URL:     sanitizeURL(upErr.URL),
		})
	}

	return c.JSON(http.StatusBadGateway, errorResponse{
		Error:   "UPSTREAM_UNREACHABLE",
		Message: "upstream request failed",
	})
}

// sanitizeError redacts credentials from error messages that may contain
// upstream URLs.
func sanitizeError(err error) string {
	return sanitizeURL(err.Error())
}

// sanitizeURL redacts query credentials and URL userinfo from s.
func sanitizeURL(s string) string {
	s = credentialQueryPattern.ReplaceAllString(s, "${1}[REDACTED]")
	return userinfoPattern.ReplaceAllString(s, "${1}[REDACTED]@")
}
