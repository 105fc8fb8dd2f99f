package handler

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"egress-relay-go/internal/client"
	"egress-relay-go/internal/config"
)

// maxIPEchoBytes bounds how much of the IP echo response is read.
const maxIPEchoBytes = 256

// EgressHandler reports which public IP outbound traffic leaves from. It is
// the end-to-end check that the static egress tunnel is actually in the path.
type EgressHandler struct {
	client *client.UpstreamClient
	cfg    *config.Config
	logger *slog.Logger
}

// NewEgressHandler creates an EgressHandler.
func NewEgressHandler(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger) *EgressHandler {
	return &EgressHandler{
		client: c,
		cfg:    cfg,
		logger: logger.With("component", "egress_handler"),
	}
}

// IP fetches the relay's public IP from the configured echo service and
// reports it together with the egress mode.
func (h *EgressHandler) IP(c echo.Context) error {
	resp, err := h.client.DoStream(c.Request().Context(), http.MethodGet, h.cfg.Egress.IPEchoURL, nil, nil)
	if err != nil {
		h.logger.Error("egress IP lookup failed", "err", sanitizeError(err))
		return c.JSON(http.StatusBadGateway, errorResponse{
			Error:   "EGRESS_CHECK_FAILED",
			Message: "could not reach the IP echo service",
		})
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return c.JSON(http.StatusBadGateway, errorResponse{
			Error:   "EGRESS_CHECK_FAILED",
			Message: fmt.Sprintf("IP echo service returned status %d", resp.StatusCode),
		})
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxIPEchoBytes))
	if err != nil {
		h.logger.Error("egress IP lookup failed", "err", err)
		return c.JSON(http.StatusBadGateway, errorResponse{
			Error:   "EGRESS_CHECK_FAILED",
			Message: "could not read the IP echo response",
		})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"ok":        true,
		"egress_ip": strings.TrimSpace(string(raw)),
		"egress":    egressMode(h.cfg),
	})
}
