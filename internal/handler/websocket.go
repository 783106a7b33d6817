package handler

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"unimate-gateway/internal/config"
	"unimate-gateway/internal/metrics"
	"unimate-gateway/internal/wsrelay"
)

// WebSocketHandler relays /ws/* sessions to the backend.
type WebSocketHandler struct {
	relay  *wsrelay.Relay
	logger *slog.Logger
}

// NewWebSocketHandler creates a WebSocketHandler, or returns nil when the
// relay is disabled in config.
func NewWebSocketHandler(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*WebSocketHandler, error) {
	if !cfg.WebSocket.IsEnabled() {
		return nil, nil
	}
	r, err := wsrelay.New(cfg, logger, m)
	if err != nil {
		return nil, err
	}
	return &WebSocketHandler{
		relay:  r,
		logger: logger.With("component", "websocket_handler"),
	}, nil
}

// Handle dials the backend first so that an unreachable backend is reported
// as a plain HTTP error instead of an immediately closed socket.
func (h *WebSocketHandler) Handle(c echo.Context) error {
	req := c.Request()

	upstream, err := h.relay.Dial(req.Context(), req)
	if err != nil {
		h.logger.Error("websocket dial failed",
			"err", sanitizeError(err),
			"path", req.URL.Path,
		)
		return c.JSON(http.StatusBadGateway, errorEnvelope{
			Error:   indexErrorMessage,
			Details: err.Error(),
		})
	}

	if err := h.relay.Serve(c.Response(), req, upstream); err != nil {
		h.logger.Warn("websocket session ended with error",
			"err", sanitizeError(err),
			"path", req.URL.Path,
		)
	}
	return nil
}
