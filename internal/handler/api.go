package handler

import (
	"log/slog"

	"github.com/labstack/echo/v4"

	"unimate-gateway/internal/service"
)

// APIHandler forwards /api/* requests to the same path on the backend.
type APIHandler struct {
	service *service.ForwardService
	logger  *slog.Logger
}

// NewAPIHandler creates an APIHandler.
func NewAPIHandler(svc *service.ForwardService, logger *slog.Logger) *APIHandler {
	return &APIHandler{
		service: svc,
		logger:  logger.With("component", "api_handler"),
	}
}

// Handle proxies the wildcard path. Backend error statuses pass through;
// only failures to reach or decode the backend become a 500.
func (h *APIHandler) Handle(c echo.Context) error {
	in, err := readInbound(c, c.Param("*"))
	if err != nil {
		return failRelay(c, h.logger, apiErrorMessage, err)
	}

	resp, err := h.service.ForwardPath(in)
	if err != nil {
		return failRelay(c, h.logger, apiErrorMessage, err)
	}
	return relay(c, resp)
}
