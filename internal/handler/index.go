package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/labstack/echo/v4"

	"unimate-gateway/internal/model"
	"unimate-gateway/internal/service"
)

// credentialPattern matches credentials that may leak into logged error strings.
var credentialPattern = regexp.MustCompile(`(?i)((?:bearer|token|basic)\s+|token=)[^&\s"]+`)

// errorEnvelope is the fixed JSON body emitted when a relay fails.
type errorEnvelope struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

const (
	indexErrorMessage = "Proxy error"
	apiErrorMessage   = "Backend service unavailable"
)

// IndexHandler forwards the UI's index requests to the fixed backend root.
type IndexHandler struct {
	service *service.ForwardService
	logger  *slog.Logger
}

// NewIndexHandler creates an IndexHandler.
func NewIndexHandler(svc *service.ForwardService, logger *slog.Logger) *IndexHandler {
	return &IndexHandler{
		service: svc,
		logger:  logger.With("component", "index_handler"),
	}
}

// Handle relays the request and writes the backend's reply, or the
// 500 envelope if the reply could not be obtained or decoded.
func (h *IndexHandler) Handle(c echo.Context) error {
	in, err := readInbound(c, c.Request().URL.Path)
	if err != nil {
		return failRelay(c, h.logger, indexErrorMessage, err)
	}

	resp, err := h.service.ForwardIndex(in)
	if err != nil {
		return failRelay(c, h.logger, indexErrorMessage, err)
	}
	return relay(c, resp)
}

// readInbound captures the echo request as an InboundRequest. The body is
// bounded by the BodyLimit middleware.
func readInbound(c echo.Context, path string) (*model.InboundRequest, error) {
	req := c.Request()

	var body []byte
	if req.Body != nil {
		data, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		body = data
	}

	return &model.InboundRequest{
		Ctx:      req.Context(),
		Method:   req.Method,
		Path:     path,
		RawQuery: req.URL.RawQuery,
		Header:   req.Header,
		Body:     body,
	}, nil
}

// relay writes resp with the upstream status. The format follows the
// upstream Content-Type only; the caller's Accept header is not consulted.
func relay(c echo.Context, resp *model.UpstreamResponse) error {
	if resp.Payload.IsJSON() {
		return c.JSONBlob(resp.StatusCode, resp.Payload.JSON)
	}
	return c.String(resp.StatusCode, resp.Payload.Text)
}

// failRelay collapses every failure kind into one 500 envelope. The kind is
// only visible in logs.
func failRelay(c echo.Context, logger *slog.Logger, message string, err error) error {
	kind := "request"
	var fe *service.ForwardError
	if errors.As(err, &fe) {
		kind = fe.Kind.String()
	}

	logger.Error("proxy error",
		"kind", kind,
		"err", sanitizeError(err),
		"method", c.Request().Method,
		"path", c.Request().URL.Path,
	)

	return c.JSON(http.StatusInternalServerError, errorEnvelope{
		Error:   message,
		Details: err.Error(),
	})
}

// sanitizeError redacts credentials from error messages before logging.
func sanitizeError(err error) string {
	return credentialPattern.ReplaceAllString(err.Error(), "${1}[REDACTED]")
}
