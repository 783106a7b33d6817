package handler

import (
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"unimate-gateway/internal/config"
)

type siteWebSocket struct {
	URL                  string `json:"url,omitempty"`
	ReconnectIntervalMS  int    `json:"reconnect_interval_ms"`
	MaxReconnectAttempts int    `json:"max_reconnect_attempts"`
}

type siteConfig struct {
	KioskID   string        `json:"kiosk_id"`
	Location  string        `json:"location"`
	WebSocket siteWebSocket `json:"websocket"`
}

// SiteHandler serves the kiosk settings the UI reads at startup.
type SiteHandler struct {
	site siteConfig
}

// NewSiteHandler creates a SiteHandler. The websocket URL points at the
// gateway's own /ws relay; browsers never see the backend address. It is
// left out when there is no kiosk id to address or the relay is disabled.
func NewSiteHandler(cfg *config.Config) *SiteHandler {
	ws := siteWebSocket{
		ReconnectIntervalMS:  cfg.Kiosk.ReconnectIntervalMS,
		MaxReconnectAttempts: cfg.Kiosk.MaxReconnectAttempts,
	}
	if cfg.Kiosk.ID != "" && cfg.WebSocket.IsEnabled() {
		ws.URL = "/ws/kiosk/" + url.PathEscape(cfg.Kiosk.ID) + "/"
	}
	return &SiteHandler{site: siteConfig{
		KioskID:   cfg.Kiosk.ID,
		Location:  cfg.Kiosk.Location,
		WebSocket: ws,
	}}
}

// Handle returns the kiosk settings as JSON.
func (h *SiteHandler) Handle(c echo.Context) error {
	return c.JSON(http.StatusOK, h.site)
}
