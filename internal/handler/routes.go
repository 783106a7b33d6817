package handler

import (
	"github.com/labstack/echo/v4"

	"unimate-gateway/internal/config"
)

// indexRoutes all map onto the backend root endpoint.
var indexRoutes = []string{"/api", "/api/", "/api/index"}

// RegisterRoutes wires all route handlers onto the Echo instance.
// ws may be nil when the websocket relay is disabled.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, index *IndexHandler, api *APIHandler, health *HealthHandler, site *SiteHandler, ws *WebSocketHandler) {
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)
	e.GET("/proxy/site", site.Handle)

	for _, p := range indexRoutes {
		e.Any(p, index.Handle)
	}
	e.Any("/api/*", api.Handle)

	if ws != nil {
		e.GET("/ws/*", ws.Handle)
	}

	if cfg.Static.Root != "" {
		e.Static("/", cfg.Static.Root)
	}
}
