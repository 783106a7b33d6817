package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	e := echo.New()
	e.Use(echomw.RequestID())
	e.Use(RequestLogger(logger))
	e.GET("/api/index", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/index", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	line := buf.String()
	for _, want := range []string{"level=INFO", "path=/api/index", "status=200", "request_id="} {
		if !strings.Contains(line, want) {
			t.Errorf("log line %q missing %q", line, want)
		}
	}
}

func TestRequestLogger_ErrorLevels(t *testing.T) {
	tests := []struct {
		name      string
		handler   echo.HandlerFunc
		wantCode  int
		wantLevel string
	}{
		{
			name: "relayed 500",
			handler: func(c echo.Context) error {
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Proxy error"})
			},
			wantCode:  http.StatusInternalServerError,
			wantLevel: "level=ERROR",
		},
		{
			name: "returned http error",
			handler: func(c echo.Context) error {
				return echo.NewHTTPError(http.StatusRequestEntityTooLarge)
			},
			wantCode:  http.StatusRequestEntityTooLarge,
			wantLevel: "level=WARN",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, nil))

			e := echo.New()
			e.Use(RequestLogger(logger))
			e.POST("/api/index", tt.handler)

			req := httptest.NewRequest(http.MethodPost, "/api/index", http.NoBody)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if !strings.Contains(buf.String(), tt.wantLevel) {
				t.Errorf("log %q missing %q", buf.String(), tt.wantLevel)
			}
		})
	}
}
