package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unimate-gateway/internal/config"
)

func newLimitedEcho() *echo.Echo {
	e := echo.New()
	// 1 request per second, burst of 1.
	e.Use(RateLimiter(config.RateLimitConfig{Enabled: true, RequestsPerSecond: 1}))
	ok := func(c echo.Context) error { return c.String(http.StatusOK, "ok") }
	e.GET("/api/index", ok)
	e.GET("/healthz", ok)
	return e
}

func TestRateLimiter_Limits(t *testing.T) {
	e := newLimitedEcho()

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/index", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code, "first request")

	got429 := false
	for i := 0; i < 10; i++ {
		rec = httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/index", http.NoBody))
		if rec.Code == http.StatusTooManyRequests {
			got429 = true
			assert.JSONEq(t, `{"error":"Too many requests"}`, rec.Body.String())
			break
		}
	}
	assert.True(t, got429, "expected at least one 429 response after burst")
}

func TestRateLimiter_SkipsHealthz(t *testing.T) {
	e := newLimitedEcho()

	for i := 0; i < 10; i++ {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody))
		assert.Equal(t, http.StatusOK, rec.Code, "healthz request %d", i)
	}
}

func TestRateLimiter_PerClient(t *testing.T) {
	e := newLimitedEcho()

	for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		req := httptest.NewRequest(http.MethodGet, "/api/index", http.NoBody)
		req.RemoteAddr = ip + ":5000"
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, "first request from %s", ip)
	}
}
