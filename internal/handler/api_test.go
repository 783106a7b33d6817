package handler

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAPIHandler(t *testing.T, baseURL string) *APIHandler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewAPIHandler(newTestForwardService(t, testConfig(baseURL)), logger)
}

func TestAPIHandler_Handle(t *testing.T) {
	seen := make(chan *http.Request, 1)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Clone(r.Context())
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":1,"title":"COMP1511 Lecture"}]`))
	}))
	defer upstream.Close()

	e := echo.New()
	e.Any("/api/*", newTestAPIHandler(t, upstream.URL).Handle)

	req := httptest.NewRequest(http.MethodGet, "/api/events/today?user=alice", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	got := <-seen
	assert.Equal(t, "/api/events/today/", got.URL.Path)
	assert.Equal(t, "user=alice", got.URL.RawQuery)
	assert.Equal(t, "application/json", got.Header.Get("Content-Type"))
	assert.JSONEq(t, `[{"id":1,"title":"COMP1511 Lecture"}]`, rec.Body.String())
}

func TestAPIHandler_Handle_PassesBackendErrors(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, `{"username":"alice","password":"wrong"}`, string(body))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"Invalid credentials"}`))
	}))
	defer upstream.Close()

	e := echo.New()
	e.Any("/api/*", newTestAPIHandler(t, upstream.URL).Handle)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login/", strings.NewReader(`{"username": "alice", "password": "wrong"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"detail":"Invalid credentials"}`, rec.Body.String())
}

func TestAPIHandler_Handle_BackendUnavailable(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	addr := upstream.URL
	upstream.Close()

	e := echo.New()
	e.Any("/api/*", newTestAPIHandler(t, addr).Handle)

	req := httptest.NewRequest(http.MethodGet, "/api/users/me", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, "Backend service unavailable", env.Error)
	assert.Contains(t, env.Details, "connection refused")
}

func TestAPIHandler_Handle_MalformedJSONRelayedAsText(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("<h1>Server Error (500)</h1>"))
	}))
	defer upstream.Close()

	e := echo.New()
	e.Any("/api/*", newTestAPIHandler(t, upstream.URL).Handle)

	req := httptest.NewRequest(http.MethodGet, "/api/events/", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "<h1>Server Error (500)</h1>", rec.Body.String())
	assert.True(t, strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), echo.MIMETextPlain))
}
