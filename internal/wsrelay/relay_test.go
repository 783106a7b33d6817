package wsrelay

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unimate-gateway/internal/config"
	"unimate-gateway/internal/metrics"
)

// newEchoBackend answers every message with "<path>: <message>".
func newEchoBackend(t *testing.T, seenAuth chan<- string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if seenAuth != nil {
			seenAuth <- r.Header.Get("Authorization")
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			reply := r.URL.Path + "?" + r.URL.RawQuery + ": " + string(data)
			if err := conn.WriteMessage(mt, []byte(reply)); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// newGateway serves the relay the way the websocket handler does.
func newGateway(t *testing.T, upstreamURL string, m *metrics.Metrics) *httptest.Server {
	t.Helper()
	cfg := &config.Config{WebSocket: config.WebSocketConfig{UpstreamURL: upstreamURL}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r, err := New(cfg, logger, m)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		up, err := r.Dial(req.Context(), req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		_ = r.Serve(w, req, up)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestRelay_RoundTrip(t *testing.T) {
	seenAuth := make(chan string, 1)
	backend := newEchoBackend(t, seenAuth)
	m := metrics.New()
	gw := newGateway(t, wsURL(backend.URL), m)

	header := http.Header{"Authorization": {"Bearer kiosk-token"}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(gw.URL)+"/ws/kiosk/kiosk-001/?v=2", header)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	assert.Equal(t, "Bearer kiosk-token", <-seenAuth)

	msgs := []struct {
		mt   int
		data string
	}{
		{websocket.TextMessage, `{"type":"register_kiosk","kiosk_id":"kiosk-001"}`},
		{websocket.BinaryMessage, "\x00\x01\x02"},
	}
	for _, msg := range msgs {
		require.NoError(t, conn.WriteMessage(msg.mt, []byte(msg.data)))

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		mt, data, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, msg.mt, mt)
		assert.Equal(t, "/ws/kiosk/kiosk-001/?v=2: "+msg.data, string(data))
	}

	families, err := m.Registry.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == "unimate_gateway_websocket_sessions" {
			assert.Equal(t, float64(1), f.GetMetric()[0].GetGauge().GetValue())
		}
	}
}

func TestRelay_ClientCloseEndsBackendSession(t *testing.T) {
	backendDone := make(chan struct{})
	upgrader := websocket.Upgrader{}
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer close(backendDone)
		defer func() { _ = conn.Close() }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer backend.Close()

	gw := newGateway(t, wsURL(backend.URL), nil)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(gw.URL)+"/ws/unimate/", nil)
	require.NoError(t, err)

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, msg))
	_ = conn.Close()

	select {
	case <-backendDone:
	case <-time.After(5 * time.Second):
		t.Fatal("backend session still open after client close")
	}
}

func TestRelay_DialFailure(t *testing.T) {
	backend := httptest.NewServer(http.NotFoundHandler())
	addr := wsURL(backend.URL)
	backend.Close()

	gw := newGateway(t, addr, nil)
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(gw.URL)+"/ws/kiosk/x/", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestRelay_BackendRejectsHandshake(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer backend.Close()

	cfg := &config.Config{WebSocket: config.WebSocketConfig{UpstreamURL: wsURL(backend.URL)}}
	r, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/ws/kiosk/x/", http.NoBody)
	_, err = r.Dial(req.Context(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 403")
}

func TestIsNormalClose(t *testing.T) {
	assert.True(t, isNormalClose(nil))
	assert.True(t, isNormalClose(&websocket.CloseError{Code: websocket.CloseNormalClosure}))
	assert.True(t, isNormalClose(&websocket.CloseError{Code: websocket.CloseGoingAway}))
	assert.False(t, isNormalClose(&websocket.CloseError{Code: websocket.CloseInternalServerErr}))
	assert.False(t, isNormalClose(io.ErrUnexpectedEOF))
}
