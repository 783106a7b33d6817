// Package wsrelay relays websocket sessions between browsers and the backend.
//
// A session is one upstream dial plus one client upgrade. Messages are copied
// in both directions with their original type until either side closes;
// then both connections are closed. Reconnecting is left to the client.
package wsrelay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"unimate-gateway/internal/config"
	"unimate-gateway/internal/metrics"
)

// forwardedHeaders are the only handshake headers passed to the backend.
var forwardedHeaders = []string{"Authorization", "Cookie"}

// Relay dials the backend websocket and pipes a client session through it.
type Relay struct {
	target   *url.URL
	dialer   *websocket.Dialer
	upgrader websocket.Upgrader
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// New creates a Relay targeting cfg.WebSocket.UpstreamURL.
// The metrics parameter is optional.
func New(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*Relay, error) {
	u, err := url.Parse(cfg.WebSocket.UpstreamURL)
	if err != nil {
		return nil, fmt.Errorf("parse websocket upstream_url: %w", err)
	}

	return &Relay{
		target: u,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 30 * time.Second,
		},
		logger:  logger.With("component", "ws_relay"),
		metrics: m,
	}, nil
}

// Dial opens the backend side of a session for req, keeping its path and query.
func (r *Relay) Dial(ctx context.Context, req *http.Request) (*websocket.Conn, error) {
	u := *r.target
	u.Path = req.URL.Path
	u.RawQuery = req.URL.RawQuery

	header := make(http.Header)
	for _, key := range forwardedHeaders {
		if vals := req.Header.Values(key); len(vals) > 0 {
			header[key] = vals
		}
	}

	conn, resp, err := r.dialer.DialContext(ctx, u.String(), header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", u.Redacted(), err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}
	return conn, nil
}

// Serve upgrades the client connection and relays until either side ends.
// It always closes upstream. The returned error is the one that ended the
// session; a normal close returns nil.
func (r *Relay) Serve(w http.ResponseWriter, req *http.Request, upstream *websocket.Conn) error {
	client, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		_ = upstream.Close()
		return fmt.Errorf("upgrade client: %w", err)
	}

	defer r.metrics.SessionOpened()()
	r.logger.Debug("session started", "path", req.URL.Path)

	errc := make(chan error, 2)
	go pipe(upstream, client, errc)
	go pipe(client, upstream, errc)

	err = <-errc
	_ = client.Close()
	_ = upstream.Close()
	<-errc

	r.logger.Debug("session ended", "path", req.URL.Path, "err", err)
	if isNormalClose(err) {
		return nil
	}
	return err
}

// pipe copies messages from src to dst. Each connection has exactly one
// writer: the pipe that targets it.
func pipe(dst, src *websocket.Conn, errc chan<- error) {
	for {
		mt, data, err := src.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				msg := websocket.FormatCloseMessage(ce.Code, ce.Text)
				_ = dst.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			}
			errc <- err
			return
		}
		if err := dst.WriteMessage(mt, data); err != nil {
			errc <- err
			return
		}
	}
}

func isNormalClose(err error) bool {
	return err == nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived)
}
