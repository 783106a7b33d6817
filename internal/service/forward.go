// Package service implements the forwarding policy between the UI and the backend API.
package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"unimate-gateway/internal/client"
	"unimate-gateway/internal/config"
	"unimate-gateway/internal/metrics"
	"unimate-gateway/internal/model"
)

// jsonMarker is matched by substring so that parameters such as
// "; charset=utf-8" still select JSON decoding.
const jsonMarker = "application/json"

// apiPrefix is the backend path every catch-all request lands under.
const apiPrefix = "/api/"

// FailureKind classifies why a forward produced no relayable reply.
type FailureKind int

const (
	// FailureNetwork covers building, sending and reading the upstream call.
	FailureNetwork FailureKind = iota + 1
	// FailureDecode means the upstream declared JSON but sent something else.
	FailureDecode
)

func (k FailureKind) String() string {
	switch k {
	case FailureNetwork:
		return "network"
	case FailureDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// ForwardError is returned by Forward* when the upstream reply cannot be relayed.
// Upstream 4xx/5xx replies are not errors.
type ForwardError struct {
	Kind FailureKind
	Err  error
}

func (e *ForwardError) Error() string { return e.Err.Error() }

func (e *ForwardError) Unwrap() error { return e.Err }

// ForwardService forwards inbound requests to the backend API.
type ForwardService struct {
	client   *client.BackendClient
	logger   *slog.Logger
	metrics  *metrics.Metrics
	baseURL  *url.URL
	indexURL *url.URL
}

// NewForwardService creates a ForwardService targeting cfg.Upstream.
// The metrics parameter is optional.
func NewForwardService(c *client.BackendClient, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*ForwardService, error) {
	base, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base_url: %w", err)
	}
	index, err := url.Parse(cfg.Upstream.IndexURL())
	if err != nil {
		return nil, fmt.Errorf("parse upstream index url: %w", err)
	}

	return &ForwardService{
		client:   c,
		logger:   logger.With("component", "forward_service"),
		metrics:  m,
		baseURL:  base,
		indexURL: index,
	}, nil
}

// ForwardIndex relays in to the fixed index URL. Only Content-Type
// (always application/json) and a non-empty Authorization travel upstream;
// the inbound path and query are ignored.
func (s *ForwardService) ForwardIndex(in *model.InboundRequest) (*model.UpstreamResponse, error) {
	header := make(http.Header)
	header.Set("Content-Type", jsonMarker)
	copyAuthorization(header, in.Header)

	body := serializeBody(in.Method, in.Header.Get("Content-Type"), in.Body)
	return s.forward(in, s.indexURL.String(), header, body, false)
}

// ForwardPath relays in to /api/<path>/ on the backend, keeping the query.
// The inbound Content-Type is kept, defaulting to application/json, and a
// non-JSON body travels as-is. A reply declared as JSON that does not parse
// is relayed as text instead of failing.
func (s *ForwardService) ForwardPath(in *model.InboundRequest) (*model.UpstreamResponse, error) {
	header := make(http.Header)
	contentType := in.Header.Get("Content-Type")
	if contentType == "" {
		contentType = jsonMarker
	}
	header.Set("Content-Type", contentType)
	copyAuthorization(header, in.Header)

	body := passBody(in.Method, in.Body)
	return s.forward(in, s.buildPathURL(in.Path, in.RawQuery), header, body, true)
}

func (s *ForwardService) forward(in *model.InboundRequest, target string, header http.Header, body []byte, lenient bool) (*model.UpstreamResponse, error) {
	s.logger.Debug("forwarding request",
		"method", in.Method,
		"path", in.Path,
		"target", target,
	)

	resp, err := s.client.Do(in.Ctx, in.Method, target, header, body)
	if err != nil {
		return nil, s.fail(FailureNetwork, err)
	}

	out, err := decode(resp, lenient)
	if err != nil {
		return nil, s.fail(FailureDecode, err)
	}
	return out, nil
}

func (s *ForwardService) fail(kind FailureKind, err error) *ForwardError {
	s.metrics.UpstreamFailed(kind.String())
	return &ForwardError{Kind: kind, Err: err}
}

// buildPathURL appends sub under /api/ with the trailing slash the backend expects.
func (s *ForwardService) buildPathURL(sub, rawQuery string) string {
	p := apiPrefix + strings.TrimLeft(sub, "/")
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}

	u := *s.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + p
	u.RawPath = ""
	u.RawQuery = rawQuery
	return u.String()
}

// copyAuthorization forwards Authorization verbatim, never synthesizing one.
func copyAuthorization(dst, src http.Header) {
	if auth := src.Get("Authorization"); auth != "" {
		dst.Set("Authorization", auth)
	}
}

// serializeBody returns the JSON document sent to the index endpoint, or nil
// for no body. GET and HEAD bodies are dropped. Valid JSON is re-encoded
// compactly and any other text is sent as a JSON string. An empty body
// declared as JSON becomes an empty object.
func serializeBody(method, contentType string, body []byte) []byte {
	if !model.BodyAllowed(method) {
		return nil
	}
	if len(body) == 0 {
		if strings.Contains(contentType, jsonMarker) {
			return []byte("{}")
		}
		return nil
	}
	if compact, ok := compactJSON(body); ok {
		return compact
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(string(body))
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
}

// passBody is serializeBody for bodies whose Content-Type is forwarded:
// non-JSON payloads such as form posts are sent untouched.
func passBody(method string, body []byte) []byte {
	if !model.BodyAllowed(method) || len(body) == 0 {
		return nil
	}
	if compact, ok := compactJSON(body); ok {
		return compact
	}
	return body
}

func compactJSON(body []byte) ([]byte, bool) {
	if !json.Valid(body) {
		return nil, false
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, body); err != nil {
		return nil, false
	}
	return buf.Bytes(), true
}

// decode selects structured or text payload from the upstream Content-Type.
// A JSON string value is unwrapped into text. With lenient set, a body that
// claims JSON but does not parse is kept as text.
func decode(resp *client.Response, lenient bool) (*model.UpstreamResponse, error) {
	contentType := resp.Header.Get("Content-Type")
	out := &model.UpstreamResponse{
		StatusCode:  resp.StatusCode,
		ContentType: contentType,
	}

	if !strings.Contains(contentType, jsonMarker) {
		out.Payload.Text = string(resp.Body)
		return out, nil
	}

	var raw json.RawMessage
	if err := json.Unmarshal(resp.Body, &raw); err != nil {
		if lenient {
			out.Payload.Text = string(resp.Body)
			return out, nil
		}
		return nil, fmt.Errorf("decode upstream json: %w", err)
	}

	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return nil, fmt.Errorf("decode upstream json string: %w", err)
		}
		out.Payload.Text = text
		return out, nil
	}

	out.Payload.JSON = raw
	return out, nil
}
