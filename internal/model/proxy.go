// Package model defines the transient request/response types of a proxied call.
package model

import (
	"context"
	"encoding/json"
	"net/http"
)

// InboundRequest is a browser request about to be forwarded upstream.
// Body holds whatever the client sent; BodyAllowed decides whether it travels.
type InboundRequest struct {
	Ctx      context.Context
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
	Body     []byte
}

// BodyAllowed reports whether the request body is forwarded for method.
// GET and HEAD never carry a body upstream.
func BodyAllowed(method string) bool {
	return method != http.MethodGet && method != http.MethodHead
}

// Payload is a decoded upstream body: either structured JSON or opaque text.
type Payload struct {
	JSON json.RawMessage
	Text string
}

// IsJSON reports whether the payload holds a structured value.
func (p Payload) IsJSON() bool {
	return p.JSON != nil
}

// UpstreamResponse is the single reply produced for an InboundRequest.
type UpstreamResponse struct {
	StatusCode  int
	ContentType string
	Payload     Payload
}
