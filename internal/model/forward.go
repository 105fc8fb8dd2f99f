// Package model defines shared types for the relay.
package model

import (
	"context"
	"io"
	"net/http"
)

// ForwardRequest describes an in-flight client request being relayed upstream.
// It exists for the duration of a single forward call and is never persisted.
type ForwardRequest struct {
	Ctx      context.Context
	Method   string
	Path     string // full inbound path in escaped form, route prefix still attached
	RawQuery string // raw query string, forwarded verbatim (never re-encoded)
	Header   http.Header
	Body     io.ReadCloser
}

// ForwardResponse carries the upstream response to be streamed back.
type ForwardResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}
