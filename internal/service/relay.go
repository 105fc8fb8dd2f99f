// Package service implements the core relay forwarding logic.
package service

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"egress-relay-go/internal/client"
	"egress-relay-go/internal/model"
	"egress-relay-go/internal/route"
)

// AuthError is returned when the inbound credential is missing or does not
// match the route's shared secret. It carries the route's stable error code
// and nothing about the expected value.
type AuthError struct {
	Code string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("credential rejected (%s)", e.Code)
}

// ConfigError is returned when a route reaches the forwarding path without a
// usable configuration value. The relay fails closed rather than forwarding
// unauthenticated traffic.
type ConfigError struct {
	Route string
	Field string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("route %q: %s is not configured", e.Route, e.Field)
}

// UpstreamError wraps a transport-level failure reaching the upstream. Method
// and URL identify the attempted request for diagnostics; the URL never
// contains credentials.
type UpstreamError struct {
	Method string
	URL    string
	Err    error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// droppedRequestHeaders are never forwarded upstream: hop-by-hop headers plus
// fields the outbound transport manages itself.
var droppedRequestHeaders = []string{
	"Host",
	"Connection",
	"Content-Length",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// relayableResponseHeaders are the only upstream response headers relayed
// back to the caller: the body-describing set, caching validators, and the
// headers that give relayed 3xx/401/429 statuses their meaning. Keys are in
// net/http canonical form.
var relayableResponseHeaders = map[string]bool{
	"Content-Type":     true,
	"Content-Length":   true,
	"Content-Encoding": true,
	"Cache-Control":    true,
	"Date":             true,
	"Etag":             true,
	"Last-Modified":    true,
	"Location":         true,
	"Retry-After":      true,
	"Www-Authenticate": true,
}

// RelayService handles the forwarding logic for relay requests.
type RelayService struct {
	client *client.UpstreamClient
	logger *slog.Logger
}

// NewRelayService creates a RelayService.
func NewRelayService(c *client.UpstreamClient, logger *slog.Logger) *RelayService {
	return &RelayService{
		client: c,
		logger: logger.With("component", "relay_service"),
	}
}

// Forward sends a ForwardRequest to the route's upstream and returns the
// response. The caller is responsible for closing the response body.
//
// The inbound credential is checked before anything leaves the relay: on a
// missing or mismatched secret no upstream request is made and an AuthError
// is returned. Non-2xx upstream statuses are not errors; they are relayed to
// the caller as-is.
func (s *RelayService) Forward(r *route.Route, fr *model.ForwardRequest) (*model.ForwardResponse, error) {
	if r.Secret == "" {
		return nil, &ConfigError{Route: r.Name, Field: "shared secret"}
	}
	if r.UpstreamBase == "" {
		return nil, &ConfigError{Route: r.Name, Field: "upstream base URL"}
	}

	if suppliedSecret(r, fr.Header) != r.Secret {
		return nil, &AuthError{Code: r.AuthCode}
	}

	upstreamURL := buildUpstreamURL(r, fr.Path, fr.RawQuery)
	header := forwardHeaders(r, fr.Header)

	// GET and HEAD requests are forwarded without a body.
	var body io.Reader
	if fr.Method != http.MethodGet && fr.Method != http.MethodHead {
		body = fr.Body
	}

	s.logger.Debug("forwarding request",
		"route", r.Name,
		"method", fr.Method,
		"path", fr.Path,
	)

	resp, err := s.client.DoStream(fr.Ctx, fr.Method, upstreamURL, header, body)
	if err != nil {
		return nil, &UpstreamError{Method: fr.Method, URL: upstreamURL, Err: err}
	}

	resp.Header = relayResponseHeaders(r, resp.Header)
	return resp, nil
}

// suppliedSecret returns the credential from the route's secret header,
// falling back to the legacy header when one is configured.
func suppliedSecret(r *route.Route, header http.Header) string {
	if v := header.Get(r.SecretHeader); v != "" {
		return v
	}
	if r.LegacySecretHeader != "" {
		return header.Get(r.LegacySecretHeader)
	}
	return ""
}

// buildUpstreamURL strips the route prefix from the inbound path and appends
// the remainder, plus the raw query string exactly as received, to the
// upstream base. The path arrives in escaped form and is appended without
// re-encoding, so percent-encoded segments reach the upstream byte-identical.
// A path that does not carry the prefix is appended whole.
func buildUpstreamURL(r *route.Route, path, rawQuery string) string {
	remainder := path
	switch {
	case path == r.Prefix:
		remainder = ""
	case strings.HasPrefix(path, r.Prefix+"/"):
		remainder = path[len(r.Prefix):]
	}

	u := r.UpstreamBase + remainder
	if rawQuery != "" {
		u += "?" + rawQuery
	}
	return u
}

// forwardHeaders copies the inbound headers minus hop-by-hop fields and the
// route's credential headers. When the route names a carrier header, its
// value is renamed into Authorization unless the caller already sent one; the
// carrier header itself never goes upstream under its own name.
func forwardHeaders(r *route.Route, src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for key, vals := range src {
		dst[http.CanonicalHeaderKey(key)] = append([]string(nil), vals...)
	}

	for _, key := range droppedRequestHeaders {
		dst.Del(key)
	}
	dst.Del(r.SecretHeader)
	if r.LegacySecretHeader != "" {
		dst.Del(r.LegacySecretHeader)
	}

	if r.CarrierHeader != "" {
		if v := dst.Get(r.CarrierHeader); v != "" && dst.Get("Authorization") == "" {
			dst.Set("Authorization", v)
		}
		dst.Del(r.CarrierHeader)
	}

	return dst
}

// relayResponseHeaders keeps only the allowlisted upstream response headers.
// Routes marked json_fallback get a Content-Type of application/json when
// the upstream omitted one.
func relayResponseHeaders(r *route.Route, src http.Header) http.Header {
	dst := make(http.Header)
	for key, vals := range src {
		if relayableResponseHeaders[http.CanonicalHeaderKey(key)] {
			dst[key] = vals
		}
	}

	if r.JSONFallback && dst.Get("Content-Type") == "" {
		dst.Set("Content-Type", "application/json")
	}

	return dst
}
