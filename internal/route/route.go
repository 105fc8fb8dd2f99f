// Package route holds the static forwarding table. Each entry binds a path
// prefix to a fixed upstream and the credentials that gate it; the table is
// built once at startup and never mutated, which is what keeps the relay from
// being an open proxy: caller input selects a route, never an upstream.
package route

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"egress-relay-go/internal/config"
)

// Route is one forwarding rule as plain data.
type Route struct {
	Name               string
	Prefix             string
	Upstream           *url.URL
	UpstreamBase       string // Upstream rendered without trailing slashes, ready for path concatenation
	Secret             string
	SecretHeader       string // canonical credential header
	LegacySecretHeader string // optional alias accepted as equally valid; empty if none
	CarrierHeader      string // optional header renamed to Authorization upstream; empty if none
	JSONFallback       bool
	AuthCode           string // stable 401 error code, derived from SecretHeader
}

// Table is an immutable, ordered set of routes.
type Table struct {
	routes []*Route
}

// NewTable builds a table directly from routes. Most callers go through
// BuildTable instead.
func NewTable(routes []*Route) *Table {
	return &Table{routes: routes}
}

// BuildTable converts validated route configuration into the runtime table.
// Header names are canonicalized and the upstream base loses any trailing
// slash so concatenation can never produce double slashes.
func BuildTable(cfg *config.Config) (*Table, error) {
	routes := make([]*Route, 0, len(cfg.Routes))
	for _, rc := range cfg.Routes {
		if rc.UpstreamBaseURL == "" {
			return nil, fmt.Errorf("route %s: upstream base URL is required", rc.Name)
		}
		u, err := url.Parse(rc.UpstreamBaseURL)
		if err != nil {
			return nil, fmt.Errorf("route %s: parse upstream base URL: %w", rc.Name, err)
		}

		secretHeader := http.CanonicalHeaderKey(rc.SecretHeader)
		if secretHeader == "" {
			secretHeader = config.DefaultSecretHeader
		}

		routes = append(routes, &Route{
			Name:               rc.Name,
			Prefix:             rc.Prefix,
			Upstream:           u,
			UpstreamBase:       strings.TrimRight(u.String(), "/"),
			Secret:             rc.Secret,
			SecretHeader:       secretHeader,
			LegacySecretHeader: http.CanonicalHeaderKey(rc.LegacySecretHeader),
			CarrierHeader:      http.CanonicalHeaderKey(rc.CarrierHeader),
			JSONFallback:       rc.JSONFallback,
			AuthCode:           AuthCode(secretHeader),
		})
	}
	return &Table{routes: routes}, nil
}

// Match returns the route with the longest prefix matching path, or nil.
// Matching is segment-aware: prefix /cd matches /cd and /cd/..., never /cdfoo.
func (t *Table) Match(path string) *Route {
	var best *Route
	for _, r := range t.routes {
		if path != r.Prefix && !strings.HasPrefix(path, r.Prefix+"/") {
			continue
		}
		if best == nil || len(r.Prefix) > len(best.Prefix) {
			best = r
		}
	}
	return best
}

// Routes returns the table entries in declaration order.
func (t *Table) Routes() []*Route {
	return t.routes
}

// AuthCode derives the stable authentication-failure code for a credential
// header name: "X-Shared-Secret" -> "INVALID_SHARED_SECRET".
func AuthCode(header string) string {
	name := strings.TrimPrefix(http.CanonicalHeaderKey(header), "X-")
	name = strings.ReplaceAll(name, "-", "_")
	return "INVALID_" + strings.ToUpper(name)
}
