// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/egress-relay/config.toml",
	"configs/config.toml",
}

// StaticPaths are endpoints served by the relay itself; route prefixes must not
// claim them.
var StaticPaths = []string{"/healthz", "/relay/status", "/egress/ip"}

// DefaultSecretHeader is the credential header assumed when a route does not
// name one.
const DefaultSecretHeader = "X-Proxy-Api-Key"

// defaultMetricsPath is the exposition endpoint used when [metrics] is
// enabled without naming one.
const defaultMetricsPath = "/metrics"

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config    string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host      string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port      int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	TunnelURL string `kong:"help='Egress tunnel URL for all outbound calls (overrides config).',env='EGRESS_TUNNEL_URL'"`
	LogLevel  string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Routes  []RouteConfig `toml:"routes"`
	Egress  EgressConfig  `toml:"egress"`
	CORS    CORSConfig    `toml:"cors"`
	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8000); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// RouteConfig declares one forwarding route: inbound requests under Prefix are
// authenticated against Secret and relayed to UpstreamBaseURL. The upstream is
// fixed per route; nothing in a request can redirect it elsewhere.
type RouteConfig struct {
	Name               string `toml:"name"`
	Prefix             string `toml:"prefix"`
	UpstreamBaseURL    string `toml:"upstream_base_url"`
	Secret             string `toml:"secret"`
	SecretHeader       string `toml:"secret_header"`        // defaults to X-Proxy-Api-Key
	LegacySecretHeader string `toml:"legacy_secret_header"` // optional second header accepted as equally valid
	CarrierHeader      string `toml:"carrier_header"`       // optional header promoted to Authorization upstream
	JSONFallback       bool   `toml:"json_fallback"`        // reply application/json when the upstream omits Content-Type
}

// EgressConfig holds outbound connection settings, including the optional
// static-IP tunnel every upstream call is routed through when set.
type EgressConfig struct {
	TunnelURL       string `toml:"tunnel_url"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	IdleConnections int    `toml:"idle_connections"`
	IPEchoURL       string `toml:"ip_echo_url"`
}

// CORSConfig restricts which browser origins may call the relay. An empty list
// means permissive CORS.
type CORSConfig struct {
	AllowedOrigins []string `toml:"allowed_origins"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file and applies CLI and environment overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/egress-relay/config.toml then configs/config.toml.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file found (searched %v)", configSearchPaths)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.filePath = path
	cfg.applyCLI(cli)
	cfg.applyEnvSecrets()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.TunnelURL != "" {
		c.Egress.TunnelURL = cli.TunnelURL
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

// applyEnvSecrets overrides each route's secret with RELAY_SECRET_<NAME> when
// set, so secrets can stay out of the config file entirely.
func (c *Config) applyEnvSecrets() {
	for i := range c.Routes {
		if v := os.Getenv(SecretEnvVar(c.Routes[i].Name)); v != "" {
			c.Routes[i].Secret = v
		}
	}
}

// SecretEnvVar returns the environment variable holding the secret for the
// named route, e.g. "cd" -> "RELAY_SECRET_CD".
func SecretEnvVar(routeName string) string {
	return "RELAY_SECRET_" + strings.ToUpper(strings.ReplaceAll(routeName, "-", "_"))
}

func (c *Config) validate() error {
	if len(c.Routes) == 0 {
		return fmt.Errorf("at least one [[routes]] entry is required")
	}

	names := make(map[string]bool, len(c.Routes))
	prefixes := make(map[string]bool, len(c.Routes))
	for i, r := range c.Routes {
		if r.Name == "" {
			return fmt.Errorf("routes[%d]: name is required", i)
		}
		if names[r.Name] {
			return fmt.Errorf("routes[%d]: duplicate name %q", i, r.Name)
		}
		names[r.Name] = true

		if r.Prefix == "" {
			return fmt.Errorf("routes[%d] (%s): prefix is required", i, r.Name)
		}
		if r.Prefix[0] != '/' || r.Prefix == "/" {
			return fmt.Errorf("routes[%d] (%s): prefix must start with '/' and not be the root; got %q", i, r.Name, r.Prefix)
		}
		if strings.HasSuffix(r.Prefix, "/") {
			return fmt.Errorf("routes[%d] (%s): prefix must not end with '/'; got %q", i, r.Name, r.Prefix)
		}
		if prefixes[r.Prefix] {
			return fmt.Errorf("routes[%d] (%s): duplicate prefix %q", i, r.Name, r.Prefix)
		}
		prefixes[r.Prefix] = true
		for _, reserved := range StaticPaths {
			if r.Prefix == reserved || strings.HasPrefix(reserved, r.Prefix+"/") {
				return fmt.Errorf("routes[%d] (%s): prefix %q shadows reserved path %q", i, r.Name, r.Prefix, reserved)
			}
		}

		if r.UpstreamBaseURL == "" {
			return fmt.Errorf("routes[%d] (%s): upstream_base_url is required", i, r.Name)
		}
		u, err := url.Parse(r.UpstreamBaseURL)
		if err != nil {
			return fmt.Errorf("routes[%d] (%s): upstream_base_url is not a valid URL: %w", i, r.Name, err)
		}
		if u.Scheme != "https" {
			return fmt.Errorf("routes[%d] (%s): upstream_base_url must use HTTPS; got %q", i, r.Name, r.UpstreamBaseURL)
		}
		// The inbound remainder is concatenated onto the base, so a query or
		// fragment in the base would end up in the middle of the final URL.
		if u.ForceQuery || u.RawQuery != "" || u.Fragment != "" {
			return fmt.Errorf("routes[%d] (%s): upstream_base_url must not carry a query or fragment; got %q", i, r.Name, u.Redacted())
		}

		// Fail closed: an unset secret is a configuration error, never an
		// auth bypass.
		if r.Secret == "" {
			return fmt.Errorf("routes[%d] (%s): secret is required (set it in the config file or via %s)", i, r.Name, SecretEnvVar(r.Name))
		}

		canonical := http.CanonicalHeaderKey(r.SecretHeader)
		if canonical == "" {
			canonical = DefaultSecretHeader
		}
		legacy := http.CanonicalHeaderKey(r.LegacySecretHeader)
		if legacy != "" && legacy == canonical {
			return fmt.Errorf("routes[%d] (%s): legacy_secret_header must differ from secret_header %q", i, r.Name, canonical)
		}
		if carrier := http.CanonicalHeaderKey(r.CarrierHeader); carrier != "" && (carrier == canonical || carrier == legacy) {
			return fmt.Errorf("routes[%d] (%s): carrier_header %q must not reuse a credential header", i, r.Name, carrier)
		}
	}

	// Egress URLs.
	if c.Egress.TunnelURL != "" {
		u, err := url.Parse(c.Egress.TunnelURL)
		if err != nil {
			return fmt.Errorf("egress.tunnel_url is not a valid URL: %w", err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("egress.tunnel_url must be an http(s) URL with a host; got %q", u.Redacted())
		}
	}
	if c.Egress.IPEchoURL != "" {
		u, err := url.Parse(c.Egress.IPEchoURL)
		if err != nil {
			return fmt.Errorf("egress.ip_echo_url is not a valid URL: %w", err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("egress.ip_echo_url must be an http(s) URL with a host; got %q", u.Redacted())
		}
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Egress.TimeoutSeconds < 0 {
		return fmt.Errorf("egress.timeout_seconds must be non-negative; got %d", c.Egress.TimeoutSeconds)
	}
	if c.Egress.IdleConnections < 0 {
		return fmt.Errorf("egress.idle_connections must be non-negative; got %d", c.Egress.IdleConnections)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled). The check runs
	// against the effective path: defaults apply after validation, and the
	// defaulted path must not collide with a route either.
	if c.Metrics.Enabled {
		p := c.Metrics.Path
		if p == "" {
			p = defaultMetricsPath
		}
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		reserved := append([]string{}, StaticPaths...)
		for _, r := range c.Routes {
			reserved = append(reserved, r.Prefix)
		}
		for _, res := range reserved {
			if p == res || strings.HasPrefix(p, res+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, res)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key. Setting port=0 in
// the config file therefore results in the default port (8000).
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Egress.TimeoutSeconds == 0 {
		c.Egress.TimeoutSeconds = 30
	}
	if c.Egress.IdleConnections == 0 {
		c.Egress.IdleConnections = 100
	}
	if c.Egress.IPEchoURL == "" {
		c.Egress.IPEchoURL = "https://api.ipify.org"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = defaultMetricsPath
	}
	for i := range c.Routes {
		r := &c.Routes[i]
		if r.SecretHeader == "" {
			r.SecretHeader = DefaultSecretHeader
		}
		r.SecretHeader = http.CanonicalHeaderKey(r.SecretHeader)
		r.LegacySecretHeader = http.CanonicalHeaderKey(r.LegacySecretHeader)
		r.CarrierHeader = http.CanonicalHeaderKey(r.CarrierHeader)
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Tunneled reports whether outbound calls are routed through the egress tunnel.
func (c *EgressConfig) Tunneled() bool {
	return c.TunnelURL != ""
}

// WarnPermissions logs a warning if the config file is readable by group or
// others. The file holds route secrets, so 0600 is the sane mode.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
