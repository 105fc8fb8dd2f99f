package route

import (
	"testing"

	"egress-relay-go/internal/config"
)

func TestBuildTable(t *testing.T) {
	cfg := &config.Config{
		Routes: []config.RouteConfig{
			{
				Name:            "partner",
				Prefix:          "/partner",
				UpstreamBaseURL: "https://partner.example.com/",
				Secret:          "s1",
			},
			{
				Name:               "cd",
				Prefix:             "/cd",
				UpstreamBaseURL:    "https://papi.example.test",
				Secret:             "s2",
				SecretHeader:       "x-shared-secret",
				LegacySecretHeader: "x-proxy-api-key",
				CarrierHeader:      "x-cd-authorization",
				JSONFallback:       true,
			},
		},
	}

	table, err := BuildTable(cfg)
	if err != nil {
		t.Fatalf("BuildTable() error = %v", err)
	}
	routes := table.Routes()
	if len(routes) != 2 {
		t.Fatalf("len(routes) = %d, want 2", len(routes))
	}

	partner := routes[0]
	if partner.UpstreamBase != "https://partner.example.com" {
		t.Errorf("UpstreamBase = %q, want trailing slash trimmed", partner.UpstreamBase)
	}
	if partner.SecretHeader != config.DefaultSecretHeader {
		t.Errorf("SecretHeader = %q, want default %q", partner.SecretHeader, config.DefaultSecretHeader)
	}
	if partner.AuthCode != "INVALID_PROXY_API_KEY" {
		t.Errorf("AuthCode = %q, want %q", partner.AuthCode, "INVALID_PROXY_API_KEY")
	}

	cd := routes[1]
	if cd.SecretHeader != "X-Shared-Secret" {
		t.Errorf("SecretHeader = %q, want canonicalized %q", cd.SecretHeader, "X-Shared-Secret")
	}
	if cd.LegacySecretHeader != "X-Proxy-Api-Key" {
		t.Errorf("LegacySecretHeader = %q, want %q", cd.LegacySecretHeader, "X-Proxy-Api-Key")
	}
	if cd.CarrierHeader != "X-Cd-Authorization" {
		t.Errorf("CarrierHeader = %q, want %q", cd.CarrierHeader, "X-Cd-Authorization")
	}
	if cd.AuthCode != "INVALID_SHARED_SECRET" {
		t.Errorf("AuthCode = %q, want %q", cd.AuthCode, "INVALID_SHARED_SECRET")
	}
}

func TestBuildTable_BadUpstream(t *testing.T) {
	cfg := &config.Config{
		Routes: []config.RouteConfig{
			{Name: "bad", Prefix: "/bad", UpstreamBaseURL: "://not-a-url", Secret: "s"},
		},
	}
	if _, err := BuildTable(cfg); err == nil {
		t.Fatal("BuildTable() expected error for invalid upstream URL, got nil")
	}
}

func TestBuildTable_MissingUpstream(t *testing.T) {
	cfg := &config.Config{
		Routes: []config.RouteConfig{
			{Name: "bad", Prefix: "/bad", Secret: "s"},
		},
	}
	if _, err := BuildTable(cfg); err == nil {
		t.Fatal("BuildTable() expected error for missing upstream URL, got nil")
	}
}

func TestTable_Match(t *testing.T) {
	cfg := &config.Config{
		Routes: []config.RouteConfig{
			{Name: "cd", Prefix: "/cd", UpstreamBaseURL: "https://papi.example.test", Secret: "s"},
			{Name: "cd-admin", Prefix: "/cd/admin", UpstreamBaseURL: "https://admin.example.test", Secret: "s"},
			{Name: "partner", Prefix: "/partner", UpstreamBaseURL: "https://partner.example.com", Secret: "s"},
		},
	}
	table, err := BuildTable(cfg)
	if err != nil {
		t.Fatalf("BuildTable() error = %v", err)
	}

	tests := []struct {
		name string
		path string
		want string // route name; "" means no match
	}{
		{"exact prefix", "/cd", "cd"},
		{"sub-path", "/cd/v1/customers/abc-123", "cd"},
		{"longest prefix wins", "/cd/admin/v1/x", "cd-admin"},
		{"nested exact", "/cd/admin", "cd-admin"},
		{"prefix is not a substring match", "/cdfoo/v1", ""},
		{"second route", "/partner/v2/loans", "partner"},
		{"root", "/", ""},
		{"unknown", "/unknown/path", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := table.Match(tt.path)
			if tt.want == "" {
				if got != nil {
					t.Errorf("Match(%q) = %q, want no match", tt.path, got.Name)
				}
				return
			}
			if got == nil {
				t.Fatalf("Match(%q) = nil, want %q", tt.path, tt.want)
			}
			if got.Name != tt.want {
				t.Errorf("Match(%q) = %q, want %q", tt.path, got.Name, tt.want)
			}
		})
	}
}

func TestAuthCode(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"X-Shared-Secret", "INVALID_SHARED_SECRET"},
		{"X-Proxy-Api-Key", "INVALID_PROXY_API_KEY"},
		{"x-shared-secret", "INVALID_SHARED_SECRET"},
		{"Authorization", "INVALID_AUTHORIZATION"},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			if got := AuthCode(tt.header); got != tt.want {
				t.Errorf("AuthCode(%q) = %q, want %q", tt.header, got, tt.want)
			}
		})
	}
}
