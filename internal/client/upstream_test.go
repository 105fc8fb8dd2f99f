package client

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"egress-relay-go/internal/config"
)

func TestUpstreamClient_DoStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	cfg := &config.Config{
		Egress: config.EgressConfig{
			TimeoutSeconds:  10,
			IdleConnections: 10,
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := NewUpstreamClient(cfg, logger, nil)
	if err != nil {
		t.Fatalf("NewUpstreamClient: %v", err)
	}
	if c.Tunneled() {
		t.Error("Tunneled() = true, want false without tunnel URL")
	}

	resp, err := c.DoStream(context.Background(), http.MethodGet, srv.URL+"/test", http.Header{}, nil)
	if err != nil {
		t.Fatalf("DoStream() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(body) != `{"status":"ok"}` {
		t.Errorf("body = %q, want %q", string(body), `{"status":"ok"}`)
	}
}

func TestUpstreamClient_DoStream_Error(t *testing.T) {
	cfg := &config.Config{
		Egress: config.EgressConfig{
			TimeoutSeconds:  1,
			IdleConnections: 10,
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := NewUpstreamClient(cfg, logger, nil)
	if err != nil {
		t.Fatalf("NewUpstreamClient: %v", err)
	}

	_, err = c.DoStream(context.Background(), http.MethodGet, "http://127.0.0.1:1/nonexistent", http.Header{}, nil)
	if err == nil {
		t.Fatal("DoStream() expected error for unreachable host, got nil")
	}
}

func TestUpstreamClient_DoStream_CanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Simulate a slow upstream; the request should be canceled before this completes.
		time.Sleep(5 * time.Second)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := &config.Config{
		Egress: config.EgressConfig{
			TimeoutSeconds:  30,
			IdleConnections: 10,
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := NewUpstreamClient(cfg, logger, nil)
	if err != nil {
		t.Fatalf("NewUpstreamClient: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	_, err = c.DoStream(ctx, http.MethodGet, srv.URL+"/slow", http.Header{}, nil)
	if err == nil {
		t.Fatal("DoStream() expected error for canceled context, got nil")
	}
}

func TestUpstreamClient_Tunnel(t *testing.T) {
	// Stand-in forward proxy: with Transport.Proxy set, plain-HTTP requests are
	// sent to the proxy with an absolute target URI, so the target host is
	// never dialed directly.
	var gotHost string
	tunnel := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHost = r.Host
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"via":"tunnel"}`))
	}))
	defer tunnel.Close()

	cfg := &config.Config{
		Egress: config.EgressConfig{
			TunnelURL:       tunnel.URL,
			TimeoutSeconds:  10,
			IdleConnections: 10,
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := NewUpstreamClient(cfg, logger, nil)
	if err != nil {
		t.Fatalf("NewUpstreamClient: %v", err)
	}
	if !c.Tunneled() {
		t.Error("Tunneled() = false, want true with tunnel URL")
	}

	// The target host does not resolve; only the tunnel can serve this.
	resp, err := c.DoStream(context.Background(), http.MethodGet, "http://upstream.internal.test/v1/ping", http.Header{}, nil)
	if err != nil {
		t.Fatalf("DoStream() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if gotHost != "upstream.internal.test" {
		t.Errorf("tunnel saw Host = %q, want %q", gotHost, "upstream.internal.test")
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"via":"tunnel"}` {
		t.Errorf("body = %q, want %q", string(body), `{"via":"tunnel"}`)
	}
}

func TestUpstreamClient_DoesNotFollowRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer srv.Close()

	cfg := &config.Config{
		Egress: config.EgressConfig{
			TimeoutSeconds:  10,
			IdleConnections: 10,
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := NewUpstreamClient(cfg, logger, nil)
	if err != nil {
		t.Fatalf("NewUpstreamClient: %v", err)
	}

	resp, err := c.DoStream(context.Background(), http.MethodGet, srv.URL+"/redirect", http.Header{}, nil)
	if err != nil {
		t.Fatalf("DoStream() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusFound {
		t.Errorf("StatusCode = %d, want %d (redirects must be relayed, not followed)", resp.StatusCode, http.StatusFound)
	}
	if loc := resp.Header.Get("Location"); loc != "/elsewhere" {
		t.Errorf("Location = %q, want %q", loc, "/elsewhere")
	}
}

func TestNewUpstreamClient_BadTunnelURL(t *testing.T) {
	cfg := &config.Config{
		Egress: config.EgressConfig{
			TunnelURL:       "://not-a-url",
			TimeoutSeconds:  10,
			IdleConnections: 10,
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := NewUpstreamClient(cfg, logger, nil); err == nil {
		t.Fatal("NewUpstreamClient() expected error for invalid tunnel URL, got nil")
	}
}
