package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	e := echo.New()
	e.Use(RequestLogger(logger, testTable(t)))
	e.GET("/cd/v1/test", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/cd/v1/test?token=query-credential", http.NoBody)
	req.Header.Set("X-Shared-Secret", "header-credential")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	out := buf.String()
	if !strings.Contains(out, "route=cd") {
		t.Errorf("log line missing route name: %s", out)
	}
	if !strings.Contains(out, "path=/cd/v1/test") {
		t.Errorf("log line missing path: %s", out)
	}
	if strings.Contains(out, "header-credential") || strings.Contains(out, "query-credential") {
		t.Errorf("log line leaked a credential: %s", out)
	}
}

func TestRequestLogger_UnmatchedPath(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	e := echo.New()
	e.Use(RequestLogger(logger, testTable(t)))
	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if out := buf.String(); strings.Contains(out, "route=") {
		t.Errorf("unmatched path should not carry a route attribute: %s", out)
	}
}
