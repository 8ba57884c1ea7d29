package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func securityRouter(opts SecurityOptions) *gin.Engine {
	r := gin.New()
	r.Use(SecurityHeaders(opts))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestSecurityHeaders_PolicySet(t *testing.T) {
	r := securityRouter(SecurityOptions{EnablePolicy: true})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	h := w.Header()
	if h.Get("X-Content-Type-Options") != "nosniff" ||
		h.Get("X-Frame-Options") != "DENY" ||
		h.Get("Referrer-Policy") != "no-referrer" {
		t.Fatalf("policy headers missing: %+v", h)
	}
	if !strings.Contains(h.Get("Content-Security-Policy"), "default-src 'none'") {
		t.Fatalf("unexpected CSP: %q", h.Get("Content-Security-Policy"))
	}
}

func TestSecurityHeaders_NoStore(t *testing.T) {
	r := securityRouter(SecurityOptions{NoStore: true})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("expected no-store")
	}
}

func TestSecurityHeaders_HSTSOnlyOverHTTPS(t *testing.T) {
	opts := SecurityOptions{EnableHSTS: true, HSTSMaxAge: 24 * time.Hour}
	r := securityRouter(opts)

	// plain HTTP: no HSTS
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Header().Get("Strict-Transport-Security") != "" {
		t.Fatalf("HSTS must not be sent over plain HTTP")
	}

	// proxied HTTPS
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	got := w.Header().Get("Strict-Transport-Security")
	if !strings.Contains(got, "max-age=86400") || !strings.Contains(got, "includeSubDomains") {
		t.Fatalf("unexpected HSTS header %q", got)
	}
}

func TestSecurityHeaders_HSTSZeroMaxAgeOmitted(t *testing.T) {
	r := securityRouter(SecurityOptions{EnableHSTS: true})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Header().Get("Strict-Transport-Security") != "" {
		t.Fatalf("zero max-age must omit the header")
	}
}
