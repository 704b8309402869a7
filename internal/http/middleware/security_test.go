package middleware

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func serveSecured(opt SecurityOptions, prep func(*http.Request), pre gin.HandlerFunc) http.Header {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	if pre != nil {
		r.Use(pre)
	}
	r.Use(SecurityHeaders(opt))
	r.POST("/auth/api-keys", func(c *gin.Context) { c.Status(http.StatusCreated) })

	req := httptest.NewRequest(http.MethodPost, "/auth/api-keys", nil)
	if prep != nil {
		prep(req)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Header()
}

func TestSecurityHeaders_Baseline(t *testing.T) {
	h := serveSecured(SecurityOptions{EnableHSTS: true}, nil, nil)

	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "no-referrer",
	}
	for k, v := range want {
		if got := h.Get(k); got != v {
			t.Errorf("%s = %q; want %q", k, got, v)
		}
	}
	for _, k := range []string{"Permissions-Policy", "Cache-Control", "Pragma", "Strict-Transport-Security"} {
		if got := h.Get(k); got != "" {
			t.Errorf("%s should be unset on plain HTTP defaults, got %q", k, got)
		}
	}
}

func TestSecurityHeaders_CredentialRoutes(t *testing.T) {
	h := serveSecured(SecurityOptions{NoStore: true, EnablePolicy: true}, nil, nil)

	if h.Get("Cache-Control") != "no-store" || h.Get("Pragma") != "no-cache" || h.Get("Expires") != "0" {
		t.Fatalf("cache headers missing: %#v", h)
	}
	if h.Get("Permissions-Policy") == "" || h.Get("X-Permitted-Cross-Domain-Policies") != "none" {
		t.Fatalf("policy headers missing: %#v", h)
	}
}

func TestSecurityHeaders_HSTS(t *testing.T) {
	cases := []struct {
		name   string
		maxAge time.Duration
		prep   func(*http.Request)
		want   string
	}{
		{"tls", 24 * time.Hour, func(r *http.Request) { r.TLS = &tls.ConnectionState{} }, "max-age=86400; includeSubDomains; preload"},
		{"proxy", time.Hour, func(r *http.Request) { r.Header.Set("X-Forwarded-Proto", "HTTPS") }, "max-age=3600; includeSubDomains; preload"},
		{"default max age", 0, func(r *http.Request) { r.TLS = &tls.ConnectionState{} }, "max-age=" + strconv.Itoa(180*24*3600) + "; includeSubDomains; preload"},
		{"plain http", time.Hour, nil, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := serveSecured(SecurityOptions{EnableHSTS: true, HSTSMaxAge: tc.maxAge}, tc.prep, nil)
			if got := h.Get("Strict-Transport-Security"); got != tc.want {
				t.Fatalf("HSTS = %q; want %q", got, tc.want)
			}
		})
	}
}

func TestSecurityHeaders_ExposeHeaders(t *testing.T) {
	cases := []struct {
		name     string
		existing string
		want     string
	}{
		{"empty", "", "X-Request-ID, Idempotency-Replayed"},
		{"append", "ETag", "ETag, X-Request-ID, Idempotency-Replayed"},
		{"no duplicates", "x-request-id, ETag", "x-request-id, ETag, Idempotency-Replayed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pre := func(c *gin.Context) {
				if tc.existing != "" {
					c.Header("Access-Control-Expose-Headers", tc.existing)
				}
				c.Next()
			}
			h := serveSecured(SecurityOptions{}, nil, pre)
			if got := h.Get("Access-Control-Expose-Headers"); got != tc.want {
				t.Fatalf("expose = %q; want %q", got, tc.want)
			}
		})
	}
}

func Test_isHTTPS(t *testing.T) {
	plain := httptest.NewRequest(http.MethodGet, "/", nil)
	viaTLS := httptest.NewRequest(http.MethodGet, "/", nil)
	viaTLS.TLS = &tls.ConnectionState{}
	viaProxy := httptest.NewRequest(http.MethodGet, "/", nil)
	viaProxy.Header.Set("X-Forwarded-Proto", "https")

	if isHTTPS(plain) || !isHTTPS(viaTLS) || !isHTTPS(viaProxy) {
		t.Fatalf("isHTTPS: plain=%v tls=%v proxy=%v", isHTTPS(plain), isHTTPS(viaTLS), isHTTPS(viaProxy))
	}
}
