package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func serveSecure(req *http.Request, status int) *httptest.ResponseRecorder {
	handler := SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestSecurityHeaders_Present(t *testing.T) {
	w := serveSecure(httptest.NewRequest(http.MethodGet, "/", nil), http.StatusOK)

	expected := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "no-referrer",
	}
	for header, want := range expected {
		if got := w.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
}

func TestSecurityHeaders_NoHSTSOverHTTP(t *testing.T) {
	w := serveSecure(httptest.NewRequest(http.MethodGet, "http://localhost/", nil), http.StatusOK)

	if hsts := w.Header().Get("Strict-Transport-Security"); hsts != "" {
		t.Errorf("HSTS should not be set over plain HTTP, got %q", hsts)
	}
}

func TestSecurityHeaders_HSTSOverForwardedHTTPS(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://localhost/", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	w := serveSecure(req, http.StatusOK)

	hsts := w.Header().Get("Strict-Transport-Security")
	if !strings.Contains(hsts, "max-age=") {
		t.Errorf("HSTS = %q, want a max-age directive", hsts)
	}
}

func TestSecurityHeaders_CSPLocksDown(t *testing.T) {
	w := serveSecure(httptest.NewRequest(http.MethodGet, "/", nil), http.StatusOK)

	csp := w.Header().Get("Content-Security-Policy")
	for _, d := range []string{"default-src 'none'", "frame-ancestors 'none'"} {
		if !strings.Contains(csp, d) {
			t.Errorf("CSP missing directive %q in: %s", d, csp)
		}
	}
}

func TestSecurityHeaders_PassesThrough(t *testing.T) {
	w := serveSecure(httptest.NewRequest(http.MethodGet, "/", nil), http.StatusTeapot)
	if w.Code != http.StatusTeapot {
		t.Errorf("status = %d, want %d", w.Code, http.StatusTeapot)
	}
}
