package middleware

import (
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
)

var previewPattern = regexp.MustCompile(`^https://[a-z0-9-]+\.matchdeck\.example$`)

func newTestCORS() *CORS {
	return NewCORS([]string{"https://matchdeck.example", "http://localhost:3000"}, previewPattern)
}

func TestCORSAllowOrigin(t *testing.T) {
	c := newTestCORS()

	tests := []struct {
		name   string
		origin string
		want   string
	}{
		{"primary origin", "https://matchdeck.example", "https://matchdeck.example"},
		{"localhost dev", "http://localhost:3000", "http://localhost:3000"},
		{"preview deployment", "https://pr-42.matchdeck.example", "https://pr-42.matchdeck.example"},
		{"unknown origin falls back", "https://evil.com", "https://matchdeck.example"},
		{"preview-lookalike on another domain", "https://pr-42.matchdeck.example.attacker.com", "https://matchdeck.example"},
		{"http preview rejected", "http://pr-42.matchdeck.example", "https://matchdeck.example"},
		{"empty origin falls back", "", "https://matchdeck.example"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.AllowOrigin(tt.origin); got != tt.want {
				t.Errorf("AllowOrigin(%q) = %q, want %q", tt.origin, got, tt.want)
			}
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	c := newTestCORS()
	handlerCalled := false
	h := c.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
	}))

	req := httptest.NewRequest(http.MethodOptions, "/verify", nil)
	req.Header.Set("Origin", "https://matchdeck.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("preflight status = %d, want 200", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("preflight body = %q, want empty", rec.Body.String())
	}
	if handlerCalled {
		t.Error("preflight should not reach the inner handler")
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://matchdeck.example" {
		t.Errorf("Allow-Origin = %q", got)
	}
	if got := rec.Header().Get("Vary"); got != "Origin" {
		t.Errorf("Vary = %q, want Origin", got)
	}
}

func TestCORSPassesThroughNonPreflight(t *testing.T) {
	c := newTestCORS()
	h := c.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodPost, "/verify", nil)
	req.Header.Set("Origin", "https://evil.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d, want inner handler's 418", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://matchdeck.example" {
		t.Errorf("disallowed origin echoed back: %q", got)
	}
}
