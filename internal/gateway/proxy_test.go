package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestJoinPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		base string
		p    string
		want string
	}{
		{"ベースパス無し", "", "/api/usuarios", "/api/usuarios"},
		{"ルートのベースパス", "/", "/api/usuarios", "/api/usuarios"},
		{"ベースパスあり", "/svc", "/api/usuarios", "/svc/api/usuarios"},
		{"末尾スラッシュ付きのベースパス", "/svc/", "/api/usuarios", "/svc/api/usuarios"},
		{"転送先の末尾スラッシュを保持", "/svc", "/api/usuarios/", "/svc/api/usuarios/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := joinPath(tt.base, tt.p); got != tt.want {
				t.Errorf("joinPath(%q, %q) = %q, want %q", tt.base, tt.p, got, tt.want)
			}
		})
	}
}

func TestIsJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		contentType string
		want        bool
	}{
		{"application/json", true},
		{"application/json; charset=utf-8", true},
		{"Application/JSON", true},
		{"application/merge-patch+json", true},
		{"text/plain", false},
		{"multipart/form-data; boundary=x", false},
		{"", false},
		{";;", false},
	}

	for _, tt := range tests {
		if got := isJSON(tt.contentType); got != tt.want {
			t.Errorf("isJSON(%q) = %v, want %v", tt.contentType, got, tt.want)
		}
	}
}

func TestRemoveHopHeaders(t *testing.T) {
	t.Parallel()

	h := http.Header{}
	h.Set("Connection", "X-Private, keep-alive")
	h.Set("X-Private", "secret")
	h.Set("Keep-Alive", "timeout=5")
	h.Set("Transfer-Encoding", "chunked")
	h.Set("Upgrade", "websocket")
	h.Set("Content-Type", "application/json")

	removeHopHeaders(h)

	for _, name := range []string{"Connection", "X-Private", "Keep-Alive", "Transfer-Encoding", "Upgrade"} {
		if v := h.Get(name); v != "" {
			t.Errorf("%s = %q, want empty string", name, v)
		}
	}
	if v := h.Get("Content-Type"); v != "application/json" {
		t.Errorf("Content-Type = %q, want %q", v, "application/json")
	}
}

func TestScrubIdentityHeaders(t *testing.T) {
	t.Parallel()

	h := http.Header{}
	h.Set("X-User-Id", "1")
	h.Set("X-User-Anything", "x")
	h.Set(HeaderGatewaySource, "spoofed")
	h.Set(HeaderRequestTimestamp, "now")
	h.Set("X-Username-Hint", "kept")
	h.Set("Authorization", "Bearer token")

	scrubIdentityHeaders(h)

	for _, name := range []string{"X-User-Id", "X-User-Anything", HeaderGatewaySource, HeaderRequestTimestamp} {
		if v := h.Get(name); v != "" {
			t.Errorf("%s = %q, want empty string", name, v)
		}
	}
	if v := h.Get("X-Username-Hint"); v != "kept" {
		t.Errorf("X-Username-Hint = %q, want %q", v, "kept")
	}
	if v := h.Get("Authorization"); v != "Bearer token" {
		t.Errorf("Authorization = %q, want %q", v, "Bearer token")
	}
}

func TestSetForwardedHeaders(t *testing.T) {
	t.Parallel()

	t.Run("既存のX-Forwarded-Forに追記すること", func(t *testing.T) {
		t.Parallel()

		in := httptest.NewRequest(http.MethodGet, "http://gateway.example.com/api/productos", nil)
		in.RemoteAddr = "10.0.0.7:51000"
		h := http.Header{}
		h.Set("X-Forwarded-For", "203.0.113.5")

		setForwardedHeaders(h, in)

		if v := h.Get("X-Forwarded-For"); v != "203.0.113.5, 10.0.0.7" {
			t.Errorf("X-Forwarded-For = %q, want %q", v, "203.0.113.5, 10.0.0.7")
		}
		if v := h.Get("X-Forwarded-Host"); v != "gateway.example.com" {
			t.Errorf("X-Forwarded-Host = %q, want %q", v, "gateway.example.com")
		}
		if v := h.Get("X-Forwarded-Proto"); v != "http" {
			t.Errorf("X-Forwarded-Proto = %q, want %q", v, "http")
		}
	})
}

func TestJSONList(t *testing.T) {
	t.Parallel()

	if got := jsonList(nil); got != "[]" {
		t.Errorf("jsonList(nil) = %q, want %q", got, "[]")
	}
	if got := jsonList([]string{"admin", "user"}); got != `["admin","user"]` {
		t.Errorf("jsonList = %q, want %q", got, `["admin","user"]`)
	}
}
