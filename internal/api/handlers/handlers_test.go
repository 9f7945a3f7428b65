package handlers

import (
	"crypto/tls"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOriginChecker(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"empty list allows any", nil, "https://evil.example", true},
		{"no origin header", []string{"https://app.example.com"}, "", true},
		{"exact match", []string{"https://app.example.com"}, "https://app.example.com", true},
		{"trailing slash and case", []string{"https://App.Example.com/"}, "https://app.example.com", true},
		{"other origin", []string{"https://app.example.com"}, "https://evil.example", false},
		{"scheme matters", []string{"https://app.example.com"}, "http://app.example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, originChecker(tt.allowed)(r))
		})
	}
}

func TestReceiveURL(t *testing.T) {
	h := &WebhookHandler{publicURL: "https://hooks.example.com"}
	r := httptest.NewRequest("POST", "/api/webhooks", nil)
	assert.Equal(t, "https://hooks.example.com/api/webhooks/ABC123/receive", h.receiveURL(r, "ABC123"))

	h = &WebhookHandler{}
	r = httptest.NewRequest("POST", "http://internal:5000/api/webhooks", nil)
	assert.Equal(t, "http://internal:5000/api/webhooks/ABC123/receive", h.receiveURL(r, "ABC123"))

	r.Header.Set("X-Forwarded-Proto", "https")
	assert.Equal(t, "https://internal:5000/api/webhooks/ABC123/receive", h.receiveURL(r, "ABC123"))

	r = httptest.NewRequest("POST", "https://secure.example/api/webhooks", nil)
	r.TLS = &tls.ConnectionState{}
	assert.Equal(t, "https://secure.example/api/webhooks/ABC123/receive", h.receiveURL(r, "ABC123"))
}
