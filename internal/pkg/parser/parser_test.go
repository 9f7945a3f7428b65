package parser

import (
	"net/http/httptest"
	"testing"
)

func TestParseUserAgent(t *testing.T) {
	tests := []struct {
		ua   string
		want ClientInfo
	}{
		{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36", ClientInfo{"Windows", "Chrome"}},
		{"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_1) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15", ClientInfo{"macOS", "Safari"}},
		{"Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0", ClientInfo{"Linux", "Firefox"}},
		{"Mozilla/5.0 (Windows NT 10.0) AppleWebKit/537.36 Chrome/120.0 Safari/537.36 Edg/120.0", ClientInfo{"Windows", "Edge"}},
		{"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) Safari/604.1", ClientInfo{"iOS", "Safari"}},
		{"curl/8.4.0", ClientInfo{"Unknown", "Unknown"}},
	}
	for _, tt := range tests {
		if got := ParseUserAgent(tt.ua); got != tt.want {
			t.Errorf("ParseUserAgent(%q) = %+v, want %+v", tt.ua, got, tt.want)
		}
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "192.0.2.1:4000"
	if got := ClientIP(r); got != "192.0.2.1" {
		t.Errorf("ClientIP() = %q, want 192.0.2.1", got)
	}

	r.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	if got := ClientIP(r); got != "192.0.2.1" {
		t.Errorf("ClientIP() with forwarded header = %q, want socket peer 192.0.2.1", got)
	}

	r = r.WithContext(WithClientIP(r.Context(), "198.51.100.7"))
	if got := ClientIP(r); got != "198.51.100.7" {
		t.Errorf("ClientIP() = %q, want resolved 198.51.100.7", got)
	}
}

func TestProxyResolver(t *testing.T) {
	pr, err := NewProxyResolver([]string{"10.0.0.0/8", "192.0.2.10"})
	if err != nil {
		t.Fatalf("NewProxyResolver() error = %v", err)
	}

	tests := []struct {
		name   string
		remote string
		xff    []string
		want   string
	}{
		{"untrusted peer ignores header", "203.0.113.9:5000", []string{"1.2.3.4"}, "203.0.113.9"},
		{"trusted peer without header", "10.1.1.1:5000", nil, "10.1.1.1"},
		{"trusted peer single hop", "10.1.1.1:5000", []string{"198.51.100.7"}, "198.51.100.7"},
		{"right-most untrusted hop wins", "10.1.1.1:5000", []string{"6.6.6.6, 198.51.100.7, 10.2.2.2"}, "198.51.100.7"},
		{"multiple header lines", "192.0.2.10:5000", []string{"6.6.6.6", "198.51.100.7"}, "198.51.100.7"},
		{"all hops trusted", "10.1.1.1:5000", []string{"10.3.3.3, 10.2.2.2"}, "10.3.3.3"},
		{"garbage hop", "10.1.1.1:5000", []string{"not-an-ip"}, "10.1.1.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remote
			for _, v := range tt.xff {
				r.Header.Add("X-Forwarded-For", v)
			}
			if got := pr.Resolve(r); got != tt.want {
				t.Errorf("Resolve() = %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := NewProxyResolver([]string{"10.0.0.0/33"}); err == nil {
		t.Error("expected error for invalid CIDR")
	}
	if _, err := NewProxyResolver([]string{"proxy.local"}); err == nil {
		t.Error("expected error for hostname")
	}

	var none *ProxyResolver
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "203.0.113.9:5000"
	r.Header.Set("X-Forwarded-For", "1.2.3.4")
	if got := none.Resolve(r); got != "203.0.113.9" {
		t.Errorf("nil resolver Resolve() = %q, want socket peer", got)
	}
}
