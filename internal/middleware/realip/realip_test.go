package realip

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewResolver(t *testing.T) {
	t.Run("accepts prefixes and bare addresses", func(t *testing.T) {
		r, err := NewResolver(Config{TrustProxy: true, TrustedProxies: []string{"10.0.0.0/8", "192.168.1.1", "::1", " "}})
		require.NoError(t, err)
		assert.Len(t, r.trusted, 3)
		assert.True(t, r.isTrusted("10.20.30.40"))
		assert.True(t, r.isTrusted("192.168.1.1"))
		assert.False(t, r.isTrusted("192.168.1.2"))
		assert.True(t, r.isTrusted("::1"))
	})

	t.Run("rejects garbage", func(t *testing.T) {
		_, err := NewResolver(Config{TrustProxy: true, TrustedProxies: []string{"not-an-ip"}})
		assert.Error(t, err)
	})

	t.Run("ignores list when proxies are not trusted", func(t *testing.T) {
		r, err := NewResolver(Config{TrustedProxies: []string{"not-an-ip"}})
		require.NoError(t, err)
		assert.Empty(t, r.trusted)
	})
}

func TestResolver_ClientIP(t *testing.T) {
	trusted := Config{TrustProxy: true, TrustedProxies: []string{"10.0.0.0/8", "192.168.0.0/16"}}

	tests := []struct {
		name    string
		cfg     Config
		remote  string
		headers map[string]string
		want    string
	}{
		{
			name:    "proxy trust disabled",
			cfg:     Config{TrustedProxies: []string{"10.0.0.0/8"}},
			remote:  "10.0.0.1:1234",
			headers: map[string]string{"X-Forwarded-For": "203.0.113.50"},
			want:    "10.0.0.1",
		},
		{
			name:    "trusted peer, first untrusted hop from the right",
			cfg:     trusted,
			remote:  "10.0.0.1:1234",
			headers: map[string]string{"X-Forwarded-For": "198.51.100.7, 203.0.113.50, 10.0.0.5"},
			want:    "203.0.113.50",
		},
		{
			name:    "untrusted peer cannot spoof",
			cfg:     trusted,
			remote:  "203.0.113.9:1234",
			headers: map[string]string{"X-Forwarded-For": "1.2.3.4"},
			want:    "203.0.113.9",
		},
		{
			name:    "x-real-ip fallback",
			cfg:     trusted,
			remote:  "192.168.0.10:80",
			headers: map[string]string{"X-Real-IP": " 198.51.100.1 "},
			want:    "198.51.100.1",
		},
		{
			name:    "all hops trusted",
			cfg:     trusted,
			remote:  "10.0.0.1:1234",
			headers: map[string]string{"X-Forwarded-For": "10.1.1.1, 10.2.2.2"},
			want:    "10.1.1.1",
		},
		{
			name:   "remote without port",
			cfg:    Config{},
			remote: "198.51.100.3",
			want:   "198.51.100.3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewResolver(tt.cfg)
			require.NoError(t, err)

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, r.ClientIP(req))
		})
	}
}

func TestMiddleware(t *testing.T) {
	r, err := NewResolver(Config{TrustProxy: true, TrustedProxies: []string{"10.0.0.0/8"}})
	require.NoError(t, err)

	var got string
	handler := Middleware(r)(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		got = GetClientIP(req)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/scans", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.50")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "203.0.113.50", got)
}

func TestGetClientIP_WithoutMiddleware(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.2:9000"
	assert.Equal(t, "198.51.100.2", GetClientIP(req))
}
