package server

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name          string
		allowed       []string
		isDevelopment bool
		origin        string
		host          string
		want          bool
	}{
		{name: "empty origin allowed", origin: "", host: "api.example.com", want: true},
		{name: "same host allowed", origin: "https://api.example.com", host: "api.example.com", want: true},
		{name: "allow-listed origin", allowed: []string{"https://app.example.com"}, origin: "https://app.example.com", host: "api.example.com", want: true},
		{name: "unknown origin rejected", origin: "https://evil.example.com", host: "api.example.com", want: false},
		{name: "scheme mismatch on allow-list", allowed: []string{"https://app.example.com"}, origin: "http://app.example.com", host: "api.example.com", want: false},
		{name: "localhost in development", isDevelopment: true, origin: "http://localhost:3000", host: "api.example.com", want: true},
		{name: "loopback ip in development", isDevelopment: true, origin: "http://127.0.0.1:3000", host: "api.example.com", want: true},
		{name: "localhost in production rejected", origin: "http://localhost:3000", host: "api.example.com", want: false},
		{name: "unparseable origin rejected", origin: "://bad", host: "api.example.com", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := newCheckOrigin(tt.allowed, tt.isDevelopment)

			req := httptest.NewRequest("GET", "http://"+tt.host+"/ws", nil)
			req.Host = tt.host
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}

			assert.Equal(t, tt.want, check(req))
		})
	}
}
