package server

import (
	"log/slog"
	"net/http"
	"net/url"
)

// newCheckOrigin returns a CheckOrigin function for the WebSocket upgrader.
// Empty origins (non-browser clients) and same-host requests are always
// allowed; everything else must match the configured allow-list. In
// development, localhost origins are additionally allowed.
func newCheckOrigin(allowedOrigins []string, isDevelopment bool) func(r *http.Request) bool {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = struct{}{}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")

		if origin == "" {
			return true
		}

		u, err := url.Parse(origin)
		if err != nil {
			return false
		}

		if u.Host == r.Host {
			return true
		}

		if _, ok := allowed[origin]; ok {
			return true
		}

		if isDevelopment && isLocalhostOrigin(u) {
			return true
		}

		slog.Warn("WebSocket origin rejected", "origin", origin, "remote_addr", r.RemoteAddr)
		return false
	}
}

func isLocalhostOrigin(u *url.URL) bool {
	host := u.Hostname()
	return host == "localhost" || host == "127.0.0.1"
}
