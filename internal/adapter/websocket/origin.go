package websocket

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// NewCheckOrigin returns a CheckOrigin function for the upgrader.
// It allows empty origins (same-origin / non-browser clients) and every
// origin in allowed. A "*" entry allows any origin. When isDevelopment is
// true, localhost origins are additionally allowed.
func NewCheckOrigin(allowed []string, isDevelopment bool) func(r *http.Request) bool {
	allowAll := false
	origins := make(map[string]struct{}, len(allowed))
	for _, raw := range allowed {
		raw = strings.TrimSpace(raw)
		if raw == "*" {
			allowAll = true
			continue
		}
		if origin := extractOrigin(raw); origin != "" {
			origins[origin] = struct{}{}
		}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")

		if origin == "" || allowAll {
			return true
		}

		if _, ok := origins[origin]; ok {
			return true
		}

		if isDevelopment && isLocalhostOrigin(origin) {
			return true
		}

		slog.Warn("WebSocket origin rejected", "origin", origin, "remote_addr", r.RemoteAddr)
		return false
	}
}

func extractOrigin(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func isLocalhostOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	return host == "localhost" || host == "127.0.0.1"
}
