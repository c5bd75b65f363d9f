package websocket

import (
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// NewCheckOrigin returns a CheckOrigin function for the upgrader and the
// state-changing API routes. It allows empty origins (non-browser clients),
// the app's own origin derived from appURL, and any of the extra origins.
// When isDevelopment is true, loopback origins are allowed as well.
func NewCheckOrigin(appURL string, extra []string, isDevelopment bool) func(r *http.Request) bool {
	allowed := make(map[string]struct{}, len(extra)+1)
	for _, raw := range append([]string{appURL}, extra...) {
		if origin := normalizeOrigin(raw); origin != "" {
			allowed[origin] = struct{}{}
		}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := allowed[normalizeOrigin(origin)]; ok {
			return true
		}
		if isDevelopment && isLoopbackOrigin(origin) {
			return true
		}

		slog.Warn("Origin rejected", "origin", origin, "path", r.URL.Path, "remote_addr", r.RemoteAddr)
		return false
	}
}

// normalizeOrigin reduces a URL to scheme://host[:port] with scheme and host
// lowercased and the scheme's default port dropped. It returns "" when rawURL
// has no host.
func normalizeOrigin(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return ""
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())

	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		return scheme + "://" + net.JoinHostPort(host, port)
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return scheme + "://" + host
}

func isLoopbackOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
