package httpapi

import (
	"net"
	"strings"
)

// Config defines HTTP API settings.
type Config struct {
	Addr string
	// BasePath mounts every route under a prefix, e.g. "/rotor".
	BasePath string
}

// prefix returns BasePath with a single leading slash and no trailing slash.
func (c Config) prefix() string {
	path := strings.Trim(strings.TrimSpace(c.BasePath), "/")
	if path == "" {
		return ""
	}
	return "/" + path
}

// URL returns the address a local client dials to reach path on this server.
// Wildcard listen hosts resolve to loopback.
func (c Config) URL(path string) string {
	host, port, err := net.SplitHostPort(strings.TrimSpace(c.Addr))
	if err != nil {
		host, port = strings.TrimSpace(c.Addr), ""
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	if port != "" {
		host = net.JoinHostPort(host, port)
	}
	return "http://" + host + c.prefix() + path
}
