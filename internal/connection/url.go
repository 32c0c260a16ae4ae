package connection

import (
	"fmt"
	"net/url"
)

// DefaultPath is where the server accepts live connections.
const DefaultPath = "/api/live"

// DeriveURL maps an HTTP(S) page origin to the live WebSocket endpoint on
// the same host: http becomes ws, https becomes wss. An empty path selects
// DefaultPath. Query and fragment are dropped.
func DeriveURL(origin, path string) (string, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return "", fmt.Errorf("parse origin: %w", err)
	}

	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported origin scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("origin %q has no host", origin)
	}

	if path == "" {
		path = DefaultPath
	}
	if path[0] != '/' {
		path = "/" + path
	}

	return (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: path}).String(), nil
}
