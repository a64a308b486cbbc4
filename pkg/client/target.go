package client

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Target identifies the (host, tls, port) triple a Session or reverse-proxy
// stage dials, matching the key Session/TransferSession cache connections
// under.
type Target struct {
	Host string
	TLS  bool
	Port int
}

// String renders the target the way pooled-connection keys are formatted
// elsewhere in this package ("host:port").
func (t Target) String() string {
	return fmt.Sprintf("%s:%d", t.Host, t.Port)
}

// ParseTargetURL splits a proxy/upstream URL such as "https://github.com"
// or "http://backend:9000" into its (host, tls, port) triple and the
// leading path (empty unless the caller embedded one), defaulting the port
// from the scheme when absent.
func ParseTargetURL(raw string) (Target, string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Target{}, "", fmt.Errorf("invalid target url %q: %w", raw, err)
	}
	if u.Host == "" {
		return Target{}, "", fmt.Errorf("target url %q has no host", raw)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		scheme = "http"
	}
	tls := scheme == "https" || scheme == "wss"

	host := u.Hostname()
	portStr := u.Port()
	port := 0
	if portStr != "" {
		port, err = strconv.Atoi(portStr)
		if err != nil {
			return Target{}, "", fmt.Errorf("invalid port in target url %q: %w", raw, err)
		}
	} else if tls {
		port = 443
	} else {
		port = 80
	}

	return Target{Host: host, TLS: tls, Port: port}, u.Path, nil
}
