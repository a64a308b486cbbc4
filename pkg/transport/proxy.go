package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/corehttp/corehttp/pkg/errors"
	netproxy "golang.org/x/net/proxy"
)

// ProxyConfig names an upstream proxy to tunnel a dial through.
//
// Scheme selects the protocol: "http" and "https" use an HTTP CONNECT
// request (https meaning TLS to the proxy itself, independent of what runs
// inside the tunnel), "socks4" speaks the 8-byte SOCKS4 exchange, and
// "socks5" hands the hostname to the proxy so DNS resolves remotely.
type ProxyConfig struct {
	Scheme   string
	Host     string
	Port     int
	Username string
	Password string

	// ConnTimeout bounds the dial to the proxy itself; zero falls back to
	// the target's ConnTimeout.
	ConnTimeout time.Duration

	// Headers are added to the CONNECT request. SOCKS proxies ignore them.
	Headers map[string]string

	// TLSConfig configures the connection TO an https proxy.
	TLSConfig *tls.Config
}

// DefaultPort returns the conventional port for a proxy scheme.
func DefaultPort(scheme string) int {
	switch scheme {
	case "http":
		return 8080
	case "https":
		return 443
	case "socks4", "socks5":
		return 1080
	}
	return 0
}

func (p *ProxyConfig) port() int {
	if p.Port != 0 {
		return p.Port
	}
	return DefaultPort(p.Scheme)
}

func (p *ProxyConfig) addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.port()))
}

// URL renders the proxy as scheme://host:port, the form pool keys embed.
func (p *ProxyConfig) URL() string {
	return p.Scheme + "://" + p.addr()
}

func (t *Transport) dialProxied(ctx context.Context, cfg Config, connTimeout time.Duration) (net.Conn, error) {
	p := cfg.Proxy
	if p.Scheme == "" || p.Host == "" {
		return nil, errors.NewValidationError("proxy scheme and host are required")
	}
	timeout := p.ConnTimeout
	if timeout <= 0 {
		timeout = connTimeout
	}
	target := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	var conn net.Conn
	var err error
	switch p.Scheme {
	case "http", "https":
		conn, err = dialConnect(ctx, p, cfg, target, timeout)
	case "socks4":
		conn, err = dialSOCKS4(ctx, p, target, timeout)
	case "socks5":
		conn, err = dialSOCKS5(p, target, timeout)
	default:
		return nil, errors.NewValidationError("unsupported proxy scheme " + p.Scheme)
	}
	if err != nil {
		return nil, errors.NewProxyError(p.Scheme, p.addr(), "connect", err)
	}
	return conn, nil
}

// dialConnect opens an HTTP CONNECT tunnel. The scheme of the target is
// irrelevant here: a cleartext proxy happily tunnels TLS traffic, since
// everything after the 200 is opaque bytes.
func dialConnect(ctx context.Context, p *ProxyConfig, cfg Config, target string, timeout time.Duration) (net.Conn, error) {
	conn, err := (&net.Dialer{Timeout: timeout}).DialContext(ctx, "tcp", p.addr())
	if err != nil {
		return nil, fmt.Errorf("dialing proxy: %w", err)
	}

	if p.Scheme == "https" {
		tcfg := p.TLSConfig
		if tcfg == nil {
			tcfg = &tls.Config{ServerName: p.Host, MinVersion: tls.VersionTLS12}
		} else {
			tcfg = tcfg.Clone()
			if tcfg.ServerName == "" {
				tcfg.ServerName = p.Host
			}
		}
		if cfg.InsecureTLS {
			tcfg.InsecureSkipVerify = true
		}
		tlsConn := tls.Client(conn, tcfg)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("proxy TLS handshake: %w", err)
		}
		conn = tlsConn
	}

	var req strings.Builder
	fmt.Fprintf(&req, "CONNECT %s HTTP/1.1\r\nHost: %s\r\n", target, target)
	for name, value := range p.Headers {
		fmt.Fprintf(&req, "%s: %s\r\n", name, value)
	}
	if p.Username != "" {
		cred := base64.StdEncoding.EncodeToString([]byte(p.Username + ":" + p.Password))
		fmt.Fprintf(&req, "Proxy-Authorization: Basic %s\r\n", cred)
	}
	req.WriteString("\r\n")

	if _, err := conn.Write([]byte(req.String())); err != nil {
		conn.Close()
		return nil, fmt.Errorf("writing CONNECT: %w", err)
	}

	br := bufio.NewReader(conn)
	status, err := br.ReadString('\n')
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("reading CONNECT status: %w", err)
	}
	if !strings.Contains(status, " 200") {
		conn.Close()
		return nil, fmt.Errorf("proxy refused CONNECT: %s", strings.TrimSpace(status))
	}
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("reading CONNECT headers: %w", err)
		}
		if line == "\r\n" || line == "\n" {
			break
		}
	}
	// br may have buffered bytes past the header block only if the proxy
	// pipelined tunnel data into the same segment; CONNECT proxies do not,
	// so the raw conn is safe to hand back.
	return conn, nil
}

// SOCKS4 reply codes.
const (
	socks4Granted     = 0x5a
	socks4Rejected    = 0x5b
	socks4NoIdentd    = 0x5c
	socks4IdentdDeny  = 0x5d
	socks4ReplyLength = 8
)

// dialSOCKS4 speaks the minimal SOCKS4 CONNECT exchange. The protocol
// predates hostnames in requests, so the target resolves locally and must
// have an IPv4 address.
func dialSOCKS4(ctx context.Context, p *ProxyConfig, target string, timeout time.Duration) (net.Conn, error) {
	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		return nil, fmt.Errorf("bad target %q: %w", target, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("bad target port %q: %w", portStr, err)
	}

	ip := net.ParseIP(host)
	if ip == nil {
		ips, err := net.LookupIP(host)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", host, err)
		}
		for _, candidate := range ips {
			if candidate.To4() != nil {
				ip = candidate
				break
			}
		}
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return nil, fmt.Errorf("%s has no IPv4 address", host)
	}

	conn, err := (&net.Dialer{Timeout: timeout}).DialContext(ctx, "tcp", p.addr())
	if err != nil {
		return nil, fmt.Errorf("dialing proxy: %w", err)
	}

	req := make([]byte, 0, 16)
	req = append(req, 4, 1)
	req = binary.BigEndian.AppendUint16(req, uint16(port))
	req = append(req, ip4...)
	req = append(req, []byte(p.Username)...)
	req = append(req, 0)
	if _, err := conn.Write(req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("writing request: %w", err)
	}

	var reply [socks4ReplyLength]byte
	if _, err := io.ReadFull(conn, reply[:]); err != nil {
		conn.Close()
		return nil, fmt.Errorf("reading reply: %w", err)
	}
	switch reply[1] {
	case socks4Granted:
		return conn, nil
	case socks4Rejected:
		conn.Close()
		return nil, fmt.Errorf("request rejected")
	case socks4NoIdentd:
		conn.Close()
		return nil, fmt.Errorf("identd unreachable")
	case socks4IdentdDeny:
		conn.Close()
		return nil, fmt.Errorf("identd denied user id")
	default:
		conn.Close()
		return nil, fmt.Errorf("unknown reply code 0x%02x", reply[1])
	}
}

// dialSOCKS5 delegates to golang.org/x/net/proxy, which handles the
// negotiation, auth methods, and remote DNS resolution.
func dialSOCKS5(p *ProxyConfig, target string, timeout time.Duration) (net.Conn, error) {
	var auth *netproxy.Auth
	if p.Username != "" {
		auth = &netproxy.Auth{User: p.Username, Password: p.Password}
	}
	dialer, err := netproxy.SOCKS5("tcp", p.addr(), auth, &net.Dialer{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("building dialer: %w", err)
	}
	return dialer.Dial("tcp", target)
}
