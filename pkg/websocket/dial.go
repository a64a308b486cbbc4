package websocket

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/corehttp/corehttp/pkg/errors"
	"github.com/corehttp/corehttp/pkg/stream"
	"github.com/corehttp/corehttp/pkg/timing"
	"github.com/corehttp/corehttp/pkg/transport"
)

// DialTarget names the (host, tls, port) triple a client connector dials,
// mirroring client.Target without importing pkg/client (which already
// imports pkg/errors/pkg/transport; pkg/websocket stays a leaf alongside
// it instead of depending on the client package for one struct).
type DialTarget struct {
	Host string
	TLS  bool
	Port int
}

// DialClient opens a plain or TLS connection to target via t, performs the
// RFC 6455 client handshake against path using a freshly generated
// Sec-WebSocket-Key (see NewClientKey), and returns a client-role Conn on a
// successful 101 response. This is the connector used both by a standalone
// WebSocket client and by the reverse-proxy stage's upstream leg.
func DialClient(ctx context.Context, t *transport.Transport, target DialTarget, path string, extraHeaders map[string]string) (*Conn, error) {
	scheme := "http"
	if target.TLS {
		scheme = "https"
	}
	rawConn, _, err := t.Connect(ctx, transport.Config{
		Scheme: scheme,
		Host:   target.Host,
		Port:   target.Port,
	}, timing.Start())
	if err != nil {
		return nil, err
	}

	if path == "" {
		path = "/"
	}
	key := NewClientKey()

	var b strings.Builder
	fmt.Fprintf(&b, "GET %s HTTP/1.1\r\n", path)
	fmt.Fprintf(&b, "Host: %s\r\n", hostHeader(target))
	b.WriteString("Upgrade: websocket\r\n")
	b.WriteString("Connection: Upgrade\r\n")
	b.WriteString("Sec-WebSocket-Version: 13\r\n")
	fmt.Fprintf(&b, "Sec-WebSocket-Key: %s\r\n", key)
	for k, v := range extraHeaders {
		fmt.Fprintf(&b, "%s: %s\r\n", k, v)
	}
	b.WriteString("\r\n")

	if _, err := rawConn.Write([]byte(b.String())); err != nil {
		rawConn.Close()
		return nil, errors.NewIOError("writing websocket handshake", err)
	}

	status, err := readHandshakeLine(rawConn)
	if err != nil {
		rawConn.Close()
		return nil, errors.NewProtocolError("reading websocket handshake status", err)
	}
	if !strings.Contains(status, " 101 ") {
		rawConn.Close()
		return nil, errors.NewProtocolError("websocket handshake rejected: "+strings.TrimSpace(status), nil)
	}
	for {
		line, err := readHandshakeLine(rawConn)
		if err != nil {
			rawConn.Close()
			return nil, errors.NewProtocolError("reading websocket handshake headers", err)
		}
		if line == "\r\n" || line == "" {
			break
		}
	}

	// Read byte-at-a-time above (no bufio.Reader) so stream.New can wrap
	// rawConn fresh without losing any bytes the server pipelined right
	// after the 101 response into frame data.
	s := stream.New(rawConn)
	return New(s, true), nil
}

func readHandshakeLine(c net.Conn) (string, error) {
	var line []byte
	buf := make([]byte, 1)
	for {
		n, err := c.Read(buf)
		if n > 0 {
			line = append(line, buf[0])
			if buf[0] == '\n' {
				return string(line), nil
			}
		}
		if err != nil {
			return "", err
		}
	}
}

func hostHeader(target DialTarget) string {
	if target.Port == 80 && !target.TLS || target.Port == 443 && target.TLS {
		return target.Host
	}
	return target.Host + ":" + strconv.Itoa(target.Port)
}
