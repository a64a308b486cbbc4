package websocket

import (
	"strings"

	"github.com/corehttp/corehttp/pkg/headers"
	"github.com/corehttp/corehttp/pkg/message"
	"github.com/corehttp/corehttp/pkg/stream"
)

// IsUpgradeRequest reports whether req is asking to switch to the WebSocket
// protocol: Connection: Upgrade and Upgrade: websocket, case-insensitively.
func IsUpgradeRequest(req *message.Request) bool {
	conn := strings.ToLower(req.Headers.GetKnown(headers.Connection))
	upgrade := strings.ToLower(req.Headers.GetKnown(headers.Upgrade))
	return strings.Contains(conn, "upgrade") && upgrade == "websocket"
}

// Accept validates a WebSocket handshake request, writes the 101 response
// directly to the stream, and returns a ready-to-use server-role Conn.
func Accept(s *stream.Conn, req *message.Request) (*Conn, error) {
	key := req.Headers.GetKnown(headers.SecWebSocketKey)
	version := req.Headers.GetKnown(headers.SecWebSocketVersion)
	if key == "" || version != "13" {
		return nil, errBadHandshake
	}

	accept := AcceptKey(key)
	resp := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + accept + "\r\n\r\n"

	if err := s.Write([]byte(resp), 0); err != nil {
		return nil, err
	}
	return New(s, false), nil
}

var errBadHandshake = &handshakeError{"missing or unsupported Sec-WebSocket-Key/Version"}

type handshakeError struct{ msg string }

func (e *handshakeError) Error() string { return "websocket: " + e.msg }
