package websocket

import (
	"bufio"
	"net"
	"strings"
	"testing"

	"github.com/corehttp/corehttp/pkg/message"
	"github.com/corehttp/corehttp/pkg/stream"
)

// TestUpgradeAndEchoRoundTrip drives a full handshake and one echoed message
// over an in-process net.Pipe, standing in for a real socket.
func TestUpgradeAndEchoRoundTrip(t *testing.T) {
	serverRaw, clientRaw := net.Pipe()
	defer serverRaw.Close()
	defer clientRaw.Close()

	req := message.NewRequest()
	req.Headers.Set("Connection", "Upgrade")
	req.Headers.Set("Upgrade", "websocket")
	req.Headers.Set("Sec-WebSocket-Version", "13")
	req.Headers.Set("Sec-WebSocket-Key", NewClientKey())

	serverDone := make(chan error, 1)
	go func() {
		serverConn := stream.New(serverRaw)
		ws, err := Accept(serverConn, req)
		if err != nil {
			serverDone <- err
			return
		}
		op, payload, err := ws.ReadMessage()
		if err != nil {
			serverDone <- err
			return
		}
		serverDone <- ws.WriteMessage(op, payload)
	}()

	br := bufio.NewReader(clientRaw)
	status, err := br.ReadString('\n')
	if err != nil {
		t.Fatalf("reading status line: %v", err)
	}
	if !strings.Contains(status, "101") {
		t.Fatalf("status line = %q, want a 101 response", status)
	}
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			t.Fatalf("reading handshake headers: %v", err)
		}
		if line == "\r\n" {
			break
		}
	}

	clientConn := stream.New(clientRaw)
	clientWS := New(clientConn, true)

	if err := clientWS.WriteMessage(OpText, []byte("abc")); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	op, payload, err := clientWS.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if op != OpText {
		t.Fatalf("opcode = %v, want OpText", op)
	}
	if string(payload) != "abc" {
		t.Fatalf("payload = %q, want %q", payload, "abc")
	}

	if err := <-serverDone; err != nil {
		t.Fatalf("server side: %v", err)
	}
}

func TestIsUpgradeRequest(t *testing.T) {
	req := message.NewRequest()
	if IsUpgradeRequest(req) {
		t.Fatal("empty request should not look like an upgrade")
	}
	req.Headers.Set("Connection", "keep-alive, Upgrade")
	req.Headers.Set("Upgrade", "websocket")
	if !IsUpgradeRequest(req) {
		t.Fatal("expected upgrade request to be detected")
	}
}

func TestAcceptRejectsMissingKey(t *testing.T) {
	serverRaw, clientRaw := net.Pipe()
	defer serverRaw.Close()
	defer clientRaw.Close()
	go discardReads(clientRaw)

	req := message.NewRequest()
	req.Headers.Set("Sec-WebSocket-Version", "13")

	_, err := Accept(stream.New(serverRaw), req)
	if err == nil {
		t.Fatal("expected an error for a handshake missing Sec-WebSocket-Key")
	}
}

func discardReads(c net.Conn) {
	buf := make([]byte, 512)
	for {
		if _, err := c.Read(buf); err != nil {
			return
		}
	}
}
