package server_test

import (
	"bufio"
	"context"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/corehttp/corehttp/pkg/message"
	"github.com/corehttp/corehttp/pkg/pipeline"
	"github.com/corehttp/corehttp/pkg/registry"
	"github.com/corehttp/corehttp/pkg/server"
)

func listenTCP(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return ln
}

func newTestServer(t *testing.T, reg *registry.Registry) (net.Listener, *server.Server) {
	ln := listenTCP(t)
	engine := pipeline.New(
		&pipeline.HandlersStage{Registry: reg},
		&pipeline.FinalRouteStage{},
	)
	srv := server.New(engine)
	go func() {
		_ = srv.Serve(ln)
	}()
	return ln, srv
}

// TestServerHelloWorld: a simple GET against a registered handler returns
// the handler's status, headers, and body.
func TestServerHelloWorld(t *testing.T) {
	reg := registry.New(registry.HandlerFlag{
		Method: message.GET,
		Path:   "/hello",
		Handler: func(ctx context.Context, req *message.Request) (*message.Response, error) {
			resp := message.NewResponse(200, []byte("hello world"))
			resp.Headers.Set("Content-Type", "text/html")
			return resp, nil
		},
	})
	ln, srv := newTestServer(t, reg)
	defer ln.Close()
	defer srv.Close()

	conn, err := net.DialTimeout("tcp", ln.Addr().String(), 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("GET /hello HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	r := bufio.NewReader(conn)
	status, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read status: %v", err)
	}
	if status != "HTTP/1.1 200 OK\r\n" {
		t.Fatalf("status line = %q", status)
	}

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read header: %v", err)
		}
		if line == "\r\n" {
			break
		}
	}

	body := make([]byte, len("hello world"))
	if _, err := io.ReadFull(r, body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != "hello world" {
		t.Fatalf("body = %q, want %q", body, "hello world")
	}
}

// TestServerKeepAliveReuse: two sequential requests on one connection both
// succeed when Connection is keep-alive, and the connection closes after a
// request that sends Connection: close.
func TestServerKeepAliveReuse(t *testing.T) {
	reg := registry.New(
		registry.HandlerFlag{Method: message.GET, Path: "/a", Handler: func(ctx context.Context, req *message.Request) (*message.Response, error) {
			return message.NewResponse(200, []byte("A")), nil
		}},
		registry.HandlerFlag{Method: message.GET, Path: "/b", Handler: func(ctx context.Context, req *message.Request) (*message.Response, error) {
			return message.NewResponse(200, []byte("B")), nil
		}},
	)
	ln, srv := newTestServer(t, reg)
	defer ln.Close()
	defer srv.Close()

	conn, err := net.DialTimeout("tcp", ln.Addr().String(), 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("GET /a HTTP/1.1\r\nHost: x\r\nConnection: keep-alive\r\n\r\n")); err != nil {
		t.Fatalf("write a: %v", err)
	}
	r := bufio.NewReader(conn)
	drainResponse(t, r)

	if _, err := conn.Write([]byte("GET /b HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n")); err != nil {
		t.Fatalf("write b: %v", err)
	}
	drainResponse(t, r)

	conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	buf := make([]byte, 1)
	if n, err := conn.Read(buf); n != 0 && err == nil {
		t.Fatalf("expected connection closed after Connection: close, got more data")
	}
}

// TestServerOptionsSynthesizesAllow: OPTIONS against a path with GET and
// POST handlers synthesizes an Allow header listing exactly
// {GET, POST, HEAD, OPTIONS}.
func TestServerOptionsSynthesizesAllow(t *testing.T) {
	reg := registry.New(
		registry.HandlerFlag{Method: message.GET, Path: "/both", Handler: okHandler},
		registry.HandlerFlag{Method: message.POST, Path: "/both", Handler: okHandler},
	)
	engine := pipeline.New(&pipeline.HandlersStage{Registry: reg}, &pipeline.FinalRouteStage{})
	req := message.NewRequest()
	req.Method = message.OPTIONS
	req.Path = "/both"

	resp, err := engine.Run(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	allow := resp.Headers.Get("Allow")
	want := map[string]bool{"GET": true, "POST": true, "HEAD": true, "OPTIONS": true}
	got := map[string]bool{}
	for _, tok := range strings.Split(allow, ",") {
		got[strings.TrimSpace(tok)] = true
	}
	if len(got) != len(want) {
		t.Fatalf("Allow = %q, want set %v", allow, want)
	}
	for k := range want {
		if !got[k] {
			t.Fatalf("Allow = %q missing %s", allow, k)
		}
	}
}

func okHandler(ctx context.Context, req *message.Request) (*message.Response, error) {
	return message.NewResponse(200, nil), nil
}

func drainResponse(t *testing.T, r *bufio.Reader) {
	t.Helper()
	status, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read status: %v", err)
	}
	if !strings.HasPrefix(status, "HTTP/1.1 ") {
		t.Fatalf("unexpected status line %q", status)
	}
	contentLength := 0
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read header: %v", err)
		}
		if line == "\r\n" {
			break
		}
		if name, value, ok := strings.Cut(strings.TrimRight(line, "\r\n"), ":"); ok && strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
				contentLength = n
			}
		}
	}
	if contentLength > 0 {
		buf := make([]byte, contentLength)
		if _, err := io.ReadFull(r, buf); err != nil {
			t.Fatalf("read body: %v", err)
		}
	}
}
