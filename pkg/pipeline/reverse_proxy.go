package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/corehttp/corehttp/pkg/client"
	cerrors "github.com/corehttp/corehttp/pkg/errors"
	"github.com/corehttp/corehttp/pkg/message"
	"github.com/corehttp/corehttp/pkg/stream"
	"github.com/corehttp/corehttp/pkg/transport"
	"github.com/corehttp/corehttp/pkg/websocket"
)

// ReverseProxyStage forwards any request beneath Prefix to Target, stripping
// Prefix from the outgoing path and pointing Host at the upstream. A
// WebSocket upgrade request is detected and handed to a bidirectional
// frame-forwarding loop instead of the ordinary request/response path.
type ReverseProxyStage struct {
	Prefix      string
	Target      client.Target
	RewriteBody bool

	client    *client.Client
	transport *transport.Transport
}

// NewReverseProxy builds a ReverseProxyStage from a prefix and an upstream
// URL such as "https://github.com".
func NewReverseProxy(prefix, targetURL string, rewriteBody bool) (*ReverseProxyStage, error) {
	target, _, err := client.ParseTargetURL(targetURL)
	if err != nil {
		return nil, err
	}
	t := transport.New()
	return &ReverseProxyStage{
		Prefix:      prefix,
		Target:      target,
		RewriteBody: rewriteBody,
		client:      client.NewWithTransport(t),
		transport:   t,
	}, nil
}

func (p *ReverseProxyStage) Name() string { return "ReverseProxy" }

func (p *ReverseProxyStage) Handle(ctx context.Context, req *message.Request, s *stream.Conn) (Outcome, *message.Response, error) {
	if !strings.HasPrefix(req.Path, p.Prefix) {
		return Yield, nil, nil
	}

	outPath := "/" + strings.TrimPrefix(req.Path, p.Prefix)
	if idx := strings.Index(req.RawPath, "?"); idx >= 0 {
		outPath += req.RawPath[idx:]
	}

	if websocket.IsUpgradeRequest(req) {
		return p.proxyWebSocket(ctx, req, s, outPath)
	}

	reqBytes := p.buildUpstreamRequest(req, outPath)
	opts := client.Options{
		Scheme: p.scheme(),
		Host:   p.Target.Host,
		Port:   p.Target.Port,
		Reuse:  true,
	}

	resp, err := p.client.Do(ctx, reqBytes, opts)
	if err != nil {
		return Respond, nil, cerrors.NewUpstreamError(p.Target.String(), err)
	}

	return Respond, p.translateResponse(resp), nil
}

func (p *ReverseProxyStage) scheme() string {
	if p.Target.TLS {
		return "https"
	}
	return "http"
}

func (p *ReverseProxyStage) buildUpstreamRequest(req *message.Request, outPath string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%s %s HTTP/1.1\r\n", req.Method, outPath)
	fmt.Fprintf(&b, "Host: %s\r\n", p.Target.Host)
	req.Headers.Each(func(name string, values []string) {
		if strings.EqualFold(name, "Host") {
			return
		}
		for _, v := range values {
			fmt.Fprintf(&b, "%s: %s\r\n", name, v)
		}
	})
	fmt.Fprintf(&b, "Content-Length: %d\r\n", len(req.Body))
	b.WriteString("\r\n")
	b.Write(req.Body)
	return b.Bytes()
}

// translateResponse converts the upstream raw response into a message.Response.
// The body is always fully decompressed here (rather than passed through on
// the wire as-is) so it rejoins the same opportunistic-compression path
// every other response takes through codec.SerializeResponse: recompression
// is decided once, centrally, by the downstream client's Accept-Encoding,
// which is why Content-Encoding is stripped below rather than copied from
// upstream.
func (p *ReverseProxyStage) translateResponse(resp *client.Response) *message.Response {
	defer resp.Close()
	body, err := resp.DecompressedBody()
	if err != nil {
		body, _ = resp.Body.ReadAll()
	}

	contentType := firstHeader(resp.Headers, "Content-Type")

	if p.RewriteBody && isTextualContentType(contentType) {
		target := strings.TrimSuffix(fmt.Sprintf("%s://%s", p.scheme(), p.Target.Host), "/")
		prefix := strings.TrimSuffix(p.Prefix, "/")
		body = bytes.ReplaceAll(body, []byte(target), []byte(prefix))
	}

	out := message.NewResponse(resp.Code, body)
	for name, values := range resp.Headers {
		if strings.EqualFold(name, "Content-Length") ||
			strings.EqualFold(name, "Content-Encoding") ||
			strings.EqualFold(name, "Transfer-Encoding") ||
			strings.EqualFold(name, "Connection") ||
			strings.EqualFold(name, "Date") {
			continue
		}
		// Set replaces any default NewResponse already seeded under name
		// (Content-Type, Server, ...); further values for the same header
		// (e.g. repeated Set-Cookie) append normally.
		for i, v := range values {
			if i == 0 {
				out.Headers.Set(name, v)
			} else {
				out.Headers.Add(name, v)
			}
		}
	}
	return out
}

func (p *ReverseProxyStage) dialWebSocket(ctx context.Context, outPath string) (*websocket.Conn, error) {
	return websocket.DialClient(ctx, p.transport, websocket.DialTarget{
		Host: p.Target.Host,
		TLS:  p.Target.TLS,
		Port: p.Target.Port,
	}, outPath, nil)
}

func (p *ReverseProxyStage) proxyWebSocket(ctx context.Context, req *message.Request, s *stream.Conn, outPath string) (Outcome, *message.Response, error) {
	upstream, err := p.dialWebSocket(ctx, outPath)
	if err != nil {
		return Respond, nil, cerrors.NewUpstreamError(p.Target.String(), err)
	}
	defer upstream.Close()

	downstream, err := websocket.Accept(s, req)
	if err != nil {
		return Respond, nil, err
	}
	defer downstream.Close()

	req.Extensions.Stream = nil

	done := make(chan struct{}, 2)
	go pumpFrames(upstream, downstream, done)
	go pumpFrames(downstream, upstream, done)
	<-done

	return Owned, nil, nil
}

func pumpFrames(from, to *websocket.Conn, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	for {
		op, payload, err := from.ReadMessage()
		if err != nil {
			return
		}
		if err := to.WriteMessage(op, payload); err != nil {
			return
		}
	}
}

func firstHeader(headers map[string][]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) && len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

func isTextualContentType(ct string) bool {
	ct = strings.ToLower(ct)
	switch {
	case strings.HasPrefix(ct, "text/"),
		strings.Contains(ct, "json"),
		strings.Contains(ct, "javascript"),
		strings.Contains(ct, "xml"):
		return true
	default:
		return false
	}
}
