package client

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/corehttp/corehttp/pkg/errors"
	"github.com/corehttp/corehttp/pkg/transport"
)

// Session caches one open stream per (host, tls, port) target. The cache
// itself lives inside the embedded Client's transport pool, keyed by
// destination; Session remembers which target the last NewRequest resolved
// to and hands it back to Do, with Reuse set so the pool serves the same
// stream back out as long as the target stays put.
type Session struct {
	client *Client
	opts   Options
	target Target
	bound  bool
}

// NewSession returns a Session with default connection options.
func NewSession() *Session {
	return &Session{client: New()}
}

// NewSessionWithOptions returns a Session whose dialing behavior (timeouts,
// TLS, proxying) is controlled by opts. Scheme/Host/Port are overwritten by
// NewRequest on every call; the rest of opts passes through untouched.
func NewSessionWithOptions(opts Options) *Session {
	return &Session{client: New(), opts: opts}
}

// NewRequest parses rawURL, resolves its (host, tls, port) target, and
// renders a serialized HTTP/1.1 request with the Host header set to that
// target. The target is remembered so DoRequest dials (or reuses) the
// matching cached stream.
func (s *Session) NewRequest(method, rawURL string, hdrs map[string]string, body []byte) ([]byte, error) {
	target, path, err := ParseTargetURL(rawURL)
	if err != nil {
		return nil, err
	}
	if path == "" {
		path = "/"
	}
	s.target = target
	s.bound = true

	var b bytes.Buffer
	fmt.Fprintf(&b, "%s %s HTTP/1.1\r\n", method, path)
	fmt.Fprintf(&b, "Host: %s\r\n", target.Host)
	for name, value := range hdrs {
		fmt.Fprintf(&b, "%s: %s\r\n", name, value)
	}
	if len(body) > 0 {
		fmt.Fprintf(&b, "Content-Length: %d\r\n", len(body))
	}
	b.WriteString("\r\n")
	b.Write(body)
	return b.Bytes(), nil
}

// DoRequest writes req over the stream cached for the target NewRequest
// last resolved and reads back the response. A Session is meant to be
// reused across calls against the same target; the pool inside the
// embedded transport is what keeps the stream alive between them.
func (s *Session) DoRequest(ctx context.Context, req []byte) (*Response, error) {
	if !s.bound {
		return nil, errors.NewValidationError("session: NewRequest must be called before DoRequest")
	}
	opts := s.opts
	opts.Scheme = schemeFor(s.target)
	opts.Host = s.target.Host
	opts.Port = s.target.Port
	opts.Reuse = true
	return s.client.Do(ctx, req, opts)
}

// PoolStats reports the underlying connection pool's occupancy.
func (s *Session) PoolStats() transport.PoolStats {
	return s.client.PoolStats()
}

func schemeFor(t Target) string {
	if t.TLS {
		return "https"
	}
	return "http"
}

// TransferSession is the proxy-facing variant of Session: instead of one
// cached stream it keeps a pooled Client per destination, so a forward or
// reverse proxy juggling many simultaneous upstreams reuses one stream per
// destination instead of one stream total. Setting Options.Proxy routes
// every destination's dial through the same upstream tunnel.
type TransferSession struct {
	mu      sync.Mutex
	clients map[Target]*Client
	opts    Options
}

// NewTransferSession returns a TransferSession whose per-target Clients all
// share opts (timeouts, TLS, proxy) aside from Scheme/Host/Port, which
// Forward overwrites per destination.
func NewTransferSession(opts Options) *TransferSession {
	return &TransferSession{clients: make(map[Target]*Client), opts: opts}
}

func (ts *TransferSession) clientFor(target Target) *Client {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if c, ok := ts.clients[target]; ok {
		return c
	}
	c := New()
	ts.clients[target] = c
	return c
}

// Forward dials (or reuses) the stream cached for target and performs one
// request/response round trip against it.
func (ts *TransferSession) Forward(ctx context.Context, target Target, req []byte) (*Response, error) {
	opts := ts.opts
	opts.Scheme = schemeFor(target)
	opts.Host = target.Host
	opts.Port = target.Port
	opts.Reuse = true
	return ts.clientFor(target).Do(ctx, req, opts)
}

// PoolStats reports per-target connection pool occupancy.
func (ts *TransferSession) PoolStats() map[Target]transport.PoolStats {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	stats := make(map[Target]transport.PoolStats, len(ts.clients))
	for t, c := range ts.clients {
		stats[t] = c.PoolStats()
	}
	return stats
}

// oneShot builds a throwaway Session, issues a single request, and returns
// its response. Each free-function wrapper below pays the Session setup per
// call; anything latency-sensitive should hold its own Session instead.
func oneShot(ctx context.Context, method, rawURL string, hdrs map[string]string, body []byte) (*Response, error) {
	sess := NewSession()
	req, err := sess.NewRequest(method, rawURL, hdrs, body)
	if err != nil {
		return nil, err
	}
	return sess.DoRequest(ctx, req)
}

// Get issues a one-shot GET request.
func Get(ctx context.Context, rawURL string, hdrs map[string]string) (*Response, error) {
	return oneShot(ctx, "GET", rawURL, hdrs, nil)
}

// Post issues a one-shot POST request with body.
func Post(ctx context.Context, rawURL string, hdrs map[string]string, body []byte) (*Response, error) {
	return oneShot(ctx, "POST", rawURL, hdrs, body)
}

// Put issues a one-shot PUT request with body.
func Put(ctx context.Context, rawURL string, hdrs map[string]string, body []byte) (*Response, error) {
	return oneShot(ctx, "PUT", rawURL, hdrs, body)
}

// Patch issues a one-shot PATCH request with body.
func Patch(ctx context.Context, rawURL string, hdrs map[string]string, body []byte) (*Response, error) {
	return oneShot(ctx, "PATCH", rawURL, hdrs, body)
}

// Delete issues a one-shot DELETE request.
func Delete(ctx context.Context, rawURL string, hdrs map[string]string) (*Response, error) {
	return oneShot(ctx, "DELETE", rawURL, hdrs, nil)
}

// Head issues a one-shot HEAD request.
func Head(ctx context.Context, rawURL string, hdrs map[string]string) (*Response, error) {
	return oneShot(ctx, "HEAD", rawURL, hdrs, nil)
}
