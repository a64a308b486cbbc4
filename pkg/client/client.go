// Package client is the outbound half of the module: a raw-socket
// HTTP/1.1 sender with per-destination connection reuse, the Session and
// TransferSession containers built on it, and the one-shot Get/Post/...
// helpers.
package client

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/corehttp/corehttp/pkg/buffer"
	"github.com/corehttp/corehttp/pkg/errors"
	"github.com/corehttp/corehttp/pkg/timing"
	"github.com/corehttp/corehttp/pkg/transport"
)

// ProxyConfig aliases the transport's proxy description; ParseProxyURL is
// the usual way to build one.
type ProxyConfig = transport.ProxyConfig

// Options controls a single Do call: the destination, its TLS dressing,
// timeouts, and pooling.
type Options struct {
	Scheme string
	Host   string
	Port   int

	// TLS surface, passed through to the transport.
	SNI                           string
	InsecureTLS                   bool
	RootCAsPEM                    [][]byte
	ClientCertPEM, ClientKeyPEM   []byte
	ClientCertFile, ClientKeyFile string
	TLSConfig                     *tls.Config
	MinTLSVersion, MaxTLSVersion  uint16

	ConnTimeout  time.Duration
	DNSTimeout   time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// BodyLimit is the in-memory threshold before the response body spills
	// to disk (default 4 MiB).
	BodyLimit int64

	// Reuse parks the connection for the next request to the same
	// destination once the response is fully read.
	Reuse bool

	Proxy *ProxyConfig
}

// Response is one parsed HTTP response. Close releases the body's disk
// spill, if any.
type Response struct {
	Status  string // full status line, e.g. "HTTP/1.1 200 OK"
	Code    int
	Proto   string // "HTTP/1.1" or "HTTP/1.0"
	Headers map[string][]string
	Body    *buffer.Buffer

	Metrics timing.Metrics
	Conn    transport.ConnInfo
}

// Header returns the first value for name, canonicalized case-insensitively.
func (r *Response) Header(name string) string {
	if vs := r.Headers[textproto.CanonicalMIMEHeaderKey(name)]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// DecompressedBody returns the body bytes, gunzipping transparently when
// the server sent Content-Encoding: gzip.
func (r *Response) DecompressedBody() ([]byte, error) {
	data, err := r.Body.ReadAll()
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(r.Header("Content-Encoding"), "gzip") {
		return data, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.NewProtocolError("bad gzip body", err)
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

// Close releases the response body's backing storage.
func (r *Response) Close() error {
	return r.Body.Close()
}

// Client sends serialized HTTP/1.1 requests over raw connections obtained
// from its Transport.
type Client struct {
	transport *transport.Transport
}

// New returns a Client with a default-configured transport.
func New() *Client {
	return &Client{transport: transport.New()}
}

// NewWithTransport returns a Client sharing an existing transport (and so
// its connection pool).
func NewWithTransport(t *transport.Transport) *Client {
	return &Client{transport: t}
}

// PoolStats reports the underlying pool's occupancy.
func (c *Client) PoolStats() transport.PoolStats {
	if c.transport == nil {
		return transport.PoolStats{}
	}
	return c.transport.Stats()
}

// Do writes rawReq to the destination in opts and reads back one response.
// The request bytes are sent verbatim; the caller owns framing them.
func (c *Client) Do(ctx context.Context, rawReq []byte, opts Options) (*Response, error) {
	if c.transport == nil {
		return nil, errors.NewValidationError("client has no transport")
	}
	if len(rawReq) == 0 {
		return nil, errors.NewValidationError("empty request")
	}

	sw := timing.Start()
	conn, info, err := c.transport.Connect(ctx, transport.Config{
		Scheme:         opts.Scheme,
		Host:           opts.Host,
		Port:           opts.Port,
		SNI:            opts.SNI,
		InsecureTLS:    opts.InsecureTLS,
		RootCAsPEM:     opts.RootCAsPEM,
		ClientCertPEM:  opts.ClientCertPEM,
		ClientKeyPEM:   opts.ClientKeyPEM,
		ClientCertFile: opts.ClientCertFile,
		ClientKeyFile:  opts.ClientKeyFile,
		TLSConfig:      opts.TLSConfig,
		MinTLSVersion:  opts.MinTLSVersion,
		MaxTLSVersion:  opts.MaxTLSVersion,
		ConnTimeout:    opts.ConnTimeout,
		DNSTimeout:     opts.DNSTimeout,
		Reuse:          opts.Reuse,
		Proxy:          opts.Proxy,
	}, sw)
	if err != nil {
		return nil, err
	}

	// The connection goes back to the pool only when the full response was
	// read and the response did not carry Connection: close; the request's
	// own Connection header is not consulted.
	keep := false
	defer func() {
		if opts.Reuse && keep {
			c.transport.Release(conn, info)
		} else {
			c.transport.Discard(conn, info)
		}
	}()

	if err := writeAll(conn, rawReq, opts.WriteTimeout); err != nil {
		return nil, err
	}

	resp := &Response{
		Body: buffer.New(opts.BodyLimit),
		Conn: *info,
	}
	if err := c.readResponse(conn, resp, requestMethod(rawReq), opts.ReadTimeout, sw); err != nil {
		resp.Body.Close()
		return nil, err
	}
	resp.Metrics = sw.Snapshot()

	keep = !strings.EqualFold(resp.Header("Connection"), "close")
	return resp, nil
}

// requestMethod pulls the method token off a serialized request, needed to
// suppress body reading on HEAD responses.
func requestMethod(rawReq []byte) string {
	if i := bytes.IndexByte(rawReq, ' '); i > 0 {
		return strings.ToUpper(string(rawReq[:i]))
	}
	return ""
}

func writeAll(conn net.Conn, p []byte, timeout time.Duration) error {
	if timeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return errors.NewIOError("setting write deadline", err)
		}
		defer conn.SetWriteDeadline(time.Time{})
	}
	for len(p) > 0 {
		n, err := conn.Write(p)
		if err != nil {
			return errors.NewIOError("writing request", err)
		}
		p = p[n:]
	}
	return nil
}

func (c *Client) readResponse(conn net.Conn, resp *Response, method string, readTimeout time.Duration, sw *timing.Stopwatch) error {
	if readTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return errors.NewIOError("setting read deadline", err)
		}
	}
	tp := textproto.NewReader(bufio.NewReader(conn))

	sw.Begin(timing.PhaseFirstByte)
	status, err := tp.ReadLine()
	sw.End(timing.PhaseFirstByte)
	if err != nil {
		return errors.NewProtocolError("reading status line", err)
	}
	resp.Status = status

	proto, rest, ok := strings.Cut(status, " ")
	if !ok {
		return errors.NewProtocolError("malformed status line", nil)
	}
	codeStr, _, _ := strings.Cut(rest, " ")
	code, err := strconv.Atoi(codeStr)
	if err != nil {
		return errors.NewProtocolError("malformed status code", err)
	}
	resp.Proto = proto
	resp.Code = code

	mime, err := tp.ReadMIMEHeader()
	if err != nil {
		return errors.NewProtocolError("reading response headers", err)
	}
	resp.Headers = map[string][]string(mime)

	return c.readBody(tp, resp, method)
}

// readBody frames the response body: chunked transfer, a fixed
// Content-Length, or nothing. Responses that carry no content by
// definition (HEAD, 1xx, 204, 304) are never read, whatever their headers
// claim, so a keep-alive stream stays aligned on the next response.
func (c *Client) readBody(tp *textproto.Reader, resp *Response, method string) error {
	if method == "HEAD" || resp.Code < 200 || resp.Code == 204 || resp.Code == 304 {
		return nil
	}

	if strings.Contains(strings.ToLower(resp.Header("Transfer-Encoding")), "chunked") {
		return c.readChunked(tp, resp)
	}
	if cl := resp.Header("Content-Length"); cl != "" {
		length, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
		if err != nil || length < 0 {
			return errors.NewProtocolError("bad content-length "+cl, err)
		}
		if _, err := io.CopyN(resp.Body, tp.R, length); err != nil {
			return errors.NewIOError("reading body", err)
		}
	}
	return nil
}

// readChunked decodes a chunked body: hex size line (extensions after ';'
// ignored), that many bytes, a CRLF, repeated until a zero-size chunk;
// trailer fields merge into the response headers.
func (c *Client) readChunked(tp *textproto.Reader, resp *Response) error {
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return errors.NewProtocolError("reading chunk size", err)
		}
		sizeField, _, _ := strings.Cut(line, ";")
		size, err := strconv.ParseInt(strings.TrimSpace(sizeField), 16, 64)
		if err != nil || size < 0 {
			return errors.NewProtocolError("bad chunk size "+line, err)
		}
		if size == 0 {
			break
		}
		if _, err := io.CopyN(resp.Body, tp.R, size); err != nil {
			return errors.NewIOError("reading chunk", err)
		}
		var crlf [2]byte
		if _, err := io.ReadFull(tp.R, crlf[:]); err != nil {
			return errors.NewIOError("reading chunk terminator", err)
		}
	}

	trailer, err := tp.ReadMIMEHeader()
	if err != nil && err != io.EOF {
		return errors.NewProtocolError("reading trailer", err)
	}
	for name, values := range trailer {
		resp.Headers[name] = append(resp.Headers[name], values...)
	}
	return nil
}
