package codec

import (
	"bytes"
	"fmt"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/corehttp/corehttp/pkg/message"
)

// timeFormat is the RFC 7231 fixed-GMT Date header format.
const timeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

// minCompressibleSize is the threshold below which a response body is
// always sent uncompressed, even when the client advertises gzip support.
const minCompressibleSize = 32

// SerializeResponse renders resp to wire bytes. Compression is an
// opportunistic, serialization-time decision, applied
// whenever all of the following hold: the status isn't 101 (a WebSocket
// handshake response carries no body to compress), the body is at least
// minCompressibleSize bytes, the client advertised Accept-Encoding: gzip,
// and resp doesn't already carry a Content-Encoding. On compression
// failure the codec falls back to sending the body uncompressed rather
// than failing the request. A 304 or 101 response omits Content-Length
// (and its body) entirely.
func SerializeResponse(resp *message.Response, clientAcceptsGzip bool) []byte {
	body := resp.Body
	compressed := false

	hasContentEncoding := resp.Headers != nil && resp.Headers.Get("Content-Encoding") != ""
	eligible := resp.StatusCode != 101 && len(body) >= minCompressibleSize && clientAcceptsGzip && !hasContentEncoding
	if eligible {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(body); err == nil && zw.Close() == nil {
			body = buf.Bytes()
			compressed = true
		}
	}

	omitBody := resp.StatusCode == 304 || resp.StatusCode == 101

	var out bytes.Buffer
	reason := resp.Reason
	if reason == "" {
		reason = message.StatusText(resp.StatusCode)
	}
	fmt.Fprintf(&out, "HTTP/1.1 %d %s\r\n", resp.StatusCode, reason)
	fmt.Fprintf(&out, "Date: %s\r\n", time.Now().UTC().Format(timeFormat))
	if !omitBody {
		fmt.Fprintf(&out, "Content-Length: %d\r\n", len(body))
	}
	if compressed {
		out.WriteString("Content-Encoding: gzip\r\n")
	}

	wroteContentType := false
	if resp.Headers != nil {
		resp.Headers.Each(func(name string, values []string) {
			if name == "Content-Length" || name == "Date" || (name == "Content-Encoding" && compressed) {
				return
			}
			if name == "Content-Type" {
				wroteContentType = true
			}
			for _, v := range values {
				fmt.Fprintf(&out, "%s: %s\r\n", name, v)
			}
		})
	}
	if !wroteContentType && !omitBody {
		out.WriteString("Content-Type: text/plain\r\n")
	}

	out.WriteString("\r\n")
	if !omitBody {
		out.Write(body)
	}
	return out.Bytes()
}

// WriteAllowHeader sets the Allow header to the method list (including the
// implicit HEAD/OPTIONS) used for a 200-empty-body OPTIONS response.
func WriteAllowHeader(resp *message.Response, methods []message.Method) {
	resp.Headers.Set("Allow", fmtAllow(methods))
}

// NotFound builds the default 404 response for an unmatched route.
func NotFound() *message.Response {
	resp := message.NewResponse(404, []byte("404 not found"))
	resp.Headers.Set("Content-Type", "text/html")
	return resp
}
