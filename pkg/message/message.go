// Package message defines the Request/Response data model shared by the
// codec, pipeline, and server packages.
package message

import (
	"net/url"

	"github.com/corehttp/corehttp/pkg/config"
	"github.com/corehttp/corehttp/pkg/headers"
)

// Method is an HTTP request method, extended beyond the original six-verb
// set to cover the WebDAV bridge stage.
type Method string

const (
	GET       Method = "GET"
	POST      Method = "POST"
	PUT       Method = "PUT"
	DELETE    Method = "DELETE"
	OPTIONS   Method = "OPTIONS"
	HEAD      Method = "HEAD"
	PATCH     Method = "PATCH"
	TRACE     Method = "TRACE"
	CONNECT   Method = "CONNECT"
	PROPFIND  Method = "PROPFIND"
	PROPPATCH Method = "PROPPATCH"
	MKCOL     Method = "MKCOL"
	COPY      Method = "COPY"
	MOVE      Method = "MOVE"
	LOCK      Method = "LOCK"
	UNLOCK    Method = "UNLOCK"
)

// BodyKind classifies how a request body was parsed.
type BodyKind int

const (
	BodyNone BodyKind = iota
	BodyRaw
	BodyJSON
	BodyURLEncoded
	BodyMultipart
)

// Extensions carries connection-scoped objects a handler or stage may need.
// It is a fixed struct of optional fields rather than a generic type-keyed
// bag: the set of things a request can carry (peer address, a live stream
// handle for protocol upgrades) is small and known ahead of time, and a
// struct is both cheaper and easier to reason about than reflection-based
// storage.
type Extensions struct {
	PeerAddr string
	Stream   interface{} // *stream.Conn; interface{} here to avoid an import cycle
	Claims   interface{} // *jwt.RegisteredClaims-equivalent, set by pkg/auth on success
}

// File is one uploaded file extracted from a multipart/form-data body.
type File struct {
	Filename string
	Data     []byte
}

// Request is a fully parsed HTTP/1.1 request.
type Request struct {
	Method        Method
	Path          string // decoded path, no query string
	RawPath       string // as received on the wire
	Query         url.Values
	Version       string
	Headers       *headers.Map
	Body          []byte
	BodyKind      BodyKind
	JSONBody      map[string]interface{}
	FormBody      url.Values
	MultipartForm map[string][]string
	Files         map[string]File
	Extensions    Extensions
}

// NewRequest returns an empty Request with an initialized header map.
func NewRequest() *Request {
	return &Request{Headers: headers.New(), Query: url.Values{}}
}

// Response is a server-produced HTTP/1.1 response awaiting serialization.
type Response struct {
	StatusCode int
	Reason     string
	Headers    *headers.Map
	Body       []byte
}

// NewResponse returns a Response seeded with the default headers every
// response starts from: Server, Connection: keep-alive, Content-Type,
// Pragma: no-cache, and Cache-Control: no-cache. Date, Content-Length, and
// Content-Encoding are computed at serialization time, not stored here
// (codec.SerializeResponse).
func NewResponse(status int, body []byte) *Response {
	h := headers.New()
	h.Set("Server", config.ServerProduct())
	h.Set("Connection", "keep-alive")
	h.Set("Content-Type", "text/plain")
	h.Set("Pragma", "no-cache")
	h.Set("Cache-Control", "no-cache")
	return &Response{StatusCode: status, Headers: h, Body: body}
}

// StatusText returns a conventional reason phrase for common status codes.
func StatusText(code int) string {
	switch code {
	case 200:
		return "OK"
	case 201:
		return "Created"
	case 204:
		return "No Content"
	case 206:
		return "Partial Content"
	case 301:
		return "Moved Permanently"
	case 302:
		return "Found"
	case 304:
		return "Not Modified"
	case 400:
		return "Bad Request"
	case 401:
		return "Unauthorized"
	case 403:
		return "Forbidden"
	case 404:
		return "Not Found"
	case 405:
		return "Method Not Allowed"
	case 412:
		return "Precondition Failed"
	case 500:
		return "Internal Server Error"
	case 502:
		return "Bad Gateway"
	case 503:
		return "Service Unavailable"
	default:
		return "Unknown"
	}
}
