// Package codec implements the manual HTTP/1.1 wire format: request-line and
// header parsing, chunked/content-length body framing, body
// classification (JSON/urlencoded/multipart), gzip content negotiation, and
// conditional-request preflight evaluation. The header- and body-reading
// logic is a direct generalization of the client-side response reader in
// pkg/client/client.go to the request side of the wire.
package codec

import (
	"bufio"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/corehttp/corehttp/pkg/constants"
	cerrors "github.com/corehttp/corehttp/pkg/errors"
	"github.com/corehttp/corehttp/pkg/headers"
	"github.com/corehttp/corehttp/pkg/message"
	"github.com/corehttp/corehttp/pkg/stream"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ParseRequestHead reads the request line and headers from conn. The caller
// must hold the stream's lock.
func ParseRequestHead(conn *stream.Conn) (*message.Request, error) {
	r := conn.Reader()

	line, err := readLine(r)
	if err != nil {
		return nil, err
	}
	if line == "" {
		return nil, cerrors.NewProtocolError("empty request line", nil)
	}

	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return nil, cerrors.NewProtocolError("malformed request line: "+line, nil)
	}

	req := message.NewRequest()
	req.Method = message.Method(strings.ToUpper(parts[0]))
	req.RawPath = parts[1]
	req.Version = parts[2]

	u, err := url.ParseRequestURI(parts[1])
	if err != nil {
		return nil, cerrors.NewProtocolError("malformed request target: "+parts[1], err)
	}
	req.Path = u.Path
	req.Query = u.Query()

	if err := readRequestHeaders(r, req.Headers); err != nil {
		return nil, err
	}

	return req, nil
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", cerrors.NewProtocolError("reading line", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readRequestHeaders reads the header block into dst, folding RFC 7230
// continuation lines and capping total header count per constants.MaxHeaderCount.
func readRequestHeaders(r *bufio.Reader, dst *headers.Map) error {
	count := 0
	var lastKey string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return cerrors.NewProtocolError("reading headers", err)
		}
		if line == "\r\n" || line == "\n" {
			break
		}
		trimmed := strings.TrimRight(line, "\r\n")

		if strings.HasPrefix(trimmed, " ") || strings.HasPrefix(trimmed, "\t") {
			if lastKey == "" {
				continue
			}
			vals := dst.Values(lastKey)
			if len(vals) > 0 {
				vals[len(vals)-1] = vals[len(vals)-1] + " " + strings.TrimSpace(trimmed)
			}
			continue
		}

		kv := strings.SplitN(trimmed, ":", 2)
		if len(kv) != 2 {
			continue
		}
		key := textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(kv[0]))
		value := strings.TrimSpace(kv[1])
		dst.Add(key, value)
		lastKey = key

		count++
		if count > constants.MaxHeaderCount {
			return cerrors.NewProtocolError("too many headers", nil)
		}
	}
	return nil
}

// ReadRequestBody reads and classifies the request body according to
// Transfer-Encoding/Content-Length and Content-Type. The caller must hold
// the stream's lock.
func ReadRequestBody(conn *stream.Conn, req *message.Request) error {
	r := conn.Reader()

	te := req.Headers.GetKnown(headers.TransferEncoding)
	cl := req.Headers.GetKnown(headers.ContentLength)

	var body []byte
	var err error
	switch {
	case strings.Contains(strings.ToLower(te), "chunked"):
		body, err = readChunkedBody(r)
	case cl != "":
		n, perr := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
		if perr != nil || n < 0 {
			return cerrors.NewProtocolError("invalid content-length", perr)
		}
		if n > constants.MaxContentLength {
			return cerrors.NewProtocolError("content-length too large", nil)
		}
		body, err = readFixedBody(r, n)
	default:
		body = nil
	}
	if err != nil {
		return err
	}
	req.Body = body
	return classifyBody(req)
}

func readChunkedBody(r *bufio.Reader) ([]byte, error) {
	tp := textproto.NewReader(r)
	var out []byte
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return nil, cerrors.NewProtocolError("reading chunk size", err)
		}
		size, err := strconv.ParseInt(strings.TrimSpace(strings.Split(line, ";")[0]), 16, 64)
		if err != nil {
			return nil, cerrors.NewProtocolError("invalid chunk size", err)
		}
		if size == 0 {
			break
		}
		buf := make([]byte, size)
		if _, err := io.ReadFull(tp.R, buf); err != nil {
			return nil, cerrors.NewIOError("reading chunk body", err)
		}
		out = append(out, buf...)
		crlf := make([]byte, 2)
		if _, err := io.ReadFull(tp.R, crlf); err != nil {
			return nil, cerrors.NewIOError("reading chunk CRLF", err)
		}
	}
	// Trailers.
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return nil, cerrors.NewProtocolError("reading chunk trailer", err)
		}
		if line == "" {
			break
		}
	}
	return out, nil
}

func readFixedBody(r *bufio.Reader, length int64) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, cerrors.NewIOError("reading fixed body", err)
	}
	return buf, nil
}

// classifyBody fills JSONBody/FormBody/MultipartForm based on Content-Type
// (application/json, application/x-www-form-urlencoded, multipart/form-data);
// anything else stays raw bytes.
func classifyBody(req *message.Request) error {
	ct := req.Headers.GetKnown(headers.ContentType)
	if ct == "" || len(req.Body) == 0 {
		req.BodyKind = message.BodyRaw
		return nil
	}
	mediaType, params, err := mime.ParseMediaType(ct)
	if err != nil {
		req.BodyKind = message.BodyRaw
		return nil
	}

	switch {
	case mediaType == "application/json":
		var v map[string]interface{}
		if err := json.Unmarshal(req.Body, &v); err != nil {
			return cerrors.NewValidationError("invalid JSON body: " + err.Error())
		}
		req.JSONBody = v
		req.BodyKind = message.BodyJSON

	case mediaType == "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(req.Body))
		if err != nil {
			return cerrors.NewValidationError("invalid form body: " + err.Error())
		}
		req.FormBody = values
		req.BodyKind = message.BodyURLEncoded

	case mediaType == "multipart/form-data":
		boundary, ok := params["boundary"]
		if !ok {
			return cerrors.NewValidationError("multipart body missing boundary")
		}
		form, err := multipart.NewReader(newBytesReader(req.Body), boundary).ReadForm(constants.DefaultBodyMemLimit)
		if err != nil {
			return cerrors.NewValidationError("invalid multipart body: " + err.Error())
		}
		flat := make(map[string][]string, len(form.Value))
		for k, v := range form.Value {
			flat[k] = v
		}
		req.MultipartForm = flat

		if len(form.File) > 0 {
			files := make(map[string]message.File, len(form.File))
			for name, fhs := range form.File {
				if len(fhs) == 0 {
					continue
				}
				fh := fhs[0]
				f, err := fh.Open()
				if err != nil {
					return cerrors.NewValidationError("opening multipart file " + name + ": " + err.Error())
				}
				data, err := io.ReadAll(f)
				f.Close()
				if err != nil {
					return cerrors.NewValidationError("reading multipart file " + name + ": " + err.Error())
				}
				files[name] = message.File{Filename: fh.Filename, Data: data}
			}
			req.Files = files
		}

		req.BodyKind = message.BodyMultipart

	default:
		req.BodyKind = message.BodyRaw
	}
	return nil
}

func newBytesReader(b []byte) *strings.Reader {
	return strings.NewReader(string(b))
}

// DetectAcceptsGzip reports whether the client's Accept-Encoding header
// includes gzip.
func DetectAcceptsGzip(req *message.Request) bool {
	enc := req.Headers.GetKnown(headers.AcceptEncoding)
	for _, part := range strings.Split(enc, ",") {
		name, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		if strings.TrimSpace(name) == "gzip" {
			return true
		}
	}
	return false
}

// fmtAllow builds the Allow header value from a method set, always
// including HEAD and OPTIONS per the handlers-stage synthesis rule.
func fmtAllow(methods []message.Method) string {
	set := map[message.Method]bool{message.HEAD: true, message.OPTIONS: true}
	for _, m := range methods {
		set[m] = true
	}
	names := make([]string, 0, len(set))
	for m := range set {
		names = append(names, string(m))
	}
	return strings.Join(names, ", ")
}
