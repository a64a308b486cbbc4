package codec

import (
	"bytes"
	"mime/multipart"
	"net"
	"strconv"
	"strings"
	"testing"

	"github.com/corehttp/corehttp/pkg/message"
	"github.com/corehttp/corehttp/pkg/stream"
)

func parseRequest(t *testing.T, raw string) *message.Request {
	t.Helper()
	server, client := net.Pipe()
	defer server.Close()

	go func() {
		client.Write([]byte(raw))
		client.Close()
	}()

	conn := stream.New(server)
	conn.Lock()
	req, err := ParseRequestHead(conn)
	if err != nil {
		conn.Unlock()
		t.Fatalf("ParseRequestHead: %v", err)
	}
	if err := ReadRequestBody(conn, req); err != nil {
		conn.Unlock()
		t.Fatalf("ReadRequestBody: %v", err)
	}
	conn.Unlock()
	return req
}

func TestParseRequestHeadBasics(t *testing.T) {
	raw := "GET /foo/bar?x=1 HTTP/1.1\r\nHost: example.com\r\nAccept-Encoding: gzip, deflate\r\n\r\n"
	req := parseRequest(t, raw)

	if req.Method != message.GET {
		t.Fatalf("method = %v, want GET", req.Method)
	}
	if req.Path != "/foo/bar" {
		t.Fatalf("path = %q, want /foo/bar", req.Path)
	}
	if req.Query.Get("x") != "1" {
		t.Fatalf("query x = %q, want 1", req.Query.Get("x"))
	}
	if !DetectAcceptsGzip(req) {
		t.Fatal("expected gzip to be detected in Accept-Encoding")
	}
}

func TestReadRequestBodyFixedLength(t *testing.T) {
	body := "hello world"
	raw := "POST /echo HTTP/1.1\r\nHost: example.com\r\nContent-Length: " +
		strconv.Itoa(len(body)) + "\r\n\r\n" + body
	req := parseRequest(t, raw)

	if string(req.Body) != body {
		t.Fatalf("body = %q, want %q", req.Body, body)
	}
}

func TestReadRequestBodyChunked(t *testing.T) {
	raw := "POST /echo HTTP/1.1\r\nHost: example.com\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"4\r\nWiki\r\n5\r\npedia\r\n0\r\n\r\n"
	req := parseRequest(t, raw)

	if string(req.Body) != "Wikipedia" {
		t.Fatalf("body = %q, want %q", req.Body, "Wikipedia")
	}
}

func TestClassifyBodyJSON(t *testing.T) {
	body := `{"name":"gopher"}`
	raw := "POST /api HTTP/1.1\r\nHost: example.com\r\nContent-Type: application/json\r\nContent-Length: " +
		strconv.Itoa(len(body)) + "\r\n\r\n" + body
	req := parseRequest(t, raw)

	if req.BodyKind != message.BodyJSON {
		t.Fatalf("body kind = %v, want BodyJSON", req.BodyKind)
	}
	if req.JSONBody["name"] != "gopher" {
		t.Fatalf("json body name = %v, want gopher", req.JSONBody["name"])
	}
}

func TestClassifyBodyMultipartWithFile(t *testing.T) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("title", "my upload"); err != nil {
		t.Fatalf("WriteField: %v", err)
	}
	fw, err := mw.CreateFormFile("attachment", "notes.txt")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := fw.Write([]byte("file contents")); err != nil {
		t.Fatalf("writing file contents: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("closing multipart writer: %v", err)
	}

	raw := "POST /upload HTTP/1.1\r\nHost: example.com\r\nContent-Type: " + mw.FormDataContentType() +
		"\r\nContent-Length: " + strconv.Itoa(buf.Len()) + "\r\n\r\n" + buf.String()
	req := parseRequest(t, raw)

	if req.BodyKind != message.BodyMultipart {
		t.Fatalf("body kind = %v, want BodyMultipart", req.BodyKind)
	}
	if got := req.MultipartForm["title"]; len(got) != 1 || got[0] != "my upload" {
		t.Fatalf("multipart field title = %v", got)
	}
	file, ok := req.Files["attachment"]
	if !ok {
		t.Fatal("expected an attachment file to be populated")
	}
	if file.Filename != "notes.txt" {
		t.Fatalf("filename = %q, want notes.txt", file.Filename)
	}
	if string(file.Data) != "file contents" {
		t.Fatalf("file data = %q, want %q", file.Data, "file contents")
	}
}

func TestReadRequestHeadersFoldsContinuation(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nHost: example.com\r\nX-Long: part-one\r\n part-two\r\n\r\n"
	req := parseRequest(t, raw)

	got := req.Headers.Get("X-Long")
	if !strings.Contains(got, "part-one") || !strings.Contains(got, "part-two") {
		t.Fatalf("folded header = %q, want both continuation parts", got)
	}
}

func TestFmtAllowIncludesHeadAndOptions(t *testing.T) {
	allow := fmtAllow([]message.Method{message.GET, message.POST})
	for _, want := range []string{"GET", "POST", "HEAD", "OPTIONS"} {
		if !strings.Contains(allow, want) {
			t.Fatalf("Allow header %q missing %q", allow, want)
		}
	}
}
