package pipeline

import (
	"context"
	"crypto/sha1"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/corehttp/corehttp/pkg/codec"
	"github.com/corehttp/corehttp/pkg/message"
	"github.com/corehttp/corehttp/pkg/stream"
)

// LocationRouteStage serves files from a directory on disk beneath a URL
// prefix, rejecting any request whose cleaned path would escape that
// directory (path traversal via "..").
type LocationRouteStage struct {
	Prefix string
	Root   string
}

func (l *LocationRouteStage) Name() string { return "LocationRoute" }

func (l *LocationRouteStage) Handle(ctx context.Context, req *message.Request, s *stream.Conn) (Outcome, *message.Response, error) {
	if (req.Method != message.GET && req.Method != message.HEAD) || !strings.HasPrefix(req.Path, l.Prefix) {
		return Yield, nil, nil
	}

	rel := strings.TrimPrefix(req.Path, l.Prefix)
	root := filepath.Clean(l.Root)
	// Join without first cleaning rel against "/": joining a raw ".."-laden
	// path directly onto root is what lets filepath.Join's own Clean collapse
	// past root when the request tries to escape it, which is the condition
	// we need to detect below.
	fullPath := filepath.Join(root, rel)
	if fullPath != root && !strings.HasPrefix(fullPath, root+string(filepath.Separator)) {
		resp := message.NewResponse(500, []byte("url path over directory"))
		resp.Headers.Set("Content-Type", "text/plain")
		return Respond, resp, nil
	}

	data, modTime, servedPath, err := readFileOrIndex(fullPath)
	if err != nil {
		return Yield, nil, nil
	}

	modUnix := modTime.Unix()
	etag := fileETag(modUnix, len(data))
	return Respond, fileResponse(req, data, etag, modUnix, servedPath), nil
}

// readFileOrIndex reads fullPath if it names a regular file, or tries
// index.htm then index.html inside it if it names a directory.
func readFileOrIndex(fullPath string) ([]byte, time.Time, string, error) {
	info, err := os.Stat(fullPath)
	if err != nil {
		return nil, time.Time{}, "", err
	}
	if info.IsDir() {
		for _, name := range []string{"index.htm", "index.html"} {
			candidate := filepath.Join(fullPath, name)
			if data, cinfo, err := readRegularFile(candidate); err == nil {
				return data, cinfo.ModTime(), candidate, nil
			}
		}
		return nil, time.Time{}, "", os.ErrNotExist
	}
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, time.Time{}, "", err
	}
	return data, info.ModTime(), fullPath, nil
}

func readRegularFile(fullPath string) ([]byte, os.FileInfo, error) {
	info, err := os.Stat(fullPath)
	if err != nil || info.IsDir() {
		return nil, nil, os.ErrNotExist
	}
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, nil, err
	}
	return data, info, nil
}

// EmbeddedRouteStage serves files out of an fs.FS (such as an embed.FS, or
// the fstest.MapFS the OpenAPI mount builds) beneath a URL prefix;
// this is also the target OpenAPI/Swagger-UI mounting desugars to.
type EmbeddedRouteStage struct {
	Prefix string
	FS     fs.FS
}

func (e *EmbeddedRouteStage) Name() string { return "EmbeddedRoute" }

func (e *EmbeddedRouteStage) Handle(ctx context.Context, req *message.Request, s *stream.Conn) (Outcome, *message.Response, error) {
	if (req.Method != message.GET && req.Method != message.HEAD) || !strings.HasPrefix(req.Path, e.Prefix) {
		return Yield, nil, nil
	}

	rel := strings.TrimPrefix(req.Path, e.Prefix)
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" {
		rel = "index.html"
	}
	cleaned := path.Clean(rel)
	if strings.HasPrefix(cleaned, "..") {
		return Yield, nil, nil
	}

	data, err := fs.ReadFile(e.FS, cleaned)
	if err != nil {
		return Yield, nil, nil
	}

	etag := embeddedETag(data)
	return Respond, fileResponse(req, data, etag, 0, cleaned), nil
}

func fileResponse(req *message.Request, data []byte, etag string, modUnix int64, name string) *message.Response {
	if result := preflightFor(req, etag, modUnix); result != nil {
		return result
	}

	resp := message.NewResponse(200, data)
	resp.Headers.Set("Content-Type", contentTypeForExt(filepath.Ext(name)))
	resp.Headers.Set("ETag", etag)
	return resp
}

// contentTypeForExt maps a static file's extension to a MIME type.
func contentTypeForExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".htm", ".html":
		return "text/html"
	case ".js":
		return "application/javascript"
	case ".css":
		return "text/css"
	case ".json":
		return "application/json"
	case ".xml":
		return "application/xml"
	case ".pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

// fileETag builds the "HEXMTIME-HEXSIZE" ETag used for filesystem-backed
// responses.
func fileETag(modUnix int64, size int) string {
	return fmt.Sprintf("\"%x-%x\"", modUnix, size)
}

// embeddedETag builds the "HEXCONTENTHASH-HEXSIZE" ETag used for in-memory
// asset responses.
func embeddedETag(data []byte) string {
	sum := sha1.Sum(data)
	return fmt.Sprintf("\"%x-%x\"", sum, len(data))
}

func preflightFor(req *message.Request, etag string, modUnix int64) *message.Response {
	lastModified := time.Unix(modUnix, 0)
	result := codec.Preflight(req, etag, lastModified)
	switch result {
	case codec.PreflightNotModified:
		r := message.NewResponse(304, nil)
		r.Headers.Set("ETag", etag)
		return r
	case codec.PreflightFailed:
		return message.NewResponse(412, []byte("precondition failed"))
	}
	return nil
}
