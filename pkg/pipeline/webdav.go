package pipeline

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"

	"golang.org/x/net/webdav"

	"github.com/corehttp/corehttp/pkg/message"
	"github.com/corehttp/corehttp/pkg/stream"
)

// WebDAVStage bridges requests beneath Prefix into an x/net/webdav.Handler,
// which owns full WebDAV semantics (locking, PROPFIND/PROPPATCH XML,
// directory listing); this module only translates the request and
// response shapes at the boundary.
type WebDAVStage struct {
	Prefix  string
	Handler *webdav.Handler
}

// NewWebDAV builds a WebDAVStage serving root off the local filesystem
// beneath prefix.
func NewWebDAV(prefix, root string) *WebDAVStage {
	return &WebDAVStage{
		Prefix: prefix,
		Handler: &webdav.Handler{
			Prefix:     strings.TrimSuffix(prefix, "/"),
			FileSystem: webdav.Dir(root),
			LockSystem: webdav.NewMemLS(),
		},
	}
}

func (w *WebDAVStage) Name() string { return "WebDAV" }

func (w *WebDAVStage) Handle(ctx context.Context, req *message.Request, s *stream.Conn) (Outcome, *message.Response, error) {
	if !strings.HasPrefix(req.Path, w.Prefix) {
		return Yield, nil, nil
	}

	httpReq, err := http.NewRequestWithContext(ctx, string(req.Method), req.RawPath, bytes.NewReader(req.Body))
	if err != nil {
		return Respond, nil, err
	}
	req.Headers.Each(func(name string, values []string) {
		for _, v := range values {
			httpReq.Header.Add(name, v)
		}
	})
	httpReq.ContentLength = int64(len(req.Body))

	rec := httptest.NewRecorder()
	w.Handler.ServeHTTP(rec, httpReq)

	resp := message.NewResponse(rec.Code, rec.Body.Bytes())
	for name, values := range rec.Header() {
		// Set replaces any default NewResponse already seeded under name
		// (Content-Type, Server, ...); further values append normally.
		for i, v := range values {
			if i == 0 {
				resp.Headers.Set(name, v)
			} else {
				resp.Headers.Add(name, v)
			}
		}
	}
	return Respond, resp, nil
}
