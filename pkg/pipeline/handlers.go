package pipeline

import (
	"context"
	"fmt"

	"github.com/corehttp/corehttp/pkg/auth"
	"github.com/corehttp/corehttp/pkg/codec"
	cerrors "github.com/corehttp/corehttp/pkg/errors"
	"github.com/corehttp/corehttp/pkg/message"
	"github.com/corehttp/corehttp/pkg/registry"
	"github.com/corehttp/corehttp/pkg/stream"
)

// HandlersStage dispatches to an exact (path, method) match in the
// registry, synthesizes HEAD (delegates to GET, body dropped) and OPTIONS
// (Allow header) for paths that exist under other methods, and recovers any
// handler panic into a protocol-class error, so the server closes the
// connection without a response rather than crashing its goroutine.
type HandlersStage struct {
	Registry *registry.Registry
	// AllowCORS, when set, adds permissive Access-Control-Allow-* headers to
	// the synthesized OPTIONS response.
	AllowCORS bool
}

func (h *HandlersStage) Name() string { return "Handlers" }

func (h *HandlersStage) Handle(ctx context.Context, req *message.Request, s *stream.Conn) (out Outcome, resp *message.Response, err error) {
	if flag, ok := h.Registry.Lookup(req.Path, req.Method); ok {
		return h.invoke(ctx, flag, req)
	}

	if !h.Registry.HasPath(req.Path) {
		return Yield, nil, nil
	}

	switch req.Method {
	case message.HEAD:
		if flag, ok := h.Registry.Lookup(req.Path, message.GET); ok {
			out, resp, err := h.invoke(ctx, flag, req)
			if resp != nil {
				resp.Body = nil
			}
			return out, resp, err
		}
		return Respond, message.NewResponse(200, nil), nil
	case message.OPTIONS:
		r := message.NewResponse(200, nil)
		codec.WriteAllowHeader(r, h.Registry.MethodsFor(req.Path))
		if h.AllowCORS {
			r.Headers.Set("Access-Control-Allow-Origin", "*")
			r.Headers.Set("Access-Control-Allow-Methods", r.Headers.Get("Allow"))
			r.Headers.Set("Access-Control-Allow-Headers", "*")
		}
		return Respond, r, nil
	default:
		return Yield, nil, nil
	}
}

func (h *HandlersStage) invoke(ctx context.Context, flag registry.HandlerFlag, req *message.Request) (out Outcome, resp *message.Response, err error) {
	if flag.Doc.Auth {
		if authErr := auth.Guard(req); authErr != nil {
			return Respond, nil, authErr
		}
	}

	defer func() {
		if r := recover(); r != nil {
			err = cerrors.NewProtocolError("handler "+string(flag.Method)+" "+flag.Path+" panicked", fmt.Errorf("panic: %v", r))
			resp = nil
		}
	}()

	r, herr := flag.Handler(ctx, req)
	if herr != nil {
		return Respond, nil, cerrors.NewHandlerError(string(flag.Method)+" "+flag.Path, herr)
	}
	return Respond, r, nil
}

// FinalRouteStage is the terminal catch-all: anything reaching it gets
// Response when one is configured, or the default 404 otherwise.
type FinalRouteStage struct {
	Response *message.Response
}

func (*FinalRouteStage) Name() string { return "FinalRoute" }

func (f *FinalRouteStage) Handle(ctx context.Context, req *message.Request, s *stream.Conn) (Outcome, *message.Response, error) {
	if f.Response != nil {
		return Respond, f.Response, nil
	}
	return Respond, notFoundResponse(), nil
}

func notFoundResponse() *message.Response {
	return codec.NotFound()
}

// CustomStage adapts an arbitrary middleware function into a Stage, used
// for auth gates, request logging, or anything application-specific that
// doesn't need its own named stage type.
type CustomStage struct {
	StageName string
	Fn        func(ctx context.Context, req *message.Request, s *stream.Conn) (Outcome, *message.Response, error)
}

func (c *CustomStage) Name() string { return c.StageName }

func (c *CustomStage) Handle(ctx context.Context, req *message.Request, s *stream.Conn) (Outcome, *message.Response, error) {
	return c.Fn(ctx, req, s)
}
