package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/corehttp/corehttp/pkg/message"
	"github.com/corehttp/corehttp/pkg/registry"
)

func TestHandlersStageDispatchesExactMatch(t *testing.T) {
	reg := registry.New(registry.HandlerFlag{
		Method: message.GET,
		Path:   "/hello",
		Handler: func(ctx context.Context, req *message.Request) (*message.Response, error) {
			return message.NewResponse(200, []byte("hi")), nil
		},
	})

	stage := &HandlersStage{Registry: reg}
	req := message.NewRequest()
	req.Method = message.GET
	req.Path = "/hello"

	outcome, resp, err := stage.Handle(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if outcome != Respond {
		t.Fatalf("outcome = %v, want Respond", outcome)
	}
	if string(resp.Body) != "hi" {
		t.Fatalf("body = %q, want hi", resp.Body)
	}
}

func TestHandlersStageSynthesizesHeadFromGet(t *testing.T) {
	reg := registry.New(registry.HandlerFlag{
		Method: message.GET,
		Path:   "/hello",
		Handler: func(ctx context.Context, req *message.Request) (*message.Response, error) {
			return message.NewResponse(200, []byte("hi")), nil
		},
	})

	stage := &HandlersStage{Registry: reg}
	req := message.NewRequest()
	req.Method = message.HEAD
	req.Path = "/hello"

	_, resp, err := stage.Handle(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if resp.Body != nil {
		t.Fatalf("HEAD response body = %q, want empty", resp.Body)
	}
}

func TestHandlersStageOptionsWithCORS(t *testing.T) {
	reg := registry.New(registry.HandlerFlag{
		Method: message.GET,
		Path:   "/hello",
		Handler: func(ctx context.Context, req *message.Request) (*message.Response, error) {
			return message.NewResponse(200, nil), nil
		},
	})

	stage := &HandlersStage{Registry: reg, AllowCORS: true}
	req := message.NewRequest()
	req.Method = message.OPTIONS
	req.Path = "/hello"

	_, resp, err := stage.Handle(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if resp.Headers.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("expected CORS origin header to be set")
	}
	if !strings.Contains(resp.Headers.Get("Allow"), "GET") {
		t.Fatalf("Allow header = %q, want GET present", resp.Headers.Get("Allow"))
	}
}

func TestHandlersStageYieldsOnUnknownPath(t *testing.T) {
	reg := registry.New()
	stage := &HandlersStage{Registry: reg}
	req := message.NewRequest()
	req.Method = message.GET
	req.Path = "/nowhere"

	outcome, resp, err := stage.Handle(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if outcome != Yield || resp != nil {
		t.Fatalf("outcome = %v resp = %v, want Yield/nil", outcome, resp)
	}
}

func TestHandlersStageRecoversPanic(t *testing.T) {
	reg := registry.New(registry.HandlerFlag{
		Method: message.GET,
		Path:   "/boom",
		Handler: func(ctx context.Context, req *message.Request) (*message.Response, error) {
			panic("kaboom")
		},
	})

	stage := &HandlersStage{Registry: reg}
	req := message.NewRequest()
	req.Method = message.GET
	req.Path = "/boom"

	_, _, err := stage.Handle(context.Background(), req, nil)
	if err == nil {
		t.Fatal("expected a protocol-class error from the recovered panic")
	}
}

func TestFinalRouteStageReturns404(t *testing.T) {
	stage := &FinalRouteStage{}
	req := message.NewRequest()
	outcome, resp, err := stage.Handle(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if outcome != Respond || resp.StatusCode != 404 {
		t.Fatalf("outcome=%v status=%d, want Respond/404", outcome, resp.StatusCode)
	}
}

func TestFinalRouteStageFixedResponse(t *testing.T) {
	stage := &FinalRouteStage{Response: message.NewResponse(418, []byte("teapot"))}
	req := message.NewRequest()
	outcome, resp, err := stage.Handle(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if outcome != Respond || resp.StatusCode != 418 {
		t.Fatalf("outcome=%v status=%d, want Respond/418", outcome, resp.StatusCode)
	}
}
