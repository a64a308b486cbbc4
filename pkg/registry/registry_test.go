package registry

import (
	"context"
	"testing"

	"github.com/corehttp/corehttp/pkg/message"
)

func echoHandler(ctx context.Context, req *message.Request) (*message.Response, error) {
	return message.NewResponse(200, nil), nil
}

func TestRegisterAndBuildRegistry(t *testing.T) {
	resetForTest()
	defer resetForTest()

	Register(HandlerFlag{Method: message.GET, Path: "/ping", Handler: echoHandler})
	Register(HandlerFlag{Method: message.POST, Path: "/ping", Handler: echoHandler})

	reg := BuildRegistry()

	if _, ok := reg.Lookup("/ping", message.GET); !ok {
		t.Fatal("expected GET /ping to be registered")
	}
	if !reg.HasPath("/ping") {
		t.Fatal("expected HasPath(/ping) to be true")
	}
	if reg.HasPath("/missing") {
		t.Fatal("expected HasPath(/missing) to be false")
	}

	methods := reg.MethodsFor("/ping")
	if len(methods) != 2 {
		t.Fatalf("methods for /ping = %v, want 2 entries", methods)
	}

	all := reg.All()
	if len(all) != 2 {
		t.Fatalf("All() returned %d flags, want 2", len(all))
	}
}

func TestBuildRegistryIsWriteOnce(t *testing.T) {
	resetForTest()
	defer resetForTest()

	Register(HandlerFlag{Method: message.GET, Path: "/a", Handler: echoHandler})
	first := BuildRegistry()
	second := BuildRegistry()

	if first != second {
		t.Fatal("BuildRegistry should return the same instance on subsequent calls")
	}
}

func TestRegisterAfterBuildPanics(t *testing.T) {
	resetForTest()
	defer resetForTest()

	BuildRegistry()

	defer func() {
		if recover() == nil {
			t.Fatal("expected Register after BuildRegistry to panic")
		}
	}()
	Register(HandlerFlag{Method: message.GET, Path: "/late", Handler: echoHandler})
}
