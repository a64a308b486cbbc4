package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorRendering(t *testing.T) {
	err := NewConnectionError("example.com", 443, fmt.Errorf("refused"))
	msg := err.Error()
	for _, want := range []string{"[connection]", "dial", "example.com:443", "refused"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("Error() = %q, missing %q", msg, want)
		}
	}
}

func TestUnwrapAndIs(t *testing.T) {
	cause := fmt.Errorf("underlying")
	err := NewProtocolError("bad frame", cause)
	if !errors.Is(err, cause) {
		t.Fatal("cause not reachable through Unwrap")
	}
	if !errors.Is(err, &Error{Type: ErrorTypeProtocol}) {
		t.Fatal("type-sentinel Is failed")
	}
	if errors.Is(err, &Error{Type: ErrorTypeTLS}) {
		t.Fatal("Is matched the wrong type")
	}
}

func TestStatusCodeMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{NewPreconditionError("If-Match"), 412},
		{&Error{Type: ErrorTypeNotModified}, 304},
		{NewNotFoundError("/missing"), 404},
		{NewValidationError("bad input"), 400},
		{NewUpstreamError("backend:9000", fmt.Errorf("refused")), 502},
		{NewAuthError("expired token"), 500},
		{NewHandlerError("GET /x", fmt.Errorf("boom")), 500},
		{NewProtocolError("garbage", nil), 500},
		{fmt.Errorf("plain error"), 500},
	}
	for _, tc := range cases {
		if got := StatusCode(tc.err); got != tc.want {
			t.Errorf("StatusCode(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestIsTimeoutError(t *testing.T) {
	if !IsTimeoutError(NewTimeoutError("read", 0)) {
		t.Fatal("structured timeout not detected")
	}
	if !IsTimeoutError(context.DeadlineExceeded) {
		t.Fatal("context deadline not detected")
	}
	if IsTimeoutError(fmt.Errorf("something else")) {
		t.Fatal("false positive")
	}
}

func TestGetErrorType(t *testing.T) {
	if got := GetErrorType(NewDNSError("example.com", nil)); got != ErrorTypeDNS {
		t.Fatalf("GetErrorType = %q", got)
	}
	if got := GetErrorType(fmt.Errorf("plain")); got != "" {
		t.Fatalf("GetErrorType(plain) = %q", got)
	}
}

func TestProxyError(t *testing.T) {
	err := NewProxyError("socks5", "hop:1080", "connect", fmt.Errorf("refused"))
	if !strings.Contains(err.Error(), "socks5") || !strings.Contains(err.Error(), "hop:1080") {
		t.Fatalf("Error() = %q", err.Error())
	}
	if !errors.Is(err, err.Cause) {
		t.Fatal("cause not reachable")
	}
}
