// Package pipeline implements the composable request pipeline: an ordered
// list of stages, each of which either yields to the next stage, produces a
// final response, or takes ownership of the underlying stream (a WebSocket
// upgrade). Exactly one of those three happens per stage invocation.
package pipeline

import (
	"context"

	"github.com/corehttp/corehttp/pkg/message"
	"github.com/corehttp/corehttp/pkg/stream"
)

// Outcome is the disposition a Stage returns after inspecting a request.
type Outcome int

const (
	// Yield means the next stage should run.
	Yield Outcome = iota
	// Respond means Handle's returned *message.Response is final.
	Respond
	// Owned means the stage has taken over s directly (e.g. a WebSocket
	// upgrade); the engine must not write anything further.
	Owned
)

// Stage is one link in the pipeline.
type Stage interface {
	Name() string
	Handle(ctx context.Context, req *message.Request, s *stream.Conn) (Outcome, *message.Response, error)
}

// Engine runs an immutable, ordered stage list against a request.
type Engine struct {
	stages []Stage
}

// New builds an Engine from a fixed stage list, set once at configuration
// time and never mutated afterward, matching the process-global read-only
// contract the rest of the engine follows.
func New(stages ...Stage) *Engine {
	return &Engine{stages: stages}
}

// Run walks the stage list in order. It returns (resp, nil) on a normal
// response, (nil, nil) if a stage took ownership of the stream, or
// (nil, err) if a stage failed.
//
// A handler or middleware that performs a WebSocket upgrade signals
// ownership by clearing req.Extensions.Stream rather than by returning
// Owned directly (registry.Handler has no Outcome of its own to return);
// the engine treats the slot going from populated to empty as equivalent
// to an explicit Owned.
func (e *Engine) Run(ctx context.Context, req *message.Request, s *stream.Conn) (*message.Response, error) {
	hadStream := req.Extensions.Stream != nil
	for _, stage := range e.stages {
		outcome, resp, err := stage.Handle(ctx, req, s)
		if err != nil {
			return nil, err
		}
		if hadStream && req.Extensions.Stream == nil {
			return nil, nil
		}
		switch outcome {
		case Respond:
			return resp, nil
		case Owned:
			return nil, nil
		case Yield:
			continue
		}
	}
	return notFoundResponse(), nil
}
