// Package registry holds the process-global handler table. Handlers
// register themselves by calling Register at package-init time (typically
// from an init() func in the package that defines them); BuildRegistry
// freezes the accumulated registrations into a read-only
// path -> method -> HandlerFlag table exactly once.
package registry

import (
	"context"
	"sync"

	"github.com/corehttp/corehttp/pkg/message"
)

// Handler processes a single request and produces a response.
type Handler func(ctx context.Context, req *message.Request) (*message.Response, error)

// Doc carries the metadata used to synthesize an OpenAPI document entry for
// a handler; all fields are optional.
type Doc struct {
	// Show includes the handler in the synthesized OpenAPI document.
	Show        bool
	Summary     string
	Description string
	Tags        []string
	// Args is a JSON-encoded OpenAPI parameter list for the operation.
	Args string
	// Auth, when true, requires a valid Bearer token before the handler runs.
	Auth bool
}

// HandlerFlag describes one registered route.
type HandlerFlag struct {
	Method  message.Method
	Path    string
	Handler Handler
	Doc     Doc
}

var (
	mu      sync.Mutex
	pending []HandlerFlag
	built   *Registry
)

// Register records a handler for later inclusion in the built registry.
// It panics if called after BuildRegistry, matching the write-once contract:
// registration is a startup-time activity, not a runtime one.
func Register(f HandlerFlag) {
	mu.Lock()
	defer mu.Unlock()
	if built != nil {
		panic("registry: Register called after BuildRegistry")
	}
	pending = append(pending, f)
}

// Registry is the frozen path -> method -> HandlerFlag lookup table.
// It is safe for concurrent read-only use without locking.
type Registry struct {
	table map[string]map[message.Method]HandlerFlag
}

// BuildRegistry freezes all registrations made so far. Subsequent calls
// return the same instance; the set of registered routes cannot grow after
// the first call.
func BuildRegistry() *Registry {
	mu.Lock()
	defer mu.Unlock()
	if built != nil {
		return built
	}
	table := make(map[string]map[message.Method]HandlerFlag)
	for _, f := range pending {
		if table[f.Path] == nil {
			table[f.Path] = make(map[message.Method]HandlerFlag)
		}
		table[f.Path][f.Method] = f
	}
	built = &Registry{table: table}
	return built
}

// New builds a standalone Registry directly from flags, bypassing the
// process-global pending/built singleton. Useful for a sub-pipeline mounted
// against its own handler set, or for tests that want a fresh table without
// touching process-wide registration state.
func New(flags ...HandlerFlag) *Registry {
	table := make(map[string]map[message.Method]HandlerFlag)
	for _, f := range flags {
		if table[f.Path] == nil {
			table[f.Path] = make(map[message.Method]HandlerFlag)
		}
		table[f.Path][f.Method] = f
	}
	return &Registry{table: table}
}

// Lookup returns the handler registered for an exact (path, method) pair.
func (r *Registry) Lookup(path string, method message.Method) (HandlerFlag, bool) {
	methods, ok := r.table[path]
	if !ok {
		return HandlerFlag{}, false
	}
	f, ok := methods[method]
	return f, ok
}

// MethodsFor returns the set of methods registered for a path, used to
// synthesize OPTIONS/Allow responses.
func (r *Registry) MethodsFor(path string) []message.Method {
	methods, ok := r.table[path]
	if !ok {
		return nil
	}
	out := make([]message.Method, 0, len(methods))
	for m := range methods {
		out = append(out, m)
	}
	return out
}

// HasPath reports whether any method is registered for path.
func (r *Registry) HasPath(path string) bool {
	_, ok := r.table[path]
	return ok
}

// All returns every registered handler, for OpenAPI document synthesis.
func (r *Registry) All() []HandlerFlag {
	out := make([]HandlerFlag, 0)
	for _, methods := range r.table {
		for _, f := range methods {
			out = append(out, f)
		}
	}
	return out
}

// resetForTest clears registration state; only for use from _test.go files
// in this package.
func resetForTest() {
	mu.Lock()
	defer mu.Unlock()
	pending = nil
	built = nil
}
