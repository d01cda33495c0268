// Package tools holds the function-calling surface exposed to the live
// model: a registry of named tools and a coordinator that deduplicates
// concurrent calls and caches recent results.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

type Handler func(ctx context.Context, args map[string]any) (any, error)

type Definition struct {
	Name        string
	Description string
	// Parameters is a JSON-schema object describing the tool arguments,
	// in the shape the model API expects.
	Parameters map[string]any
	Handler    Handler
}

// Result is the normalized outcome of a tool execution: exactly one of
// Result or Err is set.
type Result struct {
	Result any
	Err    string
}

func (r Result) IsError() bool { return r.Err != "" }

// Response renders the result as the map sent back to the model.
func (r Result) Response() map[string]any {
	if r.Err != "" {
		return map[string]any{"error": r.Err}
	}
	return map[string]any{"result": r.Result}
}

type Registry struct {
	mu     sync.RWMutex
	byName map[string]Definition
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Definition)}
}

// Register adds or replaces a tool. Re-registering a name is not an error;
// the newest definition wins.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name must be non-empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool %q has no handler", def.Name)
	}
	r.mu.Lock()
	r.byName[def.Name] = def
	r.mu.Unlock()
	return nil
}

func (r *Registry) Get(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.byName[name]
	return def, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// All returns the registered definitions sorted by name.
func (r *Registry) All() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.byName))
	for _, def := range r.byName {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute runs the named tool and always returns a normalized Result.
// Unknown tools, handler errors, and handler panics all surface as the
// error shape rather than propagating.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (res Result) {
	def, ok := r.Get(name)
	if !ok {
		return Result{Err: fmt.Sprintf("unknown tool %q", name)}
	}

	defer func() {
		if v := recover(); v != nil {
			res = Result{Err: fmt.Sprintf("tool %q panicked: %v", name, v)}
		}
	}()

	out, err := def.Handler(ctx, args)
	if err != nil {
		return Result{Err: err.Error()}
	}
	return Result{Result: out}
}
