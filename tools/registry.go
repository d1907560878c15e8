package tools

import (
	"context"
	"fmt"
	"sort"
)

// Handler executes a tool with decoded JSON arguments. A returned error is
// classified into a failed Result by the registry.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Definition describes a tool to a backend.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Required returns the argument names the tool's schema marks as required.
func (d Definition) Required() []string {
	return requiredKeys(d.Parameters)
}

// Descriptor pairs a tool definition with its handler.
type Descriptor struct {
	Definition
	Handler Handler
}

// Registry is the fixed catalog of tools. It is safe for concurrent use and
// never changes after construction.
type Registry struct {
	env   *Environment
	tools map[string]*Descriptor
	order []string
}

// NewRegistry creates a registry holding the builtin tools bound to env,
// followed by any extra descriptors. Duplicate names panic.
func NewRegistry(env *Environment, extra ...Descriptor) *Registry {
	descs := append(builtins(env), extra...)
	r := &Registry{env: env, tools: make(map[string]*Descriptor, len(descs))}
	for i := range descs {
		d := descs[i]
		if d.Name == "" || d.Handler == nil {
			panic("tools: descriptor needs a name and a handler")
		}
		if _, dup := r.tools[d.Name]; dup {
			panic(fmt.Sprintf("tools: duplicate tool %q", d.Name))
		}
		if d.Parameters == nil {
			d.Parameters = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		r.tools[d.Name] = &d
		r.order = append(r.order, d.Name)
	}
	return r
}

// Environment returns the environment the builtin tools are bound to.
func (r *Registry) Environment() *Environment { return r.env }

// Get returns a tool by name.
func (r *Registry) Get(name string) (*Descriptor, bool) {
	d, ok := r.tools[name]
	return d, ok
}

// Definitions returns every tool definition in registration order.
func (r *Registry) Definitions() []Definition {
	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition)
	}
	return defs
}

// Names returns the sorted tool names.
func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	copy(names, r.order)
	sort.Strings(names)
	return names
}

// Len returns the number of tools.
func (r *Registry) Len() int { return len(r.order) }

// Execute runs the named tool. It never panics and never returns an error:
// every failure, including a panicking handler, comes back as a Result.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (res Result) {
	d, ok := r.tools[name]
	if !ok {
		return Failure(name, KindUnknownTool, fmt.Sprintf("Unknown tool: %s", name))
	}
	if args == nil {
		args = map[string]any{}
	}

	defer func() {
		if p := recover(); p != nil {
			res = Failure(name, KindExecution, fmt.Sprintf("Error executing %s: %v", name, p))
		}
	}()

	payload, err := d.Handler(ctx, args)
	if err != nil {
		return classify(name, err)
	}
	return Success(name, payload)
}
