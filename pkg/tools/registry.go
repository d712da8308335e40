package tools

import (
	"fmt"
	"sort"
)

// Registry is an immutable catalog of tools, built once at startup.
// Because it never changes after construction it needs no locking.
type Registry struct {
	byName map[string]Tool
	names  []string
}

// NewRegistry builds a registry from the given tools. Duplicate or empty
// names are a programming error and are rejected.
func NewRegistry(list ...Tool) (*Registry, error) {
	r := &Registry{byName: make(map[string]Tool, len(list))}
	for _, t := range list {
		if t.Name == "" {
			return nil, fmt.Errorf("tools: tool with empty name")
		}
		if _, dup := r.byName[t.Name]; dup {
			return nil, fmt.Errorf("tools: duplicate tool %q", t.Name)
		}
		r.byName[t.Name] = t
		r.names = append(r.names, t.Name)
	}
	sort.Strings(r.names)
	return r, nil
}

// Lookup returns the named tool.
func (r *Registry) Lookup(name string) (Tool, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// Names returns all tool names in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(r.byName)
}

// Schemas returns function schemas for the named tools, suitable for a
// session.update or chat completion request. Names not in the registry
// are skipped. A nil or empty names slice selects every tool.
func (r *Registry) Schemas(names []string) []map[string]interface{} {
	if len(names) == 0 {
		names = r.names
	}
	out := make([]map[string]interface{}, 0, len(names))
	for _, name := range names {
		if t, ok := r.byName[name]; ok {
			out = append(out, t.Schema())
		}
	}
	return out
}

// Filter returns a new registry holding only the named tools, preserving
// each tool's configuration. Unknown names are ignored, so an agent
// config can reference tools that this deployment does not carry.
func (r *Registry) Filter(names []string) *Registry {
	sub := &Registry{byName: make(map[string]Tool, len(names))}
	for _, name := range names {
		if t, ok := r.byName[name]; ok {
			if _, dup := sub.byName[name]; !dup {
				sub.byName[name] = t
				sub.names = append(sub.names, name)
			}
		}
	}
	sort.Strings(sub.names)
	return sub
}
