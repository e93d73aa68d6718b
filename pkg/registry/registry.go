// Package registry holds the process-wide tables the assembler consults:
// which method names are VM events and what parameters the VM writes
// before calling them, which names are reserved, and which types are
// externally-owned resources that can never be defaulted into a constant.
//
// A Registry is constructed once at startup and handed to every Program.
// Nothing in this package is global mutable state.
package registry

import (
	"fmt"
	"sort"
)

// Param is a single event parameter slot written by the VM before an
// event method runs.
type Param struct {
	Name string `toml:"name" yaml:"name"`
	Type string `toml:"type" yaml:"type"`
}

// Event describes a VM event entry point.
type Event struct {
	Name   string  `toml:"name" yaml:"name"`
	Params []Param `toml:"params" yaml:"params"`
}

// Registry maps event names to their parameter lists and tracks reserved
// symbol names and externally-owned resource types.
type Registry struct {
	events   map[string]Event
	order    []string
	reserved map[string]bool
	external map[string]bool
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		events:   make(map[string]Event),
		reserved: make(map[string]bool),
		external: make(map[string]bool),
	}
}

// AddEvent registers an event. Parameter names become reserved symbol
// names. Registering the same event twice is an error.
func (r *Registry) AddEvent(e Event) error {
	if e.Name == "" {
		return fmt.Errorf("event has no name")
	}
	if _, ok := r.events[e.Name]; ok {
		return fmt.Errorf("event %q already registered", e.Name)
	}
	for _, p := range e.Params {
		if p.Name == "" || p.Type == "" {
			return fmt.Errorf("event %q: parameter needs both name and type", e.Name)
		}
		r.reserved[p.Name] = true
	}
	r.events[e.Name] = e
	r.order = append(r.order, e.Name)
	return nil
}

// Event returns the event registered under name.
func (r *Registry) Event(name string) (Event, bool) {
	e, ok := r.events[name]
	return e, ok
}

// IsEvent reports whether name is a registered event.
func (r *Registry) IsEvent(name string) bool {
	_, ok := r.events[name]
	return ok
}

// Events returns all events in registration order.
func (r *Registry) Events() []Event {
	out := make([]Event, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.events[name])
	}
	return out
}

// Reserve marks a symbol name as reserved.
func (r *Registry) Reserve(names ...string) {
	for _, n := range names {
		r.reserved[n] = true
	}
}

// IsReserved reports whether a symbol name is exempt from namespacing.
func (r *Registry) IsReserved(name string) bool {
	return r.reserved[name]
}

// ReservedNames returns the reserved names, sorted.
func (r *Registry) ReservedNames() []string {
	names := make([]string, 0, len(r.reserved))
	for n := range r.reserved {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// AddExternalType marks a type as an externally-owned resource.
func (r *Registry) AddExternalType(types ...string) {
	for _, t := range types {
		r.external[t] = true
	}
}

// IsExternalType reports whether values of the type are owned outside the
// program (scene objects, player handles) and so cannot be constants.
func (r *Registry) IsExternalType(t string) bool {
	return r.external[t]
}
