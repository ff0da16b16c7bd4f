package engine

import (
	"fmt"
	"slices"
)

// Capabilities maps capability names to the opaque handles their producers returned.
// Builders receive one holding exactly their declared requirements and return one
// holding exactly their declared products.
type Capabilities map[string]any

// Names returns the capability names in sorted order.
func (c Capabilities) Names() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// CapabilityAs returns the handle stored under name as a T.
func CapabilityAs[T any](c Capabilities, name string) (T, error) {
	var zero T
	raw, ok := c[name]
	if !ok {
		return zero, NewPermanentError(fmt.Sprintf("capability %q not provided", name), nil).
			WithCode(ErrCodeMissingCapability).
			WithCapability(name)
	}
	v, ok := raw.(T)
	if !ok {
		return zero, NewPermanentError(
			fmt.Sprintf("capability %q has type %T, want %T", name, raw, zero), nil).
			WithCode(ErrCodeCapabilityType).
			WithCapability(name)
	}
	return v, nil
}

// Registry holds the capabilities produced during one profile run.
// It is append-only and write-once per name. A Registry is owned by a single run
// and mutated only by that run's executor, so it carries no lock.
type Registry struct {
	values map[string]any
	order  []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		values: make(map[string]any),
		order:  make([]string, 0),
	}
}

// Put stores a handle under name. It fails if name was already written.
func (r *Registry) Put(name string, handle any) error {
	if _, exists := r.values[name]; exists {
		return NewInternalError(fmt.Sprintf("capability %q already present in registry", name), nil).
			WithCode(ErrCodeDuplicateCapability).
			WithCapability(name).
			WithOperation("put")
	}
	r.values[name] = handle
	r.order = append(r.order, name)
	return nil
}

// GetMany returns a mapping holding exactly the requested names.
// A missing name means the plan that drove this registry was not validated.
func (r *Registry) GetMany(names []string) (Capabilities, error) {
	out := make(Capabilities, len(names))
	for _, name := range names {
		v, ok := r.values[name]
		if !ok {
			return nil, NewInternalError(fmt.Sprintf("capability %q missing from registry", name), nil).
				WithCode(ErrCodeMissingCapability).
				WithCapability(name).
				WithOperation("get_many")
		}
		out[name] = v
	}
	return out, nil
}

// Get returns the handle stored under name.
func (r *Registry) Get(name string) (any, bool) {
	v, ok := r.values[name]
	return v, ok
}

// Has reports whether name has been written.
func (r *Registry) Has(name string) bool {
	_, ok := r.values[name]
	return ok
}

// Names returns capability names in the order they were written.
func (r *Registry) Names() []string {
	return slices.Clone(r.order)
}

// Len returns the number of stored capabilities.
func (r *Registry) Len() int {
	return len(r.order)
}

// Snapshot returns a copy of every stored capability.
func (r *Registry) Snapshot() Capabilities {
	out := make(Capabilities, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}
