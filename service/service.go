// Package service holds the provider's routing table: which interfaces are
// exported, under which group and version, and the method table of each.
//
// Descriptors are normalized when registered and never mutated afterwards, so
// the table can be read from any number of connections without locking once
// registration is over.
package service

import (
	"errors"
	"fmt"
	"sort"

	"mini-dubbo/message"
)

// Method is one invocable handler. It receives the request's arguments in
// order and the request's context.
type Method func(ctx *message.Context, args []any) (any, error)

// Descriptor describes one exported interface.
type Descriptor struct {
	Interface string
	Group     string
	Version   string
	Methods   map[string]Method
}

var (
	ErrNoInterface = errors.New("service: descriptor has no interface")
	ErrNoMethods   = errors.New("service: descriptor has no methods")
)

// normalize validates d and returns a private copy with defaults applied.
func (d Descriptor) normalize() (*Descriptor, error) {
	if d.Interface == "" {
		return nil, ErrNoInterface
	}
	if len(d.Methods) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoMethods, d.Interface)
	}
	if d.Version == "" {
		d.Version = message.DefaultVersion
	}
	methods := make(map[string]Method, len(d.Methods))
	for name, m := range d.Methods {
		if m == nil {
			return nil, fmt.Errorf("service: %s#%s has a nil handler", d.Interface, name)
		}
		methods[name] = m
	}
	d.Methods = methods
	return &d, nil
}

// MethodNames returns the sorted method names of d.
func (d *Descriptor) MethodNames() []string {
	names := make([]string, 0, len(d.Methods))
	for name := range d.Methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Table maps interface identity to its descriptor.
type Table struct {
	services map[string]*Descriptor
	order    []string // Interfaces in first-registration order
}

// NewTable registers every descriptor in order. A later descriptor for the
// same interface replaces the earlier one.
func NewTable(descriptors ...Descriptor) (*Table, error) {
	t := &Table{services: make(map[string]*Descriptor)}
	for _, d := range descriptors {
		if err := t.Register(d); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Register adds or replaces a descriptor. It must not be called once the
// table is serving traffic.
func (t *Table) Register(d Descriptor) error {
	nd, err := d.normalize()
	if err != nil {
		return err
	}
	if _, ok := t.services[nd.Interface]; !ok {
		t.order = append(t.order, nd.Interface)
	}
	t.services[nd.Interface] = nd
	return nil
}

// Lookup resolves a request. Every coordinate must match exactly; there is no
// fallback to another group or version.
func (t *Table) Lookup(path, method, group, version string) (*Descriptor, Method, bool) {
	d, ok := t.services[path]
	if !ok {
		return nil, nil, false
	}
	m, ok := d.Methods[method]
	if !ok || d.Group != group || d.Version != version {
		return nil, nil, false
	}
	return d, m, true
}

// Descriptors returns every registered descriptor in registration order.
func (t *Table) Descriptors() []*Descriptor {
	out := make([]*Descriptor, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, t.services[name])
	}
	return out
}

// Len returns the number of exported interfaces.
func (t *Table) Len() int { return len(t.services) }
