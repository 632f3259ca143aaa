package transform

import (
	"fmt"
	"sort"

	"github.com/chazu/flicker/pkg/runtime"
)

// Names of the synthetic entries injected into every registry. They exist
// so the validator can treat camera sources and output sinks like any other
// operation.
const (
	Camera = "camera"
	Output = "out"
)

// Param is a user-facing parameter of an operation.
type Param struct {
	Name    string
	Default any
}

// Spec describes one operation.
type Spec struct {
	Name      string
	Kind      Kind
	Params    []Param
	Synthetic bool // injected by the registry, not declared by the runtime
}

// Arity returns the number of input edges the operation consumes.
func (s Spec) Arity() int {
	return s.Kind.Arity()
}

// ParamNames returns the parameter names in declared order.
func (s Spec) ParamNames() []string {
	names := make([]string, len(s.Params))
	for i, p := range s.Params {
		names[i] = p.Name
	}
	return names
}

// Defaults returns the default values, index-aligned with ParamNames.
func (s Spec) Defaults() []any {
	defs := make([]any, len(s.Params))
	for i, p := range s.Params {
		defs[i] = p.Default
	}
	return defs
}

// HasParam reports whether name is a declared parameter.
func (s Spec) HasParam(name string) bool {
	for _, p := range s.Params {
		if p.Name == name {
			return true
		}
	}
	return false
}

// sameShape reports whether two specs agree on kind and parameter order.
func sameShape(a, b Spec) bool {
	if a.Kind != b.Kind || len(a.Params) != len(b.Params) {
		return false
	}
	for i := range a.Params {
		if a.Params[i].Name != b.Params[i].Name {
			return false
		}
	}
	return true
}

// syntheticSpecs are injected into every registry.
func syntheticSpecs() []Spec {
	return []Spec{
		{Name: Camera, Kind: KindSource, Params: []Param{{Name: "index", Default: 0.0}}, Synthetic: true},
		{Name: Output, Kind: KindColor, Synthetic: true},
	}
}

// ConsistencyError reports an override or synthetic entry that disagrees
// with what the runtime declares for the same name.
type ConsistencyError struct {
	Name     string
	Declared Spec
	Override Spec
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("transform %q: override (%s %v) diverges from runtime declaration (%s %v)",
		e.Name, e.Override.Kind, e.Override.ParamNames(), e.Declared.Kind, e.Declared.ParamNames())
}

// Registry maps operation names to their specs. It is immutable after New.
type Registry struct {
	specs map[string]Spec
}

// New builds a registry from runtime declarations plus the synthetic camera
// and output entries. Overrides replace a declared spec's defaults; an
// override or synthetic entry whose kind or parameter order differs from
// the runtime's own declaration is a fatal *ConsistencyError.
func New(decls []runtime.Declaration, overrides ...Spec) (*Registry, error) {
	r := &Registry{specs: make(map[string]Spec, len(decls)+2)}

	for _, d := range decls {
		spec, err := specFromDeclaration(d)
		if err != nil {
			return nil, err
		}
		if _, dup := r.specs[spec.Name]; dup {
			return nil, fmt.Errorf("transform %q: declared more than once", spec.Name)
		}
		r.specs[spec.Name] = spec
	}

	for _, o := range append(syntheticSpecs(), overrides...) {
		if o.Name == "" {
			return nil, fmt.Errorf("transform override with empty name")
		}
		if declared, ok := r.specs[o.Name]; ok && !declared.Synthetic {
			if !sameShape(declared, o) {
				return nil, &ConsistencyError{Name: o.Name, Declared: declared, Override: o}
			}
		}
		r.specs[o.Name] = o
	}

	return r, nil
}

// MustNew is like New but panics on error. Intended for static tables.
func MustNew(decls []runtime.Declaration, overrides ...Spec) *Registry {
	r, err := New(decls, overrides...)
	if err != nil {
		panic(err)
	}
	return r
}

// specFromDeclaration converts one runtime declaration. Binary kinds
// declare the other chain as their first input; it is not a user parameter.
func specFromDeclaration(d runtime.Declaration) (Spec, error) {
	if d.Name == "" {
		return Spec{}, fmt.Errorf("transform declaration with empty name")
	}
	kind, ok := ParseKind(d.Type)
	if !ok {
		return Spec{}, fmt.Errorf("transform %q: unknown type %q", d.Name, d.Type)
	}

	inputs := d.Inputs
	if kind.Binary() {
		if len(inputs) == 0 {
			return Spec{}, fmt.Errorf("transform %q: %s declares no chain input", d.Name, kind)
		}
		inputs = inputs[1:]
	}

	params := make([]Param, len(inputs))
	seen := make(map[string]bool, len(inputs))
	for i, in := range inputs {
		if seen[in.Name] {
			return Spec{}, fmt.Errorf("transform %q: duplicate parameter %q", d.Name, in.Name)
		}
		seen[in.Name] = true
		params[i] = Param{Name: in.Name, Default: in.Default}
	}

	return Spec{Name: d.Name, Kind: kind, Params: params}, nil
}

// Lookup returns the Spec for an operation name.
func (r *Registry) Lookup(name string) (Spec, bool) {
	if r == nil {
		return Spec{}, false
	}
	s, ok := r.specs[name]
	return s, ok
}

// ArityOf returns the wiring arity of an operation.
func (r *Registry) ArityOf(name string) (int, bool) {
	s, ok := r.Lookup(name)
	if !ok {
		return 0, false
	}
	return s.Arity(), true
}

// KindOf returns the structural kind of an operation.
func (r *Registry) KindOf(name string) (Kind, bool) {
	s, ok := r.Lookup(name)
	return s.Kind, ok
}

// OrderedParamNames returns the user parameters of an operation in
// declared order, or nil if the operation is unknown.
func (r *Registry) OrderedParamNames(name string) []string {
	s, ok := r.Lookup(name)
	if !ok {
		return nil
	}
	return s.ParamNames()
}

// DefaultsFor returns parameter defaults index-aligned with
// OrderedParamNames.
func (r *Registry) DefaultsFor(name string) []any {
	s, ok := r.Lookup(name)
	if !ok {
		return nil
	}
	return s.Defaults()
}

// Names returns all operation names, sorted.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.specs))
	for n := range r.specs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of operations, synthetic entries included.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.specs)
}
