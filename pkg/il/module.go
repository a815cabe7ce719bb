package il

import (
	"slices"
	"sort"
)

// Resolver resolves references to their definitions. Every method returns
// nil when the reference cannot be resolved.
type Resolver interface {
	ResolveType(ref *TypeRef) *TypeDef
	ResolveMethod(ref *MethodRef) *MethodDef
	ResolveField(ref *FieldRef) *FieldDef
}

// Module is a set of type definitions. A Module is safe for concurrent reads
// once it is fully built.
type Module struct {
	Name  string
	types map[string]*TypeDef
}

var _ Resolver = (*Module)(nil)

// NewModule returns a module preloaded with the core library types the
// analysis understands.
func NewModule(name string) *Module {
	m := &Module{Name: name, types: make(map[string]*TypeDef)}
	addCorlib(m)
	return m
}

// AddType registers d, replacing any earlier definition with the same name.
func (m *Module) AddType(d *TypeDef) {
	m.types[d.Name] = d
}

// Type returns the definition named name, or nil.
func (m *Module) Type(name string) *TypeDef {
	return m.types[name]
}

// Types returns all definitions sorted by name.
func (m *Module) Types() []*TypeDef {
	out := make([]*TypeDef, 0, len(m.types))
	for _, d := range m.types {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Methods returns every method that has a body, in type then declaration
// order.
func (m *Module) Methods() []*MethodDef {
	var out []*MethodDef
	for _, d := range m.Types() {
		for _, md := range d.Methods {
			if md.Body != nil {
				out = append(out, md)
			}
		}
	}
	return out
}

// ResolveType resolves a named type or generic instance to its definition.
// Generic parameters, pointers and arrays do not resolve.
func (m *Module) ResolveType(ref *TypeRef) *TypeDef {
	if ref == nil || ref.Kind != TypeNamed {
		return nil
	}
	return m.types[ref.Name]
}

// ResolveMethod finds the method on the declaring type matching name, arity
// and parameter types. When parameter types do not match exactly a unique
// name and arity match is accepted.
func (m *Module) ResolveMethod(ref *MethodRef) *MethodDef {
	if ref == nil {
		return nil
	}
	d := m.ResolveType(ref.DeclaringType)
	if d == nil {
		return nil
	}
	var candidate *MethodDef
	matches := 0
	for _, md := range d.Methods {
		if md.Name != ref.Name || len(md.Params) != len(ref.Params) {
			continue
		}
		if sameParams(md.Params, ref.Params) {
			return md
		}
		candidate = md
		matches++
	}
	if matches == 1 {
		return candidate
	}
	return nil
}

// ResolveField finds the field on the declaring type by name.
func (m *Module) ResolveField(ref *FieldRef) *FieldDef {
	if ref == nil {
		return nil
	}
	d := m.ResolveType(ref.DeclaringType)
	if d == nil {
		return nil
	}
	i := slices.IndexFunc(d.Fields, func(f *FieldDef) bool { return f.Name == ref.Name })
	if i < 0 {
		return nil
	}
	return d.Fields[i]
}

func sameParams(a, b []*ParamDef) bool {
	return slices.EqualFunc(a, b, func(x, y *ParamDef) bool {
		return x.Type.String() == y.Type.String()
	})
}
