package analysis

import (
	"strings"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/715d/trimflow/pkg/il"
)

// NameCache provides efficient caching of canonical names of IL entities.
// Annotation lookups, suppression bookkeeping and reports all key on these
// names. Safe for concurrent use.
type NameCache struct {
	methodCache *xsync.Map[*il.MethodDef, string]
	keyCache    *xsync.Map[*il.MethodDef, string]
	typeCache   *xsync.Map[*il.TypeRef, string]
}

func NewNameCache() *NameCache {
	return &NameCache{
		methodCache: xsync.NewMap[*il.MethodDef, string](),
		keyCache:    xsync.NewMap[*il.MethodDef, string](),
		typeCache:   xsync.NewMap[*il.TypeRef, string](),
	}
}

// ComputeMethodName returns the signature name of m, for example
// "Sample.C::Load(System.String,out System.Object&)". Generic methods carry
// their parameter list: "Sample.C::Make<T>()".
func (c *NameCache) ComputeMethodName(m *il.MethodDef) string {
	if m == nil {
		return ""
	}
	name, ok := c.methodCache.Load(m)
	if ok {
		return name
	}
	name = computeMethodName(m)
	c.methodCache.Store(m, name)
	return name
}

// ComputeMethodKey returns Declaring::Name for m. Overloads share a key.
func (c *NameCache) ComputeMethodKey(m *il.MethodDef) string {
	if m == nil {
		return ""
	}
	key, _ := c.keyCache.LoadOrCompute(m, func() (string, bool) {
		return MethodKey(m.DeclaringType.Name, m.Name), false
	})
	return key
}

// ComputeTypeName returns the name a type is classified under. Generic
// instances map to their definition, and by-ref and pointer types to their
// element type.
func (c *NameCache) ComputeTypeName(t *il.TypeRef) string {
	if t == nil {
		return ""
	}
	name, ok := c.typeCache.Load(t)
	if ok {
		return name
	}
	name = c.computeTypeName(t)
	c.typeCache.Store(t, name)
	return name
}

func (c *NameCache) computeTypeName(t *il.TypeRef) string {
	switch t.Kind {
	case il.TypeByRef, il.TypePointer:
		return c.ComputeTypeName(t.Elem)
	case il.TypeArray:
		elem := c.ComputeTypeName(t.Elem)
		if elem == "" {
			return ""
		}
		return elem + "[]"
	case il.TypeGenericParam:
		return t.Param.String()
	}
	return t.Name
}

// MethodKey joins a declaring type name and a method name.
func MethodKey(declaringType, name string) string {
	return declaringType + "::" + name
}

func computeMethodName(m *il.MethodDef) string {
	var builder strings.Builder
	builder.Grow(128)

	if m.DeclaringType != nil {
		builder.WriteString(m.DeclaringType.Name)
		builder.WriteString("::")
	}
	builder.WriteString(m.Name)
	if len(m.GenericParams) > 0 {
		builder.WriteByte('<')
		builder.WriteString(strings.Join(m.GenericParams, ","))
		builder.WriteByte('>')
	}
	builder.WriteByte('(')
	for i, p := range m.Params {
		if i > 0 {
			builder.WriteByte(',')
		}
		if p.Kind == il.ParamOut {
			builder.WriteString("out ")
		}
		builder.WriteString(p.Type.String())
	}
	builder.WriteByte(')')
	return builder.String()
}
