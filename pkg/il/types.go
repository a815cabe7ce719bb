package il

import (
	"strconv"
	"strings"
)

// TypeKind distinguishes the shapes a TypeRef can take.
type TypeKind uint8

const (
	TypeNamed TypeKind = iota
	TypeGenericParam
	TypeByRef
	TypePointer
	TypeArray
)

// Well-known type names.
const (
	VoidTypeName     = "System.Void"
	ObjectTypeName   = "System.Object"
	StringTypeName   = "System.String"
	TypeTypeName     = "System.Type"
	NullableTypeName = "System.Nullable`1"
)

// GenericParam is a type or method generic parameter.
type GenericParam struct {
	Name     string
	Position int
	// Method is set for method-level (!!) parameters.
	Method bool
}

func (p *GenericParam) String() string {
	if p.Method {
		return "!!" + p.Name
	}
	return "!" + p.Name
}

// TypeRef is a reference to a type as it appears in an instruction operand or
// signature.
type TypeRef struct {
	Kind TypeKind

	// Name is the namespace-qualified name for TypeNamed, with a `N arity
	// suffix for generic definitions (System.Nullable`1).
	Name string

	// Args holds generic instantiation arguments.
	Args []*TypeRef

	// Param is set for TypeGenericParam.
	Param *GenericParam

	// Elem is set for TypeByRef, TypePointer and TypeArray.
	Elem *TypeRef
}

// NamedType returns a reference to a non-generic named type.
func NamedType(name string) *TypeRef {
	return &TypeRef{Kind: TypeNamed, Name: name}
}

// IsByRefOrPointer reports whether t is a managed or unmanaged pointer.
func (t *TypeRef) IsByRefOrPointer() bool {
	return t != nil && (t.Kind == TypeByRef || t.Kind == TypePointer)
}

// IsVoid reports whether t denotes System.Void. A nil TypeRef is void.
func (t *TypeRef) IsVoid() bool {
	return t == nil || (t.Kind == TypeNamed && t.Name == VoidTypeName)
}

// IsGenericInstance reports whether t is a named type with generic arguments.
func (t *TypeRef) IsGenericInstance() bool {
	return t != nil && t.Kind == TypeNamed && len(t.Args) > 0
}

// String renders t in assembler syntax.
func (t *TypeRef) String() string {
	if t == nil {
		return "void"
	}
	var b strings.Builder
	t.write(&b)
	return b.String()
}

func (t *TypeRef) write(b *strings.Builder) {
	switch t.Kind {
	case TypeGenericParam:
		b.WriteString(t.Param.String())
	case TypeByRef:
		t.Elem.write(b)
		b.WriteByte('&')
	case TypePointer:
		t.Elem.write(b)
		b.WriteByte('*')
	case TypeArray:
		t.Elem.write(b)
		b.WriteString("[]")
	default:
		b.WriteString(t.Name)
		if len(t.Args) > 0 {
			b.WriteByte('<')
			for i, a := range t.Args {
				if i > 0 {
					b.WriteByte(',')
				}
				a.write(b)
			}
			b.WriteByte('>')
		}
	}
}

// TypeDef is a resolved type definition.
type TypeDef struct {
	Name          string
	ValueType     bool
	GenericParams []string
	Fields        []*FieldDef
	Methods       []*MethodDef
}

// Ref returns a reference to d.
func (d *TypeDef) Ref() *TypeRef { return NamedType(d.Name) }

// IsTypeOf reports whether d is the type with the given full name.
func (d *TypeDef) IsTypeOf(name string) bool { return d != nil && d.Name == name }

func (d *TypeDef) String() string { return d.Name }

// AddField attaches f to d.
func (d *TypeDef) AddField(f *FieldDef) {
	f.DeclaringType = d
	d.Fields = append(d.Fields, f)
}

// AddMethod attaches m to d.
func (d *TypeDef) AddMethod(m *MethodDef) {
	m.DeclaringType = d
	d.Methods = append(d.Methods, m)
}

// FieldDef is a resolved field definition.
type FieldDef struct {
	Name          string
	DeclaringType *TypeDef
	Type          *TypeRef
	Static        bool
}

// FullName returns Declaring::Name.
func (f *FieldDef) FullName() string {
	return f.DeclaringType.Name + "::" + f.Name
}

func (f *FieldDef) String() string { return f.FullName() }

// ParamKind describes how a parameter is passed.
type ParamKind uint8

const (
	ParamByValue ParamKind = iota
	ParamRef
	ParamOut
	ParamIn
)

// ParamDef describes a formal parameter.
type ParamDef struct {
	Name string
	Type *TypeRef
	Kind ParamKind
}

// ReferenceKind returns the passing kind of p, treating a by-ref type without
// an explicit kind as ref.
func (p *ParamDef) ReferenceKind() ParamKind {
	if p.Kind == ParamByValue && p.Type != nil && p.Type.Kind == TypeByRef {
		return ParamRef
	}
	return p.Kind
}

// MethodDef is a resolved method definition.
type MethodDef struct {
	Name          string
	DeclaringType *TypeDef
	Static        bool
	Return        *TypeRef
	Params        []*ParamDef
	GenericParams []string
	Body          *MethodBody

	// Directives are the raw comment directives attached to the method.
	Directives []string
}

// HasThis reports whether the method takes an implicit this argument.
func (m *MethodDef) HasThis() bool { return !m.Static }

// ReturnsVoid reports whether the method returns nothing.
func (m *MethodDef) ReturnsVoid() bool { return m.Return.IsVoid() }

// IsConstructor reports whether m is an instance constructor.
func (m *MethodDef) IsConstructor() bool { return m.Name == ".ctor" }

// ParameterType returns the type of the source parameter at index, or nil.
func (m *MethodDef) ParameterType(index int) *TypeRef {
	if index < 0 || index >= len(m.Params) {
		return nil
	}
	return m.Params[index].Type
}

// FullName returns Declaring::Name(paramtypes).
func (m *MethodDef) FullName() string {
	return m.DeclaringType.Name + "::" + m.Name + "(" + paramList(m.Params) + ")"
}

func (m *MethodDef) String() string { return m.FullName() }

// Ref returns a MethodRef matching m.
func (m *MethodDef) Ref() *MethodRef {
	return &MethodRef{
		DeclaringType: m.DeclaringType.Ref(),
		Name:          m.Name,
		HasThis:       m.HasThis(),
		Return:        m.Return,
		Params:        m.Params,
	}
}

// MethodRef is a reference to a method from a call site or token.
type MethodRef struct {
	DeclaringType *TypeRef
	Name          string
	HasThis       bool
	ExplicitThis  bool
	Return        *TypeRef
	Params        []*ParamDef
}

// ReturnsVoid reports whether the referenced method returns nothing.
func (r *MethodRef) ReturnsVoid() bool { return r.Return.IsVoid() }

// ParameterReferenceKind returns the passing kind of the source parameter at
// index.
func (r *MethodRef) ParameterReferenceKind(index int) ParamKind {
	if index < 0 || index >= len(r.Params) {
		return ParamByValue
	}
	return r.Params[index].ReferenceKind()
}

// FullName returns Declaring::Name(paramtypes).
func (r *MethodRef) FullName() string {
	decl := ""
	if r.DeclaringType != nil {
		decl = r.DeclaringType.String() + "::"
	}
	return decl + r.Name + "(" + paramList(r.Params) + ")"
}

func (r *MethodRef) String() string { return r.FullName() }

// FieldRef is a reference to a field from an instruction operand.
type FieldRef struct {
	DeclaringType *TypeRef
	Name          string
	Type          *TypeRef
}

// FullName returns Declaring::Name.
func (r *FieldRef) FullName() string {
	return r.DeclaringType.String() + "::" + r.Name
}

func (r *FieldRef) String() string { return r.FullName() }

// Local is a declared local variable slot.
type Local struct {
	Index int
	Type  *TypeRef
	Name  string
}

func (l *Local) String() string {
	if l.Name != "" {
		return l.Name
	}
	return "V_" + strconv.Itoa(l.Index)
}

func paramList(params []*ParamDef) string {
	parts := make([]string, len(params))
	for i, p := range params {
		s := p.Type.String()
		if p.Kind == ParamOut {
			s = "out " + s
		}
		parts[i] = s
	}
	return strings.Join(parts, ",")
}
