package il

// Core library type names the analysis treats specially.
const (
	RuntimeTypeHandleName   = "System.RuntimeTypeHandle"
	RuntimeMethodHandleName = "System.RuntimeMethodHandle"
	MethodBaseTypeName      = "System.Reflection.MethodBase"
)

var primitiveValueTypes = []string{
	"System.Boolean",
	"System.Char",
	"System.SByte",
	"System.Byte",
	"System.Int16",
	"System.UInt16",
	"System.Int32",
	"System.UInt32",
	"System.Int64",
	"System.UInt64",
	"System.Single",
	"System.Double",
	"System.IntPtr",
	"System.UIntPtr",
	VoidTypeName,
}

func addCorlib(m *Module) {
	for _, name := range primitiveValueTypes {
		m.AddType(&TypeDef{Name: name, ValueType: true})
	}

	object := &TypeDef{Name: ObjectTypeName}
	object.AddMethod(&MethodDef{Name: ".ctor", Return: NamedType(VoidTypeName)})
	object.AddMethod(&MethodDef{Name: "GetType", Return: NamedType(TypeTypeName)})
	object.AddMethod(&MethodDef{Name: "ToString", Return: NamedType(StringTypeName)})
	m.AddType(object)

	str := &TypeDef{Name: StringTypeName}
	str.AddMethod(&MethodDef{
		Name:   "Concat",
		Static: true,
		Return: NamedType(StringTypeName),
		Params: []*ParamDef{{Name: "str0", Type: NamedType(StringTypeName)}, {Name: "str1", Type: NamedType(StringTypeName)}},
	})
	m.AddType(str)

	m.AddType(&TypeDef{Name: RuntimeTypeHandleName, ValueType: true})
	m.AddType(&TypeDef{Name: RuntimeMethodHandleName, ValueType: true})
	m.AddType(&TypeDef{Name: NullableTypeName, ValueType: true, GenericParams: []string{"T"}})

	typ := &TypeDef{Name: TypeTypeName}
	typ.AddMethod(&MethodDef{
		Name:   "GetType",
		Static: true,
		Return: NamedType(TypeTypeName),
		Params: []*ParamDef{{Name: "typeName", Type: NamedType(StringTypeName)}},
	})
	typ.AddMethod(&MethodDef{
		Name:   "GetTypeFromHandle",
		Static: true,
		Return: NamedType(TypeTypeName),
		Params: []*ParamDef{{Name: "handle", Type: NamedType(RuntimeTypeHandleName)}},
	})
	typ.AddMethod(&MethodDef{Name: "get_TypeHandle", Return: NamedType(RuntimeTypeHandleName)})
	typ.AddMethod(&MethodDef{
		Name:   "GetMethod",
		Return: NamedType("System.Reflection.MethodInfo"),
		Params: []*ParamDef{{Name: "name", Type: NamedType(StringTypeName)}},
	})
	typ.AddMethod(&MethodDef{Name: "GetMethods", Return: &TypeRef{Kind: TypeArray, Elem: NamedType("System.Reflection.MethodInfo")}})
	typ.AddMethod(&MethodDef{
		Name:   "GetField",
		Return: NamedType("System.Reflection.FieldInfo"),
		Params: []*ParamDef{{Name: "name", Type: NamedType(StringTypeName)}},
	})
	m.AddType(typ)

	mb := &TypeDef{Name: MethodBaseTypeName}
	mb.AddMethod(&MethodDef{
		Name:   "GetMethodFromHandle",
		Static: true,
		Return: NamedType(MethodBaseTypeName),
		Params: []*ParamDef{{Name: "handle", Type: NamedType(RuntimeMethodHandleName)}},
	})
	m.AddType(mb)
	m.AddType(&TypeDef{Name: "System.Reflection.MethodInfo"})
	m.AddType(&TypeDef{Name: "System.Reflection.FieldInfo"})

	activator := &TypeDef{Name: "System.Activator"}
	activator.AddMethod(&MethodDef{
		Name:   "CreateInstance",
		Static: true,
		Return: NamedType(ObjectTypeName),
		Params: []*ParamDef{{Name: "type", Type: NamedType(TypeTypeName)}},
	})
	m.AddType(activator)

	m.AddType(&TypeDef{Name: "System.Exception"})
}
