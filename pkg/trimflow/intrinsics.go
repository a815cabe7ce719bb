package trimflow

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/715d/trimflow/pkg/il"
	"github.com/715d/trimflow/pkg/value"
)

// Intrinsic identifies a core library method the analysis models directly.
type Intrinsic int

const (
	IntrinsicNone Intrinsic = iota
	IntrinsicTypeGetType
	IntrinsicGetTypeFromHandle
	IntrinsicObjectGetType
	IntrinsicGetTypeHandle
	IntrinsicGetMethodFromHandle
)

var intrinsicNames = [...]string{
	IntrinsicNone:                "none",
	IntrinsicTypeGetType:         "Type.GetType",
	IntrinsicGetTypeFromHandle:   "Type.GetTypeFromHandle",
	IntrinsicObjectGetType:       "Object.GetType",
	IntrinsicGetTypeHandle:       "Type.get_TypeHandle",
	IntrinsicGetMethodFromHandle: "MethodBase.GetMethodFromHandle",
}

func (i Intrinsic) String() string {
	if int(i) < len(intrinsicNames) {
		return intrinsicNames[i]
	}
	return "intrinsic(" + strconv.Itoa(int(i)) + ")"
}

// intrinsicMethods maps "Declaring::Name/arity" to the intrinsic it denotes.
var intrinsicMethods = map[string]Intrinsic{
	"System.Type::GetType/1":                             IntrinsicTypeGetType,
	"System.Type::GetTypeFromHandle/1":                   IntrinsicGetTypeFromHandle,
	"System.Object::GetType/0":                           IntrinsicObjectGetType,
	"System.Type::get_TypeHandle/0":                      IntrinsicGetTypeHandle,
	"System.Reflection.MethodBase::GetMethodFromHandle/1": IntrinsicGetMethodFromHandle,
}

// LookupIntrinsic returns the intrinsic for a method key and source arity.
func LookupIntrinsic(key string, arity int) Intrinsic {
	return intrinsicMethods[key+"/"+strconv.Itoa(arity)]
}

// evalIntrinsic computes the result of an intrinsic call. args are in IL
// order, receiver first.
func (v *MethodView) evalIntrinsic(id Intrinsic, ins *il.Instruction, args []value.MultiValue) value.MultiValue {
	if len(args) == 0 {
		return value.UnknownSet()
	}
	var out value.MultiValue
	for sv := range args[0].All() {
		out = value.Meet(out, v.evalIntrinsicValue(id, ins, sv))
	}
	if out.IsTop() {
		return value.UnknownSet()
	}
	return out
}

func (v *MethodView) evalIntrinsicValue(id Intrinsic, ins *il.Instruction, sv value.SingleValue) value.MultiValue {
	switch id {
	case IntrinsicTypeGetType:
		switch sv := sv.(type) {
		case value.KnownString:
			if def := v.resolveTypeName(sv.Contents); def != nil {
				return value.New(value.SystemType{Type: def})
			}
			return value.UnknownSet()
		}
		if sv == value.Null {
			return value.Top
		}
		v.report(CodeUnrecognizedTypeName, ins.Offset, "typeName",
			fmt.Sprintf("unrecognized value %s passed to System.Type::GetType(System.String)", sv))

	case IntrinsicGetTypeFromHandle:
		switch sv := sv.(type) {
		case value.RuntimeTypeHandle:
			return value.New(value.SystemType{Type: sv.Type})
		case value.NullableTypeHandle:
			return value.New(value.SystemType{Type: sv.Nullable})
		case value.GenericParameterHandle, value.NullableGenericParameterHandle:
			// The handle stands in for the type it names.
			return value.New(sv)
		}

	case IntrinsicObjectGetType:
		switch sv := sv.(type) {
		case value.FreshObject:
			if def := v.module.ResolveType(sv.Type); def != nil {
				return value.New(value.SystemType{Type: def})
			}
		case value.KnownString:
			if def := v.module.Type(il.StringTypeName); def != nil {
				return value.New(value.SystemType{Type: def})
			}
		}

	case IntrinsicGetTypeHandle:
		switch sv := sv.(type) {
		case value.SystemType:
			return value.New(value.RuntimeTypeHandle{Type: sv.Type})
		case value.GenericParameterHandle, value.NullableGenericParameterHandle:
			return value.New(sv)
		}

	case IntrinsicGetMethodFromHandle:
		if h, ok := sv.(value.RuntimeMethodHandle); ok {
			return value.New(h)
		}
	}
	return value.UnknownSet()
}

// resolveTypeName resolves an assembly-qualified or plain type name.
func (v *MethodView) resolveTypeName(name string) *il.TypeDef {
	name, _, _ = strings.Cut(name, ",")
	return v.module.Type(strings.TrimSpace(name))
}
