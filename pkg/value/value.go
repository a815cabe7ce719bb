// Package value defines the abstract values tracked by the dataflow scanner
// and the set lattice over them.
package value

import (
	"strconv"

	"github.com/715d/trimflow/pkg/il"
)

// Kind identifies a SingleValue variant.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindNull
	KindConstInt
	KindKnownString
	KindArray
	KindLocalReference
	KindParameterReference
	KindThisReference
	KindFieldReference
	KindParameter
	KindThis
	KindField
	KindMethodReturn
	KindSystemType
	KindRuntimeTypeHandle
	KindGenericParameterHandle
	KindNullableTypeHandle
	KindNullableGenericParameterHandle
	KindRuntimeMethodHandle
	KindFreshObject
)

var kindNames = [...]string{
	KindUnknown:                        "unknown",
	KindNull:                           "null",
	KindConstInt:                       "const-int",
	KindKnownString:                    "known-string",
	KindArray:                          "array",
	KindLocalReference:                 "local-reference",
	KindParameterReference:             "parameter-reference",
	KindThisReference:                  "this-reference",
	KindFieldReference:                 "field-reference",
	KindParameter:                      "parameter",
	KindThis:                           "this",
	KindField:                          "field",
	KindMethodReturn:                   "method-return",
	KindSystemType:                     "system-type",
	KindRuntimeTypeHandle:              "runtime-type-handle",
	KindGenericParameterHandle:         "generic-parameter-handle",
	KindNullableTypeHandle:             "nullable-type-handle",
	KindNullableGenericParameterHandle: "nullable-generic-parameter-handle",
	KindRuntimeMethodHandle:            "runtime-method-handle",
	KindFreshObject:                    "fresh-object",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// SingleValue is one abstract value. The set of implementations is closed;
// every implementation is comparable with ==.
type SingleValue interface {
	Kind() Kind
	String() string
	singleValue()
}

type unknownValue struct{}

// Unknown is the value that could be anything.
var Unknown SingleValue = unknownValue{}

func (unknownValue) Kind() Kind     { return KindUnknown }
func (unknownValue) String() string { return "<unknown>" }
func (unknownValue) singleValue()   {}

type nullValue struct{}

// Null is the null reference.
var Null SingleValue = nullValue{}

func (nullValue) Kind() Kind     { return KindNull }
func (nullValue) String() string { return "null" }
func (nullValue) singleValue()   {}

// ConstInt is a known 32-bit integer.
type ConstInt struct {
	Value int32
}

func (ConstInt) Kind() Kind       { return KindConstInt }
func (v ConstInt) String() string { return strconv.FormatInt(int64(v.Value), 10) }
func (ConstInt) singleValue()     {}

// KnownString is a known string literal.
type KnownString struct {
	Contents string
}

func (KnownString) Kind() Kind       { return KindKnownString }
func (v KnownString) String() string { return strconv.Quote(v.Contents) }
func (KnownString) singleValue()     {}

// LocalReference denotes the storage of a local variable.
type LocalReference struct {
	Local *il.Local
}

func (LocalReference) Kind() Kind       { return KindLocalReference }
func (v LocalReference) String() string { return "&" + v.Local.String() }
func (LocalReference) singleValue()     {}

// ParameterReference denotes the storage of a numbered parameter. Index is
// the source parameter index, excluding this.
type ParameterReference struct {
	Method *il.MethodDef
	Index  int
}

func (ParameterReference) Kind() Kind { return KindParameterReference }
func (v ParameterReference) String() string {
	return "&" + v.Method.Name + ".arg" + strconv.Itoa(v.Index)
}
func (ParameterReference) singleValue() {}

// ThisReference denotes the storage of the this argument of a value type
// method.
type ThisReference struct {
	Method *il.MethodDef
}

func (ThisReference) Kind() Kind       { return KindThisReference }
func (v ThisReference) String() string { return "&" + v.Method.Name + ".this" }
func (ThisReference) singleValue()     {}

// FieldReference denotes the storage of a field.
type FieldReference struct {
	Field *il.FieldDef
}

func (FieldReference) Kind() Kind       { return KindFieldReference }
func (v FieldReference) String() string { return "&" + v.Field.FullName() }
func (FieldReference) singleValue()     {}

// ParameterValue is the content of a parameter as described by the handler.
type ParameterValue struct {
	Method     *il.MethodDef
	Index      int
	StaticType *il.TypeRef
}

func (ParameterValue) Kind() Kind { return KindParameter }
func (v ParameterValue) String() string {
	return v.Method.Name + ".arg" + strconv.Itoa(v.Index)
}
func (ParameterValue) singleValue() {}

// ThisValue is the content of the this argument.
type ThisValue struct {
	Method     *il.MethodDef
	StaticType *il.TypeRef
}

func (ThisValue) Kind() Kind       { return KindThis }
func (v ThisValue) String() string { return v.Method.Name + ".this" }
func (ThisValue) singleValue()     {}

// FieldValue is the content of a field.
type FieldValue struct {
	Field      *il.FieldDef
	StaticType *il.TypeRef
}

func (FieldValue) Kind() Kind       { return KindField }
func (v FieldValue) String() string { return v.Field.FullName() }
func (FieldValue) singleValue()     {}

// MethodReturnValue is the value returned by a method. As a store target it
// denotes a ref return slot.
type MethodReturnValue struct {
	Method     *il.MethodDef
	StaticType *il.TypeRef
}

func (MethodReturnValue) Kind() Kind       { return KindMethodReturn }
func (v MethodReturnValue) String() string { return v.Method.Name + ".return" }
func (MethodReturnValue) singleValue()     {}

// SystemType is a statically known System.Type instance.
type SystemType struct {
	Type *il.TypeDef
}

func (SystemType) Kind() Kind       { return KindSystemType }
func (v SystemType) String() string { return "typeof(" + v.Type.Name + ")" }
func (SystemType) singleValue()     {}

// RuntimeTypeHandle is the handle of a statically known type.
type RuntimeTypeHandle struct {
	Type *il.TypeDef
}

func (RuntimeTypeHandle) Kind() Kind       { return KindRuntimeTypeHandle }
func (v RuntimeTypeHandle) String() string { return "handle(" + v.Type.Name + ")" }
func (RuntimeTypeHandle) singleValue()     {}

// GenericParameterHandle is the type handle of a generic parameter.
type GenericParameterHandle struct {
	Param il.GenericParam
}

func (GenericParameterHandle) Kind() Kind       { return KindGenericParameterHandle }
func (v GenericParameterHandle) String() string { return "handle(" + v.Param.String() + ")" }
func (GenericParameterHandle) singleValue()     {}

// NullableTypeHandle is the handle of Nullable<T> instantiated over a known
// type.
type NullableTypeHandle struct {
	Nullable   *il.TypeDef
	Underlying SystemType
}

func (NullableTypeHandle) Kind() Kind { return KindNullableTypeHandle }
func (v NullableTypeHandle) String() string {
	return "handle(" + v.Nullable.Name + "<" + v.Underlying.Type.Name + ">)"
}
func (NullableTypeHandle) singleValue() {}

// NullableGenericParameterHandle is the handle of Nullable<T> instantiated
// over a generic parameter.
type NullableGenericParameterHandle struct {
	Nullable   *il.TypeDef
	Underlying GenericParameterHandle
}

func (NullableGenericParameterHandle) Kind() Kind { return KindNullableGenericParameterHandle }
func (v NullableGenericParameterHandle) String() string {
	return "handle(" + v.Nullable.Name + "<" + v.Underlying.Param.String() + ">)"
}
func (NullableGenericParameterHandle) singleValue() {}

// RuntimeMethodHandle is the handle of a statically known method.
type RuntimeMethodHandle struct {
	Method *il.MethodDef
}

func (RuntimeMethodHandle) Kind() Kind       { return KindRuntimeMethodHandle }
func (v RuntimeMethodHandle) String() string { return "handle(" + v.Method.FullName() + ")" }
func (RuntimeMethodHandle) singleValue()     {}

// FreshObject is the unknown object produced by an unhandled construction
// site. Two sites never compare equal.
type FreshObject struct {
	Method *il.MethodDef
	Offset int
	Type   *il.TypeRef
}

func (FreshObject) Kind() Kind { return KindFreshObject }
func (v FreshObject) String() string {
	name := "?"
	if v.Type != nil {
		name = v.Type.String()
	}
	return "new " + name + "@IL_" + hex4(v.Offset)
}
func (FreshObject) singleValue() {}

// IsReference reports whether v denotes a storage location rather than a
// value.
func IsReference(v SingleValue) bool {
	switch v.(type) {
	case LocalReference, ParameterReference, ThisReference, FieldReference:
		return true
	}
	return false
}

// StaticType returns the declared type carried by handler-sourced values, or
// nil for every other variant.
func StaticType(v SingleValue) *il.TypeRef {
	switch v := v.(type) {
	case ParameterValue:
		return v.StaticType
	case ThisValue:
		return v.StaticType
	case FieldValue:
		return v.StaticType
	case MethodReturnValue:
		return v.StaticType
	}
	return nil
}

func hex4(n int) string {
	s := strconv.FormatInt(int64(n), 16)
	for len(s) < 4 {
		s = "0" + s
	}
	return s
}
