package dataflow

import (
	"github.com/715d/trimflow/pkg/il"
	"github.com/715d/trimflow/pkg/value"
)

// Handler supplies what the scanner cannot know on its own: the content of
// parameters and fields, the meaning of calls it understands, and where
// writes to parameters, fields and return slots go. One Handler may serve
// many scanners concurrently.
type Handler interface {
	// ParameterValue returns the content of the source parameter at index
	// of method.
	ParameterValue(method *il.MethodDef, index int) value.MultiValue
	// ThisValue returns the content of the this argument of method.
	ThisValue(method *il.MethodDef) value.MultiValue
	// FieldValue returns the content of field.
	FieldValue(field *il.FieldDef) value.MultiValue

	StoreField(target value.FieldValue, ins *il.Instruction, v value.MultiValue)
	StoreParameter(target value.ParameterValue, ins *il.Instruction, v value.MultiValue)
	StoreMethodReturn(target value.MethodReturnValue, ins *il.Instruction, v value.MultiValue)

	// ReturnValue is called at every ret of method with the return value
	// accumulated so far.
	ReturnValue(method *il.MethodDef, v value.MultiValue)

	// HandleCall reports whether the call is understood and, if so, its
	// result. resolved is nil when callee does not resolve. args are
	// dereferenced and in IL argument order, receiver first.
	HandleCall(caller *il.MethodBody, callee *il.MethodRef, resolved *il.MethodDef, ins *il.Instruction, args []value.MultiValue) (value.MultiValue, bool)

	// IsInterestingType reports whether values of type t are tracked.
	IsInterestingType(t *il.TypeRef) bool
}

// Diagnostics receives malformed input reports. It must not fail.
type Diagnostics interface {
	InvalidIL(body *il.MethodBody, offset int)
}

type nopDiagnostics struct{}

func (nopDiagnostics) InvalidIL(*il.MethodBody, int) {}
