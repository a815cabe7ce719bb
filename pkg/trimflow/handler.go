package trimflow

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/715d/trimflow/internal/analysis"
	"github.com/715d/trimflow/pkg/dataflow"
	"github.com/715d/trimflow/pkg/il"
	"github.com/715d/trimflow/pkg/value"
)

// ReferenceHandler validates the flow of type values into annotated
// parameters, fields and return values. It is shared by every method
// analysis of one run; per-method state lives in the views returned by
// ForMethod.
type ReferenceHandler struct {
	module      *il.Module
	names       *analysis.NameCache
	annotations *annotationIndex
	interesting map[string]bool

	thisTypes   *xsync.Map[*il.TypeDef, *il.TypeRef]
	fieldValues *xsync.Map[*il.FieldDef, value.MultiValue]
}

// NewReferenceHandler builds the handler for mod from cfg.
func NewReferenceHandler(mod *il.Module, cfg *Config, names *analysis.NameCache) (*ReferenceHandler, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if names == nil {
		names = analysis.NewNameCache()
	}
	idx, err := newAnnotationIndex(cfg.annotations(), names)
	if err != nil {
		return nil, fmt.Errorf("build annotation index: %w", err)
	}
	interesting := make(map[string]bool, len(cfg.InterestingTypes))
	for _, t := range cfg.InterestingTypes {
		interesting[t] = true
	}
	return &ReferenceHandler{
		module:      mod,
		names:       names,
		annotations: idx,
		interesting: interesting,
		thisTypes:   xsync.NewMap[*il.TypeDef, *il.TypeRef](),
		fieldValues: xsync.NewMap[*il.FieldDef, value.MultiValue](),
	}, nil
}

// ParameterValue returns the symbolic content of a parameter.
func (h *ReferenceHandler) ParameterValue(m *il.MethodDef, index int) value.MultiValue {
	return value.New(value.ParameterValue{Method: m, Index: index, StaticType: m.ParameterType(index)})
}

// ThisValue returns the symbolic content of the this argument. The static
// type is shared per declaring type so repeated loads compare equal.
func (h *ReferenceHandler) ThisValue(m *il.MethodDef) value.MultiValue {
	t, _ := h.thisTypes.LoadOrCompute(m.DeclaringType, func() (*il.TypeRef, bool) {
		return m.DeclaringType.Ref(), false
	})
	return value.New(value.ThisValue{Method: m, StaticType: t})
}

// FieldValue returns the symbolic content of a field.
func (h *ReferenceHandler) FieldValue(f *il.FieldDef) value.MultiValue {
	return value.New(value.FieldValue{Field: f, StaticType: f.Type})
}

// IsInterestingType reports whether t, or its element for by-refs, is one of
// the configured interesting types.
func (h *ReferenceHandler) IsInterestingType(t *il.TypeRef) bool {
	return h.interesting[h.names.ComputeTypeName(t)]
}

// FieldStores returns the meet of every value stored into each field,
// ordered by field name.
func (h *ReferenceHandler) FieldStores() []FieldStore {
	var out []FieldStore
	h.fieldValues.Range(func(f *il.FieldDef, mv value.MultiValue) bool {
		out = append(out, FieldStore{Field: f.FullName(), Values: mv.Strings()})
		return true
	})
	slices.SortFunc(out, func(a, b FieldStore) int { return strings.Compare(a.Field, b.Field) })
	return out
}

// ForMethod returns the view that analyzes m.
func (h *ReferenceHandler) ForMethod(m *il.MethodDef) *MethodView {
	return &MethodView{
		ReferenceHandler: h,
		method:           m,
		name:             h.names.ComputeMethodName(m),
		diags:            make(map[diagKey]analysis.Diagnostic),
	}
}

type diagKey struct {
	code   string
	offset int
	target string
}

// MethodView is the handler and diagnostics sink of a single method
// analysis. Diagnostics are keyed by code, offset and target; a later report
// for the same key replaces the earlier one, so revisits only keep the
// message computed from the widest value set. Not safe for concurrent use.
type MethodView struct {
	*ReferenceHandler

	method *il.MethodDef
	name   string
	diags  map[diagKey]analysis.Diagnostic
	ret    value.MultiValue
}

var (
	_ dataflow.Handler     = (*MethodView)(nil)
	_ dataflow.Diagnostics = (*MethodView)(nil)
)

func (v *MethodView) report(code string, offset int, target, msg string) {
	v.diags[diagKey{code, offset, target}] = analysis.Diagnostic{
		Code:    code,
		Offset:  offset,
		Target:  target,
		Message: msg,
	}
}

// InvalidIL records malformed input at offset.
func (v *MethodView) InvalidIL(_ *il.MethodBody, offset int) {
	v.report(CodeInvalidIL, offset, "", "invalid IL in "+v.name)
}

func (v *MethodView) StoreField(target value.FieldValue, ins *il.Instruction, mv value.MultiValue) {
	v.fieldValues.Compute(target.Field, func(old value.MultiValue, _ bool) (value.MultiValue, xsync.ComputeOp) {
		return value.Meet(old, mv), xsync.UpdateOp
	})
	if required, ok := v.annotations.field(target.Field); ok {
		v.check(required, mv, CodeFieldNotKnown, ins.Offset, target.Field.FullName(), "field "+target.Field.FullName())
	}
}

func (v *MethodView) StoreParameter(target value.ParameterValue, ins *il.Instruction, mv value.MultiValue) {
	if required, ok := v.annotations.parameter(target.Method, target.Index); ok {
		name := target.Method.Params[target.Index].Name
		v.check(required, mv, CodeParameterNotKnown, ins.Offset, name,
			fmt.Sprintf("parameter '%s' of %s", name, v.names.ComputeMethodName(target.Method)))
	}
}

func (v *MethodView) StoreMethodReturn(target value.MethodReturnValue, ins *il.Instruction, mv value.MultiValue) {
	if required, ok := v.annotations.ret(target.Method); ok {
		v.check(required, mv, CodeReturnNotKnown, ins.Offset, "return",
			"return value of "+v.names.ComputeMethodName(target.Method))
	}
}

func (v *MethodView) ReturnValue(_ *il.MethodDef, mv value.MultiValue) {
	v.ret = mv
}

// HandleCall validates arguments passed to annotated parameters and models
// intrinsics. Other resolved calls yield their symbolic return value.
func (v *MethodView) HandleCall(_ *il.MethodBody, callee *il.MethodRef, resolved *il.MethodDef, ins *il.Instruction, args []value.MultiValue) (value.MultiValue, bool) {
	if resolved != nil {
		v.checkArguments(resolved, callee, ins, args)
	}

	key := analysis.MethodKey(v.names.ComputeTypeName(callee.DeclaringType), callee.Name)
	if id := LookupIntrinsic(key, len(callee.Params)); id != IntrinsicNone {
		return v.evalIntrinsic(id, ins, args), true
	}

	if resolved != nil && ins.Op != il.OpNewobj && !resolved.ReturnsVoid() {
		return value.New(value.MethodReturnValue{Method: resolved, StaticType: resolved.Return}), true
	}
	return value.Top, false
}

func (v *MethodView) checkArguments(resolved *il.MethodDef, callee *il.MethodRef, ins *il.Instruction, args []value.MultiValue) {
	first := 0
	if callee.HasThis && !callee.ExplicitThis {
		first = 1
		if required, ok := v.annotations.this(resolved); ok && len(args) > 0 {
			v.check(required, args[0], CodeParameterNotKnown, ins.Offset, "this",
				"implicit this of "+v.names.ComputeMethodName(resolved))
		}
	}
	for i, p := range resolved.Params {
		if first+i >= len(args) {
			break
		}
		required, ok := v.annotations.parameter(resolved, i)
		if !ok {
			continue
		}
		v.check(required, args[first+i], CodeParameterNotKnown, ins.Offset, p.Name,
			fmt.Sprintf("parameter '%s' of %s", p.Name, v.names.ComputeMethodName(resolved)))
	}
}

// check reports the members of mv that cannot be shown to keep required.
// Values that are not statically known get code; values whose own
// annotation is too weak get CodeAnnotationMismatch.
func (v *MethodView) check(required MemberTypes, mv value.MultiValue, code string, offset int, target, desc string) {
	if required == MembersNone {
		return
	}
	var unknown, mismatched []string
	for sv := range mv.All() {
		switch sv.(type) {
		case value.KnownString, value.SystemType, value.RuntimeTypeHandle, value.NullableTypeHandle:
			continue
		case value.GenericParameterHandle, value.NullableGenericParameterHandle:
			mismatched = append(mismatched, sv.String())
			continue
		}
		if sv == value.Null {
			continue
		}
		if have, ok := v.sourceAnnotation(sv); ok {
			if !have.Covers(required) {
				mismatched = append(mismatched, fmt.Sprintf("%s with %s", sv, have))
			}
			continue
		}
		unknown = append(unknown, sv.String())
	}
	if len(unknown) > 0 {
		v.report(code, offset, target, fmt.Sprintf("%s flowing into %s requiring %s is not statically known",
			strings.Join(unknown, ", "), desc, required))
	}
	if len(mismatched) > 0 {
		v.report(CodeAnnotationMismatch, offset, target, fmt.Sprintf("%s flowing into %s does not carry %s",
			strings.Join(mismatched, ", "), desc, required))
	}
}

// sourceAnnotation returns the annotation of the location a symbolic value
// was read from.
func (v *MethodView) sourceAnnotation(sv value.SingleValue) (MemberTypes, bool) {
	switch sv := sv.(type) {
	case value.ParameterValue:
		return v.annotations.parameter(sv.Method, sv.Index)
	case value.ThisValue:
		return v.annotations.this(sv.Method)
	case value.FieldValue:
		return v.annotations.field(sv.Field)
	case value.MethodReturnValue:
		return v.annotations.ret(sv.Method)
	}
	return 0, false
}

// Finish validates the accumulated return value against the method's own
// return annotation and returns the diagnostics in offset order.
func (v *MethodView) Finish() []analysis.Diagnostic {
	if !v.method.ReturnsVoid() {
		if required, ok := v.annotations.ret(v.method); ok {
			v.check(required, v.ret, CodeReturnNotKnown, analysis.MethodLevel, "return", "return value of "+v.name)
		}
	}
	return v.Diagnostics()
}

// Diagnostics returns the recorded diagnostics in offset order.
func (v *MethodView) Diagnostics() []analysis.Diagnostic {
	out := make([]analysis.Diagnostic, 0, len(v.diags))
	for _, d := range v.diags {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b analysis.Diagnostic) int {
		return cmp.Or(
			cmp.Compare(a.Offset, b.Offset),
			strings.Compare(a.Code, b.Code),
			strings.Compare(a.Target, b.Target),
		)
	})
	return out
}
