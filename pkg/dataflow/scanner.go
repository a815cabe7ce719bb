package dataflow

import (
	"fmt"

	"github.com/715d/trimflow/pkg/il"
	"github.com/715d/trimflow/pkg/value"
)

// Scanner interprets the instructions of one method over abstract values.
// A Scanner belongs to a single method analysis and is not safe for
// concurrent use.
type Scanner struct {
	method   *il.MethodDef
	body     *il.MethodBody
	handler  Handler
	resolver il.Resolver
	diags    Diagnostics

	returnValue value.MultiValue

	// arrays holds the array created at each newarr offset so revisiting a
	// block yields the same value.
	arrays map[int]*value.ArrayValue
}

// NewScanner returns a scanner for method. diags may be nil.
func NewScanner(method *il.MethodDef, handler Handler, resolver il.Resolver, diags Diagnostics) *Scanner {
	if diags == nil {
		diags = nopDiagnostics{}
	}
	return &Scanner{
		method:   method,
		body:     method.Body,
		handler:  handler,
		resolver: resolver,
		diags:    diags,
		arrays:   make(map[int]*value.ArrayValue),
	}
}

// ReturnValue returns the meet of the values returned by every ret
// transferred so far.
func (s *Scanner) ReturnValue() value.MultiValue { return s.returnValue }

// Transfer applies every instruction of block to state in order. The only
// errors are fatal *Error values.
func (s *Scanner) Transfer(block *BasicBlock, state *FlowState) error {
	for _, ins := range block.Instructions {
		if err := s.step(block, ins, state); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scanner) step(block *BasicBlock, ins *il.Instruction, state *FlowState) error {
	if ins.Op == il.OpRet {
		s.scanRet(ins, state)
		return nil
	}

	pop, push := ins.StackEffect(!s.method.ReturnsVoid())
	s.ensureDepth(state, pop, ins)

	switch ins.Op {
	case il.OpDup:
		top := state.Pop()
		state.Push(top)
		state.Push(top)

	case il.OpLdnull:
		state.Push(value.New(value.Null))

	case il.OpLdcI4M1, il.OpLdcI40, il.OpLdcI41, il.OpLdcI42, il.OpLdcI43,
		il.OpLdcI44, il.OpLdcI45, il.OpLdcI46, il.OpLdcI47, il.OpLdcI48:
		state.Push(value.New(value.ConstInt{Value: int32(ins.Op) - int32(il.OpLdcI40)}))

	case il.OpLdcI4, il.OpLdcI4S:
		n, ok := ins.Operand.(int32)
		if !ok {
			s.pushUnknownInvalid(state, ins)
			break
		}
		state.Push(value.New(value.ConstInt{Value: n}))

	case il.OpLdstr:
		str, ok := ins.Operand.(string)
		if !ok {
			s.pushUnknownInvalid(state, ins)
			break
		}
		state.Push(value.New(value.KnownString{Contents: str}))

	case il.OpLdarg, il.OpLdargS, il.OpLdarg0, il.OpLdarg1, il.OpLdarg2, il.OpLdarg3:
		s.scanLdarg(ins, state, false)
	case il.OpLdarga, il.OpLdargaS:
		s.scanLdarg(ins, state, true)
	case il.OpStarg, il.OpStargS:
		s.scanStarg(ins, state)

	case il.OpLdloc, il.OpLdlocS, il.OpLdloc0, il.OpLdloc1, il.OpLdloc2, il.OpLdloc3:
		s.scanLdloc(ins, state, false)
	case il.OpLdloca, il.OpLdlocaS:
		s.scanLdloc(ins, state, true)
	case il.OpStloc, il.OpStlocS, il.OpStloc0, il.OpStloc1, il.OpStloc2, il.OpStloc3:
		s.scanStloc(ins, state)

	case il.OpLdfld, il.OpLdflda, il.OpLdsfld, il.OpLdsflda:
		s.scanLdfld(ins, state)
	case il.OpStfld, il.OpStsfld:
		s.scanStfld(ins, state)

	case il.OpStindI, il.OpStindI1, il.OpStindI2, il.OpStindI4, il.OpStindI8,
		il.OpStindR4, il.OpStindR8, il.OpStindRef, il.OpStobj:
		v := state.Pop()
		dest := state.Pop()
		return s.storeInReference(dest, v, ins, state)

	case il.OpNewarr:
		s.scanNewarr(ins, state)
	case il.OpStelem, il.OpStelemI, il.OpStelemI1, il.OpStelemI2, il.OpStelemI4,
		il.OpStelemI8, il.OpStelemR4, il.OpStelemR8, il.OpStelemRef:
		s.scanStelem(block, state)
	case il.OpLdelem, il.OpLdelemI, il.OpLdelemI1, il.OpLdelemI2, il.OpLdelemI4,
		il.OpLdelemI8, il.OpLdelemR4, il.OpLdelemR8, il.OpLdelemU1, il.OpLdelemU2,
		il.OpLdelemU4, il.OpLdelemRef:
		s.scanLdelem(state, false)
	case il.OpLdelema:
		s.scanLdelem(state, true)

	case il.OpLdtoken:
		state.Push(value.New(s.tokenValue(ins.Operand)))

	case il.OpCall, il.OpCallvirt, il.OpNewobj:
		if ref, ok := ins.Operand.(*il.MethodRef); ok {
			return s.scanCall(ins, ref, state)
		}
		s.diags.InvalidIL(s.body, ins.Offset)
		s.opaque(state, pop, push)

	case il.OpIsinst, il.OpCastclass:
		// The operand passes through unchanged.

	case il.OpLeave, il.OpLeaveS:
		state.Current.Stack = nil

	default:
		s.opaque(state, pop, push)
	}
	return nil
}

// opaque pops pop values and pushes push Unknowns.
func (s *Scanner) opaque(state *FlowState, pop, push int) {
	if pop > 0 {
		state.PopN(pop)
	}
	for range push {
		state.Push(value.UnknownSet())
	}
}

// ensureDepth reports one diagnostic when fewer than n slots are available
// and pads the stack with Unknown up to n.
func (s *Scanner) ensureDepth(state *FlowState, n int, ins *il.Instruction) {
	if state.Depth() >= n {
		return
	}
	s.diags.InvalidIL(s.body, ins.Offset)
	padUnknown(state, n)
}

// padUnknown pushes Unknown until the stack holds n slots. The values that
// were present are consumed first by the slots deepest in the pop order.
func padUnknown(state *FlowState, n int) {
	for state.Depth() < n {
		state.Push(value.UnknownSet())
	}
}

func (s *Scanner) pushUnknownInvalid(state *FlowState, ins *il.Instruction) {
	s.diags.InvalidIL(s.body, ins.Offset)
	state.Push(value.UnknownSet())
}

// sourceParameter maps an IL argument index to a source parameter index.
// isThis is set for argument 0 of instance methods.
func (s *Scanner) sourceParameter(ilIndex int) (index int, isThis, ok bool) {
	if s.method.HasThis() {
		if ilIndex == 0 {
			return 0, true, true
		}
		ilIndex--
	}
	if ilIndex < 0 || ilIndex >= len(s.method.Params) {
		return 0, false, false
	}
	return ilIndex, false, true
}

func (s *Scanner) scanLdarg(ins *il.Instruction, state *FlowState, byRef bool) {
	ilIndex, ok := ins.ArgIndex()
	if !ok {
		s.pushUnknownInvalid(state, ins)
		return
	}
	index, isThis, ok := s.sourceParameter(ilIndex)
	if !ok {
		s.pushUnknownInvalid(state, ins)
		return
	}

	if isThis {
		if byRef || (s.method.DeclaringType != nil && s.method.DeclaringType.ValueType) {
			state.Push(value.New(value.ThisReference{Method: s.method}))
			return
		}
		state.Push(s.handler.ThisValue(s.method))
		return
	}
	if byRef || s.method.ParameterType(index).IsByRefOrPointer() {
		state.Push(value.New(value.ParameterReference{Method: s.method, Index: index}))
		return
	}
	state.Push(s.handler.ParameterValue(s.method, index))
}

func (s *Scanner) scanStarg(ins *il.Instruction, state *FlowState) {
	v := state.Pop()
	ilIndex, ok := ins.ArgIndex()
	if !ok {
		s.diags.InvalidIL(s.body, ins.Offset)
		return
	}
	index, isThis, ok := s.sourceParameter(ilIndex)
	if !ok {
		s.diags.InvalidIL(s.body, ins.Offset)
		return
	}
	if isThis {
		return
	}
	if target, ok := singleOf[value.ParameterValue](s.handler.ParameterValue(s.method, index)); ok {
		s.handler.StoreParameter(target, ins, v)
	}
}

func (s *Scanner) local(ins *il.Instruction) *il.Local {
	if l, ok := ins.Operand.(*il.Local); ok && l != nil {
		return l
	}
	index, ok := ins.LocalIndex()
	if !ok {
		return nil
	}
	return s.body.Local(index)
}

func (s *Scanner) scanLdloc(ins *il.Instruction, state *FlowState, byRef bool) {
	l := s.local(ins)
	if l == nil {
		s.pushUnknownInvalid(state, ins)
		return
	}
	if byRef {
		state.Push(value.New(value.LocalReference{Local: l}))
		return
	}
	state.Push(state.Local(LocalKey{Index: l.Index}))
}

func (s *Scanner) scanStloc(ins *il.Instruction, state *FlowState) {
	v := state.Pop()
	l := s.local(ins)
	if l == nil {
		s.diags.InvalidIL(s.body, ins.Offset)
		return
	}
	state.SetLocal(LocalKey{Index: l.Index}, v)
}

func (s *Scanner) resolveField(ins *il.Instruction) *il.FieldDef {
	ref, _ := ins.Operand.(*il.FieldRef)
	if ref == nil {
		return nil
	}
	return s.resolver.ResolveField(ref)
}

func (s *Scanner) scanLdfld(ins *il.Instruction, state *FlowState) {
	if ins.Op == il.OpLdfld || ins.Op == il.OpLdflda {
		state.Pop()
	}
	f := s.resolveField(ins)
	switch {
	case f == nil:
		state.Push(value.UnknownSet())
	case ins.Op == il.OpLdflda || ins.Op == il.OpLdsflda:
		state.Push(value.New(value.FieldReference{Field: f}))
	default:
		state.Push(s.handler.FieldValue(f))
	}
}

func (s *Scanner) scanStfld(ins *il.Instruction, state *FlowState) {
	v := state.Pop()
	if ins.Op == il.OpStfld {
		state.Pop()
	}
	f := s.resolveField(ins)
	if f == nil {
		return
	}
	for target := range s.handler.FieldValue(f).All() {
		fv, ok := target.(value.FieldValue)
		if !ok {
			continue
		}
		s.handler.StoreField(fv, ins, s.dereference(v, state))
	}
}

// dereference replaces every reference member of mv with the content of the
// location it denotes.
func (s *Scanner) dereference(mv value.MultiValue, state *FlowState) value.MultiValue {
	out := value.Top
	for v := range mv.All() {
		switch v := v.(type) {
		case value.FieldReference:
			out = value.Meet(out, s.handler.FieldValue(v.Field))
		case value.ParameterReference:
			out = value.Meet(out, s.handler.ParameterValue(v.Method, v.Index))
		case value.LocalReference:
			out = value.Meet(out, state.Local(LocalKey{Index: v.Local.Index}))
		case value.ThisReference:
			out = value.Meet(out, s.handler.ThisValue(v.Method))
		default:
			out = value.Meet(out, value.New(v))
		}
	}
	return out
}

// storeInReference writes source through every location in target.
func (s *Scanner) storeInReference(target, source value.MultiValue, ins *il.Instruction, state *FlowState) error {
	for v := range target.All() {
		switch v := v.(type) {
		case value.LocalReference:
			state.SetLocal(LocalKey{Index: v.Local.Index}, source)
		case value.FieldReference:
			if fv, ok := singleOf[value.FieldValue](s.handler.FieldValue(v.Field)); ok {
				s.handler.StoreField(fv, ins, source)
			}
		case value.ParameterReference:
			if pv, ok := singleOf[value.ParameterValue](s.handler.ParameterValue(v.Method, v.Index)); ok {
				s.handler.StoreParameter(pv, ins, source)
			}
		case value.ThisReference:
			// Writes through this are not tracked.
		case value.MethodReturnValue:
			s.handler.StoreMethodReturn(v, ins, source)
		case value.FieldValue:
			s.handler.StoreField(v, ins, s.dereference(source, state))
		default:
			if t := value.StaticType(v); t != nil && s.handler.IsInterestingType(t) {
				return &Error{
					Method: s.method.FullName(),
					Offset: ins.Offset,
					Msg:    fmt.Sprintf("unhandled store through %s value %s", v.Kind(), v),
				}
			}
			// Pointer and array element addresses are not tracked.
		}
	}
	return nil
}

func (s *Scanner) scanNewarr(ins *il.Instruction, state *FlowState) {
	count := state.Pop()
	elem, _ := ins.Operand.(*il.TypeRef)
	arr, ok := s.arrays[ins.Offset]
	if !ok {
		arr = value.NewArray(count, elem)
		s.arrays[ins.Offset] = arr
	} else {
		arr.Size = value.Meet(arr.Size, count)
		arr.ClearIndices()
	}
	state.Push(value.New(arr))
}

func (s *Scanner) scanStelem(block *BasicBlock, state *FlowState) {
	v := state.Pop()
	indexSet := state.Pop()
	arrays := state.Pop()
	index, known := indexSet.AsConstInt()
	for a := range arrays.All() {
		arr, ok := a.(*value.ArrayValue)
		if !ok {
			continue
		}
		if !known {
			arr.ClearIndices()
			continue
		}
		arr.StoreIndex(index, v, block.ID)
	}
}

func (s *Scanner) scanLdelem(state *FlowState, byRef bool) {
	indexSet := state.Pop()
	arrays := state.Pop()
	index, known := indexSet.AsConstInt()

	if byRef || !known {
		state.Push(value.UnknownSet())
		if byRef {
			clearArrays(arrays)
		}
		return
	}

	result := value.Top
	for a := range arrays.All() {
		if arr, ok := a.(*value.ArrayValue); ok {
			if elem, ok := arr.Index(index); ok {
				result = value.Meet(result, elem)
				continue
			}
		}
		result = value.Meet(result, value.UnknownSet())
	}
	if result.IsTop() {
		result = value.UnknownSet()
	}
	state.Push(result)
}

func clearArrays(mv value.MultiValue) {
	for v := range mv.All() {
		if arr, ok := v.(*value.ArrayValue); ok {
			arr.ClearIndices()
		}
	}
}

// tokenValue computes the handle loaded by ldtoken.
func (s *Scanner) tokenValue(operand any) value.SingleValue {
	switch tok := operand.(type) {
	case *il.TypeRef:
		if tok.Kind == il.TypeGenericParam && tok.Param != nil {
			return value.GenericParameterHandle{Param: *tok.Param}
		}
		def := s.resolver.ResolveType(tok)
		if def == nil {
			return value.Unknown
		}
		if !tok.IsGenericInstance() || !def.IsTypeOf(il.NullableTypeName) {
			return value.RuntimeTypeHandle{Type: def}
		}
		arg := tok.Args[0]
		if arg.Kind == il.TypeGenericParam && arg.Param != nil {
			return value.NullableGenericParameterHandle{
				Nullable:   def,
				Underlying: value.GenericParameterHandle{Param: *arg.Param},
			}
		}
		if underlying := s.resolver.ResolveType(arg); underlying != nil {
			return value.NullableTypeHandle{Nullable: def, Underlying: value.SystemType{Type: underlying}}
		}
	case *il.MethodRef:
		if m := s.resolver.ResolveMethod(tok); m != nil {
			return value.RuntimeMethodHandle{Method: m}
		}
	}
	return value.Unknown
}

func (s *Scanner) scanCall(ins *il.Instruction, callee *il.MethodRef, state *FlowState) error {
	isNewObj := ins.Op == il.OpNewobj
	implicitThis := callee.HasThis && !callee.ExplicitThis

	count := len(callee.Params)
	if !isNewObj && implicitThis {
		count++
	}
	args := state.PopN(count)

	var fresh value.SingleValue
	if isNewObj {
		fresh = value.FreshObject{Method: s.method, Offset: ins.Offset, Type: callee.DeclaringType}
		args = append([]value.MultiValue{value.New(fresh)}, args...)
	}

	derefArgs := make([]value.MultiValue, len(args))
	for i, a := range args {
		derefArgs[i] = s.dereference(a, state)
	}

	resolved := s.resolver.ResolveMethod(callee)
	result, handled := s.handler.HandleCall(s.body, callee, resolved, ins, derefArgs)
	if !handled {
		switch {
		case isNewObj:
			result = value.New(fresh)
		case !callee.ReturnsVoid():
			result = value.UnknownSet()
		}
	}
	if isNewObj || !callee.ReturnsVoid() {
		state.Push(result)
	}

	if err := s.assignRefAndOutParameters(callee, resolved, args, ins, state); err != nil {
		return err
	}

	for _, a := range args {
		clearArrays(a)
	}
	return nil
}

// assignRefAndOutParameters writes the callee's view of every ref or out
// parameter back through the reference passed for it.
func (s *Scanner) assignRefAndOutParameters(callee *il.MethodRef, resolved *il.MethodDef, args []value.MultiValue, ins *il.Instruction, state *FlowState) error {
	offset := 0
	if callee.HasThis && !callee.ExplicitThis {
		offset = 1
	}
	for i := range callee.Params {
		kind := callee.ParameterReferenceKind(i)
		if kind != il.ParamRef && kind != il.ParamOut {
			continue
		}
		argIndex := i + offset
		if argIndex >= len(args) {
			continue
		}
		written := value.UnknownSet()
		if resolved != nil && i < len(resolved.Params) {
			written = s.handler.ParameterValue(resolved, i)
		}
		if err := s.storeInReference(args[argIndex], written, ins, state); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scanner) scanRet(ins *il.Instruction, state *FlowState) {
	want := 0
	if !s.method.ReturnsVoid() {
		want = 1
	}
	if state.Depth() != want {
		s.diags.InvalidIL(s.body, ins.Offset)
	}
	if want == 0 {
		return
	}
	padUnknown(state, 1)
	ret := s.dereference(state.Pop(), state)
	s.returnValue = value.Meet(s.returnValue, ret)
	s.handler.ReturnValue(s.method, s.returnValue)
}

// singleOf returns the only member of mv when it has type T.
func singleOf[T value.SingleValue](mv value.MultiValue) (T, bool) {
	var zero T
	v, ok := mv.AsSingle()
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}
