package il

import (
	"fmt"
	"strconv"
	"strings"
)

// Instruction is one decoded instruction of a method body.
//
// Operand holds, by OperandKind: int32 (ShortInlineI, InlineI), int64
// (InlineI8), float64 (ShortInlineR, InlineR), string (InlineString),
// *TypeRef (InlineType), *MethodRef (InlineMethod, InlineSig), *FieldRef
// (InlineField), one of *TypeRef/*MethodRef/*FieldRef (InlineTok), int
// argument index (ShortInlineArg, InlineArg), *Local (ShortInlineLocal,
// InlineLocal), int target offset (branch targets) and []int (InlineSwitch).
type Instruction struct {
	Offset  int
	Op      Opcode
	Operand any
}

// Size returns the encoded size of the instruction.
func (i *Instruction) Size() int {
	n := i.Op.Size()
	if k := i.Op.OperandKind(); k == InlineSwitch {
		targets, _ := i.Operand.([]int)
		n += 4 + 4*len(targets)
	} else {
		n += k.OperandSize()
	}
	return n
}

// ArgIndex returns the IL argument index addressed by an ldarg/ldarga/starg
// family instruction.
func (i *Instruction) ArgIndex() (int, bool) {
	switch i.Op {
	case OpLdarg0, OpLdarg1, OpLdarg2, OpLdarg3:
		return int(i.Op - OpLdarg0), true
	}
	idx, ok := i.Operand.(int)
	return idx, ok
}

// LocalIndex returns the local slot addressed by an ldloc/ldloca/stloc
// family instruction.
func (i *Instruction) LocalIndex() (int, bool) {
	switch i.Op {
	case OpLdloc0, OpLdloc1, OpLdloc2, OpLdloc3:
		return int(i.Op - OpLdloc0), true
	case OpStloc0, OpStloc1, OpStloc2, OpStloc3:
		return int(i.Op - OpStloc0), true
	}
	if l, ok := i.Operand.(*Local); ok && l != nil {
		return l.Index, true
	}
	return 0, false
}

// JumpTargets returns the offsets the instruction can transfer control to
// explicitly. Fallthrough is not included.
func (i *Instruction) JumpTargets() []int {
	switch i.Op.OperandKind() {
	case ShortInlineBrTarget, InlineBrTarget:
		if t, ok := i.Operand.(int); ok {
			return []int{t}
		}
	case InlineSwitch:
		if ts, ok := i.Operand.([]int); ok {
			return ts
		}
	}
	return nil
}

// FallsThrough reports whether control can continue to the next instruction.
func (i *Instruction) FallsThrough() bool {
	switch i.Op.FlowControl() {
	case FlowBranch, FlowReturn, FlowThrow:
		return false
	}
	return i.Op != OpJmp
}

// StackEffect returns the number of values the instruction pops and pushes.
// returnsValue describes the enclosing method and only matters for ret.
func (i *Instruction) StackEffect(returnsValue bool) (pop, push int) {
	info := opcodes[i.Op]
	pop, push = info.pop, info.push
	switch i.Op {
	case OpRet:
		if returnsValue {
			return 1, 0
		}
		return 0, 0
	case OpCall, OpCallvirt, OpNewobj:
		ref, _ := i.Operand.(*MethodRef)
		if ref == nil {
			return 0, push
		}
		pop = len(ref.Params)
		if i.Op != OpNewobj && ref.HasThis && !ref.ExplicitThis {
			pop++
		}
		if i.Op == OpNewobj {
			return pop, 1
		}
		if ref.ReturnsVoid() {
			return pop, 0
		}
		return pop, 1
	case OpCalli:
		ref, _ := i.Operand.(*MethodRef)
		if ref == nil {
			return 1, 0
		}
		pop = len(ref.Params) + 1
		if ref.HasThis && !ref.ExplicitThis {
			pop++
		}
		if ref.ReturnsVoid() {
			return pop, 0
		}
		return pop, 1
	}
	return pop, push
}

func (i *Instruction) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "IL_%04x: %s", i.Offset, i.Op)
	if i.Operand == nil {
		return b.String()
	}
	b.WriteByte(' ')
	switch v := i.Operand.(type) {
	case string:
		b.WriteString(strconv.Quote(v))
	case []int:
		labels := make([]string, len(v))
		for j, t := range v {
			labels[j] = fmt.Sprintf("IL_%04x", t)
		}
		b.WriteString("(" + strings.Join(labels, ", ") + ")")
	case int:
		switch i.Op.OperandKind() {
		case ShortInlineBrTarget, InlineBrTarget:
			fmt.Fprintf(&b, "IL_%04x", v)
		default:
			b.WriteString(strconv.Itoa(v))
		}
	default:
		fmt.Fprint(&b, v)
	}
	return b.String()
}

// HandlerKind identifies the kind of an exception handling clause.
type HandlerKind uint8

const (
	HandlerCatch HandlerKind = iota
	HandlerFilter
	HandlerFinally
	HandlerFault
)

// ExceptionHandler is one exception handling clause. End offsets are
// exclusive.
type ExceptionHandler struct {
	Kind         HandlerKind
	TryStart     int
	TryEnd       int
	HandlerStart int
	HandlerEnd   int
	FilterStart  int
	CatchType    *TypeRef
}

// InTry reports whether offset lies inside the protected region.
func (h *ExceptionHandler) InTry(offset int) bool {
	return offset >= h.TryStart && offset < h.TryEnd
}

// MethodBody is the code of a method.
type MethodBody struct {
	Method            *MethodDef
	Instructions      []*Instruction
	Locals            []*Local
	ExceptionHandlers []*ExceptionHandler
}

// Local returns the local at index, or nil when out of range.
func (b *MethodBody) Local(index int) *Local {
	if index < 0 || index >= len(b.Locals) {
		return nil
	}
	return b.Locals[index]
}

// CodeSize returns the encoded size of the body.
func (b *MethodBody) CodeSize() int {
	if len(b.Instructions) == 0 {
		return 0
	}
	last := b.Instructions[len(b.Instructions)-1]
	return last.Offset + last.Size()
}
