package dataflow

import (
	"maps"
	"slices"

	"github.com/715d/trimflow/pkg/value"
)

// LocalKey identifies a local variable slot of the method under analysis.
type LocalKey struct {
	Index int
}

// Locals maps local slots to their value sets. An absent key holds Top.
type Locals map[LocalKey]value.MultiValue

// Get returns the value set of k.
func (l Locals) Get(k LocalKey) value.MultiValue {
	return l[k]
}

// Clone returns a copy of l.
func (l Locals) Clone() Locals {
	if l == nil {
		return Locals{}
	}
	return maps.Clone(l)
}

// Equal reports whether l and o hold equal sets for every key. An absent key
// equals an explicit Top.
func (l Locals) Equal(o Locals) bool {
	for k, v := range l {
		if !v.Equal(o[k]) {
			return false
		}
	}
	for k, v := range o {
		if _, ok := l[k]; !ok && !v.IsTop() {
			return false
		}
	}
	return true
}

// BlockState is the abstract operand stack and locals at one program point.
// The top of the stack is the last element.
type BlockState struct {
	Stack  []value.MultiValue
	Locals Locals
}

// NewBlockState returns an empty state.
func NewBlockState() *BlockState {
	return &BlockState{Locals: Locals{}}
}

// Depth returns the number of stack slots.
func (s *BlockState) Depth() int { return len(s.Stack) }

// Push pushes v.
func (s *BlockState) Push(v value.MultiValue) {
	s.Stack = append(s.Stack, v)
}

// Pop removes and returns the top slot. Popping an empty stack yields
// Unknown; callers check depth first.
func (s *BlockState) Pop() value.MultiValue {
	if len(s.Stack) == 0 {
		return value.UnknownSet()
	}
	v := s.Stack[len(s.Stack)-1]
	s.Stack = s.Stack[:len(s.Stack)-1]
	return v
}

// PopN removes the top n slots and returns them in push order, so the
// deepest slot is first.
func (s *BlockState) PopN(n int) []value.MultiValue {
	out := make([]value.MultiValue, n)
	for i := n - 1; i >= 0; i-- {
		out[i] = s.Pop()
	}
	return out
}

// Local returns the value set of k, Top if never written.
func (s *BlockState) Local(k LocalKey) value.MultiValue {
	return s.Locals.Get(k)
}

// SetLocal replaces the value set of k.
func (s *BlockState) SetLocal(k LocalKey, v value.MultiValue) {
	if s.Locals == nil {
		s.Locals = Locals{}
	}
	s.Locals[k] = v
}

// Clone returns a deep copy of the stack and locals. Value sets are
// immutable and shared.
func (s *BlockState) Clone() *BlockState {
	return &BlockState{
		Stack:  slices.Clone(s.Stack),
		Locals: s.Locals.Clone(),
	}
}

// Equal reports whether both states hold equal stacks and locals.
func (s *BlockState) Equal(o *BlockState) bool {
	if len(s.Stack) != len(o.Stack) {
		return false
	}
	for i := range s.Stack {
		if !s.Stack[i].Equal(o.Stack[i]) {
			return false
		}
	}
	return s.Locals.Equal(o.Locals)
}

// ExceptionState holds the locals visible to the handlers of a protected
// region. Every block in the region shares one ExceptionState.
type ExceptionState struct {
	Locals Locals
}

// FlowState is the state threaded through one block transfer.
type FlowState struct {
	Current *BlockState

	// Exception is nil outside protected regions.
	Exception *ExceptionState
}

// NewFlowState wraps current with an optional exception side channel.
func NewFlowState(current *BlockState, exception *ExceptionState) *FlowState {
	return &FlowState{Current: current, Exception: exception}
}

func (f *FlowState) Push(v value.MultiValue)           { f.Current.Push(v) }
func (f *FlowState) Pop() value.MultiValue             { return f.Current.Pop() }
func (f *FlowState) PopN(n int) []value.MultiValue     { return f.Current.PopN(n) }
func (f *FlowState) Depth() int                        { return f.Current.Depth() }
func (f *FlowState) Local(k LocalKey) value.MultiValue { return f.Current.Local(k) }

// SetLocal writes the current state and then merges every current local into
// the exception state, which only ever grows.
func (f *FlowState) SetLocal(k LocalKey, v value.MultiValue) {
	f.Current.SetLocal(k, v)
	if f.Exception != nil {
		f.Exception.Locals = MeetLocals(f.Exception.Locals, f.Current.Locals)
	}
}
