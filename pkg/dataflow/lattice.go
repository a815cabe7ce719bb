package dataflow

import (
	"fmt"

	"github.com/715d/trimflow/pkg/value"
)

// MeetStates merges two states reaching the same program point. Stacks merge
// slot by slot and locals key by key. Both stacks must have the same depth.
func MeetStates(a, b *BlockState) (*BlockState, error) {
	if len(a.Stack) != len(b.Stack) {
		return nil, fmt.Errorf("%w: %d and %d", ErrStackDepthMismatch, len(a.Stack), len(b.Stack))
	}
	out := &BlockState{
		Stack:  make([]value.MultiValue, len(a.Stack)),
		Locals: MeetLocals(a.Locals, b.Locals),
	}
	for i := range a.Stack {
		out.Stack[i] = value.Meet(a.Stack[i], b.Stack[i])
	}
	return out, nil
}

// MeetLocals merges two local maps key by key, treating an absent key as
// Top. The inputs are not modified.
func MeetLocals(a, b Locals) Locals {
	out := a.Clone()
	for k, v := range b {
		out[k] = value.Meet(out[k], v)
	}
	return out
}
