package dataflow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/715d/trimflow/pkg/il"
	"github.com/715d/trimflow/pkg/ilasm"
	"github.com/715d/trimflow/pkg/value"
)

func buildCFG(t *testing.T, src string) *ControlFlowGraph {
	t.Helper()
	m := &il.MethodDef{Name: "M", Static: true, DeclaringType: &il.TypeDef{Name: "Sample.C"}}
	body, err := ilasm.Assemble(m, src)
	require.NoError(t, err)
	g, err := BuildCFG(body)
	require.NoError(t, err)
	return g
}

func blockOffsets(blocks []*BasicBlock) []int {
	out := make([]int, len(blocks))
	for i, b := range blocks {
		out[i] = b.Offset
	}
	return out
}

func TestBuildCFGStraightLine(t *testing.T) {
	g := buildCFG(t, `
		nop
		ldstr "a"
		pop
		ret
	`)
	require.Len(t, g.Blocks(), 1)
	require.Same(t, g.Entry(), g.Blocks()[0])
	require.Empty(t, g.Successors(g.Entry()))
	require.Len(t, g.Entry().Instructions, 4)
}

func TestBuildCFGBranches(t *testing.T) {
	g := buildCFG(t, `
		IL_0000: ldc.i4.0
		IL_0001: brtrue.s IL_0006
		IL_0003: nop
		IL_0004: br.s IL_0007
		IL_0006: nop
		IL_0007: ret
	`)
	require.Equal(t, []int{0, 3, 6, 7}, blockOffsets(g.Blocks()))

	entry := g.BlockAt(0)
	require.Equal(t, []int{6, 3}, blockOffsets(g.Successors(entry)), "jump targets precede fallthrough")
	require.Equal(t, []int{7}, blockOffsets(g.Successors(g.BlockAt(3))))
	require.Equal(t, []int{7}, blockOffsets(g.Successors(g.BlockAt(6))))
	require.ElementsMatch(t, []int{3, 6}, blockOffsets(g.Predecessors(g.BlockAt(7))))
	require.Nil(t, g.BlockAt(1))
}

func TestBuildCFGSwitchDeduplicatesEdges(t *testing.T) {
	g := buildCFG(t, `
		ldc.i4.0
		switch (a, a, b)
	a:
		nop
	b:
		ret
	`)
	entry := g.Entry()
	succ := g.Successors(entry)
	// Targets a and b plus the fallthrough into a.
	require.Len(t, succ, 2)
	require.Equal(t, g.BlockAt(entry.Last().Offset+entry.Last().Size()), succ[0])
}

func TestBuildCFGTerminators(t *testing.T) {
	g := buildCFG(t, `
		ldnull
		throw
		nop
		ret
	`)
	require.Len(t, g.Blocks(), 2)
	require.Empty(t, g.Successors(g.Blocks()[0]))
	require.Empty(t, g.Predecessors(g.Blocks()[1]))
}

func TestBuildCFGExceptionRegions(t *testing.T) {
	g := buildCFG(t, `
	try:
		nop
		leave.s done
	filter:
		pop
		ldc.i4.1
		endfilter
	handler:
		pop
		leave.s done
	done:
		ret
		.try try to filter filter filter handler handler to done
	`)
	// endfilter is a two-byte opcode.
	require.Equal(t, []int{0, 3, 7, 10}, blockOffsets(g.Blocks()))

	regions := g.ExceptionRegions()
	require.Len(t, regions, 1)
	r := regions[0]
	require.Equal(t, il.HandlerFilter, r.Handler.Kind)
	require.Equal(t, []int{0}, blockOffsets(r.Try))
	require.Equal(t, []int{3, 7}, blockOffsets(r.Entries), "filter entry precedes handler entry")
}

func TestBuildCFGErrors(t *testing.T) {
	_, err := BuildCFG(&il.MethodBody{})
	var fatal *Error
	require.True(t, errors.As(err, &fatal))

	m := &il.MethodDef{Name: "M", Static: true, DeclaringType: &il.TypeDef{Name: "Sample.C"}}
	body, err := ilasm.Assemble(m, `
		br.s IL_0001
		ret
	`)
	require.NoError(t, err)
	_, err = BuildCFG(body)
	require.True(t, errors.As(err, &fatal))
	require.Equal(t, 0, fatal.Offset)
	require.Contains(t, err.Error(), "Sample.C::M()")

	body, err = ilasm.Assemble(m, `
		nop
		nop
		ret
	`)
	require.NoError(t, err)
	body.ExceptionHandlers = []*il.ExceptionHandler{{
		Kind: il.HandlerFinally, TryStart: 0, TryEnd: 7, HandlerStart: 2, HandlerEnd: 3,
	}}
	_, err = BuildCFG(body)
	require.True(t, errors.As(err, &fatal))
	require.Equal(t, 7, fatal.Offset)
}

func str(s string) value.MultiValue { return value.New(value.KnownString{Contents: s}) }

func TestMeetStates(t *testing.T) {
	a := NewBlockState()
	a.Push(str("a"))
	a.SetLocal(LocalKey{Index: 0}, str("x"))

	b := NewBlockState()
	b.Push(str("b"))
	b.SetLocal(LocalKey{Index: 1}, str("y"))

	merged, err := MeetStates(a, b)
	require.NoError(t, err)
	require.Equal(t, 1, merged.Depth())
	require.True(t, merged.Stack[0].Equal(value.Meet(str("a"), str("b"))))
	require.True(t, merged.Local(LocalKey{Index: 0}).Equal(str("x")))
	require.True(t, merged.Local(LocalKey{Index: 1}).Equal(str("y")))

	// Inputs are untouched.
	require.Len(t, a.Locals, 1)
	require.True(t, a.Stack[0].Equal(str("a")))

	again, err := MeetStates(merged, a)
	require.NoError(t, err)
	require.True(t, again.Equal(merged), "meet is idempotent on an absorbed input")
}

func TestMeetStatesDepthMismatch(t *testing.T) {
	a := NewBlockState()
	a.Push(str("a"))
	_, err := MeetStates(a, NewBlockState())
	require.ErrorIs(t, err, ErrStackDepthMismatch)
}

func TestBlockStateClone(t *testing.T) {
	s := NewBlockState()
	s.Push(str("a"))
	s.SetLocal(LocalKey{Index: 0}, str("x"))

	c := s.Clone()
	require.True(t, c.Equal(s))
	c.Push(str("b"))
	c.SetLocal(LocalKey{Index: 0}, str("y"))
	require.Equal(t, 1, s.Depth())
	require.True(t, s.Local(LocalKey{Index: 0}).Equal(str("x")))
	require.False(t, c.Equal(s))
}

func TestLocalsAbsentEqualsTop(t *testing.T) {
	a := Locals{LocalKey{Index: 0}: value.Top}
	require.True(t, a.Equal(Locals{}))
	require.True(t, Locals{}.Equal(a))
	require.False(t, Locals{}.Equal(Locals{LocalKey{Index: 0}: str("x")}))
}

func TestPopNOrder(t *testing.T) {
	s := NewBlockState()
	s.Push(str("first"))
	s.Push(str("second"))
	got := s.PopN(2)
	require.True(t, got[0].Equal(str("first")))
	require.True(t, got[1].Equal(str("second")))
	require.Zero(t, s.Depth())
	require.Equal(t, []string{"<unknown>"}, s.Pop().Strings())
}
