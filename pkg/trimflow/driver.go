package trimflow

import (
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/tools/container/intsets"

	"github.com/715d/trimflow/internal/analysis"
	"github.com/715d/trimflow/pkg/dataflow"
	"github.com/715d/trimflow/pkg/il"
	"github.com/715d/trimflow/pkg/value"
)

// worklist drives block transfers of one method to a fixed point. Blocks are
// revisited in offset order whenever their input state grows.
type worklist struct {
	g         *dataflow.ControlFlowGraph
	method    string
	maxVisits int

	in      []*dataflow.BlockState
	visits  []int
	pending intsets.Sparse

	// regionsOf lists, per block, the exception regions protecting it.
	regionsOf [][]int
	// exception holds the locals visible to each region's handlers.
	exception []*dataflow.ExceptionState
	seeded    []bool
}

func newWorklist(g *dataflow.ControlFlowGraph, method string, maxVisits int) *worklist {
	n := len(g.Blocks())
	regions := g.ExceptionRegions()
	w := &worklist{
		g:         g,
		method:    method,
		maxVisits: maxVisits,
		in:        make([]*dataflow.BlockState, n),
		visits:    make([]int, n),
		regionsOf: make([][]int, n),
		exception: make([]*dataflow.ExceptionState, len(regions)),
		seeded:    make([]bool, len(regions)),
	}
	for r, region := range regions {
		w.exception[r] = &dataflow.ExceptionState{}
		for _, b := range region.Try {
			w.regionsOf[b.ID] = append(w.regionsOf[b.ID], r)
		}
	}
	return w
}

// run transfers blocks until no input state changes and returns the number
// of block visits.
func (w *worklist) run(s *dataflow.Scanner) (int, error) {
	entry := w.g.Entry()
	w.in[entry.ID] = dataflow.NewBlockState()
	w.pending.Insert(entry.ID)

	total := 0
	var id int
	for w.pending.TakeMin(&id) {
		b := w.g.Blocks()[id]
		w.visits[id]++
		total++
		if w.visits[id] > w.maxVisits {
			return total, &dataflow.Error{
				Method: w.method,
				Offset: b.Offset,
				Msg:    fmt.Sprintf("block %s did not converge after %d visits", b, w.maxVisits),
			}
		}

		state := dataflow.NewFlowState(w.in[id].Clone(), nil)
		regions := w.regionsOf[id]
		if len(regions) > 0 {
			state.Exception = &dataflow.ExceptionState{Locals: w.in[id].Locals.Clone()}
		}
		if err := s.Transfer(b, state); err != nil {
			return total, err
		}

		for _, r := range regions {
			if err := w.mergeException(r, state.Exception.Locals); err != nil {
				return total, err
			}
		}
		for _, succ := range w.g.Successors(b) {
			if err := w.flow(succ, state.Current); err != nil {
				return total, err
			}
		}
	}
	return total, nil
}

// flow merges out into the input state of to and schedules it on change.
func (w *worklist) flow(to *dataflow.BasicBlock, out *dataflow.BlockState) error {
	cur := w.in[to.ID]
	if cur == nil {
		w.in[to.ID] = out.Clone()
		w.pending.Insert(to.ID)
		return nil
	}
	merged, err := dataflow.MeetStates(cur, out)
	if err != nil {
		return &dataflow.Error{
			Method: w.method,
			Offset: to.Offset,
			Msg:    fmt.Sprintf("merge into %s: %v", to, err),
		}
	}
	if !merged.Equal(cur) {
		w.in[to.ID] = merged
		w.pending.Insert(to.ID)
	}
	return nil
}

// mergeException widens the handler locals of region r and, on change or
// first contact, flows them into the region's entry blocks.
func (w *worklist) mergeException(r int, locals dataflow.Locals) error {
	exc := w.exception[r]
	merged := dataflow.MeetLocals(exc.Locals, locals)
	if w.seeded[r] && merged.Equal(exc.Locals) {
		return nil
	}
	w.seeded[r] = true
	exc.Locals = merged

	region := w.g.ExceptionRegions()[r]
	var stack []value.MultiValue
	switch region.Handler.Kind {
	case il.HandlerCatch, il.HandlerFilter:
		// The thrown exception.
		stack = []value.MultiValue{value.UnknownSet()}
	}
	for _, entry := range region.Entries {
		start := &dataflow.BlockState{Stack: stack, Locals: merged.Clone()}
		if err := w.flow(entry, start); err != nil {
			return err
		}
	}
	return nil
}

// analyzeMethod runs the dataflow analysis of m to a fixed point. A fatal
// failure discards every other diagnostic of the method and leaves a single
// TRIM008.
func (r *run) analyzeMethod(m *il.MethodDef) *analysis.MethodInfo {
	info := analysis.NewMethodInfo(m, r.names)
	view := r.handler.ForMethod(m)

	g, err := dataflow.BuildCFG(m.Body)
	if err != nil {
		r.fail(info, err)
		return info
	}
	info.Blocks = len(g.Blocks())

	scanner := dataflow.NewScanner(m, view, r.module, view)
	w := newWorklist(g, info.Name, r.maxVisits)
	info.Visits, err = w.run(scanner)
	if err != nil {
		r.fail(info, err)
		return info
	}

	info.ReturnValue = scanner.ReturnValue()
	for _, d := range view.Finish() {
		info.Add(d)
	}
	info.Sort()
	slog.Debug("analyzed method",
		"method", info.Name,
		"blocks", info.Blocks,
		"visits", info.Visits,
		"diagnostics", len(info.Diagnostics))
	return info
}

func (r *run) fail(info *analysis.MethodInfo, err error) {
	info.Failed = true
	info.Diagnostics = nil
	d := analysis.Diagnostic{
		Code:    CodeAnalysisError,
		Offset:  analysis.MethodLevel,
		Message: err.Error(),
	}
	var fatal *dataflow.Error
	if errors.As(err, &fatal) {
		d.Message = fatal.Msg
		if body := info.Method.Body; body != nil && len(body.Instructions) > 0 {
			d.Offset = fatal.Offset
		}
	}
	info.Add(d)
	slog.Warn("analysis aborted", "method", info.Name, "error", err)
}
