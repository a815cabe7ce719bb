package dataflow

import (
	"fmt"
	"slices"

	"golang.org/x/tools/container/intsets"

	"github.com/715d/trimflow/pkg/il"
)

// BasicBlock is a maximal run of instructions with a single entry.
type BasicBlock struct {
	// ID is the position of the block in offset order.
	ID           int
	Offset       int
	Instructions []*il.Instruction
}

// Last returns the final instruction of the block.
func (b *BasicBlock) Last() *il.Instruction {
	return b.Instructions[len(b.Instructions)-1]
}

func (b *BasicBlock) String() string {
	return fmt.Sprintf("B%d@IL_%04x", b.ID, b.Offset)
}

// ExceptionRegion ties an exception handler to the blocks it protects and
// the blocks where handling code starts.
type ExceptionRegion struct {
	Handler *il.ExceptionHandler
	Try     []*BasicBlock
	// Entries holds the handler entry block and, for filters, the filter
	// entry block.
	Entries []*BasicBlock
}

// ControlFlowGraph is the basic block graph of one method body. It is not
// modified after construction.
type ControlFlowGraph struct {
	Body     *il.MethodBody
	blocks   []*BasicBlock
	byOffset map[int]*BasicBlock
	succs    [][]*BasicBlock
	preds    [][]*BasicBlock
	regions  []*ExceptionRegion
}

// BuildCFG splits body into basic blocks and links them by the final
// instruction of each block. A branch target or region boundary that is not
// an instruction offset is a fatal *Error.
func BuildCFG(body *il.MethodBody) (*ControlFlowGraph, error) {
	if body == nil || len(body.Instructions) == 0 {
		return nil, &Error{Method: methodName(body), Msg: "empty method body"}
	}

	var offsets intsets.Sparse
	for _, ins := range body.Instructions {
		offsets.Insert(ins.Offset)
	}

	var leaders intsets.Sparse
	leaders.Insert(body.Instructions[0].Offset)
	for i, ins := range body.Instructions {
		for _, t := range ins.JumpTargets() {
			if !offsets.Has(t) {
				return nil, &Error{
					Method: methodName(body),
					Offset: ins.Offset,
					Msg:    fmt.Sprintf("branch target IL_%04x is not an instruction", t),
				}
			}
			leaders.Insert(t)
		}
		if ins.Op.EndsBlock() && i+1 < len(body.Instructions) {
			leaders.Insert(body.Instructions[i+1].Offset)
		}
	}

	end := body.CodeSize()
	for _, h := range body.ExceptionHandlers {
		bounds := []int{h.TryStart, h.TryEnd, h.HandlerStart, h.HandlerEnd}
		if h.Kind == il.HandlerFilter {
			bounds = append(bounds, h.FilterStart)
		}
		for _, b := range bounds {
			if b == end {
				continue
			}
			if !offsets.Has(b) {
				return nil, &Error{
					Method: methodName(body),
					Offset: b,
					Msg:    "exception region boundary is not an instruction",
				}
			}
			leaders.Insert(b)
		}
	}

	g := &ControlFlowGraph{Body: body, byOffset: make(map[int]*BasicBlock)}
	var cur *BasicBlock
	for _, ins := range body.Instructions {
		if leaders.Has(ins.Offset) {
			cur = &BasicBlock{ID: len(g.blocks), Offset: ins.Offset}
			g.blocks = append(g.blocks, cur)
			g.byOffset[ins.Offset] = cur
		}
		cur.Instructions = append(cur.Instructions, ins)
	}

	g.succs = make([][]*BasicBlock, len(g.blocks))
	g.preds = make([][]*BasicBlock, len(g.blocks))
	for i, b := range g.blocks {
		last := b.Last()
		var targets []*BasicBlock
		for _, t := range last.JumpTargets() {
			targets = append(targets, g.byOffset[t])
		}
		if last.FallsThrough() && i+1 < len(g.blocks) {
			targets = append(targets, g.blocks[i+1])
		}
		for _, t := range targets {
			if slices.Contains(g.succs[i], t) {
				continue
			}
			g.succs[i] = append(g.succs[i], t)
			g.preds[t.ID] = append(g.preds[t.ID], b)
		}
	}

	for _, h := range body.ExceptionHandlers {
		r := &ExceptionRegion{Handler: h}
		for _, b := range g.blocks {
			if h.InTry(b.Offset) {
				r.Try = append(r.Try, b)
			}
		}
		if h.Kind == il.HandlerFilter {
			if b := g.byOffset[h.FilterStart]; b != nil {
				r.Entries = append(r.Entries, b)
			}
		}
		if b := g.byOffset[h.HandlerStart]; b != nil {
			r.Entries = append(r.Entries, b)
		}
		g.regions = append(g.regions, r)
	}
	return g, nil
}

// Blocks returns the blocks in offset order.
func (g *ControlFlowGraph) Blocks() []*BasicBlock { return g.blocks }

// Entry returns the block holding the first instruction.
func (g *ControlFlowGraph) Entry() *BasicBlock { return g.blocks[0] }

// Successors returns the blocks control can reach from the end of b.
func (g *ControlFlowGraph) Successors(b *BasicBlock) []*BasicBlock { return g.succs[b.ID] }

// Predecessors returns the blocks whose end can reach b.
func (g *ControlFlowGraph) Predecessors(b *BasicBlock) []*BasicBlock { return g.preds[b.ID] }

// BlockAt returns the block starting at offset, or nil.
func (g *ControlFlowGraph) BlockAt(offset int) *BasicBlock { return g.byOffset[offset] }

// ExceptionRegions returns one region per exception handler, in handler
// order.
func (g *ControlFlowGraph) ExceptionRegions() []*ExceptionRegion { return g.regions }

func methodName(body *il.MethodBody) string {
	if body == nil || body.Method == nil {
		return "<unknown method>"
	}
	return body.Method.FullName()
}
