// Package ilasm assembles textual IL listings into method bodies and loads
// corpus documents describing whole modules.
package ilasm

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/715d/trimflow/pkg/il"
)

// Compile patterns once at package initialization.
var (
	// Label prefix: `IL_0004:` or `loop:`. A label may stand alone on a line.
	labelPattern = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*:(?:\s+|$)(.*)$`)

	// Instruction: mnemonic followed by an optional operand.
	instrPattern = regexp.MustCompile(`^([a-z][a-z0-9.]*)(?:\s+(.*))?$`)

	// IL_xxxx offset label.
	offsetLabelPattern = regexp.MustCompile(`^IL_([0-9A-Fa-f]+)$`)

	// .locals (type [name], ...)
	localsPattern = regexp.MustCompile(`^\.locals\s*(?:init\s*)?(\(.*\))$`)

	// .try A to B catch T handler C to D
	// .try A to B filter F handler C to D
	// .try A to B finally handler C to D
	// .try A to B fault handler C to D
	tryPattern = regexp.MustCompile(`^\.try\s+(\S+)\s+to\s+(\S+)\s+(catch\s+(\S+)|filter\s+(\S+)|finally|fault)\s+handler\s+(\S+)\s+to\s+(\S+)$`)
)

type pendingInstruction struct {
	ins     *il.Instruction
	operand string
	line    int
}

type pendingHandler struct {
	match []string
	line  int
}

type assembler struct {
	method  *il.MethodDef
	body    *il.MethodBody
	labels  map[string]int
	pending []pendingInstruction
	tries   []pendingHandler
	// waiting holds labels seen on lines without an instruction.
	waiting []string
	offset  int
}

// Assemble parses src into the body of method and attaches it. Lines hold
// one instruction each, optionally prefixed by a label; `//` starts a
// comment. Offsets come from IL_xxxx labels when present and are computed
// from encoded sizes otherwise.
func Assemble(method *il.MethodDef, src string) (*il.MethodBody, error) {
	return AssembleReader(method, strings.NewReader(src))
}

// AssembleReader is Assemble over a reader.
func AssembleReader(method *il.MethodDef, r io.Reader) (*il.MethodBody, error) {
	a := &assembler{
		method: method,
		body:   &il.MethodBody{Method: method},
		labels: make(map[string]int),
	}
	if method.Body != nil {
		a.body.Locals = method.Body.Locals
	}

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(stripComment(scanner.Text()))
		if line == "" {
			continue
		}
		if err := a.line(line, lineNo); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	for _, l := range a.waiting {
		a.labels[l] = a.offset
	}
	for _, p := range a.pending {
		if err := a.resolveOperand(p); err != nil {
			return nil, fmt.Errorf("line %d: %w", p.line, err)
		}
	}
	for _, t := range a.tries {
		h, err := a.handler(t.match)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", t.line, err)
		}
		a.body.ExceptionHandlers = append(a.body.ExceptionHandlers, h)
	}

	method.Body = a.body
	return a.body, nil
}

func (a *assembler) line(line string, lineNo int) error {
	if m := localsPattern.FindStringSubmatch(line); m != nil {
		params, err := ParseParams(m[1])
		if err != nil {
			return err
		}
		a.body.Locals = a.body.Locals[:0:0]
		for i, p := range params {
			a.body.Locals = append(a.body.Locals, &il.Local{Index: i, Type: p.Type, Name: p.Name})
		}
		return nil
	}
	if strings.HasPrefix(line, ".try") {
		m := tryPattern.FindStringSubmatch(line)
		if m == nil {
			return fmt.Errorf("malformed .try directive %q", line)
		}
		a.tries = append(a.tries, pendingHandler{match: m, line: lineNo})
		return nil
	}

	if m := labelPattern.FindStringSubmatch(line); m != nil {
		a.waiting = append(a.waiting, m[1])
		line = strings.TrimSpace(m[2])
		if line == "" {
			return nil
		}
	}

	m := instrPattern.FindStringSubmatch(line)
	if m == nil {
		return fmt.Errorf("malformed instruction %q", line)
	}
	op, ok := il.LookupOpcode(m[1])
	if !ok {
		return fmt.Errorf("unknown opcode %q", m[1])
	}

	offset := a.offset
	for _, l := range a.waiting {
		if lm := offsetLabelPattern.FindStringSubmatch(l); lm != nil {
			n, err := strconv.ParseInt(lm[1], 16, 32)
			if err != nil {
				return err
			}
			if int(n) < a.offset {
				return fmt.Errorf("label %s overlaps the previous instruction", l)
			}
			offset = int(n)
		}
	}
	for _, l := range a.waiting {
		if _, dup := a.labels[l]; dup {
			return fmt.Errorf("duplicate label %s", l)
		}
		a.labels[l] = offset
	}
	a.waiting = a.waiting[:0]

	ins := &il.Instruction{Offset: offset, Op: op}
	operand := strings.TrimSpace(m[2])
	if err := a.parseOperand(ins, operand); err != nil {
		return err
	}
	a.body.Instructions = append(a.body.Instructions, ins)
	a.pending = append(a.pending, pendingInstruction{ins: ins, operand: operand, line: lineNo})
	a.offset = offset + ins.Size()
	return nil
}

// parseOperand decodes every operand that does not reference a label.
// Branch targets are resolved once all labels are known.
func (a *assembler) parseOperand(ins *il.Instruction, operand string) error {
	kind := ins.Op.OperandKind()
	if kind == il.InlineNone {
		if operand != "" {
			return fmt.Errorf("%s takes no operand", ins.Op)
		}
		return nil
	}
	if operand == "" {
		return fmt.Errorf("%s requires an operand", ins.Op)
	}

	var err error
	switch kind {
	case il.ShortInlineI, il.InlineI:
		var n int64
		n, err = strconv.ParseInt(operand, 0, 32)
		ins.Operand = int32(n)
	case il.InlineI8:
		ins.Operand, err = strconv.ParseInt(operand, 0, 64)
	case il.ShortInlineR, il.InlineR:
		ins.Operand, err = strconv.ParseFloat(operand, 64)
	case il.InlineString:
		ins.Operand, err = strconv.Unquote(operand)
	case il.InlineType:
		ins.Operand, err = ParseType(operand)
	case il.InlineMethod:
		ins.Operand, err = ParseMethodRef(operand)
	case il.InlineField:
		ins.Operand, err = ParseFieldRef(operand)
	case il.InlineSig:
		ins.Operand, err = ParseCallSite(operand)
	case il.InlineTok:
		switch {
		case strings.HasPrefix(operand, "method "):
			ins.Operand, err = ParseMethodRef(strings.TrimPrefix(operand, "method "))
		case strings.HasPrefix(operand, "field "):
			ins.Operand, err = ParseFieldRef(strings.TrimPrefix(operand, "field "))
		default:
			ins.Operand, err = ParseType(operand)
		}
	case il.ShortInlineArg, il.InlineArg:
		ins.Operand, err = a.argument(operand)
	case il.ShortInlineLocal, il.InlineLocal:
		ins.Operand, err = a.local(operand)
	case il.ShortInlineBrTarget, il.InlineBrTarget:
		// Placeholder keeps Size correct until labels resolve.
		ins.Operand = 0
	case il.InlineSwitch:
		targets, perr := splitSwitch(operand)
		if perr != nil {
			return perr
		}
		ins.Operand = make([]int, len(targets))
	}
	if err != nil {
		return fmt.Errorf("%s operand %q: %w", ins.Op, operand, err)
	}
	return nil
}

func (a *assembler) resolveOperand(p pendingInstruction) error {
	switch p.ins.Op.OperandKind() {
	case il.ShortInlineBrTarget, il.InlineBrTarget:
		t, err := a.target(p.operand)
		if err != nil {
			return err
		}
		p.ins.Operand = t
	case il.InlineSwitch:
		names, err := splitSwitch(p.operand)
		if err != nil {
			return err
		}
		targets := p.ins.Operand.([]int)
		for i, n := range names {
			if targets[i], err = a.target(n); err != nil {
				return err
			}
		}
	}
	return nil
}

// target resolves a label. An IL_xxxx name that labels no instruction
// resolves to the offset it spells.
func (a *assembler) target(name string) (int, error) {
	if off, ok := a.labels[name]; ok {
		return off, nil
	}
	if m := offsetLabelPattern.FindStringSubmatch(name); m != nil {
		n, err := strconv.ParseInt(m[1], 16, 32)
		return int(n), err
	}
	return 0, fmt.Errorf("undefined label %q", name)
}

func (a *assembler) argument(operand string) (int, error) {
	if n, err := strconv.Atoi(operand); err == nil {
		return n, nil
	}
	base := 0
	if a.method.HasThis() {
		if operand == "this" {
			return 0, nil
		}
		base = 1
	}
	for i, p := range a.method.Params {
		if p.Name == operand {
			return base + i, nil
		}
	}
	return 0, fmt.Errorf("unknown argument %q", operand)
}

func (a *assembler) local(operand string) (*il.Local, error) {
	if n, err := strconv.Atoi(operand); err == nil {
		if l := a.body.Local(n); l != nil {
			return l, nil
		}
		return nil, fmt.Errorf("local %d is not declared", n)
	}
	for _, l := range a.body.Locals {
		if l.Name == operand {
			return l, nil
		}
	}
	return nil, fmt.Errorf("unknown local %q", operand)
}

func (a *assembler) handler(m []string) (*il.ExceptionHandler, error) {
	var bounds [4]int
	for i, name := range []string{m[1], m[2], m[6], m[7]} {
		off, err := a.target(name)
		if err != nil {
			return nil, err
		}
		bounds[i] = off
	}
	h := &il.ExceptionHandler{
		TryStart:     bounds[0],
		TryEnd:       bounds[1],
		HandlerStart: bounds[2],
		HandlerEnd:   bounds[3],
	}
	switch {
	case strings.HasPrefix(m[3], "catch"):
		h.Kind = il.HandlerCatch
		t, err := ParseType(m[4])
		if err != nil {
			return nil, err
		}
		h.CatchType = t
	case strings.HasPrefix(m[3], "filter"):
		h.Kind = il.HandlerFilter
		off, err := a.target(m[5])
		if err != nil {
			return nil, err
		}
		h.FilterStart = off
	case m[3] == "finally":
		h.Kind = il.HandlerFinally
	default:
		h.Kind = il.HandlerFault
	}
	return h, nil
}

func splitSwitch(operand string) ([]string, error) {
	if !strings.HasPrefix(operand, "(") || !strings.HasSuffix(operand, ")") {
		return nil, fmt.Errorf("switch operand %q must be parenthesized", operand)
	}
	inner := strings.TrimSpace(operand[1 : len(operand)-1])
	if inner == "" {
		return nil, nil
	}
	parts := strings.Split(inner, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts, nil
}

// stripComment removes a trailing // comment outside string literals.
func stripComment(line string) string {
	inString := false
	for i := 0; i < len(line); i++ {
		switch c := line[i]; {
		case c == '\\' && inString:
			i++
		case c == '"':
			inString = !inString
		case c == '/' && !inString && i+1 < len(line) && line[i+1] == '/':
			return line[:i]
		}
	}
	return line
}
