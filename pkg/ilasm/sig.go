package ilasm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/715d/trimflow/pkg/il"
)

// primitiveAliases maps assembler keywords to core library type names.
var primitiveAliases = map[string]string{
	"void":    il.VoidTypeName,
	"bool":    "System.Boolean",
	"char":    "System.Char",
	"int8":    "System.SByte",
	"uint8":   "System.Byte",
	"int16":   "System.Int16",
	"uint16":  "System.UInt16",
	"int32":   "System.Int32",
	"uint32":  "System.UInt32",
	"int64":   "System.Int64",
	"uint64":  "System.UInt64",
	"float32": "System.Single",
	"float64": "System.Double",
	"nint":    "System.IntPtr",
	"nuint":   "System.UIntPtr",
	"string":  il.StringTypeName,
	"object":  il.ObjectTypeName,
}

// sigParser is a cursor over one signature string.
type sigParser struct {
	s   string
	pos int
}

func (p *sigParser) skipSpace() {
	for p.pos < len(p.s) && (p.s[p.pos] == ' ' || p.s[p.pos] == '\t') {
		p.pos++
	}
}

func (p *sigParser) done() bool {
	p.skipSpace()
	return p.pos >= len(p.s)
}

func (p *sigParser) consume(tok string) bool {
	p.skipSpace()
	if strings.HasPrefix(p.s[p.pos:], tok) {
		p.pos += len(tok)
		return true
	}
	return false
}

// keyword consumes word when it is followed by a space.
func (p *sigParser) keyword(word string) bool {
	p.skipSpace()
	rest := p.s[p.pos:]
	if strings.HasPrefix(rest, word+" ") {
		p.pos += len(word) + 1
		return true
	}
	return false
}

func isNameByte(c byte) bool {
	return c == '_' || c == '.' || c == '`' || c == '$' || c == '/' || c == '+' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func (p *sigParser) name() string {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.s) && isNameByte(p.s[p.pos]) {
		p.pos++
	}
	return p.s[start:p.pos]
}

func (p *sigParser) errorf(format string, args ...any) error {
	return fmt.Errorf("signature %q at %d: %s", p.s, p.pos, fmt.Sprintf(format, args...))
}

func (p *sigParser) typ() (*il.TypeRef, error) {
	if !p.keyword("class") {
		p.keyword("valuetype")
	}
	var t *il.TypeRef
	switch {
	case p.consume("!!"):
		n := p.name()
		if n == "" {
			return nil, p.errorf("missing generic parameter name")
		}
		t = genericParam(n, true)
	case p.consume("!"):
		n := p.name()
		if n == "" {
			return nil, p.errorf("missing generic parameter name")
		}
		t = genericParam(n, false)
	default:
		n := p.name()
		if n == "" {
			return nil, p.errorf("expected type")
		}
		if alias, ok := primitiveAliases[n]; ok {
			n = alias
		}
		t = il.NamedType(n)
		if p.consume("<") {
			for {
				arg, err := p.typ()
				if err != nil {
					return nil, err
				}
				t.Args = append(t.Args, arg)
				if p.consume(">") {
					break
				}
				if !p.consume(",") {
					return nil, p.errorf("expected , or >")
				}
			}
			if !strings.Contains(t.Name, "`") {
				t.Name += "`" + strconv.Itoa(len(t.Args))
			}
		}
	}

	for {
		switch {
		case p.consume("&"):
			t = &il.TypeRef{Kind: il.TypeByRef, Elem: t}
		case p.consume("*"):
			t = &il.TypeRef{Kind: il.TypePointer, Elem: t}
		case p.consume("[]"):
			t = &il.TypeRef{Kind: il.TypeArray, Elem: t}
		default:
			return t, nil
		}
	}
}

func genericParam(name string, method bool) *il.TypeRef {
	gp := &il.GenericParam{Name: name, Method: method}
	if n, err := strconv.Atoi(name); err == nil {
		gp.Position = n
	}
	return &il.TypeRef{Kind: il.TypeGenericParam, Param: gp}
}

func (p *sigParser) param() (*il.ParamDef, error) {
	kind := il.ParamByValue
	switch {
	case p.keyword("out"):
		kind = il.ParamOut
	case p.keyword("ref"):
		kind = il.ParamRef
	case p.keyword("in"):
		kind = il.ParamIn
	}
	t, err := p.typ()
	if err != nil {
		return nil, err
	}
	if kind != il.ParamByValue && t.Kind != il.TypeByRef {
		t = &il.TypeRef{Kind: il.TypeByRef, Elem: t}
	}
	pd := &il.ParamDef{Type: t, Kind: kind}
	p.skipSpace()
	if p.pos < len(p.s) && p.s[p.pos] != ',' && p.s[p.pos] != ')' {
		pd.Name = p.name()
	}
	return pd, nil
}

func (p *sigParser) params() ([]*il.ParamDef, error) {
	if !p.consume("(") {
		return nil, p.errorf("expected (")
	}
	var out []*il.ParamDef
	if p.consume(")") {
		return out, nil
	}
	for {
		pd, err := p.param()
		if err != nil {
			return nil, err
		}
		out = append(out, pd)
		if p.consume(")") {
			return out, nil
		}
		if !p.consume(",") {
			return nil, p.errorf("expected , or )")
		}
	}
}

func (p *sigParser) end() error {
	if !p.done() {
		return p.errorf("unexpected trailing input")
	}
	return nil
}

// ParseType parses a type such as `System.Nullable<int32>`, `!!T`, or
// `string[]&`. Generic instances get the `N arity suffix.
func ParseType(s string) (*il.TypeRef, error) {
	p := &sigParser{s: s}
	t, err := p.typ()
	if err != nil {
		return nil, err
	}
	return t, p.end()
}

// ParseParams parses a parenthesized parameter list, each entry an
// optional out/ref/in keyword, a type and an optional name.
func ParseParams(s string) ([]*il.ParamDef, error) {
	p := &sigParser{s: s}
	params, err := p.params()
	if err != nil {
		return nil, err
	}
	return params, p.end()
}

// ParseMethodRef parses `[instance [explicit]] Ret Decl::Name(params)`.
func ParseMethodRef(s string) (*il.MethodRef, error) {
	p := &sigParser{s: s}
	ref := &il.MethodRef{}
	if p.keyword("instance") {
		ref.HasThis = true
		ref.ExplicitThis = p.keyword("explicit")
	}
	ret, err := p.typ()
	if err != nil {
		return nil, err
	}
	ref.Return = ret
	decl, err := p.typ()
	if err != nil {
		return nil, err
	}
	ref.DeclaringType = decl
	if !p.consume("::") {
		return nil, p.errorf("expected ::")
	}
	ref.Name = p.name()
	if ref.Name == "" {
		return nil, p.errorf("missing method name")
	}
	if ref.Params, err = p.params(); err != nil {
		return nil, err
	}
	return ref, p.end()
}

// ParseCallSite parses a calli signature `[instance] Ret(params)`.
func ParseCallSite(s string) (*il.MethodRef, error) {
	p := &sigParser{s: s}
	ref := &il.MethodRef{}
	if p.keyword("instance") {
		ref.HasThis = true
		ref.ExplicitThis = p.keyword("explicit")
	}
	ret, err := p.typ()
	if err != nil {
		return nil, err
	}
	ref.Return = ret
	if ref.Params, err = p.params(); err != nil {
		return nil, err
	}
	return ref, p.end()
}

// ParseFieldRef parses `Type Decl::name`.
func ParseFieldRef(s string) (*il.FieldRef, error) {
	p := &sigParser{s: s}
	t, err := p.typ()
	if err != nil {
		return nil, err
	}
	decl, err := p.typ()
	if err != nil {
		return nil, err
	}
	if !p.consume("::") {
		return nil, p.errorf("expected ::")
	}
	name := p.name()
	if name == "" {
		return nil, p.errorf("missing field name")
	}
	return &il.FieldRef{DeclaringType: decl, Name: name, Type: t}, p.end()
}
