package ilasm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/715d/trimflow/pkg/il"
)

func TestParseType(t *testing.T) {
	tests := []struct {
		input string
		want  string
		kind  il.TypeKind
	}{
		{"string", "System.String", il.TypeNamed},
		{"int32[]", "System.Int32[]", il.TypeArray},
		{"System.Nullable<int32>", "System.Nullable`1<System.Int32>", il.TypeNamed},
		{"System.Collections.Generic.Dictionary<string, !T>", "System.Collections.Generic.Dictionary`2<System.String,!T>", il.TypeNamed},
		{"!!TResult", "!!TResult", il.TypeGenericParam},
		{"string&", "System.String&", il.TypeByRef},
		{"uint8*", "System.Byte*", il.TypePointer},
		{"class Sample.Widget", "Sample.Widget", il.TypeNamed},
		{"valuetype Sample.Point[]&", "Sample.Point[]&", il.TypeByRef},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseType(tt.input)
			require.NoError(t, err)
			require.Equal(t, tt.want, got.String())
			require.Equal(t, tt.kind, got.Kind)
		})
	}

	for _, bad := range []string{"", "!", "List<string", "string extra"} {
		_, err := ParseType(bad)
		require.Error(t, err, bad)
	}
}

func TestParseMethodRef(t *testing.T) {
	ref, err := ParseMethodRef("instance string Sample.C::Get(int32 index, out object& result)")
	require.NoError(t, err)
	require.True(t, ref.HasThis)
	require.False(t, ref.ExplicitThis)
	require.Equal(t, "System.String", ref.Return.String())
	require.Equal(t, "Sample.C", ref.DeclaringType.String())
	require.Equal(t, "Get", ref.Name)
	require.Len(t, ref.Params, 2)
	require.Equal(t, "index", ref.Params[0].Name)
	require.Equal(t, il.ParamOut, ref.Params[1].Kind)
	require.Equal(t, il.TypeByRef, ref.Params[1].Type.Kind)

	ctor, err := ParseMethodRef("instance void Sample.C::.ctor()")
	require.NoError(t, err)
	require.Equal(t, ".ctor", ctor.Name)
	require.Empty(t, ctor.Params)
	require.True(t, ctor.ReturnsVoid())

	byRef, err := ParseMethodRef("void Sample.C::Fill(ref string)")
	require.NoError(t, err)
	require.Equal(t, il.ParamRef, byRef.ParameterReferenceKind(0))
	require.Equal(t, "System.String&", byRef.Params[0].Type.String())

	_, err = ParseMethodRef("void Sample.C.Fill()")
	require.Error(t, err)
}

func TestParseFieldRefAndCallSite(t *testing.T) {
	f, err := ParseFieldRef("string Sample.C::name")
	require.NoError(t, err)
	require.Equal(t, "Sample.C::name", f.FullName())
	require.Equal(t, "System.String", f.Type.String())

	sig, err := ParseCallSite("instance int32(string, string)")
	require.NoError(t, err)
	require.True(t, sig.HasThis)
	require.Len(t, sig.Params, 2)
}

func TestAssembleOffsetsAndLabels(t *testing.T) {
	m := &il.MethodDef{Name: "M", Static: true, Return: il.NamedType(il.StringTypeName)}
	body, err := Assemble(m, `
		.locals (string s)
		ldstr "a // not a comment"   // comment
		stloc.0
	loop:
		ldloc s
		brtrue.s loop
		switch (loop, done)
	done:
		ldloc.0
		ret
	`)
	require.NoError(t, err)
	require.Same(t, body, m.Body)
	require.Len(t, body.Locals, 1)
	require.Equal(t, "s", body.Locals[0].Name)

	offsets := make([]int, len(body.Instructions))
	for i, ins := range body.Instructions {
		offsets[i] = ins.Offset
	}
	// ldstr 5, stloc.0 1, ldloc 4, brtrue.s 2, switch 1+4+8, ldloc.0 1.
	require.Equal(t, []int{0, 5, 6, 10, 12, 25, 26}, offsets)
	require.Equal(t, "a // not a comment", body.Instructions[0].Operand)
	require.Equal(t, 6, body.Instructions[3].Operand)
	require.Equal(t, []int{6, 25}, body.Instructions[4].Operand)
	require.Same(t, body.Locals[0], body.Instructions[2].Operand)
}

func TestAssembleExplicitOffsets(t *testing.T) {
	m := &il.MethodDef{Name: "M", Static: true}
	body, err := Assemble(m, `
		IL_0000: nop
		IL_0010: br IL_0020
		IL_0015: ret
	`)
	require.NoError(t, err)
	require.Equal(t, 0x10, body.Instructions[1].Offset)
	require.Equal(t, 0x20, body.Instructions[1].Operand, "unknown IL_ labels resolve to the offset they spell")
}

func TestAssembleArgumentsByName(t *testing.T) {
	m := &il.MethodDef{
		Name:   "M",
		Params: []*il.ParamDef{{Name: "typeName", Type: il.NamedType(il.StringTypeName)}},
	}
	body, err := Assemble(m, `
		ldarg this
		ldarg.s typeName
		starg 1
		ret
	`)
	require.NoError(t, err)
	require.Equal(t, 0, body.Instructions[0].Operand)
	require.Equal(t, 1, body.Instructions[1].Operand)
}

func TestAssembleTry(t *testing.T) {
	m := &il.MethodDef{Name: "M", Static: true}
	body, err := Assemble(m, `
	start:
		nop
		leave.s after
	handler:
		pop
		leave.s after
	after:
		ret
		.try start to handler catch System.Exception handler handler to after
	`)
	require.NoError(t, err)
	require.Len(t, body.ExceptionHandlers, 1)
	h := body.ExceptionHandlers[0]
	require.Equal(t, il.HandlerCatch, h.Kind)
	require.Equal(t, 0, h.TryStart)
	require.Equal(t, 3, h.TryEnd)
	require.Equal(t, 3, h.HandlerStart)
	require.Equal(t, 6, h.HandlerEnd)
	require.Equal(t, "System.Exception", h.CatchType.String())
}

func TestAssembleErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"unknown opcode", "frob"},
		{"missing operand", "ldstr"},
		{"extra operand", "nop 1"},
		{"undefined label", "br nowhere"},
		{"undeclared local", "ldloc.s 3"},
		{"bad string", "ldstr foo"},
		{"duplicate label", "a: nop\na: nop"},
		{"malformed try", ".try a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Assemble(&il.MethodDef{Name: "M", Static: true}, tt.src)
			require.Error(t, err)
		})
	}
}

const sampleDocument = `
module: sample
types:
  - name: Sample.Program
    fields:
      - name: cached
        type: System.Type
        static: true
    methods:
      - name: Run
        static: true
        returns: string
        params: (string name)
        locals: (string tmp)
        directives: ["//nolint:trimflow"]
        body: |
          ldarg.0
          stloc tmp
          ldloc.0
          ret
      - name: Abstract
        returns: void
        locals: (int32 unused)
`

func TestDocumentBuild(t *testing.T) {
	doc, err := DecodeYAML([]byte(sampleDocument))
	require.NoError(t, err)
	require.Equal(t, "sample", doc.Module)

	mod := il.NewModule(doc.Module)
	defs, err := doc.Build(mod)
	require.NoError(t, err)
	require.Len(t, defs, 1)

	prog := mod.Type("Sample.Program")
	require.NotNil(t, prog)
	require.Len(t, prog.Fields, 1)
	require.True(t, prog.Fields[0].Static)

	run := prog.Methods[0]
	require.NotNil(t, run.Body)
	require.Len(t, run.Body.Instructions, 4)
	require.Equal(t, "tmp", run.Body.Locals[0].Name)
	require.Equal(t, []string{"//nolint:trimflow"}, run.Directives)
	require.Nil(t, prog.Methods[1].Body)

	require.Equal(t, []*il.MethodDef{run}, mod.Methods())
}

func TestDocumentCBORRoundTrip(t *testing.T) {
	doc, err := DecodeYAML([]byte(sampleDocument))
	require.NoError(t, err)

	first, err := EncodeCBOR(doc)
	require.NoError(t, err)
	decoded, err := DecodeCBOR(first)
	require.NoError(t, err)
	require.Equal(t, doc, decoded)

	second, err := EncodeCBOR(decoded)
	require.NoError(t, err)
	require.Equal(t, first, second, "canonical encoding is deterministic")
}
