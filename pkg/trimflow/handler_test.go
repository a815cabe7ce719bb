package trimflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/715d/trimflow/internal/analysis"
	"github.com/715d/trimflow/pkg/il"
	"github.com/715d/trimflow/pkg/value"
)

func TestMemberTypes(t *testing.T) {
	ctors, err := ParseMemberTypes([]string{"PublicConstructors"})
	require.NoError(t, err)
	assert.True(t, ctors.Covers(MembersPublicParameterlessConstructor))
	assert.False(t, MembersPublicParameterlessConstructor.Covers(ctors))
	assert.Equal(t, "PublicConstructors", ctors.String())

	all, err := ParseMemberTypes([]string{"All"})
	require.NoError(t, err)
	assert.Equal(t, MembersAll, all)
	assert.True(t, all.Covers(MembersInterfaces|MembersPublicMethods))
	assert.Equal(t, "All", all.String())

	mixed := MembersPublicMethods | MembersPublicFields
	assert.Equal(t, "PublicMethods|PublicFields", mixed.String())
	assert.Equal(t, "None", MembersNone.String())
	assert.True(t, MembersNone.Covers(MembersNone))

	_, err = ParseMemberTypes([]string{"PublicMethods", "Bogus"})
	require.Error(t, err)
}

func TestLookupIntrinsic(t *testing.T) {
	assert.Equal(t, IntrinsicTypeGetType, LookupIntrinsic("System.Type::GetType", 1))
	assert.Equal(t, IntrinsicNone, LookupIntrinsic("System.Type::GetType", 2))
	assert.Equal(t, IntrinsicObjectGetType, LookupIntrinsic("System.Object::GetType", 0))
	assert.Equal(t, "Type.GetTypeFromHandle", IntrinsicGetTypeFromHandle.String())
	assert.Equal(t, "intrinsic(42)", Intrinsic(42).String())
}

func newTestHandler(t *testing.T, cfg *Config) (*ReferenceHandler, *il.Module) {
	t.Helper()
	mod := buildModule(t, programCorpus)
	h, err := NewReferenceHandler(mod, cfg, analysis.NewNameCache())
	require.NoError(t, err)
	return h, mod
}

func TestReferenceHandler_IsInterestingType(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	assert.True(t, h.IsInterestingType(il.NamedType(il.TypeTypeName)))
	assert.True(t, h.IsInterestingType(&il.TypeRef{Kind: il.TypeByRef, Elem: il.NamedType(il.StringTypeName)}))
	assert.False(t, h.IsInterestingType(il.NamedType(il.ObjectTypeName)))
	assert.False(t, h.IsInterestingType(nil))
}

func TestReferenceHandler_ThisValueIsStable(t *testing.T) {
	h, mod := newTestHandler(t, nil)
	ctor := mod.Type("Sample.Widget").Methods[0]

	require.True(t, h.ThisValue(ctor).Equal(h.ThisValue(ctor)))
}

func TestMethodView_FieldStoresAccumulate(t *testing.T) {
	h, mod := newTestHandler(t, nil)
	prog := mod.Type("Sample.Program")
	field := prog.Fields[0]
	target := value.FieldValue{Field: field, StaticType: field.Type}
	ins := &il.Instruction{Offset: 4, Op: il.OpStsfld}

	v1 := h.ForMethod(prog.Methods[0])
	v1.StoreField(target, ins, value.New(value.KnownString{Contents: "a"}))
	v2 := h.ForMethod(prog.Methods[1])
	v2.StoreField(target, ins, value.New(value.Null))

	stores := h.FieldStores()
	require.Len(t, stores, 1)
	assert.Equal(t, field.FullName(), stores[0].Field)
	assert.ElementsMatch(t, []string{`"a"`, "null"}, stores[0].Values)
	assert.Empty(t, v1.Diagnostics(), "the field carries no annotation by default")
}

func TestMethodView_ReportKeepsLatest(t *testing.T) {
	h, mod := newTestHandler(t, nil)
	v := h.ForMethod(mod.Type("Sample.Program").Methods[0])

	v.report(CodeParameterNotKnown, 6, "type", "first")
	v.report(CodeParameterNotKnown, 6, "type", "second")
	v.report(CodeParameterNotKnown, 6, "other", "third")
	v.InvalidIL(nil, 2)

	diags := v.Diagnostics()
	require.Len(t, diags, 3)
	assert.Equal(t, CodeInvalidIL, diags[0].Code)
	assert.Equal(t, "other", diags[1].Target)
	assert.Equal(t, "second", diags[2].Message)
}

func TestMethodView_Intrinsics(t *testing.T) {
	h, mod := newTestHandler(t, nil)
	v := h.ForMethod(mod.Type("Sample.Program").Methods[0])
	widget := mod.Type("Sample.Widget")
	str := mod.Type(il.StringTypeName)
	ins := &il.Instruction{Offset: 8, Op: il.OpCall}

	tests := []struct {
		name string
		id   Intrinsic
		arg  value.MultiValue
		want value.MultiValue
	}{
		{
			name: "GetType resolves known names",
			id:   IntrinsicTypeGetType,
			arg:  value.New(value.KnownString{Contents: "Sample.Widget"}, value.Null),
			want: value.New(value.SystemType{Type: widget}),
		},
		{
			name: "GetType of a missing type",
			id:   IntrinsicTypeGetType,
			arg:  value.New(value.KnownString{Contents: "Sample.Missing"}),
			want: value.UnknownSet(),
		},
		{
			name: "handle to type",
			id:   IntrinsicGetTypeFromHandle,
			arg:  value.New(value.RuntimeTypeHandle{Type: widget}),
			want: value.New(value.SystemType{Type: widget}),
		},
		{
			name: "type to handle",
			id:   IntrinsicGetTypeHandle,
			arg:  value.New(value.SystemType{Type: widget}),
			want: value.New(value.RuntimeTypeHandle{Type: widget}),
		},
		{
			name: "string receiver",
			id:   IntrinsicObjectGetType,
			arg:  value.New(value.KnownString{Contents: "x"}),
			want: value.New(value.SystemType{Type: str}),
		},
		{
			name: "fresh object receiver",
			id:   IntrinsicObjectGetType,
			arg:  value.New(value.FreshObject{Offset: 0, Type: widget.Ref()}),
			want: value.New(value.SystemType{Type: widget}),
		},
		{
			name: "unknown handle",
			id:   IntrinsicGetTypeFromHandle,
			arg:  value.UnknownSet(),
			want: value.UnknownSet(),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := v.evalIntrinsic(tt.id, ins, []value.MultiValue{tt.arg})
			require.True(t, tt.want.Equal(got), "got %s", got)
		})
	}
	require.Empty(t, v.Diagnostics(), "known strings and null never warn")

	v.evalIntrinsic(IntrinsicTypeGetType, ins, []value.MultiValue{value.UnknownSet()})
	diags := v.Diagnostics()
	require.Len(t, diags, 1)
	require.Equal(t, CodeUnrecognizedTypeName, diags[0].Code)
	require.Equal(t, 8, diags[0].Offset)
}

func TestMethodView_Finish(t *testing.T) {
	cfg, err := ParseConfig([]byte(programConfig))
	require.NoError(t, err)
	h, mod := newTestHandler(t, cfg)
	var returnsUnknown *il.MethodDef
	for _, m := range mod.Type("Sample.Program").Methods {
		if m.Name == "ReturnsUnknown" {
			returnsUnknown = m
		}
	}
	require.NotNil(t, returnsUnknown)

	v := h.ForMethod(returnsUnknown)
	v.ReturnValue(returnsUnknown, value.New(value.Null))
	require.Empty(t, v.Finish())

	v = h.ForMethod(returnsUnknown)
	v.ReturnValue(returnsUnknown, value.New(value.ParameterValue{Method: returnsUnknown, Index: 0}))
	diags := v.Finish()
	require.Len(t, diags, 1)
	require.Equal(t, CodeReturnNotKnown, diags[0].Code)
	require.Equal(t, analysis.MethodLevel, diags[0].Offset)
}
