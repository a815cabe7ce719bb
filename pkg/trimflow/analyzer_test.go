package trimflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/715d/trimflow/internal/analysis"
	"github.com/715d/trimflow/pkg/il"
	"github.com/715d/trimflow/pkg/ilasm"
	"github.com/715d/trimflow/pkg/value"
)

const programCorpus = `
module: sample
types:
  - name: Sample.Widget
    methods:
      - name: .ctor
        body: |
          ret
  - name: Sample.Program
    fields:
      - name: pluginType
        type: System.Type
        static: true
    methods:
      - name: KnownName
        static: true
        body: |
          ldstr "Sample.Widget, Sample"
          call System.Type System.Type::GetType(string)
          call object System.Activator::CreateInstance(System.Type)
          pop
          ret
      - name: UnknownName
        static: true
        params: (string name)
        body: |
          ldarg.0
          call System.Type System.Type::GetType(string)
          call object System.Activator::CreateInstance(System.Type)
          pop
          ret
      - name: Typeof
        static: true
        body: |
          ldtoken Sample.Widget
          call System.Type System.Type::GetTypeFromHandle(System.RuntimeTypeHandle)
          ldstr "Run"
          callvirt instance System.Reflection.MethodInfo System.Type::GetMethod(string)
          pop
          ret
      - name: ObjectType
        static: true
        body: |
          newobj instance void Sample.Widget::.ctor()
          callvirt instance System.Type System.Object::GetType()
          call object System.Activator::CreateInstance(System.Type)
          pop
          ret
      - name: AnnotatedForward
        static: true
        params: (System.Type type)
        body: |
          ldarg.0
          call object System.Activator::CreateInstance(System.Type)
          pop
          ret
      - name: WeakForward
        static: true
        params: (System.Type type)
        body: |
          ldarg.0
          ldstr "Run"
          callvirt instance System.Reflection.MethodInfo System.Type::GetMethod(string)
          pop
          ret
      - name: GenericHandle
        static: true
        generic_params: [T]
        body: |
          ldtoken !!T
          call System.Type System.Type::GetTypeFromHandle(System.RuntimeTypeHandle)
          call object System.Activator::CreateInstance(System.Type)
          pop
          ret
      - name: StoreField
        static: true
        params: (System.Type t)
        body: |
          ldarg.0
          stsfld System.Type Sample.Program::pluginType
          ret
      - name: ReturnsUnknown
        static: true
        returns: System.Type
        params: (string name)
        body: |
          ldarg.0
          call System.Type System.Type::GetType(string)
          ret
      - name: Suppressed
        static: true
        params: (string name)
        directives: ["//lint:ignore trimflow TRIM002,TRIM003 names come from config"]
        body: |
          ldarg.0
          call System.Type System.Type::GetType(string)
          call object System.Activator::CreateInstance(System.Type)
          pop
          ret
      - name: Stale
        static: true
        directives: ["//nolint:trimflow"]
        body: |
          ret
      - name: Branchy
        static: true
        params: (bool flag)
        body: |
          ldarg.0
          brfalse.s other
          ldstr "Sample.Widget"
          br.s done
          other:
          ldstr "System.String"
          done:
          call System.Type System.Type::GetType(string)
          call object System.Activator::CreateInstance(System.Type)
          pop
          ret
      - name: Loop
        static: true
        locals: (System.Type t)
        body: |
          ldnull
          stloc.0
          head:
          ldloc.0
          brtrue.s done
          ldstr "Sample.Widget"
          call System.Type System.Type::GetType(string)
          stloc.0
          br.s head
          done:
          ldloc.0
          call object System.Activator::CreateInstance(System.Type)
          pop
          ret
      - name: TryCatch
        static: true
        locals: (System.Type t)
        body: |
          start:
          ldstr "Sample.Widget"
          call System.Type System.Type::GetType(string)
          stloc.0
          leave.s after
          handler:
          pop
          ldnull
          stloc.0
          leave.s after
          after:
          ldloc.0
          call object System.Activator::CreateInstance(System.Type)
          pop
          ret
          .try start to handler catch System.Exception handler handler to after
      - name: Mismatch
        static: true
        params: (bool flag)
        body: |
          ldarg.0
          brfalse.s skip
          ldc.i4.1
          skip:
          ret
      - name: Underflow
        static: true
        body: |
          pop
          ret
`

const programConfig = `
[[annotation]]
method = "Sample.Program::AnnotatedForward"
parameter = "type"
members = ["PublicConstructors"]

[[annotation]]
method = "Sample.Program::WeakForward"
parameter = "0"
members = ["PublicFields"]

[[annotation]]
field = "Sample.Program::pluginType"
members = ["PublicMethods"]

[[annotation]]
method = "Sample.Program::ReturnsUnknown"
return = true
members = ["All"]
`

func buildModule(t *testing.T, src string) *il.Module {
	t.Helper()
	doc, err := ilasm.DecodeYAML([]byte(src))
	require.NoError(t, err)
	mod := il.NewModule(doc.Module)
	_, err = doc.Build(mod)
	require.NoError(t, err)
	return mod
}

func analyzeProgram(t *testing.T, opts AnalyzerOptions) map[*il.MethodDef]*analysis.MethodInfo {
	t.Helper()
	if opts.Config == nil {
		cfg, err := ParseConfig([]byte(programConfig))
		require.NoError(t, err)
		opts.Config = cfg
	}
	infos, err := NewAnalyzer(opts).Analyze(context.Background(), buildModule(t, programCorpus))
	require.NoError(t, err)
	return infos
}

func methodInfo(t *testing.T, infos map[*il.MethodDef]*analysis.MethodInfo, name string) *analysis.MethodInfo {
	t.Helper()
	for m, info := range infos {
		if m.DeclaringType.Name == "Sample.Program" && m.Name == name {
			return info
		}
	}
	require.Failf(t, "method not analyzed", "%s", name)
	return nil
}

type diagSummary struct {
	Code       string
	Offset     int
	Suppressed bool
}

func summarize(info *analysis.MethodInfo) []diagSummary {
	out := make([]diagSummary, 0, len(info.Diagnostics))
	for _, d := range info.Diagnostics {
		out = append(out, diagSummary{d.Code, d.Offset, d.Suppressed})
	}
	return out
}

func TestAnalyzer_NewAnalyzer(t *testing.T) {
	analyzer := NewAnalyzer(AnalyzerOptions{})
	require.NotNil(t, analyzer, "NewAnalyzer returned nil")
	require.NotNil(t, analyzer.suppressions, "Expected suppressions to be initialized")
	require.Equal(t, DefaultMaxBlockVisits, analyzer.cfg.MaxBlockVisits)
}

func TestAnalyzer_NilModule(t *testing.T) {
	_, err := NewAnalyzer(AnalyzerOptions{}).Analyze(context.Background(), nil)
	require.ErrorContains(t, err, "no module")
}

func TestAnalyzer_Diagnostics(t *testing.T) {
	infos := analyzeProgram(t, AnalyzerOptions{})

	tests := []struct {
		method string
		want   []diagSummary
	}{
		{"KnownName", []diagSummary{}},
		{"UnknownName", []diagSummary{{CodeUnrecognizedTypeName, 1, false}, {CodeParameterNotKnown, 6, false}}},
		{"Typeof", []diagSummary{}},
		{"ObjectType", []diagSummary{}},
		{"AnnotatedForward", []diagSummary{}},
		{"WeakForward", []diagSummary{{CodeAnnotationMismatch, 6, false}}},
		{"GenericHandle", []diagSummary{{CodeAnnotationMismatch, 10, false}}},
		{"StoreField", []diagSummary{{CodeFieldNotKnown, 1, false}}},
		{"ReturnsUnknown", []diagSummary{{CodeReturnNotKnown, analysis.MethodLevel, false}, {CodeUnrecognizedTypeName, 1, false}}},
		{"Suppressed", []diagSummary{{CodeUnrecognizedTypeName, 1, true}, {CodeParameterNotKnown, 6, true}}},
		{"Stale", []diagSummary{{CodeRedundantSuppression, analysis.MethodLevel, false}}},
		{"Branchy", []diagSummary{}},
		{"Loop", []diagSummary{}},
		{"Underflow", []diagSummary{{CodeInvalidIL, 0, false}}},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			info := methodInfo(t, infos, tt.method)
			require.False(t, info.Failed)
			require.Equal(t, tt.want, summarize(info))
		})
	}
}

func TestAnalyzer_SuppressionReason(t *testing.T) {
	infos := analyzeProgram(t, AnalyzerOptions{})
	info := methodInfo(t, infos, "Suppressed")
	require.Equal(t, "names come from config", info.Diagnostics[0].SuppressionReason)
	require.Equal(t, 2, info.SuppressedCount())
	require.False(t, info.ShouldReport())
}

func TestAnalyzer_ExceptionHandlerIsAnalyzed(t *testing.T) {
	infos := analyzeProgram(t, AnalyzerOptions{})
	info := methodInfo(t, infos, "TryCatch")

	require.False(t, info.Failed)
	require.Equal(t, 3, info.Blocks)
	require.GreaterOrEqual(t, info.Visits, 3, "the handler block must be transferred")
	require.Empty(t, info.Diagnostics)
}

func TestAnalyzer_LoopConverges(t *testing.T) {
	infos := analyzeProgram(t, AnalyzerOptions{})
	info := methodInfo(t, infos, "Loop")
	require.Less(t, info.Visits, DefaultMaxBlockVisits)
}

func TestAnalyzer_FatalErrorReplacesDiagnostics(t *testing.T) {
	infos := analyzeProgram(t, AnalyzerOptions{})
	info := methodInfo(t, infos, "Mismatch")

	require.True(t, info.Failed)
	require.Len(t, info.Diagnostics, 1)
	require.Equal(t, CodeAnalysisError, info.Diagnostics[0].Code)
	require.Contains(t, info.Diagnostics[0].Message, "stack depth mismatch")
}

func TestAnalyzer_ReturnValue(t *testing.T) {
	infos := analyzeProgram(t, AnalyzerOptions{})
	info := methodInfo(t, infos, "ReturnsUnknown")
	require.True(t, info.ReturnValue.Equal(value.UnknownSet()))
}

func TestAnalyzer_BuiltinAnnotationsDisabled(t *testing.T) {
	cfg, err := ParseConfig([]byte("no_builtin_annotations = true\n"))
	require.NoError(t, err)
	infos := analyzeProgram(t, AnalyzerOptions{Config: cfg})

	info := methodInfo(t, infos, "UnknownName")
	require.Equal(t, []diagSummary{{CodeUnrecognizedTypeName, 1, false}}, summarize(info))
}

func TestAnalyzer_SkipGenerated(t *testing.T) {
	mod := buildModule(t, `
module: gen
types:
  - name: Sample.Gen
    methods:
      - name: "<Main>b__0_0"
        static: true
        body: |
          pop
          ret
      - name: Helper
        static: true
        directives: ["// Code generated by trimgen. DO NOT EDIT."]
        body: |
          ret
      - name: Main
        static: true
        body: |
          ret
`)
	infos, err := NewAnalyzer(AnalyzerOptions{SkipGenerated: true}).Analyze(context.Background(), mod)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	for m := range infos {
		require.Equal(t, "Main", m.Name)
	}
}

func TestAnalyzer_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewAnalyzer(AnalyzerOptions{}).Analyze(ctx, buildModule(t, programCorpus))
	require.ErrorIs(t, err, context.Canceled)
}

func TestAnalyzer_FieldStoresAndReturns(t *testing.T) {
	cfg, err := ParseConfig([]byte(programConfig))
	require.NoError(t, err)
	analyzer := NewAnalyzer(AnalyzerOptions{Config: cfg})
	infos, err := analyzer.Analyze(context.Background(), buildModule(t, programCorpus))
	require.NoError(t, err)

	require.Equal(t, []FieldStore{
		{Field: "Sample.Program::pluginType", Values: []string{"StoreField.arg0"}},
	}, analyzer.FieldStores())

	require.Equal(t, []MethodReturn{
		{Method: "Sample.Program::ReturnsUnknown(System.String)", Values: []string{"<unknown>"}},
	}, Returns(infos))
}
