package analysis

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/715d/trimflow/pkg/il"
)

func TestComputeTypeName(t *testing.T) {
	nameCache := NewNameCache()
	str := il.NamedType(il.StringTypeName)

	tests := []struct {
		name string
		typ  *il.TypeRef
		want string
	}{
		{"named", str, "System.String"},
		{"byref", &il.TypeRef{Kind: il.TypeByRef, Elem: str}, "System.String"},
		{"pointer", &il.TypeRef{Kind: il.TypePointer, Elem: str}, "System.String"},
		{"array", &il.TypeRef{Kind: il.TypeArray, Elem: str}, "System.String[]"},
		{"generic instance", &il.TypeRef{Kind: il.TypeNamed, Name: il.NullableTypeName, Args: []*il.TypeRef{il.NamedType("System.Int32")}}, "System.Nullable`1"},
		{"method generic param", &il.TypeRef{Kind: il.TypeGenericParam, Param: &il.GenericParam{Name: "T", Method: true}}, "!!T"},
		{"nil", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Repeated calls hit the cache and agree.
			for range 3 {
				require.Equal(t, tt.want, nameCache.ComputeTypeName(tt.typ))
			}
		})
	}
}

func TestComputeMethodName(t *testing.T) {
	nameCache := NewNameCache()
	decl := &il.TypeDef{Name: "Sample.Loader"}
	m := &il.MethodDef{
		Name:   "Load",
		Return: il.NamedType(il.ObjectTypeName),
		Params: []*il.ParamDef{
			{Name: "name", Type: il.NamedType(il.StringTypeName)},
			{Name: "result", Type: &il.TypeRef{Kind: il.TypeByRef, Elem: il.NamedType(il.ObjectTypeName)}, Kind: il.ParamOut},
		},
	}
	decl.AddMethod(m)
	generic := &il.MethodDef{Name: "Make", Static: true, GenericParams: []string{"T", "U"}}
	decl.AddMethod(generic)

	require.Equal(t, "Sample.Loader::Load(System.String,out System.Object&)", nameCache.ComputeMethodName(m))
	require.Equal(t, "Sample.Loader::Make<T,U>()", nameCache.ComputeMethodName(generic))
	require.Equal(t, "Sample.Loader::Load", nameCache.ComputeMethodKey(m))
	require.Equal(t, "Sample.Loader::Make", nameCache.ComputeMethodKey(generic))
	require.Empty(t, nameCache.ComputeMethodName(nil))
	require.Empty(t, nameCache.ComputeMethodKey(nil))
}

func TestNameCacheConcurrentUse(t *testing.T) {
	nameCache := NewNameCache()
	decl := &il.TypeDef{Name: "Sample.C"}
	methods := make([]*il.MethodDef, 16)
	for i := range methods {
		methods[i] = &il.MethodDef{Name: "M", Params: make([]*il.ParamDef, 0, i)}
		decl.AddMethod(methods[i])
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, m := range methods {
				assert.Equal(t, "Sample.C::M()", nameCache.ComputeMethodName(m))
				assert.Equal(t, "Sample.C::M", nameCache.ComputeMethodKey(m))
			}
		}()
	}
	wg.Wait()
}

func TestMultipleNameCaches(t *testing.T) {
	// Independent caches compute the same names.
	cache1 := NewNameCache()
	cache2 := NewNameCache()
	typ := il.NamedType(il.TypeTypeName)
	require.Equal(t, cache1.ComputeTypeName(typ), cache2.ComputeTypeName(typ))
}
