package value

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/715d/trimflow/pkg/il"
)

func TestNewDeduplicates(t *testing.T) {
	mv := New(KnownString{"a"}, ConstInt{1}, KnownString{"a"}, Unknown, Unknown)
	require.Equal(t, 3, mv.Len())
	require.Equal(t, []string{`"a"`, "1", "<unknown>"}, mv.Strings())
}

func TestMeetLaws(t *testing.T) {
	a := New(KnownString{"A"}, ConstInt{1})
	b := New(KnownString{"B"}, Unknown)
	c := New(Null, KnownString{"A"})

	sets := []MultiValue{Top, a, b, c, New(Unknown)}
	for _, s := range sets {
		require.True(t, Meet(s, s).Equal(s), "idempotent: %s", s)
		require.True(t, Meet(s, Top).Equal(s), "right identity: %s", s)
		require.True(t, Meet(Top, s).Equal(s), "left identity: %s", s)
		for _, u := range sets {
			require.True(t, Meet(s, u).Equal(Meet(u, s)), "commutative: %s %s", s, u)
			for _, w := range sets {
				require.True(t, Meet(Meet(s, u), w).Equal(Meet(s, Meet(u, w))), "associative")
			}
		}
	}

	// Unknown is an ordinary member.
	require.Equal(t, 4, Meet(a, b).Len())
}

func TestMeetDoesNotAlias(t *testing.T) {
	a := New(ConstInt{1})
	b := Meet(a, New(ConstInt{2}))
	c := Meet(a, New(ConstInt{3}))
	require.Equal(t, []string{"1", "2"}, b.Strings())
	require.Equal(t, []string{"1", "3"}, c.Strings())
	require.Equal(t, 1, a.Len())
}

func TestEqualIgnoresOrder(t *testing.T) {
	require.True(t, New(ConstInt{1}, ConstInt{2}).Equal(New(ConstInt{2}, ConstInt{1})))
	require.False(t, New(ConstInt{1}).Equal(New(ConstInt{1}, ConstInt{2})))
	require.True(t, Top.IsTop())
	require.False(t, UnknownSet().IsTop())
}

func TestAsConstInt(t *testing.T) {
	n, ok := New(ConstInt{-1}).AsConstInt()
	require.True(t, ok)
	require.Equal(t, int32(-1), n)

	_, ok = New(ConstInt{1}, ConstInt{2}).AsConstInt()
	require.False(t, ok)

	_, ok = New(KnownString{"1"}).AsConstInt()
	require.False(t, ok)
}

func TestAll(t *testing.T) {
	mv := New(Null, Unknown)
	require.Equal(t, []SingleValue{Null, Unknown}, slices.Collect(mv.All()))
}

func TestFreshObjectsAreDistinctPerSite(t *testing.T) {
	m := &il.MethodDef{Name: "M"}
	typ := il.NamedType("C")
	a := FreshObject{Method: m, Offset: 2, Type: typ}
	b := FreshObject{Method: m, Offset: 8, Type: typ}
	require.NotEqual(t, SingleValue(a), SingleValue(b))
	require.Equal(t, 2, New(a, b, a).Len())
	require.Equal(t, "new C@IL_0002", a.String())
}

func TestIsReference(t *testing.T) {
	m := &il.MethodDef{Name: "M"}
	f := &il.FieldDef{Name: "f", DeclaringType: &il.TypeDef{Name: "C"}}
	refs := []SingleValue{
		LocalReference{Local: &il.Local{Index: 0}},
		ParameterReference{Method: m, Index: 1},
		ThisReference{Method: m},
		FieldReference{Field: f},
	}
	for _, r := range refs {
		require.True(t, IsReference(r), r.Kind().String())
	}
	for _, v := range []SingleValue{Unknown, Null, ConstInt{1}, FieldValue{Field: f}, NewArray(Top, nil)} {
		require.False(t, IsReference(v), v.Kind().String())
	}
}

func TestStaticType(t *testing.T) {
	str := il.NamedType(il.StringTypeName)
	m := &il.MethodDef{Name: "M"}
	require.Same(t, str, StaticType(ParameterValue{Method: m, Index: 0, StaticType: str}))
	require.Same(t, str, StaticType(MethodReturnValue{Method: m, StaticType: str}))
	require.Nil(t, StaticType(KnownString{"x"}))
}

func TestBlockScopedMapStrongAndWeakUpdate(t *testing.T) {
	m := NewBlockScopedMap[int32](0)
	m.Store(0, New(KnownString{"a"}), 1)
	m.Store(0, New(KnownString{"b"}), 1)
	v, ok := m.Get(0)
	require.True(t, ok)
	require.Equal(t, []string{`"b"`}, v.Strings(), "same block overwrites")

	m.Store(0, New(KnownString{"c"}), 2)
	v, _ = m.Get(0)
	require.True(t, v.Equal(New(KnownString{"b"}, KnownString{"c"})), "other block merges")
}

func TestBlockScopedMapCapacity(t *testing.T) {
	m := NewBlockScopedMap[int32](2)
	require.True(t, m.Store(0, New(ConstInt{0}), 0))
	require.True(t, m.Store(1, New(ConstInt{1}), 0))
	require.False(t, m.Store(2, New(ConstInt{2}), 0))
	require.True(t, m.Store(1, New(ConstInt{9}), 0), "existing keys still update at capacity")
	require.Equal(t, []int32{0, 1}, m.Keys())

	m.Clear()
	require.Zero(t, m.Len())
	_, ok := m.Get(0)
	require.False(t, ok)
}

func TestArrayValueCap(t *testing.T) {
	arr := NewArray(New(ConstInt{64}), il.NamedType(il.StringTypeName))
	for i := range int32(40) {
		arr.StoreIndex(i, New(ConstInt{i}), 0)
	}
	require.Equal(t, MaxTrackedArrayValues, arr.TrackedIndices())
	_, ok := arr.Index(35)
	require.False(t, ok)
	require.Equal(t, "System.String[64]", arr.String())

	arr.ClearIndices()
	require.Zero(t, arr.TrackedIndices())
}
