package value

import (
	"strconv"

	"github.com/715d/trimflow/pkg/il"
)

// MaxTrackedArrayValues bounds the number of indices an ArrayValue records.
const MaxTrackedArrayValues = 32

type scopedEntry struct {
	value MultiValue
	block int
}

// BlockScopedMap records the last value written per key together with the
// basic block that wrote it. Keys keep insertion order.
type BlockScopedMap[K comparable] struct {
	capacity int
	keys     []K
	entries  map[K]scopedEntry
}

// NewBlockScopedMap returns an empty map holding at most capacity keys. A
// capacity of zero means unbounded.
func NewBlockScopedMap[K comparable](capacity int) *BlockScopedMap[K] {
	return &BlockScopedMap[K]{capacity: capacity, entries: make(map[K]scopedEntry)}
}

// Get returns the value recorded for key.
func (m *BlockScopedMap[K]) Get(key K) (MultiValue, bool) {
	e, ok := m.entries[key]
	return e.value, ok
}

// Store records v for key as written by block. A write from the block that
// wrote the existing entry replaces it; a write from another block is merged
// with it. New keys are refused once the map is at capacity; Store reports
// whether the value was recorded.
func (m *BlockScopedMap[K]) Store(key K, v MultiValue, block int) bool {
	if e, ok := m.entries[key]; ok {
		if e.block != block {
			v = Meet(e.value, v)
		}
		m.entries[key] = scopedEntry{value: v, block: block}
		return true
	}
	if m.capacity > 0 && len(m.keys) >= m.capacity {
		return false
	}
	m.keys = append(m.keys, key)
	m.entries[key] = scopedEntry{value: v, block: block}
	return true
}

// Clear forgets every key.
func (m *BlockScopedMap[K]) Clear() {
	m.keys = m.keys[:0]
	clear(m.entries)
}

// Len returns the number of recorded keys.
func (m *BlockScopedMap[K]) Len() int { return len(m.keys) }

// Keys returns the recorded keys in insertion order.
func (m *BlockScopedMap[K]) Keys() []K {
	return append([]K(nil), m.keys...)
}

// ArrayValue is an array created by newarr. Identity is by pointer; the
// index map is a mutable cache owned by one method analysis.
type ArrayValue struct {
	Size        MultiValue
	ElementType *il.TypeRef
	indices     *BlockScopedMap[int32]
}

// NewArray returns an array with no tracked elements.
func NewArray(size MultiValue, elementType *il.TypeRef) *ArrayValue {
	return &ArrayValue{
		Size:        size,
		ElementType: elementType,
		indices:     NewBlockScopedMap[int32](MaxTrackedArrayValues),
	}
}

func (*ArrayValue) Kind() Kind { return KindArray }

func (a *ArrayValue) String() string {
	elem := "?"
	if a.ElementType != nil {
		elem = a.ElementType.String()
	}
	if n, ok := a.Size.AsConstInt(); ok {
		return elem + "[" + strconv.Itoa(int(n)) + "]"
	}
	return elem + "[]"
}

func (*ArrayValue) singleValue() {}

// Index returns the value recorded at index.
func (a *ArrayValue) Index(index int32) (MultiValue, bool) {
	return a.indices.Get(index)
}

// StoreIndex records v at index using the block-scoped update rule.
func (a *ArrayValue) StoreIndex(index int32, v MultiValue, block int) bool {
	return a.indices.Store(index, v, block)
}

// ClearIndices forgets every tracked index.
func (a *ArrayValue) ClearIndices() { a.indices.Clear() }

// TrackedIndices returns the number of indices with a recorded value.
func (a *ArrayValue) TrackedIndices() int { return a.indices.Len() }
