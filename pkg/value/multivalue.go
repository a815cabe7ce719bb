package value

import (
	"iter"
	"slices"
	"strings"
)

// MultiValue is a finite set of SingleValues: the value is one of them.
// Members keep insertion order so iteration is deterministic. The zero value
// is Top, the empty set.
type MultiValue struct {
	values []SingleValue
}

// Top is the empty set and the identity of Meet.
var Top = MultiValue{}

// New returns the set of the given values with duplicates removed.
func New(vs ...SingleValue) MultiValue {
	var out MultiValue
	for _, v := range vs {
		out = out.with(v)
	}
	return out
}

// UnknownSet returns the singleton set holding Unknown.
func UnknownSet() MultiValue { return MultiValue{values: []SingleValue{Unknown}} }

func (m MultiValue) with(v SingleValue) MultiValue {
	if v == nil || m.Contains(v) {
		return m
	}
	values := make([]SingleValue, len(m.values), len(m.values)+1)
	copy(values, m.values)
	return MultiValue{values: append(values, v)}
}

// Meet combines two sets by union. It is commutative, associative and
// idempotent up to Equal, with Top as identity.
func Meet(a, b MultiValue) MultiValue {
	switch {
	case len(a.values) == 0:
		return b
	case len(b.values) == 0:
		return a
	}
	out := a
	for _, v := range b.values {
		out = out.with(v)
	}
	return out
}

// Contains reports whether v is a member of m.
func (m MultiValue) Contains(v SingleValue) bool {
	return slices.Contains(m.values, v)
}

// Equal reports set equality, ignoring order.
func (m MultiValue) Equal(other MultiValue) bool {
	if len(m.values) != len(other.values) {
		return false
	}
	for _, v := range m.values {
		if !other.Contains(v) {
			return false
		}
	}
	return true
}

// All iterates the members in insertion order.
func (m MultiValue) All() iter.Seq[SingleValue] {
	return slices.Values(m.values)
}

// Len returns the number of members.
func (m MultiValue) Len() int { return len(m.values) }

// IsTop reports whether m is the empty set.
func (m MultiValue) IsTop() bool { return len(m.values) == 0 }

// AsSingle returns the only member of m.
func (m MultiValue) AsSingle() (SingleValue, bool) {
	if len(m.values) != 1 {
		return nil, false
	}
	return m.values[0], true
}

// AsConstInt returns the integer when m is exactly one ConstInt.
func (m MultiValue) AsConstInt() (int32, bool) {
	v, ok := m.AsSingle()
	if !ok {
		return 0, false
	}
	c, ok := v.(ConstInt)
	return c.Value, ok
}

// Strings renders each member.
func (m MultiValue) Strings() []string {
	out := make([]string, len(m.values))
	for i, v := range m.values {
		out[i] = v.String()
	}
	return out
}

func (m MultiValue) String() string {
	return "{" + strings.Join(m.Strings(), ", ") + "}"
}
