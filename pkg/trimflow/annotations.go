package trimflow

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/715d/trimflow/internal/analysis"
	"github.com/715d/trimflow/pkg/il"
)

// MemberTypes is a set of member kinds a type value must keep.
type MemberTypes uint16

const (
	MembersPublicParameterlessConstructor MemberTypes = 1 << iota
	membersPublicConstructorsOnly
	MembersNonPublicConstructors
	MembersPublicMethods
	MembersNonPublicMethods
	MembersPublicFields
	MembersNonPublicFields
	MembersPublicNestedTypes
	MembersNonPublicNestedTypes
	MembersPublicProperties
	MembersNonPublicProperties
	MembersPublicEvents
	MembersNonPublicEvents
	MembersInterfaces

	// MembersPublicConstructors implies the parameterless constructor.
	MembersPublicConstructors = membersPublicConstructorsOnly | MembersPublicParameterlessConstructor

	MembersNone MemberTypes = 0
	MembersAll  MemberTypes = 1<<14 - 1
)

var memberTypeNames = []struct {
	name string
	m    MemberTypes
}{
	{"PublicParameterlessConstructor", MembersPublicParameterlessConstructor},
	{"PublicConstructors", MembersPublicConstructors},
	{"NonPublicConstructors", MembersNonPublicConstructors},
	{"PublicMethods", MembersPublicMethods},
	{"NonPublicMethods", MembersNonPublicMethods},
	{"PublicFields", MembersPublicFields},
	{"NonPublicFields", MembersNonPublicFields},
	{"PublicNestedTypes", MembersPublicNestedTypes},
	{"NonPublicNestedTypes", MembersNonPublicNestedTypes},
	{"PublicProperties", MembersPublicProperties},
	{"NonPublicProperties", MembersNonPublicProperties},
	{"PublicEvents", MembersPublicEvents},
	{"NonPublicEvents", MembersNonPublicEvents},
	{"Interfaces", MembersInterfaces},
}

// ParseMemberTypes combines member kind names. "All" selects every kind.
func ParseMemberTypes(names []string) (MemberTypes, error) {
	var out MemberTypes
next:
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "All" {
			out |= MembersAll
			continue
		}
		for _, e := range memberTypeNames {
			if e.name == name {
				out |= e.m
				continue next
			}
		}
		return 0, fmt.Errorf("unknown member kind %q", name)
	}
	return out, nil
}

// Covers reports whether every kind required is present in m.
func (m MemberTypes) Covers(required MemberTypes) bool {
	return m&required == required
}

func (m MemberTypes) String() string {
	switch m {
	case MembersNone:
		return "None"
	case MembersAll:
		return "All"
	}
	var parts []string
	rest := m
	// Composite kinds come before their parts so PublicConstructors is not
	// rendered as two names.
	if rest.Covers(MembersPublicConstructors) {
		parts = append(parts, "PublicConstructors")
		rest &^= MembersPublicConstructors
	}
	for _, e := range memberTypeNames {
		if e.m == MembersPublicConstructors {
			continue
		}
		if rest.Covers(e.m) {
			parts = append(parts, e.name)
			rest &^= e.m
		}
	}
	return strings.Join(parts, "|")
}

// annotationIndex answers annotation lookups by method key and field name.
// It is immutable after construction.
type annotationIndex struct {
	names   *analysis.NameCache
	params  map[string]map[string]MemberTypes
	returns map[string]MemberTypes
	fields  map[string]MemberTypes
}

func newAnnotationIndex(anns []Annotation, names *analysis.NameCache) (*annotationIndex, error) {
	x := &annotationIndex{
		names:   names,
		params:  make(map[string]map[string]MemberTypes),
		returns: make(map[string]MemberTypes),
		fields:  make(map[string]MemberTypes),
	}
	for _, a := range anns {
		members, err := ParseMemberTypes(a.Members)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", a, err)
		}
		switch {
		case a.Field != "":
			x.fields[a.Field] |= members
		case a.Return:
			x.returns[a.Method] |= members
		default:
			byName := x.params[a.Method]
			if byName == nil {
				byName = make(map[string]MemberTypes)
				x.params[a.Method] = byName
			}
			byName[a.Parameter] |= members
		}
	}
	return x, nil
}

// parameter returns the annotation of the source parameter at index of m,
// matched by name or by position.
func (x *annotationIndex) parameter(m *il.MethodDef, index int) (MemberTypes, bool) {
	byName := x.params[x.names.ComputeMethodKey(m)]
	if byName == nil || index < 0 || index >= len(m.Params) {
		return 0, false
	}
	if name := m.Params[index].Name; name != "" {
		if members, ok := byName[name]; ok {
			return members, true
		}
	}
	members, ok := byName[strconv.Itoa(index)]
	return members, ok
}

func (x *annotationIndex) this(m *il.MethodDef) (MemberTypes, bool) {
	members, ok := x.params[x.names.ComputeMethodKey(m)]["this"]
	return members, ok
}

func (x *annotationIndex) ret(m *il.MethodDef) (MemberTypes, bool) {
	members, ok := x.returns[x.names.ComputeMethodKey(m)]
	return members, ok
}

func (x *annotationIndex) field(f *il.FieldDef) (MemberTypes, bool) {
	members, ok := x.fields[f.FullName()]
	return members, ok
}
