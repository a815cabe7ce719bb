// Package analysis provides per-method result records for the trimming analysis.
package analysis

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/715d/trimflow/pkg/il"
	"github.com/715d/trimflow/pkg/value"
)

// MethodLevel is the offset of a diagnostic that concerns a method as a
// whole rather than one instruction.
const MethodLevel = -1

// Diagnostic is one finding in a method.
type Diagnostic struct {
	// Code is the catalog code, for example TRIM003.
	Code string

	// Offset is the IL offset of the instruction, or MethodLevel.
	Offset int

	// Target names the annotated parameter, field or return value involved,
	// if any.
	Target string

	Message string

	// Suppressed is set when a suppression directive on the method covers
	// Code.
	Suppressed bool

	// SuppressionReason is the reason given by the directive.
	SuppressionReason string
}

func (d Diagnostic) String() string {
	if d.Offset == MethodLevel {
		return fmt.Sprintf("%s %s", d.Code, d.Message)
	}
	return fmt.Sprintf("IL_%04x: %s %s", d.Offset, d.Code, d.Message)
}

// MethodInfo is the analysis result for one method.
type MethodInfo struct {
	// Method is the analyzed method.
	Method *il.MethodDef

	// Name is the canonical signature name of Method.
	Name string

	// Diagnostics holds the findings, ordered by offset then code once the
	// analysis of the method finishes.
	Diagnostics []Diagnostic

	// ReturnValue is the accumulated return value of the method.
	ReturnValue value.MultiValue

	// Blocks is the number of basic blocks.
	Blocks int

	// Visits is the number of block transfers performed before the fixed
	// point was reached.
	Visits int

	// Failed is set when a fatal error aborted the analysis of the method.
	Failed bool
}

// NewMethodInfo creates an empty record for m.
func NewMethodInfo(m *il.MethodDef, names *NameCache) *MethodInfo {
	return &MethodInfo{
		Method: m,
		Name:   names.ComputeMethodName(m),
	}
}

// Add appends d.
func (mi *MethodInfo) Add(d Diagnostic) {
	mi.Diagnostics = append(mi.Diagnostics, d)
}

// Sort orders the diagnostics by offset, then code, then target.
func (mi *MethodInfo) Sort() {
	slices.SortStableFunc(mi.Diagnostics, func(a, b Diagnostic) int {
		return cmp.Or(
			cmp.Compare(a.Offset, b.Offset),
			cmp.Compare(a.Code, b.Code),
			cmp.Compare(a.Target, b.Target),
		)
	})
}

// Reported returns the diagnostics that are not suppressed.
func (mi *MethodInfo) Reported() []Diagnostic {
	var out []Diagnostic
	for _, d := range mi.Diagnostics {
		if !d.Suppressed {
			out = append(out, d)
		}
	}
	return out
}

// ShouldReport reports whether the method has at least one unsuppressed
// diagnostic.
func (mi *MethodInfo) ShouldReport() bool {
	return slices.ContainsFunc(mi.Diagnostics, func(d Diagnostic) bool { return !d.Suppressed })
}

// SuppressedCount returns the number of suppressed diagnostics.
func (mi *MethodInfo) SuppressedCount() int {
	n := 0
	for _, d := range mi.Diagnostics {
		if d.Suppressed {
			n++
		}
	}
	return n
}
