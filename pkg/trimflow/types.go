package trimflow

import (
	"cmp"
	"slices"
	"strings"

	"github.com/715d/trimflow/internal/analysis"
	"github.com/715d/trimflow/pkg/il"
)

// Finding represents a diagnostic as it is reported.
type Finding struct {
	Code       string `json:"code"`
	Method     string `json:"method"`
	Offset     int    `json:"offset"`
	Message    string `json:"message"`
	Suppressed bool   `json:"suppressed"`
	Reason     string `json:"reason,omitempty"`
}

// FieldStore lists the values stored into one field by any analyzed method.
type FieldStore struct {
	Field  string   `json:"field"`
	Values []string `json:"values"`
}

// MethodReturn is the accumulated return value of one method.
type MethodReturn struct {
	Method string   `json:"method"`
	Values []string `json:"values"`
}

// Findings flattens analysis results into findings ordered by method name,
// then offset, then code.
func Findings(infos map[*il.MethodDef]*analysis.MethodInfo) []Finding {
	var out []Finding
	for _, info := range infos {
		for _, d := range info.Diagnostics {
			out = append(out, Finding{
				Code:       d.Code,
				Method:     info.Name,
				Offset:     d.Offset,
				Message:    d.Message,
				Suppressed: d.Suppressed,
				Reason:     d.SuppressionReason,
			})
		}
	}
	slices.SortFunc(out, func(a, b Finding) int {
		return cmp.Or(
			strings.Compare(a.Method, b.Method),
			cmp.Compare(a.Offset, b.Offset),
			strings.Compare(a.Code, b.Code),
			strings.Compare(a.Message, b.Message),
		)
	})
	return out
}

// Unsuppressed returns the findings no directive covers.
func Unsuppressed(findings []Finding) []Finding {
	return slices.DeleteFunc(slices.Clone(findings), func(f Finding) bool { return f.Suppressed })
}

// Returns lists the return values of the methods that completed and return
// something, ordered by method name.
func Returns(infos map[*il.MethodDef]*analysis.MethodInfo) []MethodReturn {
	var out []MethodReturn
	for _, info := range infos {
		if info.Failed || info.Method.ReturnsVoid() || info.ReturnValue.IsTop() {
			continue
		}
		out = append(out, MethodReturn{Method: info.Name, Values: info.ReturnValue.Strings()})
	}
	slices.SortFunc(out, func(a, b MethodReturn) int { return strings.Compare(a.Method, b.Method) })
	return out
}
