// Package suppress implements directive-based suppression of trimming findings.
package suppress

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/715d/trimflow/pkg/il"
)

// Checker handles nolint and lint:ignore directives attached to methods.
// Load must complete before IsSuppressed is called; IsSuppressed and Unused
// are not safe for concurrent use.
type Checker struct {
	// suppressions maps a method to the directives attached to it.
	suppressions map[*il.MethodDef][]*Suppression
}

// Suppression represents a parsed suppression directive.
type Suppression struct {
	Method    *il.MethodDef
	Directive string
	Reason    string
	Type      SuppressionType

	// Codes restricts the suppression to the listed diagnostic codes. An
	// empty list covers every code.
	Codes []string

	used bool
}

// Covers reports whether s applies to code.
func (s *Suppression) Covers(code string) bool {
	return len(s.Codes) == 0 || slices.Contains(s.Codes, code)
}

// SuppressionType represents different types of suppression directives.
type SuppressionType int

const (
	// SuppressionNolint represents //nolint:trimflow directives.
	SuppressionNolint SuppressionType = iota

	// SuppressionLintIgnore represents //lint:ignore trimflow directives.
	SuppressionLintIgnore
)

// Linter is the name directives use to address this analyzer.
const Linter = "trimflow"

// Suppression patterns for different comment styles.
var (
	// nolintPattern matches //nolint:trimflow directives
	nolintPattern = regexp.MustCompile(`^//\s*nolint:trimflow(?:\s+//\s*(.+))?$`)

	// lintIgnorePattern matches //lint:ignore trimflow[ CODES] reason
	lintIgnorePattern = regexp.MustCompile(`^//\s*lint:ignore\s+trimflow(?:\s+(TRIM\d{3}(?:,TRIM\d{3})*))?(?:\s+(.+))?$`)

	// genericNolintPattern matches //nolint without a specific linter
	genericNolintPattern = regexp.MustCompile(`^//\s*nolint(?:\s|$)`)

	// nolintWithMultipleRules matches nolint with comma-separated rules
	nolintWithMultipleRules = regexp.MustCompile(`^//\s*nolint:([^/\s]+)`)
)

// NewChecker creates a new suppression checker.
func NewChecker() *Checker {
	return &Checker{
		suppressions: make(map[*il.MethodDef][]*Suppression),
	}
}

// Load parses the directives of every method.
func (sc *Checker) Load(methods []*il.MethodDef) error {
	if methods == nil {
		return fmt.Errorf("methods cannot be nil")
	}
	for _, m := range methods {
		if m == nil {
			continue
		}
		for _, d := range m.Directives {
			if s := parseDirective(d); s != nil {
				s.Method = m
				sc.suppressions[m] = append(sc.suppressions[m], s)
			}
		}
	}
	return nil
}

// parseDirective parses a comment to check if it is a suppression directive.
func parseDirective(text string) *Suppression {
	text = strings.TrimSpace(text)

	if matches := nolintPattern.FindStringSubmatch(text); matches != nil {
		return &Suppression{
			Directive: text,
			Reason:    strings.TrimSpace(matches[1]),
			Type:      SuppressionNolint,
		}
	}

	if matches := lintIgnorePattern.FindStringSubmatch(text); matches != nil {
		s := &Suppression{
			Directive: text,
			Reason:    strings.TrimSpace(matches[2]),
			Type:      SuppressionLintIgnore,
		}
		if matches[1] != "" {
			s.Codes = strings.Split(matches[1], ",")
		}
		return s
	}

	if genericNolintPattern.MatchString(text) {
		return &Suppression{
			Directive: text,
			Type:      SuppressionNolint,
		}
	}

	if matches := nolintWithMultipleRules.FindStringSubmatch(text); len(matches) > 1 {
		for rule := range strings.SplitSeq(matches[1], ",") {
			if strings.TrimSpace(rule) != Linter {
				continue
			}
			// Extract reason if present.
			reason := ""
			if _, after, ok := strings.Cut(text[2:], "//"); ok {
				reason = strings.TrimSpace(after)
			}
			return &Suppression{
				Directive: text,
				Reason:    reason,
				Type:      SuppressionNolint,
			}
		}
	}

	return nil
}

// IsSuppressed reports whether a diagnostic with code in method is
// suppressed, and the reason. Every matching directive is marked used.
func (sc *Checker) IsSuppressed(method *il.MethodDef, code string) (bool, string) {
	suppressed, reason := false, ""
	for _, s := range sc.suppressions[method] {
		if !s.Covers(code) {
			continue
		}
		s.used = true
		if !suppressed {
			suppressed = true
			reason = s.Reason
			if reason == "" {
				reason = "suppressed"
			}
		}
	}
	return suppressed, reason
}

// Unused returns the directives that never suppressed anything, ordered by
// method then position on the method.
func (sc *Checker) Unused() []*Suppression {
	var out []*Suppression
	for _, list := range sc.suppressions {
		for _, s := range list {
			if !s.used {
				out = append(out, s)
			}
		}
	}
	slices.SortStableFunc(out, func(a, b *Suppression) int {
		return strings.Compare(a.Method.FullName(), b.Method.FullName())
	})
	return out
}

// Len returns the number of loaded directives.
func (sc *Checker) Len() int {
	n := 0
	for _, list := range sc.suppressions {
		n += len(list)
	}
	return n
}

// Clear clears all suppressions.
func (sc *Checker) Clear() {
	sc.suppressions = make(map[*il.MethodDef][]*Suppression)
}
