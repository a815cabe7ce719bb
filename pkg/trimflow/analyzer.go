// Package trimflow runs the trimming dataflow analysis over a module and
// reports values that reach annotated locations without being statically
// known.
package trimflow

import (
	"context"
	"fmt"
	"log/slog"
	goruntime "runtime"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/715d/trimflow/internal/analysis"
	"github.com/715d/trimflow/pkg/il"
	"github.com/715d/trimflow/pkg/suppress"
)

// AnalyzerOptions holds configuration options for the analyzer.
type AnalyzerOptions struct {
	// Config is the analysis configuration. Nil uses DefaultConfig.
	Config *Config

	// SkipGenerated skips compiler-generated methods.
	SkipGenerated bool
}

// Analyzer orchestrates the per-method dataflow analysis.
type Analyzer struct {
	suppressions *suppress.Checker
	nameCache    *analysis.NameCache
	opts         AnalyzerOptions
	cfg          *Config

	// fields holds the field stores of the last Analyze call.
	fields []FieldStore
}

// NewAnalyzer creates a new analyzer with the given options.
func NewAnalyzer(opts AnalyzerOptions) *Analyzer {
	cfg := opts.Config
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Analyzer{
		suppressions: suppress.NewChecker(),
		nameCache:    analysis.NewNameCache(),
		opts:         opts,
		cfg:          cfg,
	}
}

// run is the state shared by the method analyses of one Analyze call.
type run struct {
	module    *il.Module
	handler   *ReferenceHandler
	names     *analysis.NameCache
	maxVisits int
}

// Analyze analyzes every method of mod that has a body.
func (a *Analyzer) Analyze(ctx context.Context, mod *il.Module) (map[*il.MethodDef]*analysis.MethodInfo, error) {
	if mod == nil {
		return nil, fmt.Errorf("no module provided")
	}

	methods := a.collectMethods(mod)

	// Step 1: Load suppressions from method directives.
	a.suppressions.Clear()
	if err := a.suppressions.Load(methods); err != nil {
		return nil, fmt.Errorf("failed to load suppressions: %w", err)
	}

	// Step 2: Build the shared handler.
	handler, err := NewReferenceHandler(mod, a.cfg, a.nameCache)
	if err != nil {
		return nil, fmt.Errorf("create handler: %w", err)
	}
	r := &run{
		module:    mod,
		handler:   handler,
		names:     a.nameCache,
		maxVisits: a.cfg.MaxBlockVisits,
	}

	// Step 3: Analyze methods in parallel. Each goroutine owns one slot of
	// results, and results is only read after Wait.
	results := make([]*analysis.MethodInfo, len(methods))
	wg, gctx := errgroup.WithContext(ctx)
	wg.SetLimit(a.workers())
	for idx, m := range methods {
		wg.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[idx] = r.analyzeMethod(m)
			return nil
		})
	}
	if err := wg.Wait(); err != nil {
		return nil, fmt.Errorf("analyze methods: %w", err)
	}

	infos := make(map[*il.MethodDef]*analysis.MethodInfo, len(results))
	for _, info := range results {
		infos[info.Method] = info
	}

	a.fields = handler.FieldStores()

	// Step 4: Apply suppressions and flag the ones that matched nothing.
	a.checkSuppressions(infos)

	slog.Debug("analysis complete", "methods", len(infos))
	return infos, nil
}

// FieldStores returns, for every field written during the last Analyze call,
// the values stored into it.
func (a *Analyzer) FieldStores() []FieldStore {
	return a.fields
}

func (a *Analyzer) workers() int {
	if a.cfg.Workers > 0 {
		return a.cfg.Workers
	}
	return goruntime.NumCPU()
}

// collectMethods returns the methods to analyze in module order.
func (a *Analyzer) collectMethods(mod *il.Module) []*il.MethodDef {
	methods := mod.Methods()
	if !a.opts.SkipGenerated {
		return methods
	}
	return slices.DeleteFunc(methods, isGeneratedMethod)
}

// checkSuppressions marks suppressed diagnostics and reports every directive
// that suppressed nothing.
func (a *Analyzer) checkSuppressions(infos map[*il.MethodDef]*analysis.MethodInfo) {
	for _, info := range infos {
		for i := range info.Diagnostics {
			d := &info.Diagnostics[i]
			d.Suppressed, d.SuppressionReason = a.suppressions.IsSuppressed(info.Method, d.Code)
		}
	}
	for _, s := range a.suppressions.Unused() {
		info := infos[s.Method]
		if info == nil {
			continue
		}
		info.Add(analysis.Diagnostic{
			Code:    CodeRedundantSuppression,
			Offset:  analysis.MethodLevel,
			Message: fmt.Sprintf("suppression %q does not match any diagnostic", s.Directive),
		})
		info.Sort()
	}
}

// isGeneratedMethod reports whether m was emitted by a compiler rather than
// written by hand.
func isGeneratedMethod(m *il.MethodDef) bool {
	if strings.ContainsRune(m.Name, '<') {
		return true
	}
	for _, d := range m.Directives {
		if strings.Contains(d, "CompilerGenerated") || strings.Contains(d, "Code generated") {
			return true
		}
	}
	return false
}
