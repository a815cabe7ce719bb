// Package main implements the CLI driver for the trimflow analyzer.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/715d/trimflow/internal/analysis"
	"github.com/715d/trimflow/pkg/il"
	"github.com/715d/trimflow/pkg/trimflow"
)

// Config holds all command-line configuration options for the trimflow analyzer.
type Config struct {
	Paths         []string // corpus files or directories to analyze
	ConfigFile    string   // TOML analyzer configuration
	Module        string   // module name when the corpus names none
	Verbose       bool     // enables detailed output and statistics
	JSON          bool     // enables JSON output format
	Profile       bool     // enables CPU and memory profiling
	SkipGenerated bool     // skip compiler-generated methods
	Workers       int      // overrides the configured worker count
}

const (
	exitFindings = 1
	exitError    = 2
)

var (
	// Set via ldflags during build.
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

var cfg Config

func main() {
	var rootCmd = &cobra.Command{
		Use:   "trimflow [paths...]",
		Short: "Check reflection in IL corpora for trimming safety",
		Long: `trimflow abstractly interprets the IL of every method in a corpus and
tracks the type values that reach reflection APIs.

It reports:
- Type names and types that cannot be resolved statically
- Values flowing into annotated parameters, fields and returns without a guarantee
- Annotations too weak for the location they flow into
- Suppression directives that match nothing`,
		Example: `  trimflow ./corpus                      # Analyze every corpus file in a directory
  trimflow app.yaml lib.cbor             # Analyze specific files
  trimflow -c trimflow.toml ./corpus     # Use an annotation configuration
  trimflow --json ./corpus > report.json # JSON output to file
  trimflow convert app.yaml app.cbor     # Re-encode a corpus file`,
		Args:               cobra.ArbitraryArgs,
		RunE:               runCommand,
		PersistentPreRunE:  setup,
		PersistentPostRunE: teardown,
		SilenceUsage:       true,
		SilenceErrors:      true,
		Version:            version,
	}

	// Set custom version template to include build info.
	rootCmd.SetVersionTemplate(fmt.Sprintf("trimflow version %s\n  commit: %s\n  built:  %s\n", version, gitCommit, buildTime))

	// Define flags.
	rootCmd.PersistentFlags().BoolVarP(&cfg.Verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&cfg.Profile, "profile", false, "Enable CPU and memory profiling (writes cpu.prof and mem.prof to current directory)")
	rootCmd.Flags().StringVarP(&cfg.ConfigFile, "config", "c", "", "TOML file with interesting types and annotations")
	rootCmd.Flags().StringVar(&cfg.Module, "module", "", "Module name used when the corpus does not declare one")
	rootCmd.Flags().BoolVar(&cfg.JSON, "json", false, "Output in JSON format")
	rootCmd.Flags().BoolVar(&cfg.SkipGenerated, "skip-generated", false, "Skip compiler-generated methods")
	rootCmd.Flags().IntVar(&cfg.Workers, "workers", 0, "Number of methods analyzed concurrently (0 uses the configuration or the CPU count)")

	rootCmd.AddCommand(newConvertCommand())

	if err := rootCmd.Execute(); err != nil {
		_ = teardown(nil, nil)
		if err.Error() != "" {
			fmt.Fprintln(os.Stderr, err.Error())
		}
		var cErr *codedError
		if errors.As(err, &cErr) {
			os.Exit(cErr.code)
		}
		os.Exit(exitError)
	}
}

func newConvertCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "convert <in> <out>",
		Short: "Convert a corpus file between YAML and CBOR",
		Long: `convert decodes a corpus file and encodes it again. The format of each
side is chosen by extension: .cbor is CBOR, anything else is YAML.`,
		Args: cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			doc, err := trimflow.DecodeFile(args[0])
			if err != nil {
				return errWithCode(err, exitError)
			}
			if err := trimflow.EncodeFile(args[1], doc); err != nil {
				return errWithCode(err, exitError)
			}
			slog.Info("converted corpus", "in", args[0], "out", args[1], "types", len(doc.Types))
			return nil
		},
	}
}

func runCommand(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		cfg.Paths = args
	} else {
		cfg.Paths = []string{"."}
	}

	slog.Info("starting trimming analysis", "paths", cfg.Paths)

	result, err := runAnalysis(cmd.Context(), &cfg)
	if err != nil {
		return errWithCode(fmt.Errorf("analyze: %w", err), exitError)
	}

	if err := writeResults(result, &cfg); err != nil {
		return errWithCode(fmt.Errorf("format results: %w", err), exitError)
	}

	if result.Stats.ReportedFindings > 0 {
		return errWithCode(nil, exitFindings)
	}
	return nil
}

// Result represents the analysis output for a corpus including all
// findings and execution statistics.
type Result struct {
	Findings []trimflow.Finding      `json:"findings"`
	Fields   []trimflow.FieldStore   `json:"fields,omitempty"`
	Returns  []trimflow.MethodReturn `json:"returns,omitempty"`
	Stats    struct {
		TotalMethods       int           `json:"total_methods"`
		FailedMethods      int           `json:"failed_methods"`
		ReportedFindings   int           `json:"reported_findings"`
		SuppressedFindings int           `json:"suppressed_findings"`
		BlockVisits        int           `json:"block_visits"`
		AnalysisDuration   time.Duration `json:"analysis_duration"`
	} `json:"stats"`
}

func runAnalysis(ctx context.Context, cfg *Config) (*Result, error) {
	start := time.Now()

	conf := trimflow.DefaultConfig()
	if cfg.ConfigFile != "" {
		var err error
		conf, err = trimflow.LoadConfig(cfg.ConfigFile)
		if err != nil {
			return nil, err
		}
		slog.Info("loaded configuration", "file", cfg.ConfigFile, "annotations", len(conf.Annotations))
	}
	if cfg.Workers > 0 {
		conf.Workers = cfg.Workers
	}

	mod, err := trimflow.LoadCorpus(ctx, trimflow.LoaderOptions{
		Paths:  cfg.Paths,
		Module: cfg.Module,
	})
	if err != nil {
		return nil, fmt.Errorf("loading corpus: %w", err)
	}
	slog.Info("loaded corpus", "module", mod.Name, "types", len(mod.Types()))

	slog.Info("running analysis")
	analyzer := trimflow.NewAnalyzer(trimflow.AnalyzerOptions{
		Config:        conf,
		SkipGenerated: cfg.SkipGenerated,
	})
	infos, err := analyzer.Analyze(ctx, mod)
	if err != nil {
		return nil, fmt.Errorf("analyze module: %w", err)
	}
	duration := time.Since(start)
	slog.Info("analysis completed", "dur", duration)

	r := convertToResult(infos, duration)
	r.Fields = analyzer.FieldStores()
	return r, nil
}

func convertToResult(infos map[*il.MethodDef]*analysis.MethodInfo, dur time.Duration) *Result {
	var r Result
	r.Stats.AnalysisDuration = dur
	r.Stats.TotalMethods = len(infos)
	for _, info := range infos {
		r.Stats.BlockVisits += info.Visits
		if info.Failed {
			r.Stats.FailedMethods++
		}
	}

	r.Findings = trimflow.Findings(infos)
	r.Returns = trimflow.Returns(infos)
	for _, f := range r.Findings {
		if f.Suppressed {
			r.Stats.SuppressedFindings++
		} else {
			r.Stats.ReportedFindings++
		}
	}
	return &r
}

func writeResults(result *Result, cfg *Config) error {
	var output string
	var err error

	if cfg.JSON {
		output, err = formatJSONOutput(result)
	} else {
		output = formatTextOutput(result, cfg)
	}

	if err != nil {
		return err
	}

	fmt.Print(output)
	return nil
}

func formatJSONOutput(result *Result) (string, error) {
	findings := result.Findings
	if findings == nil {
		findings = []trimflow.Finding{}
	}
	data, err := json.MarshalIndent(jOutput{
		Findings:  findings,
		Fields:    result.Fields,
		Returns:   result.Returns,
		Stats:     result.Stats,
		Version:   version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling json output: %w", err)
	}
	return string(data) + "\n", nil
}

func formatTextOutput(result *Result, cfg *Config) string {
	var output strings.Builder

	if cfg.Verbose {
		slog.Info("",
			"total_methods", result.Stats.TotalMethods,
			"failed_methods", result.Stats.FailedMethods,
			"reported_findings", result.Stats.ReportedFindings,
			"suppressed_findings", result.Stats.SuppressedFindings,
			"block_visits", result.Stats.BlockVisits,
			"analysis_duration", result.Stats.AnalysisDuration.String())
	}

	if result.Stats.ReportedFindings == 0 {
		slog.Info("no findings")
		return output.String()
	}

	for _, f := range result.Findings {
		if f.Suppressed {
			continue
		}
		// Format: method IL_offset: code message
		fmt.Fprintf(&output, "%s %s: %s %s\n", f.Method, formatOffset(f.Offset), f.Code, f.Message)
		if cfg.Verbose {
			fmt.Fprintf(&output, "  (%s)\n", trimflow.Title(f.Code))
		}
	}

	return output.String()
}

func formatOffset(offset int) string {
	if offset == analysis.MethodLevel {
		return "method"
	}
	return fmt.Sprintf("IL_%04x", offset)
}

type jOutput struct {
	Findings  []trimflow.Finding      `json:"findings"`
	Fields    []trimflow.FieldStore   `json:"fields,omitempty"`
	Returns   []trimflow.MethodReturn `json:"returns,omitempty"`
	Stats     any                     `json:"stats"`
	Version   string                  `json:"version"`
	Timestamp string                  `json:"timestamp"`
}

var cpuProfile *os.File

func setup(_ *cobra.Command, _ []string) error {
	// Disable logger unless verbose flag is set.
	slog.SetDefault(slog.New(slog.DiscardHandler))
	if cfg.Verbose {
		opts := &slog.HandlerOptions{Level: slog.LevelDebug}
		var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
		if cfg.JSON {
			handler = slog.NewJSONHandler(os.Stderr, opts)
		}
		slog.SetDefault(slog.New(handler))
	}

	if !cfg.Profile {
		return nil
	}

	// Start CPU profiling.
	var err error
	cpuProfile, err = os.Create("cpu.prof")
	if err != nil {
		return fmt.Errorf("creating cpu.prof: %w", err)
	}
	if err := pprof.StartCPUProfile(cpuProfile); err != nil {
		_ = cpuProfile.Close()
		return fmt.Errorf("starting CPU profile: %w", err)
	}
	slog.Info("cpu profiling started", "file", "cpu.prof")
	return nil
}

func teardown(_ *cobra.Command, _ []string) error {
	if !cfg.Profile || cpuProfile == nil {
		return nil
	}

	pprof.StopCPUProfile()
	defer cpuProfile.Close()
	cpuProfile = nil
	slog.Info("cpu profiling stopped", "file", "cpu.prof")

	memFile, err := os.Create("mem.prof")
	if err != nil {
		return fmt.Errorf("creating mem.prof: %w", err)
	}
	defer memFile.Close()
	runtime.GC() // Get up-to-date statistics
	if err := pprof.WriteHeapProfile(memFile); err != nil {
		return fmt.Errorf("writing memory profile: %w", err)
	}
	slog.Info("memory profiling completed", "file", "mem.prof")
	return nil
}

func errWithCode(err error, code int) error {
	return &codedError{err: err, code: code}
}

type codedError struct {
	err  error
	code int
}

func (e *codedError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return ""
}

func (e *codedError) Unwrap() error { return e.err }
