package harness

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/715d/trimflow/internal/analysis"
	"github.com/715d/trimflow/pkg/il"
	"github.com/715d/trimflow/pkg/trimflow"
)

// TestCase represents a single test scenario.
type TestCase struct {
	// Dir is the directory containing the corpus.
	Dir string `yaml:"-"`

	// Description says what the corpus exercises.
	Description string `yaml:"description,omitempty"`

	// Configurations defines the analyzer configurations to test.
	Configurations []Configuration `yaml:"configurations"`
}

// TestHarness manages test execution.
type TestHarness struct {
	// root is the root directory for test data
	root string
}

// NewHarness creates a new test harness.
func NewHarness(root string) *TestHarness {
	return &TestHarness{root: root}
}

// Run executes a test case with all its configurations.
func (h *TestHarness) Run(t *testing.T, tc *TestCase) *TestResult {
	t.Helper()
	require.NotEmpty(t, tc.Configurations, "test case has no configurations")

	var results []ConfigurationResult
	var allSuccess = true

	// Run each configuration.
	for _, cfg := range tc.Configurations {
		cfgResult := h.runConfiguration(t, tc, cfg)
		results = append(results, *cfgResult)
		if !cfgResult.Success {
			allSuccess = false
		}
	}

	// Create overall result message.
	var resultMsg string
	if allSuccess {
		resultMsg = fmt.Sprintf("All %d configurations passed", len(tc.Configurations))
	} else {
		failedCount := 0
		var msgs []string
		for _, cr := range results {
			if !cr.Success {
				failedCount++
				msgs = append(msgs, fmt.Sprintf("[%s] %s:\n  %s",
					cr.Configuration.Name, cr.Message, strings.Join(cr.Details, "\n  ")))
			}
		}
		resultMsg = fmt.Sprintf("%d/%d configurations failed:\n%s",
			failedCount, len(tc.Configurations), strings.Join(msgs, "\n"))
	}

	return &TestResult{
		TestCase:             tc,
		ConfigurationResults: results,
		Success:              allSuccess,
		Message:              resultMsg,
	}
}

// runConfiguration executes analysis for a single configuration
func (h *TestHarness) runConfiguration(t *testing.T, tc *TestCase, cfg Configuration) *ConfigurationResult {
	t.Helper()
	dir := filepath.Join(h.root, tc.Dir)

	result, err := h.analyze(t, dir, cfg)
	if err != nil {
		// Check if this error was expected.
		for _, expectedErr := range cfg.ExpectedErrors {
			if strings.Contains(err.Error(), expectedErr) {
				return &ConfigurationResult{
					Configuration: cfg,
					Success:       true,
					Message:       fmt.Sprintf("Got expected error: %v", err),
				}
			}
		}
		require.NoError(t, err)
	}
	if len(cfg.ExpectedErrors) > 0 {
		return &ConfigurationResult{
			Configuration: cfg,
			Methods:       result,
			Message:       "Expected an error, got none",
			Details:       cfg.ExpectedErrors,
		}
	}
	return h.validateConfigurationResults(cfg, result)
}

func (h *TestHarness) analyze(t *testing.T, dir string, cfg Configuration) (map[*il.MethodDef]*analysis.MethodInfo, error) {
	t.Helper()
	mod, err := LoadCorpus(t, dir)
	if err != nil {
		return nil, err
	}
	analyzer := trimflow.NewAnalyzer(trimflow.AnalyzerOptions{
		Config:        LoadConfig(t, dir, cfg),
		SkipGenerated: cfg.SkipGenerated,
	})
	return analyzer.Analyze(t.Context(), mod)
}

// validateConfigurationResults compares actual results with expected for a specific configuration
func (h *TestHarness) validateConfigurationResults(cfg Configuration, methods map[*il.MethodDef]*analysis.MethodInfo) *ConfigurationResult {
	cfgResult := ConfigurationResult{
		Configuration: cfg,
		Methods:       methods,
	}

	// First validate the configuration has valid expected findings.
	for _, list := range [][]ExpectedFinding{cfg.ExpectedFindings, cfg.ExpectedSuppressed} {
		if err := validateExpectedFindings(list); err != nil {
			cfgResult.Success = false
			cfgResult.Message = fmt.Sprintf("Invalid expected.yaml: %v", err)
			cfgResult.Details = []string{err.Error()}
			return &cfgResult
		}
	}

	var reported, suppressed []trimflow.Finding
	for _, f := range trimflow.Findings(methods) {
		if f.Suppressed {
			suppressed = append(suppressed, f)
		} else {
			reported = append(reported, f)
		}
	}

	var details []string
	missing, unexpected := compareFindings(cfg.ExpectedFindings, reported)
	for _, m := range missing {
		details = append(details, "Should have been reported: "+m)
	}
	for _, u := range unexpected {
		details = append(details, "Should not have been reported: "+u)
	}
	missingSup, unexpectedSup := compareFindings(cfg.ExpectedSuppressed, suppressed)
	for _, m := range missingSup {
		details = append(details, "Should have been suppressed: "+m)
	}
	for _, u := range unexpectedSup {
		details = append(details, "Should not have been suppressed: "+u)
	}

	cfgResult.Success = len(details) == 0
	cfgResult.Details = details
	if cfgResult.Success {
		cfgResult.Message = fmt.Sprintf("All %d expected findings found", len(cfg.ExpectedFindings))
	} else {
		cfgResult.Message = fmt.Sprintf("Test failed: %d missing, %d unexpected",
			len(missing)+len(missingSup), len(unexpected)+len(unexpectedSup))
	}
	return &cfgResult
}

// ConfigurationResult represents the result of running a single configuration.
type ConfigurationResult struct {
	// Configuration is the configuration that was run.
	Configuration Configuration

	// Methods is the raw result from the analyzer.
	Methods map[*il.MethodDef]*analysis.MethodInfo

	// Success indicates if this configuration passed.
	Success bool

	// Message provides a summary of the result for this configuration.
	Message string

	// Details provides detailed information about failures for this configuration.
	Details []string
}

// TestResult represents the result of running a test case.
type TestResult struct {
	// TestCase is the test case that was run.
	TestCase *TestCase

	// ConfigurationResults contains results for each configuration.
	ConfigurationResults []ConfigurationResult

	// Success indicates if the test passed (all configurations passed)
	Success bool

	// Skipped indicates if the test was skipped.
	Skipped bool

	// Message provides a summary of the result.
	Message string
}

// validateExpectedFindings validates that expected findings have required fields
func validateExpectedFindings(expected []ExpectedFinding) error {
	for i, exp := range expected {
		if strings.TrimSpace(exp.Code) == "" {
			return fmt.Errorf("expected finding at index %d has empty or missing 'code' field", i)
		}
		if strings.TrimSpace(exp.Method) == "" {
			return fmt.Errorf("expected finding at index %d has empty or missing 'method' field", i)
		}
	}
	return nil
}

func findingKey(code, method string, offset int) string {
	if offset == analysis.MethodLevel {
		return fmt.Sprintf("%s %s", method, code)
	}
	return fmt.Sprintf("%s IL_%04x %s", method, offset, code)
}

// compareFindings returns the expected findings that are absent and the
// actual findings nobody expected, both sorted.
func compareFindings(expected []ExpectedFinding, actual []trimflow.Finding) (missing, unexpected []string) {
	expectedMap := make(map[string]ExpectedFinding)
	for _, e := range expected {
		expectedMap[findingKey(e.Code, e.Method, e.Offset)] = e
	}

	actualMap := make(map[string]trimflow.Finding)
	for _, a := range actual {
		actualMap[findingKey(a.Code, a.Method, a.Offset)] = a
	}

	// Check for missing expected findings.
	for key, exp := range expectedMap {
		if _, found := actualMap[key]; !found {
			if exp.Reason != "" {
				key += " (" + exp.Reason + ")"
			}
			missing = append(missing, key)
		}
	}

	// Check for unexpected findings.
	for key, act := range actualMap {
		if _, found := expectedMap[key]; !found {
			unexpected = append(unexpected, key+": "+act.Message)
		}
	}

	// Sort for consistent output.
	sort.Strings(missing)
	sort.Strings(unexpected)
	return missing, unexpected
}
