// Package harness provides test harness infrastructure for validating the analyzer against IL corpora.
package harness

// Configuration is one analyzer configuration a corpus is run under.
type Configuration struct {
	// Name is a descriptive name for this configuration.
	Name string `yaml:"name"`

	// Config is an optional TOML file, relative to the test case directory.
	Config string `yaml:"config,omitempty"`

	// SkipGenerated skips compiler-generated methods.
	SkipGenerated bool `yaml:"skip_generated,omitempty"`

	// ExpectedFindings lists the unsuppressed findings expected for this
	// configuration.
	ExpectedFindings []ExpectedFinding `yaml:"expected_findings"`

	// ExpectedSuppressed lists findings expected to be suppressed.
	ExpectedSuppressed []ExpectedFinding `yaml:"expected_suppressed,omitempty"`

	// ExpectedErrors lists any expected error messages for this configuration.
	ExpectedErrors []string `yaml:"expected_errors,omitempty"`
}

// ExpectedFinding identifies one diagnostic by code, method and offset.
type ExpectedFinding struct {
	// Code is the diagnostic code, for example TRIM003.
	Code string `yaml:"code"`

	// Method is the canonical method name, for example
	// Sample.Program::Load(System.String).
	Method string `yaml:"method"`

	// Offset is the IL offset, or -1 for method-level diagnostics.
	Offset int `yaml:"offset"`

	// Reason describes why the finding is expected.
	Reason string `yaml:"reason,omitempty"`
}
