package trimflow

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"
)

// Defaults applied before a configuration file is decoded.
const (
	DefaultMaxBlockVisits = 100
)

// DefaultInterestingTypes are tracked when the configuration names none.
var DefaultInterestingTypes = []string{"System.Type", "System.String"}

// Config is the analysis configuration, usually read from trimflow.toml.
type Config struct {
	// InterestingTypes lists the types whose values must never be written
	// through an untracked location.
	InterestingTypes []string `toml:"interesting_types"`

	// Annotations declare the members a value flowing into a target keeps.
	Annotations []Annotation `toml:"annotation"`

	// NoBuiltinAnnotations drops the core library annotations.
	NoBuiltinAnnotations bool `toml:"no_builtin_annotations"`

	// Workers bounds the number of methods analyzed in parallel. Zero uses
	// one worker per CPU.
	Workers int `toml:"workers"`

	// MaxBlockVisits bounds how often one block is transferred before the
	// analysis of its method is abandoned.
	MaxBlockVisits int `toml:"max_block_visits"`
}

// Annotation targets exactly one of a parameter of Method, the return value
// of Method, or Field.
//
//	[[annotation]]
//	method = "Sample.Loader::Load"
//	parameter = "typeName"
//	members = ["PublicMethods"]
type Annotation struct {
	// Method is "Namespace.Type::Name". Overloads share annotations.
	Method string `toml:"method"`

	// Parameter is a parameter name, a zero-based source index, or "this".
	Parameter string `toml:"parameter"`

	// Return targets the return value of Method.
	Return bool `toml:"return"`

	// Field is "Namespace.Type::name".
	Field string `toml:"field"`

	// Members lists member kinds such as PublicMethods or All.
	Members []string `toml:"members"`
}

func (a Annotation) String() string {
	switch {
	case a.Field != "":
		return "field " + a.Field
	case a.Return:
		return "return of " + a.Method
	}
	return "parameter " + a.Parameter + " of " + a.Method
}

// builtinAnnotations describe the reflection entry points of the core
// library.
var builtinAnnotations = []Annotation{
	{Method: "System.Type::GetMethod", Parameter: "this", Members: []string{"PublicMethods"}},
	{Method: "System.Type::GetMethods", Parameter: "this", Members: []string{"PublicMethods"}},
	{Method: "System.Type::GetField", Parameter: "this", Members: []string{"PublicFields"}},
	{Method: "System.Activator::CreateInstance", Parameter: "type", Members: []string{"PublicParameterlessConstructor"}},
}

// DefaultConfig returns the configuration used without a file.
func DefaultConfig() *Config {
	return &Config{
		InterestingTypes: append([]string(nil), DefaultInterestingTypes...),
		MaxBlockVisits:   DefaultMaxBlockVisits,
	}
}

// LoadConfig reads a TOML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig decodes TOML data over the defaults and validates the result.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("trimflow: unmarshal config: %w", err)
	}
	for _, key := range md.Undecoded() {
		slog.Warn("ignoring unknown config key", "key", key.String())
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks limits and annotation shapes.
func (c *Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	if c.MaxBlockVisits <= 0 {
		return fmt.Errorf("max_block_visits must be positive, got %d", c.MaxBlockVisits)
	}
	for i, a := range c.Annotations {
		if err := a.validate(); err != nil {
			return fmt.Errorf("annotation %d: %w", i, err)
		}
	}
	return nil
}

func (a Annotation) validate() error {
	targets := 0
	if a.Field != "" {
		targets++
	}
	if a.Parameter != "" {
		targets++
	}
	if a.Return {
		targets++
	}
	if targets != 1 {
		return fmt.Errorf("exactly one of field, parameter or return must be set")
	}
	if a.Field == "" && a.Method == "" {
		return fmt.Errorf("%s: method is required", a)
	}
	if a.Field != "" && a.Method != "" {
		return fmt.Errorf("%s: method must not be set", a)
	}
	if len(a.Members) == 0 {
		return fmt.Errorf("%s: members must not be empty", a)
	}
	if _, err := ParseMemberTypes(a.Members); err != nil {
		return fmt.Errorf("%s: %w", a, err)
	}
	return nil
}

// annotations returns the configured annotations plus the builtin ones.
func (c *Config) annotations() []Annotation {
	if c.NoBuiltinAnnotations {
		return c.Annotations
	}
	out := make([]Annotation, 0, len(builtinAnnotations)+len(c.Annotations))
	out = append(out, builtinAnnotations...)
	return append(out, c.Annotations...)
}
