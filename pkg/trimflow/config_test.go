package trimflow

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := ParseConfig(nil)
	require.NoError(t, err)
	require.Equal(t, DefaultInterestingTypes, cfg.InterestingTypes)
	require.Equal(t, DefaultMaxBlockVisits, cfg.MaxBlockVisits)
	require.Zero(t, cfg.Workers)
	require.Len(t, cfg.annotations(), len(builtinAnnotations))
}

func TestParseConfig_Overrides(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
interesting_types = ["System.Type"]
workers = 3
max_block_visits = 12
unknown_key = 1

[[annotation]]
method = "Sample.Loader::Load"
parameter = "typeName"
members = ["PublicMethods", "PublicFields"]
`))
	require.NoError(t, err)
	require.Equal(t, []string{"System.Type"}, cfg.InterestingTypes)
	require.Equal(t, 3, cfg.Workers)
	require.Equal(t, 12, cfg.MaxBlockVisits)
	require.Len(t, cfg.Annotations, 1)
	require.Equal(t, "parameter typeName of Sample.Loader::Load", cfg.Annotations[0].String())
	require.Len(t, cfg.annotations(), len(builtinAnnotations)+1)
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := []struct {
		name          string
		data          string
		errorContains string
	}{
		{"syntax", "workers = ", "unmarshal config"},
		{"negative workers", "workers = -1", "workers"},
		{"zero visits", "max_block_visits = 0", "max_block_visits"},
		{"no target", "[[annotation]]\nmethod = \"A::B\"\nmembers = [\"All\"]", "exactly one"},
		{"two targets", "[[annotation]]\nmethod = \"A::B\"\nparameter = \"x\"\nreturn = true\nmembers = [\"All\"]", "exactly one"},
		{"missing method", "[[annotation]]\nparameter = \"x\"\nmembers = [\"All\"]", "method is required"},
		{"field with method", "[[annotation]]\nmethod = \"A::B\"\nfield = \"A::f\"\nmembers = [\"All\"]", "must not be set"},
		{"no members", "[[annotation]]\nfield = \"A::f\"", "members must not be empty"},
		{"bad member", "[[annotation]]\nfield = \"A::f\"\nmembers = [\"Everything\"]", "unknown member kind"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.data))
			require.ErrorContains(t, err, tt.errorContains)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trimflow.toml")
	require.NoError(t, os.WriteFile(path, []byte("workers = 2\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 2, cfg.Workers)

	_, err = LoadConfig(filepath.Join(dir, "missing.toml"))
	require.ErrorContains(t, err, "read config")
}
