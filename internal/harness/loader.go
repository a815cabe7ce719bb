package harness

import (
	"os"
	"path/filepath"
	"testing"

	yaml "gopkg.in/yaml.v3"

	"github.com/stretchr/testify/require"

	"github.com/715d/trimflow/pkg/il"
	"github.com/715d/trimflow/pkg/trimflow"
)

// corpusFile is the corpus document of every test case.
const corpusFile = "corpus.yaml"

// LoadCorpus loads the corpus of a test case directory. Errors are returned
// so test cases can expect them.
func LoadCorpus(t *testing.T, dir string) (*il.Module, error) {
	t.Helper()

	t.Logf("Loading corpus from %q", dir)
	return trimflow.LoadCorpus(t.Context(), trimflow.LoaderOptions{
		Paths: []string{corpusFile},
		Dir:   dir,
	})
}

// LoadConfig loads the analyzer configuration named by cfg, or the defaults.
func LoadConfig(t *testing.T, dir string, cfg Configuration) *trimflow.Config {
	t.Helper()
	if cfg.Config == "" {
		return trimflow.DefaultConfig()
	}
	c, err := trimflow.LoadConfig(filepath.Join(dir, cfg.Config))
	require.NoError(t, err)
	return c
}

// LoadTestCase loads a test case from a directory with a specified testdata root.
func LoadTestCase(t *testing.T, dir, root string) *TestCase {
	t.Helper()
	yamlPath := filepath.Join(dir, "expected.yaml")

	tc := &TestCase{}
	data, err := os.ReadFile(yamlPath)
	require.NoError(t, err)
	err = yaml.Unmarshal(data, tc)
	require.NoError(t, err)

	// Use relative path from testdata root if provided.
	if root != "" {
		relPath, err := filepath.Rel(root, dir)
		if err != nil {
			tc.Dir = filepath.Base(dir)
		} else {
			tc.Dir = relPath
		}
		return tc
	}

	tc.Dir = filepath.Base(dir)
	return tc
}
