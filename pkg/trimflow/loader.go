package trimflow

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/715d/trimflow/pkg/il"
	"github.com/715d/trimflow/pkg/ilasm"
)

// corpusExtensions are the file extensions LoadCorpus reads.
var corpusExtensions = []string{".yaml", ".yml", ".cbor"}

// LoaderOptions configures corpus loading behavior.
type LoaderOptions struct {
	// Paths are corpus files or directories to load. Directories are walked
	// recursively.
	Paths []string

	// Dir is the directory relative paths are resolved against.
	// If empty, uses the current working directory.
	Dir string

	// Module names the resulting module when no document names one.
	Module string
}

// LoadCorpus loads every corpus document under opts.Paths into one module.
func LoadCorpus(ctx context.Context, opts LoaderOptions) (*il.Module, error) {
	// Default to the current directory.
	paths := opts.Paths
	if len(paths) == 0 {
		paths = []string{"."}
	}

	files, err := collectFiles(opts.Dir, paths)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no corpus files found matching paths: %v", paths)
	}

	// Decode every file before failing so all errors are reported together.
	var errorMessages []string
	docs := make([]*ilasm.Document, 0, len(files))
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc, err := DecodeFile(file)
		if err != nil {
			errorMessages = append(errorMessages, fmt.Sprintf("file %s: %v", file, err))
			continue
		}
		docs = append(docs, doc)
	}
	if len(errorMessages) > 0 {
		return nil, fmt.Errorf("corpus errors:\n%s", strings.Join(errorMessages, "\n"))
	}

	merged := mergeDocuments(docs)
	if merged.Module == "" {
		merged.Module = opts.Module
	}
	if merged.Module == "" {
		merged.Module = "corpus"
	}

	mod := il.NewModule(merged.Module)
	if _, err := merged.Build(mod); err != nil {
		return nil, fmt.Errorf("building module: %w", err)
	}
	return mod, nil
}

// DecodeFile reads a YAML or CBOR corpus document, chosen by extension.
func DecodeFile(path string) (*ilasm.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(path), ".cbor") {
		return ilasm.DecodeCBOR(data)
	}
	return ilasm.DecodeYAML(data)
}

// EncodeFile writes d to path in the format chosen by its extension.
func EncodeFile(path string, d *ilasm.Document) error {
	var (
		data []byte
		err  error
	)
	if strings.EqualFold(filepath.Ext(path), ".cbor") {
		data, err = ilasm.EncodeCBOR(d)
	} else {
		data, err = ilasm.EncodeYAML(d)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func collectFiles(dir string, paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		if dir != "" && !filepath.IsAbs(p) {
			p = filepath.Join(dir, p)
		}
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("loading corpus: %w", err)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && isCorpusFile(path) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("loading corpus: %w", err)
		}
	}
	slices.Sort(files)
	return slices.Compact(files), nil
}

func isCorpusFile(path string) bool {
	return slices.Contains(corpusExtensions, strings.ToLower(filepath.Ext(path)))
}

// mergeDocuments combines documents into one, keeping a single definition
// per type name. A later definition replaces an earlier one only when it is
// a superset of it.
func mergeDocuments(docs []*ilasm.Document) *ilasm.Document {
	merged := &ilasm.Document{}
	index := make(map[string]int)
	for _, doc := range docs {
		if merged.Module == "" {
			merged.Module = doc.Module
		}
		for _, td := range doc.Types {
			i, exists := index[td.Name]
			if !exists {
				index[td.Name] = len(merged.Types)
				merged.Types = append(merged.Types, td)
				continue
			}
			if isSuperset(td, merged.Types[i]) {
				merged.Types[i] = td
			}
		}
	}
	return merged
}

// isSuperset returns true if td declares every member of existing and at
// least one more.
func isSuperset(td, existing ilasm.TypeDoc) bool {
	if len(td.Fields)+len(td.Methods) <= len(existing.Fields)+len(existing.Methods) {
		return false
	}
	for _, f := range existing.Fields {
		if !slices.ContainsFunc(td.Fields, func(o ilasm.FieldDoc) bool { return o.Name == f.Name }) {
			return false
		}
	}
	for _, m := range existing.Methods {
		if !slices.ContainsFunc(td.Methods, func(o ilasm.MethodDoc) bool {
			return o.Name == m.Name && o.Params == m.Params
		}) {
			return false
		}
	}
	return true
}
