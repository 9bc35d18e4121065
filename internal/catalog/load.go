package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"gopkg.in/yaml.v3"
)

// hclFile is the top-level schema of a .hcl catalog file.
type hclFile struct {
	Types   []*hclType   `hcl:"semantic_type,block"`
	Modules []*hclModule `hcl:"module,block"`
}

type hclType struct {
	Name string `hcl:"name,label"`
	ID   int64  `hcl:"id"`
}

type hclModule struct {
	Name        string      `hcl:"name,label"`
	ID          int64       `hcl:"id"`
	Description string      `hcl:"description,optional"`
	Inputs      []*hclParam `hcl:"input,block"`
	Outputs     []*hclParam `hcl:"output,block"`
}

type hclParam struct {
	Name        string `hcl:"name,label"`
	Type        string `hcl:"type,optional"`
	Description string `hcl:"description,optional"`
}

// Directories never descended into when loading a catalog directory.
var defaultIgnorePatterns = []string{
	".git/",
	".chainlab/",
	"node_modules/",
}

// Load reads a catalog from a single file or from a directory of files.
func Load(path string) (*Catalog, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("accessing catalog %s: %w", path, err)
	}
	if info.IsDir() {
		return LoadDir(path)
	}

	doc, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return doc.build()
}

// LoadHCL parses HCL catalog source. The filename is used in diagnostics.
func LoadHCL(src []byte, filename string) (*Catalog, error) {
	doc, err := parseHCL(src, filename)
	if err != nil {
		return nil, err
	}
	return doc.build()
}

// LoadYAML parses YAML catalog source from r.
func LoadYAML(r io.Reader, filename string) (*Catalog, error) {
	doc, err := parseYAML(r, filename)
	if err != nil {
		return nil, err
	}
	return doc.build()
}

// LoadDir loads and merges every catalog file below dir, honoring a
// .gitignore at the directory root. Files are merged in lexical path order.
func LoadDir(dir string) (*Catalog, error) {
	files, err := CatalogFiles(dir)
	if err != nil {
		return nil, err
	}

	merged := &document{}
	for _, path := range files {
		doc, err := readFile(path)
		if err != nil {
			return nil, err
		}
		merged.merge(doc)
	}
	return merged.build()
}

// CatalogFiles lists the catalog files below dir in lexical order.
func CatalogFiles(dir string) ([]string, error) {
	matcher, err := loadGitignoreMatcher(dir)
	if err != nil {
		return nil, fmt.Errorf("loading .gitignore: %w", err)
	}

	var files []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if relPath == "." {
			return nil
		}
		parts := strings.Split(relPath, string(filepath.Separator))

		if d.IsDir() {
			if matcher.Match(parts, true) {
				return filepath.SkipDir
			}
			return nil
		}

		if !IsCatalogFile(d.Name()) || matcher.Match(parts, false) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking catalog directory %s: %w", dir, err)
	}

	return files, nil
}

// IsCatalogFile reports whether name has a supported catalog extension.
func IsCatalogFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".hcl", ".yaml", ".yml":
		return true
	default:
		return false
	}
}

func readFile(path string) (*document, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".hcl":
		return parseHCL(content, path)
	case ".yaml", ".yml":
		return parseYAML(bytes.NewReader(content), path)
	default:
		return nil, fmt.Errorf("unsupported catalog file %s", path)
	}
}

func parseHCL(src []byte, filename string) (*document, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parsing %s: %w", filename, diags)
	}

	var parsed hclFile
	if diags := gohcl.DecodeBody(file.Body, nil, &parsed); diags.HasErrors() {
		return nil, fmt.Errorf("decoding %s: %w", filename, diags)
	}

	doc := &document{}
	for _, t := range parsed.Types {
		doc.Types = append(doc.Types, typeDoc{Name: t.Name, ID: t.ID})
	}
	for _, m := range parsed.Modules {
		doc.Modules = append(doc.Modules, moduleDoc{
			Name:        m.Name,
			ID:          m.ID,
			Description: m.Description,
			Inputs:      hclParams(m.Inputs),
			Outputs:     hclParams(m.Outputs),
		})
	}

	if err := doc.validate(filename); err != nil {
		return nil, err
	}
	return doc, nil
}

func hclParams(params []*hclParam) []paramDoc {
	out := make([]paramDoc, 0, len(params))
	for _, p := range params {
		out = append(out, paramDoc{Name: p.Name, Type: p.Type, Description: p.Description})
	}
	return out
}

func parseYAML(r io.Reader, filename string) (*document, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	doc := &document{}
	if err := dec.Decode(doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing %s: %w", filename, err)
	}

	if err := doc.validate(filename); err != nil {
		return nil, err
	}
	return doc, nil
}

// loadGitignoreMatcher builds a matcher from the default patterns plus the
// .gitignore at root, if any.
func loadGitignoreMatcher(root string) (gitignore.Matcher, error) {
	patterns := make([]gitignore.Pattern, 0, len(defaultIgnorePatterns))
	for _, p := range defaultIgnorePatterns {
		patterns = append(patterns, gitignore.ParsePattern(p, nil))
	}

	content, err := os.ReadFile(filepath.Join(root, ".gitignore"))
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, gitignore.ParsePattern(line, nil))
	}

	return gitignore.NewMatcher(patterns), nil
}
