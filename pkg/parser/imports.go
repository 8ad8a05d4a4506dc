package parser

import (
	"fmt"
	"os"
	"path/filepath"
)

// Loader supplies source text by path. The OS loader is the default; tests
// and embedded callers substitute in-memory maps.
type Loader interface {
	Load(path string) (string, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(path string) (string, error)

// Load implements Loader.
func (f LoaderFunc) Load(path string) (string, error) { return f(path) }

// OSLoader reads source files from the filesystem.
var OSLoader Loader = LoaderFunc(func(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(b), nil
})

// MapLoader serves sources from an in-memory path → text map.
type MapLoader map[string]string

// Load implements Loader.
func (m MapLoader) Load(path string) (string, error) {
	src, ok := m[path]
	if !ok {
		return "", fmt.Errorf("no such file: %s", path)
	}
	return src, nil
}

// Tree is the result of parsing a root file and scanning its imports: every
// reached file plus the import edges, in deterministic discovery order.
// Cycle and shape judgments are left to elaboration.
type Tree struct {
	Root  string
	Order []string // paths in depth-first discovery order, root first
	Files map[string]*File
	// Missing records import paths that could not be loaded, keyed by the
	// resolved path, with the importing file's declaration retained.
	Missing map[string]*ImportDecl
	Errs    []*SyntaxError
}

// ParseTree parses the root file and transitively scans imports. Import
// paths are resolved relative to the importing file. A file reached twice
// is parsed once; re-visits are recorded as edges only.
func ParseTree(root string, loader Loader) *Tree {
	t := &Tree{
		Root:    root,
		Files:   map[string]*File{},
		Missing: map[string]*ImportDecl{},
	}
	t.scan(root, nil, loader)
	return t
}

func (t *Tree) scan(path string, via *ImportDecl, loader Loader) {
	if _, seen := t.Files[path]; seen {
		return
	}
	src, err := loader.Load(path)
	if err != nil {
		t.Missing[path] = via
		return
	}
	f, errs := ParseFile(path, src)
	t.Files[path] = f
	t.Order = append(t.Order, path)
	t.Errs = append(t.Errs, errs...)
	for _, imp := range f.Imports {
		t.scan(ResolveImport(path, imp.Path), imp, loader)
	}
}

// ResolveImport resolves an import path relative to the importing file.
func ResolveImport(importer, path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Clean(filepath.Join(filepath.Dir(importer), path))
}
