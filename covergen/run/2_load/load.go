// Package load expands package patterns and parses their files into dst trees.
package load

import (
	"errors"
	"fmt"
	"go/parser"
	"go/token"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dave/dst"
	"github.com/dave/dst/decorator"
	"golang.org/x/tools/go/packages"

	diag "github.com/toejough/covers/covergen/run/0_diag"
)

// Generated file naming and header.
const (
	GeneratedHeader = "// Code generated by covergen. DO NOT EDIT."
	OriginalSuffix  = "_covers.go"
	MockSuffix      = "_covers_mock.go"
)

// Package is one loaded Go package.
type Package struct {
	PkgPath string
	Name    string
	Dir     string
	// Files are the hand-written, non-test sources.
	Files []*SourceFile
	// Generated lists covergen output files currently present in Dir.
	Generated []string
}

// SourceFile is a parsed source file with enough bookkeeping to map nodes back to positions.
type SourceFile struct {
	Path string
	File *dst.File
	// Src is the original content, used for diffs.
	Src []byte

	dec *decorator.Decorator
}

// Position returns the source position of node, or the zero position when unknown.
func (f *SourceFile) Position(node dst.Node) token.Position {
	if f.dec == nil {
		return token.Position{Filename: f.Path}
	}

	astNode, ok := f.dec.Ast.Nodes[node]
	if !ok {
		return token.Position{Filename: f.Path}
	}

	return f.dec.Fset.Position(astNode.Pos())
}

// GeneratedPaths returns the two covergen output paths derived from a source path.
func GeneratedPaths(sourcePath string) (original, mock string) {
	base := strings.TrimSuffix(sourcePath, ".go")
	return base + OriginalSuffix, base + MockSuffix
}

// IsGeneratedName reports whether path is named like covergen output.
func IsGeneratedName(path string) bool {
	return strings.HasSuffix(path, OriginalSuffix) || strings.HasSuffix(path, MockSuffix)
}

// Packages loads the packages matching patterns relative to dir.
//
// Test files are excluded: substitutes must be reachable from non-test builds.
func Packages(dir string, patterns ...string) ([]*Package, error) {
	if len(patterns) == 0 {
		patterns = []string{"."}
	}

	cfg := &packages.Config{
		Mode: packages.NeedName | packages.NeedFiles,
		Dir:  dir,
	}

	pkgs, err := packages.Load(cfg, patterns...)
	if err != nil {
		return nil, fmt.Errorf("failed to load packages %v: %w", patterns, err)
	}

	if len(pkgs) == 0 {
		return nil, fmt.Errorf("%w: %v", errNoPackagesFound, patterns)
	}

	loaded := make([]*Package, 0, len(pkgs))

	for _, pkg := range pkgs {
		if len(pkg.Errors) > 0 && len(pkg.GoFiles) == 0 {
			return nil, fmt.Errorf("failed to load package %s: %v", pkg.PkgPath, pkg.Errors[0])
		}

		paths := make([]string, 0, len(pkg.GoFiles)+len(pkg.IgnoredFiles))
		paths = append(paths, pkg.GoFiles...)

		// only our mock-tagged output is excluded by the default build; other ignored files stay ignored
		for _, ignored := range pkg.IgnoredFiles {
			if IsGeneratedName(ignored) {
				paths = append(paths, ignored)
			}
		}

		parsed, err := ReadPackage(pkg.PkgPath, pkg.Name, paths)
		if err != nil {
			return nil, err
		}

		loaded = append(loaded, parsed)
	}

	return loaded, nil
}

// ReadPackage parses the named files from disk into a Package.
func ReadPackage(pkgPath, name string, paths []string) (*Package, error) {
	sources := make(map[string][]byte, len(paths))

	for _, path := range paths {
		if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read file %s: %w", path, err)
		}

		sources[path] = data
	}

	return ParsePackage(pkgPath, name, sources)
}

// ParsePackage parses in-memory sources keyed by path.
// Files named like covergen output that carry the generated header are listed, not parsed.
func ParsePackage(pkgPath, name string, sources map[string][]byte) (*Package, error) {
	pkg := &Package{PkgPath: pkgPath, Name: name}

	for _, path := range slices.Sorted(maps.Keys(sources)) {
		src := sources[path]

		if pkg.Dir == "" {
			pkg.Dir = filepath.Dir(path)
		}

		if IsGeneratedName(path) && strings.HasPrefix(string(src), GeneratedHeader) {
			pkg.Generated = append(pkg.Generated, path)
			continue
		}

		file, err := ParseFile(path, src)
		if err != nil {
			return nil, err
		}

		if pkg.Name == "" {
			pkg.Name = file.File.Name.Name
		}

		pkg.Files = append(pkg.Files, file)
	}

	return pkg, nil
}

// ParseFile parses one source file with comments preserved.
func ParseFile(path string, src []byte) (*SourceFile, error) {
	dec := decorator.NewDecorator(token.NewFileSet())

	file, err := dec.ParseFile(path, src, parser.ParseComments)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", diag.ErrMalformedSignature, err)
	}

	return &SourceFile{Path: path, File: file, Src: src, dec: dec}, nil
}

// unexported variables.
var (
	errNoPackagesFound = errors.New("no packages found")
)
