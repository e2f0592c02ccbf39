package generate

import (
	"bytes"
	"errors"
	"fmt"
	"go/build/constraint"
	"go/format"
	"go/token"
	"maps"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/dave/dst"
	"github.com/dave/dst/decorator"

	load "github.com/toejough/covers/covergen/run/2_load"
	parse "github.com/toejough/covers/covergen/run/3_parse"
	resolve "github.com/toejough/covers/covergen/run/4_resolve"
)

// Output is one file to write.
type Output struct {
	Path    string
	Content []byte
	// Generated marks covergen-owned files; the others are rewritten sources.
	Generated bool
}

// Generator turns validated mock points into rewritten sources and dispatch files.
type Generator struct {
	Mangler Mangler
	// Tag is the build tag that selects substitutes.
	Tag string

	registry  *resolve.Registry
	templates *TemplateRegistry
}

// New returns a generator over a sealed, validated registry.
func New(prefix, tag string, reg *resolve.Registry) *Generator {
	return &Generator{
		Mangler:   Mangler{Prefix: prefix},
		Tag:       tag,
		registry:  reg,
		templates: NewTemplateRegistry(),
	}
}

// Package generates every file of pkg that holds mock points.
func (g *Generator) Package(pkg *load.Package, resolutions map[*parse.Declaration]resolve.Resolution) ([]Output, error) {
	byFile := make(map[*load.SourceFile][]*parse.Declaration)

	for _, decl := range g.registry.MockPoints() {
		if decl.Package == pkg.PkgPath {
			byFile[decl.File] = append(byFile[decl.File], decl)
		}
	}

	var outputs []Output

	for _, file := range pkg.Files {
		decls := byFile[file]
		if len(decls) == 0 {
			continue
		}

		fileOutputs, err := g.File(file, decls, resolutions)
		if err != nil {
			return nil, err
		}

		outputs = append(outputs, fileOutputs...)
	}

	return outputs, nil
}

// File renames the originals of decls in place and builds both dispatch files.
// It returns the rewritten source followed by the original-calling and the substitute-calling files.
func (g *Generator) File(
	file *load.SourceFile, decls []*parse.Declaration, resolutions map[*parse.Declaration]resolve.Resolution,
) ([]Output, error) {
	var originals, mocks []*dst.FuncDecl

	originalQualifiers := make(map[string]bool)
	mockQualifiers := make(map[string]bool)
	imports := g.registry.ImportNames(file)

	for _, decl := range decls {
		resolution, ok := resolutions[decl]
		if !ok {
			return nil, fmt.Errorf("%w: %s", errNoResolution, decl.QualifiedName())
		}

		mangled := g.Mangler.Mangle(decl.Name)
		w := newWrapper(decl, calledIdents(mangled, resolution)...)
		doc := directiveFreeDoc(decl)

		mockCall := w.originalCall(mangled)
		if resolution.Form != resolve.FormUnbound {
			mockCall = w.substituteCall(resolution)
		}

		originals = append(originals, w.build(w.originalCall(mangled), doc))
		mocks = append(mocks, w.build(mockCall, doc))

		collectQualifiers(w.sig, originalQualifiers)
		collectQualifiers(w.sig, mockQualifiers)

		if resolution.Path.Qualifier != "" {
			mockQualifiers[resolution.Path.Qualifier] = true
		}

		rename(decl, mangled)
	}

	var source bytes.Buffer

	err := decorator.Fprint(&source, file.File)
	if err != nil {
		return nil, fmt.Errorf("error printing %s: %w", file.Path, err)
	}

	sourceConstraint := conjoin(buildConstraint(file.File), fileNameConstraint(file.Path))
	tag := &constraint.TagExpr{Tag: g.Tag}
	originalPath, mockPath := load.GeneratedPaths(file.Path)

	original, err := g.render(file, imports, originalQualifiers, conjoin(sourceConstraint,
		&constraint.NotExpr{X: tag}), originals)
	if err != nil {
		return nil, err
	}

	mock, err := g.render(file, imports, mockQualifiers, conjoin(sourceConstraint, tag), mocks)
	if err != nil {
		return nil, err
	}

	return []Output{
		{Path: file.Path, Content: source.Bytes()},
		{Path: originalPath, Content: original, Generated: true},
		{Path: mockPath, Content: mock, Generated: true},
	}, nil
}

// render prints one generated file.
func (g *Generator) render(
	file *load.SourceFile, imports map[string]string, qualifiers map[string]bool, expr constraint.Expr,
	funcs []*dst.FuncDecl,
) ([]byte, error) {
	body := &dst.File{Name: dst.NewIdent(file.File.Name.Name)}

	importDecl, err := importsFor(file, imports, qualifiers)
	if err != nil {
		return nil, err
	}

	if importDecl != nil {
		body.Decls = append(body.Decls, importDecl)
	}

	for _, fn := range funcs {
		body.Decls = append(body.Decls, fn)
	}

	var printed bytes.Buffer

	err = decorator.Fprint(&printed, body)
	if err != nil {
		return nil, fmt.Errorf("error printing generated code for %s: %w", file.Path, err)
	}

	var buf bytes.Buffer

	g.templates.WriteFile(&buf, fileTemplateData{
		Header:     load.GeneratedHeader,
		Constraint: expr.String(),
		Source:     filepath.Base(file.Path),
		Body:       printed.String(),
	})

	formatted, err := format.Source(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("error formatting generated code for %s: %w", file.Path, err)
	}

	return formatted, nil
}

// buildConstraint returns the file's //go:build expression, or nil.
func buildConstraint(file *dst.File) constraint.Expr {
	for _, line := range file.Decs.Start {
		if !constraint.IsGoBuild(line) {
			continue
		}

		expr, err := constraint.Parse(line)
		if err == nil {
			return expr
		}
	}

	return nil
}

// collectQualifiers records the package names a signature's types are qualified with.
func collectQualifiers(sig *dst.FuncDecl, into map[string]bool) {
	visit := func(node dst.Node) bool {
		sel, ok := node.(*dst.SelectorExpr)
		if !ok {
			return true
		}

		if ident, ok := sel.X.(*dst.Ident); ok {
			into[ident.Name] = true
		}

		return true
	}

	if sig.Recv != nil {
		dst.Inspect(sig.Recv, visit)
	}

	dst.Inspect(sig.Type, visit)
}

// conjoin ands the non-nil expressions together, or returns nil when there are none.
func conjoin(exprs ...constraint.Expr) constraint.Expr {
	var joined constraint.Expr

	for _, expr := range exprs {
		switch {
		case expr == nil:
		case joined == nil:
			joined = expr
		default:
			joined = &constraint.AndExpr{X: joined, Y: expr}
		}
	}

	return joined
}

// fileNameConstraint returns the GOOS/GOARCH terms implied by a _GOOS, _GOARCH or
// _GOOS_GOARCH file-name suffix. Generated names end in _covers, so the toolchain
// would not apply them otherwise.
func fileNameConstraint(path string) constraint.Expr {
	name := strings.TrimSuffix(filepath.Base(path), ".go")

	_, suffix, found := strings.Cut(name, "_")
	if !found {
		return nil
	}

	elems := strings.Split(suffix, "_")
	if last := len(elems) - 1; elems[last] == "test" {
		elems = elems[:last]
	}

	n := len(elems)

	switch {
	case n >= 2 && knownOS[elems[n-2]] && knownArch[elems[n-1]]:
		return &constraint.AndExpr{X: &constraint.TagExpr{Tag: elems[n-2]}, Y: &constraint.TagExpr{Tag: elems[n-1]}}
	case n >= 1 && (knownOS[elems[n-1]] || knownArch[elems[n-1]]):
		return &constraint.TagExpr{Tag: elems[n-1]}
	default:
		return nil
	}
}

// importsFor copies the source file's import specs for the qualifiers a generated file uses.
func importsFor(file *load.SourceFile, imports map[string]string, qualifiers map[string]bool) (*dst.GenDecl, error) {
	if len(qualifiers) == 0 {
		return nil, nil //nolint:nilnil // no imports is not an error
	}

	decl := &dst.GenDecl{Tok: token.IMPORT, Lparen: len(qualifiers) > 1}

	for _, qualifier := range slices.Sorted(maps.Keys(qualifiers)) {
		path, ok := imports[qualifier]
		if !ok {
			return nil, fmt.Errorf("%w %q in %s: import it with an explicit name", errUnknownQualifier, qualifier, file.Path)
		}

		spec := &dst.ImportSpec{Path: &dst.BasicLit{Kind: token.STRING, Value: strconv.Quote(path)}}

		for _, source := range file.File.Imports {
			if source.Name != nil && source.Name.Name == qualifier {
				spec.Name = dst.NewIdent(qualifier)
			}
		}

		decl.Specs = append(decl.Specs, spec)
	}

	return decl, nil
}

// rename moves the original to its mangled name and records the public name in its directive,
// so a later run recognizes it.
func rename(decl *parse.Declaration, mangled string) {
	decl.Func.Name.Name = mangled

	binding := *decl.Binding
	binding.PublicName = decl.Name
	decl.Func.Decs.Start[decl.DirectiveIndex()] = binding.Format()
}

func setOf(values ...string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, value := range values {
		set[value] = true
	}

	return set
}

// unexported variables.
var (
	errNoResolution     = errors.New("mock point was not validated")
	errUnknownQualifier = errors.New("cannot find the import for qualifier")

	knownOS = setOf("aix", "android", "darwin", "dragonfly", "freebsd", "hurd", "illumos", "ios", "js",
		"linux", "nacl", "netbsd", "openbsd", "plan9", "solaris", "wasip1", "windows", "zos")

	knownArch = setOf("386", "amd64", "amd64p32", "arm", "armbe", "arm64", "arm64be", "loong64", "mips",
		"mipsle", "mips64", "mips64le", "mips64p32", "mips64p32le", "ppc", "ppc64", "ppc64le", "riscv",
		"riscv64", "s390", "s390x", "sparc", "sparc64", "wasm")
)
