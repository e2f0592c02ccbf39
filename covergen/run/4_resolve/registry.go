package resolve

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/dave/dst"

	diag "github.com/toejough/covers/covergen/run/0_diag"
	astutil "github.com/toejough/covers/covergen/run/0_util"
	load "github.com/toejough/covers/covergen/run/2_load"
	parse "github.com/toejough/covers/covergen/run/3_parse"
)

// Key addresses a declaration: package import path, enclosing type ("" for package level) and name.
type Key struct {
	Package string
	Type    string
	Name    string
}

// String renders the key as "path.Type.Name" or "path.Name".
func (k Key) String() string {
	if k.Type == "" {
		return k.Package + "." + k.Name
	}

	return k.Package + "." + k.Type + "." + k.Name
}

// Registry records every declaration of the loaded packages.
//
// Collection (AddPackage) must finish before Seal; Validate only runs after Seal,
// so a binding may name a declaration collected after it.
type Registry struct {
	// IsReceiver classifies a substitute's first parameter; nil means parse.DefaultReceiver.
	IsReceiver parse.ReceiverPredicate

	rootPkg string
	sealed  bool

	packages   map[string]*packageInfo
	order      []*load.Package
	byName     map[Key][]*parse.Declaration
	occupants  map[Key][]*parse.Declaration
	mockPoints []*parse.Declaration
	candidates []*parse.Declaration
}

// NewRegistry returns an empty registry. rootPkg is the import path whose package-level
// functions classify as free rather than module-scoped.
func NewRegistry(rootPkg string) *Registry {
	return &Registry{
		rootPkg:   rootPkg,
		packages:  make(map[string]*packageInfo),
		byName:    make(map[Key][]*parse.Declaration),
		occupants: make(map[Key][]*parse.Declaration),
	}
}

// AddPackage records a package's scope tables and declarations. Mock points and candidates
// are only tracked for local packages, the ones covergen generates into.
func (r *Registry) AddPackage(pkg *load.Package, decls []*parse.Declaration, local bool) error {
	if r.sealed {
		return fmt.Errorf("%w: cannot add %s", errSealed, pkg.PkgPath)
	}

	if _, ok := r.packages[pkg.PkgPath]; ok {
		return nil
	}

	info := &packageInfo{name: pkg.Name, types: make(map[string]bool), imports: make(map[string]bool)}
	r.packages[pkg.PkgPath] = info

	if local {
		r.order = append(r.order, pkg)
	}

	for _, file := range pkg.Files {
		r.addScopeTables(pkg.PkgPath, info, file.File)

		for _, spec := range file.File.Imports {
			if path, err := strconv.Unquote(spec.Path.Value); err == nil {
				info.imports[path] = true
			}
		}
	}

	for _, decl := range decls {
		r.add(decl, local)
	}

	return nil
}

// Candidates returns the //covers:mock declarations of local packages in collection order.
func (r *Registry) Candidates() []*parse.Declaration {
	return r.candidates
}

// ImportNames maps the names a file uses for its imports onto their paths. Blank and dot imports are omitted.
func (r *Registry) ImportNames(file *load.SourceFile) map[string]string {
	return r.fileImports(file)
}

// Loaded reports whether the package at path has been added.
func (r *Registry) Loaded(path string) bool {
	_, ok := r.packages[path]
	return ok
}

// Lookup returns the declarations published under key.
func (r *Registry) Lookup(key Key) []*parse.Declaration {
	return r.byName[key]
}

// MockPoints returns the //covers:mocked declarations of local packages in collection order.
func (r *Registry) MockPoints() []*parse.Declaration {
	return r.mockPoints
}

// Occupants returns what holds name in a scope: declarations for functions and methods,
// nil entries for types, variables, constants and struct fields.
func (r *Registry) Occupants(pkg, typ, name string) []*parse.Declaration {
	return r.occupants[Key{Package: pkg, Type: typ, Name: name}]
}

// Packages returns the local packages in the order they were added.
func (r *Registry) Packages() []*load.Package {
	return r.order
}

// PendingImports lists import paths that qualified targets may refer to but that are not loaded yet.
func (r *Registry) PendingImports() []string {
	pending := make(map[string]bool)

	for _, decl := range r.mockPoints {
		if decl.Binding == nil || !strings.Contains(decl.Binding.Target, ".") {
			continue
		}

		qualifier, _, _ := strings.Cut(decl.Binding.Target, ".")
		if r.packages[decl.Package].types[qualifier] {
			continue
		}

		imports := r.fileImports(decl.File)

		if path, ok := imports[qualifier]; ok {
			if !r.Loaded(path) {
				pending[path] = true
			}

			continue
		}

		// the guessed name missed: the package name differs from its path
		for _, path := range imports {
			if !r.Loaded(path) {
				pending[path] = true
			}
		}
	}

	paths := make([]string, 0, len(pending))
	for path := range pending {
		paths = append(paths, path)
	}

	slices.Sort(paths)

	return paths
}

// RootPackage is the import path of the free scope.
func (r *Registry) RootPackage() string {
	return r.rootPkg
}

// Seal closes collection.
func (r *Registry) Seal() {
	r.sealed = true
}

// Validate classifies every mock point and resolves its binding. All failures are combined.
func (r *Registry) Validate() (map[*parse.Declaration]Resolution, error) {
	if !r.sealed {
		return nil, errNotSealed
	}

	resolutions := make(map[*parse.Declaration]Resolution, len(r.mockPoints))

	var errs error

	for _, decl := range r.mockPoints {
		scope, err := Classify(decl, r.rootPkg)
		if err != nil {
			errs = diag.Append(errs, err)
			continue
		}

		resolution := Resolution{Scope: scope}

		if decl.Binding.Target != "" {
			resolution, err = r.resolve(decl, scope)
			if err != nil {
				errs = diag.Append(errs, err)
				continue
			}
		}

		resolutions[decl] = resolution
	}

	return resolutions, errs
}

// add indexes one declaration.
func (r *Registry) add(decl *parse.Declaration, local bool) {
	typ := ""
	if decl.IsMethod {
		typ = decl.EnclosingType
	}

	key := Key{Package: decl.Package, Type: typ, Name: decl.Name}
	r.byName[key] = append(r.byName[key], decl)

	r.occupy(Key{Package: decl.Package, Type: typ, Name: decl.SourceName}, decl)

	if decl.Name != decl.SourceName {
		r.occupy(key, decl)
	}

	if !local {
		return
	}

	switch decl.Marker {
	case parse.MarkerMockPoint:
		r.mockPoints = append(r.mockPoints, decl)
	case parse.MarkerCandidate:
		r.candidates = append(r.candidates, decl)
	case parse.MarkerNone:
	}
}

// addScopeTables records the non-function identifiers of a file: types, their fields, variables and constants.
func (r *Registry) addScopeTables(pkgPath string, info *packageInfo, file *dst.File) {
	for _, decl := range file.Decls {
		gen, ok := decl.(*dst.GenDecl)
		if !ok {
			continue
		}

		for _, spec := range gen.Specs {
			switch typed := spec.(type) {
			case *dst.TypeSpec:
				info.types[typed.Name.Name] = true
				r.occupy(Key{Package: pkgPath, Name: typed.Name.Name}, nil)
				r.addFields(pkgPath, typed)
			case *dst.ValueSpec:
				for _, name := range typed.Names {
					if !astutil.IsBlank(name.Name) {
						r.occupy(Key{Package: pkgPath, Name: name.Name}, nil)
					}
				}
			}
		}
	}
}

func (r *Registry) addFields(pkgPath string, spec *dst.TypeSpec) {
	structType, ok := spec.Type.(*dst.StructType)
	if !ok || structType.Fields == nil {
		return
	}

	for _, field := range structType.Fields.List {
		if len(field.Names) == 0 {
			// embedded: the field is named after its type
			name := embeddedName(field.Type)
			if name != "" {
				r.occupy(Key{Package: pkgPath, Type: spec.Name.Name, Name: name}, nil)
			}

			continue
		}

		for _, name := range field.Names {
			if !astutil.IsBlank(name.Name) {
				r.occupy(Key{Package: pkgPath, Type: spec.Name.Name, Name: name.Name}, nil)
			}
		}
	}
}

// fileImports maps the names a file can use to refer to imported packages onto their paths.
// Unaliased imports use the loaded package name, or a guess from the path before loading.
func (r *Registry) fileImports(file *load.SourceFile) map[string]string {
	imports := make(map[string]string)

	if file == nil {
		return imports
	}

	for _, spec := range file.File.Imports {
		path, err := strconv.Unquote(spec.Path.Value)
		if err != nil {
			continue
		}

		switch {
		case spec.Name != nil:
			if spec.Name.Name != "_" && spec.Name.Name != "." {
				imports[spec.Name.Name] = path
			}
		case r.Loaded(path):
			imports[r.packages[path].name] = path
		default:
			imports[importName(path)] = path
		}
	}

	return imports
}

func (r *Registry) occupy(key Key, decl *parse.Declaration) {
	r.occupants[key] = append(r.occupants[key], decl)
}

// packageInfo is what the registry knows about a package beyond its declarations.
type packageInfo struct {
	name    string
	types   map[string]bool
	imports map[string]bool
}

func embeddedName(expr dst.Expr) string {
	switch typed := expr.(type) {
	case *dst.StarExpr:
		return embeddedName(typed.X)
	case *dst.SelectorExpr:
		return typed.Sel.Name
	default:
		return astutil.BaseTypeName(expr)
	}
}

// unexported variables.
var (
	errNotSealed = errors.New("registry must be sealed before validation")
	errSealed    = errors.New("registry is sealed")
)
