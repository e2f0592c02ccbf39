// Package parse turns function declarations into the structured Declaration model:
// name, visibility, flattened parameters with receiver classification, results,
// type parameters, enclosing type and covers annotations.
package parse

import (
	"fmt"
	"go/token"

	"github.com/dave/dst"

	diag "github.com/toejough/covers/covergen/run/0_diag"
	astutil "github.com/toejough/covers/covergen/run/0_util"
	load "github.com/toejough/covers/covergen/run/2_load"
)

// Receiver aliases accepted for free-function-styled methods.
const (
	SelfAlias = "self"
	ThisAlias = "this"
)

// Visibility is Go's two-level visibility.
type Visibility int

// Visibility values.
const (
	Unexported Visibility = iota
	Exported
)

// String returns "exported" or "unexported".
func (v Visibility) String() string {
	if v == Exported {
		return "exported"
	}

	return "unexported"
}

// Parameter is one flattened parameter. Grouped declarations (a, b int) become two entries.
type Parameter struct {
	Name string
	Type dst.Expr
	// IsReceiver marks the single receiver-classified parameter, always at index 0.
	IsReceiver bool
	// GoReceiver marks a receiver declared in Go method syntax: func (s *T) ...
	GoReceiver bool
	Variadic   bool
}

// Declaration is the parsed form of one function or method.
type Declaration struct {
	// Name is the public name; SourceName is the name currently in the source.
	// They differ once a previous run renamed the original.
	Name       string
	SourceName string
	Visibility Visibility
	Params     []Parameter
	Results    *dst.FieldList
	TypeParams []string
	// EnclosingType is the receiver's base type for methods, empty otherwise.
	EnclosingType string
	// RecvType is the Go receiver type expression, nil for functions.
	RecvType dst.Expr
	IsMethod bool
	Package  string
	File     *load.SourceFile
	Pos      token.Position
	Marker   Marker
	Binding  *MockBinding
	Func     *dst.FuncDecl

	directiveIndex int
}

// DirectiveIndex is the position of the covers directive in the function's leading comments, or -1.
func (d *Declaration) DirectiveIndex() int {
	return d.directiveIndex
}

// HasReceiver reports whether a receiver parameter was classified.
func (d *Declaration) HasReceiver() bool {
	return len(d.Params) > 0 && d.Params[0].IsReceiver
}

// HasGoReceiver reports whether the receiver is a Go method receiver (as opposed to a self/this parameter).
func (d *Declaration) HasGoReceiver() bool {
	return d.HasReceiver() && d.Params[0].GoReceiver
}

// QualifiedName is "Type.Name" for methods and "Name" for functions.
func (d *Declaration) QualifiedName() string {
	if d.IsMethod {
		return d.EnclosingType + "." + d.Name
	}

	return d.Name
}

// Variadic reports whether the last parameter is variadic.
func (d *Declaration) Variadic() bool {
	return len(d.Params) > 0 && d.Params[len(d.Params)-1].Variadic
}

// ReceiverPredicate decides whether the parameter at position is a receiver,
// given its name, type and the enclosing type of the declaration ("" outside method sets).
type ReceiverPredicate func(position int, name string, typ dst.Expr, enclosingType string) bool

// DefaultReceiver classifies the first parameter as receiver when it is referencable and
// either its type is the enclosing type or it is named self or this.
func DefaultReceiver(position int, name string, typ dst.Expr, enclosingType string) bool {
	if position != 0 || astutil.IsBlank(name) {
		return false
	}

	if enclosingType != "" && astutil.BaseTypeName(typ) == enclosingType {
		return true
	}

	return name == SelfAlias || name == ThisAlias
}

// Parser parses declarations with a configurable receiver predicate.
type Parser struct {
	IsReceiver ReceiverPredicate
}

// New returns a parser using DefaultReceiver.
func New() *Parser {
	return &Parser{IsReceiver: DefaultReceiver}
}

// File parses every function declaration in a file. Annotations on anything other than a
// function with a body fail with ErrMalformedSignature.
func (p *Parser) File(pkgPath string, file *load.SourceFile) ([]*Declaration, error) {
	var decls []*Declaration

	for _, decl := range file.File.Decls {
		switch typed := decl.(type) {
		case *dst.FuncDecl:
			parsed, err := p.FuncDecl(pkgPath, file, typed)
			if err != nil {
				return nil, err
			}

			decls = append(decls, parsed)
		case *dst.GenDecl:
			err := checkGenDecl(file, typed)
			if err != nil {
				return nil, err
			}
		}
	}

	return decls, nil
}

// FuncDecl parses one function declaration.
func (p *Parser) FuncDecl(pkgPath string, file *load.SourceFile, fn *dst.FuncDecl) (*Declaration, error) {
	decl := &Declaration{
		Name:           fn.Name.Name,
		SourceName:     fn.Name.Name,
		Results:        fn.Type.Results,
		Package:        pkgPath,
		File:           file,
		Pos:            file.Position(fn),
		Func:           fn,
		directiveIndex: -1,
	}

	p.flattenParams(decl, fn)

	found, err := findDirective(fn.Decs.Start)
	if err != nil {
		return nil, p.malformed(decl, "%v", err)
	}

	if found != nil {
		decl.Marker = found.marker
		decl.Binding = found.binding
		decl.directiveIndex = found.index

		if decl.Binding != nil && decl.Binding.PublicName != "" {
			decl.Name = decl.Binding.PublicName
		}
	}

	if astutil.IsExported(decl.Name) {
		decl.Visibility = Exported
	}

	if decl.Marker != MarkerNone {
		err = p.checkAnnotated(decl)
		if err != nil {
			return nil, err
		}
	}

	return decl, nil
}

// Signature parses raw declaration text such as "func foo(name string) string { ... }".
func (p *Parser) Signature(pkgPath, text string) (*Declaration, error) {
	file, err := load.ParseFile("decl.go", []byte("package p\n\n"+text+"\n"))
	if err != nil {
		return nil, err
	}

	var found *dst.FuncDecl

	for _, decl := range file.File.Decls {
		fn, ok := decl.(*dst.FuncDecl)
		if !ok {
			continue
		}

		if found != nil {
			return nil, fmt.Errorf("%w: more than one declaration in %q", diag.ErrMalformedSignature, text)
		}

		found = fn
	}

	if found == nil {
		return nil, fmt.Errorf("%w: no function declaration in %q", diag.ErrMalformedSignature, text)
	}

	return p.FuncDecl(pkgPath, file, found)
}

func (p *Parser) checkAnnotated(decl *Declaration) error {
	switch {
	case decl.Func.Body == nil:
		return p.malformed(decl, "annotated function has no body")
	case !decl.IsMethod && (decl.SourceName == "init" || decl.SourceName == "main"):
		return p.malformed(decl, "%s cannot be annotated", decl.SourceName)
	case decl.Marker == MarkerMockPoint && decl.Binding.ScopeHint && !decl.IsMethod:
		return p.malformed(decl, "scope=impl on a function outside any method set")
	default:
		return nil
	}
}

func (p *Parser) flattenParams(decl *Declaration, fn *dst.FuncDecl) {
	position := 0

	if fn.Recv != nil && len(fn.Recv.List) == 1 {
		field := fn.Recv.List[0]
		decl.IsMethod = true
		decl.RecvType = field.Type
		decl.EnclosingType = astutil.BaseTypeName(field.Type)
		decl.TypeParams = astutil.ReceiverTypeParams(field.Type)

		name := ""
		if len(field.Names) > 0 {
			name = field.Names[0].Name
		}

		if p.IsReceiver(position, name, field.Type, decl.EnclosingType) {
			decl.Params = append(decl.Params, Parameter{
				Name: name, Type: field.Type, IsReceiver: true, GoReceiver: true,
			})
		}

		// a Go receiver occupies the receiver position whether or not it is usable
		position++
	}

	if fn.Type.TypeParams != nil {
		for _, field := range fn.Type.TypeParams.List {
			for _, name := range field.Names {
				decl.TypeParams = append(decl.TypeParams, name.Name)
			}
		}
	}

	if fn.Type.Params == nil {
		return
	}

	for _, field := range fn.Type.Params.List {
		_, variadic := field.Type.(*dst.Ellipsis)

		names := field.Names
		if len(names) == 0 {
			names = []*dst.Ident{{Name: ""}}
		}

		for _, ident := range names {
			decl.Params = append(decl.Params, Parameter{
				Name:       ident.Name,
				Type:       field.Type,
				IsReceiver: p.IsReceiver(position, ident.Name, field.Type, decl.EnclosingType),
				Variadic:   variadic,
			})
			position++
		}
	}
}

func (p *Parser) malformed(decl *Declaration, format string, args ...any) error {
	scope := "free"
	if decl.IsMethod {
		scope = "impl " + decl.EnclosingType
	}

	return diag.New(diag.ErrMalformedSignature, decl.SourceName, scope, decl.Pos, format, args...)
}

// checkGenDecl rejects covers directives on types, constants, variables and imports.
func checkGenDecl(file *load.SourceFile, gen *dst.GenDecl) error {
	if hasDirective(gen.Decs.Start) {
		return diag.New(diag.ErrMalformedSignature, gen.Tok.String(), "", file.Position(gen),
			"only functions and methods can be annotated")
	}

	for _, spec := range gen.Specs {
		var decs dst.Decorations

		switch typed := spec.(type) {
		case *dst.TypeSpec:
			decs = typed.Decs.Start
		case *dst.ValueSpec:
			decs = typed.Decs.Start
		}

		if hasDirective(decs) {
			return diag.New(diag.ErrMalformedSignature, gen.Tok.String(), "", file.Position(spec),
				"only functions and methods can be annotated")
		}
	}

	return nil
}
