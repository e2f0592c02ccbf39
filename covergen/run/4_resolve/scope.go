// Package resolve classifies declaration scopes, records every declaration of a build unit
// and validates mock bindings against it once collection is complete.
package resolve

import (
	"strings"

	diag "github.com/toejough/covers/covergen/run/0_diag"
	astutil "github.com/toejough/covers/covergen/run/0_util"
	parse "github.com/toejough/covers/covergen/run/3_parse"
)

// Kind is a scope classification.
type Kind int

// Kind values.
const (
	KindFree Kind = iota
	KindModule
	KindTypeImpl
)

// Scope is where a declaration lives.
type Scope struct {
	Kind Kind
	// Package is the import path of the declaring package.
	Package string
	// Type is the enclosing type for KindTypeImpl.
	Type string
	// Static marks a type-associated function without a receiver.
	Static bool
}

// String renders the scope for diagnostics: "free", "module example.com/x/mocks", "impl Store", "impl Store (static)".
func (s Scope) String() string {
	switch s.Kind {
	case KindModule:
		return "module " + s.Package
	case KindTypeImpl:
		if s.Static {
			return "impl " + s.Type + " (static)"
		}

		return "impl " + s.Type
	default:
		return "free"
	}
}

// Classify determines a mock point's scope.
//
// A receiver makes it an instance member regardless of hints. A method with no usable
// receiver is indistinguishable from a free function by its parameters alone, so it
// needs scope=impl; without the hint it fails with ErrMissingScopeHint.
func Classify(decl *parse.Declaration, rootPkg string) (Scope, error) {
	hint := decl.Binding != nil && decl.Binding.ScopeHint

	switch {
	case decl.HasReceiver():
		return Scope{Kind: KindTypeImpl, Package: decl.Package, Type: receiverType(decl)}, nil
	case decl.IsMethod && hint:
		return Scope{Kind: KindTypeImpl, Package: decl.Package, Type: decl.EnclosingType, Static: true}, nil
	case decl.IsMethod:
		scope := Scope{Kind: KindTypeImpl, Package: decl.Package, Type: decl.EnclosingType, Static: true}

		return Scope{}, diag.New(diag.ErrMissingScopeHint, decl.QualifiedName(), scope.String(), decl.Pos,
			"method has no usable receiver; add scope=impl to the //covers:mocked directive")
	case decl.Package == rootPkg:
		return Scope{Kind: KindFree, Package: decl.Package}, nil
	default:
		return Scope{Kind: KindModule, Package: decl.Package}, nil
	}
}

// ScopeOf classifies any declaration without requiring hints: methods without receivers are static members.
func ScopeOf(decl *parse.Declaration, rootPkg string) Scope {
	if decl.IsMethod || decl.HasReceiver() {
		return Scope{Kind: KindTypeImpl, Package: decl.Package, Type: receiverType(decl), Static: !decl.HasReceiver()}
	}

	if decl.Package == rootPkg {
		return Scope{Kind: KindFree, Package: decl.Package}
	}

	return Scope{Kind: KindModule, Package: decl.Package}
}

// receiverType is the enclosing type of a method, or the base type of a self/this parameter.
func receiverType(decl *parse.Declaration) string {
	if decl.EnclosingType != "" {
		return decl.EnclosingType
	}

	if decl.HasReceiver() {
		return astutil.BaseTypeName(decl.Params[0].Type)
	}

	return ""
}

// importName guesses the package name an import path binds when it has no alias:
// the last element, skipping a major-version suffix: example.com/go-store/v2 -> store, gopkg.in/yaml.v3 -> yaml.
func importName(path string) string {
	parts := strings.Split(path, "/")
	last := parts[len(parts)-1]

	if len(parts) > 1 && isMajorVersion(last) {
		last = parts[len(parts)-2]
	}

	last, _, _ = strings.Cut(last, ".")
	last = strings.TrimPrefix(last, "go-")

	return strings.ReplaceAll(last, "-", "")
}

func isMajorVersion(elem string) bool {
	if len(elem) < 2 || elem[0] != 'v' {
		return false
	}

	for _, r := range elem[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}

	return true
}
