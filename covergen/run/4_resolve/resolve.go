package resolve

import (
	"strings"

	diag "github.com/toejough/covers/covergen/run/0_diag"
	astutil "github.com/toejough/covers/covergen/run/0_util"
	parse "github.com/toejough/covers/covergen/run/3_parse"
)

// Form is how a dispatch wrapper reaches its substitute.
type Form int

// Form values.
const (
	// FormUnbound: no target, the wrapper calls the original in every build.
	FormUnbound Form = iota
	// FormSameType: a method of the mock point's own type, called as recv.M(rest).
	FormSameType
	// FormOtherType: a method of another type, called on a zero value as new(pkg.T).M(args).
	FormOtherType
	// FormFunction: a package-level function, called as pkg.F(args) with the receiver first.
	FormFunction
)

// ResolvedPath is a binding target after normalization.
type ResolvedPath struct {
	// Package is the target's import path.
	Package string
	// Type is the target's enclosing type, empty for functions.
	Type string
	Name string
	// Qualifier is the import name the mock point's file uses for Package, empty within the same package.
	Qualifier string
}

// Resolution is the validated outcome for one mock point.
type Resolution struct {
	Scope  Scope
	Form   Form
	Path   ResolvedPath
	Target *parse.Declaration
}

// resolve finds a mock point's target and checks that it can stand in for the mock point.
func (r *Registry) resolve(decl *parse.Declaration, scope Scope) (Resolution, error) {
	path, err := r.targetPath(decl, scope)
	if err != nil {
		return Resolution{}, err
	}

	key := Key{Package: path.Package, Type: path.Type, Name: path.Name}
	matches := r.byName[key]

	switch {
	case len(matches) == 0:
		return Resolution{}, unresolved(decl, scope, "no declaration %s for target %q", key, decl.Binding.Target)
	case len(matches) > 1:
		return Resolution{}, unresolved(decl, scope, "target %q is ambiguous: %d declarations of %s",
			decl.Binding.Target, len(matches), key)
	}

	target := matches[0]

	if path.Package != decl.Package && (!astutil.IsExported(path.Name) ||
		(path.Type != "" && !astutil.IsExported(path.Type))) {
		return Resolution{}, unresolved(decl, scope, "target %q is not exported from %s",
			decl.Binding.Target, path.Package)
	}

	if path.Package != decl.Package && r.packages[path.Package].imports[decl.Package] {
		return Resolution{}, unresolved(decl, scope, "%s imports %s, which would import it back for %q",
			path.Package, decl.Package, decl.Binding.Target)
	}

	resolution := Resolution{Scope: scope, Form: formFor(decl, target), Path: path, Target: target}

	err = r.compatible(decl, scope, resolution)
	if err != nil {
		return Resolution{}, err
	}

	return resolution, nil
}

// targetPath normalizes the target text. Unqualified names prefer the mock point's own type.
func (r *Registry) targetPath(decl *parse.Declaration, scope Scope) (ResolvedPath, error) {
	target := decl.Binding.Target
	segments := strings.Split(target, ".")
	local := r.packages[decl.Package]

	switch len(segments) {
	case 1:
		if scope.Kind == KindTypeImpl && scope.Type != "" {
			own := Key{Package: decl.Package, Type: scope.Type, Name: target}
			if len(r.byName[own]) > 0 {
				return ResolvedPath{Package: decl.Package, Type: scope.Type, Name: target}, nil
			}
		}

		return ResolvedPath{Package: decl.Package, Name: target}, nil
	case 2:
		if path, ok := r.fileImports(decl.File)[segments[0]]; ok {
			return ResolvedPath{Package: path, Name: segments[1], Qualifier: segments[0]}, nil
		}

		if local != nil && local.types[segments[0]] {
			return ResolvedPath{Package: decl.Package, Type: segments[0], Name: segments[1]}, nil
		}

		return ResolvedPath{}, unresolved(decl, scope, "%q is neither an import nor a type in %s",
			segments[0], decl.Package)
	case 3:
		path, ok := r.fileImports(decl.File)[segments[0]]
		if !ok {
			return ResolvedPath{}, unresolved(decl, scope, "%q is not an import of %s", segments[0], fileName(decl))
		}

		return ResolvedPath{Package: path, Type: segments[1], Name: segments[2], Qualifier: segments[0]}, nil
	default:
		return ResolvedPath{}, unresolved(decl, scope, "target %q has too many segments", target)
	}
}

// compatible checks what can be checked without type information: arity, receiver position and
// variadic position. Parameter types are left to the compiler.
func (r *Registry) compatible(decl *parse.Declaration, scope Scope, resolution Resolution) error {
	target := resolution.Target

	mismatch := func(format string, args ...any) error {
		return diag.New(diag.ErrSignatureMismatch, decl.QualifiedName(), scope.String(), decl.Pos, format, args...)
	}

	if target == decl {
		return mismatch("binds to itself")
	}

	declParams := decl.Params
	targetParams := explicitParams(target)

	if resolution.Form == FormSameType {
		declParams = explicitParams(decl)
	} else {
		takesReceiver := len(targetParams) > 0 && r.receives(targetParams[0], scope.Type)

		switch {
		case decl.HasReceiver() && !takesReceiver:
			return mismatch("first parameter of %s does not take the %s receiver", target.QualifiedName(), scope.Type)
		case !decl.HasReceiver() && takesReceiver:
			return mismatch("%s takes a receiver but %s has none", target.QualifiedName(), decl.Name)
		}
	}

	if len(declParams) != len(targetParams) {
		return mismatch("%s passes %d parameters, %s takes %d",
			decl.Name, len(declParams), target.QualifiedName(), len(targetParams))
	}

	if lastVariadic(declParams) != lastVariadic(targetParams) {
		return mismatch("variadic parameters of %s and %s differ", decl.Name, target.QualifiedName())
	}

	if resolution.Form == FormOtherType && len(target.TypeParams) > 0 {
		return mismatch("generic type %s cannot be instantiated for the call", target.EnclosingType)
	}

	return nil
}

// receives reports whether a substitute's parameter takes the mock point's receiver,
// classifying it against the mock point's type.
func (r *Registry) receives(param parse.Parameter, typeName string) bool {
	return r.receiverPredicate()(0, param.Name, param.Type, typeName)
}

func (r *Registry) receiverPredicate() parse.ReceiverPredicate {
	if r.IsReceiver != nil {
		return r.IsReceiver
	}

	return parse.DefaultReceiver
}

// explicitParams drops a Go method receiver, the part a method call passes before the dot.
func explicitParams(decl *parse.Declaration) []parse.Parameter {
	if decl.HasGoReceiver() {
		return decl.Params[1:]
	}

	return decl.Params
}

func fileName(decl *parse.Declaration) string {
	if decl.File == nil {
		return decl.Package
	}

	return decl.File.Path
}

// formFor picks the call form for a target.
func formFor(decl, target *parse.Declaration) Form {
	switch {
	case target.IsMethod && decl.IsMethod && target.Package == decl.Package &&
		target.EnclosingType == decl.EnclosingType:
		return FormSameType
	case target.IsMethod:
		return FormOtherType
	default:
		return FormFunction
	}
}

func lastVariadic(params []parse.Parameter) bool {
	return len(params) > 0 && params[len(params)-1].Variadic
}

func unresolved(decl *parse.Declaration, scope Scope, format string, args ...any) error {
	return diag.New(diag.ErrUnresolvedTarget, decl.QualifiedName(), scope.String(), decl.Pos, format, args...)
}
