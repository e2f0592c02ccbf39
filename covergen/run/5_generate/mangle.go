// Package generate renames mocked originals and builds their build-tagged dispatch wrappers.
package generate

import (
	"strings"

	diag "github.com/toejough/covers/covergen/run/0_diag"
	parse "github.com/toejough/covers/covergen/run/3_parse"
	resolve "github.com/toejough/covers/covergen/run/4_resolve"
)

// Mangler derives the private name a mocked function's body is moved to.
type Mangler struct {
	Prefix string
}

// Mangle returns prefix + name.
func (m Mangler) Mangle(name string) string {
	return m.Prefix + name
}

// Unmangle strips the prefix, reporting whether name carried it.
func (m Mangler) Unmangle(name string) (string, bool) {
	if m.Prefix == "" {
		return name, false
	}

	return strings.CutPrefix(name, m.Prefix)
}

// CheckCollisions fails for every mock point whose mangled name, or whose public name once the
// original has moved, is held by something else in the same scope. Functions share the package
// scope; methods share their type's methods and fields.
func (m Mangler) CheckCollisions(reg *resolve.Registry, resolutions map[*parse.Declaration]resolve.Resolution) error {
	var errs error

	for _, decl := range reg.MockPoints() {
		resolution, ok := resolutions[decl]
		if !ok {
			continue
		}

		typ := ""
		if decl.IsMethod {
			typ = decl.EnclosingType
		}

		mangled := m.Mangle(decl.Name)

		if held(reg.Occupants(decl.Package, typ, mangled), decl) {
			errs = diag.Append(errs, diag.New(diag.ErrNameCollision, decl.QualifiedName(),
				resolution.Scope.String(), decl.Pos, "%s is already declared in this scope", mangled))
		}

		if held(reg.Occupants(decl.Package, typ, decl.Name), decl) {
			errs = diag.Append(errs, diag.New(diag.ErrNameCollision, decl.QualifiedName(),
				resolution.Scope.String(), decl.Pos, "%s is declared again after the original moved to %s",
				decl.Name, decl.SourceName))
		}
	}

	return errs
}

// held reports whether anything other than decl occupies a name.
func held(occupants []*parse.Declaration, decl *parse.Declaration) bool {
	for _, occupant := range occupants {
		if occupant != decl {
			return true
		}
	}

	return false
}
