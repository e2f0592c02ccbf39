// Package diag defines the error kinds reported by covergen and the structured
// diagnostic that carries enough context to locate the offending source.
package diag

import (
	"errors"
	"fmt"
	"go/token"
	"strings"

	"go.uber.org/multierr"
)

// Error kinds. Every failure covergen reports unwraps to exactly one of these.
var (
	ErrMalformedSignature   = errors.New("malformed signature")
	ErrMissingScopeHint     = errors.New("missing scope hint")
	ErrUnresolvedTarget     = errors.New("unresolved target")
	ErrNameCollision        = errors.New("name collision")
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrSignatureMismatch    = errors.New("signature mismatch")
)

// Diagnostic is a single fatal finding about one declaration.
type Diagnostic struct {
	// Kind is one of the Err* sentinels.
	Kind error
	// Decl is the declaration name as written, including a type qualifier for methods.
	Decl string
	// Scope describes where the declaration lives (e.g. "free", "impl Store").
	Scope string
	// Pos locates the declaration. Zero when unknown.
	Pos token.Position
	// Detail is a human-readable explanation.
	Detail string
}

// Error renders the diagnostic as "file:line: kind: decl (scope): detail".
func (d *Diagnostic) Error() string {
	var buf strings.Builder

	if d.Pos.IsValid() {
		buf.WriteString(d.Pos.String())
		buf.WriteString(": ")
	}

	buf.WriteString(d.Kind.Error())

	if d.Decl != "" {
		buf.WriteString(": ")
		buf.WriteString(d.Decl)

		if d.Scope != "" {
			buf.WriteString(" (")
			buf.WriteString(d.Scope)
			buf.WriteString(")")
		}
	}

	if d.Detail != "" {
		buf.WriteString(": ")
		buf.WriteString(d.Detail)
	}

	return buf.String()
}

// Unwrap exposes the kind so errors.Is works against the sentinels.
func (d *Diagnostic) Unwrap() error {
	return d.Kind
}

// New builds a diagnostic with a formatted detail message.
func New(kind error, decl, scope string, pos token.Position, format string, args ...any) *Diagnostic {
	return &Diagnostic{
		Kind:   kind,
		Decl:   decl,
		Scope:  scope,
		Pos:    pos,
		Detail: fmt.Sprintf(format, args...),
	}
}

// Append combines errors, skipping nils.
func Append(errs error, err error) error {
	return multierr.Append(errs, err)
}

// List flattens a combined error into its parts.
func List(err error) []error {
	return multierr.Errors(err)
}
