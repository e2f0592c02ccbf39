package parse

import (
	"fmt"
	"go/token"
	"regexp"
	"strings"
	"unicode"

	"github.com/dave/dst"
	"github.com/google/shlex"
)

// Directive names as they appear after "//".
const (
	MockedDirective = "covers:mocked"
	MockDirective   = "covers:mock"

	scopeOption = "scope"
	nameOption  = "name"
	scopeImpl   = "impl"
)

// Marker says how a declaration is annotated.
type Marker int

// Marker values.
const (
	MarkerNone Marker = iota
	MarkerMockPoint
	MarkerCandidate
)

// String returns the marker's directive-facing name.
func (m Marker) String() string {
	switch m {
	case MarkerMockPoint:
		return "mocked"
	case MarkerCandidate:
		return "mock"
	default:
		return "none"
	}
}

// MockBinding is what a //covers:mocked directive asks for.
type MockBinding struct {
	// Target is the substitute path as written; empty for an unbound mock point.
	Target string
	// ScopeHint is set by scope=impl.
	ScopeHint bool
	// PublicName is set by name=<ident>, written back after the original has been renamed.
	PublicName string
}

// Format renders the binding back into directive text.
func (b MockBinding) Format() string {
	parts := []string{"//" + MockedDirective}

	if b.Target != "" {
		parts = append(parts, b.Target)
	}

	if b.ScopeHint {
		parts = append(parts, scopeOption+"="+scopeImpl)
	}

	if b.PublicName != "" {
		parts = append(parts, nameOption+"="+b.PublicName)
	}

	return strings.Join(parts, " ")
}

// directive is a parsed marker line and where it sits in the decoration list.
type directive struct {
	marker  Marker
	binding *MockBinding
	index   int
}

// findDirective locates at most one covers directive among a declaration's leading comments.
func findDirective(decs dst.Decorations) (*directive, error) {
	var found *directive

	for i, line := range decs {
		marker, args, ok := splitDirective(line)
		if !ok {
			continue
		}

		if found != nil {
			return nil, fmt.Errorf("more than one covers directive (%q)", line)
		}

		found = &directive{marker: marker, index: i}

		switch marker {
		case MarkerCandidate:
			if strings.TrimSpace(args) != "" {
				return nil, fmt.Errorf("//%s takes no arguments, got %q", MockDirective, args)
			}
		case MarkerMockPoint:
			binding, err := parseBindingArgs(args)
			if err != nil {
				return nil, err
			}

			found.binding = binding
		case MarkerNone:
		}
	}

	return found, nil
}

// hasDirective reports whether any line is a covers directive.
func hasDirective(decs dst.Decorations) bool {
	for _, line := range decs {
		if _, _, ok := splitDirective(line); ok {
			return true
		}
	}

	return false
}

// parseBindingArgs parses "target [scope=impl] [name=Ident]". Keys are case-insensitive,
// "key = value" spacing and comma separators are accepted.
func parseBindingArgs(args string) (*MockBinding, error) {
	normalized := optionSpacing.ReplaceAllString(strings.ReplaceAll(args, ",", " "), "=")

	tokens, err := shlex.Split(normalized)
	if err != nil {
		return nil, fmt.Errorf("cannot tokenize directive arguments %q: %w", args, err)
	}

	binding := &MockBinding{}

	for _, tok := range tokens {
		key, value, isOption := strings.Cut(tok, "=")
		if !isOption {
			if binding.Target != "" {
				return nil, fmt.Errorf("more than one target (%q and %q)", binding.Target, tok)
			}

			if !targetPattern.MatchString(tok) {
				return nil, fmt.Errorf("target %q is not an identifier path", tok)
			}

			binding.Target = tok

			continue
		}

		switch strings.ToLower(key) {
		case scopeOption:
			if !strings.EqualFold(value, scopeImpl) {
				return nil, fmt.Errorf("unknown scope %q, only %q is supported", value, scopeImpl)
			}

			binding.ScopeHint = true
		case nameOption:
			if !token.IsIdentifier(value) {
				return nil, fmt.Errorf("name %q is not an identifier", value)
			}

			binding.PublicName = value
		default:
			return nil, fmt.Errorf("unknown option %q", key)
		}
	}

	return binding, nil
}

// splitDirective recognizes "//covers:mocked ..." and "//covers:mock" lines.
func splitDirective(line string) (Marker, string, bool) {
	body, ok := strings.CutPrefix(line, "//")
	if !ok {
		return MarkerNone, "", false
	}

	name, args := body, ""
	if i := strings.IndexFunc(body, unicode.IsSpace); i >= 0 {
		name, args = body[:i], body[i+1:]
	}

	switch name {
	case MockedDirective:
		return MarkerMockPoint, args, true
	case MockDirective:
		return MarkerCandidate, args, true
	default:
		return MarkerNone, "", false
	}
}

// unexported variables.
var (
	optionSpacing = regexp.MustCompile(`\s*=\s*`)
	targetPattern = regexp.MustCompile(`^[\pL_][\pL\pN_]*(\.[\pL_][\pL\pN_]*)*$`)
)
