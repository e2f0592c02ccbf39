// Package astutil provides shared helpers for reading and rendering dst trees.
package astutil

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dave/dst"
)

// BaseTypeName returns the defined type name behind a receiver or parameter type,
// stripping pointers, parentheses and type arguments: *List[T] -> List.
// Types from other packages have no local base name: *store.Item -> "".
func BaseTypeName(expr dst.Expr) string {
	switch typed := expr.(type) {
	case *dst.Ident:
		return typed.Name
	case *dst.StarExpr:
		return BaseTypeName(typed.X)
	case *dst.ParenExpr:
		return BaseTypeName(typed.X)
	case *dst.IndexExpr:
		return BaseTypeName(typed.X)
	case *dst.IndexListExpr:
		return BaseTypeName(typed.X)
	default:
		return ""
	}
}

// IsBlank reports whether name cannot be referenced from a function body.
func IsBlank(name string) bool {
	return name == "" || name == "_"
}

// IsExported reports whether name starts with an upper-case letter.
func IsExported(name string) bool {
	r, _ := utf8.DecodeRuneInString(name)
	return unicode.IsUpper(r)
}

// IsPointer reports whether expr is a pointer type, looking through parentheses.
func IsPointer(expr dst.Expr) bool {
	switch typed := expr.(type) {
	case *dst.StarExpr:
		return true
	case *dst.ParenExpr:
		return IsPointer(typed.X)
	default:
		return false
	}
}

// ReceiverTypeParams returns the type parameter names of a generic receiver: *List[K, V] -> [K V].
func ReceiverTypeParams(expr dst.Expr) []string {
	switch typed := expr.(type) {
	case *dst.StarExpr:
		return ReceiverTypeParams(typed.X)
	case *dst.ParenExpr:
		return ReceiverTypeParams(typed.X)
	case *dst.IndexExpr:
		return []string{StringifyExpr(typed.Index)}
	case *dst.IndexListExpr:
		names := make([]string, 0, len(typed.Indices))
		for _, idx := range typed.Indices {
			names = append(names, StringifyExpr(idx))
		}

		return names
	default:
		return nil
	}
}

// StringifyExpr renders a dst expression as Go source.
//
//nolint:cyclop,funlen // Type-switch dispatcher over the expression kinds a signature can contain
func StringifyExpr(expr dst.Expr) string {
	if expr == nil {
		return ""
	}

	switch typedExpr := expr.(type) {
	case *dst.Ident:
		return typedExpr.Name
	case *dst.BasicLit:
		return typedExpr.Value
	case *dst.SelectorExpr:
		return StringifyExpr(typedExpr.X) + "." + typedExpr.Sel.Name
	case *dst.StarExpr:
		return "*" + StringifyExpr(typedExpr.X)
	case *dst.ArrayType:
		if typedExpr.Len != nil {
			return "[" + StringifyExpr(typedExpr.Len) + "]" + StringifyExpr(typedExpr.Elt)
		}

		return "[]" + StringifyExpr(typedExpr.Elt)
	case *dst.MapType:
		return "map[" + StringifyExpr(typedExpr.Key) + "]" + StringifyExpr(typedExpr.Value)
	case *dst.ChanType:
		switch typedExpr.Dir {
		case dst.SEND:
			return "chan<- " + StringifyExpr(typedExpr.Value)
		case dst.RECV:
			return "<-chan " + StringifyExpr(typedExpr.Value)
		default:
			return "chan " + StringifyExpr(typedExpr.Value)
		}
	case *dst.InterfaceType:
		if typedExpr.Methods == nil || len(typedExpr.Methods.List) == 0 {
			return "interface{}"
		}

		return "interface{ ... }"
	case *dst.StructType:
		if typedExpr.Fields == nil || len(typedExpr.Fields.List) == 0 {
			return "struct{}"
		}

		return "struct{ ... }"
	case *dst.FuncType:
		return "func" + StringifySignature(typedExpr)
	case *dst.Ellipsis:
		return "..." + StringifyExpr(typedExpr.Elt)
	case *dst.IndexExpr:
		return StringifyExpr(typedExpr.X) + "[" + StringifyExpr(typedExpr.Index) + "]"
	case *dst.IndexListExpr:
		indices := make([]string, len(typedExpr.Indices))
		for i, idx := range typedExpr.Indices {
			indices[i] = StringifyExpr(idx)
		}

		return StringifyExpr(typedExpr.X) + "[" + strings.Join(indices, ", ") + "]"
	case *dst.ParenExpr:
		return "(" + StringifyExpr(typedExpr.X) + ")"
	case *dst.UnaryExpr:
		return typedExpr.Op.String() + StringifyExpr(typedExpr.X)
	case *dst.BinaryExpr:
		return StringifyExpr(typedExpr.X) + " " + typedExpr.Op.String() + " " + StringifyExpr(typedExpr.Y)
	default:
		return fmt.Sprintf("%T", expr)
	}
}

// StringifySignature renders the parameter and result lists of a function type: "(a int, b string) error".
func StringifySignature(funcType *dst.FuncType) string {
	var buf strings.Builder

	buf.WriteString("(")
	buf.WriteString(stringifyFields(funcType.Params))
	buf.WriteString(")")

	if funcType.Results == nil || len(funcType.Results.List) == 0 {
		return buf.String()
	}

	results := stringifyFields(funcType.Results)

	buf.WriteString(" ")

	if len(funcType.Results.List) == 1 && len(funcType.Results.List[0].Names) == 0 {
		buf.WriteString(results)
	} else {
		buf.WriteString("(" + results + ")")
	}

	return buf.String()
}

func stringifyFields(fields *dst.FieldList) string {
	if fields == nil {
		return ""
	}

	parts := make([]string, 0, len(fields.List))

	for _, field := range fields.List {
		typeStr := StringifyExpr(field.Type)
		if len(field.Names) == 0 {
			parts = append(parts, typeStr)
			continue
		}

		names := make([]string, len(field.Names))
		for i, name := range field.Names {
			names[i] = name.Name
		}

		parts = append(parts, strings.Join(names, ", ")+" "+typeStr)
	}

	return strings.Join(parts, ", ")
}
