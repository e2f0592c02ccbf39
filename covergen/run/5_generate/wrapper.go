package generate

import (
	"fmt"
	"slices"

	"github.com/dave/dst"

	astutil "github.com/toejough/covers/covergen/run/0_util"
	parse "github.com/toejough/covers/covergen/run/3_parse"
	resolve "github.com/toejough/covers/covergen/run/4_resolve"
)

// wrapper is the signature shared by a mock point's two dispatch functions, with every
// parameter and the receiver named so they can be forwarded.
type wrapper struct {
	decl       *parse.Declaration
	sig        *dst.FuncDecl
	recvName   string
	paramNames []string
}

// newWrapper clones decl's signature under its public name. Blank or unnamed parameters, and
// parameters or named results shadowing an identifier the wrapper body calls, get fresh names.
func newWrapper(decl *parse.Declaration, calls ...string) *wrapper {
	taken := make(map[string]bool)
	reserved := make(map[string]bool, len(calls))

	for _, name := range calls {
		reserved[name] = true
		taken[name] = true
	}

	if decl.Func.Recv != nil {
		collectIdents(decl.Func.Recv, taken)
	}

	collectIdents(decl.Func.Type, taken)

	fresh := func(base string) string {
		name := base
		for n := 2; taken[name]; n++ {
			name = fmt.Sprintf("%s_%d", base, n)
		}

		taken[name] = true

		return name
	}

	usable := func(name string) bool {
		return !astutil.IsBlank(name) && !reserved[name]
	}

	w := &wrapper{
		decl: decl,
		sig: &dst.FuncDecl{
			Name: dst.NewIdent(decl.Name),
			Type: clean(dst.Clone(decl.Func.Type)).(*dst.FuncType),
		},
	}

	if decl.Func.Recv != nil {
		w.sig.Recv = clean(dst.Clone(decl.Func.Recv)).(*dst.FieldList)
		field := w.sig.Recv.List[0]

		if len(field.Names) == 0 || !usable(field.Names[0].Name) {
			field.Names = []*dst.Ident{dst.NewIdent(fresh("recv"))}
		}

		w.recvName = field.Names[0].Name
	}

	if results := w.sig.Type.Results; results != nil {
		position := 0

		for _, field := range results.List {
			for i, ident := range field.Names {
				position++

				if reserved[ident.Name] {
					field.Names[i] = dst.NewIdent(fresh(fmt.Sprintf("res%d", position)))
				}
			}
		}
	}

	if w.sig.Type.Params == nil {
		return w
	}

	position := 0

	for _, field := range w.sig.Type.Params.List {
		if len(field.Names) == 0 {
			position++
			field.Names = []*dst.Ident{dst.NewIdent(fresh(fmt.Sprintf("arg%d", position)))}
			w.paramNames = append(w.paramNames, field.Names[0].Name)

			continue
		}

		for i, ident := range field.Names {
			position++

			if !usable(ident.Name) {
				field.Names[i] = dst.NewIdent(fresh(fmt.Sprintf("arg%d", position)))
			}

			w.paramNames = append(w.paramNames, field.Names[i].Name)
		}
	}

	return w
}

// build returns a dispatch function whose body returns (or just makes) call.
func (w *wrapper) build(call *dst.CallExpr, doc dst.Decorations) *dst.FuncDecl {
	fn, _ := dst.Clone(w.sig).(*dst.FuncDecl)

	var stmt dst.Stmt = &dst.ExprStmt{X: call, Decs: dst.ExprStmtDecorations{
		NodeDecs: dst.NodeDecs{Before: dst.NewLine, After: dst.NewLine},
	}}
	if results := fn.Type.Results; results != nil && len(results.List) > 0 {
		stmt = &dst.ReturnStmt{Results: []dst.Expr{call}, Decs: dst.ReturnStmtDecorations{
			NodeDecs: dst.NodeDecs{Before: dst.NewLine, After: dst.NewLine},
		}}
	}

	fn.Body = &dst.BlockStmt{List: []dst.Stmt{stmt}}
	fn.Decs.Before = dst.EmptyLine
	fn.Decs.Start = append(dst.Decorations(nil), doc...)

	return fn
}

// originalCall calls the renamed original: recv.mangled(args) or mangled[T...](args).
func (w *wrapper) originalCall(mangled string) *dst.CallExpr {
	if w.decl.IsMethod {
		return w.call(&dst.SelectorExpr{X: dst.NewIdent(w.recvName), Sel: dst.NewIdent(mangled)}, w.paramNames)
	}

	return w.call(instantiate(dst.NewIdent(mangled), w.decl.TypeParams), w.paramNames)
}

// substituteCall calls the bound target in the form the resolver chose.
func (w *wrapper) substituteCall(resolution resolve.Resolution) *dst.CallExpr {
	path := resolution.Path

	switch resolution.Form {
	case resolve.FormSameType:
		return w.call(&dst.SelectorExpr{X: dst.NewIdent(w.recvName), Sel: dst.NewIdent(path.Name)}, w.paramNames)
	case resolve.FormOtherType:
		zero := &dst.CallExpr{Fun: dst.NewIdent("new"), Args: []dst.Expr{qualify(path.Qualifier, path.Type)}}

		return w.call(&dst.SelectorExpr{X: zero, Sel: dst.NewIdent(path.Name)}, w.allArgs())
	case resolve.FormFunction:
		var typeArgs []string
		if len(resolution.Target.TypeParams) == len(w.decl.TypeParams) && !slices.Contains(w.decl.TypeParams, "_") {
			typeArgs = w.decl.TypeParams
		}

		return w.call(instantiate(qualify(path.Qualifier, path.Name), typeArgs), w.allArgs())
	default:
		return nil
	}
}

// allArgs is the receiver, when the mock point has one, followed by the parameters.
func (w *wrapper) allArgs() []string {
	if w.decl.HasGoReceiver() {
		return append([]string{w.recvName}, w.paramNames...)
	}

	return w.paramNames
}

func (w *wrapper) call(fun dst.Expr, args []string) *dst.CallExpr {
	call := &dst.CallExpr{Fun: fun, Ellipsis: w.decl.Variadic()}

	for _, arg := range args {
		call.Args = append(call.Args, dst.NewIdent(arg))
	}

	return call
}

// calledIdents are the identifiers a wrapper body refers to, which its parameters must not shadow.
func calledIdents(mangled string, resolution resolve.Resolution) []string {
	idents := []string{mangled}

	switch resolution.Form {
	case resolve.FormOtherType:
		idents = append(idents, "new", first(resolution.Path.Qualifier, resolution.Path.Type))
	case resolve.FormFunction:
		idents = append(idents, first(resolution.Path.Qualifier, resolution.Path.Name))
	case resolve.FormUnbound, resolve.FormSameType:
	}

	return idents
}

// clean drops the decorations of a cloned node and everything below it.
func clean(node dst.Node) dst.Node {
	dst.Inspect(node, func(n dst.Node) bool {
		if n != nil {
			n.Decorations().Start = nil
			n.Decorations().End = nil
			n.Decorations().Before = dst.None
			n.Decorations().After = dst.None
		}

		return true
	})

	return node
}

// collectIdents records every identifier under node.
func collectIdents(node dst.Node, into map[string]bool) {
	dst.Inspect(node, func(n dst.Node) bool {
		if ident, ok := n.(*dst.Ident); ok {
			into[ident.Name] = true
		}

		return true
	})
}

// directiveFreeDoc returns a declaration's leading comments without its covers directive.
func directiveFreeDoc(decl *parse.Declaration) dst.Decorations {
	var doc dst.Decorations

	for i, line := range decl.Func.Decs.Start {
		if i != decl.DirectiveIndex() {
			doc = append(doc, line)
		}
	}

	return doc
}

func first(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}

	return ""
}

// instantiate applies type arguments by name: f[T] or f[K, V].
func instantiate(fun dst.Expr, typeParams []string) dst.Expr {
	switch len(typeParams) {
	case 0:
		return fun
	case 1:
		return &dst.IndexExpr{X: fun, Index: dst.NewIdent(typeParams[0])}
	default:
		indices := make([]dst.Expr, 0, len(typeParams))
		for _, name := range typeParams {
			indices = append(indices, dst.NewIdent(name))
		}

		return &dst.IndexListExpr{X: fun, Indices: indices}
	}
}

// qualify returns name, or qualifier.name when the target lives in another package.
func qualify(qualifier, name string) dst.Expr {
	if qualifier == "" {
		return dst.NewIdent(name)
	}

	return &dst.SelectorExpr{X: dst.NewIdent(qualifier), Sel: dst.NewIdent(name)}
}
