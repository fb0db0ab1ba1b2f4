// Package analysis implements the per-module rewrite pass run by the
// optimizer.
package analysis

import (
	"fmt"

	"github.com/pkg/errors"

	"gyokuro/internal/ast"
	"gyokuro/internal/optimize"
)

// Importer resolves a canonical module name to its module, loading it on
// first use.
type Importer interface {
	Import(name string, ref ast.SourceRef) (*ast.Module, error)
}

// Collection discovers imports, collects written variables, folds read-only
// constants and drops constant expression statements.
type Collection struct {
	importer Importer
}

var _ optimize.Analysis = (*Collection)(nil)

func New(importer Importer) *Collection {
	return &Collection{importer: importer}
}

type binding struct {
	count int
	index int
	value *ast.ConstExpr
}

func (c *Collection) Process(mod *ast.Module, signal optimize.SignalFunc) (ast.VariableSet, error) {
	bindings := map[string]*binding{}
	bind := func(name string, index int, value *ast.ConstExpr) {
		b, ok := bindings[name]
		if !ok {
			b = &binding{index: index, value: value}
			bindings[name] = b
		}
		b.count++
	}

	for i, stmt := range mod.Body {
		switch s := stmt.(type) {
		case *ast.ImportStmt:
			if err := c.discover(mod, s, signal); err != nil {
				return nil, err
			}
			for _, n := range s.Names {
				bind(n, i, nil)
			}
		case *ast.AssignStmt:
			k, _ := s.Value.(*ast.ConstExpr)
			bind(s.Target, i, k)
		}
	}

	written := ast.VariableSet{}
	for _, v := range mod.Variables() {
		if b := bindings[v.Name()]; b != nil && b.count > 1 {
			written.Add(v)
		}
	}

	foldConstants(mod, bindings, signal)
	dropConstantStatements(mod, signal)
	return written, nil
}

func (c *Collection) discover(mod *ast.Module, s *ast.ImportStmt, signal optimize.SignalFunc) error {
	ref := stmtRef(mod, s)
	name, err := ast.CanonicalName(s.Module)
	if err != nil {
		return errors.Wrap(err, ref.String())
	}
	imported, err := c.importer.Import(name, ref)
	if err != nil {
		return err
	}
	for _, n := range s.Names {
		if _, ok := imported.Variable(n); !ok {
			return errors.Errorf("%s: cannot import name '%s' from '%s'", ref, n, name)
		}
	}
	if mod.AddImport(name) {
		signal("new_import", ref, fmt.Sprintf("Discovered import of module '%s'.", name))
	}
	return nil
}

func foldConstants(mod *ast.Module, bindings map[string]*binding, signal optimize.SignalFunc) {
	for i, stmt := range mod.Body {
		for _, slot := range ast.StmtExprs(stmt) {
			*slot = ast.RewriteExpr(*slot, func(e ast.Expr) ast.Expr {
				n, ok := e.(*ast.NameExpr)
				if !ok {
					return e
				}
				v, ok := mod.Variable(n.Name)
				if !ok || !v.ReadOnly() {
					return e
				}
				b := bindings[n.Name]
				if b == nil || b.count != 1 || b.value == nil || b.index >= i {
					return e
				}
				signal("new_constant", ast.SourceRef{Path: mod.Path, Pos: n.Span.Start},
					fmt.Sprintf("Replaced read-only module variable '%s' with its constant value.", n.Name))
				return &ast.ConstExpr{Value: b.value.Value, Span: n.Span}
			})
		}
	}
}

func dropConstantStatements(mod *ast.Module, signal optimize.SignalFunc) {
	kept := mod.Body[:0]
	for _, stmt := range mod.Body {
		if s, ok := stmt.(*ast.ExprStmt); ok {
			if _, isConst := s.Expr.(*ast.ConstExpr); isConst {
				signal("new_statements", stmtRef(mod, s), "Removed useless constant statement.")
				continue
			}
		}
		kept = append(kept, stmt)
	}
	for i := len(kept); i < len(mod.Body); i++ {
		mod.Body[i] = nil
	}
	mod.Body = kept
}

func stmtRef(mod *ast.Module, s ast.Stmt) ast.SourceRef {
	return ast.SourceRef{Path: mod.Path, Pos: s.GetSpan().Start}
}
