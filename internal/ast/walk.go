package ast

// RewriteExpr rebuilds e bottom-up, replacing every node with fn(node).
// Children are visited left to right.
func RewriteExpr(e Expr, fn func(Expr) Expr) Expr {
	if e == nil {
		return nil
	}
	switch x := e.(type) {
	case *AttrExpr:
		x.Object = RewriteExpr(x.Object, fn)
	case *CallExpr:
		x.Func = RewriteExpr(x.Func, fn)
		for i := range x.Args {
			x.Args[i] = RewriteExpr(x.Args[i], fn)
		}
		for i := range x.Keywords {
			x.Keywords[i].Value = RewriteExpr(x.Keywords[i].Value, fn)
		}
		x.Star = RewriteExpr(x.Star, fn)
		x.StarStar = RewriteExpr(x.StarStar, fn)
	case *TupleExpr:
		for i := range x.Elems {
			x.Elems[i] = RewriteExpr(x.Elems[i], fn)
		}
	}
	return fn(e)
}

// StmtExprs returns pointers to the top-level expression slots of s.
func StmtExprs(s Stmt) []*Expr {
	switch x := s.(type) {
	case *AssignStmt:
		return []*Expr{&x.Value}
	case *ExprStmt:
		return []*Expr{&x.Expr}
	}
	return nil
}
