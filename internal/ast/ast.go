package ast

import "fmt"

type Position struct {
	Line int
	Col  int
}

type Span struct {
	Start Position
	End   Position
}

// SourceRef locates a node for diagnostics.
type SourceRef struct {
	Path string
	Pos  Position
}

func (r SourceRef) String() string {
	if r.Pos.Line == 0 {
		return r.Path
	}
	if r.Pos.Col == 0 {
		return fmt.Sprintf("%s:%d", r.Path, r.Pos.Line)
	}
	return fmt.Sprintf("%s:%d:%d", r.Path, r.Pos.Line, r.Pos.Col)
}

type Stmt interface {
	stmtNode()
	GetSpan() Span
}

type Expr interface {
	exprNode()
	GetSpan() Span
}

// AssignStmt binds a module variable.
type AssignStmt struct {
	Target string
	Value  Expr
	Span   Span
}

func (*AssignStmt) stmtNode()       {}
func (s *AssignStmt) GetSpan() Span { return s.Span }

type ExprStmt struct {
	Expr Expr
	Span Span
}

func (*ExprStmt) stmtNode()       {}
func (s *ExprStmt) GetSpan() Span { return s.Span }

// ImportStmt runs the initialization of Module. Names, when present, are
// bound in the importing module from the imported module's variables.
type ImportStmt struct {
	Module string
	Names  []string
	Span   Span
}

func (*ImportStmt) stmtNode()       {}
func (s *ImportStmt) GetSpan() Span { return s.Span }

// Constant is either a string or an int64.
type Constant interface{}

type ConstExpr struct {
	Value Constant
	Span  Span
}

func (*ConstExpr) exprNode()       {}
func (e *ConstExpr) GetSpan() Span { return e.Span }

// NameExpr refers to a module variable, or to a builtin when the module has
// no variable of that name.
type NameExpr struct {
	Name string
	Span Span
}

func (*NameExpr) exprNode()       {}
func (e *NameExpr) GetSpan() Span { return e.Span }

type AttrExpr struct {
	Object Expr
	Name   string
	Span   Span
}

func (*AttrExpr) exprNode()       {}
func (e *AttrExpr) GetSpan() Span { return e.Span }

type Keyword struct {
	Name  string
	Value Expr
}

// CallExpr is a call as written in the source. Star and StarStar hold the
// *args and **kwargs expressions when present.
type CallExpr struct {
	Func     Expr
	Args     []Expr
	Keywords []Keyword
	Star     Expr
	StarStar Expr
	Span     Span
}

func (*CallExpr) exprNode()       {}
func (e *CallExpr) GetSpan() Span { return e.Span }

type TupleExpr struct {
	Elems []Expr
	Span  Span
}

func (*TupleExpr) exprNode()       {}
func (e *TupleExpr) GetSpan() Span { return e.Span }
