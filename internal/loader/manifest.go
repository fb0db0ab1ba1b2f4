package loader

import (
	"bytes"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"

	"gyokuro/internal/ast"
)

type manifest struct {
	Module string     `json:"module"`
	Body   []stmtNode `json:"body"`
}

type stmtNode struct {
	Assign *string   `json:"assign"`
	Value  *exprNode `json:"value"`
	Expr   *exprNode `json:"expr"`
	Import *string   `json:"import"`
	Names  []string  `json:"names"`
	Line   int       `json:"line"`
	Col    int       `json:"col"`
}

type exprNode struct {
	Const json.RawMessage `json:"const"`
	Name  *string         `json:"name"`
	Attr  *attrNode       `json:"attr"`
	Call  *callNode       `json:"call"`
	Tuple *[]exprNode     `json:"tuple"`
	Line  int             `json:"line"`
	Col   int             `json:"col"`
}

type attrNode struct {
	Object exprNode `json:"object"`
	Name   string   `json:"name"`
}

type callNode struct {
	Func     exprNode      `json:"func"`
	Args     []exprNode    `json:"args"`
	Kwargs   []keywordNode `json:"kwargs"`
	Star     *exprNode     `json:"star"`
	StarStar *exprNode     `json:"starstar"`
}

type keywordNode struct {
	Key   string   `json:"key"`
	Value exprNode `json:"value"`
}

// Parse decodes a module manifest. name is used when the manifest does not
// declare one; a declared name must match it.
func Parse(name, path string, data []byte) (*ast.Module, error) {
	var m manifest
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	if m.Module != "" {
		declared, err := ast.CanonicalName(m.Module)
		if err != nil {
			return nil, errors.Wrapf(err, "%s", path)
		}
		if name != "" && declared != name {
			return nil, errors.Errorf("%s: manifest declares module '%s', expected '%s'", path, declared, name)
		}
		name = declared
	}
	if name == "" {
		name = "main"
	}

	p := &parser{path: path}
	body := make([]ast.Stmt, 0, len(m.Body))
	for i := range m.Body {
		stmt, err := p.stmt(&m.Body[i])
		if err != nil {
			return nil, err
		}
		body = append(body, stmt)
	}
	return ast.NewModule(name, path, body, data), nil
}

type parser struct {
	path string
}

func (p *parser) errorf(line, col int, format string, args ...interface{}) error {
	ref := ast.SourceRef{Path: p.path, Pos: ast.Position{Line: line, Col: col}}
	return errors.Errorf("%s: "+format, append([]interface{}{ref}, args...)...)
}

func span(line, col int) ast.Span {
	pos := ast.Position{Line: line, Col: col}
	return ast.Span{Start: pos, End: pos}
}

func (p *parser) stmt(n *stmtNode) (ast.Stmt, error) {
	sp := span(n.Line, n.Col)
	switch {
	case n.Assign != nil:
		if *n.Assign == "" {
			return nil, p.errorf(n.Line, n.Col, "empty assignment target")
		}
		if n.Value == nil {
			return nil, p.errorf(n.Line, n.Col, "assignment to '%s' has no value", *n.Assign)
		}
		v, err := p.expr(n.Value, n.Line)
		if err != nil {
			return nil, err
		}
		return &ast.AssignStmt{Target: *n.Assign, Value: v, Span: sp}, nil
	case n.Import != nil:
		for _, name := range n.Names {
			if name == "" {
				return nil, p.errorf(n.Line, n.Col, "empty imported name")
			}
		}
		return &ast.ImportStmt{Module: *n.Import, Names: n.Names, Span: sp}, nil
	case n.Expr != nil:
		e, err := p.expr(n.Expr, n.Line)
		if err != nil {
			return nil, err
		}
		return &ast.ExprStmt{Expr: e, Span: sp}, nil
	}
	return nil, p.errorf(n.Line, n.Col, "statement needs one of assign, import or expr")
}

// expr converts n. Nodes without a line inherit the line of their statement.
func (p *parser) expr(n *exprNode, line int) (ast.Expr, error) {
	if n.Line == 0 {
		n.Line = line
	}
	sp := span(n.Line, n.Col)
	switch {
	case len(n.Const) > 0:
		k, err := constant(n.Const)
		if err != nil {
			return nil, p.errorf(n.Line, n.Col, "%v", err)
		}
		return &ast.ConstExpr{Value: k, Span: sp}, nil
	case n.Name != nil:
		if *n.Name == "" {
			return nil, p.errorf(n.Line, n.Col, "empty name")
		}
		return &ast.NameExpr{Name: *n.Name, Span: sp}, nil
	case n.Attr != nil:
		obj, err := p.expr(&n.Attr.Object, n.Line)
		if err != nil {
			return nil, err
		}
		return &ast.AttrExpr{Object: obj, Name: n.Attr.Name, Span: sp}, nil
	case n.Call != nil:
		return p.call(n.Call, sp)
	case n.Tuple != nil:
		elems := make([]ast.Expr, 0, len(*n.Tuple))
		for i := range *n.Tuple {
			e, err := p.expr(&(*n.Tuple)[i], n.Line)
			if err != nil {
				return nil, err
			}
			elems = append(elems, e)
		}
		return &ast.TupleExpr{Elems: elems, Span: sp}, nil
	}
	return nil, p.errorf(n.Line, n.Col, "expression needs one of const, name, attr, call or tuple")
}

func (p *parser) call(c *callNode, sp ast.Span) (ast.Expr, error) {
	line := sp.Start.Line
	fn, err := p.expr(&c.Func, line)
	if err != nil {
		return nil, err
	}
	out := &ast.CallExpr{Func: fn, Span: sp}
	for i := range c.Args {
		a, err := p.expr(&c.Args[i], line)
		if err != nil {
			return nil, err
		}
		out.Args = append(out.Args, a)
	}
	seen := map[string]bool{}
	for i := range c.Kwargs {
		kw := &c.Kwargs[i]
		if kw.Key == "" {
			return nil, p.errorf(line, sp.Start.Col, "keyword argument without a key")
		}
		if seen[kw.Key] {
			return nil, p.errorf(line, sp.Start.Col, "keyword argument repeated: '%s'", kw.Key)
		}
		seen[kw.Key] = true
		v, err := p.expr(&kw.Value, line)
		if err != nil {
			return nil, err
		}
		out.Keywords = append(out.Keywords, ast.Keyword{Name: kw.Key, Value: v})
	}
	if c.Star != nil {
		if out.Star, err = p.expr(c.Star, line); err != nil {
			return nil, err
		}
	}
	if c.StarStar != nil {
		if out.StarStar, err = p.expr(c.StarStar, line); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func constant(raw json.RawMessage) (ast.Constant, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return nil, errors.Errorf("constant must be a string or an integer, got %s", raw)
	}
	i, err := n.Int64()
	if err != nil {
		return nil, errors.Errorf("constant must be a string or an integer, got %s", raw)
	}
	return i, nil
}
