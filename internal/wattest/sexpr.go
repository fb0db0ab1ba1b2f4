// Package wattest executes the folded WebAssembly text emitted for call
// sites, so tests can observe evaluation order and reference counts without
// a wasm engine.
package wattest

import (
	"fmt"
	"strings"
)

// Node is an atom or a parenthesized list.
type Node struct {
	Atom string
	List []*Node
	list bool
}

func (n *Node) IsList() bool { return n.list }

// Head is the first atom of a list, or "".
func (n *Node) Head() string {
	if !n.list || len(n.List) == 0 || n.List[0].list {
		return ""
	}
	return n.List[0].Atom
}

func (n *Node) String() string {
	if !n.list {
		return n.Atom
	}
	parts := make([]string, len(n.List))
	for i, c := range n.List {
		parts[i] = c.String()
	}
	return "(" + strings.Join(parts, " ") + ")"
}

// Parse reads every top-level form in src.
func Parse(src string) ([]*Node, error) {
	p := &sparser{src: src}
	var out []*Node
	for {
		p.skip()
		if p.pos >= len(p.src) {
			return out, nil
		}
		n, err := p.node()
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
}

type sparser struct {
	src string
	pos int
}

func (p *sparser) skip() {
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			p.pos++
		case strings.HasPrefix(p.src[p.pos:], ";;"):
			for p.pos < len(p.src) && p.src[p.pos] != '\n' {
				p.pos++
			}
		default:
			return
		}
	}
}

func (p *sparser) node() (*Node, error) {
	p.skip()
	if p.pos >= len(p.src) {
		return nil, fmt.Errorf("offset %d: unexpected end of input", p.pos)
	}
	switch p.src[p.pos] {
	case '(':
		p.pos++
		n := &Node{list: true}
		for {
			p.skip()
			if p.pos >= len(p.src) {
				return nil, fmt.Errorf("offset %d: unclosed list", p.pos)
			}
			if p.src[p.pos] == ')' {
				p.pos++
				return n, nil
			}
			child, err := p.node()
			if err != nil {
				return nil, err
			}
			n.List = append(n.List, child)
		}
	case ')':
		return nil, fmt.Errorf("offset %d: unexpected ')'", p.pos)
	case '"':
		start := p.pos
		p.pos++
		for p.pos < len(p.src) && p.src[p.pos] != '"' {
			if p.src[p.pos] == '\\' {
				p.pos++
			}
			p.pos++
		}
		if p.pos >= len(p.src) {
			return nil, fmt.Errorf("offset %d: unterminated string", start)
		}
		p.pos++
		return &Node{Atom: p.src[start:p.pos]}, nil
	}
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '(' || c == ')' {
			break
		}
		p.pos++
	}
	return &Node{Atom: p.src[start:p.pos]}, nil
}
