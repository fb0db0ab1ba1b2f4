package ast

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// Module is one unit of compilation. Its identity is Name, the canonical
// qualified name.
type Module struct {
	Name string
	Path string
	Body []Stmt

	vars    []*Variable
	varIdx  map[string]*Variable
	imports []string
	impIdx  map[string]bool
	digest  string
}

// NewModule declares a variable for every name bound by body. src is the
// text the module was read from; it decides whether two modules with the
// same name are the same module. A nil src makes the module distinct from
// every other module of that name.
func NewModule(name, path string, body []Stmt, src []byte) *Module {
	m := &Module{
		Name:   name,
		Path:   path,
		Body:   body,
		varIdx: map[string]*Variable{},
		impIdx: map[string]bool{},
	}
	if src != nil {
		m.digest = fmt.Sprintf("%x", sha256.Sum256(src))
	}
	for _, stmt := range body {
		switch s := stmt.(type) {
		case *AssignStmt:
			m.declare(s.Target)
		case *ImportStmt:
			for _, n := range s.Names {
				m.declare(n)
			}
		}
	}
	return m
}

func (m *Module) declare(name string) {
	if _, ok := m.varIdx[name]; ok {
		return
	}
	v := &Variable{name: name, owner: m}
	m.vars = append(m.vars, v)
	m.varIdx[name] = v
}

// Variables returns the module variables in declaration order.
func (m *Module) Variables() []*Variable {
	return m.vars
}

func (m *Module) Variable(name string) (*Variable, bool) {
	v, ok := m.varIdx[name]
	return v, ok
}

// AddImport records an imported module name and reports whether it was new.
func (m *Module) AddImport(name string) bool {
	if m.impIdx[name] {
		return false
	}
	m.impIdx[name] = true
	m.imports = append(m.imports, name)
	return true
}

// Imports returns the imported module names in discovery order.
func (m *Module) Imports() []string {
	return m.imports
}

func (m *Module) SourceRef() SourceRef {
	return SourceRef{Path: m.Path}
}

// SameSource reports whether o was read from identical text.
func (m *Module) SameSource(o *Module) bool {
	if m == o {
		return true
	}
	return m.digest != "" && m.digest == o.digest
}

// Variable is a module-level variable. Its read-only indicator only ever
// moves from false to true.
type Variable struct {
	name     string
	owner    *Module
	readOnly bool
}

func (v *Variable) Name() string   { return v.name }
func (v *Variable) Owner() *Module { return v.owner }
func (v *Variable) ReadOnly() bool { return v.readOnly }
func (v *Variable) String() string { return v.owner.Name + "." + v.name }

// MarkReadOnly sets the indicator and reports whether it changed.
func (v *Variable) MarkReadOnly() bool {
	if v.readOnly {
		return false
	}
	v.readOnly = true
	return true
}

type VariableSet map[*Variable]struct{}

func (s VariableSet) Add(v *Variable) { s[v] = struct{}{} }

func (s VariableSet) Has(v *Variable) bool {
	_, ok := s[v]
	return ok
}

// CanonicalName normalizes a dotted module name.
func CanonicalName(name string) (string, error) {
	parts := strings.Split(strings.TrimSpace(name), ".")
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			return "", fmt.Errorf("invalid module name %q", name)
		}
		parts[i] = p
	}
	return strings.Join(parts, "."), nil
}
