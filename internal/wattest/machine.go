package wattest

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// HostFunc implements an imported or stubbed function.
type HostFunc func(args []int64) ([]int64, error)

// Machine interprets the folded instruction subset used by generated call
// code: blocks with labels, branches, locals, globals, i32 arithmetic used
// for the argument stack, loads and stores, if, call and drop.
type Machine struct {
	Globals map[string]int64
	Locals  map[string]int64
	Memory  []byte

	host  map[string]HostFunc
	funcs map[string]*watFunc
	steps int
}

// StepLimit bounds the instructions one Exec may run.
const StepLimit = 1 << 20

type watFunc struct {
	params  []string
	locals  []string
	results int
	body    []*Node
}

type frame struct {
	locals map[string]int64
}

// branch is a pending br to label.
type branch struct {
	label string
}

func NewMachine() *Machine {
	return &Machine{
		Globals: map[string]int64{},
		Locals:  map[string]int64{},
		Memory:  make([]byte, 65536),
		host:    map[string]HostFunc{},
		funcs:   map[string]*watFunc{},
	}
}

// Define binds name, with its leading '$', to fn.
func (m *Machine) Define(name string, fn HostFunc) {
	m.host[name] = fn
}

// Load registers the functions and globals of module fields in src.
// Imports, memories, exports and data segments are ignored.
func (m *Machine) Load(src string) error {
	forms, err := Parse(src)
	if err != nil {
		return err
	}
	for _, form := range forms {
		if form.Head() == "module" {
			if err := m.loadFields(form.List[1:]); err != nil {
				return err
			}
			continue
		}
		if err := m.loadFields([]*Node{form}); err != nil {
			return err
		}
	}
	return nil
}

func (m *Machine) loadFields(fields []*Node) error {
	for _, field := range fields {
		switch field.Head() {
		case "func":
			name, fn, err := parseFunc(field)
			if err != nil {
				return err
			}
			m.funcs[name] = fn
		case "global":
			if len(field.List) < 4 {
				return fmt.Errorf("malformed global %s", field)
			}
			vals, _, err := m.eval(field.List[len(field.List)-1], &frame{locals: map[string]int64{}})
			if err != nil {
				return err
			}
			if len(vals) > 0 {
				m.Globals[field.List[1].Atom] = vals[0]
			}
		}
	}
	return nil
}

func parseFunc(n *Node) (string, *watFunc, error) {
	if len(n.List) < 2 || n.List[1].IsList() {
		return "", nil, fmt.Errorf("function without a name: %s", n)
	}
	fn := &watFunc{}
	rest := n.List[2:]
	for len(rest) > 0 {
		switch rest[0].Head() {
		case "param":
			fn.params = append(fn.params, names(rest[0])...)
		case "local":
			fn.locals = append(fn.locals, names(rest[0])...)
		case "result":
			fn.results += len(rest[0].List) - 1
		case "export":
		default:
			fn.body = rest
			return n.List[1].Atom, fn, nil
		}
		rest = rest[1:]
	}
	return n.List[1].Atom, fn, nil
}

func names(decl *Node) []string {
	if len(decl.List) >= 3 && strings.HasPrefix(decl.List[1].Atom, "$") {
		return []string{decl.List[1].Atom}
	}
	return nil
}

// Exec runs the instructions in src with Locals as the local frame and
// returns the values left by the last one.
func (m *Machine) Exec(src string) ([]int64, error) {
	forms, err := Parse(src)
	if err != nil {
		return nil, err
	}
	m.steps = 0
	vals, br, err := m.seq(forms, &frame{locals: m.Locals})
	if err != nil {
		return nil, err
	}
	if br != nil {
		return nil, fmt.Errorf("branch to unknown label %s", br.label)
	}
	return vals, nil
}

// Call invokes a loaded or defined function.
func (m *Machine) Call(name string, args ...int64) ([]int64, error) {
	m.steps = 0
	return m.call(name, args)
}

func (m *Machine) call(name string, args []int64) ([]int64, error) {
	if fn, ok := m.host[name]; ok {
		return fn(args)
	}
	fn, ok := m.funcs[name]
	if !ok {
		return nil, fmt.Errorf("unknown function %s", name)
	}
	if len(args) != len(fn.params) {
		return nil, fmt.Errorf("%s: %d arguments for %d parameters", name, len(args), len(fn.params))
	}
	f := &frame{locals: map[string]int64{}}
	for i, p := range fn.params {
		f.locals[p] = args[i]
	}
	for _, l := range fn.locals {
		f.locals[l] = 0
	}
	vals, br, err := m.seq(fn.body, f)
	if err != nil {
		return nil, err
	}
	if br != nil {
		return nil, fmt.Errorf("%s: branch to unknown label %s", name, br.label)
	}
	if len(vals) < fn.results {
		return nil, fmt.Errorf("%s: %d results, want %d", name, len(vals), fn.results)
	}
	return vals[len(vals)-fn.results:], nil
}

func (m *Machine) seq(nodes []*Node, f *frame) ([]int64, *branch, error) {
	var stack []int64
	for _, n := range nodes {
		vals, br, err := m.eval(n, f)
		if err != nil || br != nil {
			return nil, br, err
		}
		stack = append(stack, vals...)
	}
	return stack, nil, nil
}

// operands evaluates the folded operands of an instruction.
func (m *Machine) operands(nodes []*Node, f *frame) ([]int64, *branch, error) {
	var lists []*Node
	for _, n := range nodes {
		if n.IsList() {
			lists = append(lists, n)
		}
	}
	return m.seq(lists, f)
}

func (m *Machine) eval(n *Node, f *frame) ([]int64, *branch, error) {
	if !n.IsList() {
		return nil, nil, fmt.Errorf("unfolded instruction %q", n.Atom)
	}
	m.steps++
	if m.steps > StepLimit {
		return nil, nil, fmt.Errorf("step limit exceeded")
	}
	op := n.Head()
	args := n.List[1:]

	switch op {
	case "block":
		label := ""
		results := 0
		body := args
		if len(body) > 0 && !body[0].IsList() && strings.HasPrefix(body[0].Atom, "$") {
			label = body[0].Atom
			body = body[1:]
		}
		for len(body) > 0 && body[0].Head() == "result" {
			results += len(body[0].List) - 1
			body = body[1:]
		}
		vals, br, err := m.seq(body, f)
		if err != nil {
			return nil, nil, err
		}
		if br != nil {
			if label != "" && br.label == label {
				return nil, nil, nil
			}
			return nil, br, nil
		}
		if len(vals) < results {
			return nil, nil, fmt.Errorf("block %s left %d values, want %d", label, len(vals), results)
		}
		return vals[len(vals)-results:], nil, nil
	case "br":
		return nil, &branch{label: atom(args, 0)}, nil
	case "br_if":
		vals, br, err := m.operands(args, f)
		if err != nil || br != nil {
			return nil, br, err
		}
		if len(vals) == 0 {
			return nil, nil, fmt.Errorf("br_if without condition")
		}
		if vals[len(vals)-1] != 0 {
			return nil, &branch{label: atom(args, 0)}, nil
		}
		return vals[:len(vals)-1], nil, nil
	case "if":
		return m.evalIf(args, f)
	case "call":
		vals, br, err := m.operands(args, f)
		if err != nil || br != nil {
			return nil, br, err
		}
		out, err := m.call(atom(args, 0), vals)
		return out, nil, err
	case "local.get":
		return []int64{f.locals[atom(args, 0)]}, nil, nil
	case "global.get":
		return []int64{m.Globals[atom(args, 0)]}, nil, nil
	case "i32.const", "i64.const":
		v, err := strconv.ParseInt(atom(args, 0), 0, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %v", op, err)
		}
		return []int64{v}, nil, nil
	case "nop":
		return nil, nil, nil
	}

	vals, br, err := m.operands(args, f)
	if err != nil || br != nil {
		return nil, br, err
	}
	need := func(k int) error {
		if len(vals) < k {
			return fmt.Errorf("%s: %d operands, want %d", op, len(vals), k)
		}
		return nil
	}
	switch op {
	case "local.set", "local.tee", "global.set":
		if err := need(1); err != nil {
			return nil, nil, err
		}
		v := vals[len(vals)-1]
		if op == "global.set" {
			m.Globals[atom(args, 0)] = v
		} else {
			f.locals[atom(args, 0)] = v
		}
		if op == "local.tee" {
			return []int64{v}, nil, nil
		}
		return nil, nil, nil
	case "drop":
		return nil, nil, need(1)
	case "i32.eqz":
		if err := need(1); err != nil {
			return nil, nil, err
		}
		if int32(vals[len(vals)-1]) == 0 {
			return []int64{1}, nil, nil
		}
		return []int64{0}, nil, nil
	case "i32.add", "i32.sub":
		if err := need(2); err != nil {
			return nil, nil, err
		}
		a, b := int32(vals[len(vals)-2]), int32(vals[len(vals)-1])
		if op == "i32.add" {
			return []int64{int64(a + b)}, nil, nil
		}
		return []int64{int64(a - b)}, nil, nil
	case "i32.store":
		if err := need(2); err != nil {
			return nil, nil, err
		}
		addr := int(vals[len(vals)-2]) + offset(args)
		if addr < 0 || addr+4 > len(m.Memory) {
			return nil, nil, fmt.Errorf("store out of bounds at %d", addr)
		}
		binary.LittleEndian.PutUint32(m.Memory[addr:], uint32(int32(vals[len(vals)-1])))
		return nil, nil, nil
	case "i32.load":
		if err := need(1); err != nil {
			return nil, nil, err
		}
		addr := int(vals[len(vals)-1]) + offset(args)
		if addr < 0 || addr+4 > len(m.Memory) {
			return nil, nil, fmt.Errorf("load out of bounds at %d", addr)
		}
		return []int64{int64(int32(binary.LittleEndian.Uint32(m.Memory[addr:])))}, nil, nil
	}
	return nil, nil, fmt.Errorf("unsupported instruction %s", op)
}

func (m *Machine) evalIf(args []*Node, f *frame) ([]int64, *branch, error) {
	var cond []*Node
	var then, els *Node
	for _, a := range args {
		switch a.Head() {
		case "then":
			then = a
		case "else":
			els = a
		case "result":
		default:
			cond = append(cond, a)
		}
	}
	vals, br, err := m.operands(cond, f)
	if err != nil || br != nil {
		return nil, br, err
	}
	if len(vals) == 0 {
		return nil, nil, fmt.Errorf("if without condition")
	}
	arm := els
	if vals[len(vals)-1] != 0 {
		arm = then
	}
	if arm == nil {
		return nil, nil, nil
	}
	return m.seq(arm.List[1:], f)
}

func atom(args []*Node, i int) string {
	if i >= len(args) || args[i].IsList() {
		return ""
	}
	return args[i].Atom
}

func offset(args []*Node) int {
	for _, a := range args {
		if !a.IsList() && strings.HasPrefix(a.Atom, "offset=") {
			n, _ := strconv.Atoi(strings.TrimPrefix(a.Atom, "offset="))
			return n
		}
	}
	return 0
}
