package compiler

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"gyokuro/internal/ast"
	"gyokuro/internal/codegen"
	"gyokuro/internal/codegen/ordered"
	"gyokuro/internal/fault"
	"gyokuro/internal/runtime"
)

const pageSize = 65536

// Generator lowers optimized modules to one WAT module. Every module gets a
// guarded $init.<module> returning a status; _start runs the main module's.
type Generator struct {
	main     *ast.Module
	modules  []*ast.Module
	byName   map[string]*ast.Module
	registry *codegen.QuickCalls
	builder  *codegen.CallBuilder
	enforcer codegen.OrderEnforcer
	maxQuick int
	log      zerolog.Logger

	stringIDs  map[string]int
	stringData []stringDatum
	dataSize   int

	constIDs map[string]int
	consts   []constDatum
}

type stringDatum struct {
	value  string
	offset int
	length int
}

// constDatum is a global holding a handle created once by _start.
type constDatum struct {
	name string
	init string
}

type GeneratorOptions struct {
	MaxQuickArity int
	Logger        zerolog.Logger
}

func NewGenerator(main *ast.Module, modules []*ast.Module, registry *codegen.QuickCalls, opts GeneratorOptions) *Generator {
	enforcer := ordered.New()
	g := &Generator{
		main:      main,
		byName:    map[string]*ast.Module{},
		registry:  registry,
		builder:   codegen.NewCallBuilder(enforcer),
		enforcer:  enforcer,
		maxQuick:  opts.MaxQuickArity,
		log:       opts.Logger,
		stringIDs: map[string]int{},
		constIDs:  map[string]int{},
	}
	g.initModules(modules)
	return g
}

func (g *Generator) initModules(modules []*ast.Module) {
	g.modules = append([]*ast.Module(nil), modules...)
	sort.Slice(g.modules, func(i, j int) bool { return g.modules[i].Name < g.modules[j].Name })
	for _, mod := range g.modules {
		g.byName[mod.Name] = mod
	}
	if _, ok := g.byName[g.main.Name]; !ok {
		g.modules = append(g.modules, g.main)
		g.byName[g.main.Name] = g.main
	}
}

func (g *Generator) Generate() (string, error) {
	var funcs watBuilder
	for _, mod := range g.modules {
		if err := g.emitInit(&funcs, mod); err != nil {
			return "", err
		}
	}
	helpers, err := codegen.EmitHelpers(g.registry)
	if err != nil {
		return "", err
	}

	w := &watBuilder{}
	w.line("(module")
	w.indent++
	for _, l := range strings.Split(strings.TrimRight(helpers, "\n"), "\n") {
		w.line(l)
	}
	g.emitMemory(w)
	g.emitGlobals(w)
	for _, l := range strings.Split(strings.TrimRight(funcs.String(), "\n"), "\n") {
		w.line(l)
	}
	g.emitStart(w)
	w.indent--
	w.line(")")

	g.log.Debug().
		Int("modules", len(g.modules)).
		Int("constants", len(g.consts)).
		Int("data", g.dataSize).
		Msg("generated module")
	return w.String(), nil
}

// internString places value in the data segment once and returns its
// location.
func (g *Generator) internString(value string) stringDatum {
	if id, ok := g.stringIDs[value]; ok {
		return g.stringData[id]
	}
	d := stringDatum{value: value, offset: g.dataSize, length: len(value)}
	g.stringIDs[value] = len(g.stringData)
	g.stringData = append(g.stringData, d)
	g.dataSize += d.length
	return d
}

// nameArgs renders the pointer and length of a name for host calls that
// report it.
func (g *Generator) nameArgs(name string) string {
	d := g.internString(name)
	return fmt.Sprintf("(i32.const %d) (i32.const %d)", d.offset, d.length)
}

func (g *Generator) constant(key, init string) string {
	if id, ok := g.constIDs[key]; ok {
		return g.consts[id].name
	}
	c := constDatum{name: fmt.Sprintf("$const.%d", len(g.consts)), init: init}
	g.constIDs[key] = len(g.consts)
	g.consts = append(g.consts, c)
	return c.name
}

func (g *Generator) strConst(s string) string {
	d := g.internString(s)
	return g.constant("s:"+s, fmt.Sprintf("(call $rt.str_from_utf8 (i32.const %d) (i32.const %d))", d.offset, d.length))
}

func (g *Generator) literal(c ast.Constant) (string, error) {
	switch v := c.(type) {
	case string:
		return g.strConst(v), nil
	case int64:
		return g.constant(fmt.Sprintf("i:%d", v), fmt.Sprintf("(call $rt.int_from_i64 (i64.const %d))", v)), nil
	}
	return "", fault.Newf("constant of type %T", c)
}

func (g *Generator) builtin(name string) string {
	return g.constant("b:"+name, fmt.Sprintf("(call $rt.builtin %s)", g.nameArgs(name)))
}

func (g *Generator) emitMemory(w *watBuilder) {
	// one page above the data for the argument stack
	pages := (g.dataSize+pageSize-1)/pageSize + 1
	w.line(fmt.Sprintf("(memory $memory %d)", pages))
	w.line("(export \"memory\" (memory $memory))")
	for _, d := range g.stringData {
		if d.length == 0 {
			continue
		}
		w.line(fmt.Sprintf("(data (i32.const %d) \"%s\")", d.offset, escapeData(d.value)))
	}
}

func (g *Generator) emitGlobals(w *watBuilder) {
	for _, mod := range g.modules {
		w.line(fmt.Sprintf("(global %s (mut i32) (i32.const 0))", initedGlobal(mod.Name)))
		for _, v := range mod.Variables() {
			w.line(fmt.Sprintf("(global %s (mut i32) (i32.const 0))", varGlobal(mod.Name, v.Name())))
		}
	}
	for _, c := range g.consts {
		w.line(fmt.Sprintf("(global %s (mut i32) (i32.const 0))", c.name))
	}
}

// emitStart sets up the argument stack and the constants, runs the main
// module and releases everything the program still references.
func (g *Generator) emitStart(w *watBuilder) {
	w.line("(func $_start (result i32)")
	w.indent++
	w.line("(local $status i32)")
	w.line(fmt.Sprintf("(global.set %s (i32.const %d))", codegen.ArgStackGlobal(), g.memoryTop()))
	for _, c := range g.consts {
		w.line(fmt.Sprintf("(global.set %s %s)", c.name, c.init))
	}
	w.line(fmt.Sprintf("(local.set $status (call %s))", initFunc(g.main.Name)))
	for _, mod := range g.modules {
		for _, v := range mod.Variables() {
			name := varGlobal(mod.Name, v.Name())
			w.line(fmt.Sprintf("(call $%s (global.get %s))", codegen.HelperRelease, name))
			w.line(fmt.Sprintf("(global.set %s (i32.const 0))", name))
		}
	}
	for _, c := range g.consts {
		w.line(fmt.Sprintf("(call $%s (global.get %s))", codegen.HelperRelease, c.name))
	}
	w.line("(local.get $status)")
	w.indent--
	w.line(")")
	w.line("(export \"_start\" (func $_start))")
}

func (g *Generator) memoryTop() int {
	return ((g.dataSize+pageSize-1)/pageSize + 1) * pageSize
}

func (g *Generator) emitInit(w *watBuilder, mod *ast.Module) error {
	f := newFuncEmitter(g, mod)
	for i, stmt := range mod.Body {
		if err := f.emitStmt(i, stmt); err != nil {
			return errors.Wrapf(err, "module %s", mod.Name)
		}
	}

	w.line(fmt.Sprintf("(func %s (result i32)", initFunc(mod.Name)))
	w.indent++
	for _, local := range f.ctx.Locals() {
		w.line(fmt.Sprintf("(local %s i32)", local))
	}
	inited := initedGlobal(mod.Name)
	w.line(fmt.Sprintf("(if (global.get %s) (then (return (i32.const 1))))", inited))
	w.line(fmt.Sprintf("(global.set %s (i32.const 1))", inited))
	for _, line := range f.body {
		w.line(line)
	}
	w.line("(i32.const 1)")
	w.indent--
	w.line(")")
	return nil
}

type watBuilder struct {
	sb     strings.Builder
	indent int
}

func (w *watBuilder) line(s string) {
	w.sb.WriteString(strings.Repeat("  ", w.indent))
	w.sb.WriteString(s)
	w.sb.WriteString("\n")
}

func (w *watBuilder) String() string {
	return w.sb.String()
}

func escapeData(s string) string {
	var buf bytes.Buffer
	for _, b := range []byte(s) {
		if b >= 0x20 && b <= 0x7e && b != '\\' && b != '"' {
			buf.WriteByte(b)
			continue
		}
		buf.WriteString(fmt.Sprintf("\\%02x", b))
	}
	return buf.String()
}

// wasmID keeps name readable in a WAT identifier, hex-escaping anything
// outside the identifier alphabet.
func wasmID(name string) string {
	var sb strings.Builder
	for _, b := range []byte(name) {
		switch {
		case b >= '0' && b <= '9', b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b == '_', b == '.', b == '-':
			sb.WriteByte(b)
		default:
			fmt.Fprintf(&sb, "%%%02x", b)
		}
	}
	return sb.String()
}

func initFunc(mod string) string     { return "$init." + wasmID(mod) }
func initedGlobal(mod string) string { return "$inited." + wasmID(mod) }

func varGlobal(mod, name string) string {
	return "$mv." + wasmID(mod) + "/" + wasmID(name)
}

// funcEmitter lowers the statements of one module init function.
type funcEmitter struct {
	g     *Generator
	mod   *ast.Module
	ctx   *codegen.Context
	body  []string
	stmt  int
	first map[string]int
}

func newFuncEmitter(g *Generator, mod *ast.Module) *funcEmitter {
	f := &funcEmitter{g: g, mod: mod, ctx: codegen.NewContext(g.registry), first: map[string]int{}}
	for i, stmt := range mod.Body {
		switch s := stmt.(type) {
		case *ast.AssignStmt:
			f.bindAt(s.Target, i)
		case *ast.ImportStmt:
			for _, n := range s.Names {
				f.bindAt(n, i)
			}
		}
	}
	return f
}

func (f *funcEmitter) bindAt(name string, i int) {
	if _, ok := f.first[name]; !ok {
		f.first[name] = i
	}
}

// unboundYet reports whether no statement before the current one binds name.
func (f *funcEmitter) unboundYet(name string) bool {
	first, ok := f.first[name]
	return !ok || first >= f.stmt
}

func (f *funcEmitter) emit(line string) {
	f.body = append(f.body, line)
}

// emitStmt wraps statement i in its own failure block. Call scope
// temporaries are released on the way out of both paths.
func (f *funcEmitter) emitStmt(i int, stmt ast.Stmt) error {
	f.stmt = i
	label := fmt.Sprintf("$s%d", i)
	f.ctx.SetFailLabel(label + ".fail")

	var lines []string
	var err error
	switch s := stmt.(type) {
	case *ast.ImportStmt:
		lines, err = f.importLines(s)
	case *ast.AssignStmt:
		lines, err = f.assignLines(s)
	case *ast.ExprStmt:
		lines, err = f.exprLines(s)
	default:
		err = fault.Newf("statement of type %T", stmt)
	}
	if err != nil {
		return errors.Wrapf(err, "%s", ast.SourceRef{Path: f.mod.Path, Pos: stmt.GetSpan().Start})
	}
	release := f.ctx.ReleaseScope(codegen.CallScope)

	f.emit(fmt.Sprintf("(block %s.done", label))
	f.emit(fmt.Sprintf("  (block %s.fail", label))
	for _, l := range lines {
		f.emit("    " + l)
	}
	f.emit(fmt.Sprintf("    (br %s.done))", label))
	for _, l := range release {
		f.emit("  " + l)
	}
	f.emit("  (return (i32.const 0)))")
	for _, l := range release {
		f.emit(l)
	}
	return nil
}

// bind stores the owned reference computed by code in global, releasing
// the previous value.
func (f *funcEmitter) bind(global, code string) []string {
	tmp := f.ctx.AllocateTemp("bind", 0)
	return []string{
		fmt.Sprintf("(local.set %s %s)", tmp, code),
		codegen.FailIfNull(f.ctx, fmt.Sprintf("(local.get %s)", tmp)),
		fmt.Sprintf("(call $%s (global.get %s))", codegen.HelperRelease, global),
		fmt.Sprintf("(global.set %s (local.get %s))", global, tmp),
	}
}

func (f *funcEmitter) importLines(s *ast.ImportStmt) ([]string, error) {
	name, err := ast.CanonicalName(s.Module)
	if err != nil {
		return nil, err
	}
	target, ok := f.g.byName[name]
	if !ok {
		return nil, fault.Newf("import of unknown module %s", name)
	}
	lines := []string{codegen.FailIfNull(f.ctx, fmt.Sprintf("(call %s)", initFunc(target.Name)))}
	for _, n := range s.Names {
		if _, ok := target.Variable(n); !ok {
			return nil, errors.Errorf("cannot import name '%s' from '%s'", n, name)
		}
		read := fmt.Sprintf("(call $rt.bound (global.get %s) %s)", varGlobal(target.Name, n), f.g.nameArgs(n))
		own := fmt.Sprintf("(call $%s %s)", codegen.HelperIncRef, read)
		lines = append(lines, f.bind(varGlobal(f.mod.Name, n), own)...)
	}
	return lines, nil
}

func (f *funcEmitter) assignLines(s *ast.AssignStmt) ([]string, error) {
	var id codegen.Identifier
	var err error
	if call, ok := s.Value.(*ast.CallExpr); ok {
		id, err = f.call(call, codegen.Ownership{RefCount: 0, ExportRef: true})
	} else {
		id, err = f.value(s.Value)
	}
	if err != nil {
		return nil, err
	}
	return f.bind(varGlobal(f.mod.Name, s.Target), ownedCode(id)), nil
}

func (f *funcEmitter) exprLines(s *ast.ExprStmt) ([]string, error) {
	id, err := f.value(s.Expr)
	if err != nil {
		return nil, err
	}
	if !id.Owned() {
		return []string{codegen.FailIfNull(f.ctx, id.Code())}, nil
	}
	tmp := f.ctx.AllocateTemp(codegen.CallScope, id.RefCount())
	return []string{
		fmt.Sprintf("(local.set %s %s)", tmp, id.Code()),
		codegen.FailIfNull(f.ctx, fmt.Sprintf("(local.get %s)", tmp)),
	}, nil
}

// ownedCode yields a new reference to the value of id.
func ownedCode(id codegen.Identifier) string {
	if id.Owned() {
		return id.Code()
	}
	return fmt.Sprintf("(call $%s %s)", codegen.HelperIncRef, id.Code())
}

// ordered reports whether evaluating e can observe or cause effects. Reads
// of read-only variables bound by an earlier statement cannot.
func (f *funcEmitter) ordered(e ast.Expr) bool {
	switch x := e.(type) {
	case *ast.ConstExpr:
		return false
	case *ast.NameExpr:
		v, ok := f.mod.Variable(x.Name)
		if !ok {
			return !runtime.IsBuiltin(x.Name)
		}
		return !v.ReadOnly() || f.unboundYet(x.Name)
	}
	return true
}

func (f *funcEmitter) operand(e ast.Expr) (codegen.Operand, error) {
	id, err := f.value(e)
	if err != nil {
		return codegen.Operand{}, err
	}
	return codegen.Operand{Value: id, Ordered: f.ordered(e)}, nil
}

func (f *funcEmitter) operands(exprs []ast.Expr) ([]codegen.Operand, error) {
	ops := make([]codegen.Operand, 0, len(exprs))
	for _, e := range exprs {
		op, err := f.operand(e)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func (f *funcEmitter) value(e ast.Expr) (codegen.Identifier, error) {
	switch x := e.(type) {
	case *ast.ConstExpr:
		name, err := f.g.literal(x.Value)
		if err != nil {
			return codegen.Identifier{}, err
		}
		return codegen.NewIdentifier(fmt.Sprintf("(global.get %s)", name), 0, codegen.KindObject), nil
	case *ast.NameExpr:
		return f.name(x), nil
	case *ast.AttrExpr:
		return f.attr(x)
	case *ast.CallExpr:
		return f.call(x, codegen.Ownership{RefCount: 1})
	case *ast.TupleExpr:
		ops, err := f.operands(x.Elems)
		if err != nil {
			return codegen.Identifier{}, err
		}
		return f.tuple(ops, codegen.KindObject)
	}
	return codegen.Identifier{}, fault.Newf("expression of type %T", e)
}

// name reads a module variable, falling back to the builtins. A variable
// named like a builtin reads the builtin until its first binding has run.
// Unknown names raise NameError when evaluated.
func (f *funcEmitter) name(x *ast.NameExpr) codegen.Identifier {
	var code string
	_, isVar := f.mod.Variable(x.Name)
	switch {
	case isVar && runtime.IsBuiltin(x.Name) && f.unboundYet(x.Name):
		global := varGlobal(f.mod.Name, x.Name)
		code = fmt.Sprintf("(select (global.get %s) (global.get %s) (global.get %s))", global, f.g.builtin(x.Name), global)
	case isVar:
		code = fmt.Sprintf("(call $rt.bound (global.get %s) %s)", varGlobal(f.mod.Name, x.Name), f.g.nameArgs(x.Name))
	case runtime.IsBuiltin(x.Name):
		code = fmt.Sprintf("(global.get %s)", f.g.builtin(x.Name))
	default:
		code = fmt.Sprintf("(call $rt.bound (i32.const 0) %s)", f.g.nameArgs(x.Name))
	}
	return codegen.NewIdentifier(code, 0, codegen.KindObject)
}

func (f *funcEmitter) sequence(ops []codegen.Operand) (codegen.Sequence, error) {
	return f.g.enforcer.Sequence(f.ctx, codegen.CallScope, ops)
}

func block(steps []string, result string) string {
	if len(steps) == 0 {
		return result
	}
	return fmt.Sprintf("(block (result i32) %s %s)", strings.Join(steps, " "), result)
}

func (f *funcEmitter) attr(x *ast.AttrExpr) (codegen.Identifier, error) {
	obj, err := f.operand(x.Object)
	if err != nil {
		return codegen.Identifier{}, err
	}
	seq, err := f.sequence([]codegen.Operand{obj})
	if err != nil {
		return codegen.Identifier{}, err
	}
	get := fmt.Sprintf("(call $rt.getattr %s %s)", seq.Refs[0], f.g.nameArgs(x.Name))
	return codegen.NewIdentifier(block(seq.Steps, get), 1, codegen.KindObject), nil
}

// tuple builds a tuple of ops in a call scope temporary and lends it out.
func (f *funcEmitter) tuple(ops []codegen.Operand, kind codegen.Kind) (codegen.Identifier, error) {
	seq, err := f.sequence(ops)
	if err != nil {
		return codegen.Identifier{}, err
	}
	t := f.ctx.AllocateTemp(codegen.CallScope, 1)
	get := fmt.Sprintf("(local.get %s)", t)
	steps := append(seq.Steps,
		fmt.Sprintf("(local.set %s (call $rt.tuple_new (i32.const %d)))", t, len(ops)),
		codegen.FailIfNull(f.ctx, get))
	for i, ref := range seq.Refs {
		steps = append(steps, codegen.FailIfNull(f.ctx, fmt.Sprintf("(call $rt.tuple_set %s (i32.const %d) %s)", get, i, ref)))
	}
	return f.ctx.Borrowed(codegen.NewIdentifier(block(steps, get), 0, kind), codegen.CallScope), nil
}

func (f *funcEmitter) lend(steps []string, tmp string, kind codegen.Kind) codegen.Identifier {
	id := codegen.NewIdentifier(block(steps, fmt.Sprintf("(local.get %s)", tmp)), 0, kind)
	return f.ctx.Borrowed(id, codegen.CallScope)
}

// argTuple packages the positional arguments of call, expanding *args
// after the plain ones.
func (f *funcEmitter) argTuple(call *ast.CallExpr) (codegen.Operand, error) {
	args, err := f.operands(call.Args)
	if err != nil {
		return codegen.Operand{}, err
	}
	if call.Star == nil {
		id, err := f.tuple(args, codegen.KindTuple)
		return codegen.Operand{Value: id, Ordered: true}, err
	}

	var ops []codegen.Operand
	if len(args) > 0 {
		plain, err := f.tuple(args, codegen.KindTuple)
		if err != nil {
			return codegen.Operand{}, err
		}
		ops = append(ops, codegen.Operand{Value: plain, Ordered: true})
	}
	star, err := f.operand(call.Star)
	if err != nil {
		return codegen.Operand{}, err
	}
	ops = append(ops, star)
	seq, err := f.sequence(ops)
	if err != nil {
		return codegen.Operand{}, err
	}

	expanded := f.ctx.AllocateTemp(codegen.CallScope, 1)
	steps := append(seq.Steps,
		fmt.Sprintf("(local.set %s (call $rt.to_tuple %s))", expanded, seq.Refs[len(seq.Refs)-1]),
		codegen.FailIfNull(f.ctx, fmt.Sprintf("(local.get %s)", expanded)))
	if len(args) == 0 {
		return codegen.Operand{Value: f.lend(steps, expanded, codegen.KindTuple), Ordered: true}, nil
	}
	joined := f.ctx.AllocateTemp(codegen.CallScope, 1)
	steps = append(steps,
		fmt.Sprintf("(local.set %s (call $rt.tuple_concat %s (local.get %s)))", joined, seq.Refs[0], expanded),
		codegen.FailIfNull(f.ctx, fmt.Sprintf("(local.get %s)", joined)))
	return codegen.Operand{Value: f.lend(steps, joined, codegen.KindTuple), Ordered: true}, nil
}

// kwDict packages keyword arguments together with a **kwargs expansion.
// A keyword given twice raises TypeError from dict_update.
func (f *funcEmitter) kwDict(call *ast.CallExpr) (codegen.Operand, error) {
	exprs := make([]ast.Expr, 0, len(call.Keywords)+1)
	for _, kw := range call.Keywords {
		exprs = append(exprs, kw.Value)
	}
	exprs = append(exprs, call.StarStar)
	ops, err := f.operands(exprs)
	if err != nil {
		return codegen.Operand{}, err
	}
	seq, err := f.sequence(ops)
	if err != nil {
		return codegen.Operand{}, err
	}

	d := f.ctx.AllocateTemp(codegen.CallScope, 1)
	get := fmt.Sprintf("(local.get %s)", d)
	steps := append(seq.Steps,
		fmt.Sprintf("(local.set %s (call $rt.dict_new))", d),
		codegen.FailIfNull(f.ctx, get))
	for i, kw := range call.Keywords {
		key := fmt.Sprintf("(global.get %s)", f.g.strConst(kw.Name))
		steps = append(steps, codegen.FailIfNull(f.ctx, fmt.Sprintf("(call $rt.dict_set %s %s %s)", get, key, seq.Refs[i])))
	}
	steps = append(steps, codegen.FailIfNull(f.ctx, fmt.Sprintf("(call $rt.dict_update %s %s)", get, seq.Refs[len(seq.Refs)-1])))
	return codegen.Operand{Value: f.lend(steps, d, codegen.KindDict), Ordered: true}, nil
}

func (f *funcEmitter) keywordPairs(call *ast.CallExpr) ([]codegen.KeywordPair, error) {
	pairs := make([]codegen.KeywordPair, 0, len(call.Keywords))
	for _, kw := range call.Keywords {
		val, err := f.operand(kw.Value)
		if err != nil {
			return nil, err
		}
		key := codegen.NewIdentifier(fmt.Sprintf("(global.get %s)", f.g.strConst(kw.Name)), 0, codegen.KindObject)
		pairs = append(pairs, codegen.KeywordPair{Key: codegen.Operand{Value: key}, Value: val})
	}
	return pairs, nil
}

// shape picks the cheapest argument packaging for call.
func (f *funcEmitter) shape(call *ast.CallExpr) (codegen.CallShape, error) {
	keywords := len(call.Keywords) > 0 || call.StarStar != nil
	positional := len(call.Args) > 0 || call.Star != nil
	if !positional && !keywords {
		return codegen.NoArgsShape(), nil
	}
	if call.Star == nil && !keywords && len(call.Args) <= f.g.maxQuick {
		args, err := f.operands(call.Args)
		if err != nil {
			return codegen.CallShape{}, err
		}
		return codegen.QuickShape(args...), nil
	}

	var tuple codegen.Operand
	if positional {
		t, err := f.argTuple(call)
		if err != nil {
			return codegen.CallShape{}, err
		}
		if !keywords {
			return codegen.GenericShape(t), nil
		}
		tuple = t
	}

	var dict *codegen.Operand
	var pairs []codegen.KeywordPair
	if call.StarStar != nil {
		d, err := f.kwDict(call)
		if err != nil {
			return codegen.CallShape{}, err
		}
		dict = &d
	} else {
		p, err := f.keywordPairs(call)
		if err != nil {
			return codegen.CallShape{}, err
		}
		pairs = p
	}
	if positional {
		return codegen.MixedShape(tuple, dict, pairs...), nil
	}
	return codegen.KeywordShape(dict, pairs...), nil
}

func (f *funcEmitter) call(call *ast.CallExpr, own codegen.Ownership) (codegen.Identifier, error) {
	callee, err := f.operand(call.Func)
	if err != nil {
		return codegen.Identifier{}, err
	}
	shape, err := f.shape(call)
	if err != nil {
		return codegen.Identifier{}, err
	}
	return f.g.builder.Call(f.ctx, callee, shape, own)
}
