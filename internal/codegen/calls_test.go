package codegen_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/pkg/errors"

	"gyokuro/internal/codegen"
	"gyokuro/internal/codegen/ordered"
	"gyokuro/internal/fault"
	"gyokuro/internal/wattest"
)

// world is a fake heap driven by the generated code.
type world struct {
	t       *testing.T
	m       *wattest.Machine
	refs    map[int64]int
	next    int64
	log     []string
	calls   map[string][][]int64
	pairs   [][2]int64
	names   []string
	builtin int64
}

const failTag = 99

func newWorld(t *testing.T) *world {
	w := &world{t: t, m: wattest.NewMachine(), refs: map[int64]int{}, calls: map[string][][]int64{}}
	w.names = []string{"a", "b", "c", "d"}
	w.builtin = w.alloc()
	w.m.Globals["$builtin"] = w.builtin
	w.m.Globals["$k"] = w.alloc()

	w.m.Define("$eval", func(args []int64) ([]int64, error) {
		if args[0] == failTag {
			w.log = append(w.log, "fail")
			return []int64{0}, nil
		}
		w.log = append(w.log, w.names[args[0]])
		return []int64{w.alloc()}, nil
	})
	w.m.Define("$peek", func(args []int64) ([]int64, error) {
		w.log = append(w.log, w.names[args[0]])
		return []int64{w.builtin}, nil
	})
	w.m.Define("$"+codegen.HelperRelease, func(args []int64) ([]int64, error) {
		if args[0] != 0 {
			w.refs[args[0]]--
		}
		return nil, nil
	})
	w.m.Define("$"+codegen.HelperIncRef, func(args []int64) ([]int64, error) {
		if args[0] != 0 {
			w.refs[args[0]]++
		}
		return []int64{args[0]}, nil
	})
	w.m.Define("$rt.dict_new", func([]int64) ([]int64, error) {
		return []int64{w.alloc()}, nil
	})
	w.m.Define("$rt.dict_set", func(args []int64) ([]int64, error) {
		w.pairs = append(w.pairs, [2]int64{args[1], args[2]})
		return []int64{1}, nil
	})
	for _, h := range []string{codegen.HelperNoArgs, codegen.HelperPosArgs, codegen.HelperKeyArgs,
		codegen.HelperCall, codegen.QuickHelper(1), codegen.QuickHelper(2), codegen.QuickHelper(3)} {
		name := h
		w.m.Define("$"+name, func(args []int64) ([]int64, error) {
			w.calls[name] = append(w.calls[name], append([]int64(nil), args...))
			w.log = append(w.log, "call")
			return []int64{w.alloc()}, nil
		})
	}
	return w
}

func (w *world) alloc() int64 {
	w.next++
	w.refs[w.next] = 1
	return w.next
}

// run executes id as the value of a statement, releasing the call scope on
// both paths, and returns the result handle.
func (w *world) run(ctx *codegen.Context, id codegen.Identifier) int64 {
	w.t.Helper()
	release := strings.Join(ctx.ReleaseScope(codegen.CallScope), " ")
	prog := fmt.Sprintf("(block $done (block $fail (local.set $result %s) "+
		"(br_if $fail (i32.eqz (local.get $result))) %s (br $done)) %s)", id.Code(), release, release)
	if _, err := w.m.Exec(prog); err != nil {
		w.t.Fatalf("exec %s: %v", prog, err)
	}
	return w.m.Locals["$result"]
}

func (w *world) logIs(want ...string) {
	w.t.Helper()
	if strings.Join(w.log, ",") != strings.Join(want, ",") {
		w.t.Fatalf("evaluation log %v, want %v", w.log, want)
	}
}

func newCtx() *codegen.Context {
	return codegen.NewContext(codegen.NewQuickCalls())
}

func owned(tag int) codegen.Operand {
	return codegen.Operand{Value: codegen.NewIdentifier(fmt.Sprintf("(call $eval (i32.const %d))", tag), 1, codegen.KindObject), Ordered: true}
}

func ownedTuple(tag int) codegen.Operand {
	return codegen.Operand{Value: codegen.NewIdentifier(fmt.Sprintf("(call $eval (i32.const %d))", tag), 1, codegen.KindTuple), Ordered: true}
}

func orderedBorrowed(tag int) codegen.Operand {
	return codegen.Operand{Value: codegen.NewIdentifier(fmt.Sprintf("(call $peek (i32.const %d))", tag), 0, codegen.KindObject), Ordered: true}
}

func constant() codegen.Operand {
	return codegen.Operand{Value: codegen.NewIdentifier("(global.get $k)", 0, codegen.KindObject)}
}

func builtin() codegen.Operand {
	return codegen.Operand{Value: codegen.NewIdentifier("(global.get $builtin)", 0, codegen.KindObject)}
}

var ownResult = codegen.Ownership{RefCount: 1}

func TestQuickCallEvaluatesLeftToRight(t *testing.T) {
	w := newWorld(t)
	ctx := newCtx()
	b := codegen.NewCallBuilder(ordered.New())
	id, err := b.Call(ctx, builtin(), codegen.QuickShape(owned(0), owned(1), owned(2)), ownResult)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	res := w.run(ctx, id)
	w.logIs("a", "b", "c", "call")

	got := w.calls[codegen.QuickHelper(3)]
	if len(got) != 1 || len(got[0]) != 4 || got[0][0] != w.builtin {
		t.Fatalf("unexpected helper calls %v", got)
	}
	for i, h := range got[0][1:] {
		if h != got[0][1]+int64(i) {
			t.Fatalf("arguments out of order: %v", got[0])
		}
		if w.refs[h] != 0 {
			t.Fatalf("argument %d leaked %d references", i, w.refs[h])
		}
	}
	if id.RefCount() != 1 || w.refs[res] != 1 {
		t.Fatalf("result multiplicity %d, outstanding %d", id.RefCount(), w.refs[res])
	}
	if arities := ctx.Registry().Finalize(); len(arities) != 1 || arities[0] != 3 {
		t.Fatalf("registered arities %v", arities)
	}
}

func TestKeywordPairsEvaluateInSourceOrder(t *testing.T) {
	w := newWorld(t)
	ctx := newCtx()
	b := codegen.NewCallBuilder(ordered.New())
	shape := codegen.KeywordShape(nil,
		codegen.KeywordPair{Key: constant(), Value: owned(0)},
		codegen.KeywordPair{Key: constant(), Value: orderedBorrowed(1)},
		codegen.KeywordPair{Key: constant(), Value: owned(2)},
	)
	id, err := b.Call(ctx, builtin(), shape, ownResult)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	res := w.run(ctx, id)
	w.logIs("a", "b", "c", "call")
	if len(w.pairs) != 3 || w.pairs[1][1] != w.builtin {
		t.Fatalf("unexpected dict entries %v", w.pairs)
	}
	kw := w.calls[codegen.HelperKeyArgs]
	if len(kw) != 1 || len(kw[0]) != 2 {
		t.Fatalf("unexpected keyword calls %v", kw)
	}
	if w.refs[kw[0][1]] != 0 || w.refs[w.pairs[0][1]] != 0 || w.refs[w.pairs[2][1]] != 0 {
		t.Fatalf("call temporaries leaked: %v", w.refs)
	}
	if w.refs[res] != 1 {
		t.Fatalf("result outstanding %d", w.refs[res])
	}
}

func TestMixedCallEvaluatesCalleeFirst(t *testing.T) {
	w := newWorld(t)
	ctx := newCtx()
	b := codegen.NewCallBuilder(ordered.New())
	shape := codegen.MixedShape(ownedTuple(1), nil, codegen.KeywordPair{Key: constant(), Value: owned(2)})
	id, err := b.Call(ctx, owned(0), shape, ownResult)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	w.run(ctx, id)
	w.logIs("a", "b", "c", "call")
	got := w.calls[codegen.HelperCall]
	if len(got) != 1 || len(got[0]) != 3 {
		t.Fatalf("unexpected calls %v", got)
	}
	for _, h := range got[0] {
		if w.refs[h] != 0 {
			t.Fatalf("operand %d leaked: %v", h, w.refs)
		}
	}
}

func TestResultOwnership(t *testing.T) {
	cases := []struct {
		own        codegen.Ownership
		multiplied int
	}{
		{codegen.Ownership{RefCount: 1}, 1},
		{codegen.Ownership{RefCount: 0}, 0},
		{codegen.Ownership{RefCount: 0, ExportRef: true}, 1},
		{codegen.Ownership{RefCount: 1, ExportRef: true}, 2},
	}
	for _, c := range cases {
		w := newWorld(t)
		ctx := newCtx()
		b := codegen.NewCallBuilder(ordered.New())
		id, err := b.Call(ctx, builtin(), codegen.QuickShape(owned(0)), c.own)
		if err != nil {
			t.Fatalf("%+v: %v", c.own, err)
		}
		if id.RefCount() != c.multiplied {
			t.Fatalf("%+v: multiplicity %d", c.own, id.RefCount())
		}
		borrowed := id.Scope() == codegen.CallScope
		if borrowed != (c.multiplied == 0) {
			t.Fatalf("%+v: scope %q", c.own, id.Scope())
		}
		res := w.run(ctx, id)
		if res == 0 || w.refs[res] != c.multiplied {
			t.Fatalf("%+v: result %d outstanding %d, want %d", c.own, res, w.refs[res], c.multiplied)
		}
	}
}

func TestBorrowedResultExpiresWithScope(t *testing.T) {
	ctx := newCtx()
	b := codegen.NewCallBuilder(ordered.New())
	id, err := b.Call(ctx, builtin(), codegen.NoArgsShape(), codegen.Ownership{})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if err := ctx.Check(id); err != nil {
		t.Fatalf("fresh identifier rejected: %v", err)
	}
	nested, err := b.Call(ctx, builtin(), codegen.QuickShape(codegen.Operand{Value: id}), ownResult)
	if err != nil {
		t.Fatalf("nested use inside scope: %v", err)
	}
	_ = nested
	ctx.ReleaseScope(codegen.CallScope)

	_, err = b.Call(ctx, builtin(), codegen.QuickShape(codegen.Operand{Value: id}), ownResult)
	if !errors.Is(err, codegen.ErrStaleReference) || !fault.Is(err) {
		t.Fatalf("expected stale reference fault, got %v", err)
	}
}

func TestFailedOperandReleasesEarlierTemporaries(t *testing.T) {
	w := newWorld(t)
	ctx := newCtx()
	b := codegen.NewCallBuilder(ordered.New())
	id, err := b.Call(ctx, builtin(), codegen.QuickShape(owned(0), owned(failTag), owned(2)), ownResult)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	res := w.run(ctx, id)
	w.logIs("a", "fail")
	if res != 0 {
		t.Fatalf("failed call produced %d", res)
	}
	for h, n := range w.refs {
		if h != w.builtin && h != w.m.Globals["$k"] && n != 0 {
			t.Fatalf("handle %d leaked %d references", h, n)
		}
	}
}

func TestUnorderedBorrowedOperandsAreInlined(t *testing.T) {
	ctx := newCtx()
	b := codegen.NewCallBuilder(ordered.New())
	id, err := b.Call(ctx, builtin(), codegen.QuickShape(constant(), orderedBorrowed(1)), ownResult)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	want := fmt.Sprintf("(call $%s (global.get $builtin) (global.get $k) (local.get $call.t0))", codegen.QuickHelper(2))
	if !strings.Contains(id.Code(), want) {
		t.Fatalf("code %s does not contain %s", id.Code(), want)
	}
	if len(ctx.Locals()) != 1 {
		t.Fatalf("temporaries %v", ctx.Locals())
	}
	if lines := ctx.ReleaseScope(codegen.CallScope); len(lines) != 0 {
		t.Fatalf("borrowed temporary released: %v", lines)
	}
}

func TestNoArgsDoesNotRegister(t *testing.T) {
	w := newWorld(t)
	ctx := newCtx()
	b := codegen.NewCallBuilder(ordered.New())
	id, err := b.Call(ctx, owned(0), codegen.NoArgsShape(), ownResult)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	w.run(ctx, id)
	w.logIs("a", "call")
	callee := w.calls[codegen.HelperNoArgs][0][0]
	if w.refs[callee] != 0 {
		t.Fatalf("owned callee leaked")
	}
	if got := ctx.Registry().Finalize(); len(got) != 0 {
		t.Fatalf("no-args call registered %v", got)
	}
}

func TestShapeMismatchIsFault(t *testing.T) {
	tuple := ownedTuple(0)
	dict := codegen.Operand{Value: codegen.NewIdentifier("(global.get $d)", 0, codegen.KindDict)}
	pair := codegen.KeywordPair{Key: constant(), Value: owned(1)}
	cases := map[string]codegen.CallShape{
		"arity":         {Kind: codegen.PositionalQuick, Arity: 2, Args: []codegen.Operand{owned(0)}},
		"zero arity":    {Kind: codegen.PositionalQuick},
		"tuple as arg":  codegen.QuickShape(tuple),
		"missing tuple": {Kind: codegen.PositionalGeneric},
		"object tuple":  codegen.GenericShape(owned(0)),
		"no mapping":    codegen.KeywordShape(nil),
		"both mappings": codegen.KeywordShape(&dict, pair),
		"object dict":   codegen.KeywordShape(&tuple),
		"no-args args":  {Kind: codegen.NoArgs, Args: []codegen.Operand{owned(0)}},
		"extra mapping": {Kind: codegen.PositionalGeneric, Tuple: &tuple, Dict: &dict},
	}
	for name, shape := range cases {
		ctx := newCtx()
		b := codegen.NewCallBuilder(ordered.New())
		_, err := b.Call(ctx, builtin(), shape, ownResult)
		if !errors.Is(err, codegen.ErrShapeMismatch) || !fault.Is(err) {
			t.Fatalf("%s: expected shape fault, got %v", name, err)
		}
		if len(ctx.Registry().Finalize()) != 0 {
			t.Fatalf("%s: rejected call registered an arity", name)
		}
	}

	b := codegen.NewCallBuilder(ordered.New())
	_, err := b.Call(newCtx(), builtin(), codegen.QuickShape(owned(0)), codegen.Ownership{RefCount: 2})
	if !errors.Is(err, codegen.ErrOwnership) {
		t.Fatalf("expected ownership fault, got %v", err)
	}
	_, err = b.Call(newCtx(), dict, codegen.NoArgsShape(), ownResult)
	if !errors.Is(err, codegen.ErrShapeMismatch) {
		t.Fatalf("dict callee accepted: %v", err)
	}
}
