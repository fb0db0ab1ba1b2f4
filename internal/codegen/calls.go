package codegen

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"gyokuro/internal/fault"
)

var ErrOwnership = fault.New("invalid result ownership")

// Ownership is what the consumer of a call result asks for. RefCount 1 hands
// over the call's own reference; RefCount 0 keeps it in the call scope and
// lends it out. ExportRef adds one more reference on top.
type Ownership struct {
	RefCount  int
	ExportRef bool
}

func (o Ownership) multiplicity() int {
	if o.ExportRef {
		return o.RefCount + 1
	}
	return o.RefCount
}

// Sequence is operand evaluation made explicit. Steps run in order before
// the call and leave nothing on the stack; Refs[i] then yields operand i
// without side effects.
type Sequence struct {
	Steps []string
	Refs  []string
}

// OrderEnforcer binds operands to temporaries so that evaluation follows
// the given order.
type OrderEnforcer interface {
	Sequence(ctx *Context, scope string, operands []Operand) (Sequence, error)
}

type CallBuilder struct {
	enforcer OrderEnforcer
}

func NewCallBuilder(enforcer OrderEnforcer) *CallBuilder {
	return &CallBuilder{enforcer: enforcer}
}

// Call lowers a call of callee with the given argument shape. The returned
// identifier evaluates to the result handle; 0 means the call failed and an
// exception is pending. A borrowed result is only valid until the call
// scope is released.
func (b *CallBuilder) Call(ctx *Context, callee Operand, shape CallShape, own Ownership) (Identifier, error) {
	if own.RefCount != 0 && own.RefCount != 1 {
		return Identifier{}, errors.Wrapf(ErrOwnership, "refcount %d", own.RefCount)
	}
	if k := callee.Value.Kind(); k != KindObject {
		return Identifier{}, mismatch(shape, "callee is a %s", k)
	}
	if err := shape.validate(); err != nil {
		return Identifier{}, err
	}

	operands := append([]Operand{callee}, shape.operands()...)
	for _, op := range operands {
		if err := ctx.Check(op.Value); err != nil {
			return Identifier{}, err
		}
	}
	if shape.Kind == NoArgs {
		// nothing to order against
		operands[0].Ordered = false
	}

	helper, err := b.helper(ctx, shape)
	if err != nil {
		return Identifier{}, err
	}

	seq, err := b.enforcer.Sequence(ctx, CallScope, operands)
	if err != nil {
		return Identifier{}, err
	}
	if len(seq.Refs) != len(operands) {
		return Identifier{}, fault.Newf("order enforcer returned %d refs for %d operands", len(seq.Refs), len(operands))
	}
	steps := seq.Steps
	args := seq.Refs[1:]

	if n := len(shape.Pairs); n > 0 {
		pairs := args[len(args)-2*n:]
		args = args[:len(args)-2*n]
		dict := ctx.AllocateTemp(CallScope, 1)
		steps = append(steps,
			fmt.Sprintf("(local.set %s (call %s))", dict, hostFunc("dict_new")),
			FailIfNull(ctx, fmt.Sprintf("(local.get %s)", dict)))
		for i := 0; i < n; i++ {
			set := fmt.Sprintf("(call %s (local.get %s) %s %s)", hostFunc("dict_set"), dict, pairs[2*i], pairs[2*i+1])
			steps = append(steps, FailIfNull(ctx, set))
		}
		args = append(args, fmt.Sprintf("(local.get %s)", dict))
	}

	call := fmt.Sprintf("(call $%s %s)", helper, strings.Join(append([]string{seq.Refs[0]}, args...), " "))

	result := call
	if own.RefCount == 0 {
		tmp := ctx.AllocateTemp(CallScope, 1)
		steps = append(steps,
			fmt.Sprintf("(local.set %s %s)", tmp, call),
			FailIfNull(ctx, fmt.Sprintf("(local.get %s)", tmp)))
		result = fmt.Sprintf("(local.get %s)", tmp)
	}
	if own.ExportRef {
		result = fmt.Sprintf("(call $%s %s)", HelperIncRef, result)
	}

	code := result
	if len(steps) > 0 {
		code = fmt.Sprintf("(block (result i32) %s %s)", strings.Join(steps, " "), result)
	}
	id := NewIdentifier(code, own.multiplicity(), KindObject)
	if id.RefCount() == 0 {
		id = ctx.Borrowed(id, CallScope)
	}
	return id, nil
}

func (b *CallBuilder) helper(ctx *Context, shape CallShape) (string, error) {
	switch shape.Kind {
	case NoArgs:
		return HelperNoArgs, nil
	case PositionalQuick:
		if err := ctx.Registry().Register(shape.Arity); err != nil {
			return "", err
		}
		return QuickHelper(shape.Arity), nil
	case PositionalGeneric:
		return HelperPosArgs, nil
	case Keyword:
		return HelperKeyArgs, nil
	case PositionalAndKeyword:
		return HelperCall, nil
	}
	return "", mismatch(shape, "unknown shape")
}

// FailIfNull branches to the failure label when expr yields 0.
func FailIfNull(ctx *Context, expr string) string {
	return fmt.Sprintf("(br_if %s (i32.eqz %s))", ctx.FailLabel(), expr)
}
