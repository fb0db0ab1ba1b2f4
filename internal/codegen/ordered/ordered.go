// Package ordered makes operand evaluation order explicit by binding
// operands to temporaries.
package ordered

import (
	"fmt"

	"gyokuro/internal/codegen"
)

// Enforcer binds every order-relevant or owned operand to a fresh temporary,
// in operand order, and inlines the rest. Owned temporaries are released
// with their scope.
type Enforcer struct{}

var _ codegen.OrderEnforcer = Enforcer{}

func New() Enforcer { return Enforcer{} }

func (Enforcer) Sequence(ctx *codegen.Context, scope string, operands []codegen.Operand) (codegen.Sequence, error) {
	seq := codegen.Sequence{Refs: make([]string, len(operands))}
	for i, op := range operands {
		if err := ctx.Check(op.Value); err != nil {
			return codegen.Sequence{}, err
		}
		if !op.Ordered && !op.Value.Owned() {
			seq.Refs[i] = op.Value.Code()
			continue
		}
		tmp := ctx.AllocateTemp(scope, op.Value.RefCount())
		get := fmt.Sprintf("(local.get %s)", tmp)
		seq.Steps = append(seq.Steps,
			fmt.Sprintf("(local.set %s %s)", tmp, op.Value.Code()),
			codegen.FailIfNull(ctx, get))
		seq.Refs[i] = get
	}
	return seq, nil
}
