package codegen

import (
	"fmt"

	"github.com/pkg/errors"

	"gyokuro/internal/fault"
)

// CallScope holds the temporaries of call sites. The enclosing statement
// releases it on both its success and failure paths.
const CallScope = "call"

const DefaultFailLabel = "$fail"

var ErrStaleReference = fault.New("use of identifier from released scope")

// Context is the per-function code generation state.
type Context struct {
	registry  *QuickCalls
	failLabel string
	locals    []string
	owned     map[string][]string
	epochs    map[string]int
	next      int
}

func NewContext(registry *QuickCalls) *Context {
	return &Context{
		registry:  registry,
		failLabel: DefaultFailLabel,
		owned:     map[string][]string{},
		epochs:    map[string]int{},
	}
}

func (c *Context) Registry() *QuickCalls { return c.registry }

// SetFailLabel sets the label that failing operations branch to.
func (c *Context) SetFailLabel(label string) { c.failLabel = label }

func (c *Context) FailLabel() string { return c.failLabel }

// AllocateTemp declares a fresh i32 local tagged with scope. ReleaseScope
// releases the local's value the given number of times.
func (c *Context) AllocateTemp(scope string, releases int) string {
	name := fmt.Sprintf("$%s.t%d", scope, c.next)
	c.next++
	c.locals = append(c.locals, name)
	for i := 0; i < releases; i++ {
		c.owned[scope] = append(c.owned[scope], name)
	}
	return name
}

// Locals returns every temporary declared so far.
func (c *Context) Locals() []string {
	return c.locals
}

// ReleaseScope returns the instructions releasing the owned temporaries of
// scope, newest first, and invalidates identifiers borrowed from it. Unset
// temporaries hold 0, which RELEASE ignores, so the same lines serve the
// failure path.
func (c *Context) ReleaseScope(scope string) []string {
	temps := c.owned[scope]
	lines := make([]string, 0, len(temps))
	for i := len(temps) - 1; i >= 0; i-- {
		lines = append(lines, fmt.Sprintf("(call $%s (local.get %s))", HelperRelease, temps[i]))
	}
	delete(c.owned, scope)
	c.epochs[scope]++
	return lines
}

// Borrowed tags id as valid only until scope is released.
func (c *Context) Borrowed(id Identifier, scope string) Identifier {
	id.scope = scope
	id.epoch = c.epochs[scope]
	return id
}

// Check fails when id borrows from a scope that was released since.
func (c *Context) Check(id Identifier) error {
	if id.scope == "" {
		return nil
	}
	if id.epoch != c.epochs[id.scope] {
		return errors.Wrapf(ErrStaleReference, "%s scope, expression %s", id.scope, id.code)
	}
	return nil
}
