// Package codegen lowers call sites to WebAssembly text.
//
// Values are i32 handles into the host heap, with 0 standing for a failed
// operation. An Identifier is the folded expression producing a handle
// together with how many references the holder owns.
package codegen

// Kind is how a value is packaged for a call.
type Kind int

const (
	KindObject Kind = iota
	KindTuple
	KindDict
)

func (k Kind) String() string {
	switch k {
	case KindTuple:
		return "tuple"
	case KindDict:
		return "dict"
	}
	return "object"
}

type Identifier struct {
	code     string
	refCount int
	kind     Kind
	scope    string
	epoch    int
}

// NewIdentifier wraps an expression that yields refCount owned references
// to a value of the given kind.
func NewIdentifier(code string, refCount int, kind Kind) Identifier {
	return Identifier{code: code, refCount: refCount, kind: kind}
}

func (id Identifier) Code() string  { return id.code }
func (id Identifier) RefCount() int { return id.refCount }
func (id Identifier) Kind() Kind    { return id.kind }

// Scope is the temporary scope whose release invalidates the identifier,
// or "" when it does not depend on one.
func (id Identifier) Scope() string { return id.scope }

func (id Identifier) Owned() bool { return id.refCount > 0 }
