package optimize

import (
	"sync"

	"github.com/pkg/errors"
	"src.elv.sh/pkg/persistent/vector"

	"gyokuro/internal/ast"
)

// Imports is the registry of every module discovered so far, in discovery
// order. Readers work on snapshots, so appending during a scan is safe.
type Imports struct {
	mu     sync.Mutex
	order  vector.Vector
	byName map[string]*ast.Module
}

func NewImports() *Imports {
	return &Imports{order: vector.Empty, byName: map[string]*ast.Module{}}
}

// Add registers mod under its canonical name. Registering the same module
// again, or a module read from identical source, is a no-op.
func (r *Imports) Add(mod *ast.Module) (bool, error) {
	name, err := ast.CanonicalName(mod.Name)
	if err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.byName[name]; ok {
		if prev.SameSource(mod) {
			return false, nil
		}
		return false, errors.Wrapf(ErrDuplicateModule, "%s (%s and %s)", name, prev.Path, mod.Path)
	}
	r.byName[name] = mod
	r.order = r.order.Conj(mod)
	return true, nil
}

func (r *Imports) Lookup(name string) (*ast.Module, bool) {
	name, err := ast.CanonicalName(name)
	if err != nil {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	mod, ok := r.byName[name]
	return mod, ok
}

func (r *Imports) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.order.Len()
}

// Snapshot returns the registry contents at the time of the call.
func (r *Imports) Snapshot() []*ast.Module {
	r.mu.Lock()
	root := r.order
	r.mu.Unlock()

	out := make([]*ast.Module, 0, root.Len())
	for it := root.Iterator(); it.HasElem(); it.Next() {
		out = append(out, it.Elem().(*ast.Module))
	}
	return out
}
