package codegen

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"gyokuro/internal/fault"
)

var (
	ErrBadArity       = fault.New("quick-call arity must be positive")
	ErrRegistryFrozen = fault.New("quick-call arity registered after helper emission")
)

// QuickCalls records the arities used by positional quick calls during one
// compilation. Finalize freezes it.
type QuickCalls struct {
	mu     sync.Mutex
	used   map[int]struct{}
	frozen []int
	final  bool
}

func NewQuickCalls() *QuickCalls {
	return &QuickCalls{used: map[int]struct{}{}}
}

func (q *QuickCalls) Register(n int) error {
	if n <= 0 {
		return errors.Wrapf(ErrBadArity, "arity %d", n)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.final {
		if _, ok := q.used[n]; ok {
			return nil
		}
		return errors.Wrapf(ErrRegistryFrozen, "arity %d", n)
	}
	q.used[n] = struct{}{}
	return nil
}

// Finalize returns the distinct registered arities in ascending order.
// Later calls return the same sequence.
func (q *QuickCalls) Finalize() []int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.final {
		q.frozen = make([]int, 0, len(q.used))
		for n := range q.used {
			q.frozen = append(q.frozen, n)
		}
		sort.Ints(q.frozen)
		q.final = true
	}
	return append([]int(nil), q.frozen...)
}
