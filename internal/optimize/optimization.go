package optimize

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"gyokuro/internal/ast"
	"gyokuro/internal/fault"
)

const DefaultMaxPasses = 512

var (
	ErrPassLimit       = fault.New("module optimization exceeded pass limit")
	ErrReadOnlyRevoked = fault.New("read-only variable reported as written")
	ErrDuplicateModule = fault.New("duplicate module")
	errNilModule       = fault.New("nil module")
)

// SignalFunc reports one change. tags may hold several space-separated tags.
type SignalFunc func(tags string, ref ast.SourceRef, message string)

// Analysis runs one pass of local rewrites over a module. It returns the
// variables written anywhere in the module, and must only signal when it
// actually changed something.
type Analysis interface {
	Process(mod *ast.Module, signal SignalFunc) (ast.VariableSet, error)
}

type Options struct {
	MaxPasses int
	Progress  bool
	Tracer    Tracer
	Logger    zerolog.Logger
}

func DefaultOptions() Options {
	return Options{MaxPasses: DefaultMaxPasses, Logger: zerolog.Nop()}
}

// Optimizer drives a module to its local fixpoint.
type Optimizer struct {
	analysis Analysis
	opts     Options
}

func New(analysis Analysis, opts Options) *Optimizer {
	if opts.MaxPasses <= 0 {
		opts.MaxPasses = DefaultMaxPasses
	}
	return &Optimizer{analysis: analysis, opts: opts}
}

// OptimizeModule repeats passes until one signals nothing and returns the
// number of passes run, the final empty one included.
func (o *Optimizer) OptimizeModule(mod *ast.Module) (int, error) {
	if mod == nil {
		return 0, errNilModule
	}
	ev := o.opts.Logger.Debug()
	if o.opts.Progress {
		ev = o.opts.Logger.Info()
	}
	ev.Str("module", mod.Name).Msg("doing module local optimizations")

	changes := NewChangeSet()
	for pass := 1; ; pass++ {
		if pass > o.opts.MaxPasses {
			return pass - 1, errors.Wrapf(ErrPassLimit, "module %s: %d passes", mod.Name, o.opts.MaxPasses)
		}
		changes.Clear()
		if err := o.optimizePass(mod, changes, pass); err != nil {
			return pass, err
		}
		if changes.IsEmpty() {
			return pass, nil
		}
	}
}

func (o *Optimizer) optimizePass(mod *ast.Module, changes *ChangeSet, pass int) error {
	signal := func(tags string, ref ast.SourceRef, message string) {
		changes.Add(tags)
		if o.opts.Tracer != nil {
			o.opts.Tracer.Trace(Signal{
				Module:   mod.Name,
				Pass:     pass,
				Tags:     strings.Fields(tags),
				Location: ref,
				Message:  message,
			})
		}
	}

	written, err := o.analysis.Process(mod, signal)
	if err != nil {
		return errors.Wrapf(err, "module %s", mod.Name)
	}

	for _, v := range mod.Variables() {
		if written.Has(v) {
			if v.ReadOnly() {
				return errors.Wrapf(ErrReadOnlyRevoked, "variable %s", v)
			}
			continue
		}
		if v.MarkReadOnly() {
			signal("read_only_mvar", mod.SourceRef(),
				fmt.Sprintf("Determined variable '%s' is only read.", v.Name()))
		}
	}
	return nil
}
