package optimize

import (
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"gyokuro/internal/ast"
)

type DriverOptions struct {
	// Jobs bounds how many modules of one scan are optimized at once.
	Jobs   int
	Logger zerolog.Logger
}

// Driver optimizes the main module and then every module reachable through
// imports, each exactly once.
type Driver struct {
	opt     *Optimizer
	imports *Imports
	opts    DriverOptions

	mu     sync.Mutex
	done   map[*ast.Module]bool
	order  []*ast.Module
	passes map[*ast.Module]int
}

func NewDriver(opt *Optimizer, imports *Imports, opts DriverOptions) *Driver {
	if opts.Jobs <= 0 {
		opts.Jobs = 1
	}
	return &Driver{
		opt:     opt,
		imports: imports,
		opts:    opts,
		done:    map[*ast.Module]bool{},
		passes:  map[*ast.Module]int{},
	}
}

// OptimizeWhole runs until a full scan over the known modules finds nothing
// left to do. Modules discovered during a scan are handled by the next one.
// When main collapses onto an already registered module, the registered one
// is optimized.
func (d *Driver) OptimizeWhole(main *ast.Module) error {
	if _, err := d.imports.Add(main); err != nil {
		return err
	}
	if registered, ok := d.imports.Lookup(main.Name); ok {
		main = registered
	}
	if err := d.optimizeOne(main); err != nil {
		return err
	}
	for {
		var pending []*ast.Module
		for _, mod := range d.imports.Snapshot() {
			if !d.isDone(mod) {
				pending = append(pending, mod)
			}
		}
		if len(pending) == 0 {
			return nil
		}
		if err := d.optimizeAll(pending); err != nil {
			return err
		}
	}
}

func (d *Driver) optimizeAll(mods []*ast.Module) error {
	if d.opts.Jobs == 1 {
		for _, mod := range mods {
			if err := d.optimizeOne(mod); err != nil {
				return err
			}
		}
		return nil
	}
	var g errgroup.Group
	g.SetLimit(d.opts.Jobs)
	for _, mod := range mods {
		mod := mod
		g.Go(func() error { return d.optimizeOne(mod) })
	}
	return g.Wait()
}

func (d *Driver) optimizeOne(mod *ast.Module) error {
	if d.isDone(mod) {
		return nil
	}
	passes, err := d.opt.OptimizeModule(mod)
	if err != nil {
		return err
	}

	d.mu.Lock()
	if d.done[mod] {
		d.mu.Unlock()
		return nil
	}
	d.done[mod] = true
	d.order = append(d.order, mod)
	d.passes[mod] = passes
	finished := len(d.order)
	d.mu.Unlock()

	d.opts.Logger.Info().
		Str("module", mod.Name).
		Int("passes", passes).
		Int("remaining", d.imports.Len()-finished).
		Msg("finished module")
	return nil
}

func (d *Driver) isDone(mod *ast.Module) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.done[mod]
}

// Done returns the optimized modules in completion order.
func (d *Driver) Done() []*ast.Module {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*ast.Module(nil), d.order...)
}

func (d *Driver) Known() []*ast.Module {
	return d.imports.Snapshot()
}

// Passes reports how many passes mod needed, or 0 when it was not optimized.
func (d *Driver) Passes(mod *ast.Module) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.passes[mod]
}
