// Package compiler ties loading, whole-program optimization and code
// generation into one compilation.
package compiler

import (
	"github.com/rs/zerolog"

	"gyokuro/internal/analysis"
	"gyokuro/internal/ast"
	"gyokuro/internal/codegen"
	"gyokuro/internal/config"
	"gyokuro/internal/loader"
	"gyokuro/internal/optimize"
)

type Result struct {
	Wat  string
	Wasm []byte
	// Modules lists the optimized modules, main first.
	Modules      []string
	QuickArities []int
}

type Compiler struct {
	opts   config.Options
	log    zerolog.Logger
	tracer optimize.Tracer
}

func New(opts config.Options, log zerolog.Logger) *Compiler {
	return &Compiler{opts: opts, log: log}
}

// SetTracer adds an observer for optimization signals. Signals are always
// logged at debug level as well.
func (c *Compiler) SetTracer(t optimize.Tracer) {
	c.tracer = t
}

// session is the state of one compilation. Nothing in it outlives Compile.
type session struct {
	imports *optimize.Imports
	quick   *codegen.QuickCalls
	loader  *loader.Loader
	driver  *optimize.Driver
}

func (c *Compiler) newSession() *session {
	imports := optimize.NewImports()
	ld := loader.New(imports, loader.Options{LibDir: c.opts.LibDir, Logger: c.log})
	opt := optimize.New(analysis.New(ld), optimize.Options{
		MaxPasses: c.opts.MaxPasses,
		Progress:  c.opts.Progress,
		Tracer:    optimize.MultiTracer(optimize.LogTracer(c.log), c.tracer),
		Logger:    c.log,
	})
	return &session{
		imports: imports,
		quick:   codegen.NewQuickCalls(),
		loader:  ld,
		driver:  optimize.NewDriver(opt, imports, optimize.DriverOptions{Jobs: c.opts.Jobs, Logger: c.log}),
	}
}

func (c *Compiler) Compile(entry string) (*Result, error) {
	if err := c.opts.Validate(); err != nil {
		return nil, err
	}
	s := c.newSession()
	main, err := s.loader.Load(entry)
	if err != nil {
		return nil, err
	}
	if err := s.driver.OptimizeWhole(main); err != nil {
		return nil, err
	}

	done := s.driver.Done()
	gen := NewGenerator(main, done, s.quick, GeneratorOptions{
		MaxQuickArity: c.opts.MaxQuickArity,
		Logger:        c.log,
	})
	wat, err := gen.Generate()
	if err != nil {
		return nil, err
	}
	wasm, err := gen.WatToWasm(wat)
	if err != nil {
		return nil, err
	}
	c.log.Info().
		Str("entry", main.Path).
		Int("modules", len(done)).
		Ints("quick_arities", s.quick.Finalize()).
		Msg("compiled")
	return &Result{
		Wat:          wat,
		Wasm:         wasm,
		Modules:      moduleNames(done),
		QuickArities: s.quick.Finalize(),
	}, nil
}

func moduleNames(mods []*ast.Module) []string {
	names := make([]string, len(mods))
	for i, m := range mods {
		names[i] = m.Name
	}
	return names
}
