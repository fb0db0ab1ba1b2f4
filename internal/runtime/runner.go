//go:build cgo
// +build cgo

package runtime

import (
	"github.com/bytecodealliance/wasmtime-go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type Runner struct {
	engine *wasmtime.Engine
	log    zerolog.Logger
}

func NewRunner(log zerolog.Logger) *Runner {
	return &Runner{engine: wasmtime.NewEngine(), log: log}
}

// Result is the observable outcome of one program run.
type Result struct {
	Output string
	// Live counts values still referenced after the program finished.
	Live int
}

func (r *Runner) Run(wasm []byte) (string, error) {
	res, err := r.Execute(wasm)
	if res == nil {
		return "", err
	}
	return res.Output, err
}

// Execute instantiates wasm against a fresh runtime and calls _start. A zero
// status from _start reports the pending exception as the error.
func (r *Runner) Execute(wasm []byte) (*Result, error) {
	store := wasmtime.NewStore(r.engine)
	linker := wasmtime.NewLinker(r.engine)
	rt := NewRuntime(r.log)
	if err := rt.Define(linker, store); err != nil {
		return nil, err
	}
	module, err := wasmtime.NewModule(r.engine, wasm)
	if err != nil {
		return nil, errors.Wrap(err, "loading module")
	}
	instance, err := linker.Instantiate(store, module)
	if err != nil {
		return nil, errors.Wrap(err, "instantiating module")
	}
	start := instance.GetFunc(store, "_start")
	if start == nil {
		return nil, errors.New("module has no _start export")
	}
	status, err := start.Call(store)
	out := &Result{Output: rt.Output(), Live: rt.Live()}
	if err != nil {
		return out, errors.Wrap(err, "running module")
	}
	if s, ok := status.(int32); ok && s == 0 {
		if exc := rt.Pending(); exc != nil {
			return out, exc
		}
		return out, errors.New("program failed without an exception")
	}
	return out, nil
}
