//go:build !cgo
// +build !cgo

package runtime

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

var errNoCgo = errors.New("cgo is disabled (wasmtime-go is required)")

type Runner struct{}

type Result struct {
	Output string
	Live   int
}

func NewRunner(log zerolog.Logger) *Runner {
	return &Runner{}
}

func (r *Runner) Run(wasm []byte) (string, error) {
	return "", errNoCgo
}

func (r *Runner) Execute(wasm []byte) (*Result, error) {
	return nil, errNoCgo
}
