//go:build cgo
// +build cgo

package compiler

import (
	"github.com/bytecodealliance/wasmtime-go"
	"github.com/pkg/errors"
)

func (g *Generator) WatToWasm(wat string) ([]byte, error) {
	wasm, err := wasmtime.Wat2Wasm(wat)
	if err != nil {
		return nil, errors.Wrap(err, "assembling generated module")
	}
	return wasm, nil
}
