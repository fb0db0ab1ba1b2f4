//go:build !cgo
// +build !cgo

package compiler

// WatToWasm needs wasmtime-go. Without cgo the text form is all a
// compilation produces.
func (g *Generator) WatToWasm(wat string) ([]byte, error) {
	return nil, nil
}
