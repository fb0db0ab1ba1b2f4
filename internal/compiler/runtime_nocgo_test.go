//go:build !cgo
// +build !cgo

package compiler_test

func runtimeAvailable() bool { return false }
