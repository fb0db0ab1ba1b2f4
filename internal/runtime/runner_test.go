//go:build cgo
// +build cgo

package runtime

import (
	"strings"
	"testing"

	"github.com/bytecodealliance/wasmtime-go"
	"github.com/rs/zerolog"

	"gyokuro/internal/codegen"
)

// program assembles a module around body, which becomes the body of a
// _start returning a status. The data segment holds "printhix" at 0.
func program(t *testing.T, arities []int, locals, body string) []byte {
	t.Helper()
	reg := codegen.NewQuickCalls()
	for _, n := range arities {
		if err := reg.Register(n); err != nil {
			t.Fatal(err)
		}
	}
	helpers, err := codegen.EmitHelpers(reg)
	if err != nil {
		t.Fatal(err)
	}
	var sb strings.Builder
	sb.WriteString("(module\n")
	sb.WriteString(helpers)
	sb.WriteString("(memory $memory 1)\n")
	sb.WriteString("(export \"memory\" (memory $memory))\n")
	sb.WriteString("(data (i32.const 0) \"printhix\")\n")
	sb.WriteString("(func $_start (export \"_start\") (result i32)\n")
	sb.WriteString(locals + "\n")
	sb.WriteString("(global.set " + codegen.ArgStackGlobal() + " (i32.mul (memory.size) (i32.const 65536)))\n")
	sb.WriteString(body + "\n")
	sb.WriteString("))\n")
	wasm, err := wasmtime.Wat2Wasm(sb.String())
	if err != nil {
		t.Fatalf("wat2wasm: %v\n%s", err, sb.String())
	}
	return wasm
}

func TestRunnerQuickCall(t *testing.T) {
	wasm := program(t, []int{2}, "(local $p i32) (local $s i32) (local $n i32) (local $r i32)", `
(local.set $p (call $rt.builtin (i32.const 0) (i32.const 5)))
(local.set $s (call $rt.str_from_utf8 (i32.const 5) (i32.const 2)))
(local.set $n (call $rt.int_from_i64 (i64.const 7)))
(local.set $r (call $CALL_FUNCTION_WITH_ARGS2 (local.get $p) (local.get $s) (local.get $n)))
(call $RELEASE (local.get $r))
(call $RELEASE (local.get $n))
(call $RELEASE (local.get $s))
(call $RELEASE (local.get $p))
(i32.ne (local.get $r) (i32.const 0))`)
	res, err := NewRunner(zerolog.Nop()).Execute(wasm)
	if err != nil {
		t.Fatal(err)
	}
	if res.Output != "hi 7\n" {
		t.Fatalf("output %q", res.Output)
	}
	if res.Live != 0 {
		t.Fatalf("%d values leaked", res.Live)
	}
}

func TestRunnerRejectsUnknownKeyword(t *testing.T) {
	wasm := program(t, nil, "(local $p i32) (local $s i32) (local $k i32) (local $d i32) (local $t i32) (local $r i32)", `
(local.set $p (call $rt.builtin (i32.const 0) (i32.const 5)))
(local.set $s (call $rt.str_from_utf8 (i32.const 5) (i32.const 2)))
(local.set $k (call $rt.str_from_utf8 (i32.const 0) (i32.const 3)))
(local.set $t (call $rt.tuple_new (i32.const 2)))
(drop (call $rt.tuple_set (local.get $t) (i32.const 0) (local.get $s)))
(drop (call $rt.tuple_set (local.get $t) (i32.const 1) (local.get $s)))
(local.set $d (call $rt.dict_new))
(drop (call $rt.dict_set (local.get $d) (call $rt.str_from_utf8 (i32.const 2) (i32.const 3)) (local.get $k)))
(local.set $r (call $CALL_FUNCTION (local.get $p) (local.get $t) (local.get $d)))
(call $RELEASE (local.get $r))
(call $RELEASE (local.get $d))
(call $RELEASE (local.get $t))
(call $RELEASE (local.get $k))
(call $RELEASE (local.get $s))
(call $RELEASE (local.get $p))
(i32.ne (local.get $r) (i32.const 0))`)
	res, err := NewRunner(zerolog.Nop()).Execute(wasm)
	if err == nil {
		t.Fatalf("unexpected success, output %q", res.Output)
	}
	// The key built from "int" is not a print keyword.
	if err.Error() != "TypeError: 'int' is an invalid keyword argument for print()" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunnerReportsPendingException(t *testing.T) {
	wasm := program(t, nil, "", `(call $rt.bound (i32.const 0) (i32.const 7) (i32.const 1))`)
	res, err := NewRunner(zerolog.Nop()).Execute(wasm)
	if err == nil || err.Error() != "NameError: name 'x' is not defined" {
		t.Fatalf("unexpected error: %v", err)
	}
	if res == nil || res.Output != "" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestRunnerTrapsOnInvalidHandle(t *testing.T) {
	wasm := program(t, nil, "", `(call $rt.decref (i32.const 99))
(i32.const 1)`)
	_, err := NewRunner(zerolog.Nop()).Run(wasm)
	if err == nil || !strings.Contains(err.Error(), "invalid handle: 99") {
		t.Fatalf("unexpected error: %v", err)
	}
}
