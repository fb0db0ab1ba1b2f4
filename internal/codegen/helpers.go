package codegen

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

const (
	HelperNoArgs   = "CALL_FUNCTION_NO_ARGS"
	HelperPosArgs  = "CALL_FUNCTION_WITH_POSARGS"
	HelperKeyArgs  = "CALL_FUNCTION_WITH_KEYARGS"
	HelperCall     = "CALL_FUNCTION"
	HelperFast     = "CALL_FUNCTION_FAST"
	HelperIncRef   = "INCREASE_REFCOUNT"
	HelperRelease  = "RELEASE"
	quickPrefix    = "CALL_FUNCTION_WITH_ARGS"
	argStackGlobal = "$__argsp"
)

// QuickHelper names the helper for a positional call with n arguments.
func QuickHelper(n int) string {
	return fmt.Sprintf("%s%d", quickPrefix, n)
}

// HostModule is the import module every generated program links against.
const HostModule = "rt"

// HostImport is one function of the host ABI.
type HostImport struct {
	Name    string
	Params  []string
	Results []string
}

func (h HostImport) signature() string {
	var parts []string
	if len(h.Params) > 0 {
		parts = append(parts, "(param "+strings.Join(h.Params, " ")+")")
	}
	if len(h.Results) > 0 {
		parts = append(parts, "(result "+strings.Join(h.Results, " ")+")")
	}
	if len(parts) == 0 {
		return ""
	}
	return " " + strings.Join(parts, " ")
}

func i32s(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = "i32"
	}
	return out
}

// HostImports is the host ABI in declaration order. Functions returning a
// handle return a new reference, or 0 with an exception pending.
var HostImports = []HostImport{
	{Name: "call_no_args", Params: i32s(1), Results: i32s(1)},
	{Name: "call_vector", Params: i32s(3), Results: i32s(1)},
	{Name: "call_posargs", Params: i32s(2), Results: i32s(1)},
	{Name: "call_keyargs", Params: i32s(2), Results: i32s(1)},
	{Name: "call", Params: i32s(3), Results: i32s(1)},
	{Name: "incref", Params: i32s(1)},
	{Name: "decref", Params: i32s(1)},
	{Name: "str_from_utf8", Params: i32s(2), Results: i32s(1)},
	{Name: "int_from_i64", Params: []string{"i64"}, Results: i32s(1)},
	{Name: "builtin", Params: i32s(2), Results: i32s(1)},
	{Name: "bound", Params: i32s(3), Results: i32s(1)},
	{Name: "getattr", Params: i32s(3), Results: i32s(1)},
	{Name: "tuple_new", Params: i32s(1), Results: i32s(1)},
	{Name: "tuple_set", Params: i32s(3), Results: i32s(1)},
	{Name: "tuple_concat", Params: i32s(2), Results: i32s(1)},
	{Name: "to_tuple", Params: i32s(1), Results: i32s(1)},
	{Name: "dict_new", Results: i32s(1)},
	{Name: "dict_set", Params: i32s(3), Results: i32s(1)},
	{Name: "dict_update", Params: i32s(2), Results: i32s(1)},
	{Name: "to_dict", Params: i32s(1), Results: i32s(1)},
}

func hostFunc(name string) string {
	return "$" + HostModule + "." + name
}

type textWriter struct {
	sb     strings.Builder
	indent int
}

func (w *textWriter) line(s string) {
	w.sb.WriteString(strings.Repeat("  ", w.indent))
	w.sb.WriteString(s)
	w.sb.WriteString("\n")
}

func (w *textWriter) open(s string) {
	w.line(s)
	w.indent++
}

func (w *textWriter) close() {
	w.indent--
	w.line(")")
}

// EmitHelpers writes the call helpers as module fields. The host imports
// come first, so the fragment must precede every other definition in the
// module. It freezes the registry.
func EmitHelpers(registry *QuickCalls) (string, error) {
	if registry == nil {
		return "", errors.New("emit helpers: nil quick-call registry")
	}
	w := &textWriter{}
	emitPreamble(w)
	emitFastHelper(w)
	for _, n := range registry.Finalize() {
		emitQuickHelper(w, n)
	}
	return w.sb.String(), nil
}

func emitPreamble(w *textWriter) {
	for _, imp := range HostImports {
		w.line(fmt.Sprintf("(import %q %q (func %s%s))", HostModule, imp.Name, hostFunc(imp.Name), imp.signature()))
	}
	w.line(fmt.Sprintf("(global %s (mut i32) (i32.const 0))", argStackGlobal))

	w.open(fmt.Sprintf("(func $%s (param $fn i32) (result i32)", HelperNoArgs))
	w.line(fmt.Sprintf("(call %s (local.get $fn))", hostFunc("call_no_args")))
	w.close()
	w.open(fmt.Sprintf("(func $%s (param $fn i32) (param $args i32) (result i32)", HelperPosArgs))
	w.line(fmt.Sprintf("(call %s (local.get $fn) (local.get $args))", hostFunc("call_posargs")))
	w.close()
	w.open(fmt.Sprintf("(func $%s (param $fn i32) (param $kw i32) (result i32)", HelperKeyArgs))
	w.line(fmt.Sprintf("(call %s (local.get $fn) (local.get $kw))", hostFunc("call_keyargs")))
	w.close()
	w.open(fmt.Sprintf("(func $%s (param $fn i32) (param $args i32) (param $kw i32) (result i32)", HelperCall))
	w.line(fmt.Sprintf("(call %s (local.get $fn) (local.get $args) (local.get $kw))", hostFunc("call")))
	w.close()

	w.open(fmt.Sprintf("(func $%s (param $v i32) (result i32)", HelperIncRef))
	w.line(fmt.Sprintf("(if (local.get $v) (then (call %s (local.get $v))))", hostFunc("incref")))
	w.line("(local.get $v)")
	w.close()
	w.open(fmt.Sprintf("(func $%s (param $v i32)", HelperRelease))
	w.line(fmt.Sprintf("(if (local.get $v) (then (call %s (local.get $v))))", hostFunc("decref")))
	w.close()
}

func emitFastHelper(w *textWriter) {
	w.open(fmt.Sprintf("(func $%s (param $fn i32) (param $argv i32) (param $argc i32) (result i32)", HelperFast))
	w.line(fmt.Sprintf("(call %s (local.get $fn) (local.get $argv) (local.get $argc))", hostFunc("call_vector")))
	w.close()
}

// emitQuickHelper spills the n arguments onto the argument stack, which
// grows down from the top of memory, and makes a vector call.
func emitQuickHelper(w *textWriter, n int) {
	var sig strings.Builder
	sig.WriteString("(param $fn i32)")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&sig, " (param $a%d i32)", i)
	}
	w.open(fmt.Sprintf("(func $%s %s (result i32)", QuickHelper(n), sig.String()))
	w.line("(local $argv i32)")
	w.line("(local $result i32)")
	w.line(fmt.Sprintf("(global.set %s (i32.sub (global.get %s) (i32.const %d)))", argStackGlobal, argStackGlobal, 4*n))
	w.line(fmt.Sprintf("(local.set $argv (global.get %s))", argStackGlobal))
	for i := 0; i < n; i++ {
		w.line(fmt.Sprintf("(i32.store offset=%d (local.get $argv) (local.get $a%d))", 4*i, i))
	}
	w.line(fmt.Sprintf("(local.set $result (call $%s (local.get $fn) (local.get $argv) (i32.const %d)))", HelperFast, n))
	w.line(fmt.Sprintf("(global.set %s (i32.add (global.get %s) (i32.const %d)))", argStackGlobal, argStackGlobal, 4*n))
	w.line("(local.get $result)")
	w.close()
}

// ArgStackGlobal is the global the program entry point must set to the top
// of linear memory before the first quick call.
func ArgStackGlobal() string { return argStackGlobal }
