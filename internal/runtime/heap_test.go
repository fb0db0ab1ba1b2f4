package runtime

import (
	"strings"
	"testing"

	"github.com/pkg/errors"
)

// must fails the test when a host operation returns an error and passes
// the handle through otherwise.
func must(t *testing.T) func(int32, error) int32 {
	t.Helper()
	return func(h int32, err error) int32 {
		t.Helper()
		if err != nil {
			t.Fatalf("host operation: %v", err)
		}
		return h
	}
}

func release(t *testing.T, h *Heap, handles ...int32) {
	t.Helper()
	for _, x := range handles {
		if err := h.Decref(x); err != nil {
			t.Fatalf("decref %d: %v", x, err)
		}
	}
}

func TestDecrefFreesChildren(t *testing.T) {
	h := NewHeap()
	a, b := h.Str("a"), h.Int(2)
	tup := must(t)(h.Tuple([]int32{a, b}))
	release(t, h, a, b)
	if h.Live() != 3 || h.RefCount(a) != 1 {
		t.Fatalf("live %d, refs(a) %d", h.Live(), h.RefCount(a))
	}
	release(t, h, tup)
	if h.Live() != 0 {
		t.Fatalf("live %d after releasing tuple", h.Live())
	}
	if again := h.Str("x"); again > tup {
		t.Fatalf("freed handles not reused, got %d", again)
	}
}

func TestNullHandleReportsPendingException(t *testing.T) {
	h := NewHeap()
	if _, err := h.Call(0, nil, nil); err == nil || !strings.Contains(err.Error(), "SystemError") {
		t.Fatalf("unexpected error: %v", err)
	}
	h.Fail(raise("NameError", "name 'x' is not defined"))
	h.Fail(raise("TypeError", "later"))
	if _, err := h.Call(0, nil, nil); err == nil || err.Error() != "NameError: name 'x' is not defined" {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.Pending().Error() != "NameError: name 'x' is not defined" {
		t.Fatalf("pending %v", h.Pending())
	}
}

func TestPrintKeywords(t *testing.T) {
	h := NewHeap()
	print := must(t)(h.Builtin("print"))
	a, b := h.Str("a"), h.Int(1)
	kw := newDict()
	sep, end := h.Str("-"), h.Str("!\n")
	kw.Keys = []string{"sep", "end"}
	kw.Vals = map[string]int32{"sep": sep, "end": end}
	res := must(t)(h.Call(print, []int32{a, b}, kw))
	if h.Output() != "a-1!\n" {
		t.Fatalf("output %q", h.Output())
	}
	if h.Value(res).Kind != KindNone {
		t.Fatalf("print returned %s", h.Value(res).Kind)
	}
	release(t, h, res, print, a, b, sep, end)
	if h.Live() != 0 {
		t.Fatalf("live %d", h.Live())
	}
}

func TestEchoReturnsItsArgument(t *testing.T) {
	h := NewHeap()
	echo := must(t)(h.Builtin("echo"))
	s := h.Str("hi")
	res := must(t)(h.Call(echo, []int32{s}, nil))
	if res != s || h.RefCount(s) != 2 || h.Output() != "hi\n" {
		t.Fatalf("echo returned %d refs %d output %q", res, h.RefCount(s), h.Output())
	}
}

func TestMethodsAndErrors(t *testing.T) {
	h := NewHeap()
	s := h.Str("MiXed")
	upper := must(t)(h.GetAttr(s, "upper"))
	res := must(t)(h.Call(upper, nil, nil))
	if h.String(res) != "MIXED" {
		t.Fatalf("upper gave %q", h.String(res))
	}
	release(t, h, s)
	if h.RefCount(s) != 1 {
		t.Fatalf("method does not hold its receiver")
	}
	release(t, h, upper, res)
	if h.Live() != 0 {
		t.Fatalf("live %d", h.Live())
	}

	n := h.Int(3)
	var exc *Exception
	if _, err := h.GetAttr(n, "upper"); !errors.As(err, &exc) || exc.Type != "AttributeError" {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := h.Call(n, nil, nil); err == nil || err.Error() != "TypeError: 'int' object is not callable" {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := h.Builtin("nope"); err == nil || err.Error() != "NameError: name 'nope' is not defined" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDictUpdateRejectsRepeatedKeywords(t *testing.T) {
	h := NewHeap()
	d, other := h.DictNew(), h.DictNew()
	k, v := h.Str("end"), h.Str("!")
	if err := h.DictSet(d, k, v); err != nil {
		t.Fatalf("dict_set: %v", err)
	}
	if err := h.DictSet(other, k, v); err != nil {
		t.Fatalf("dict_set: %v", err)
	}
	err := h.DictUpdate(d, other)
	if err == nil || err.Error() != "TypeError: got multiple values for keyword argument 'end'" {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := h.DictSet(d, h.Int(1), v); err == nil {
		t.Fatalf("non-string keyword accepted")
	}
}

func TestStringRendering(t *testing.T) {
	h := NewHeap()
	one := must(t)(h.Tuple([]int32{h.Str("x")}))
	pair := must(t)(h.Tuple([]int32{h.Int(1), h.Str("it's")}))
	d := h.DictNew()
	h.DictSet(d, h.Str("k"), pair)
	cases := map[int32]string{
		one:      "('x',)",
		pair:     `(1, 'it\'s')`,
		d:        `{'k': (1, 'it\'s')}`,
		h.None(): "None",
	}
	for handle, want := range cases {
		if got := h.String(handle); got != want {
			t.Fatalf("got %s, want %s", got, want)
		}
	}
}

func TestToTupleExpandsStrings(t *testing.T) {
	h := NewHeap()
	s := h.Str("ab")
	tup := must(t)(h.ToTuple(s))
	if h.String(tup) != "('a', 'b')" {
		t.Fatalf("got %s", h.String(tup))
	}
	release(t, h, tup, s)
	if h.Live() != 0 {
		t.Fatalf("live %d", h.Live())
	}
	if _, err := h.ToTuple(h.Int(1)); err == nil {
		t.Fatalf("int expanded")
	}
}
