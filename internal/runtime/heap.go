package runtime

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

type Kind int

const (
	KindNone Kind = iota
	KindInt
	KindStr
	KindTuple
	KindDict
	KindBuiltin
	KindMethod
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "NoneType"
	case KindInt:
		return "int"
	case KindStr:
		return "str"
	case KindTuple:
		return "tuple"
	case KindDict:
		return "dict"
	case KindBuiltin:
		return "builtin_function_or_method"
	case KindMethod:
		return "method"
	}
	return "object"
}

type Value struct {
	Kind  Kind
	Int   int64
	Str   string
	Elems []int32
	Dict  *Dict
	// Name is the builtin or method name.
	Name string
	// Self is the receiver of a bound method.
	Self int32

	refs int
}

// Dict maps keyword names to handles in insertion order.
type Dict struct {
	Keys []string
	Vals map[string]int32
}

func newDict() *Dict {
	return &Dict{Vals: map[string]int32{}}
}

// Exception is a language-level error raised by a host operation. It is
// left pending and reported when the program unwinds.
type Exception struct {
	Type    string
	Message string
}

func (e *Exception) Error() string { return e.Type + ": " + e.Message }

func raise(typ, format string, args ...interface{}) error {
	return &Exception{Type: typ, Message: fmt.Sprintf(format, args...)}
}

// Heap holds reference-counted values addressed by int32 handles. Handle 0
// is never allocated.
type Heap struct {
	values  []Value
	free    []int32
	live    int
	output  bytes.Buffer
	pending error
}

func NewHeap() *Heap {
	return &Heap{values: []Value{{}}}
}

func (h *Heap) Output() string { return h.output.String() }

// Live is the number of values with outstanding references.
func (h *Heap) Live() int { return h.live }

// Pending returns the exception left by the last failing operation.
func (h *Heap) Pending() error { return h.pending }

// Fail records err as pending unless an earlier exception is still
// pending, and returns the NULL handle.
func (h *Heap) Fail(err error) int32 {
	if h.pending == nil {
		h.pending = err
	}
	return 0
}

func (h *Heap) alloc(v Value) int32 {
	v.refs = 1
	h.live++
	if n := len(h.free); n > 0 {
		handle := h.free[n-1]
		h.free = h.free[:n-1]
		h.values[handle] = v
		return handle
	}
	h.values = append(h.values, v)
	return int32(len(h.values) - 1)
}

func (h *Heap) get(handle int32) (*Value, error) {
	if handle == 0 {
		if h.pending != nil {
			return nil, h.pending
		}
		return nil, raise("SystemError", "NULL value passed to operation")
	}
	if handle < 0 || int(handle) >= len(h.values) || h.values[handle].refs <= 0 {
		return nil, fmt.Errorf("invalid handle: %d", handle)
	}
	return &h.values[handle], nil
}

func (h *Heap) Incref(handle int32) error {
	v, err := h.get(handle)
	if err != nil {
		return err
	}
	v.refs++
	return nil
}

func (h *Heap) Decref(handle int32) error {
	v, err := h.get(handle)
	if err != nil {
		return err
	}
	v.refs--
	if v.refs > 0 {
		return nil
	}
	dead := *v
	h.values[handle] = Value{}
	h.free = append(h.free, handle)
	h.live--
	for _, e := range dead.Elems {
		if err := h.Decref(e); err != nil {
			return err
		}
	}
	if dead.Dict != nil {
		for _, k := range dead.Dict.Keys {
			if err := h.Decref(dead.Dict.Vals[k]); err != nil {
				return err
			}
		}
	}
	if dead.Self != 0 {
		return h.Decref(dead.Self)
	}
	return nil
}

// RefCount reports the references held on handle, 0 when it is free.
func (h *Heap) RefCount(handle int32) int {
	if handle <= 0 || int(handle) >= len(h.values) {
		return 0
	}
	return h.values[handle].refs
}

func (h *Heap) None() int32              { return h.alloc(Value{Kind: KindNone}) }
func (h *Heap) Int(n int64) int32        { return h.alloc(Value{Kind: KindInt, Int: n}) }
func (h *Heap) Str(s string) int32       { return h.alloc(Value{Kind: KindStr, Str: s}) }
func (h *Heap) Value(handle int32) Value { return h.values[handle] }

// Tuple builds a tuple referencing elems, taking a new reference to each.
func (h *Heap) Tuple(elems []int32) (int32, error) {
	for _, e := range elems {
		if err := h.Incref(e); err != nil {
			return 0, err
		}
	}
	return h.alloc(Value{Kind: KindTuple, Elems: append([]int32(nil), elems...)}), nil
}

func (h *Heap) TupleNew(n int32) (int32, error) {
	if n < 0 {
		return 0, fmt.Errorf("negative tuple size %d", n)
	}
	return h.alloc(Value{Kind: KindTuple, Elems: make([]int32, n)}), nil
}

// TupleSet fills slot i of a tuple under construction.
func (h *Heap) TupleSet(tuple, i, item int32) error {
	t, err := h.get(tuple)
	if err != nil {
		return err
	}
	if t.Kind != KindTuple || i < 0 || int(i) >= len(t.Elems) || t.Elems[i] != 0 {
		return fmt.Errorf("tuple_set: bad slot %d of handle %d", i, tuple)
	}
	if err := h.Incref(item); err != nil {
		return err
	}
	h.values[tuple].Elems[i] = item
	return nil
}

func (h *Heap) TupleConcat(a, b int32) (int32, error) {
	x, err := h.get(a)
	if err != nil {
		return 0, err
	}
	y, err := h.get(b)
	if err != nil {
		return 0, err
	}
	if x.Kind != KindTuple || y.Kind != KindTuple {
		return 0, raise("TypeError", "can only concatenate tuple (not \"%s\") to tuple", y.Kind)
	}
	return h.Tuple(append(append([]int32(nil), x.Elems...), y.Elems...))
}

// ToTuple converts the argument of a star expansion.
func (h *Heap) ToTuple(handle int32) (int32, error) {
	v, err := h.get(handle)
	if err != nil {
		return 0, err
	}
	switch v.Kind {
	case KindTuple:
		return handle, h.Incref(handle)
	case KindStr:
		chars := make([]int32, 0, len(v.Str))
		for _, r := range v.Str {
			chars = append(chars, h.Str(string(r)))
		}
		t, err := h.Tuple(chars)
		for _, c := range chars {
			h.Decref(c)
		}
		return t, err
	}
	return 0, raise("TypeError", "argument after * must be an iterable, not %s", v.Kind)
}

func (h *Heap) DictNew() int32 {
	return h.alloc(Value{Kind: KindDict, Dict: newDict()})
}

func (h *Heap) dict(handle int32) (*Dict, error) {
	v, err := h.get(handle)
	if err != nil {
		return nil, err
	}
	if v.Kind != KindDict {
		return nil, raise("TypeError", "'%s' object is not a mapping", v.Kind)
	}
	return v.Dict, nil
}

// DictSet stores a new reference to val under the string key.
func (h *Heap) DictSet(dict, key, val int32) error {
	d, err := h.dict(dict)
	if err != nil {
		return err
	}
	k, err := h.get(key)
	if err != nil {
		return err
	}
	if k.Kind != KindStr {
		return raise("TypeError", "keywords must be strings")
	}
	if err := h.Incref(val); err != nil {
		return err
	}
	if old, ok := d.Vals[k.Str]; ok {
		d.Vals[k.Str] = val
		return h.Decref(old)
	}
	d.Keys = append(d.Keys, k.Str)
	d.Vals[k.Str] = val
	return nil
}

// DictUpdate merges other into dict as a keyword expansion: repeated keys
// are an error.
func (h *Heap) DictUpdate(dict, other int32) error {
	d, err := h.dict(dict)
	if err != nil {
		return err
	}
	o, err := h.dict(other)
	if err != nil {
		return raise("TypeError", "argument after ** must be a mapping")
	}
	for _, k := range o.Keys {
		if _, dup := d.Vals[k]; dup {
			return raise("TypeError", "got multiple values for keyword argument '%s'", k)
		}
		v := o.Vals[k]
		if err := h.Incref(v); err != nil {
			return err
		}
		d.Keys = append(d.Keys, k)
		d.Vals[k] = v
	}
	return nil
}

func (h *Heap) ToDict(handle int32) (int32, error) {
	out := h.DictNew()
	if err := h.DictUpdate(out, handle); err != nil {
		h.Decref(out)
		return 0, err
	}
	return out, nil
}

func (h *Heap) Builtin(name string) (int32, error) {
	if _, ok := builtins[name]; !ok {
		return 0, raise("NameError", "name '%s' is not defined", name)
	}
	return h.alloc(Value{Kind: KindBuiltin, Name: name}), nil
}

// GetAttr looks up a method of obj and binds it.
func (h *Heap) GetAttr(obj int32, name string) (int32, error) {
	v, err := h.get(obj)
	if err != nil {
		return 0, err
	}
	if _, ok := methods[v.Kind][name]; !ok {
		return 0, raise("AttributeError", "'%s' object has no attribute '%s'", v.Kind, name)
	}
	if err := h.Incref(obj); err != nil {
		return 0, err
	}
	return h.alloc(Value{Kind: KindMethod, Name: name, Self: obj}), nil
}

// Call invokes fn with borrowed arguments and returns a new reference.
// kwargs may be nil.
func (h *Heap) Call(fn int32, args []int32, kwargs *Dict) (int32, error) {
	f, err := h.get(fn)
	if err != nil {
		return 0, err
	}
	for _, a := range args {
		if _, err := h.get(a); err != nil {
			return 0, err
		}
	}
	if kwargs == nil {
		kwargs = newDict()
	}
	switch f.Kind {
	case KindBuiltin:
		return builtins[f.Name](h, args, kwargs)
	case KindMethod:
		self := f.Self
		recv := h.values[self]
		return methods[recv.Kind][f.Name](h, self, args, kwargs)
	}
	return 0, raise("TypeError", "'%s' object is not callable", f.Kind)
}

// CallTuple calls fn with the elements of a tuple and the entries of a
// dict, either of which may be 0 when absent.
func (h *Heap) CallTuple(fn, tuple, dict int32) (int32, error) {
	var args []int32
	if tuple != 0 {
		t, err := h.get(tuple)
		if err != nil {
			return 0, err
		}
		if t.Kind != KindTuple {
			return 0, raise("TypeError", "argument list must be a tuple, not %s", t.Kind)
		}
		args = t.Elems
	}
	var kw *Dict
	if dict != 0 {
		d, err := h.dict(dict)
		if err != nil {
			return 0, err
		}
		kw = d
	}
	return h.Call(fn, args, kw)
}

// Repr renders handle the way the language's repr does.
func (h *Heap) Repr(handle int32) string {
	v := h.values[handle]
	if v.Kind == KindStr {
		return "'" + strings.ReplaceAll(v.Str, "'", "\\'") + "'"
	}
	return h.String(handle)
}

// String renders handle the way the language's str does.
func (h *Heap) String(handle int32) string {
	v := h.values[handle]
	switch v.Kind {
	case KindNone:
		return "None"
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindStr:
		return v.Str
	case KindTuple:
		parts := make([]string, len(v.Elems))
		for i, e := range v.Elems {
			parts[i] = h.Repr(e)
		}
		if len(parts) == 1 {
			return "(" + parts[0] + ",)"
		}
		return "(" + strings.Join(parts, ", ") + ")"
	case KindDict:
		parts := make([]string, len(v.Dict.Keys))
		for i, k := range v.Dict.Keys {
			parts[i] = "'" + k + "': " + h.Repr(v.Dict.Vals[k])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case KindBuiltin:
		return "<built-in function " + v.Name + ">"
	case KindMethod:
		return fmt.Sprintf("<built-in method %s of %s object>", v.Name, h.values[v.Self].Kind)
	}
	return "<object>"
}
