package runtime

import (
	"sort"
	"strings"
	"unicode/utf8"
)

type builtinFunc func(h *Heap, args []int32, kwargs *Dict) (int32, error)

type methodFunc func(h *Heap, self int32, args []int32, kwargs *Dict) (int32, error)

var builtins = map[string]builtinFunc{
	"print": builtinPrint,
	"echo":  builtinEcho,
	"str":   builtinStr,
	"len":   builtinLen,
	"tuple": builtinTuple,
	"dict":  builtinDict,
}

var methods = map[Kind]map[string]methodFunc{
	KindStr: {
		"upper": strMethod("upper", strings.ToUpper),
		"lower": strMethod("lower", strings.ToLower),
	},
}

// Builtins returns the names available without an import, sorted.
func Builtins() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsBuiltin reports whether name resolves to a builtin.
func IsBuiltin(name string) bool {
	_, ok := builtins[name]
	return ok
}

func noKeywords(name string, kwargs *Dict) error {
	if len(kwargs.Keys) > 0 {
		return raise("TypeError", "%s() got an unexpected keyword argument '%s'", name, kwargs.Keys[0])
	}
	return nil
}

func exactly(name string, n int, args []int32) error {
	if len(args) != n {
		return raise("TypeError", "%s() takes exactly %d argument(s) (%d given)", name, n, len(args))
	}
	return nil
}

func (h *Heap) strKeyword(kwargs *Dict, name, def string) (string, error) {
	handle, ok := kwargs.Vals[name]
	if !ok {
		return def, nil
	}
	v := h.values[handle]
	if v.Kind != KindStr {
		return "", raise("TypeError", "%s must be None or a string, not %s", name, v.Kind)
	}
	return v.Str, nil
}

func builtinPrint(h *Heap, args []int32, kwargs *Dict) (int32, error) {
	for _, k := range kwargs.Keys {
		if k != "sep" && k != "end" {
			return 0, raise("TypeError", "'%s' is an invalid keyword argument for print()", k)
		}
	}
	sep, err := h.strKeyword(kwargs, "sep", " ")
	if err != nil {
		return 0, err
	}
	end, err := h.strKeyword(kwargs, "end", "\n")
	if err != nil {
		return 0, err
	}
	for i, a := range args {
		if i > 0 {
			h.output.WriteString(sep)
		}
		h.output.WriteString(h.String(a))
	}
	h.output.WriteString(end)
	return h.None(), nil
}

// builtinEcho prints its argument and returns it, which makes evaluation
// order visible in program output.
func builtinEcho(h *Heap, args []int32, kwargs *Dict) (int32, error) {
	if err := noKeywords("echo", kwargs); err != nil {
		return 0, err
	}
	if err := exactly("echo", 1, args); err != nil {
		return 0, err
	}
	h.output.WriteString(h.String(args[0]))
	h.output.WriteString("\n")
	return args[0], h.Incref(args[0])
}

func builtinStr(h *Heap, args []int32, kwargs *Dict) (int32, error) {
	if err := noKeywords("str", kwargs); err != nil {
		return 0, err
	}
	if len(args) == 0 {
		return h.Str(""), nil
	}
	if err := exactly("str", 1, args); err != nil {
		return 0, err
	}
	return h.Str(h.String(args[0])), nil
}

func builtinLen(h *Heap, args []int32, kwargs *Dict) (int32, error) {
	if err := noKeywords("len", kwargs); err != nil {
		return 0, err
	}
	if err := exactly("len", 1, args); err != nil {
		return 0, err
	}
	v := h.values[args[0]]
	switch v.Kind {
	case KindStr:
		return h.Int(int64(utf8.RuneCountInString(v.Str))), nil
	case KindTuple:
		return h.Int(int64(len(v.Elems))), nil
	case KindDict:
		return h.Int(int64(len(v.Dict.Keys))), nil
	}
	return 0, raise("TypeError", "object of type '%s' has no len()", v.Kind)
}

func builtinTuple(h *Heap, args []int32, kwargs *Dict) (int32, error) {
	if err := noKeywords("tuple", kwargs); err != nil {
		return 0, err
	}
	return h.Tuple(args)
}

func builtinDict(h *Heap, args []int32, kwargs *Dict) (int32, error) {
	if len(args) > 0 {
		return 0, raise("TypeError", "dict() takes keyword arguments only")
	}
	out := h.DictNew()
	for _, k := range kwargs.Keys {
		key := h.Str(k)
		err := h.DictSet(out, key, kwargs.Vals[k])
		h.Decref(key)
		if err != nil {
			h.Decref(out)
			return 0, err
		}
	}
	return out, nil
}

func strMethod(name string, fn func(string) string) methodFunc {
	return func(h *Heap, self int32, args []int32, kwargs *Dict) (int32, error) {
		if err := noKeywords(name, kwargs); err != nil {
			return 0, err
		}
		if err := exactly(name, 0, args); err != nil {
			return 0, err
		}
		return h.Str(fn(h.values[self].Str)), nil
	}
}
