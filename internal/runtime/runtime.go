//go:build cgo
// +build cgo

package runtime

import (
	"encoding/binary"
	"errors"

	"github.com/bytecodealliance/wasmtime-go"
	"github.com/rs/zerolog"

	"gyokuro/internal/codegen"
)

// Runtime implements the host side of the call ABI on top of a Heap.
type Runtime struct {
	*Heap
	log zerolog.Logger
}

func NewRuntime(log zerolog.Logger) *Runtime {
	return &Runtime{Heap: NewHeap(), log: log}
}

// result turns a host operation outcome into a handle. Exceptions are left
// pending for the generated code to unwind; anything else traps.
func (r *Runtime) result(handle int32, err error) int32 {
	if err == nil {
		return handle
	}
	var exc *Exception
	if errors.As(err, &exc) {
		r.log.Debug().Str("exception", exc.Error()).Msg("host operation raised")
		return r.Fail(err)
	}
	panic(wasmtime.NewTrap(err.Error()))
}

func (r *Runtime) status(err error) int32 {
	return r.result(1, err)
}

func (r *Runtime) Define(linker *wasmtime.Linker, store *wasmtime.Store) error {
	define := func(name string, fn interface{}) error {
		return linker.DefineFunc(store, codegen.HostModule, name, fn)
	}
	funcs := map[string]interface{}{
		"call_no_args": func(fn int32) int32 {
			return r.result(r.Call(fn, nil, nil))
		},
		"call_vector": func(caller *wasmtime.Caller, fn, argv, argc int32) int32 {
			args, err := readHandles(caller, argv, argc)
			if err != nil {
				return r.result(0, err)
			}
			return r.result(r.Call(fn, args, nil))
		},
		"call_posargs": func(fn, args int32) int32 {
			return r.result(r.CallTuple(fn, args, 0))
		},
		"call_keyargs": func(fn, kw int32) int32 {
			return r.result(r.CallTuple(fn, 0, kw))
		},
		"call": func(fn, args, kw int32) int32 {
			return r.result(r.CallTuple(fn, args, kw))
		},
		"incref": func(h int32) {
			r.result(0, r.Incref(h))
		},
		"decref": func(h int32) {
			r.result(0, r.Decref(h))
		},
		"str_from_utf8": func(caller *wasmtime.Caller, ptr, length int32) int32 {
			s, err := readString(caller, ptr, length)
			if err != nil {
				return r.result(0, err)
			}
			return r.Str(s)
		},
		"int_from_i64": func(v int64) int32 {
			return r.Int(v)
		},
		"builtin": func(caller *wasmtime.Caller, ptr, length int32) int32 {
			name, err := readString(caller, ptr, length)
			if err != nil {
				return r.result(0, err)
			}
			return r.result(r.Builtin(name))
		},
		"bound": func(caller *wasmtime.Caller, h, ptr, length int32) int32 {
			if h != 0 {
				return h
			}
			name, err := readString(caller, ptr, length)
			if err != nil {
				return r.result(0, err)
			}
			return r.Fail(raise("NameError", "name '%s' is not defined", name))
		},
		"getattr": func(caller *wasmtime.Caller, obj, ptr, length int32) int32 {
			name, err := readString(caller, ptr, length)
			if err != nil {
				return r.result(0, err)
			}
			return r.result(r.GetAttr(obj, name))
		},
		"tuple_new": func(n int32) int32 {
			return r.result(r.TupleNew(n))
		},
		"tuple_set": func(t, i, v int32) int32 {
			return r.status(r.TupleSet(t, i, v))
		},
		"tuple_concat": func(a, b int32) int32 {
			return r.result(r.TupleConcat(a, b))
		},
		"to_tuple": func(v int32) int32 {
			return r.result(r.ToTuple(v))
		},
		"dict_new": func() int32 {
			return r.DictNew()
		},
		"dict_set": func(d, k, v int32) int32 {
			return r.status(r.DictSet(d, k, v))
		},
		"dict_update": func(d, other int32) int32 {
			return r.status(r.DictUpdate(d, other))
		},
		"to_dict": func(v int32) int32 {
			return r.result(r.ToDict(v))
		},
	}
	for _, imp := range codegen.HostImports {
		fn, ok := funcs[imp.Name]
		if !ok {
			return errors.New("host function not implemented: " + imp.Name)
		}
		if err := define(imp.Name, fn); err != nil {
			return err
		}
	}
	return nil
}

func memory(caller *wasmtime.Caller) ([]byte, error) {
	ext := caller.GetExport("memory")
	if ext == nil || ext.Memory() == nil {
		return nil, errors.New("memory not found")
	}
	return ext.Memory().UnsafeData(caller), nil
}

func readString(caller *wasmtime.Caller, ptr, length int32) (string, error) {
	data, err := memory(caller)
	if err != nil {
		return "", err
	}
	start := int(ptr)
	end := start + int(length)
	if start < 0 || end < start || end > len(data) {
		return "", errors.New("string out of bounds")
	}
	return string(data[start:end]), nil
}

func readHandles(caller *wasmtime.Caller, argv, argc int32) ([]int32, error) {
	data, err := memory(caller)
	if err != nil {
		return nil, err
	}
	start := int(argv)
	end := start + 4*int(argc)
	if argc < 0 || start < 0 || end > len(data) {
		return nil, errors.New("argument vector out of bounds")
	}
	args := make([]int32, argc)
	for i := range args {
		args[i] = int32(binary.LittleEndian.Uint32(data[start+4*i:]))
	}
	return args, nil
}
