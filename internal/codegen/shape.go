package codegen

import (
	"fmt"

	"github.com/pkg/errors"

	"gyokuro/internal/fault"
)

var ErrShapeMismatch = fault.New("call shape mismatch")

type ShapeKind int

const (
	NoArgs ShapeKind = iota
	PositionalQuick
	PositionalGeneric
	Keyword
	PositionalAndKeyword
)

func (k ShapeKind) String() string {
	switch k {
	case NoArgs:
		return "NoArgs"
	case PositionalQuick:
		return "PositionalQuick"
	case PositionalGeneric:
		return "PositionalGeneric"
	case Keyword:
		return "Keyword"
	case PositionalAndKeyword:
		return "PositionalAndKeyword"
	}
	return "ShapeKind(?)"
}

// Operand is a value taking part in a call. Ordered marks operands whose
// evaluation has observable effects relative to the others.
type Operand struct {
	Value   Identifier
	Ordered bool
}

type KeywordPair struct {
	Key   Operand
	Value Operand
}

// CallShape is how the arguments of one call are packaged. Exactly one of
// Dict and Pairs is used by the keyword shapes; Pairs builds a fresh mapping
// in source order.
type CallShape struct {
	Kind  ShapeKind
	Arity int
	Args  []Operand
	Tuple *Operand
	Dict  *Operand
	Pairs []KeywordPair
}

func NoArgsShape() CallShape {
	return CallShape{Kind: NoArgs}
}

func QuickShape(args ...Operand) CallShape {
	return CallShape{Kind: PositionalQuick, Arity: len(args), Args: args}
}

func GenericShape(tuple Operand) CallShape {
	return CallShape{Kind: PositionalGeneric, Tuple: &tuple}
}

func KeywordShape(dict *Operand, pairs ...KeywordPair) CallShape {
	return CallShape{Kind: Keyword, Dict: dict, Pairs: pairs}
}

func MixedShape(tuple Operand, dict *Operand, pairs ...KeywordPair) CallShape {
	return CallShape{Kind: PositionalAndKeyword, Tuple: &tuple, Dict: dict, Pairs: pairs}
}

func mismatch(s CallShape, format string, args ...interface{}) error {
	return errors.Wrapf(ErrShapeMismatch, "%s: %s", s.Kind, fmt.Sprintf(format, args...))
}

func (s CallShape) validate() error {
	positional := func() error {
		if len(s.Args) > 0 {
			return mismatch(s, "unexpected direct arguments")
		}
		if s.Tuple == nil {
			return mismatch(s, "missing argument tuple")
		}
		if k := s.Tuple.Value.Kind(); k != KindTuple {
			return mismatch(s, "argument aggregate is a %s", k)
		}
		return nil
	}
	mapping := func() error {
		switch {
		case s.Dict != nil && len(s.Pairs) > 0:
			return mismatch(s, "both a mapping and keyword pairs")
		case s.Dict != nil:
			if k := s.Dict.Value.Kind(); k != KindDict {
				return mismatch(s, "keyword mapping is a %s", k)
			}
		case len(s.Pairs) == 0:
			return mismatch(s, "missing keyword mapping")
		}
		for i, p := range s.Pairs {
			if p.Key.Value.Kind() != KindObject || p.Value.Value.Kind() != KindObject {
				return mismatch(s, "keyword pair %d is not a plain value", i)
			}
		}
		return nil
	}
	noMapping := func() error {
		if s.Dict != nil || len(s.Pairs) > 0 {
			return mismatch(s, "unexpected keyword mapping")
		}
		return nil
	}

	switch s.Kind {
	case NoArgs:
		if len(s.Args) > 0 || s.Tuple != nil || s.Arity != 0 {
			return mismatch(s, "unexpected arguments")
		}
		return noMapping()
	case PositionalQuick:
		if s.Arity <= 0 {
			return mismatch(s, "arity %d", s.Arity)
		}
		if len(s.Args) != s.Arity {
			return mismatch(s, "arity %d with %d arguments", s.Arity, len(s.Args))
		}
		if s.Tuple != nil {
			return mismatch(s, "unexpected argument tuple")
		}
		for i, a := range s.Args {
			if k := a.Value.Kind(); k != KindObject {
				return mismatch(s, "argument %d is a %s", i, k)
			}
		}
		return noMapping()
	case PositionalGeneric:
		if err := positional(); err != nil {
			return err
		}
		return noMapping()
	case Keyword:
		if len(s.Args) > 0 || s.Tuple != nil {
			return mismatch(s, "unexpected positional arguments")
		}
		return mapping()
	case PositionalAndKeyword:
		if err := positional(); err != nil {
			return err
		}
		return mapping()
	}
	return mismatch(s, "unknown shape")
}

// operands lists the shape's values in source evaluation order.
func (s CallShape) operands() []Operand {
	var out []Operand
	out = append(out, s.Args...)
	if s.Tuple != nil {
		out = append(out, *s.Tuple)
	}
	if s.Dict != nil {
		out = append(out, *s.Dict)
	}
	for _, p := range s.Pairs {
		out = append(out, p.Key, p.Value)
	}
	return out
}
