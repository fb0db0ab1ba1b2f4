// Package fault classifies compiler-internal consistency failures.
//
// A fault means an earlier compiler stage handed over something it promised
// never to produce. Faults abort the compilation; nothing retries them.
package fault

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrInternal is matched by every fault.
var ErrInternal = errors.New("internal consistency fault")

type internalError struct {
	msg string
}

func (e *internalError) Error() string { return e.msg }

func (e *internalError) Is(target error) bool { return target == ErrInternal }

// New returns a fault sentinel. Wrapping it keeps errors.Is(err, ErrInternal) true.
func New(msg string) error {
	return &internalError{msg: msg}
}

// Newf formats a one-off fault with a stack trace attached.
func Newf(format string, args ...interface{}) error {
	return errors.WithStack(&internalError{msg: fmt.Sprintf(format, args...)})
}

// Is reports whether err is an internal consistency fault.
func Is(err error) bool {
	return errors.Is(err, ErrInternal)
}
