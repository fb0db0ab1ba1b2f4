package optimize

import (
	"strings"

	"github.com/rs/zerolog"

	"gyokuro/internal/ast"
)

// Signal is one reported local rewrite.
type Signal struct {
	Module   string
	Pass     int
	Tags     []string
	Location ast.SourceRef
	Message  string
}

// Tracer observes signals. It never influences the optimization.
type Tracer interface {
	Trace(s Signal)
}

type TracerFunc func(s Signal)

func (f TracerFunc) Trace(s Signal) { f(s) }

// LogTracer reports every signal as a debug event.
func LogTracer(log zerolog.Logger) Tracer {
	return TracerFunc(func(s Signal) {
		log.Debug().
			Str("module", s.Module).
			Int("pass", s.Pass).
			Str("tags", strings.Join(s.Tags, " ")).
			Str("location", s.Location.String()).
			Msg(s.Message)
	})
}

// MultiTracer fans a signal out to every non-nil tracer.
func MultiTracer(tracers ...Tracer) Tracer {
	var live []Tracer
	for _, t := range tracers {
		if t != nil {
			live = append(live, t)
		}
	}
	return TracerFunc(func(s Signal) {
		for _, t := range live {
			t.Trace(s)
		}
	})
}
