// Package config holds the compiler options shared by the CLI and the
// compilation session.
package config

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/xyproto/env/v2"
)

const (
	DefaultMaxPasses     = 512
	DefaultMaxQuickArity = 16
	DefaultLogLevel      = "warn"
)

type Options struct {
	// LibDir is searched for modules after the importing and entry
	// directories.
	LibDir    string
	Progress  bool
	MaxPasses int
	Jobs      int
	// TraceDB is the sqlite file optimization signals are recorded in.
	// Empty disables tracing.
	TraceDB string
	// MaxQuickArity is the largest positional call lowered to a
	// fixed-arity helper. Anything larger builds a tuple.
	MaxQuickArity int
	LogLevel      string
}

func Default() Options {
	return Options{
		MaxPasses:     DefaultMaxPasses,
		Jobs:          1,
		MaxQuickArity: DefaultMaxQuickArity,
		LogLevel:      DefaultLogLevel,
	}
}

// FromEnv reads GYOKURO_* variables over the defaults. env caches the
// environment, so the cache is reloaded on every call.
func FromEnv() (Options, error) {
	env.Load()
	d := Default()
	o := Options{
		LibDir:        env.Str("GYOKURO_LIB_DIR"),
		Progress:      env.Bool("GYOKURO_PROGRESS"),
		MaxPasses:     env.Int("GYOKURO_MAX_PASSES", d.MaxPasses),
		Jobs:          env.Int("GYOKURO_JOBS", d.Jobs),
		TraceDB:       env.Str("GYOKURO_TRACE_DB"),
		MaxQuickArity: env.Int("GYOKURO_MAX_QUICK_ARITY", d.MaxQuickArity),
		LogLevel:      env.Str("GYOKURO_LOG_LEVEL", d.LogLevel),
	}
	return o, o.Validate()
}

func (o Options) Validate() error {
	if o.MaxPasses <= 0 {
		return errors.Errorf("max passes must be positive, got %d", o.MaxPasses)
	}
	if o.Jobs <= 0 {
		return errors.Errorf("jobs must be positive, got %d", o.Jobs)
	}
	if o.MaxQuickArity < 0 {
		return errors.Errorf("max quick arity must not be negative, got %d", o.MaxQuickArity)
	}
	_, err := o.Level()
	return err
}

// Level parses LogLevel.
func (o Options) Level() (zerolog.Level, error) {
	if strings.TrimSpace(o.LogLevel) == "" {
		return zerolog.WarnLevel, nil
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(o.LogLevel)))
	if err != nil {
		return zerolog.NoLevel, errors.Wrapf(err, "log level %q", o.LogLevel)
	}
	return lvl, nil
}
