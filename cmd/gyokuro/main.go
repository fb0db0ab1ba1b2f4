package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"gyokuro/internal/codegen"
	"gyokuro/internal/compiler"
	"gyokuro/internal/config"
	"gyokuro/internal/fault"
	"gyokuro/internal/runtime"
	"gyokuro/internal/trace"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	var err error
	switch os.Args[1] {
	case "build":
		err = buildCmd(os.Args[2:])
	case "run":
		err = runCmd(os.Args[2:])
	case "launch":
		err = launchCmd(os.Args[2:])
	case "helpers":
		err = helpersCmd(os.Args[2:])
	case "trace":
		err = traceCmd(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		exit(err)
	}
}

func exit(err error) {
	if fault.Is(err) {
		fmt.Fprintf(os.Stderr, "internal error: %+v\n", err)
		os.Exit(2)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  gyokuro build [flags] [-o <name>] <entry.json>")
	fmt.Fprintln(os.Stderr, "  gyokuro run [flags] [-json] <entry.json>")
	fmt.Fprintln(os.Stderr, "  gyokuro launch <entry.wasm>")
	fmt.Fprintln(os.Stderr, "  gyokuro helpers -arity 1,3")
	fmt.Fprintln(os.Stderr, "  gyokuro trace [-run <id>] <trace.db>")
	fmt.Fprintln(os.Stderr, "flags: -progress -jobs <n> -trace <db> -lib <dir>")
}

// common holds the flags shared by the compiling subcommands. Their
// defaults come from the environment.
type common struct {
	opts config.Options
	log  zerolog.Logger
}

func commonFlags(fs *flag.FlagSet) (*common, error) {
	opts, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	c := &common{opts: opts, log: zerolog.Nop()}
	fs.BoolVar(&c.opts.Progress, "progress", opts.Progress, "report module optimization progress")
	fs.IntVar(&c.opts.Jobs, "jobs", opts.Jobs, "modules optimized concurrently")
	fs.StringVar(&c.opts.TraceDB, "trace", opts.TraceDB, "record optimization signals in this sqlite file")
	fs.StringVar(&c.opts.LibDir, "lib", opts.LibDir, "extra module search directory")
	return c, nil
}

func (c *common) logger() (zerolog.Logger, error) {
	lvl, err := c.opts.Level()
	if err != nil {
		return zerolog.Nop(), err
	}
	if c.opts.Progress && lvl > zerolog.InfoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(lvl).With().Timestamp().Logger(), nil
}

// compile builds entry, recording signals when a trace db is configured.
func (c *common) compile(entry string) (*compiler.Result, error) {
	log, err := c.logger()
	if err != nil {
		return nil, err
	}
	c.log = log
	comp := compiler.New(c.opts, log)
	if c.opts.TraceDB != "" {
		store, err := trace.Open(c.opts.TraceDB)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		run, err := store.BeginRun(entry)
		if err != nil {
			return nil, err
		}
		comp.SetTracer(store.Tracer(run))
		res, err := comp.Compile(entry)
		if err == nil {
			err = store.Err()
		}
		log.Info().Str("run", run).Str("db", c.opts.TraceDB).Msg("recorded optimization trace")
		return res, err
	}
	return comp.Compile(entry)
}

func buildCmd(args []string) error {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	c, err := commonFlags(fs)
	if err != nil {
		return err
	}
	out := fs.String("o", "", "output base name, written next to the entry")
	_ = fs.Parse(args)
	if fs.NArg() < 1 {
		return errors.New("an entry manifest is required")
	}
	entry := fs.Arg(0)
	entryDir := filepath.Dir(entry)
	entryBase := filepath.Base(entry)
	if ext := filepath.Ext(entryBase); ext != "" {
		entryBase = entryBase[:len(entryBase)-len(ext)]
	}
	res, err := c.compile(entry)
	if err != nil {
		return err
	}
	base := *out
	if base == "" {
		base = entryBase
	}
	if filepath.Ext(base) != "" {
		base = base[:len(base)-len(filepath.Ext(base))]
	}
	basePath := filepath.Join(entryDir, filepath.Base(base))
	if err := os.WriteFile(basePath+".wat", []byte(res.Wat), 0644); err != nil {
		return err
	}
	if res.Wasm == nil {
		c.log.Warn().Msg("cgo is disabled, only the text module was written")
		return nil
	}
	return os.WriteFile(basePath+".wasm", res.Wasm, 0644)
}

// runResult is the -json report of a run.
type runResult struct {
	Stdout   string   `json:"stdout"`
	ExitCode int      `json:"exitCode"`
	Error    string   `json:"error,omitempty"`
	Live     int      `json:"live"`
	Modules  []string `json:"modules,omitempty"`
}

func runCmd(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	c, err := commonFlags(fs)
	if err != nil {
		return err
	}
	asJSON := fs.Bool("json", false, "print a JSON report instead of the program output")
	_ = fs.Parse(args)
	if fs.NArg() < 1 {
		return errors.New("an entry manifest is required")
	}
	res, err := c.compile(fs.Arg(0))
	if err != nil {
		if *asJSON {
			return printJSON(runResult{ExitCode: 1, Error: err.Error()})
		}
		return err
	}
	out, err := runtime.NewRunner(c.log).Execute(res.Wasm)
	if *asJSON {
		report := runResult{Modules: res.Modules}
		if out != nil {
			report.Stdout, report.Live = out.Output, out.Live
		}
		if err != nil {
			report.ExitCode, report.Error = 1, err.Error()
		}
		return printJSON(report)
	}
	if out != nil {
		fmt.Print(out.Output)
	}
	return err
}

func printJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func launchCmd(args []string) error {
	fs := flag.NewFlagSet("launch", flag.ExitOnError)
	_ = fs.Parse(args)
	if fs.NArg() < 1 {
		return errors.New("a wasm module is required")
	}
	wasm, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	out, err := runtime.NewRunner(zerolog.Nop()).Run(wasm)
	fmt.Print(out)
	return err
}

func helpersCmd(args []string) error {
	fs := flag.NewFlagSet("helpers", flag.ExitOnError)
	arity := fs.String("arity", "", "comma separated quick-call arities")
	_ = fs.Parse(args)
	reg := codegen.NewQuickCalls()
	for _, part := range strings.Split(*arity, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return errors.Wrapf(err, "arity %q", part)
		}
		if err := reg.Register(n); err != nil {
			return err
		}
	}
	text, err := codegen.EmitHelpers(reg)
	if err != nil {
		return err
	}
	fmt.Print(text)
	return nil
}

func traceCmd(args []string) error {
	fs := flag.NewFlagSet("trace", flag.ExitOnError)
	runID := fs.String("run", "", "run id, defaults to the latest run")
	_ = fs.Parse(args)
	if fs.NArg() < 1 {
		return errors.New("a trace database is required")
	}
	store, err := trace.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer store.Close()
	id := *runID
	if id == "" {
		runs, err := store.Runs()
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			return errors.New("no runs recorded")
		}
		last := runs[len(runs)-1]
		id = last.ID
		fmt.Printf("run %s %s %s\n", last.ID, last.Entry, last.Started.Format("2006-01-02 15:04:05"))
	}
	counts, err := store.Summary(id)
	if err != nil {
		return err
	}
	for _, c := range counts {
		fmt.Printf("%-16s %d\n", c.Tag, c.Count)
	}
	return nil
}
