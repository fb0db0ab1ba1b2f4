// Package loader reads program manifests and registers the modules they
// describe in the import registry.
package loader

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"gyokuro/internal/ast"
	"gyokuro/internal/optimize"
)

type Options struct {
	// LibDir is searched after the importing module's directory and the
	// entry directory.
	LibDir string
	Logger zerolog.Logger
}

type Loader struct {
	mu       sync.Mutex
	imports  *optimize.Imports
	opts     Options
	entryDir string
}

func New(imports *optimize.Imports, opts Options) *Loader {
	return &Loader{imports: imports, opts: opts}
}

// Load reads the entry manifest and registers it.
func (l *Loader) Load(entry string) (*ast.Module, error) {
	abs, err := filepath.Abs(entry)
	if err != nil {
		return nil, errors.Wrap(err, entry)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, errors.Wrap(err, "reading entry")
	}
	mod, err := Parse("", abs, data)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entryDir = filepath.Dir(abs)
	return l.register(mod)
}

// Import returns the module called name, reading it on first use. ref is
// the import statement, whose directory is searched first.
func (l *Loader) Import(name string, ref ast.SourceRef) (*ast.Module, error) {
	name, err := ast.CanonicalName(name)
	if err != nil {
		return nil, errors.Wrap(err, ref.String())
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if mod, ok := l.imports.Lookup(name); ok {
		return mod, nil
	}
	path, err := l.find(name, ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: importing '%s'", ref, name)
	}
	mod, err := Parse(name, path, data)
	if err != nil {
		return nil, err
	}
	l.opts.Logger.Debug().Str("module", name).Str("path", path).Msg("loaded module")
	return l.register(mod)
}

func (l *Loader) register(mod *ast.Module) (*ast.Module, error) {
	added, err := l.imports.Add(mod)
	if err != nil {
		return nil, err
	}
	if !added {
		// identical source already registered under this name
		prev, _ := l.imports.Lookup(mod.Name)
		return prev, nil
	}
	return mod, nil
}

func (l *Loader) find(name string, ref ast.SourceRef) (string, error) {
	rel := filepath.FromSlash(strings.ReplaceAll(name, ".", "/")) + ".json"
	var dirs []string
	if ref.Path != "" {
		dirs = append(dirs, filepath.Dir(ref.Path))
	}
	dirs = append(dirs, l.entryDir)
	if l.opts.LibDir != "" {
		dirs = append(dirs, l.opts.LibDir)
	}
	seen := map[string]bool{}
	for _, dir := range dirs {
		if dir == "" || seen[dir] {
			continue
		}
		seen[dir] = true
		candidate := filepath.Join(dir, rel)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", errors.Errorf("%s: no module named '%s'", ref, name)
}
