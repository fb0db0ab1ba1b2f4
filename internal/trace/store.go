// Package trace records optimization signals in a sqlite database so runs
// can be compared after the fact.
package trace

import (
	"database/sql"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"gyokuro/internal/optimize"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
  id TEXT PRIMARY KEY,
  entry TEXT NOT NULL,
  started TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS signals (
  run_id TEXT NOT NULL REFERENCES runs(id),
  module TEXT NOT NULL,
  pass INTEGER NOT NULL,
  tag TEXT NOT NULL,
  location TEXT NOT NULL,
  message TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS signals_run ON signals(run_id);
`

type Store struct {
	db *sql.DB

	mu  sync.Mutex
	err error
}

type Run struct {
	ID      string
	Entry   string
	Started time.Time
}

// TagCount is the number of signals carrying one tag.
type TagCount struct {
	Tag   string
	Count int
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening trace db %s", path)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "creating trace schema in %s", path)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// BeginRun registers a new run for entry and returns its id.
func (s *Store) BeginRun(entry string) (string, error) {
	id := uuid.NewString()
	started := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := s.db.Exec(`INSERT INTO runs (id, entry, started) VALUES (?, ?, ?)`, id, entry, started); err != nil {
		return "", errors.Wrap(err, "recording run")
	}
	return id, nil
}

// Tracer records every signal of a run, one row per tag. Write failures do
// not stop the optimization; the first one is kept for Err.
func (s *Store) Tracer(run string) optimize.Tracer {
	return optimize.TracerFunc(func(sig optimize.Signal) {
		tags := sig.Tags
		if len(tags) == 0 {
			tags = []string{""}
		}
		for _, tag := range tags {
			_, err := s.db.Exec(
				`INSERT INTO signals (run_id, module, pass, tag, location, message) VALUES (?, ?, ?, ?, ?, ?)`,
				run, sig.Module, sig.Pass, tag, sig.Location.String(), sig.Message)
			if err != nil {
				s.keep(errors.Wrapf(err, "recording signal of module %s", sig.Module))
				return
			}
		}
	})
}

func (s *Store) keep(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Err returns the first error a Tracer ran into.
func (s *Store) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Runs lists runs, oldest first.
func (s *Store) Runs() ([]Run, error) {
	rows, err := s.db.Query(`SELECT id, entry, started FROM runs ORDER BY rowid`)
	if err != nil {
		return nil, errors.Wrap(err, "listing runs")
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var r Run
		var started string
		if err := rows.Scan(&r.ID, &r.Entry, &started); err != nil {
			return nil, errors.Wrap(err, "listing runs")
		}
		if r.Started, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, errors.Wrapf(err, "run %s", r.ID)
		}
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "listing runs")
}

// Summary counts the signals of a run per tag, most frequent first. An
// unknown run is an error.
func (s *Store) Summary(run string) ([]TagCount, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM runs WHERE id = ?`, run).Scan(&n); err != nil {
		return nil, errors.Wrap(err, "looking up run")
	}
	if n == 0 {
		return nil, errors.Errorf("no run with id %s", run)
	}
	rows, err := s.db.Query(`SELECT tag, COUNT(*) FROM signals WHERE run_id = ? GROUP BY tag`, run)
	if err != nil {
		return nil, errors.Wrap(err, "summarizing run")
	}
	defer rows.Close()
	var out []TagCount
	for rows.Next() {
		var c TagCount
		if err := rows.Scan(&c.Tag, &c.Count); err != nil {
			return nil, errors.Wrap(err, "summarizing run")
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "summarizing run")
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return strings.Compare(out[i].Tag, out[j].Tag) < 0
	})
	return out, nil
}
