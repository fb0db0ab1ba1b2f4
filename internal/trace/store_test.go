package trace

import (
	"path/filepath"
	"testing"

	"gyokuro/internal/ast"
	"gyokuro/internal/optimize"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "trace.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSummaryCountsTags(t *testing.T) {
	s := openStore(t)
	run, err := s.BeginRun("main.json")
	if err != nil {
		t.Fatal(err)
	}
	tr := s.Tracer(run)
	ref := ast.SourceRef{Path: "main.json", Pos: ast.Position{Line: 3}}
	tr.Trace(optimize.Signal{Module: "main", Pass: 1, Tags: []string{"new_constant", "new_statements"}, Location: ref, Message: "a"})
	tr.Trace(optimize.Signal{Module: "main", Pass: 2, Tags: []string{"new_constant"}, Location: ref, Message: "b"})
	tr.Trace(optimize.Signal{Module: "util", Pass: 1, Tags: []string{"read_only_mvar"}, Message: "c"})
	if err := s.Err(); err != nil {
		t.Fatal(err)
	}

	got, err := s.Summary(run)
	if err != nil {
		t.Fatal(err)
	}
	want := []TagCount{{"new_constant", 2}, {"new_statements", 1}, {"read_only_mvar", 1}}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestRunsAreSeparate(t *testing.T) {
	s := openStore(t)
	first, err := s.BeginRun("a.json")
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.BeginRun("b.json")
	if err != nil {
		t.Fatal(err)
	}
	s.Tracer(first).Trace(optimize.Signal{Module: "a", Pass: 1, Tags: []string{"new_import"}})

	runs, err := s.Runs()
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].ID != first || runs[1].Entry != "b.json" {
		t.Fatalf("unexpected runs %+v", runs)
	}
	summary, err := s.Summary(second)
	if err != nil {
		t.Fatal(err)
	}
	if len(summary) != 0 {
		t.Fatalf("second run has signals %v", summary)
	}
	if _, err := s.Summary("missing"); err == nil {
		t.Fatalf("unknown run accepted")
	}
}

func TestStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	run, err := s.BeginRun("main.json")
	if err != nil {
		t.Fatal(err)
	}
	s.Tracer(run).Trace(optimize.Signal{Module: "main", Pass: 1, Tags: []string{"new_constant"}})
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	summary, err := reopened.Summary(run)
	if err != nil {
		t.Fatal(err)
	}
	if len(summary) != 1 || summary[0].Count != 1 {
		t.Fatalf("unexpected summary %v", summary)
	}
}
