package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeGo(t *testing.T, dir, name, src string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRunAcceptsRepositoryQueries(t *testing.T) {
	var stderr bytes.Buffer
	if code := run([]string{"../../sqlinline"}, &stderr); code != 0 {
		t.Fatalf("run = %d, stderr = %s", code, stderr.String())
	}
}

func TestRunFlagsMissingAndDuplicateMarkers(t *testing.T) {
	dir := t.TempDir()
	writeGo(t, dir, "a.go", "package q\n\nconst QA = `--sql 11111111-2222-3333-4444-555555555555\nselect 1;\n`\n\nconst QB = `select 2;`\n")
	writeGo(t, dir, "b.go", "package q\n\nconst QC = `--sql 11111111-2222-3333-4444-555555555555\ndelete from t;\n`\n\nconst Label = \"not sql\"\n")

	var stderr bytes.Buffer
	if code := run([]string{dir}, &stderr); code != 1 {
		t.Fatalf("run = %d, want 1", code)
	}
	out := stderr.String()
	if !strings.Contains(out, "invalid --sql <uuid> marker (QB)") {
		t.Fatalf("missing marker not reported:\n%s", out)
	}
	if !strings.Contains(out, "already used by QA (QC)") {
		t.Fatalf("duplicate marker not reported:\n%s", out)
	}
	if strings.Contains(out, "Label") {
		t.Fatalf("non-sql constant reported:\n%s", out)
	}
}
