package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/deepscout/internal/state"
)

func TestProgressAppendOnly(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	w := NewProgressWriter(dir)

	if err := w.Begin("what is a vector database"); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := w.AppendSummary(state.SubtopicSummary{
		Title:     "Indexing",
		Summary:   "Vector indexes trade recall for speed.",
		Citations: []string{"https://example.com/hnsw"},
	}); err != nil {
		t.Fatalf("AppendSummary: %v", err)
	}
	first, err := os.ReadFile(w.Path())
	if err != nil {
		t.Fatalf("read progress: %v", err)
	}

	if err := w.AppendSummary(state.SubtopicSummary{Title: "Storage", Summary: "Segments are immutable."}); err != nil {
		t.Fatalf("AppendSummary: %v", err)
	}
	second, err := os.ReadFile(w.Path())
	if err != nil {
		t.Fatalf("read progress: %v", err)
	}

	// Earlier sections are never rewritten.
	if !strings.HasPrefix(string(second), string(first)) {
		t.Fatal("progress file was rewritten, not appended")
	}
	for _, want := range []string{"## Indexing", "## Storage", "https://example.com/hnsw"} {
		if !strings.Contains(string(second), want) {
			t.Fatalf("progress missing %q", want)
		}
	}
}

func TestProgressBeginIdempotentOnResume(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	w := NewProgressWriter(dir)
	if err := w.Begin("q"); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	w.AppendSummary(state.SubtopicSummary{Title: "One", Summary: "done"})

	// Simulate resume: a second Begin must not add another header.
	w2 := NewProgressWriter(dir)
	if err := w2.Begin("q"); err != nil {
		t.Fatalf("Begin after resume: %v", err)
	}
	data, _ := os.ReadFile(w2.Path())
	if strings.Count(string(data), "# Research in progress") != 1 {
		t.Fatal("resume duplicated the header")
	}
}

func TestSlug(t *testing.T) {
	t.Parallel()
	cases := []struct{ in, want string }{
		{"What is a vector database?", "what_is_a_vector_database"},
		{"  spaces  and   MORE  ", "spaces_and_more"},
		{"???", "report"},
	}
	for _, tc := range cases {
		if got := Slug(tc.in); got != tc.want {
			t.Errorf("Slug(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
	if got := Slug(strings.Repeat("long query ", 20)); len(got) > 60 {
		t.Errorf("slug not capped: %d chars", len(got))
	}
}

func TestWriteFinal(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	st := state.New("run-1", "vector databases")
	st.FinalReport = "# Report\n\n## Sources\n\n1. Example <https://example.com>\n"
	st.ReportMetadata = &state.ReportMetadata{WordCount: 8, SourceCount: 1, Tier: "full"}

	path, err := WriteFinal(dir, st)
	if err != nil {
		t.Fatalf("WriteFinal: %v", err)
	}
	body, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if string(body) != st.FinalReport {
		t.Fatal("report content mismatch")
	}

	metaPath := strings.TrimSuffix(path, ".md") + ".meta.json"
	if _, err := os.Stat(metaPath); err != nil {
		t.Fatalf("metadata sidecar missing: %v", err)
	}
	if !strings.HasPrefix(filepath.Base(path), "vector_databases_") {
		t.Fatalf("unexpected file name %s", filepath.Base(path))
	}
}

func TestWriteFinalRequiresReport(t *testing.T) {
	t.Parallel()
	if _, err := WriteFinal(t.TempDir(), state.New("run-1", "q")); err == nil {
		t.Fatal("expected error when state has no report")
	}
}
