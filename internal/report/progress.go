// Package report writes the run's human-readable artifacts: the progressive
// progress.md that grows as subtopics complete, and the final report file.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mohammad-safakhou/deepscout/internal/state"
)

// ProgressFileName is the progressive report inside the run directory.
const ProgressFileName = "progress.md"

// ProgressWriter appends completed subtopic summaries to progress.md. The
// file is append-only: sections written before a crash are never rewritten,
// so it is the guaranteed minimum deliverable of any run.
type ProgressWriter struct {
	path string
}

// NewProgressWriter binds a writer to a run directory.
func NewProgressWriter(runDir string) *ProgressWriter {
	return &ProgressWriter{path: filepath.Join(runDir, ProgressFileName)}
}

// Begin writes the header once for a fresh run. Resumed runs keep their
// existing file untouched.
func (w *ProgressWriter) Begin(query string) error {
	if _, err := os.Stat(w.path); err == nil {
		return nil
	}
	header := fmt.Sprintf("# Research in progress: %s\n\n_Started %s_\n",
		query, time.Now().UTC().Format(time.RFC3339))
	return w.append(header)
}

// AppendSummary adds one completed subtopic section with its citations.
func (w *ProgressWriter) AppendSummary(sum state.SubtopicSummary) error {
	var b strings.Builder
	fmt.Fprintf(&b, "\n## %s\n\n%s\n", sum.Title, strings.TrimSpace(sum.Summary))
	if len(sum.Citations) > 0 {
		b.WriteString("\nSources:\n")
		for _, u := range sum.Citations {
			fmt.Fprintf(&b, "- %s\n", u)
		}
	}
	return w.append(b.String())
}

// AppendNote records a run-level remark, e.g. a skipped subtopic.
func (w *ProgressWriter) AppendNote(note string) error {
	return w.append(fmt.Sprintf("\n_%s_\n", note))
}

func (w *ProgressWriter) append(text string) error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open progress file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(text); err != nil {
		return fmt.Errorf("append progress: %w", err)
	}
	return nil
}

// Path returns the progress file location.
func (w *ProgressWriter) Path() string { return w.path }
