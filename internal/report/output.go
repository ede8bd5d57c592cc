package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/mohammad-safakhou/deepscout/internal/state"
)

var slugUnsafe = regexp.MustCompile(`[^a-z0-9]+`)

// Slug turns a query into a filesystem-safe fragment, capped at 60 chars.
func Slug(query string) string {
	s := slugUnsafe.ReplaceAllString(strings.ToLower(query), "_")
	s = strings.Trim(s, "_")
	if s == "" {
		s = "report"
	}
	if len(s) > 60 {
		s = s[:60]
		s = strings.TrimRight(s, "_")
	}
	return s
}

// WriteFinal writes the synthesized report and its metadata sidecar into
// outputDir, returning the report path. File names embed the query slug and
// a UTC timestamp so repeated runs never clobber each other.
func WriteFinal(outputDir string, st *state.ResearchState) (string, error) {
	if st.FinalReport == "" {
		return "", fmt.Errorf("no final report in state for run %s", st.RunID)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	stamp := time.Now().UTC().Format("20060102_150405")
	base := fmt.Sprintf("%s_%s", Slug(st.Query), stamp)
	reportPath := filepath.Join(outputDir, base+".md")

	if err := os.WriteFile(reportPath, []byte(st.FinalReport), 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}

	if st.ReportMetadata != nil {
		meta, err := json.MarshalIndent(st.ReportMetadata, "", "  ")
		if err != nil {
			return "", fmt.Errorf("encode report metadata: %w", err)
		}
		metaPath := filepath.Join(outputDir, base+".meta.json")
		if err := os.WriteFile(metaPath, meta, 0o644); err != nil {
			return "", fmt.Errorf("write report metadata: %w", err)
		}
	}
	return reportPath, nil
}
