package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/deepscout/internal/errkind"
	"github.com/mohammad-safakhou/deepscout/internal/state"
)

func TestFinishRunPrintsResumeHintOnAnyFailure(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"interrupted", errkind.Newf(errkind.Cancelled, "test", "interrupt"), "interrupted"},
		{"provider failure", errkind.Newf(errkind.ProviderExhausted, "test", "all providers down"), "failed"},
		{"plain error", errors.New("disk full"), "failed"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			if err := finishRun(&buf, "run-42", nil, "", tc.err); !errors.Is(err, tc.err) {
				t.Fatalf("error not passed through: %v", err)
			}
			out := buf.String()
			if !strings.Contains(out, tc.want) {
				t.Fatalf("output %q missing %q", out, tc.want)
			}
			if !strings.Contains(out, "deepscout resume run-42") {
				t.Fatalf("output %q missing resume hint", out)
			}
		})
	}
}

func TestFinishRunSuccess(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	st := state.New("run-42", "q")
	st.DegradationTier = "full"
	st.TotalCost = 0.5
	if err := finishRun(&buf, "run-42", st, "/tmp/report.md", nil); err != nil {
		t.Fatalf("finishRun: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "report written to /tmp/report.md") {
		t.Fatalf("output %q missing report path", out)
	}
	if strings.Contains(out, "resume") {
		t.Fatalf("successful run must not print a resume hint: %q", out)
	}
}
