package evaluate

import (
	"context"
	"io"
	"log"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/deepscout/internal/checkpoint"
	"github.com/mohammad-safakhou/deepscout/internal/llm"
	"github.com/mohammad-safakhou/deepscout/internal/state"
)

type scriptedCaller struct {
	text string
	err  error
	last llm.CallRequest
}

func (c *scriptedCaller) Call(_ context.Context, req llm.CallRequest) (llm.CallResult, error) {
	c.last = req
	if c.err != nil {
		return llm.CallResult{}, c.err
	}
	return llm.CallResult{Text: c.text, CostUSD: 0.002}, nil
}

func finishedRunDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	st := state.New("run-1", "llm pricing trends")
	st.Subtopics = []state.Subtopic{
		{ID: "st-1", Title: "Vendor pricing", Status: state.SubtopicDone},
		{ID: "st-2", Title: "Open models", Status: state.SubtopicDone},
	}
	st.SubtopicSummaries = []state.SubtopicSummary{
		{SubtopicID: "st-1", Title: "Vendor pricing", Summary: "Prices fell.", Citations: []string{"https://a.example", "https://b.example"}},
		{SubtopicID: "st-2", Title: "Open models", Summary: "Weights opened.", Citations: []string{"https://b.example"}},
	}
	st.FinalReport = "# Report\n\nPrices fell across vendors [1]."
	st.DegradationTier = "full"
	st.TotalCost = 0.42
	ckpts, err := checkpoint.NewStore(dir, checkpoint.WithLogger(log.New(io.Discard, "", 0)))
	if err != nil {
		t.Fatalf("checkpoint store: %v", err)
	}
	if _, err := ckpts.Save(7, st); err != nil {
		t.Fatalf("save checkpoint: %v", err)
	}
	return dir
}

func TestEvaluateGradesFinishedRun(t *testing.T) {
	t.Parallel()
	caller := &scriptedCaller{text: "```json\n" + `{"scores":[
		{"criterion":"coverage","score":8,"rationale":"both subtopics covered"},
		{"criterion":"faithfulness","score":9},
		{"criterion":"citations","score":40,"rationale":"out of range gets clamped"}
	]}` + "\n```"}
	e := New(caller, WithLogger(log.New(io.Discard, "", 0)))

	ev, err := e.Evaluate(context.Background(), finishedRunDir(t))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if ev.RunID != "run-1" || ev.Tier != "full" {
		t.Fatalf("run metadata = %s/%s", ev.RunID, ev.Tier)
	}
	if caller.last.Intent != llm.IntentJudge {
		t.Fatalf("judge called with intent %s", caller.last.Intent)
	}
	if len(ev.Scores) != 3 {
		t.Fatalf("got %d scores", len(ev.Scores))
	}
	if ev.Scores[2].Score != 10 {
		t.Fatalf("score not clamped: %v", ev.Scores[2].Score)
	}
	if want := (8.0 + 9.0 + 10.0) / 3.0; ev.Overall != want {
		t.Fatalf("overall = %v, want %v", ev.Overall, want)
	}
	if ev.Stats.Subtopics != 2 || ev.Stats.Summaries != 2 || ev.Stats.Sources != 2 {
		t.Fatalf("stats = %+v", ev.Stats)
	}
	if ev.Stats.Checkpoints != 7 {
		t.Fatalf("checkpoint step = %d", ev.Stats.Checkpoints)
	}
	if ev.JudgeCost != 0.002 {
		t.Fatalf("judge cost = %v", ev.JudgeCost)
	}

	out := ev.Render()
	for _, want := range []string{"run-1", "coverage", "8.0", "overall", "2 subtopics"} {
		if !strings.Contains(out, want) {
			t.Fatalf("render missing %q:\n%s", want, out)
		}
	}
}

func TestEvaluateRejectsUnfinishedRun(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	st := state.New("run-2", "q")
	ckpts, err := checkpoint.NewStore(dir, checkpoint.WithLogger(log.New(io.Discard, "", 0)))
	if err != nil {
		t.Fatalf("checkpoint store: %v", err)
	}
	if _, err := ckpts.Save(1, st); err != nil {
		t.Fatalf("save: %v", err)
	}

	e := New(&scriptedCaller{}, WithLogger(log.New(io.Discard, "", 0)))
	if _, err := e.Evaluate(context.Background(), dir); err == nil {
		t.Fatal("expected error for run without a final report")
	}
}

func TestEvaluateRejectsGarbageJudgeOutput(t *testing.T) {
	t.Parallel()
	e := New(&scriptedCaller{text: "I refuse to answer in JSON."},
		WithLogger(log.New(io.Discard, "", 0)))
	if _, err := e.Evaluate(context.Background(), finishedRunDir(t)); err == nil {
		t.Fatal("expected error for unparseable judge output")
	}
}
