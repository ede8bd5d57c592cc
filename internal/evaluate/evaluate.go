// Package evaluate grades a finished research run: mechanical statistics
// pulled from the checkpoint and event log, plus an LLM-judged rubric over
// the final report.
package evaluate

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/mohammad-safakhou/deepscout/internal/checkpoint"
	"github.com/mohammad-safakhou/deepscout/internal/eventlog"
	"github.com/mohammad-safakhou/deepscout/internal/llm"
	"github.com/mohammad-safakhou/deepscout/internal/state"
)

// Caller is the completion surface the judge needs.
type Caller interface {
	Call(ctx context.Context, req llm.CallRequest) (llm.CallResult, error)
}

// Score is one rubric criterion graded 0-10.
type Score struct {
	Criterion string  `json:"criterion"`
	Score     float64 `json:"score"`
	Rationale string  `json:"rationale,omitempty"`
}

// Stats are facts about the run that need no model.
type Stats struct {
	Subtopics   int `json:"subtopics"`
	Summaries   int `json:"summaries"`
	Sources     int `json:"sources"`
	Errors      int `json:"errors"`
	Events      int `json:"events"`
	Checkpoints int `json:"checkpoints"`
	ReportWords int `json:"report_words"`
}

// Evaluation is the full grading result for one run.
type Evaluation struct {
	RunID     string  `json:"run_id"`
	Query     string  `json:"query"`
	Tier      string  `json:"tier"`
	TotalCost float64 `json:"total_cost"`
	Stats     Stats   `json:"stats"`
	Scores    []Score `json:"scores"`
	Overall   float64 `json:"overall"`
	JudgeCost float64 `json:"judge_cost"`
}

// Evaluator grades run directories.
type Evaluator struct {
	router Caller
	logger *log.Logger
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithLogger overrides the default logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Evaluator) { e.logger = l }
}

func New(router Caller, opts ...Option) *Evaluator {
	e := &Evaluator{
		router: router,
		logger: log.New(os.Stderr, "[EVALUATE] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

const judgePrompt = `You are grading a research report. Score each criterion
from 0 to 10 and answer with JSON only, in this shape:

{"scores": [
  {"criterion": "coverage", "score": 0, "rationale": "..."},
  {"criterion": "faithfulness", "score": 0, "rationale": "..."},
  {"criterion": "citations", "score": 0, "rationale": "..."}
]}

coverage: does the report address the whole query, including the planned
subtopics listed below?
faithfulness: are claims consistent with the per-subtopic summaries, with no
invented facts?
citations: are claims attributed to sources, and do the cited URLs appear in
the source material?`

// Evaluate grades the run in runDir. The run must have produced a final
// report; partially completed runs are rejected rather than half-graded.
func (e *Evaluator) Evaluate(ctx context.Context, runDir string) (*Evaluation, error) {
	ckpts, err := checkpoint.NewStore(runDir, checkpoint.WithLogger(e.logger))
	if err != nil {
		return nil, err
	}
	st, step, err := ckpts.Recover()
	if err != nil {
		return nil, fmt.Errorf("recover run state: %w", err)
	}
	if st.FinalReport == "" {
		return nil, fmt.Errorf("run %s has no final report to grade", st.RunID)
	}

	ev := &Evaluation{
		RunID:     st.RunID,
		Query:     st.Query,
		Tier:      st.DegradationTier,
		TotalCost: st.TotalCost,
		Stats: Stats{
			Subtopics:   len(st.Subtopics),
			Summaries:   len(st.SubtopicSummaries),
			Errors:      len(st.Errors),
			Checkpoints: step,
			ReportWords: len(strings.Fields(st.FinalReport)),
		},
	}
	sources := map[string]struct{}{}
	for _, sum := range st.SubtopicSummaries {
		for _, u := range sum.Citations {
			sources[u] = struct{}{}
		}
	}
	ev.Stats.Sources = len(sources)
	if events, err := eventlog.Replay(runDir); err == nil {
		ev.Stats.Events = len(events)
	}

	scores, cost, err := e.judge(ctx, st.Query, st.Subtopics, st.SubtopicSummaries, st.FinalReport)
	if err != nil {
		return nil, err
	}
	ev.Scores = scores
	ev.JudgeCost = cost
	var total float64
	for _, s := range scores {
		total += s.Score
	}
	if len(scores) > 0 {
		ev.Overall = total / float64(len(scores))
	}
	return ev, nil
}

func (e *Evaluator) judge(ctx context.Context, query string, subtopics []state.Subtopic, summaries []state.SubtopicSummary, report string) ([]Score, float64, error) {
	material, err := json.Marshal(map[string]interface{}{
		"subtopics": subtopics,
		"summaries": summaries,
	})
	if err != nil {
		return nil, 0, err
	}
	res, err := e.router.Call(ctx, llm.CallRequest{
		Intent: llm.IntentJudge,
		Messages: []llm.Message{
			{Role: "system", Content: judgePrompt, Static: true},
			{Role: "user", Content: fmt.Sprintf("Query: %s\n\nSource material:\n%s\n\nReport:\n%s", query, material, report)},
		},
		Temperature: 0,
		MaxTokens:   1024,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("judge call: %w", err)
	}
	var parsed struct {
		Scores []Score `json:"scores"`
	}
	if err := decodeJudgeJSON(res.Text, &parsed); err != nil {
		return nil, res.CostUSD, fmt.Errorf("judge returned unusable output: %w", err)
	}
	if len(parsed.Scores) == 0 {
		return nil, res.CostUSD, fmt.Errorf("judge returned no scores")
	}
	for i := range parsed.Scores {
		if parsed.Scores[i].Score < 0 {
			parsed.Scores[i].Score = 0
		}
		if parsed.Scores[i].Score > 10 {
			parsed.Scores[i].Score = 10
		}
	}
	return parsed.Scores, res.CostUSD, nil
}

// decodeJudgeJSON tolerates markdown fences around the JSON body.
func decodeJudgeJSON(text string, out interface{}) error {
	s := strings.TrimSpace(text)
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		s = strings.TrimPrefix(s, "json")
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	}
	return json.Unmarshal([]byte(strings.TrimSpace(s)), out)
}

// Render writes the evaluation as an aligned text table.
func (ev *Evaluation) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s (%q)\n", ev.RunID, ev.Query)
	fmt.Fprintf(&b, "Tier %s, run cost $%.4f, judge cost $%.4f\n\n", ev.Tier, ev.TotalCost, ev.JudgeCost)

	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CRITERION\tSCORE\tRATIONALE")
	for _, s := range ev.Scores {
		fmt.Fprintf(w, "%s\t%.1f\t%s\n", s.Criterion, s.Score, s.Rationale)
	}
	fmt.Fprintf(w, "overall\t%.1f\t\n", ev.Overall)
	w.Flush()

	fmt.Fprintf(&b, "\n%d subtopics, %d summaries, %d sources, %d errors, %d events, %d checkpoints, %d report words\n",
		ev.Stats.Subtopics, ev.Stats.Summaries, ev.Stats.Sources,
		ev.Stats.Errors, ev.Stats.Events, ev.Stats.Checkpoints, ev.Stats.ReportWords)
	return b.String()
}
