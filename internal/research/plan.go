package research

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/deepscout/internal/errkind"
	"github.com/mohammad-safakhou/deepscout/internal/llm"
	"github.com/mohammad-safakhou/deepscout/internal/state"
)

const (
	minSubtopics = 1
	maxSubtopics = 7
)

const planSystemPrompt = `You are a research planner. Decompose the user's
query into 3-7 focused subtopics that together cover the question. Respond
with a JSON array only, each element:
{"title": "...", "description": "...", "search_queries": ["...", "..."]}
Titles must be distinct. Two search queries per subtopic.`

type plannedSubtopic struct {
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	SearchQueries []string `json:"search_queries"`
}

// Plan decomposes the run query into subtopics. It fails the run with
// PlanInvalid when the model yields nothing parseable; everything downstream
// needs at least one subtopic.
func (p *Pipeline) Plan(ctx context.Context, st *state.ResearchState) (state.Update, error) {
	res, err := p.router.Call(ctx, llm.CallRequest{
		Intent: llm.IntentPlan,
		Messages: llm.ComposeMessages(
			[]llm.Message{{Role: "system", Content: planSystemPrompt}},
			nil,
			llm.Message{Role: "user", Content: st.Query},
		),
		Temperature: p.cfg.Temperature,
	})
	if err != nil {
		return state.Update{}, err
	}

	var planned []plannedSubtopic
	if err := parseModelJSON(res.Text, &planned); err != nil {
		return state.Update{}, errkind.New(errkind.PlanInvalid, "research.plan",
			fmt.Errorf("unparseable plan: %w", err))
	}

	subtopics := make([]state.Subtopic, 0, len(planned))
	seen := make(map[string]struct{})
	for _, ps := range planned {
		if ps.Title == "" {
			continue
		}
		if _, dup := seen[ps.Title]; dup {
			continue
		}
		seen[ps.Title] = struct{}{}
		subtopics = append(subtopics, state.Subtopic{
			ID:            fmt.Sprintf("st-%d", len(subtopics)+1),
			Title:         ps.Title,
			Description:   ps.Description,
			SearchQueries: ps.SearchQueries,
			Status:        state.SubtopicPending,
		})
		if len(subtopics) == maxSubtopics {
			break
		}
	}
	if len(subtopics) < minSubtopics {
		return state.Update{}, errkind.Newf(errkind.PlanInvalid, "research.plan",
			"model produced no usable subtopics")
	}

	p.logger.Printf("planned %d subtopics for %q", len(subtopics), st.Query)
	zero := 0
	return state.Update{Subtopics: subtopics, CurrentSubtopicIndex: &zero}, nil
}
