// Package executor drives the research state graph: an explicit next-node
// loop over plan, search, scrape, summarize, synthesize. After every stage it
// applies the stage's partial update through the reducers, consults the
// budget controller, appends an event, and writes a checkpoint — in that
// order, so a crash at any point resumes from a consistent snapshot.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mohammad-safakhou/deepscout/internal/budget"
	"github.com/mohammad-safakhou/deepscout/internal/checkpoint"
	"github.com/mohammad-safakhou/deepscout/internal/errkind"
	"github.com/mohammad-safakhou/deepscout/internal/eventlog"
	"github.com/mohammad-safakhou/deepscout/internal/metrics"
	"github.com/mohammad-safakhou/deepscout/internal/report"
	"github.com/mohammad-safakhou/deepscout/internal/shutdown"
	"github.com/mohammad-safakhou/deepscout/internal/state"
)

// Node names the graph's states.
type Node string

const (
	NodeStart      Node = "START"
	NodePlan       Node = "plan"
	NodeSearch     Node = "search"
	NodeScrape     Node = "scrape"
	NodeSummarize  Node = "summarize"
	NodeSynthesize Node = "synthesize"
	NodeEnd        Node = "END"
)

// ErrUnknownNode indicates a checkpoint naming a node this build does not
// have, e.g. a downgrade across versions.
var ErrUnknownNode = errors.New("unknown graph node")

// Stages is the set of stage functions the executor drives. Each takes a
// state clone and returns a partial update; the executor is the sole mutator.
type Stages interface {
	Plan(ctx context.Context, st *state.ResearchState) (state.Update, error)
	Search(ctx context.Context, st *state.ResearchState) (state.Update, error)
	Scrape(ctx context.Context, st *state.ResearchState) (state.Update, error)
	Summarize(ctx context.Context, st *state.ResearchState) (state.Update, error)
	Synthesize(ctx context.Context, st *state.ResearchState) (state.Update, error)
}

// Executor owns one run's loop and its persistence hooks.
type Executor struct {
	stages      Stages
	checkpoints *checkpoint.Store
	events      *eventlog.Log
	tracker     *budget.Tracker
	controller  *budget.Controller
	coordinator *shutdown.Coordinator
	progress    *report.ProgressWriter
	logger      *log.Logger
	tracer      trace.Tracer
	stageTO     time.Duration

	// stageStep is the step ID of the current stage's node_enter event.
	// Every event the stage produces links back to it, and the next stage's
	// enter chains onto it, so provenance walks back to the run's first step.
	stageStep string
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger overrides the default logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithTracer overrides the default tracer.
func WithTracer(t trace.Tracer) Option {
	return func(e *Executor) { e.tracer = t }
}

// WithStageTimeout bounds each stage invocation. Zero means no bound beyond
// the run context.
func WithStageTimeout(d time.Duration) Option {
	return func(e *Executor) { e.stageTO = d }
}

// WithProgressWriter installs the progressive report writer.
func WithProgressWriter(w *report.ProgressWriter) Option {
	return func(e *Executor) { e.progress = w }
}

// New assembles an executor for one run.
func New(stages Stages, checkpoints *checkpoint.Store, events *eventlog.Log,
	tracker *budget.Tracker, controller *budget.Controller, coordinator *shutdown.Coordinator,
	opts ...Option) *Executor {
	e := &Executor{
		stages:      stages,
		checkpoints: checkpoints,
		events:      events,
		tracker:     tracker,
		controller:  controller,
		coordinator: coordinator,
		logger:      log.New(os.Stderr, "[EXECUTOR] ", log.LstdFlags),
		tracer:      otel.Tracer("deepscout/executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes a fresh state from the planning node.
func (e *Executor) Run(ctx context.Context, st *state.ResearchState) (*state.ResearchState, error) {
	return e.run(ctx, st, NodePlan)
}

// Resume loads the latest valid checkpoint and continues from the node that
// was scheduled after the one that produced it.
func (e *Executor) Resume(ctx context.Context) (*state.ResearchState, error) {
	st, step, err := e.checkpoints.Recover()
	if err != nil {
		return nil, err
	}
	next, err := e.resumeNode(st)
	if err != nil {
		return nil, err
	}
	e.logger.Printf("resuming run %s from step %d at node %s", st.RunID, step, next)
	return e.run(ctx, st, next)
}

// resumeNode maps the checkpointed last node onto its successor.
func (e *Executor) resumeNode(st *state.ResearchState) (Node, error) {
	switch Node(st.LastNode) {
	case "", NodeStart:
		return NodePlan, nil
	case NodePlan, NodeSearch, NodeScrape, NodeSummarize:
		return e.nextNode(Node(st.LastNode), st), nil
	case NodeSynthesize:
		return NodeEnd, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownNode, st.LastNode)
	}
}

func (e *Executor) run(ctx context.Context, st *state.ResearchState, start Node) (*state.ResearchState, error) {
	metrics.RunsActive.Inc()
	defer metrics.RunsActive.Dec()

	if e.coordinator != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		defer cancel()
		go func() {
			select {
			case <-e.coordinator.Aborted():
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	ctx, span := e.tracer.Start(ctx, "executor.run", trace.WithAttributes(
		attribute.String("run.id", st.RunID),
	))
	defer span.End()

	if e.progress != nil && start == NodePlan {
		if err := e.progress.Begin(st.Query); err != nil {
			e.logger.Printf("progress header: %v", err)
		}
	}

	node := start
	for node != NodeEnd {
		if err := ctx.Err(); err != nil {
			return st, errkind.New(errkind.Cancelled, "executor", err)
		}
		// A drain request routes to synthesis so the run still ends with a
		// report; synthesis itself runs even when stopping.
		if e.coordinator != nil && e.coordinator.ShouldStop() && node != NodeSynthesize {
			e.logger.Printf("shutdown requested, routing %s -> synthesize", node)
			node = NodeSynthesize
		}

		update, stageErr := e.invoke(ctx, node, st)
		if stageErr != nil {
			if fatal, err := e.handleStageError(node, st, stageErr); fatal {
				return st, err
			}
			// Degraded but survivable: budget breach routes to synthesize.
			node = NodeSynthesize
			continue
		}

		summariesBefore := len(st.SubtopicSummaries)
		state.Apply(st, update)
		st.Step++
		st.LastNode = string(node)
		e.syncBudgetFields(st)

		if e.progress != nil {
			for _, sum := range st.SubtopicSummaries[summariesBefore:] {
				if err := e.progress.AppendSummary(sum); err != nil {
					e.logger.Printf("progress append: %v", err)
				}
			}
		}

		e.observeTier(st)
		e.persist(node, st)
		node = e.nextNode(node, st)
	}
	return st, nil
}

// invoke runs one stage under the stage timeout and emits its enter/exit
// event pair.
func (e *Executor) invoke(ctx context.Context, node Node, st *state.ResearchState) (state.Update, error) {
	if e.stageTO > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.stageTO)
		defer cancel()
	}

	stepID := eventlog.NewStepID(string(node))
	e.append(eventlog.Event{StepID: stepID, ParentID: e.stageStep, Event: eventlog.NodeEnter, Node: string(node)})
	e.stageStep = stepID

	ctx, span := e.tracer.Start(ctx, "stage."+string(node))
	start := time.Now()
	update, err := e.dispatch(ctx, node, st.Clone())
	elapsed := time.Since(start)
	span.End()
	metrics.StageDuration.WithLabelValues(string(node)).Observe(elapsed.Seconds())

	payload := map[string]interface{}{"elapsed_ms": elapsed.Milliseconds()}
	if err != nil {
		payload["error"] = err.Error()
		payload["kind"] = string(errkind.KindOf(err))
	}
	e.append(eventlog.Event{
		StepID:   eventlog.NewStepID(string(node)),
		ParentID: stepID,
		Event:    eventlog.NodeExit,
		Node:     string(node),
		Payload:  payload,
	})
	return update, err
}

func (e *Executor) dispatch(ctx context.Context, node Node, st *state.ResearchState) (state.Update, error) {
	switch node {
	case NodePlan:
		return e.stages.Plan(ctx, st)
	case NodeSearch:
		return e.stages.Search(ctx, st)
	case NodeScrape:
		return e.stages.Scrape(ctx, st)
	case NodeSummarize:
		return e.stages.Summarize(ctx, st)
	case NodeSynthesize:
		return e.stages.Synthesize(ctx, st)
	default:
		return state.Update{}, fmt.Errorf("%w: %q", ErrUnknownNode, node)
	}
}

// handleStageError decides whether a stage failure ends the run. Budget
// breaches survive (the caller routes to synthesis); cancellation and
// planning failures do not.
func (e *Executor) handleStageError(node Node, st *state.ResearchState, stageErr error) (fatal bool, err error) {
	kind := errkind.KindOf(stageErr)
	e.append(eventlog.Event{
		StepID:   eventlog.NewStepID(string(node)),
		ParentID: e.stageStep,
		Event:    eventlog.ErrorEvent,
		Node:     string(node),
		Payload: map[string]interface{}{
			"error": stageErr.Error(),
			"kind":  string(kind),
		},
	})

	switch kind {
	case errkind.BudgetExceeded:
		if node == NodeSynthesize {
			// Nothing left to degrade to.
			return true, stageErr
		}
		e.logger.Printf("budget exceeded during %s, jumping to synthesize", node)
		if e.controller != nil {
			e.controller.Observe(budget.TierPartial, 1.0)
		}
		e.syncBudgetFields(st)
		return false, nil
	case errkind.Cancelled:
		return true, stageErr
	default:
		return true, stageErr
	}
}

// syncBudgetFields mirrors tracker totals and controller tier into state so
// checkpoints carry them.
func (e *Executor) syncBudgetFields(st *state.ResearchState) {
	if e.tracker != nil {
		snap := e.tracker.Snapshot()
		st.TotalCost = snap.Cost
		st.TotalTokens = snap.Tokens
	}
	if e.controller != nil {
		st.DegradationTier = string(e.controller.Tier())
	}
}

// observeTier feeds the tracker's suggestion to the controller and emits a
// budget tick.
func (e *Executor) observeTier(st *state.ResearchState) {
	if e.tracker == nil || e.controller == nil {
		return
	}
	fraction := e.tracker.FractionUsed()
	before := e.controller.Tier()
	after := e.controller.Observe(e.tracker.TierSuggestion(), fraction)
	st.DegradationTier = string(after)
	metrics.DegradationTier.Set(metrics.TierRank(string(after)))

	e.append(eventlog.Event{
		StepID:   eventlog.NewStepID("budget"),
		ParentID: e.stageStep,
		Event:    eventlog.BudgetTick,
		Node:     st.LastNode,
		Payload: map[string]interface{}{
			"fraction_used": fraction,
			"total_cost":    st.TotalCost,
			"tier":          string(after),
		},
	})
	if before != after {
		metrics.TierChanges.WithLabelValues(string(before), string(after)).Inc()
		e.append(eventlog.Event{
			StepID:   eventlog.NewStepID("budget"),
			ParentID: e.stageStep,
			Event:    eventlog.TierChange,
			Node:     st.LastNode,
			Payload: map[string]interface{}{
				"from": string(before),
				"to":   string(after),
			},
		})
	}
}

// persist writes the post-stage checkpoint and its event.
func (e *Executor) persist(node Node, st *state.ResearchState) {
	path, err := e.checkpoints.Save(st.Step, st)
	if err != nil {
		// A failed checkpoint is loud but not fatal: the previous one is
		// still valid and the run can keep going.
		e.logger.Printf("checkpoint save failed at step %d: %v", st.Step, err)
		e.append(eventlog.Event{
			StepID:   eventlog.NewStepID(string(node)),
			ParentID: e.stageStep,
			Event:    eventlog.ErrorEvent,
			Node:     string(node),
			Payload:  map[string]interface{}{"error": err.Error(), "kind": "checkpoint_write"},
		})
		return
	}
	metrics.CheckpointWrites.Inc()
	e.append(eventlog.Event{
		StepID:   eventlog.NewStepID(string(node)),
		ParentID: e.stageStep,
		Event:    eventlog.CheckpointWritten,
		Node:     string(node),
		Payload:  map[string]interface{}{"step": st.Step, "path": path},
	})
}

// nextNode implements the transition table.
func (e *Executor) nextNode(node Node, st *state.ResearchState) Node {
	fraction := 0.0
	if e.tracker != nil {
		fraction = e.tracker.FractionUsed()
	}
	skipRemaining := e.controller != nil && e.controller.Effects().SkipRemaining

	switch node {
	case NodeStart:
		return NodePlan
	case NodePlan:
		if len(st.Subtopics) == 0 || fraction >= 1.0 {
			return NodeSynthesize
		}
		return NodeSearch
	case NodeSearch:
		return NodeScrape
	case NodeScrape:
		return NodeSummarize
	case NodeSummarize:
		stopping := e.coordinator != nil && e.coordinator.ShouldStop()
		if st.CurrentSubtopicIndex < len(st.Subtopics) && fraction < 1.0 && !stopping && !skipRemaining {
			return NodeSearch
		}
		return NodeSynthesize
	case NodeSynthesize:
		return NodeEnd
	default:
		return NodeEnd
	}
}

func (e *Executor) append(ev eventlog.Event) {
	if e.events == nil {
		return
	}
	if _, err := e.events.Append(ev); err != nil {
		e.logger.Printf("event append: %v", err)
	}
}
