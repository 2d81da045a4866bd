// Package orchestrator routes a task to capability-matched agents, dispatches
// them concurrently under one shared deadline and aggregates their results.
//
// A task moves through Pending → Dispatched → Aggregating → Completed|Failed.
// Individual agent failures are recorded per AgentResult; the task only fails
// when every dispatched agent failed, in which case a fallback result with an
// apology is produced. Execute never returns a protocol error for agent-level
// problems.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/meshchat/core"
	"github.com/hupe1980/meshchat/logging"
	"github.com/hupe1980/meshchat/registry"
)

const (
	// DefaultMaxAgents caps the agents dispatched for one task.
	DefaultMaxAgents = 3
	// DefaultDeadline is the shared per-task deadline.
	DefaultDeadline = 15 * time.Second
	// DefaultHighConfidence is the confidence a lone candidate needs for
	// single-agent mode.
	DefaultHighConfidence = 1.0
	// DefaultMaxRetries bounds retries of transport errors.
	DefaultMaxRetries = 1
)

// CandidateSource is the part of the agent registry the orchestrator uses.
type CandidateSource interface {
	ListCandidates(task *core.Task) []registry.Candidate
	RecordOutcome(agentID string, success bool)
}

// Options configures an Orchestrator.
type Options struct {
	MaxAgents      int
	Deadline       time.Duration
	HighConfidence float64
	// MaxRetries applies to errors wrapping core.ErrTransport only.
	MaxRetries int
	// MaxConcurrentTasks limits simultaneously executing tasks; 0 is unlimited.
	MaxConcurrentTasks int
	FallbackText       string
	Logger             logging.Logger
	Metrics            *Metrics
	Tracer             trace.Tracer
	// OnStateChange is called for every state a task enters.
	OnStateChange func(taskID string, state core.ExecutionState)
	Now           func() time.Time
}

// Orchestrator executes tasks. It holds no per-task state and is safe for
// concurrent use by many requests.
type Orchestrator struct {
	source CandidateSource
	opts   Options
	slots  chan struct{}
}

// New creates an Orchestrator over the given candidate source.
func New(source CandidateSource, optFns ...func(o *Options)) *Orchestrator {
	opts := Options{
		MaxAgents:      DefaultMaxAgents,
		Deadline:       DefaultDeadline,
		HighConfidence: DefaultHighConfidence,
		MaxRetries:     DefaultMaxRetries,
		FallbackText:   DefaultFallbackText,
		Logger:         logging.NoOpLogger{},
		Tracer:         otel.Tracer("github.com/hupe1980/meshchat/orchestrator"),
		Now:            time.Now,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.MaxAgents <= 0 {
		opts.MaxAgents = DefaultMaxAgents
	}
	if opts.Deadline <= 0 {
		opts.Deadline = DefaultDeadline
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	o := &Orchestrator{source: source, opts: opts}
	if opts.MaxConcurrentTasks > 0 {
		o.slots = make(chan struct{}, opts.MaxConcurrentTasks)
	}

	return o
}

// Deadline returns the shared per-task deadline.
func (o *Orchestrator) Deadline() time.Duration { return o.opts.Deadline }

// Execute runs a task to completion. The returned error is non-nil only when
// the task is nil or ctx ended while waiting for an execution slot.
func (o *Orchestrator) Execute(ctx context.Context, task *core.Task) (*core.ExecutionResult, error) {
	if task == nil {
		return nil, fmt.Errorf("execute: nil task")
	}

	if err := o.acquire(ctx); err != nil {
		return nil, fmt.Errorf("execute task %s: %w", task.ID, err)
	}
	defer o.release()

	done := o.opts.Metrics.taskStarted()
	defer done()

	ctx, span := o.opts.Tracer.Start(ctx, "orchestrator.execute", trace.WithAttributes(
		attribute.String("task.id", task.ID),
		attribute.String("conversation.id", task.ConversationID),
		attribute.StringSlice("task.intents", task.Intents),
	))
	defer span.End()

	start := o.opts.Now()
	log := logging.WithConversation(o.opts.Logger, task.ConversationID, task.ID)

	o.enter(task.ID, core.StatePending)

	selected := o.selectCandidates(log, task)

	o.enter(task.ID, core.StateDispatched)

	settled := o.dispatch(ctx, log, task, selected)

	o.enter(task.ID, core.StateAggregating)

	agg := Aggregate(settled, o.opts.FallbackText)

	for _, s := range settled {
		o.source.RecordOutcome(s.Result.AgentID, s.Result.Success)
		o.opts.Metrics.observeAgent(s.Result)
	}

	res := &core.ExecutionResult{
		TaskID:         task.ID,
		ConversationID: task.ConversationID,
		Results:        agg.Results,
		FinalResponse:  agg.FinalResponse,
		Data:           agg.Data,
		Suggestions:    agg.Suggestions,
		TotalTokens:    agg.TotalTokens,
		TotalCost:      agg.TotalCost,
		Success:        agg.Success,
		AgentsInvolved: make([]string, 0, len(settled)),
	}

	for _, s := range settled {
		res.AgentsInvolved = append(res.AgentsInvolved, s.Result.AgentID)
	}

	if agg.Primary != nil {
		res.PrimaryAgent = agg.Primary.AgentID
	}

	res.State = core.StateCompleted
	if !agg.Success {
		res.State = core.StateFailed
		span.RecordError(core.ErrAggregationFailure)
		span.SetStatus(codes.Error, core.ErrAggregationFailure.Error())
	}

	res.ExecutionTime = o.opts.Now().Sub(start)

	o.enter(task.ID, res.State)

	span.SetAttributes(
		attribute.String("task.state", string(res.State)),
		attribute.String("task.primary_agent", res.PrimaryAgent),
		attribute.Int("task.total_tokens", res.TotalTokens),
		attribute.Float64("task.total_cost", res.TotalCost),
	)

	o.opts.Metrics.observeTask(res)

	logging.LogExecution(
		logging.With(log, "primary_agent", res.PrimaryAgent, "agents", strings.Join(res.AgentsInvolved, ",")),
		string(res.State), len(res.AgentsInvolved), res.TotalTokens, res.TotalCost, res.ExecutionTime,
	)

	return res, nil
}

// selectCandidates applies single-agent mode when exactly one candidate is
// high-confidence, else takes the top MaxAgents.
func (o *Orchestrator) selectCandidates(log logging.Logger, task *core.Task) []registry.Candidate {
	candidates := o.source.ListCandidates(task)

	var high []registry.Candidate

	for _, c := range candidates {
		if c.Confidence >= o.opts.HighConfidence {
			high = append(high, c)
		}
	}

	if len(high) == 1 {
		log.Debug("single-agent mode", "agent_id", high[0].ID())
		return high
	}

	if len(candidates) > o.opts.MaxAgents {
		candidates = candidates[:o.opts.MaxAgents]
	}

	return candidates
}

func (o *Orchestrator) enter(taskID string, state core.ExecutionState) {
	if o.opts.OnStateChange != nil {
		o.opts.OnStateChange(taskID, state)
	}
}

func (o *Orchestrator) acquire(ctx context.Context) error {
	if o.slots == nil {
		return nil
	}

	select {
	case o.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) release() {
	if o.slots != nil {
		<-o.slots
	}
}

// isTimeout reports whether err stems from the dispatch deadline.
func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
