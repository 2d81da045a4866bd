package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/meshchat/core"
	"github.com/hupe1980/meshchat/logging"
	"github.com/hupe1980/meshchat/registry"
)

type settledAt struct {
	index  int
	result core.AgentResult
}

// dispatch invokes the selected candidates concurrently and blocks until all
// settled or the shared deadline fired. The deadline is Options.Deadline or
// whatever remains of ctx's own, whichever ends first. Calls still outstanding
// at the deadline are cancelled and recorded as timeouts with zero tokens and
// cost; whatever they send afterwards is ignored.
func (o *Orchestrator) dispatch(ctx context.Context, log logging.Logger, task *core.Task, selected []registry.Candidate) []Settled {
	if len(selected) == 0 {
		return nil
	}

	dctx, cancel := context.WithTimeout(ctx, o.opts.Deadline)
	defer cancel()

	// Buffered: late senders must never block.
	ch := make(chan settledAt, len(selected))

	for i, c := range selected {
		go func(i int, c registry.Candidate) {
			ch <- settledAt{index: i, result: o.invoke(dctx, log, task, c)}
		}(i, c)
	}

	results := make([]*core.AgentResult, len(selected))
	remaining := len(selected)

barrier:
	for remaining > 0 {
		select {
		case s := <-ch:
			r := s.result
			results[s.index] = &r
			remaining--
		case <-dctx.Done():
			break barrier
		}
	}

	// Results already delivered when the deadline fired still count.
drain:
	for remaining > 0 {
		select {
		case s := <-ch:
			r := s.result
			results[s.index] = &r
			remaining--
		default:
			break drain
		}
	}

	settled := make([]Settled, len(selected))

	for i, c := range selected {
		if results[i] != nil {
			settled[i] = Settled{Candidate: c, Result: *results[i]}
			continue
		}

		var err error = &core.AgentTimeoutError{AgentID: c.ID(), Deadline: o.opts.Deadline}
		if !isTimeout(dctx.Err()) {
			err = &core.AgentInvocationError{AgentID: c.ID(), Err: dctx.Err()}
		}

		r := core.NewFailedResult(c.ID(), err, o.opts.Deadline)
		settled[i] = Settled{Candidate: c, Result: r}

		log.Warn("agent did not settle before deadline", "agent_id", c.ID(), "error", err)
	}

	return settled
}

// invoke calls one agent, retrying transport errors up to MaxRetries times
// without backoff. Tokens and cost reported alongside an error are kept.
func (o *Orchestrator) invoke(ctx context.Context, log logging.Logger, task *core.Task, c registry.Candidate) (result core.AgentResult) {
	id := c.ID()
	start := o.opts.Now()

	ctx, span := o.opts.Tracer.Start(ctx, "agent.invoke", trace.WithAttributes(
		attribute.String("agent.id", id),
		attribute.Float64("agent.confidence", c.Confidence),
	))
	defer span.End()

	limiter := core.NewAttemptLimiter(1 + o.opts.MaxRetries)

	var (
		tokens  int
		cost    float64
		lastErr error
	)

	for limiter.Increment() == nil {
		resp, err := o.call(ctx, c.Agent, task)
		if resp != nil {
			tokens += resp.TokensUsed
			cost += resp.Cost
		}

		if err == nil && (resp == nil || strings.TrimSpace(resp.Text) == "") {
			err = errors.New("empty response")
		}

		if err == nil {
			suggestions := resp.Suggestions
			if suggestions == nil {
				suggestions = []string{}
			}

			result = core.AgentResult{
				AgentID:     id,
				Data:        resp.Data,
				Response:    resp.Text,
				Suggestions: suggestions,
				TokensUsed:  tokens,
				Cost:        cost,
				Success:     true,
				Latency:     o.opts.Now().Sub(start),
				Attempts:    limiter.Count(),
			}

			span.SetAttributes(attribute.Int("agent.tokens", tokens), attribute.Int("agent.attempts", limiter.Count()))
			logging.LogAgentCall(log, id, tokens, result.Latency, limiter.Count(), nil)

			return result
		}

		lastErr = err

		if !errors.Is(err, core.ErrTransport) || ctx.Err() != nil {
			break
		}

		if limiter.Remaining() != 0 {
			log.Debug("retrying agent after transport error", "agent_id", id, "remaining_attempts", limiter.Remaining(), "error", err)
		}
	}

	var wrapped error
	if isTimeout(lastErr) {
		wrapped = &core.AgentTimeoutError{AgentID: id, Deadline: o.opts.Deadline}
	} else {
		wrapped = &core.AgentInvocationError{AgentID: id, Attempts: limiter.Count(), Err: lastErr}
	}

	span.RecordError(wrapped)
	span.SetStatus(codes.Error, wrapped.Error())

	result = core.NewFailedResult(id, wrapped, o.opts.Now().Sub(start))
	result.TokensUsed = tokens
	result.Cost = cost
	result.Attempts = limiter.Count()

	logging.LogAgentCall(log, id, tokens, result.Latency, limiter.Count(), wrapped)

	return result
}

// call invokes the agent and converts a panic into an error so one faulty
// agent cannot take down the process.
func (o *Orchestrator) call(ctx context.Context, a core.Agent, task *core.Task) (resp *core.AgentResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp = nil
			err = fmt.Errorf("agent panicked: %v", r)
		}
	}()

	return a.Invoke(ctx, task)
}
