package agent

import (
	"context"

	"github.com/hupe1980/meshchat/core"
)

// FuncAgent wraps a plain Go function as a capability-tagged agent. It suits
// deterministic agents (lookups, calculators) that need no language model.
type FuncAgent struct {
	BaseAgent
	fn func(ctx context.Context, task *core.Task) (*core.AgentResponse, error)
}

// NewFuncAgent creates a FuncAgent. The declared cost is reported on every
// successful response that does not set its own cost.
func NewFuncAgent(desc core.AgentDescriptor, fn func(ctx context.Context, task *core.Task) (*core.AgentResponse, error)) *FuncAgent {
	return &FuncAgent{BaseAgent: NewBaseAgent(desc), fn: fn}
}

// Invoke implements core.Agent.
func (a *FuncAgent) Invoke(ctx context.Context, task *core.Task) (*core.AgentResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp, err := a.fn(ctx, task)
	if resp != nil && resp.Cost == 0 && err == nil {
		resp.Cost = a.desc.Cost
	}

	return resp, err
}

var _ core.Agent = (*FuncAgent)(nil)
