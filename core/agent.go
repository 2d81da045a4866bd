package core

import "context"

// CapabilityGeneral is the catch-all capability tag. Agents declaring it are
// offered when no other agent matches a task's intents.
const CapabilityGeneral = "general"

// Agent defines the uniform contract every specialized agent implements.
//
// Selection is table-driven: the registry matches the Capabilities of an
// agent's Descriptor against a task's intents, so concrete agents never need a
// type hierarchy. Implementations must:
//   - Respect context cancellation; the orchestrator cancels at its deadline
//   - Wrap retryable transport failures with ErrTransport
//   - Be safe for concurrent use; one agent serves many tasks at once
//
// Invoke may return a non-nil response together with an error when tokens were
// consumed before the failure; the usage is still accounted.
type Agent interface {
	Descriptor() AgentDescriptor
	Invoke(ctx context.Context, task *Task) (*AgentResponse, error)
}

// AgentDescriptor is the static catalog entry of an agent.
type AgentDescriptor struct {
	ID           string   `json:"id" yaml:"id"`
	Name         string   `json:"name" yaml:"name"`
	Description  string   `json:"description,omitempty" yaml:"description"`
	Capabilities []string `json:"capabilities" yaml:"capabilities"`
	// Cost is the declared cost of one invocation, used as a ranking tie-break.
	Cost float64 `json:"cost" yaml:"cost"`
	// InitialSuccessRate seeds the success-rate metric before any outcome is recorded.
	InitialSuccessRate float64 `json:"initial_success_rate" yaml:"initial_success_rate"`
}

// HasCapability reports whether the descriptor declares tag.
func (d AgentDescriptor) HasCapability(tag string) bool {
	for _, c := range d.Capabilities {
		if c == tag {
			return true
		}
	}
	return false
}

// AgentResponse is the raw output of one successful (or partially billed) invocation.
type AgentResponse struct {
	Text        string         `json:"text"`
	Data        map[string]any `json:"data,omitempty"`
	Suggestions []string       `json:"suggestions,omitempty"`
	TokensUsed  int            `json:"tokens_used"`
	Cost        float64        `json:"cost"`
}

// AgentFunc adapts an ordinary function plus a descriptor into an Agent.
type AgentFunc struct {
	Desc AgentDescriptor
	Fn   func(ctx context.Context, task *Task) (*AgentResponse, error)
}

// Descriptor implements Agent.
func (a AgentFunc) Descriptor() AgentDescriptor { return a.Desc }

// Invoke implements Agent.
func (a AgentFunc) Invoke(ctx context.Context, task *Task) (*AgentResponse, error) {
	return a.Fn(ctx, task)
}

// Classifier derives intent tags from a message. The concrete algorithm is an
// external capability; the task builder only relies on this contract.
type Classifier interface {
	Classify(ctx context.Context, message string) ([]string, error)
}

// ClassifierFunc is a functional adapter for Classifier.
type ClassifierFunc func(ctx context.Context, message string) ([]string, error)

// Classify implements Classifier.
func (f ClassifierFunc) Classify(ctx context.Context, message string) ([]string, error) {
	return f(ctx, message)
}
