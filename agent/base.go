package agent

import (
	"fmt"
	"strings"

	"github.com/hupe1980/meshchat/core"
)

// BaseAgent bundles the identity shared by concrete agents. Embed it in an
// agent implementation and supply an Invoke method to satisfy core.Agent.
type BaseAgent struct {
	desc core.AgentDescriptor
}

// NewBaseAgent constructs a BaseAgent from a descriptor. Capability tags are
// normalized to lower case and a missing name defaults to the id.
func NewBaseAgent(desc core.AgentDescriptor) BaseAgent {
	if desc.Name == "" {
		desc.Name = desc.ID
	}
	if desc.Description == "" {
		desc.Description = fmt.Sprintf("Agent %s", desc.Name)
	}

	caps := make([]string, 0, len(desc.Capabilities))
	for _, c := range desc.Capabilities {
		if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
			caps = append(caps, c)
		}
	}
	desc.Capabilities = caps

	return BaseAgent{desc: desc}
}

// Descriptor returns the static catalog entry of this agent.
func (b *BaseAgent) Descriptor() core.AgentDescriptor {
	d := b.desc
	d.Capabilities = append([]string(nil), b.desc.Capabilities...)
	return d
}

// ID returns the unique agent id.
func (b *BaseAgent) ID() string { return b.desc.ID }

// Name returns the human-readable name for this agent.
func (b *BaseAgent) Name() string { return b.desc.Name }

// Description returns a detailed description of this agent's purpose.
func (b *BaseAgent) Description() string { return b.desc.Description }

// SetDescription updates the agent's description.
func (b *BaseAgent) SetDescription(desc string) { b.desc.Description = desc }
