package agent

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/meshchat/core"
	"github.com/hupe1980/meshchat/model"
)

// CatalogEntry declares one model-backed agent.
//
//	agents:
//	  - id: roi
//	    name: ROI Analyst
//	    capabilities: [analytics, roi]
//	    cost: 0.01
//	    initial_success_rate: 0.9
//	    provider: openai
//	    model: gpt-4o-mini
//	    instruction: "You analyse return on investment. {{.message}}"
type CatalogEntry struct {
	core.AgentDescriptor `yaml:",inline"`

	Provider           string  `yaml:"provider"`
	Model              string  `yaml:"model"`
	Instruction        string  `yaml:"instruction"`
	CostPer1KTokens    float64 `yaml:"cost_per_1k_tokens"`
	MaxHistoryMessages *int    `yaml:"max_history_messages"`
}

// Catalog is the YAML document listing the agents a deployment offers.
type Catalog struct {
	Agents []CatalogEntry `yaml:"agents"`
}

// ModelResolver returns the model for a provider/model pair of a catalog entry.
type ModelResolver func(provider, name string) (model.Model, error)

// LoadCatalog reads and validates a catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agent catalog: %w", err)
	}

	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a catalog document.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode agent catalog: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return &c, nil
}

// Validate checks ids are present and unique and every entry declares at
// least one capability.
func (c *Catalog) Validate() error {
	seen := make(map[string]struct{}, len(c.Agents))

	for i, e := range c.Agents {
		id := strings.TrimSpace(e.ID)
		if id == "" {
			return fmt.Errorf("agent catalog entry %d: missing id", i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("agent catalog entry %q: %w", id, core.ErrDuplicateAgent)
		}
		seen[id] = struct{}{}

		if len(e.Capabilities) == 0 {
			return fmt.Errorf("agent catalog entry %q: no capabilities", id)
		}
		if e.Cost < 0 || e.CostPer1KTokens < 0 {
			return fmt.Errorf("agent catalog entry %q: negative cost", id)
		}
		if e.InitialSuccessRate < 0 || e.InitialSuccessRate > 1 {
			return fmt.Errorf("agent catalog entry %q: initial_success_rate must be within [0,1]", id)
		}
	}

	return nil
}

// Build instantiates a ModelAgent per entry using resolve for the models.
func (c *Catalog) Build(resolve ModelResolver) ([]*ModelAgent, error) {
	agents := make([]*ModelAgent, 0, len(c.Agents))

	for _, e := range c.Agents {
		llm, err := resolve(e.Provider, e.Model)
		if err != nil {
			return nil, fmt.Errorf("agent %q: %w", e.ID, err)
		}

		entry := e
		agents = append(agents, NewModelAgent(entry.AgentDescriptor, llm, func(o *ModelAgentOptions) {
			if entry.Instruction != "" {
				o.Instruction = NewInstructionFromText(entry.Instruction)
			}
			if entry.MaxHistoryMessages != nil {
				o.MaxHistoryMessages = *entry.MaxHistoryMessages
			}
			o.CostPer1KTokens = entry.CostPer1KTokens
		}))
	}

	return agents, nil
}
