// Package registry holds the catalog of agents available to the orchestrator
// together with their accumulated success-rate metric.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hupe1980/meshchat/core"
)

// Candidate is an agent offered for a task, with its ranking inputs.
type Candidate struct {
	Agent      core.Agent
	Descriptor core.AgentDescriptor
	// Confidence is |capabilities ∩ intents| / |intents|.
	Confidence  float64
	SuccessRate float64
}

// ID returns the candidate agent id.
func (c Candidate) ID() string { return c.Descriptor.ID }

// Stats is a snapshot of an agent's recorded outcomes.
type Stats struct {
	AgentID     string  `json:"agent_id"`
	Attempts    int64   `json:"attempts"`
	Successes   int64   `json:"successes"`
	SuccessRate float64 `json:"success_rate"`
}

// Summary aggregates registry contents without exposing agent details.
type Summary struct {
	Total        int            `json:"total"`
	General      int            `json:"general"`
	Capabilities map[string]int `json:"capabilities"`
}

type entry struct {
	agent     core.Agent
	desc      core.AgentDescriptor
	attempts  int64
	successes int64
}

func (e *entry) successRate() float64 {
	if e.attempts == 0 {
		return e.desc.InitialSuccessRate
	}
	return float64(e.successes) / float64(e.attempts)
}

// Registry is a thread-safe catalog of agents keyed by id.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds an agent. The descriptor must carry a non-empty id that is
// not yet registered.
func (r *Registry) Register(a core.Agent) error {
	desc := a.Descriptor()
	if strings.TrimSpace(desc.ID) == "" {
		return fmt.Errorf("register agent: missing id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[desc.ID]; exists {
		return fmt.Errorf("register agent %q: %w", desc.ID, core.ErrDuplicateAgent)
	}

	r.entries[desc.ID] = &entry{agent: a, desc: desc}

	return nil
}

// MustRegister is like Register but panics on error. Intended for static wiring.
func (r *Registry) MustRegister(agents ...core.Agent) {
	for _, a := range agents {
		if err := r.Register(a); err != nil {
			panic(err)
		}
	}
}

// Unregister removes an agent and its stats. Unknown ids are ignored.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// Get retrieves an agent by id.
func (r *Registry) Get(id string) (core.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}

	return e.agent, true
}

// List returns all descriptors ordered by id.
func (r *Registry) List() []core.AgentDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]core.AgentDescriptor, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.desc)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out
}

// Count returns the number of registered agents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// ListCandidates returns the agents whose capability tags intersect the task
// intents, ranked by success rate desc, declared cost asc and agent id asc.
// When nothing intersects, agents tagged core.CapabilityGeneral are returned.
func (r *Registry) ListCandidates(task *core.Task) []Candidate {
	intents := normalize(task.Intents)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []Candidate

	for _, e := range r.entries {
		hits := 0
		for _, in := range intents {
			if e.desc.HasCapability(in) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		matched = append(matched, Candidate{
			Agent:       e.agent,
			Descriptor:  e.desc,
			Confidence:  float64(hits) / float64(len(intents)),
			SuccessRate: e.successRate(),
		})
	}

	if len(matched) == 0 {
		for _, e := range r.entries {
			if e.desc.HasCapability(core.CapabilityGeneral) {
				matched = append(matched, Candidate{
					Agent:       e.agent,
					Descriptor:  e.desc,
					SuccessRate: e.successRate(),
				})
			}
		}
	}

	SortCandidates(matched)

	return matched
}

// SortCandidates orders candidates by rank: success rate desc, declared cost
// asc, agent id asc.
func SortCandidates(cs []Candidate) {
	sort.SliceStable(cs, func(i, j int) bool { return Less(cs[i], cs[j]) })
}

// Less reports whether a ranks strictly before b.
func Less(a, b Candidate) bool {
	if a.SuccessRate != b.SuccessRate {
		return a.SuccessRate > b.SuccessRate
	}
	if a.Descriptor.Cost != b.Descriptor.Cost {
		return a.Descriptor.Cost < b.Descriptor.Cost
	}
	return a.Descriptor.ID < b.Descriptor.ID
}

// RecordOutcome accumulates one invocation outcome. Unknown ids are ignored.
func (r *Registry) RecordOutcome(agentID string, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[agentID]
	if !ok {
		return
	}

	e.attempts++
	if success {
		e.successes++
	}
}

// Stats returns a snapshot of an agent's outcomes.
func (r *Registry) Stats(agentID string) (Stats, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[agentID]
	if !ok {
		return Stats{}, false
	}

	return Stats{
		AgentID:     agentID,
		Attempts:    e.attempts,
		Successes:   e.successes,
		SuccessRate: e.successRate(),
	}, true
}

// Summary returns aggregate counts for health reporting.
func (r *Registry) Summary() Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Summary{Total: len(r.entries), Capabilities: make(map[string]int)}
	for _, e := range r.entries {
		for _, c := range e.desc.Capabilities {
			s.Capabilities[c]++
		}
		if e.desc.HasCapability(core.CapabilityGeneral) {
			s.General++
		}
	}

	return s
}

func normalize(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
