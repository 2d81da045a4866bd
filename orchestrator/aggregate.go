package orchestrator

import (
	"github.com/hupe1980/meshchat/core"
	"github.com/hupe1980/meshchat/registry"
)

// DefaultFallbackText is the apology returned when no agent could answer.
const DefaultFallbackText = "I'm sorry, I couldn't process your request right now. Please try again in a moment."

// Settled pairs a dispatched candidate with its settled result.
type Settled struct {
	Candidate registry.Candidate
	Result    core.AgentResult
}

// Aggregation is the merged outcome of a settled set.
type Aggregation struct {
	Results       []core.AgentResult
	Primary       *core.AgentResult
	FinalResponse string
	Data          map[string]any
	Suggestions   []string
	TotalTokens   int
	TotalCost     float64
	Success       bool
}

// Aggregate merges a settled set given in dispatch rank order. It is a pure
// function: the same settled set always yields the same aggregation, however
// the results arrived.
//
// When no result succeeded a fallback result carrying fallbackText is appended
// and Success is false.
func Aggregate(settled []Settled, fallbackText string) Aggregation {
	agg := Aggregation{
		Results:     make([]core.AgentResult, 0, len(settled)+1),
		Suggestions: []string{},
	}

	seen := make(map[string]struct{})

	for _, s := range settled {
		r := s.Result
		agg.Results = append(agg.Results, r)
		agg.TotalTokens += r.TokensUsed
		agg.TotalCost += r.Cost

		for _, sug := range r.Suggestions {
			if sug == "" {
				continue
			}
			if _, dup := seen[sug]; dup {
				continue
			}
			seen[sug] = struct{}{}
			agg.Suggestions = append(agg.Suggestions, sug)
		}
	}

	if p := SelectPrimary(settled); p >= 0 {
		primary := agg.Results[p]
		agg.Primary = &primary
		agg.FinalResponse = primary.Response
		agg.Data = primary.Data
		agg.Success = true

		return agg
	}

	if fallbackText == "" {
		fallbackText = DefaultFallbackText
	}

	fallback := core.AgentResult{
		AgentID:     core.FallbackAgentID,
		Response:    fallbackText,
		Suggestions: []string{},
		Success:     false,
		Error:       core.ErrAggregationFailure.Error(),
	}

	agg.Results = append(agg.Results, fallback)
	agg.Primary = &fallback
	agg.FinalResponse = fallbackText

	return agg
}

// SelectPrimary returns the index of the primary result among the successful
// ones, or -1. Order: rank (success rate desc, declared cost asc), then lowest
// latency, then smallest agent id.
func SelectPrimary(settled []Settled) int {
	best := -1

	for i, s := range settled {
		if !s.Result.Success {
			continue
		}
		if best < 0 || primaryLess(s, settled[best]) {
			best = i
		}
	}

	return best
}

func primaryLess(a, b Settled) bool {
	if a.Candidate.SuccessRate != b.Candidate.SuccessRate {
		return a.Candidate.SuccessRate > b.Candidate.SuccessRate
	}
	if a.Candidate.Descriptor.Cost != b.Candidate.Descriptor.Cost {
		return a.Candidate.Descriptor.Cost < b.Candidate.Descriptor.Cost
	}
	if a.Result.Latency != b.Result.Latency {
		return a.Result.Latency < b.Result.Latency
	}
	return a.Result.AgentID < b.Result.AgentID
}
