package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/meshchat/core"
	"github.com/hupe1980/meshchat/registry"
)

func settledFor(id string, rate, cost float64, latency time.Duration, success bool) Settled {
	r := core.AgentResult{AgentID: id, Success: success, Latency: latency, Response: "from " + id, Suggestions: []string{}}
	if !success {
		r = core.NewFailedResult(id, assert.AnError, latency)
	}
	return Settled{
		Candidate: registry.Candidate{
			Descriptor:  core.AgentDescriptor{ID: id, Cost: cost},
			SuccessRate: rate,
		},
		Result: r,
	}
}

func TestSelectPrimary_Ordering(t *testing.T) {
	tests := []struct {
		name    string
		settled []Settled
		want    string
	}{
		{
			name: "success rate wins",
			settled: []Settled{
				settledFor("b", 0.8, 0.01, time.Millisecond, true),
				settledFor("a", 0.9, 0.05, time.Second, true),
			},
			want: "a",
		},
		{
			name: "cost breaks rate tie",
			settled: []Settled{
				settledFor("a", 0.9, 0.05, time.Millisecond, true),
				settledFor("b", 0.9, 0.01, time.Second, true),
			},
			want: "b",
		},
		{
			name: "latency breaks rank tie",
			settled: []Settled{
				settledFor("a", 0.9, 0.01, 30*time.Millisecond, true),
				settledFor("b", 0.9, 0.01, 10*time.Millisecond, true),
			},
			want: "b",
		},
		{
			name: "agent id breaks full tie",
			settled: []Settled{
				settledFor("zeta", 0.9, 0.01, 10*time.Millisecond, true),
				settledFor("alpha", 0.9, 0.01, 10*time.Millisecond, true),
			},
			want: "alpha",
		},
		{
			name: "failures are skipped",
			settled: []Settled{
				settledFor("a", 1.0, 0, 0, false),
				settledFor("b", 0.1, 0, 0, true),
			},
			want: "b",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			i := SelectPrimary(tt.settled)
			require.GreaterOrEqual(t, i, 0)
			assert.Equal(t, tt.want, tt.settled[i].Result.AgentID)
		})
	}

	assert.Equal(t, -1, SelectPrimary([]Settled{settledFor("a", 1, 0, 0, false)}))
	assert.Equal(t, -1, SelectPrimary(nil))
}

func TestAggregate_DeterministicAcrossPermutations(t *testing.T) {
	base := []Settled{
		settledFor("c", 0.9, 0.01, 10*time.Millisecond, true),
		settledFor("a", 0.9, 0.01, 10*time.Millisecond, true),
		settledFor("b", 0.9, 0.01, 5*time.Millisecond, false),
	}

	perms := [][]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}

	for _, p := range perms {
		set := []Settled{base[p[0]], base[p[1]], base[p[2]]}
		for run := 0; run < 3; run++ {
			agg := Aggregate(set, "")
			require.NotNil(t, agg.Primary)
			assert.Equal(t, "a", agg.Primary.AgentID)
			assert.Equal(t, "from a", agg.FinalResponse)
		}
	}
}

func TestAggregate_SuggestionsAndTotals(t *testing.T) {
	a := settledFor("a", 0.9, 0.01, 0, true)
	a.Result.Suggestions = []string{"x", "y", ""}
	a.Result.TokensUsed = 50
	a.Result.Cost = 0.01

	b := settledFor("b", 0.8, 0.02, 0, true)
	b.Result.Suggestions = []string{"y", "z"}
	b.Result.TokensUsed = 30
	b.Result.Cost = 0.02

	agg := Aggregate([]Settled{a, b}, "")
	assert.True(t, agg.Success)
	assert.Equal(t, []string{"x", "y", "z"}, agg.Suggestions)
	assert.Equal(t, 80, agg.TotalTokens)
	assert.InDelta(t, 0.03, agg.TotalCost, 1e-9)
	assert.Len(t, agg.Results, 2)
}

func TestAggregate_Fallback(t *testing.T) {
	f := settledFor("a", 0.9, 0.01, 0, false)
	f.Result.TokensUsed = 7

	agg := Aggregate([]Settled{f}, "")
	assert.False(t, agg.Success)
	assert.Equal(t, DefaultFallbackText, agg.FinalResponse)
	assert.Equal(t, 7, agg.TotalTokens)
	require.Len(t, agg.Results, 2)
	assert.Equal(t, core.FallbackAgentID, agg.Results[1].AgentID)
	assert.Nil(t, agg.Results[1].Data)
	assert.Equal(t, core.ErrAggregationFailure.Error(), agg.Results[1].Error)

	agg = Aggregate(nil, "custom")
	assert.Equal(t, "custom", agg.FinalResponse)
	assert.Len(t, agg.Results, 1)
}
