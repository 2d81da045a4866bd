package chat_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/meshchat/agent"
	"github.com/hupe1980/meshchat/chat"
	"github.com/hupe1980/meshchat/core"
	"github.com/hupe1980/meshchat/memory"
	"github.com/hupe1980/meshchat/orchestrator"
	"github.com/hupe1980/meshchat/registry"
	"github.com/hupe1980/meshchat/task"
)

var owner = core.Identity{TenantID: "t1", UserID: "u1"}

type stack struct {
	svc      *chat.Service
	memory   *memory.Manager
	registry *registry.Registry
	calls    *atomic.Int32
}

func fixedAgent(id string, caps []string, tokens int, cost float64, calls *atomic.Int32) core.Agent {
	return agent.NewFuncAgent(core.AgentDescriptor{ID: id, Capabilities: caps, InitialSuccessRate: 0.9},
		func(ctx context.Context, t *core.Task) (*core.AgentResponse, error) {
			calls.Add(1)
			return &core.AgentResponse{
				Text:        "answer from " + id,
				Suggestions: []string{"Show trend"},
				TokensUsed:  tokens,
				Cost:        cost,
			}, nil
		})
}

func newStack(t *testing.T, agents func(calls *atomic.Int32) []core.Agent, optFns ...func(o *chat.Options)) *stack {
	t.Helper()

	calls := &atomic.Int32{}

	reg := registry.New()
	reg.MustRegister(agents(calls)...)

	mem := memory.NewManager()

	builder, err := task.New(nil, func(o *task.Options) { o.History = mem })
	require.NoError(t, err)

	orch := orchestrator.New(reg, func(o *orchestrator.Options) { o.Deadline = 2 * time.Second })

	svc := chat.NewService(builder, orch, mem, optFns...)
	t.Cleanup(func() { _ = svc.Close(context.Background()) })

	return &stack{svc: svc, memory: mem, registry: reg, calls: calls}
}

func TestService_ROIScenario(t *testing.T) {
	ctx := context.Background()
	st := newStack(t, func(calls *atomic.Int32) []core.Agent {
		return []core.Agent{
			fixedAgent("analytics-agent", []string{"analytics"}, 40, 0.004, calls),
			fixedAgent("support-agent", []string{"support"}, 10, 0.001, calls),
		}
	})

	resp, err := st.svc.Handle(ctx, owner, task.Request{Message: "What's my current ROI?"})
	require.NoError(t, err)

	assert.True(t, resp.Metadata.Success)
	assert.NotEmpty(t, resp.Response)
	assert.Equal(t, "analytics-agent", resp.AgentUsed)
	assert.Contains(t, resp.Metadata.AgentsInvolved, "analytics-agent")
	assert.NotEmpty(t, resp.Metadata.ConversationID)
	assert.Equal(t, []string{"Show trend"}, resp.Suggestions)
}

func TestService_EmptyMessageInvokesNoAgent(t *testing.T) {
	st := newStack(t, func(calls *atomic.Int32) []core.Agent {
		return []core.Agent{fixedAgent("general-agent", []string{"general"}, 1, 0, calls)}
	})

	resp, err := st.svc.Handle(context.Background(), owner, task.Request{Message: ""})
	assert.Nil(t, resp)
	assert.True(t, core.IsValidation(err))
	assert.Equal(t, int32(0), st.calls.Load())

	_, err = st.svc.Handle(context.Background(), core.Identity{}, task.Request{Message: "hi"})
	assert.True(t, core.IsAuth(err))
	assert.Equal(t, int32(0), st.calls.Load())
}

func TestService_TotalsAcrossAgents(t *testing.T) {
	st := newStack(t, func(calls *atomic.Int32) []core.Agent {
		return []core.Agent{
			fixedAgent("a", []string{"analytics"}, 50, 0.01, calls),
			fixedAgent("b", []string{"analytics"}, 30, 0.02, calls),
		}
	})

	resp, err := st.svc.Handle(context.Background(), owner, task.Request{Message: "What's my current ROI?"})
	require.NoError(t, err)

	assert.Equal(t, 80, resp.Metadata.TokensUsed)
	assert.Equal(t, 0.03, resp.Metadata.Cost)
	assert.ElementsMatch(t, []string{"a", "b"}, resp.Metadata.AgentsInvolved)
}

func TestService_FirstExchangeCreatesActiveSession(t *testing.T) {
	ctx := context.Background()
	st := newStack(t, func(calls *atomic.Int32) []core.Agent {
		return []core.Agent{fixedAgent("general-agent", []string{"general"}, 5, 0, calls)}
	})

	resp, err := st.svc.Handle(ctx, owner, task.Request{Message: "hello there", ConversationID: "brand-new"})
	require.NoError(t, err)
	assert.Equal(t, "brand-new", resp.Metadata.ConversationID)

	require.NoError(t, st.svc.Drain(ctx))

	s, err := st.memory.GetSession(ctx, owner, "brand-new")
	require.NoError(t, err)
	assert.Equal(t, core.SessionActive, s.Status)
	assert.Equal(t, 2, s.MessageCount)
	assert.Equal(t, "hello there", s.Title)
	assert.Equal(t, "answer from general-agent", s.Summary)

	// The next message sees the first exchange as history.
	var seen []core.ConversationMessage
	var mu sync.Mutex
	st.registry.Unregister("general-agent")
	st.registry.MustRegister(agent.NewFuncAgent(core.AgentDescriptor{ID: "probe", Capabilities: []string{"general"}},
		func(_ context.Context, t *core.Task) (*core.AgentResponse, error) {
			mu.Lock()
			seen = t.History
			mu.Unlock()
			return &core.AgentResponse{Text: "ok"}, nil
		}))

	_, err = st.svc.Handle(ctx, owner, task.Request{Message: "and again", ConversationID: "brand-new"})
	require.NoError(t, err)
	require.NoError(t, st.svc.Drain(ctx))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	assert.Equal(t, "answer from general-agent", seen[0].Content)
	assert.Equal(t, "general-agent", seen[0].Metadata.AgentID)

	s, err = st.memory.GetSession(ctx, owner, "brand-new")
	require.NoError(t, err)
	assert.Equal(t, 4, s.MessageCount)
}

func TestService_AllAgentsFailReturnsFallback(t *testing.T) {
	st := newStack(t, func(calls *atomic.Int32) []core.Agent {
		return []core.Agent{agent.NewFuncAgent(core.AgentDescriptor{ID: "broken", Capabilities: []string{"general"}},
			func(context.Context, *core.Task) (*core.AgentResponse, error) {
				calls.Add(1)
				return nil, errors.New("boom")
			})}
	})

	resp, err := st.svc.Handle(context.Background(), owner, task.Request{Message: "anything"})
	require.NoError(t, err)

	assert.False(t, resp.Metadata.Success)
	assert.Equal(t, orchestrator.DefaultFallbackText, resp.Response)
	assert.Equal(t, core.FallbackAgentID, resp.AgentUsed)
	assert.Nil(t, resp.Data)
}

type failingMemory struct{}

func (failingMemory) CreateOrGetSession(context.Context, string, core.Identity) (*core.ConversationSession, error) {
	return nil, errors.New("disk full")
}

func (failingMemory) AppendExchange(context.Context, core.Identity, string, ...core.ConversationMessage) (*core.ConversationSession, error) {
	return nil, errors.New("unreachable")
}

func TestService_PersistenceFailureIsNotSurfaced(t *testing.T) {
	reg := registry.New()
	calls := &atomic.Int32{}
	reg.MustRegister(fixedAgent("general-agent", []string{"general"}, 1, 0, calls))

	builder, err := task.New(nil)
	require.NoError(t, err)

	persistErrs := make(chan *core.PersistenceError, 1)

	svc := chat.NewService(builder, orchestrator.New(reg), failingMemory{}, func(o *chat.Options) {
		o.OnPersistError = func(err *core.PersistenceError) { persistErrs <- err }
	})

	resp, err := svc.Handle(context.Background(), owner, task.Request{Message: "hi"})
	require.NoError(t, err)
	assert.True(t, resp.Metadata.Success)

	require.NoError(t, svc.Close(context.Background()))

	select {
	case pe := <-persistErrs:
		assert.Equal(t, "create_session", pe.Op)
		assert.EqualError(t, errors.Unwrap(pe), "disk full")
	default:
		t.Fatal("expected a persistence error")
	}
}

func TestNewResponse_RoundsCostAndDefaultsSlices(t *testing.T) {
	a, b := 0.1, 0.2

	resp := chat.NewResponse(&core.ExecutionResult{
		ConversationID: "c",
		TotalCost:      a + b,
		ExecutionTime:  1500 * time.Millisecond,
	})

	assert.Equal(t, 0.3, resp.Metadata.Cost)
	assert.Equal(t, int64(1500), resp.Metadata.ExecutionTime)
	assert.NotNil(t, resp.Suggestions)
	assert.NotNil(t, resp.Metadata.AgentsInvolved)
}
