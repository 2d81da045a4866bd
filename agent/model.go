package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/hupe1980/meshchat/core"
	"github.com/hupe1980/meshchat/model"
)

// DefaultSuggestionPrefix marks response lines that are lifted into
// AgentResponse.Suggestions instead of the answer text.
const DefaultSuggestionPrefix = "Suggestion:"

// ModelAgentOptions configures a ModelAgent instance.
//
// Use functional options with NewModelAgent to override defaults.
type ModelAgentOptions struct {
	Instruction        Instruction
	MaxHistoryMessages int
	// CostPer1KTokens is added to the declared per-call cost for every
	// thousand tokens the model reports.
	CostPer1KTokens  float64
	SuggestionPrefix string
	MaxTokens        int64
}

// ModelAgent answers tasks by prompting a language model.
//
// The prompt is the resolved instruction, the recent conversation history in
// chronological order and the task message. Token usage reported by the model
// is accounted on the response, including when the call fails after the model
// produced output.
type ModelAgent struct {
	BaseAgent
	llm                model.Model
	instruction        Instruction
	maxHistoryMessages int
	costPer1KTokens    float64
	suggestionPrefix   string
	maxTokens          int64
}

// NewModelAgent creates a new model-based agent with sensible defaults.
//
// The agent is initialized with:
//   - an instruction naming the agent and its capabilities
//   - a 10-message conversation history limit
//   - the "Suggestion:" prefix for follow-up suggestions
func NewModelAgent(desc core.AgentDescriptor, llm model.Model, optFns ...func(o *ModelAgentOptions)) *ModelAgent {
	base := NewBaseAgent(desc)

	opts := ModelAgentOptions{
		Instruction: NewInstructionFromText(fmt.Sprintf(
			"You are %s, a specialist assistant for %s. Answer concisely. "+
				"End with up to three lines starting with %q proposing follow-up questions.",
			base.Name(), strings.Join(base.desc.Capabilities, ", "), DefaultSuggestionPrefix,
		)),
		MaxHistoryMessages: 10,
		SuggestionPrefix:   DefaultSuggestionPrefix,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &ModelAgent{
		BaseAgent:          base,
		llm:                llm,
		instruction:        opts.Instruction,
		maxHistoryMessages: opts.MaxHistoryMessages,
		costPer1KTokens:    opts.CostPer1KTokens,
		suggestionPrefix:   opts.SuggestionPrefix,
		maxTokens:          opts.MaxTokens,
	}
}

// Model returns the underlying language model.
func (a *ModelAgent) Model() model.Model { return a.llm }

// Invoke implements core.Agent.
func (a *ModelAgent) Invoke(ctx context.Context, task *core.Task) (*core.AgentResponse, error) {
	instructions, err := a.instruction.Resolve(task)
	if err != nil {
		return nil, fmt.Errorf("resolve instruction: %w", err)
	}

	req := model.Request{
		Instructions: instructions,
		Messages:     a.buildMessages(task),
		MaxTokens:    a.maxTokens,
	}

	resp, err := a.llm.Generate(ctx, req)
	if err != nil {
		return nil, classifyError(err)
	}

	text, suggestions := a.splitSuggestions(resp.Text)

	info := a.llm.Info()

	return &core.AgentResponse{
		Text: text,
		Data: map[string]any{
			"model":         info.Name,
			"provider":      info.Provider,
			"finish_reason": resp.FinishReason,
		},
		Suggestions: suggestions,
		TokensUsed:  resp.Usage.TotalTokens,
		Cost:        a.cost(resp.Usage.TotalTokens),
	}, nil
}

func (a *ModelAgent) cost(tokens int) float64 {
	return a.desc.Cost + float64(tokens)/1000*a.costPer1KTokens
}

// buildMessages converts the most-recent-first task history into a
// chronological prompt ending with the task message.
func (a *ModelAgent) buildMessages(task *core.Task) []model.Message {
	history := task.History
	if a.maxHistoryMessages >= 0 && len(history) > a.maxHistoryMessages {
		history = history[:a.maxHistoryMessages]
	}

	messages := make([]model.Message, 0, len(history)+1)

	for i := len(history) - 1; i >= 0; i-- {
		msg := history[i]
		switch msg.Type {
		case core.MessageUser:
			messages = append(messages, model.Message{Role: model.RoleUser, Content: msg.Content})
		case core.MessageAssistant:
			messages = append(messages, model.Message{Role: model.RoleAssistant, Content: msg.Content})
		}
	}

	return append(messages, model.Message{Role: model.RoleUser, Content: task.Message})
}

// splitSuggestions lifts prefixed lines out of the answer text.
func (a *ModelAgent) splitSuggestions(text string) (string, []string) {
	suggestions := []string{}
	if a.suggestionPrefix == "" {
		return strings.TrimSpace(text), suggestions
	}

	prefix := strings.ToLower(a.suggestionPrefix)

	var kept []string

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*"))
		if strings.HasPrefix(strings.ToLower(trimmed), prefix) {
			if s := strings.TrimSpace(trimmed[len(prefix):]); s != "" {
				suggestions = append(suggestions, s)
			}
			continue
		}
		kept = append(kept, line)
	}

	return strings.TrimSpace(strings.Join(kept, "\n")), suggestions
}

// classifyError maps retryable provider failures onto core.ErrTransport.
func classifyError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	if errors.Is(err, model.ErrUnavailable) {
		return fmt.Errorf("%w: %w", core.ErrTransport, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", core.ErrTransport, err)
	}

	return err
}

var _ core.Agent = (*ModelAgent)(nil)
