package agent

import (
	"github.com/hupe1980/meshchat/core"
	"github.com/hupe1980/meshchat/internal/util"
)

// Provider supplies dynamic instruction text at runtime.
// Implementations can derive instructions from the task, its context, etc.
type Provider interface {
	Instruction(*core.Task) (string, error)
}

// Func is a functional adapter to allow ordinary functions to be used as Providers.
type Func func(*core.Task) (string, error)

// Instruction implements Provider.
func (f Func) Instruction(t *core.Task) (string, error) { return f(t) }

// Instruction represents either a static instruction string or a dynamic provider.
// Static text may contain text/template markers rendered against the task state
// (see TaskState).
type Instruction struct {
	text     string
	provider Provider
}

// NewInstructionFromText creates an Instruction from a static string.
func NewInstructionFromText(text string) Instruction { return Instruction{text: text} }

// NewInstructionFromProvider creates an Instruction from a dynamic provider.
func NewInstructionFromProvider(p Provider) Instruction { return Instruction{provider: p} }

// NewInstructionFromFunc creates an Instruction from a function.
func NewInstructionFromFunc(f func(*core.Task) (string, error)) Instruction {
	return Instruction{provider: Func(f)}
}

// IsStatic returns true if the instruction is backed by a static string.
func (i Instruction) IsStatic() bool { return i.provider == nil }

// Resolve returns the instruction text, invoking the provider or rendering the
// template as needed.
func (i Instruction) Resolve(t *core.Task) (string, error) {
	if i.provider != nil {
		return i.provider.Instruction(t)
	}
	return util.RenderTemplate(i.text, TaskState(t))
}

// TaskState exposes task fields to instruction templates:
// .message, .intents, .conversation_id, .tenant_id, .user_id and .context.
func TaskState(t *core.Task) map[string]any {
	if t == nil {
		return map[string]any{}
	}

	ctx := t.Context
	if ctx == nil {
		ctx = map[string]any{}
	}

	return map[string]any{
		"message":         t.Message,
		"intents":         t.Intents,
		"conversation_id": t.ConversationID,
		"tenant_id":       t.TenantID,
		"user_id":         t.UserID,
		"context":         ctx,
	}
}
