package testutil

import (
	"time"

	"github.com/hupe1980/meshchat/core"
)

// TaskBuilder provides a fluent helper for constructing tasks in tests.
// Example:
//
//	task := NewTaskBuilder().Message("What's my ROI?").Intents("analytics").Build()
//
// Chain only the parts you need; sensible defaults are applied.
type TaskBuilder struct {
	t core.Task
}

// NewTaskBuilder creates a builder for a task owned by t1/u1.
func NewTaskBuilder() *TaskBuilder {
	return &TaskBuilder{t: core.Task{
		ID:             core.NewID(),
		ConversationID: core.NewID(),
		TenantID:       "t1",
		UserID:         "u1",
		Message:        "hello",
		CreatedAt:      time.Now(),
	}}
}

// ID overrides the generated task id (chainable).
func (b *TaskBuilder) ID(id string) *TaskBuilder { b.t.ID = id; return b }

// Conversation sets the conversation id (chainable).
func (b *TaskBuilder) Conversation(id string) *TaskBuilder { b.t.ConversationID = id; return b }

// Owner sets tenant and user (chainable).
func (b *TaskBuilder) Owner(tenantID, userID string) *TaskBuilder {
	b.t.TenantID, b.t.UserID = tenantID, userID
	return b
}

// Message sets the message text (chainable).
func (b *TaskBuilder) Message(m string) *TaskBuilder { b.t.Message = m; return b }

// Intents sets the intent tags (chainable).
func (b *TaskBuilder) Intents(tags ...string) *TaskBuilder { b.t.Intents = tags; return b }

// History sets the most-recent-first history (chainable).
func (b *TaskBuilder) History(msgs ...core.ConversationMessage) *TaskBuilder {
	b.t.History = msgs
	return b
}

// Context sets a context key (chainable).
func (b *TaskBuilder) Context(k string, v any) *TaskBuilder {
	if b.t.Context == nil {
		b.t.Context = map[string]any{}
	}
	b.t.Context[k] = v
	return b
}

// Build returns the task.
func (b *TaskBuilder) Build() *core.Task {
	t := b.t
	return &t
}
