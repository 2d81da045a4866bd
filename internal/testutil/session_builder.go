package testutil

import (
	"time"

	"github.com/hupe1980/meshchat/core"
)

// Epoch is a fixed reference time for deterministic tests.
var Epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// SessionBuilder helps construct conversation sessions with fluent chaining.
// Example:
//
//	sess := NewSessionBuilder("c-1").Owner("t1", "u1").Status(core.SessionCompleted).Build()
type SessionBuilder struct {
	s *core.ConversationSession
}

// NewSessionBuilder creates a builder for an active session owned by t1/u1.
func NewSessionBuilder(id string) *SessionBuilder {
	return &SessionBuilder{s: core.NewConversationSession(id, core.Identity{TenantID: "t1", UserID: "u1"}, Epoch)}
}

// Owner sets tenant and user (chainable).
func (b *SessionBuilder) Owner(tenantID, userID string) *SessionBuilder {
	b.s.TenantID, b.s.UserID = tenantID, userID
	return b
}

// Status sets the session status (chainable).
func (b *SessionBuilder) Status(st core.SessionStatus) *SessionBuilder { b.s.Status = st; return b }

// Title sets the title (chainable).
func (b *SessionBuilder) Title(t string) *SessionBuilder { b.s.Title = t; return b }

// Tags sets the tags (chainable).
func (b *SessionBuilder) Tags(tags ...string) *SessionBuilder { b.s.Tags = tags; return b }

// UpdatedAt sets both creation and update time (chainable).
func (b *SessionBuilder) UpdatedAt(t time.Time) *SessionBuilder {
	b.s.CreatedAt, b.s.UpdatedAt = t, t
	return b
}

// Build returns a copy of the configured session.
func (b *SessionBuilder) Build() *core.ConversationSession { return b.s.Clone() }

// Message returns a message of the given type stamped at ts.
func Message(sessionID string, typ core.MessageType, content string, ts time.Time) core.ConversationMessage {
	return core.ConversationMessage{
		ID:        core.NewID(),
		SessionID: sessionID,
		Type:      typ,
		Content:   content,
		Timestamp: ts,
	}
}
