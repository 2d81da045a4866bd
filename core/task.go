package core

import (
	"time"

	"github.com/google/uuid"
)

// Identity carries the already-resolved tenant and user identifiers of the
// caller. Every read and write of conversational memory is scoped by it.
type Identity struct {
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id"`
}

// Validate reports an AuthError when either identifier is missing.
func (id Identity) Validate() error {
	if id.TenantID == "" {
		return &AuthError{Reason: "missing tenant id"}
	}
	if id.UserID == "" {
		return &AuthError{Reason: "missing user id"}
	}
	return nil
}

// Owns reports whether the identity owns the given session.
func (id Identity) Owns(s *ConversationSession) bool {
	return s != nil && s.TenantID == id.TenantID && s.UserID == id.UserID
}

// Task is one normalized unit of orchestration work derived from a single
// inbound message. Tasks are ephemeral: they are never persisted and are
// discarded once an ExecutionResult has been produced.
type Task struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	TenantID       string         `json:"tenant_id"`
	UserID         string         `json:"user_id"`
	Message        string         `json:"message"`
	Context        map[string]any `json:"context,omitempty"`
	// Intents are the capability tags derived by the classifier.
	Intents []string `json:"intents,omitempty"`
	// History is a read-only, most-recent-first slice of the conversation.
	History   []ConversationMessage `json:"history,omitempty"`
	CreatedAt time.Time             `json:"created_at"`
}

// Identity returns the tenant/user pair the task was built for.
func (t *Task) Identity() Identity {
	return Identity{TenantID: t.TenantID, UserID: t.UserID}
}

// HasIntent reports whether tag is among the task intents.
func (t *Task) HasIntent(tag string) bool {
	for _, in := range t.Intents {
		if in == tag {
			return true
		}
	}
	return false
}

// NewID generates a new unique identifier for tasks, sessions and messages.
func NewID() string { return uuid.NewString() }
