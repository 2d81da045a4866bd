package core

import "time"

// SessionStatus is the lifecycle status of a ConversationSession.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionArchived  SessionStatus = "archived"
)

// forwardTransitions lists the monotonic status moves. Reopen is the only
// backwards move and is modelled separately.
var forwardTransitions = map[SessionStatus]map[SessionStatus]struct{}{
	SessionActive: {
		SessionCompleted: {},
		SessionArchived:  {},
	},
	SessionCompleted: {
		SessionArchived: {},
	},
}

// Valid reports whether s is a known status.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionActive, SessionCompleted, SessionArchived:
		return true
	}
	return false
}

// CanAdvanceTo reports whether moving from s to next keeps the status monotonic.
func (s SessionStatus) CanAdvanceTo(next SessionStatus) bool {
	_, ok := forwardTransitions[s][next]
	return ok
}

// MessageType is the author category of a ConversationMessage.
type MessageType string

const (
	MessageUser      MessageType = "user"
	MessageAssistant MessageType = "assistant"
	MessageSystem    MessageType = "system"
)

// MessageMetadata records how a message relates to orchestration.
type MessageMetadata struct {
	Intent  string `json:"intent,omitempty"`
	Action  string `json:"action,omitempty"`
	AgentID string `json:"agent_id,omitempty"`
}

// ConversationMessage is one persisted message. Messages are append-only and
// never edited once stored.
type ConversationMessage struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	Type      MessageType     `json:"type"`
	Content   string          `json:"content"`
	Timestamp time.Time       `json:"timestamp"`
	Metadata  MessageMetadata `json:"metadata"`
}

// ConversationSession groups messages sharing a conversation identity. The
// session id equals the conversation id handed out to chat clients.
type ConversationSession struct {
	ID           string        `json:"id"`
	TenantID     string        `json:"tenant_id"`
	UserID       string        `json:"user_id"`
	Title        string        `json:"title"`
	Status       SessionStatus `json:"status"`
	MessageCount int           `json:"message_count"`
	Tags         []string      `json:"tags"`
	Summary      string        `json:"summary"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// NewConversationSession creates an active session with zero messages.
func NewConversationSession(id string, owner Identity, now time.Time) *ConversationSession {
	return &ConversationSession{
		ID:        id,
		TenantID:  owner.TenantID,
		UserID:    owner.UserID,
		Status:    SessionActive,
		Tags:      []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy safe for independent mutation.
func (s *ConversationSession) Clone() *ConversationSession {
	if s == nil {
		return nil
	}
	c := *s
	c.Tags = append([]string{}, s.Tags...)
	return &c
}

// AddTags merges tags into the session keeping first-seen order.
func (s *ConversationSession) AddTags(tags ...string) {
	seen := make(map[string]struct{}, len(s.Tags))
	for _, t := range s.Tags {
		seen[t] = struct{}{}
	}
	for _, t := range tags {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		s.Tags = append(s.Tags, t)
	}
}
