package core

import (
	"context"
	"time"
)

// SessionFilter narrows ListSessions. Zero-valued fields are ignored except
// TenantID, which every store must honour unless AllTenants is set.
type SessionFilter struct {
	TenantID string
	// AllTenants lifts tenant scoping. Only retention sweeps set it.
	AllTenants    bool
	UserID        string
	Status        SessionStatus
	UpdatedBefore time.Time
	Limit         int
}

// MessageQuery describes a case-insensitive content search scoped to an owner.
type MessageQuery struct {
	TenantID string
	UserID   string
	Query    string
	Limit    int
}

// ConversationStore persists sessions and their append-only messages.
//
// Implementations must be safe for concurrent use and must keep
// ConversationSession.MessageCount equal to the number of persisted messages:
// AppendMessages inserts the messages and bumps the counter in one step.
type ConversationStore interface {
	// CreateSessionIfAbsent stores s unless a session with the same id exists.
	// It returns the stored session and whether it was created by this call.
	CreateSessionIfAbsent(ctx context.Context, s *ConversationSession) (*ConversationSession, bool, error)

	// GetSession returns the session or ErrNotFound.
	GetSession(ctx context.Context, id string) (*ConversationSession, error)

	// UpdateSession overwrites mutable metadata (title, status, tags, summary,
	// updated_at). MessageCount is owned by AppendMessages and is not changed.
	UpdateSession(ctx context.Context, s *ConversationSession) error

	// AppendMessages appends msgs, increments MessageCount, bumps UpdatedAt and
	// applies mutate to the session before saving. Archived sessions yield
	// ErrSessionArchived.
	AppendMessages(ctx context.Context, sessionID string, msgs []ConversationMessage, mutate func(*ConversationSession)) (*ConversationSession, error)

	// ListSessions returns sessions ordered by UpdatedAt descending.
	ListSessions(ctx context.Context, filter SessionFilter) ([]*ConversationSession, error)

	// ListMessages returns the last limit messages of a session in append order.
	// limit <= 0 returns all.
	ListMessages(ctx context.Context, sessionID string, limit int) ([]ConversationMessage, error)

	// SearchMessages returns matching messages newest first.
	SearchMessages(ctx context.Context, q MessageQuery) ([]ConversationMessage, error)
}

// RecentHistory is the bounded per-conversation cache of recent messages.
// Pushes for one conversation are serialized by the caller.
type RecentHistory interface {
	Push(ctx context.Context, conversationID string, msgs ...ConversationMessage) error
	// Recent returns up to limit messages, most recent first.
	Recent(ctx context.Context, conversationID string, limit int) ([]ConversationMessage, error)
	Evict(ctx context.Context, conversationID string) error
	Capacity() int
}
