package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/meshchat/core"
	"github.com/hupe1980/meshchat/logging"
)

const (
	// DefaultListLimit applies when a caller passes limit <= 0.
	DefaultListLimit = 20
	// MaxListLimit caps every list, search and timeline read.
	MaxListLimit = 200
	// DefaultTitleLength caps the title derived from the first user message.
	DefaultTitleLength = 80
	// DefaultSummaryLength caps the summary derived from assistant replies.
	DefaultSummaryLength = 240
)

// Options configures a Manager.
type Options struct {
	Store   core.ConversationStore
	History core.RecentHistory
	// RingCapacity sizes the default in-process history when History is nil.
	RingCapacity  int
	TitleLength   int
	SummaryLength int
	Logger        logging.Logger
	Now           func() time.Time
}

// Manager is the conversational memory service. Every operation is scoped by
// the caller identity; sessions owned by someone else are reported as
// core.ErrNotFound.
//
// Appends for one conversation are serialized through a keyed lock so that the
// store and the recent-history ring observe the same order. Different
// conversations never contend.
type Manager struct {
	store   core.ConversationStore
	history core.RecentHistory
	locks   *keyedMutex
	opts    Options
}

// NewManager creates a Manager. Without options it uses an InMemoryStore and
// a RingHistory of capacity DefaultRingCapacity.
func NewManager(optFns ...func(o *Options)) *Manager {
	opts := Options{
		RingCapacity:  DefaultRingCapacity,
		TitleLength:   DefaultTitleLength,
		SummaryLength: DefaultSummaryLength,
		Logger:        logging.NoOpLogger{},
		Now:           time.Now,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Store == nil {
		opts.Store = NewInMemoryStore()
	}

	if opts.History == nil {
		opts.History = NewRingHistory(func(o *RingHistoryOptions) {
			o.Capacity = opts.RingCapacity
		})
	}

	return &Manager{
		store:   opts.Store,
		history: opts.History,
		locks:   newKeyedMutex(),
		opts:    opts,
	}
}

// Store returns the underlying conversation store.
func (m *Manager) Store() core.ConversationStore { return m.store }

// RingCapacity returns K of the recent-history backend.
func (m *Manager) RingCapacity() int { return m.history.Capacity() }

// CreateOrGetSession returns the session for conversationID, creating an
// active empty one when absent. An empty conversationID gets a fresh id.
func (m *Manager) CreateOrGetSession(ctx context.Context, conversationID string, owner core.Identity) (*core.ConversationSession, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}

	if conversationID == "" {
		conversationID = core.NewID()
	}

	s, created, err := m.store.CreateSessionIfAbsent(ctx, core.NewConversationSession(conversationID, owner, clock(m.opts.Now)))
	if err != nil {
		return nil, fmt.Errorf("create session %s: %w", conversationID, err)
	}

	if !owner.Owns(s) {
		return nil, core.ErrNotFound
	}

	if created {
		m.opts.Logger.Debug("session created", "session_id", s.ID, "tenant_id", s.TenantID)
	}

	return s, nil
}

// GetSession returns the session if the caller owns it.
func (m *Manager) GetSession(ctx context.Context, owner core.Identity, sessionID string) (*core.ConversationSession, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}

	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if !owner.Owns(s) {
		return nil, core.ErrNotFound
	}

	return s, nil
}

// NewMessage builds an unsaved message. ID, session and timestamp are filled
// in on append.
func NewMessage(typ core.MessageType, content string, md core.MessageMetadata) core.ConversationMessage {
	return core.ConversationMessage{Type: typ, Content: content, Metadata: md}
}

// AppendMessage appends one message and returns it as stored.
func (m *Manager) AppendMessage(ctx context.Context, owner core.Identity, sessionID string, msg core.ConversationMessage) (core.ConversationMessage, error) {
	stored, _, err := m.appendLocked(ctx, owner, sessionID, []core.ConversationMessage{msg})
	if err != nil {
		return core.ConversationMessage{}, err
	}

	return stored[0], nil
}

// AppendExchange appends msgs atomically with respect to other appends of the
// same conversation and returns the updated session.
func (m *Manager) AppendExchange(ctx context.Context, owner core.Identity, sessionID string, msgs ...core.ConversationMessage) (*core.ConversationSession, error) {
	if len(msgs) == 0 {
		return m.GetSession(ctx, owner, sessionID)
	}

	_, s, err := m.appendLocked(ctx, owner, sessionID, msgs)

	return s, err
}

func (m *Manager) appendLocked(ctx context.Context, owner core.Identity, sessionID string, msgs []core.ConversationMessage) ([]core.ConversationMessage, *core.ConversationSession, error) {
	if _, err := m.GetSession(ctx, owner, sessionID); err != nil {
		return nil, nil, err
	}

	unlock := m.locks.Lock(sessionID)
	defer unlock()

	now := clock(m.opts.Now)
	stored := make([]core.ConversationMessage, len(msgs))

	for i, msg := range msgs {
		if msg.ID == "" {
			msg.ID = core.NewID()
		}
		if msg.Type == "" {
			msg.Type = core.MessageUser
		}
		msg.SessionID = sessionID
		msg.Timestamp = now
		stored[i] = msg
	}

	s, err := m.store.AppendMessages(ctx, sessionID, stored, func(s *core.ConversationSession) {
		m.applyDerived(s, stored, now)
	})
	if err != nil {
		if errors.Is(err, core.ErrSessionArchived) || errors.Is(err, core.ErrNotFound) {
			return nil, nil, err
		}
		return nil, nil, &core.PersistenceError{Op: "append", SessionID: sessionID, Err: err}
	}

	if err := m.history.Push(ctx, sessionID, stored...); err != nil {
		// The ring is rebuilt from the store on the next read.
		m.opts.Logger.Warn("recent history push failed", "session_id", sessionID, "error", err)
		_ = m.history.Evict(ctx, sessionID)
	}

	return stored, s, nil
}

// applyDerived updates title, summary, tags and updated_at from new messages.
func (m *Manager) applyDerived(s *core.ConversationSession, msgs []core.ConversationMessage, now time.Time) {
	for _, msg := range msgs {
		switch msg.Type {
		case core.MessageUser:
			if s.Title == "" {
				s.Title = truncate(msg.Content, m.opts.TitleLength)
			}
		case core.MessageAssistant:
			s.Summary = truncate(msg.Content, m.opts.SummaryLength)
		}

		if msg.Metadata.Intent != "" {
			s.AddTags(strings.Split(msg.Metadata.Intent, ",")...)
		}
	}

	s.UpdatedAt = now
}

// ListSessions returns the caller's sessions, most recently updated first.
func (m *Manager) ListSessions(ctx context.Context, owner core.Identity, limit int) ([]*core.ConversationSession, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}

	return m.store.ListSessions(ctx, core.SessionFilter{
		TenantID: owner.TenantID,
		UserID:   owner.UserID,
		Limit:    clampLimit(limit),
	})
}

// SearchMessages returns the caller's messages containing query, ignoring
// case, newest first. An empty query is rejected.
func (m *Manager) SearchMessages(ctx context.Context, owner core.Identity, query string, limit int) ([]core.ConversationMessage, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &core.ValidationError{Field: "query", Reason: "must not be empty"}
	}

	return m.store.SearchMessages(ctx, core.MessageQuery{
		TenantID: owner.TenantID,
		UserID:   owner.UserID,
		Query:    query,
		Limit:    clampLimit(limit),
	})
}

// GetRecentHistory returns up to limit messages of the conversation, most
// recent first, capped at the ring capacity. A cold ring is warmed from the
// store. An unknown conversation yields an empty history.
func (m *Manager) GetRecentHistory(ctx context.Context, owner core.Identity, conversationID string, limit int) ([]core.ConversationMessage, error) {
	s, err := m.GetSession(ctx, owner, conversationID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return []core.ConversationMessage{}, nil
		}
		return nil, err
	}

	k := m.history.Capacity()
	if limit <= 0 || limit > k {
		limit = k
	}

	recent, err := m.history.Recent(ctx, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent history %s: %w", conversationID, err)
	}

	if len(recent) >= min(limit, s.MessageCount) {
		return recent, nil
	}

	if err := m.warm(ctx, conversationID); err != nil {
		return nil, err
	}

	return m.history.Recent(ctx, conversationID, limit)
}

// warm rebuilds the ring of a conversation from its last K stored messages.
func (m *Manager) warm(ctx context.Context, conversationID string) error {
	unlock := m.locks.Lock(conversationID)
	defer unlock()

	msgs, err := m.store.ListMessages(ctx, conversationID, m.history.Capacity())
	if err != nil {
		return fmt.Errorf("warm history %s: %w", conversationID, err)
	}

	if err := m.history.Evict(ctx, conversationID); err != nil {
		return fmt.Errorf("warm history %s: %w", conversationID, err)
	}

	if len(msgs) == 0 {
		return nil
	}

	m.opts.Logger.Debug("recent history warmed", "session_id", conversationID, "messages", len(msgs))

	return m.history.Push(ctx, conversationID, msgs...)
}

// GetTimeline returns the last limit messages of a session in append order.
func (m *Manager) GetTimeline(ctx context.Context, owner core.Identity, sessionID string, limit int) ([]core.ConversationMessage, error) {
	if _, err := m.GetSession(ctx, owner, sessionID); err != nil {
		return nil, err
	}

	return m.store.ListMessages(ctx, sessionID, clampLimit(limit))
}

// Complete marks an active session completed.
func (m *Manager) Complete(ctx context.Context, owner core.Identity, sessionID string) (*core.ConversationSession, error) {
	return m.transition(ctx, owner, sessionID, core.SessionCompleted)
}

// Archive archives an active or completed session and drops its ring.
func (m *Manager) Archive(ctx context.Context, owner core.Identity, sessionID string) (*core.ConversationSession, error) {
	s, err := m.transition(ctx, owner, sessionID, core.SessionArchived)
	if err != nil {
		return nil, err
	}

	if err := m.history.Evict(ctx, sessionID); err != nil {
		m.opts.Logger.Warn("recent history evict failed", "session_id", sessionID, "error", err)
	}

	return s, nil
}

// Reopen moves a completed or archived session back to active. It is the only
// backwards status move.
func (m *Manager) Reopen(ctx context.Context, owner core.Identity, sessionID string) (*core.ConversationSession, error) {
	return m.setStatus(ctx, owner, sessionID, func(cur core.SessionStatus) error {
		if cur == core.SessionActive {
			return fmt.Errorf("%w: session is already active", core.ErrInvalidTransition)
		}
		return nil
	}, core.SessionActive)
}

// Restore returns the conversation id to resume a session from the chat entry
// point, reopening it when it is no longer active.
func (m *Manager) Restore(ctx context.Context, owner core.Identity, sessionID string) (string, *core.ConversationSession, error) {
	s, err := m.GetSession(ctx, owner, sessionID)
	if err != nil {
		return "", nil, err
	}

	if s.Status != core.SessionActive {
		if s, err = m.Reopen(ctx, owner, sessionID); err != nil {
			return "", nil, err
		}
	}

	return s.ID, s, nil
}

// ArchiveIdle archives every session, across tenants, not updated since
// cutoff. It is the retention primitive used by the Archiver.
func (m *Manager) ArchiveIdle(ctx context.Context, cutoff time.Time) (int, error) {
	archived := 0

	for _, status := range []core.SessionStatus{core.SessionActive, core.SessionCompleted} {
		sessions, err := m.store.ListSessions(ctx, core.SessionFilter{
			AllTenants:    true,
			Status:        status,
			UpdatedBefore: cutoff,
		})
		if err != nil {
			return archived, fmt.Errorf("list idle sessions: %w", err)
		}

		for _, s := range sessions {
			owner := core.Identity{TenantID: s.TenantID, UserID: s.UserID}
			if _, err := m.Archive(ctx, owner, s.ID); err != nil {
				if errors.Is(err, core.ErrInvalidTransition) {
					continue
				}
				return archived, err
			}
			archived++
		}
	}

	return archived, nil
}

func (m *Manager) transition(ctx context.Context, owner core.Identity, sessionID string, next core.SessionStatus) (*core.ConversationSession, error) {
	return m.setStatus(ctx, owner, sessionID, func(cur core.SessionStatus) error {
		if !cur.CanAdvanceTo(next) {
			return fmt.Errorf("%w: %s -> %s", core.ErrInvalidTransition, cur, next)
		}
		return nil
	}, next)
}

func (m *Manager) setStatus(ctx context.Context, owner core.Identity, sessionID string, check func(core.SessionStatus) error, next core.SessionStatus) (*core.ConversationSession, error) {
	unlock := m.locks.Lock(sessionID)
	defer unlock()

	s, err := m.GetSession(ctx, owner, sessionID)
	if err != nil {
		return nil, err
	}

	if err := check(s.Status); err != nil {
		return nil, err
	}

	s.Status = next
	s.UpdatedAt = clock(m.opts.Now)

	if err := m.store.UpdateSession(ctx, s); err != nil {
		return nil, &core.PersistenceError{Op: "update", SessionID: sessionID, Err: err}
	}

	m.opts.Logger.Info("session status changed", "session_id", sessionID, "status", next)

	return s, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 {
		return s
	}

	r := []rune(s)
	if len(r) <= n {
		return s
	}

	return strings.TrimSpace(string(r[:n])) + "…"
}
