package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/meshchat/core"
)

// Interface compliance (compile-time assertion)
var _ core.ConversationStore = (*InMemoryStore)(nil)

// storedMessage keeps the global append sequence next to the message so that
// messages sharing a timestamp still order deterministically.
type storedMessage struct {
	seq uint64
	msg core.ConversationMessage
}

// InMemoryStore is a process-local ConversationStore. Sessions and messages
// live in maps guarded by one RWMutex; every returned session is a clone.
//
// Search is a linear scan with case-insensitive substring matching. Suitable
// for tests, demos and single-instance deployments.
type InMemoryStore struct {
	mu       sync.RWMutex
	seq      uint64
	sessions map[string]*core.ConversationSession
	messages map[string][]storedMessage // sessionID -> messages in append order
}

// NewInMemoryStore creates an empty in-memory conversation store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]*core.ConversationSession),
		messages: make(map[string][]storedMessage),
	}
}

// CreateSessionIfAbsent stores s unless a session with the same id exists.
func (m *InMemoryStore) CreateSessionIfAbsent(ctx context.Context, s *core.ConversationSession) (*core.ConversationSession, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.sessions[s.ID]; ok {
		return existing.Clone(), false, nil
	}

	stored := s.Clone()
	m.sessions[s.ID] = stored

	return stored.Clone(), true, nil
}

// GetSession returns a copy of the session or core.ErrNotFound.
func (m *InMemoryStore) GetSession(ctx context.Context, id string) (*core.ConversationSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, core.ErrNotFound
	}

	return s.Clone(), nil
}

// UpdateSession overwrites the mutable metadata of an existing session.
func (m *InMemoryStore) UpdateSession(ctx context.Context, s *core.ConversationSession) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.sessions[s.ID]
	if !ok {
		return core.ErrNotFound
	}

	updated := s.Clone()
	updated.MessageCount = existing.MessageCount
	updated.TenantID = existing.TenantID
	updated.UserID = existing.UserID
	updated.CreatedAt = existing.CreatedAt
	m.sessions[s.ID] = updated

	return nil
}

// AppendMessages appends msgs and updates the session in one critical section.
func (m *InMemoryStore) AppendMessages(ctx context.Context, sessionID string, msgs []core.ConversationMessage, mutate func(*core.ConversationSession)) (*core.ConversationSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, core.ErrNotFound
	}

	if s.Status == core.SessionArchived {
		return nil, core.ErrSessionArchived
	}

	updated := s.Clone()

	for _, msg := range msgs {
		m.seq++
		msg.SessionID = sessionID
		m.messages[sessionID] = append(m.messages[sessionID], storedMessage{seq: m.seq, msg: msg})
		updated.MessageCount++

		if msg.Timestamp.After(updated.UpdatedAt) {
			updated.UpdatedAt = msg.Timestamp
		}
	}

	if mutate != nil {
		mutate(updated)
	}

	m.sessions[sessionID] = updated

	return updated.Clone(), nil
}

// ListSessions returns the sessions matching filter, most recently updated first.
func (m *InMemoryStore) ListSessions(ctx context.Context, filter core.SessionFilter) ([]*core.ConversationSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*core.ConversationSession, 0)

	for _, s := range m.sessions {
		if !matchesFilter(s, filter) {
			continue
		}
		out = append(out, s.Clone())
	}

	sortSessions(out)

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}

	return out, nil
}

// ListMessages returns the last limit messages of a session in append order.
func (m *InMemoryStore) ListMessages(ctx context.Context, sessionID string, limit int) ([]core.ConversationMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return nil, core.ErrNotFound
	}

	stored := m.messages[sessionID]
	if limit > 0 && len(stored) > limit {
		stored = stored[len(stored)-limit:]
	}

	out := make([]core.ConversationMessage, 0, len(stored))
	for _, sm := range stored {
		out = append(out, sm.msg)
	}

	return out, nil
}

// SearchMessages scans the owner's sessions for messages whose content
// contains the query, ignoring case. Results are newest first.
func (m *InMemoryStore) SearchMessages(ctx context.Context, q core.MessageQuery) ([]core.ConversationMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	needle := strings.ToLower(q.Query)

	m.mu.RLock()
	defer m.mu.RUnlock()

	var hits []storedMessage

	for id, s := range m.sessions {
		if s.TenantID != q.TenantID || s.UserID != q.UserID {
			continue
		}

		for _, sm := range m.messages[id] {
			if strings.Contains(strings.ToLower(sm.msg.Content), needle) {
				hits = append(hits, sm)
			}
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if !hits[i].msg.Timestamp.Equal(hits[j].msg.Timestamp) {
			return hits[i].msg.Timestamp.After(hits[j].msg.Timestamp)
		}
		return hits[i].seq > hits[j].seq
	})

	if q.Limit > 0 && len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}

	out := make([]core.ConversationMessage, 0, len(hits))
	for _, sm := range hits {
		out = append(out, sm.msg)
	}

	return out, nil
}

func matchesFilter(s *core.ConversationSession, f core.SessionFilter) bool {
	if !f.AllTenants && s.TenantID != f.TenantID {
		return false
	}
	if f.UserID != "" && s.UserID != f.UserID {
		return false
	}
	if f.Status != "" && s.Status != f.Status {
		return false
	}
	if !f.UpdatedBefore.IsZero() && !s.UpdatedAt.Before(f.UpdatedBefore) {
		return false
	}
	return true
}

// sortSessions orders by UpdatedAt descending, then id for stability.
func sortSessions(sessions []*core.ConversationSession) {
	sort.Slice(sessions, func(i, j int) bool {
		a, b := sessions[i], sessions[j]
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID < b.ID
	})
}

// clock returns now truncated to millisecond precision so that timestamps
// survive a round trip through every store backend unchanged.
func clock(now func() time.Time) time.Time {
	return now().UTC().Truncate(time.Millisecond)
}
