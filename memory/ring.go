package memory

import (
	"container/list"
	"context"
	"sync"

	"github.com/hupe1980/meshchat/core"
)

// Interface compliance (compile-time assertion)
var _ core.RecentHistory = (*RingHistory)(nil)

const (
	// DefaultRingCapacity is K, the number of recent messages kept per conversation.
	DefaultRingCapacity = 50
	// DefaultMaxConversations bounds the number of rings held in process.
	DefaultMaxConversations = 10000
)

// ring is a fixed-capacity circular buffer. Once full, each push overwrites
// the oldest entry.
type ring struct {
	buf   []core.ConversationMessage
	start int
	size  int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]core.ConversationMessage, capacity)}
}

func (r *ring) push(msg core.ConversationMessage) {
	c := len(r.buf)
	if r.size < c {
		r.buf[(r.start+r.size)%c] = msg
		r.size++
		return
	}

	r.buf[r.start] = msg
	r.start = (r.start + 1) % c
}

// recent returns up to limit entries, newest first.
func (r *ring) recent(limit int) []core.ConversationMessage {
	n := r.size
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]core.ConversationMessage, 0, n)
	c := len(r.buf)

	for i := 0; i < n; i++ {
		out = append(out, r.buf[(r.start+r.size-1-i)%c])
	}

	return out
}

type ringEntry struct {
	id   string
	ring *ring
}

// RingHistoryOptions configures a RingHistory.
type RingHistoryOptions struct {
	// Capacity is the per-conversation ring size K.
	Capacity int
	// MaxConversations caps resident rings; the least recently used ring is
	// dropped when exceeded and re-warmed from the store on next read.
	MaxConversations int
}

// RingHistory is the in-process RecentHistory backend: one ring buffer per
// conversation, with least-recently-used eviction across conversations.
type RingHistory struct {
	mu      sync.Mutex
	opts    RingHistoryOptions
	order   *list.List // front = most recently used
	entries map[string]*list.Element
}

// NewRingHistory creates an empty RingHistory.
func NewRingHistory(optFns ...func(o *RingHistoryOptions)) *RingHistory {
	opts := RingHistoryOptions{
		Capacity:         DefaultRingCapacity,
		MaxConversations: DefaultMaxConversations,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Capacity <= 0 {
		opts.Capacity = DefaultRingCapacity
	}
	if opts.MaxConversations <= 0 {
		opts.MaxConversations = DefaultMaxConversations
	}

	return &RingHistory{
		opts:    opts,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

// Capacity returns K.
func (h *RingHistory) Capacity() int { return h.opts.Capacity }

// Push appends msgs to the conversation ring in order.
func (h *RingHistory) Push(ctx context.Context, conversationID string, msgs ...core.ConversationMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	r := h.touch(conversationID, true)
	for _, msg := range msgs {
		r.push(msg)
	}

	return nil
}

// Recent returns up to limit messages, most recent first. An unknown
// conversation yields an empty slice.
func (h *RingHistory) Recent(ctx context.Context, conversationID string, limit int) ([]core.ConversationMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	r := h.touch(conversationID, false)
	if r == nil {
		return []core.ConversationMessage{}, nil
	}

	return r.recent(limit), nil
}

// Evict drops the ring of a conversation.
func (h *RingHistory) Evict(_ context.Context, conversationID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if el, ok := h.entries[conversationID]; ok {
		h.order.Remove(el)
		delete(h.entries, conversationID)
	}

	return nil
}

// Len returns the number of resident rings.
func (h *RingHistory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.entries)
}

// touch marks the ring as recently used, creating it when create is set.
// Callers hold h.mu.
func (h *RingHistory) touch(id string, create bool) *ring {
	if el, ok := h.entries[id]; ok {
		h.order.MoveToFront(el)
		return el.Value.(*ringEntry).ring
	}

	if !create {
		return nil
	}

	e := &ringEntry{id: id, ring: newRing(h.opts.Capacity)}
	h.entries[id] = h.order.PushFront(e)

	for len(h.entries) > h.opts.MaxConversations {
		oldest := h.order.Back()
		h.order.Remove(oldest)
		delete(h.entries, oldest.Value.(*ringEntry).id)
	}

	return e.ring
}
