// Package redis provides a core.RecentHistory backed by Redis lists, so that
// several meshchat instances share one recent-history cache.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hupe1980/meshchat/core"
)

// Interface compliance (compile-time assertion)
var _ core.RecentHistory = (*History)(nil)

const (
	// DefaultKeyPrefix namespaces the per-conversation lists.
	DefaultKeyPrefix = "meshchat:recent:"
	// DefaultCapacity is the list length kept per conversation.
	DefaultCapacity = 50
	// DefaultTTL expires lists of conversations that went quiet.
	DefaultTTL = 7 * 24 * time.Hour
)

// Config holds the Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Options configures a History.
type Options struct {
	Capacity  int
	KeyPrefix string
	TTL       time.Duration
}

// History keeps the newest messages at the head of one list per conversation.
// Push is LPUSH followed by LTRIM to the capacity, executed as one MULTI block.
type History struct {
	rdb  goredis.UniversalClient
	opts Options
}

// New connects to Redis and verifies the connection.
func New(cfg Config, optFns ...func(o *Options)) (*History, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewFromClient(rdb, optFns...), nil
}

// NewFromClient wraps an existing client.
func NewFromClient(rdb goredis.UniversalClient, optFns ...func(o *Options)) *History {
	opts := Options{
		Capacity:  DefaultCapacity,
		KeyPrefix: DefaultKeyPrefix,
		TTL:       DefaultTTL,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}

	return &History{rdb: rdb, opts: opts}
}

// Capacity returns the per-conversation list length.
func (h *History) Capacity() int { return h.opts.Capacity }

// Push prepends msgs in order so the last one ends up at the head.
func (h *History) Push(ctx context.Context, conversationID string, msgs ...core.ConversationMessage) error {
	if len(msgs) == 0 {
		return nil
	}

	values := make([]any, 0, len(msgs))

	for _, m := range msgs {
		b, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encode message %s: %w", m.ID, err)
		}
		values = append(values, b)
	}

	key := h.key(conversationID)

	_, err := h.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.LPush(ctx, key, values...)
		p.LTrim(ctx, key, 0, int64(h.opts.Capacity-1))
		if h.opts.TTL > 0 {
			p.Expire(ctx, key, h.opts.TTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("push recent history %s: %w", conversationID, err)
	}

	return nil
}

// Recent returns up to limit messages, most recent first.
func (h *History) Recent(ctx context.Context, conversationID string, limit int) ([]core.ConversationMessage, error) {
	if limit <= 0 || limit > h.opts.Capacity {
		limit = h.opts.Capacity
	}

	raw, err := h.rdb.LRange(ctx, h.key(conversationID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read recent history %s: %w", conversationID, err)
	}

	out := make([]core.ConversationMessage, 0, len(raw))

	for _, r := range raw {
		var m core.ConversationMessage
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			return nil, fmt.Errorf("decode recent history %s: %w", conversationID, err)
		}
		out = append(out, m)
	}

	return out, nil
}

// Evict deletes the conversation list.
func (h *History) Evict(ctx context.Context, conversationID string) error {
	if err := h.rdb.Del(ctx, h.key(conversationID)).Err(); err != nil {
		return fmt.Errorf("evict recent history %s: %w", conversationID, err)
	}
	return nil
}

// Ping checks if Redis is reachable.
func (h *History) Ping(ctx context.Context) error {
	return h.rdb.Ping(ctx).Err()
}

// Close closes the underlying client.
func (h *History) Close() error {
	return h.rdb.Close()
}

func (h *History) key(conversationID string) string {
	return h.opts.KeyPrefix + conversationID
}
