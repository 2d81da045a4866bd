package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/meshchat/core"
	"github.com/hupe1980/meshchat/memory"
)

// setupTestHistory runs against an in-process miniredis, or against the
// server at MESHCHAT_TEST_REDIS_ADDR when set. The returned server is nil in
// the latter case.
func setupTestHistory(t *testing.T, capacity int) (*History, *miniredis.Miniredis) {
	t.Helper()

	var mr *miniredis.Miniredis

	addr := os.Getenv("MESHCHAT_TEST_REDIS_ADDR")
	if addr == "" {
		mr = miniredis.RunT(t)
		addr = mr.Addr()
	}

	h, err := New(Config{Addr: addr}, func(o *Options) {
		o.Capacity = capacity
		o.KeyPrefix = "meshchat:test:" + t.Name() + ":"
		o.TTL = time.Hour
	})
	require.NoError(t, err)

	t.Cleanup(func() { _ = h.Close() })

	return h, mr
}

func TestHistory_KeepsLastK(t *testing.T) {
	ctx := context.Background()
	h, _ := setupTestHistory(t, 3)
	defer h.Evict(ctx, "c") //nolint:errcheck

	for i := 1; i <= 5; i++ {
		require.NoError(t, h.Push(ctx, "c", core.ConversationMessage{ID: fmt.Sprintf("m%d", i), Content: "x"}))
	}

	got, err := h.Recent(ctx, "c", 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "m5", got[0].ID)
	assert.Equal(t, "m3", got[2].ID)

	require.NoError(t, h.Evict(ctx, "c"))

	got, err = h.Recent(ctx, "c", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestHistory_WithManager(t *testing.T) {
	ctx := context.Background()
	h, _ := setupTestHistory(t, 50)
	owner := core.Identity{TenantID: "t1", UserID: "u1"}

	m := memory.NewManager(func(o *memory.Options) { o.History = h })
	s, err := m.CreateOrGetSession(ctx, "", owner)
	require.NoError(t, err)
	defer h.Evict(ctx, s.ID) //nolint:errcheck

	_, err = m.AppendExchange(ctx, owner, s.ID,
		memory.NewMessage(core.MessageUser, "q", core.MessageMetadata{}),
		memory.NewMessage(core.MessageAssistant, "a", core.MessageMetadata{}),
	)
	require.NoError(t, err)

	got, err := m.GetRecentHistory(ctx, owner, s.ID, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Content)
	assert.Equal(t, s.ID, got[0].SessionID)
}

func TestHistory_PushTrimsAndRefreshesTTL(t *testing.T) {
	ctx := context.Background()
	h, mr := setupTestHistory(t, 2)
	if mr == nil {
		t.Skip("needs the in-process server to inspect keys")
	}

	require.NoError(t, h.Push(ctx, "c",
		core.ConversationMessage{ID: "m1"},
		core.ConversationMessage{ID: "m2"},
		core.ConversationMessage{ID: "m3"},
	))

	key := h.key("c")
	list, err := mr.List(key)
	require.NoError(t, err)
	assert.Len(t, list, 2)
	assert.Equal(t, time.Hour, mr.TTL(key))

	mr.FastForward(30 * time.Minute)
	require.NoError(t, h.Push(ctx, "c", core.ConversationMessage{ID: "m4"}))
	assert.Equal(t, time.Hour, mr.TTL(key))

	got, err := h.Recent(ctx, "c", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "m4", got[0].ID)

	mr.FastForward(2 * time.Hour)
	got, err = h.Recent(ctx, "c", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestHistory_ServerDown(t *testing.T) {
	ctx := context.Background()
	h, mr := setupTestHistory(t, 5)
	if mr == nil {
		t.Skip("needs the in-process server to stop it")
	}

	mr.Close()

	assert.Error(t, h.Push(ctx, "c", core.ConversationMessage{ID: "m1"}))
	_, err := h.Recent(ctx, "c", 5)
	assert.Error(t, err)
}

