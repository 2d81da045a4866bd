package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/meshchat/core"
	"github.com/hupe1980/meshchat/internal/testutil"
	"github.com/hupe1980/meshchat/memory"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	st, err := Open(filepath.Join(t.TempDir(), "meshchat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	return st
}

func TestStore(t *testing.T) {
	testutil.RunStoreSuite(t, func(t *testing.T) core.ConversationStore {
		return openTestStore(t)
	})
}

func TestStore_InMemoryDatabase(t *testing.T) {
	st, err := Open(":memory:")
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.Ping(context.Background()))
}

func TestStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "meshchat.db")
	owner := core.Identity{TenantID: "t1", UserID: "u1"}

	st, err := Open(path)
	require.NoError(t, err)

	m := memory.NewManager(func(o *memory.Options) { o.Store = st })
	_, err = m.CreateOrGetSession(ctx, "c", owner)
	require.NoError(t, err)
	_, err = m.AppendExchange(ctx, owner, "c",
		memory.NewMessage(core.MessageUser, "What's my current ROI?", core.MessageMetadata{Intent: "analytics"}),
		memory.NewMessage(core.MessageAssistant, "12%", core.MessageMetadata{AgentID: "analytics-agent"}),
	)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	st, err = Open(path)
	require.NoError(t, err)
	defer st.Close()

	m = memory.NewManager(func(o *memory.Options) { o.Store = st })

	s, err := m.GetSession(ctx, owner, "c")
	require.NoError(t, err)
	assert.Equal(t, 2, s.MessageCount)
	assert.Equal(t, "What's my current ROI?", s.Title)
	assert.Equal(t, []string{"analytics"}, s.Tags)

	recent, err := m.GetRecentHistory(ctx, owner, "c", 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "12%", recent[0].Content)
	assert.Equal(t, "analytics-agent", recent[0].Metadata.AgentID)
}
