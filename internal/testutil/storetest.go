package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/meshchat/core"
)

// RunStoreSuite runs the behavioural checks every ConversationStore backend
// must pass. newStore must return an empty store per call.
func RunStoreSuite(t *testing.T, newStore func(t *testing.T) core.ConversationStore) {
	t.Helper()

	ctx := context.Background()

	t.Run("CreateSessionIfAbsentIsIdempotent", func(t *testing.T) {
		st := newStore(t)

		s1, created, err := st.CreateSessionIfAbsent(ctx, NewSessionBuilder("c-1").Build())
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, core.SessionActive, s1.Status)
		assert.Equal(t, 0, s1.MessageCount)

		s2, created, err := st.CreateSessionIfAbsent(ctx, NewSessionBuilder("c-1").Owner("t2", "u2").Build())
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, "t1", s2.TenantID)
		assert.Equal(t, s1.ID, s2.ID)
	})

	t.Run("GetSessionNotFound", func(t *testing.T) {
		st := newStore(t)

		_, err := st.GetSession(ctx, "missing")
		assert.ErrorIs(t, err, core.ErrNotFound)
	})

	t.Run("AppendMessagesCountsAndMutates", func(t *testing.T) {
		st := newStore(t)
		_, _, err := st.CreateSessionIfAbsent(ctx, NewSessionBuilder("c-1").Build())
		require.NoError(t, err)

		ts := Epoch.Add(time.Minute)
		msgs := []core.ConversationMessage{
			Message("c-1", core.MessageUser, "hi", ts),
			Message("c-1", core.MessageAssistant, "hello", ts),
		}

		s, err := st.AppendMessages(ctx, "c-1", msgs, func(s *core.ConversationSession) {
			s.Title = "hi"
			s.AddTags("support")
		})
		require.NoError(t, err)
		assert.Equal(t, 2, s.MessageCount)
		assert.Equal(t, "hi", s.Title)
		assert.Equal(t, []string{"support"}, s.Tags)
		assert.True(t, s.UpdatedAt.Equal(ts))

		got, err := st.GetSession(ctx, "c-1")
		require.NoError(t, err)
		assert.Equal(t, 2, got.MessageCount)

		_, err = st.AppendMessages(ctx, "missing", msgs, nil)
		assert.ErrorIs(t, err, core.ErrNotFound)
	})

	t.Run("AppendToArchivedFails", func(t *testing.T) {
		st := newStore(t)
		_, _, err := st.CreateSessionIfAbsent(ctx, NewSessionBuilder("c-1").Status(core.SessionArchived).Build())
		require.NoError(t, err)

		_, err = st.AppendMessages(ctx, "c-1", []core.ConversationMessage{Message("c-1", core.MessageUser, "x", Epoch)}, nil)
		assert.ErrorIs(t, err, core.ErrSessionArchived)
	})

	t.Run("UpdateSessionKeepsMessageCount", func(t *testing.T) {
		st := newStore(t)
		_, _, err := st.CreateSessionIfAbsent(ctx, NewSessionBuilder("c-1").Build())
		require.NoError(t, err)
		_, err = st.AppendMessages(ctx, "c-1", []core.ConversationMessage{Message("c-1", core.MessageUser, "x", Epoch)}, nil)
		require.NoError(t, err)

		s, err := st.GetSession(ctx, "c-1")
		require.NoError(t, err)
		s.Status = core.SessionCompleted
		s.MessageCount = 99
		s.Summary = "done"
		require.NoError(t, st.UpdateSession(ctx, s))

		got, err := st.GetSession(ctx, "c-1")
		require.NoError(t, err)
		assert.Equal(t, core.SessionCompleted, got.Status)
		assert.Equal(t, "done", got.Summary)
		assert.Equal(t, 1, got.MessageCount)

		assert.ErrorIs(t, st.UpdateSession(ctx, NewSessionBuilder("missing").Build()), core.ErrNotFound)
	})

	t.Run("ListSessionsOrderAndScope", func(t *testing.T) {
		st := newStore(t)

		for id, at := range map[string]time.Time{
			"old": Epoch,
			"mid": Epoch.Add(time.Hour),
			"new": Epoch.Add(2 * time.Hour),
		} {
			_, _, err := st.CreateSessionIfAbsent(ctx, NewSessionBuilder(id).UpdatedAt(at).Build())
			require.NoError(t, err)
		}
		_, _, err := st.CreateSessionIfAbsent(ctx, NewSessionBuilder("foreign").Owner("t2", "u1").UpdatedAt(Epoch.Add(3*time.Hour)).Build())
		require.NoError(t, err)

		got, err := st.ListSessions(ctx, core.SessionFilter{TenantID: "t1", UserID: "u1"})
		require.NoError(t, err)
		assert.Equal(t, []string{"new", "mid", "old"}, sessionIDs(got))

		got, err = st.ListSessions(ctx, core.SessionFilter{TenantID: "t1", UserID: "u1", Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{"new", "mid"}, sessionIDs(got))

		got, err = st.ListSessions(ctx, core.SessionFilter{TenantID: "t1", UpdatedBefore: Epoch.Add(90 * time.Minute)})
		require.NoError(t, err)
		assert.Equal(t, []string{"mid", "old"}, sessionIDs(got))

		got, err = st.ListSessions(ctx, core.SessionFilter{AllTenants: true})
		require.NoError(t, err)
		assert.Len(t, got, 4)
		assert.Equal(t, "foreign", got[0].ID)
	})

	t.Run("ListSessionsByStatus", func(t *testing.T) {
		st := newStore(t)
		_, _, err := st.CreateSessionIfAbsent(ctx, NewSessionBuilder("a").Build())
		require.NoError(t, err)
		_, _, err = st.CreateSessionIfAbsent(ctx, NewSessionBuilder("c").Status(core.SessionCompleted).Build())
		require.NoError(t, err)

		got, err := st.ListSessions(ctx, core.SessionFilter{TenantID: "t1", Status: core.SessionCompleted})
		require.NoError(t, err)
		assert.Equal(t, []string{"c"}, sessionIDs(got))
	})

	t.Run("ListMessagesReturnsTailInAppendOrder", func(t *testing.T) {
		st := newStore(t)
		_, _, err := st.CreateSessionIfAbsent(ctx, NewSessionBuilder("c-1").Build())
		require.NoError(t, err)

		for _, c := range []string{"one", "two", "three", "four"} {
			_, err := st.AppendMessages(ctx, "c-1", []core.ConversationMessage{Message("c-1", core.MessageUser, c, Epoch)}, nil)
			require.NoError(t, err)
		}

		got, err := st.ListMessages(ctx, "c-1", 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"three", "four"}, contents(got))

		got, err = st.ListMessages(ctx, "c-1", 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"one", "two", "three", "four"}, contents(got))
	})

	t.Run("SearchMessagesIsCaseInsensitiveAndTenantScoped", func(t *testing.T) {
		st := newStore(t)
		_, _, err := st.CreateSessionIfAbsent(ctx, NewSessionBuilder("a").Build())
		require.NoError(t, err)
		_, _, err = st.CreateSessionIfAbsent(ctx, NewSessionBuilder("b").Owner("t2", "u1").Build())
		require.NoError(t, err)

		_, err = st.AppendMessages(ctx, "a", []core.ConversationMessage{
			Message("a", core.MessageUser, "Quarterly REVENUE report", Epoch),
			Message("a", core.MessageAssistant, "revenue is up", Epoch.Add(time.Second)),
			Message("a", core.MessageUser, "unrelated", Epoch.Add(2*time.Second)),
		}, nil)
		require.NoError(t, err)
		_, err = st.AppendMessages(ctx, "b", []core.ConversationMessage{
			Message("b", core.MessageUser, "revenue is up", Epoch.Add(time.Hour)),
		}, nil)
		require.NoError(t, err)

		got, err := st.SearchMessages(ctx, core.MessageQuery{TenantID: "t1", UserID: "u1", Query: "Revenue"})
		require.NoError(t, err)
		assert.Equal(t, []string{"revenue is up", "Quarterly REVENUE report"}, contents(got))

		for _, m := range got {
			assert.Equal(t, "a", m.SessionID)
		}

		got, err = st.SearchMessages(ctx, core.MessageQuery{TenantID: "t1", UserID: "u1", Query: "revenue", Limit: 1})
		require.NoError(t, err)
		assert.Len(t, got, 1)

		got, err = st.SearchMessages(ctx, core.MessageQuery{TenantID: "t1", UserID: "u1", Query: "100%"})
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func sessionIDs(ss []*core.ConversationSession) []string {
	out := make([]string, 0, len(ss))
	for _, s := range ss {
		out = append(out, s.ID)
	}
	return out
}

func contents(ms []core.ConversationMessage) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.Content)
	}
	return out
}
