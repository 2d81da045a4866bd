package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/meshchat/core"
)

func TestArchiver_SweepArchivesIdleSessions(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := base

	m := NewManager(func(o *Options) { o.Now = func() time.Time { return now } })

	_, err := m.CreateOrGetSession(ctx, "idle", alice)
	require.NoError(t, err)
	_, err = m.CreateOrGetSession(ctx, "done", bob)
	require.NoError(t, err)
	_, err = m.Complete(ctx, bob, "done")
	require.NoError(t, err)

	now = base.Add(48 * time.Hour)
	_, err = m.CreateOrGetSession(ctx, "fresh", alice)
	require.NoError(t, err)

	a, err := NewArchiver(m, func(o *ArchiverOptions) {
		o.RetentionPeriod = 24 * time.Hour
		o.Now = func() time.Time { return now }
	})
	require.NoError(t, err)

	n, err := a.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for id, owner := range map[string]core.Identity{"idle": alice, "done": bob} {
		s, err := m.GetSession(ctx, owner, id)
		require.NoError(t, err)
		assert.Equal(t, core.SessionArchived, s.Status, id)
	}

	s, err := m.GetSession(ctx, alice, "fresh")
	require.NoError(t, err)
	assert.Equal(t, core.SessionActive, s.Status)

	n, err = a.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestArchiver_RejectsInvalidConfig(t *testing.T) {
	m := NewManager()

	_, err := NewArchiver(m, func(o *ArchiverOptions) { o.Schedule = "not a schedule" })
	assert.Error(t, err)

	_, err = NewArchiver(m, func(o *ArchiverOptions) { o.RetentionPeriod = 0 })
	assert.Error(t, err)

	a, err := NewArchiver(m)
	require.NoError(t, err)
	a.Start()
	a.Stop()
}
