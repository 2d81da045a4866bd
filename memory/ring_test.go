package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/meshchat/core"
)

func msgN(i int) core.ConversationMessage {
	return core.ConversationMessage{ID: fmt.Sprintf("m%d", i), Content: fmt.Sprintf("message %d", i)}
}

func ids(msgs []core.ConversationMessage) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func TestRingHistory_KeepsLastK(t *testing.T) {
	ctx := context.Background()
	h := NewRingHistory(func(o *RingHistoryOptions) { o.Capacity = 3 })

	for i := 1; i <= 5; i++ {
		require.NoError(t, h.Push(ctx, "c", msgN(i)))
	}

	got, err := h.Recent(ctx, "c", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"m5", "m4", "m3"}, ids(got))

	got, err = h.Recent(ctx, "c", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"m5", "m4"}, ids(got))

	got, err = h.Recent(ctx, "c", 0)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestRingHistory_PartialAndUnknown(t *testing.T) {
	ctx := context.Background()
	h := NewRingHistory()
	assert.Equal(t, DefaultRingCapacity, h.Capacity())

	require.NoError(t, h.Push(ctx, "c", msgN(1), msgN(2)))

	got, err := h.Recent(ctx, "c", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"m2", "m1"}, ids(got))

	got, err = h.Recent(ctx, "unknown", 10)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestRingHistory_EvictAndLRU(t *testing.T) {
	ctx := context.Background()
	h := NewRingHistory(func(o *RingHistoryOptions) {
		o.Capacity = 2
		o.MaxConversations = 2
	})

	require.NoError(t, h.Push(ctx, "a", msgN(1)))
	require.NoError(t, h.Push(ctx, "b", msgN(2)))

	// Touch a so b becomes least recently used.
	_, err := h.Recent(ctx, "a", 1)
	require.NoError(t, err)

	require.NoError(t, h.Push(ctx, "c", msgN(3)))
	assert.Equal(t, 2, h.Len())

	got, _ := h.Recent(ctx, "b", 1)
	assert.Empty(t, got)
	got, _ = h.Recent(ctx, "a", 1)
	assert.Equal(t, []string{"m1"}, ids(got))

	require.NoError(t, h.Evict(ctx, "a"))
	got, _ = h.Recent(ctx, "a", 1)
	assert.Empty(t, got)
}

func TestKeyedMutex_ReleasesIdleKeys(t *testing.T) {
	k := newKeyedMutex()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		counter = map[string]int{}
	)

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i%3)
			unlock := k.Lock(key)
			defer unlock()

			mu.Lock()
			counter[key]++
			mu.Unlock()
		}(i)
	}

	wg.Wait()

	assert.Equal(t, 0, k.size())
	assert.Equal(t, 50, counter["k0"]+counter["k1"]+counter["k2"])
}
