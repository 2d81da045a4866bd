package memory

import (
	"testing"

	"github.com/hupe1980/meshchat/core"
	"github.com/hupe1980/meshchat/internal/testutil"
)

func TestInMemoryStore(t *testing.T) {
	testutil.RunStoreSuite(t, func(t *testing.T) core.ConversationStore {
		return NewInMemoryStore()
	})
}
