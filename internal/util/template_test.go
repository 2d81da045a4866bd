package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderTemplate(t *testing.T) {
	out, err := RenderTemplate("no markers", nil)
	require.NoError(t, err)
	assert.Equal(t, "no markers", out)

	out, err = RenderTemplate(`Topics: {{join ", " .intents}} for {{default "guest" .user}} <b>`, map[string]any{
		"intents": []string{"analytics", "roi"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Topics: analytics, roi for guest <b>", out)

	out, err = RenderTemplate(`{{upper .name}}`, map[string]any{"name": "roi"})
	require.NoError(t, err)
	assert.Equal(t, "ROI", out)

	_, err = RenderTemplate(`{{ .broken `, nil)
	assert.Error(t, err)
}
