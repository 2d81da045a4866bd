package anthropic

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/meshchat/model"
)

func newTestServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	return srv, &hits
}

func userRequest() model.Request {
	return model.Request{
		Instructions: "Be brief.",
		Messages:     []model.Message{{Role: model.RoleUser, Content: "Open a ticket"}},
	}
}

const overloadedBody = `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`

func TestGenerate(t *testing.T) {
	srv, hits := newTestServer(t, http.StatusOK, `{
		"id": "msg_1",
		"type": "message",
		"role": "assistant",
		"model": "claude-3-5-sonnet-20241022",
		"content": [{"type": "text", "text": "Ticket opened"}],
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 8, "output_tokens": 4}
	}`)

	m := NewModel(func(o *Options) {
		o.APIKey = "test"
		o.BaseURL = srv.URL
	})

	resp, err := m.Generate(context.Background(), userRequest())
	require.NoError(t, err)
	assert.Equal(t, "Ticket opened", resp.Text)
	assert.Equal(t, "end_turn", resp.FinishReason)
	assert.Equal(t, 12, resp.Usage.TotalTokens)
	assert.Equal(t, int32(1), hits.Load())
}

func TestGenerate_OverloadIsSentOnce(t *testing.T) {
	srv, hits := newTestServer(t, http.StatusServiceUnavailable, overloadedBody)

	m := NewModel(func(o *Options) {
		o.APIKey = "test"
		o.BaseURL = srv.URL
	})

	_, err := m.Generate(context.Background(), userRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrUnavailable)
	assert.Equal(t, int32(1), hits.Load())
}

func TestGenerate_ClientRetriesOverridden(t *testing.T) {
	srv, hits := newTestServer(t, http.StatusServiceUnavailable, overloadedBody)

	client := anthropic.NewClient(
		option.WithAPIKey("test"),
		option.WithBaseURL(srv.URL),
		option.WithMaxRetries(3),
	)

	_, err := NewModelFromClient(&client).Generate(context.Background(), userRequest())
	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
}
