package model

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockModel_Generate(t *testing.T) {
	m := NewMockModel("mock", "test")
	m.AddResponse("what is my roi", "ROI is 12%")

	resp, err := m.Generate(context.Background(), Request{
		Instructions: "be brief",
		Messages: []Message{
			{Role: RoleAssistant, Content: "hello"},
			{Role: RoleUser, Content: "what is my roi"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "ROI is 12%", resp.Text)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 6, resp.Usage.PromptTokens)
	assert.Equal(t, 3, resp.Usage.CompletionTokens)
	assert.Equal(t, 9, resp.Usage.TotalTokens)
	assert.Equal(t, 1, m.Calls())
}

func TestMockModel_DefaultAndErrors(t *testing.T) {
	m := NewMockModel("mock", "test")

	resp, err := m.Generate(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "Mock response to: hi", resp.Text)

	_, err = m.Generate(context.Background(), Request{})
	assert.Error(t, err)

	boom := errors.New("boom")
	m.FailWith(boom)
	_, err = m.Generate(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, Info{Name: "mock", Provider: "test"}, m.Info())
}

func TestMockModel_CanceledContext(t *testing.T) {
	m := NewMockModel("mock", "test")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Generate(ctx, Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRequest_LastUserText(t *testing.T) {
	r := Request{Messages: []Message{
		{Role: RoleUser, Content: "first"},
		{Role: RoleAssistant, Content: "reply"},
		{Role: RoleUser, Content: "second"},
		{Role: RoleAssistant, Content: "reply2"},
	}}
	assert.Equal(t, "second", r.LastUserText())
	assert.Equal(t, "", Request{}.LastUserText())
}
