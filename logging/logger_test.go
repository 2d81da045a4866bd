package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
		ok   bool
	}{
		{"debug", LogLevelDebug, true},
		{"INFO", LogLevelInfo, true},
		{"warning", LogLevelWarn, true},
		{"error", LogLevelError, true},
		{"", LogLevelInfo, true},
		{"verbose", LogLevelInfo, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseLevel(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestMeshLogger_JSONAttrs(t *testing.T) {
	var buf bytes.Buffer
	l := WithConversation(WithComponent(NewLogger(&LoggerConfig{Level: LogLevelInfo, Format: "json", Output: &buf}), "orchestrator"), "c1", "t1")

	l.Info("dispatching", "agents", 2)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "dispatching", entry["msg"])
	assert.Equal(t, "orchestrator", entry["component"])
	assert.Equal(t, "c1", entry["conversation_id"])
	assert.Equal(t, "t1", entry["task_id"])
	assert.EqualValues(t, 2, entry["agents"])
}

func TestMeshLogger_SetLevelAffectsClones(t *testing.T) {
	var buf bytes.Buffer
	root := NewLogger(&LoggerConfig{Level: LogLevelWarn, Format: "text", Output: &buf})
	child := WithComponent(root, "memory")

	child.Info("hidden")
	assert.Empty(t, buf.String())

	root.SetLevel(LogLevelDebug)
	child.Debug("visible")
	assert.Contains(t, buf.String(), "visible")
	assert.Contains(t, buf.String(), "component=memory")
}

func TestLogAgentCall(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&LoggerConfig{Level: LogLevelDebug, Format: "text", Output: &buf})

	LogAgentCall(l, "roi", 50, 10*time.Millisecond, 1, nil)
	LogAgentCall(l, "analytics", 0, 5*time.Millisecond, 2, errors.New("boom"))

	out := buf.String()
	assert.Contains(t, out, "agent call completed")
	assert.Contains(t, out, "agent_id=roi")
	assert.Contains(t, out, "agent call failed")
	assert.Contains(t, out, "error=boom")
}

func TestLogExecution(t *testing.T) {
	var buf bytes.Buffer
	l := WithConversation(NewConsoleLogger(&buf, LogLevelInfo), "c1", "")

	LogExecution(l, "completed", 2, 80, 0.03, 40*time.Millisecond)

	out := buf.String()
	assert.Contains(t, out, "task execution finished")
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "c1")
	assert.NotContains(t, out, "task_id")
}

func TestWith_NestsAndSkipsNoOp(t *testing.T) {
	assert.Equal(t, Logger(NoOpLogger{}), With(NoOpLogger{}, "k", "v"))

	var buf bytes.Buffer
	base := NewLogger(&LoggerConfig{Level: LogLevelInfo, Format: "json", Output: &buf})

	parent := With(base, "a", 1)
	child := With(parent, "b", 2)
	parent.Info("parent")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.NotContains(t, entry, "b")

	buf.Reset()
	child.Info("child", "c", 3)

	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.EqualValues(t, 1, entry["a"])
	assert.EqualValues(t, 2, entry["b"])
	assert.EqualValues(t, 3, entry["c"])
}

func TestZerologAdapter(t *testing.T) {
	var buf bytes.Buffer
	l := NewConsoleLogger(&buf, LogLevelInfo)

	l.Debug("nope")
	l.Info("serving", "addr", ":8080")
	l.Error("failed", "err", errors.New("bad"))

	out := buf.String()
	assert.False(t, strings.Contains(out, "nope"))
	assert.Contains(t, out, "serving")
	assert.Contains(t, out, ":8080")
	assert.Contains(t, out, "bad")
}

func TestZerologAdapter_SetLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewConsoleLogger(&buf, LogLevelWarn)

	l.Info("hidden")
	l.SetLevel(LogLevelDebug)
	l.Debug("visible")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible")
}

func TestNoOpLogger(t *testing.T) {
	var l Logger = NoOpLogger{}
	assert.NotPanics(t, func() {
		l.Debug("x")
		l.Info("x", "k", "v")
		l.Warn("x")
		l.Error("x")
	})
}
