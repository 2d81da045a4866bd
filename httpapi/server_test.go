package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/meshchat/agent"
	"github.com/hupe1980/meshchat/chat"
	"github.com/hupe1980/meshchat/core"
	"github.com/hupe1980/meshchat/httpapi"
	"github.com/hupe1980/meshchat/memory"
	"github.com/hupe1980/meshchat/orchestrator"
	"github.com/hupe1980/meshchat/registry"
	"github.com/hupe1980/meshchat/task"
)

type fixture struct {
	server *httptest.Server
	chat   *chat.Service
	memory *memory.Manager
}

func setup(t *testing.T, optFns ...func(o *httpapi.Options)) *fixture {
	t.Helper()

	reg := registry.New()
	reg.MustRegister(
		agent.NewFuncAgent(core.AgentDescriptor{ID: "analytics-agent", Capabilities: []string{"analytics"}, InitialSuccessRate: 0.9},
			func(context.Context, *core.Task) (*core.AgentResponse, error) {
				return &core.AgentResponse{Text: "Your ROI is 12%", TokensUsed: 10, Cost: 0.001}, nil
			}),
		agent.NewFuncAgent(core.AgentDescriptor{ID: "general-agent", Capabilities: []string{"general"}},
			func(context.Context, *core.Task) (*core.AgentResponse, error) {
				return &core.AgentResponse{Text: "Hello!", TokensUsed: 2}, nil
			}),
	)

	mem := memory.NewManager()

	builder, err := task.New(nil, func(o *task.Options) { o.History = mem })
	require.NoError(t, err)

	svc := chat.NewService(builder, orchestrator.New(reg, func(o *orchestrator.Options) {
		o.Deadline = 2 * time.Second
	}), mem)

	srv := httptest.NewServer(httpapi.NewServer(svc, mem, reg, optFns...))

	t.Cleanup(func() {
		srv.Close()
		_ = svc.Close(context.Background())
	})

	return &fixture{server: srv, chat: svc, memory: mem}
}

func (f *fixture) do(t *testing.T, method, path, tenant, user string, body any) (*http.Response, []byte) {
	t.Helper()

	var rdr io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			rdr = strings.NewReader(b)
		default:
			raw, err := json.Marshal(b)
			require.NoError(t, err)
			rdr = bytes.NewReader(raw)
		}
	}

	req, err := http.NewRequest(method, f.server.URL+path, rdr)
	require.NoError(t, err)

	if tenant != "" {
		req.Header.Set(httpapi.HeaderTenantID, tenant)
	}
	if user != "" {
		req.Header.Set(httpapi.HeaderUserID, user)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, raw
}

func (f *fixture) chatAs(t *testing.T, tenant, user, conversationID, message string) chat.Response {
	t.Helper()

	resp, raw := f.do(t, http.MethodPost, "/chat", tenant, user, task.Request{Message: message, ConversationID: conversationID})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	var out chat.Response
	require.NoError(t, json.Unmarshal(raw, &out))
	require.NoError(t, f.chat.Drain(context.Background()))

	return out
}

func errorType(t *testing.T, raw []byte) string {
	t.Helper()

	var body struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(raw, &body), string(raw))

	return body.Error.Type
}

func TestChat(t *testing.T) {
	f := setup(t)

	out := f.chatAs(t, "t1", "u1", "", "What's my current ROI?")

	assert.Equal(t, "analytics-agent", out.AgentUsed)
	assert.Equal(t, "Your ROI is 12%", out.Response)
	assert.True(t, out.Metadata.Success)
	assert.NotEmpty(t, out.Metadata.ConversationID)
	assert.Equal(t, 10, out.Metadata.TokensUsed)
}

func TestChat_IdentityFromBodyContext(t *testing.T) {
	f := setup(t)

	resp, raw := f.do(t, http.MethodPost, "/chat", "", "", map[string]any{
		"message": "hello",
		"context": map[string]any{"tenantId": "t1", "userId": "u1"},
	})

	assert.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
}

func TestChat_Errors(t *testing.T) {
	f := setup(t)

	t.Run("missing identity", func(t *testing.T) {
		resp, raw := f.do(t, http.MethodPost, "/chat", "", "", task.Request{Message: "hi"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "authentication_error", errorType(t, raw))
	})

	t.Run("empty message", func(t *testing.T) {
		resp, raw := f.do(t, http.MethodPost, "/chat", "t1", "u1", task.Request{Message: "   "})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "validation_error", errorType(t, raw))
	})

	t.Run("invalid json", func(t *testing.T) {
		resp, _ := f.do(t, http.MethodPost, "/chat", "t1", "u1", "{not json")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("body too large", func(t *testing.T) {
		small := setup(t, func(o *httpapi.Options) { o.MaxBodyBytes = 16 })
		resp, _ := small.do(t, http.MethodPost, "/chat", "t1", "u1", task.Request{Message: strings.Repeat("x", 64)})
		assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	})
}

func TestSessions(t *testing.T) {
	f := setup(t)

	f.chatAs(t, "t1", "u1", "conv-1", "What's my current ROI?")
	f.chatAs(t, "t1", "u1", "conv-2", "hello")
	f.chatAs(t, "t2", "u9", "conv-3", "hello from elsewhere")

	t.Run("list is owner scoped", func(t *testing.T) {
		resp, raw := f.do(t, http.MethodGet, "/sessions", "t1", "u1", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			Sessions []struct {
				ID           string `json:"id"`
				MessageCount int    `json:"messageCount"`
			} `json:"sessions"`
		}
		require.NoError(t, json.Unmarshal(raw, &body))
		require.Len(t, body.Sessions, 2)

		ids := []string{body.Sessions[0].ID, body.Sessions[1].ID}
		assert.ElementsMatch(t, []string{"conv-1", "conv-2"}, ids)
		assert.Equal(t, 2, body.Sessions[0].MessageCount)
	})

	t.Run("get with timeline", func(t *testing.T) {
		resp, raw := f.do(t, http.MethodGet, "/sessions/conv-1", "t1", "u1", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			Session struct {
				Title  string `json:"title"`
				Status string `json:"status"`
			} `json:"session"`
			Messages []struct {
				Type     string `json:"type"`
				Content  string `json:"content"`
				Metadata struct {
					AgentID string `json:"agentId"`
				} `json:"metadata"`
			} `json:"messages"`
		}
		require.NoError(t, json.Unmarshal(raw, &body))

		assert.Equal(t, "What's my current ROI?", body.Session.Title)
		assert.Equal(t, "active", body.Session.Status)
		require.Len(t, body.Messages, 2)
		assert.Equal(t, "user", body.Messages[0].Type)
		assert.Equal(t, "assistant", body.Messages[1].Type)
		assert.Equal(t, "analytics-agent", body.Messages[1].Metadata.AgentID)
	})

	t.Run("foreign session is not found", func(t *testing.T) {
		resp, raw := f.do(t, http.MethodGet, "/sessions/conv-3", "t1", "u1", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "not_found", errorType(t, raw))
	})

	t.Run("recent is newest first", func(t *testing.T) {
		resp, raw := f.do(t, http.MethodGet, "/sessions/conv-1/recent?limit=1", "t1", "u1", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			Messages []struct {
				Type string `json:"type"`
			} `json:"messages"`
		}
		require.NoError(t, json.Unmarshal(raw, &body))
		require.Len(t, body.Messages, 1)
		assert.Equal(t, "assistant", body.Messages[0].Type)
	})

	t.Run("invalid limit", func(t *testing.T) {
		resp, _ := f.do(t, http.MethodGet, "/sessions?limit=abc", "t1", "u1", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("missing identity", func(t *testing.T) {
		resp, _ := f.do(t, http.MethodGet, "/sessions", "t1", "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestSessionStatusTransitions(t *testing.T) {
	f := setup(t)

	f.chatAs(t, "t1", "u1", "conv-1", "hello")

	status := func(t *testing.T, raw []byte) string {
		var body struct {
			Status string `json:"status"`
		}
		require.NoError(t, json.Unmarshal(raw, &body))
		return body.Status
	}

	resp, raw := f.do(t, http.MethodPost, "/sessions/conv-1/complete", "t1", "u1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "completed", status(t, raw))

	resp, raw = f.do(t, http.MethodPost, "/sessions/conv-1/archive", "t1", "u1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "archived", status(t, raw))

	resp, raw = f.do(t, http.MethodPost, "/sessions/conv-1/complete", "t1", "u1", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "conflict", errorType(t, raw))

	resp, raw = f.do(t, http.MethodPost, "/sessions/conv-1/restore", "t1", "u1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var restored struct {
		ConversationID string `json:"conversationId"`
		Session        struct {
			Status string `json:"status"`
		} `json:"session"`
	}
	require.NoError(t, json.Unmarshal(raw, &restored))
	assert.Equal(t, "conv-1", restored.ConversationID)
	assert.Equal(t, "active", restored.Session.Status)
}

func TestSearch(t *testing.T) {
	f := setup(t)

	f.chatAs(t, "t1", "u1", "conv-1", "What's my current ROI?")
	f.chatAs(t, "t2", "u2", "conv-2", "roi for someone else")

	resp, raw := f.do(t, http.MethodGet, "/messages/search?q=roi", "t1", "u1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Messages []struct {
			SessionID string `json:"sessionId"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(raw, &body))
	require.NotEmpty(t, body.Messages)

	for _, m := range body.Messages {
		assert.Equal(t, "conv-1", m.SessionID)
	}

	resp, raw = f.do(t, http.MethodGet, "/messages/search", "t1", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation_error", errorType(t, raw))
}

func TestHealth(t *testing.T) {
	f := setup(t, func(o *httpapi.Options) {
		o.Features = map[string]bool{"websocket": true}
	})

	resp, raw := f.do(t, http.MethodGet, "/health", "", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status string `json:"status"`
		Agents struct {
			Total   int `json:"total"`
			General int `json:"general"`
		} `json:"agents"`
		Features map[string]bool `json:"features"`
	}
	require.NoError(t, json.Unmarshal(raw, &body))

	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 2, body.Agents.Total)
	assert.Equal(t, 1, body.Agents.General)
	assert.True(t, body.Features["websocket"])
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "meshchat_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	f := setup(t, func(o *httpapi.Options) { o.Gatherer = reg })

	resp, raw := f.do(t, http.MethodGet, "/metrics", "", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "meshchat_test_total 1")

	noMetrics := setup(t)
	resp, _ = noMetrics.do(t, http.MethodGet, "/metrics", "", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMiddleware(t *testing.T) {
	f := setup(t, func(o *httpapi.Options) {
		o.AllowedOrigins = []string{"https://app.example.com"}
	})

	t.Run("request id is generated", func(t *testing.T) {
		resp, _ := f.do(t, http.MethodGet, "/health", "", "", nil)
		assert.NotEmpty(t, resp.Header.Get(httpapi.HeaderRequestID))
	})

	t.Run("request id is propagated", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, f.server.URL+"/health", nil)
		require.NoError(t, err)
		req.Header.Set(httpapi.HeaderRequestID, "req-42")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, "req-42", resp.Header.Get(httpapi.HeaderRequestID))
	})

	t.Run("preflight", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodOptions, f.server.URL+"/chat", nil)
		require.NoError(t, err)
		req.Header.Set("Origin", "https://app.example.com")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
		assert.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
		assert.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), httpapi.HeaderTenantID)
	})

	t.Run("foreign origin gets no cors headers", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, f.server.URL+"/health", nil)
		require.NoError(t, err)
		req.Header.Set("Origin", "https://evil.example.com")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()

		assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
	})
}

func TestRecoverMiddleware(t *testing.T) {
	srv := httptest.NewServer(httpapi.NewServer(panicChat{}, memory.NewManager(), registry.New()))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/chat", strings.NewReader(`{"message":"hi"}`))
	require.NoError(t, err)
	req.Header.Set(httpapi.HeaderTenantID, "t1")
	req.Header.Set(httpapi.HeaderUserID, "u1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

type panicChat struct{}

func (panicChat) Handle(context.Context, core.Identity, task.Request) (*chat.Response, error) {
	panic("boom")
}

func wsURL(f *fixture, query string) string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http") + "/chat/ws" + query
}

func TestChatWebSocket(t *testing.T) {
	f := setup(t)

	header := http.Header{}
	header.Set(httpapi.HeaderTenantID, "t1")
	header.Set(httpapi.HeaderUserID, "u1")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(f, ""), header)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(task.Request{Message: "What's my current ROI?", ConversationID: "ws-1"}))

	var frame struct {
		Type string         `json:"type"`
		Data *chat.Response `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&frame))

	assert.Equal(t, "response", frame.Type)
	require.NotNil(t, frame.Data)
	assert.Equal(t, "analytics-agent", frame.Data.AgentUsed)
	assert.Equal(t, "ws-1", frame.Data.Metadata.ConversationID)

	// A malformed frame is answered with an error and the connection survives.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{oops")))

	var errFrame struct {
		Type  string `json:"type"`
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	require.NoError(t, conn.ReadJSON(&errFrame))
	assert.Equal(t, "error", errFrame.Type)
	assert.Equal(t, "validation_error", errFrame.Error.Type)

	require.NoError(t, conn.WriteJSON(task.Request{Message: "hello", ConversationID: "ws-1"}))
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "response", frame.Type)
}

func TestChatWebSocket_QueryIdentityAndAuthErrors(t *testing.T) {
	f := setup(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(f, "?tenantId=t1&userId=u1"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(task.Request{Message: "hello"}))

	var frame struct {
		Type string `json:"type"`
	}
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "response", frame.Type)

	anon, _, err := websocket.DefaultDialer.Dial(wsURL(f, ""), nil)
	require.NoError(t, err)
	defer anon.Close()

	require.NoError(t, anon.WriteJSON(task.Request{Message: "hello"}))

	var errFrame struct {
		Type  string `json:"type"`
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	require.NoError(t, anon.ReadJSON(&errFrame))
	assert.Equal(t, "error", errFrame.Type)
	assert.Equal(t, "authentication_error", errFrame.Error.Type)
}

func TestChatWebSocket_IdlePeerKeptAlive(t *testing.T) {
	f := setup(t, func(o *httpapi.Options) { o.PongWait = 200 * time.Millisecond })

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(f, "?tenantId=t1&userId=u1"), nil)
	require.NoError(t, err)
	defer conn.Close()

	// The default ping handler answers pings only while the client reads.
	frames := make(chan []byte, 1)
	readErr := make(chan error, 1)

	go func() {
		_, data, err := conn.ReadMessage()
		if err != nil {
			readErr <- err
			return
		}
		frames <- data
	}()

	time.Sleep(600 * time.Millisecond)

	require.NoError(t, conn.WriteJSON(task.Request{Message: "hello"}))

	select {
	case data := <-frames:
		assert.Contains(t, string(data), `"type":"response"`)
	case err := <-readErr:
		t.Fatalf("connection dropped while idle: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("no response frame")
	}
}

