package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hupe1980/meshchat/chat"
	"github.com/hupe1980/meshchat/core"
	"github.com/hupe1980/meshchat/logging"
	"github.com/hupe1980/meshchat/task"
)

const wsWriteWait = 10 * time.Second

// wsFrame is an outbound WebSocket frame. Type is "response" or "error".
type wsFrame struct {
	Type  string         `json:"type"`
	Data  *chat.Response `json:"data,omitempty"`
	Error *errorDetail   `json:"error,omitempty"`
}

// GET /chat/ws
//
// Each text frame carries one chat request and is answered by exactly one
// frame, in order. Browsers cannot set custom headers on upgrades, so the
// tenantId and userId query parameters are accepted as well.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	base := identityFromRequest(r, nil)
	if base.TenantID == "" {
		base.TenantID = r.URL.Query().Get("tenantId")
	}
	if base.UserID == "" {
		base.UserID = r.URL.Query().Get("userId")
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.opts.Logger.Error("websocket upgrade failed", "error", err, "request_id", RequestID(r.Context()))
		return
	}

	h := &wsSession{
		server: s,
		conn:   conn,
		base:   base,
		logger: s.opts.Logger,
		start:  s.opts.Now(),
	}

	h.run(r.Context())
}

type wsSession struct {
	server *Server
	conn   *websocket.Conn
	base   core.Identity
	logger logging.Logger
	start  time.Time
	frames int
}

func (h *wsSession) run(ctx context.Context) {
	defer h.cleanup()

	pongWait := h.server.opts.PongWait

	h.conn.SetReadLimit(h.server.opts.MaxBodyBytes)
	_ = h.conn.SetReadDeadline(time.Now().Add(pongWait))
	h.conn.SetPongHandler(func(string) error {
		return h.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	stop := make(chan struct{})
	defer close(stop)

	go h.ping(pongWait*9/10, stop)

	h.logger.Info("websocket session started", "tenant_id", h.base.TenantID, "user_id", h.base.UserID)

	for {
		var req task.Request
		if err := h.conn.ReadJSON(&req); err != nil {
			if !isDecodeError(err) {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					h.logger.Warn("websocket read failed", "error", err)
				}
				return
			}

			// Malformed frame: report and keep the connection.
			if !h.write(wsFrame{Type: "error", Error: &errorDetail{Type: "validation_error", Message: "invalid JSON frame"}}) {
				return
			}
			continue
		}

		_ = h.conn.SetReadDeadline(time.Now().Add(pongWait))
		h.frames++

		if !h.write(h.handle(ctx, req)) {
			return
		}

		if ctx.Err() != nil {
			return
		}
	}
}

func (h *wsSession) handle(ctx context.Context, req task.Request) wsFrame {
	owner := h.base
	if owner.TenantID == "" {
		owner.TenantID = stringValue(req.Context, "tenantId")
	}
	if owner.UserID == "" {
		owner.UserID = stringValue(req.Context, "userId")
	}

	resp, err := h.server.chat.Handle(ctx, owner, req)
	if err != nil {
		status, typ, msg := classifyError(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("websocket chat failed", "error", err)
		}
		return wsFrame{Type: "error", Error: &errorDetail{Type: typ, Message: msg}}
	}

	return wsFrame{Type: "response", Data: resp}
}

// ping keeps idle peers alive. WriteControl may run concurrently with the
// frame writes of the read loop.
func (h *wsSession) ping(period time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := h.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

func (h *wsSession) write(f wsFrame) bool {
	_ = h.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := h.conn.WriteJSON(f); err != nil {
		h.logger.Warn("websocket write failed", "error", err)
		return false
	}
	return true
}

func (h *wsSession) cleanup() {
	_ = h.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(wsWriteWait))
	_ = h.conn.Close()

	h.logger.Info("websocket session ended",
		"frames", h.frames,
		"duration_ms", h.server.opts.Now().Sub(h.start).Milliseconds(),
	)
}

func isDecodeError(err error) bool {
	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}
