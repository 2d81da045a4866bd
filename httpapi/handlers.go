package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/hupe1980/meshchat/core"
	"github.com/hupe1980/meshchat/task"
)

// POST /chat
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)

	var req task.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "validation_error", "request body too large")
			return
		}
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "validation_error", "request body is required")
			return
		}
		writeError(w, http.StatusBadRequest, "validation_error", "invalid JSON body")
		return
	}

	owner := identityFromRequest(r, req.Context)

	resp, err := s.chat.Handle(r.Context(), owner, req)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// GET /sessions?limit=
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	owner, limit, ok := s.ownerAndLimit(w, r)
	if !ok {
		return
	}

	sessions, err := s.memory.ListSessions(r.Context(), owner, limit)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, listSessionsResponse{Sessions: toSessionResponses(sessions)})
}

// GET /sessions/{id}?limit=
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	owner, limit, ok := s.ownerAndLimit(w, r)
	if !ok {
		return
	}

	id := r.PathValue("id")

	session, err := s.memory.GetSession(r.Context(), owner, id)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	msgs, err := s.memory.GetTimeline(r.Context(), owner, id, limit)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, getSessionResponse{
		Session:  toSessionResponse(session),
		Messages: toMessageResponses(msgs),
	})
}

// GET /sessions/{id}/recent?limit=
func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	owner, limit, ok := s.ownerAndLimit(w, r)
	if !ok {
		return
	}

	msgs, err := s.memory.GetRecentHistory(r.Context(), owner, r.PathValue("id"), limit)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, messagesResponse{Messages: toMessageResponses(msgs)})
}

// GET /messages/search?q=&limit=
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	owner, limit, ok := s.ownerAndLimit(w, r)
	if !ok {
		return
	}

	msgs, err := s.memory.SearchMessages(r.Context(), owner, r.URL.Query().Get("q"), limit)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, messagesResponse{Messages: toMessageResponses(msgs)})
}

// POST /sessions/{id}/restore
func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}

	convID, session, err := s.memory.Restore(r.Context(), owner, r.PathValue("id"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, restoreResponse{ConversationID: convID, Session: toSessionResponse(session)})
}

type statusFunc func(ctx context.Context, owner core.Identity, sessionID string) (*core.ConversationSession, error)

// POST /sessions/{id}/complete|archive|reopen
func (s *Server) handleStatus(fn statusFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := s.owner(w, r)
		if !ok {
			return
		}

		session, err := fn(r.Context(), owner, r.PathValue("id"))
		if err != nil {
			s.writeErr(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toSessionResponse(session))
	}
}

// GET /health
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:   "ok",
		Agents:   toAgentsHealth(s.agents.Summary()),
		Features: s.opts.Features,
	})
}

// identityFromRequest reads identity headers, falling back to the
// tenantId/userId keys of a chat body context.
func identityFromRequest(r *http.Request, bodyCtx map[string]any) core.Identity {
	id := core.Identity{
		TenantID: r.Header.Get(HeaderTenantID),
		UserID:   r.Header.Get(HeaderUserID),
	}

	if id.TenantID == "" {
		id.TenantID = stringValue(bodyCtx, "tenantId")
	}
	if id.UserID == "" {
		id.UserID = stringValue(bodyCtx, "userId")
	}

	return id
}

func stringValue(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	v, _ := m[key].(string)
	return v
}

func (s *Server) owner(w http.ResponseWriter, r *http.Request) (core.Identity, bool) {
	owner := identityFromRequest(r, nil)
	if err := owner.Validate(); err != nil {
		s.writeErr(w, r, err)
		return core.Identity{}, false
	}
	return owner, true
}

func (s *Server) ownerAndLimit(w http.ResponseWriter, r *http.Request) (core.Identity, int, bool) {
	owner, ok := s.owner(w, r)
	if !ok {
		return core.Identity{}, 0, false
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeErr(w, r, &core.ValidationError{Field: "limit", Reason: fmt.Sprintf("must be a non-negative integer, got %q", raw)})
			return core.Identity{}, 0, false
		}
		limit = n
	}

	return owner, limit, true
}

// writeErr maps domain errors onto HTTP status codes.
func (s *Server) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status, typ, msg := classifyError(err)

	if status >= http.StatusInternalServerError {
		s.opts.Logger.Error("request failed", "path", r.URL.Path, "error", err, "request_id", RequestID(r.Context()))
	}

	writeError(w, status, typ, msg)
}

func classifyError(err error) (int, string, string) {
	var (
		ve *core.ValidationError
		ae *core.AuthError
	)

	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, "validation_error", ve.Error()
	case errors.As(err, &ae):
		return http.StatusUnauthorized, "authentication_error", ae.Error()
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, "not_found", "session not found"
	case errors.Is(err, core.ErrInvalidTransition), errors.Is(err, core.ErrSessionArchived):
		return http.StatusConflict, "conflict", err.Error()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "unavailable", "request did not complete in time"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, status int, typ, msg string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Type: typ, Message: msg}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
