package httpapi

import (
	"time"

	"github.com/hupe1980/meshchat/core"
	"github.com/hupe1980/meshchat/registry"
)

type sessionResponse struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenantId"`
	UserID       string    `json:"userId"`
	Title        string    `json:"title"`
	Status       string    `json:"status"`
	MessageCount int       `json:"messageCount"`
	Tags         []string  `json:"tags"`
	Summary      string    `json:"summary"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type messageMetadataResponse struct {
	Intent  string `json:"intent,omitempty"`
	Action  string `json:"action,omitempty"`
	AgentID string `json:"agentId,omitempty"`
}

type messageResponse struct {
	ID        string                  `json:"id"`
	SessionID string                  `json:"sessionId"`
	Type      string                  `json:"type"`
	Content   string                  `json:"content"`
	Timestamp time.Time               `json:"timestamp"`
	Metadata  messageMetadataResponse `json:"metadata"`
}

type listSessionsResponse struct {
	Sessions []sessionResponse `json:"sessions"`
}

type getSessionResponse struct {
	Session  sessionResponse   `json:"session"`
	Messages []messageResponse `json:"messages"`
}

type messagesResponse struct {
	Messages []messageResponse `json:"messages"`
}

type restoreResponse struct {
	ConversationID string          `json:"conversationId"`
	Session        sessionResponse `json:"session"`
}

type healthResponse struct {
	Status   string          `json:"status"`
	Agents   agentsHealth    `json:"agents"`
	Features map[string]bool `json:"features"`
}

type agentsHealth struct {
	Total   int `json:"total"`
	General int `json:"general"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func toSessionResponse(s *core.ConversationSession) sessionResponse {
	tags := s.Tags
	if tags == nil {
		tags = []string{}
	}

	return sessionResponse{
		ID:           s.ID,
		TenantID:     s.TenantID,
		UserID:       s.UserID,
		Title:        s.Title,
		Status:       string(s.Status),
		MessageCount: s.MessageCount,
		Tags:         tags,
		Summary:      s.Summary,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}

func toSessionResponses(ss []*core.ConversationSession) []sessionResponse {
	out := make([]sessionResponse, 0, len(ss))
	for _, s := range ss {
		out = append(out, toSessionResponse(s))
	}
	return out
}

func toMessageResponses(ms []core.ConversationMessage) []messageResponse {
	out := make([]messageResponse, 0, len(ms))
	for _, m := range ms {
		out = append(out, messageResponse{
			ID:        m.ID,
			SessionID: m.SessionID,
			Type:      string(m.Type),
			Content:   m.Content,
			Timestamp: m.Timestamp,
			Metadata: messageMetadataResponse{
				Intent:  m.Metadata.Intent,
				Action:  m.Metadata.Action,
				AgentID: m.Metadata.AgentID,
			},
		})
	}
	return out
}

func toAgentsHealth(s registry.Summary) agentsHealth {
	return agentsHealth{Total: s.Total, General: s.General}
}
