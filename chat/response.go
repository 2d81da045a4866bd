package chat

import (
	"math"

	"github.com/hupe1980/meshchat/core"
)

// Response is the caller-facing chat payload shared by HTTP and WebSocket.
type Response struct {
	Response    string         `json:"response"`
	AgentUsed   string         `json:"agentUsed"`
	Data        map[string]any `json:"data"`
	Suggestions []string       `json:"suggestions"`
	Metadata    Metadata       `json:"metadata"`
}

// Metadata describes how a response was produced. ExecutionTime is in
// milliseconds.
type Metadata struct {
	ConversationID string   `json:"conversationId"`
	TokensUsed     int      `json:"tokensUsed"`
	Cost           float64  `json:"cost"`
	ExecutionTime  int64    `json:"executionTime"`
	AgentsInvolved []string `json:"agentsInvolved"`
	Success        bool     `json:"success"`
}

// NewResponse maps an execution result onto the wire payload.
func NewResponse(res *core.ExecutionResult) *Response {
	suggestions := res.Suggestions
	if suggestions == nil {
		suggestions = []string{}
	}

	agents := res.AgentsInvolved
	if agents == nil {
		agents = []string{}
	}

	return &Response{
		Response:    res.FinalResponse,
		AgentUsed:   res.PrimaryAgent,
		Data:        res.Data,
		Suggestions: suggestions,
		Metadata: Metadata{
			ConversationID: res.ConversationID,
			TokensUsed:     res.TotalTokens,
			Cost:           roundCost(res.TotalCost),
			ExecutionTime:  res.ExecutionTime.Milliseconds(),
			AgentsInvolved: agents,
			Success:        res.Success,
		},
	}
}

// roundCost drops float noise such as 0.030000000000000002.
func roundCost(c float64) float64 {
	return math.Round(c*1e6) / 1e6
}
