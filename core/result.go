package core

import "time"

// FallbackAgentID identifies the synthetic result produced when every
// dispatched agent failed.
const FallbackAgentID = "fallback"

// ExecutionState enumerates the orchestrator states a task moves through.
type ExecutionState string

const (
	StatePending     ExecutionState = "pending"
	StateDispatched  ExecutionState = "dispatched"
	StateAggregating ExecutionState = "aggregating"
	StateCompleted   ExecutionState = "completed"
	StateFailed      ExecutionState = "failed"
)

// AgentResult is the outcome of invoking one agent for one task.
//
// Contract: Success=false implies Data=nil and Error!="".
type AgentResult struct {
	AgentID     string         `json:"agent_id"`
	Data        map[string]any `json:"data"`
	Response    string         `json:"response,omitempty"`
	Suggestions []string       `json:"suggestions"`
	TokensUsed  int            `json:"tokens_used"`
	Cost        float64        `json:"cost"`
	Success     bool           `json:"success"`
	Error       string         `json:"error,omitempty"`
	Latency     time.Duration  `json:"latency"`
	Attempts    int            `json:"attempts"`
}

// NewFailedResult builds a failed AgentResult upholding the Data/Error contract.
func NewFailedResult(agentID string, err error, latency time.Duration) AgentResult {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return AgentResult{
		AgentID:     agentID,
		Suggestions: []string{},
		Success:     false,
		Error:       msg,
		Latency:     latency,
	}
}

// ExecutionResult is the merged, caller-facing outcome of a task.
type ExecutionResult struct {
	TaskID         string         `json:"task_id"`
	ConversationID string         `json:"conversation_id"`
	Results        []AgentResult  `json:"results"`
	FinalResponse  string         `json:"final_response"`
	PrimaryAgent   string         `json:"primary_agent"`
	Data           map[string]any `json:"data"`
	Suggestions    []string       `json:"suggestions"`
	TotalTokens    int            `json:"total_tokens"`
	TotalCost      float64        `json:"total_cost"`
	ExecutionTime  time.Duration  `json:"execution_time"`
	Success        bool           `json:"success"`
	State          ExecutionState `json:"state"`
	AgentsInvolved []string       `json:"agents_involved"`
}
