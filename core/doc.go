// Package core provides the foundational domain types and contracts used by
// meshchat. It defines:
//
//   - Tasks (one normalized unit of orchestration work per inbound message)
//   - Agents (capability-tagged providers behind a uniform Invoke contract)
//   - AgentResult / ExecutionResult (per-agent and aggregated outcomes)
//   - ConversationSession / ConversationMessage (persisted conversational memory)
//   - Store, RecentHistory and Classifier contracts for pluggable backends
//   - The error taxonomy shared by every layer
//
// The package intentionally keeps implementation concerns (persistence,
// dispatch, transport) out of scope, exposing small interfaces so concrete
// backends can be selected at wiring time without dependency cycles.
package core
