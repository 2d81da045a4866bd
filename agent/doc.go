// Package agent provides the concrete agent implementations offered to the
// orchestrator.
//
// Every agent satisfies core.Agent: a static descriptor (id, capability tags,
// declared cost) plus a context aware Invoke. Selection never looks at the
// concrete type, only at the capability tags.
//
// Available agents:
//   - ModelAgent: prompts a model.Model with an instruction template, the
//     recent conversation history and the task message
//   - FuncAgent: wraps a Go function for deterministic capabilities
//
// Catalogs of model-backed agents can be declared in YAML and loaded with
// LoadCatalog, resolving each entry's provider/model pair through a
// ModelResolver.
package agent
