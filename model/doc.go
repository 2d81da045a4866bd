// Package model defines the provider-agnostic abstraction used by LLM backed
// agents and the intent classifier.
//
// Core goals:
//   - Keep request/response shapes minimal and transport independent
//   - Report token usage so the orchestrator can account cost per agent
//   - Facilitate lightweight mocking for tests (MockModel)
//
// Providers (OpenAI, Anthropic) implement the Model interface from this
// package so agents remain decoupled from vendor SDKs.
package model
