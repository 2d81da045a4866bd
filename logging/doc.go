// Package logging provides a minimal logging interface and adapters for meshchat.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the orchestrator, memory manager and HTTP layer use. This package includes:
//
//   - Logger interface for dependency injection
//   - MeshLogger, a slog based logger with a reloadable level
//   - ZerologAdapter for console output in the CLI
//   - NoOpLogger for silent operation in tests
//
// Usage:
//
//	logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LogLevelInfo, Format: "json"})
//	orch := orchestrator.New(reg, orchestrator.WithLogger(logger))
package logging
