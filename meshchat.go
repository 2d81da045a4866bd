// Package meshchat provides a high-level façade over the chat pipeline
// (task builder, orchestrator and conversational memory). Most applications
// interact with this package by:
//  1. Creating a Mesh via New() (optionally overriding the default in-memory store)
//  2. Registering one or more agents
//  3. Sending messages through Chat or serving Handler over HTTP
//
// All defaults are safe for local development and testing; production
// deployments typically supply a durable store, a shared recent-history cache
// and a structured logger.
package meshchat

import (
	"context"
	"errors"

	"github.com/hupe1980/meshchat/chat"
	"github.com/hupe1980/meshchat/core"
	"github.com/hupe1980/meshchat/httpapi"
	"github.com/hupe1980/meshchat/logging"
	"github.com/hupe1980/meshchat/memory"
	"github.com/hupe1980/meshchat/orchestrator"
	"github.com/hupe1980/meshchat/registry"
	"github.com/hupe1980/meshchat/task"
)

// Options configures the Mesh instance.
type Options struct {
	// Store and History default to in-memory implementations.
	Store   core.ConversationStore
	History core.RecentHistory

	// Classifier defaults to the keyword classifier.
	Classifier core.Classifier

	// Per component overrides, applied after the defaults below.
	Task         []func(o *task.Options)
	Orchestrator []func(o *orchestrator.Options)
	Memory       []func(o *memory.Options)
	Chat         []func(o *chat.Options)

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// Mesh aggregates the registry, memory manager and chat service.
type Mesh struct {
	registry *registry.Registry
	memory   *memory.Manager
	chat     *chat.Service
}

// New creates a Mesh. It fails only when the task builder rejects its
// configuration.
func New(optFns ...func(o *Options)) (*Mesh, error) {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	reg := registry.New()

	mem := memory.NewManager(append([]func(o *memory.Options){func(o *memory.Options) {
		o.Store = opts.Store
		o.History = opts.History
		o.Logger = logging.WithComponent(opts.Logger, "memory")
	}}, opts.Memory...)...)

	orch := orchestrator.New(reg, append([]func(o *orchestrator.Options){func(o *orchestrator.Options) {
		o.Logger = logging.WithComponent(opts.Logger, "orchestrator")
	}}, opts.Orchestrator...)...)

	// The builder checks its classify timeout against the same deadline the
	// chat service enforces per message.
	taskOpts := append([]func(o *task.Options){func(o *task.Options) {
		o.History = mem
		o.Logger = logging.WithComponent(opts.Logger, "task")
	}}, opts.Task...)
	taskOpts = append(taskOpts, func(o *task.Options) {
		o.TaskDeadline = orch.Deadline()
	})

	builder, err := task.New(opts.Classifier, taskOpts...)
	if err != nil {
		return nil, err
	}

	svc := chat.NewService(builder, orch, mem, append([]func(o *chat.Options){func(o *chat.Options) {
		o.TaskDeadline = orch.Deadline()
		o.Logger = logging.WithComponent(opts.Logger, "chat")
	}}, opts.Chat...)...)

	return &Mesh{registry: reg, memory: mem, chat: svc}, nil
}

// RegisterAgent adds agents to the registry.
func (m *Mesh) RegisterAgent(agents ...core.Agent) error {
	var errs []error
	for _, a := range agents {
		if err := m.registry.Register(a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Chat handles one message synchronously. The exchange is persisted in the
// background; call Drain to wait for it.
func (m *Mesh) Chat(ctx context.Context, owner core.Identity, req task.Request) (*chat.Response, error) {
	return m.chat.Handle(ctx, owner, req)
}

// Registry exposes the agent registry.
func (m *Mesh) Registry() *registry.Registry { return m.registry }

// Memory exposes the memory manager.
func (m *Mesh) Memory() *memory.Manager { return m.memory }

// Handler returns the HTTP API serving this mesh.
func (m *Mesh) Handler(optFns ...func(o *httpapi.Options)) *httpapi.Server {
	return httpapi.NewServer(m.chat, m.memory, m.registry, optFns...)
}

// Drain waits for in-flight persistence.
func (m *Mesh) Drain(ctx context.Context) error { return m.chat.Drain(ctx) }

// Close stops accepting persistence work and waits for what is in flight.
func (m *Mesh) Close(ctx context.Context) error { return m.chat.Close(ctx) }
