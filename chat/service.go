// Package chat is the chat entry point: it turns an inbound message into a
// task, executes it and hands the exchange to conversational memory without
// making the caller wait for persistence.
package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/meshchat/core"
	"github.com/hupe1980/meshchat/logging"
	"github.com/hupe1980/meshchat/task"
)

// DefaultPersistTimeout bounds one background persistence attempt.
const DefaultPersistTimeout = 5 * time.Second

// TaskBuilder builds tasks from inbound requests.
type TaskBuilder interface {
	Build(ctx context.Context, owner core.Identity, req task.Request) (*core.Task, error)
}

// Executor runs tasks to completion.
type Executor interface {
	Execute(ctx context.Context, t *core.Task) (*core.ExecutionResult, error)
}

// Memory is the part of the memory manager the chat service writes to.
type Memory interface {
	CreateOrGetSession(ctx context.Context, conversationID string, owner core.Identity) (*core.ConversationSession, error)
	AppendExchange(ctx context.Context, owner core.Identity, sessionID string, msgs ...core.ConversationMessage) (*core.ConversationSession, error)
}

// Options configures a Service.
type Options struct {
	// TaskDeadline bounds one message end to end: classification, history
	// lookup and agent dispatch all draw from it. Zero takes the executor's
	// Deadline when it has one, else no bound is applied.
	TaskDeadline   time.Duration
	PersistTimeout time.Duration
	Logger         logging.Logger
	// OnPersistError is called for every exchange that could not be stored.
	OnPersistError func(err *core.PersistenceError)
}

// Service handles chat messages.
type Service struct {
	builder  TaskBuilder
	executor Executor
	memory   Memory
	opts     Options

	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// NewService creates a chat service. memory may be nil, which disables
// persistence.
func NewService(builder TaskBuilder, executor Executor, memory Memory, optFns ...func(o *Options)) *Service {
	opts := Options{
		PersistTimeout: DefaultPersistTimeout,
		Logger:         logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.TaskDeadline <= 0 {
		if d, ok := executor.(interface{ Deadline() time.Duration }); ok {
			opts.TaskDeadline = d.Deadline()
		}
	}

	return &Service{
		builder:  builder,
		executor: executor,
		memory:   memory,
		opts:     opts,
	}
}

// Handle processes one message. Validation and identity failures are returned
// as *core.ValidationError and *core.AuthError before any agent runs. Agent
// failures never surface as errors: they come back as a response with
// Metadata.Success=false.
func (s *Service) Handle(ctx context.Context, owner core.Identity, req task.Request) (*Response, error) {
	if s.opts.TaskDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.TaskDeadline)
		defer cancel()
	}

	t, err := s.builder.Build(ctx, owner, req)
	if err != nil {
		return nil, err
	}

	log := s.opts.Logger

	log.Info("chat message received",
		"task_id", t.ID,
		"conversation_id", t.ConversationID,
		"tenant_id", t.TenantID,
		"intents", strings.Join(t.Intents, ","),
	)

	res, err := s.executor.Execute(ctx, t)
	if err != nil {
		log.Error("task execution aborted", "task_id", t.ID, "error", err)
		return nil, err
	}

	s.persist(owner, t, res)

	return NewResponse(res), nil
}

// persist stores the exchange in the background. Failures are logged and
// reported through OnPersistError only.
func (s *Service) persist(owner core.Identity, t *core.Task, res *core.ExecutionResult) {
	if s.memory == nil {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.opts.Logger.Warn("chat service closed, exchange not persisted", "conversation_id", t.ConversationID)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	user := core.ConversationMessage{
		Type:     core.MessageUser,
		Content:  t.Message,
		Metadata: core.MessageMetadata{Intent: strings.Join(t.Intents, ",")},
	}

	assistant := core.ConversationMessage{
		Type:    core.MessageAssistant,
		Content: res.FinalResponse,
		Metadata: core.MessageMetadata{
			Intent:  strings.Join(t.Intents, ","),
			Action:  string(res.State),
			AgentID: res.PrimaryAgent,
		},
	}

	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.opts.PersistTimeout)
		defer cancel()

		if err := s.store(ctx, owner, t.ConversationID, user, assistant); err != nil {
			s.opts.Logger.Error("failed to persist exchange",
				"conversation_id", t.ConversationID,
				"task_id", t.ID,
				"error", err,
			)

			if s.opts.OnPersistError != nil {
				s.opts.OnPersistError(err)
			}
		}
	}()
}

func (s *Service) store(ctx context.Context, owner core.Identity, conversationID string, msgs ...core.ConversationMessage) *core.PersistenceError {
	if _, err := s.memory.CreateOrGetSession(ctx, conversationID, owner); err != nil {
		return &core.PersistenceError{Op: "create_session", SessionID: conversationID, Err: err}
	}

	if _, err := s.memory.AppendExchange(ctx, owner, conversationID, msgs...); err != nil {
		return &core.PersistenceError{Op: "append", SessionID: conversationID, Err: err}
	}

	return nil
}

// Drain waits for in-flight persistence until ctx ends.
func (s *Service) Drain(ctx context.Context) error {
	done := make(chan struct{})

	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting new persistence work and drains the pending one.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	return s.Drain(ctx)
}
