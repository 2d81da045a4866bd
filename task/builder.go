// Package task turns an inbound chat message into a normalized core.Task.
//
// The Builder validates the message, resolves the conversation identity,
// derives intent tags through a core.Classifier under a strict sub-deadline and
// attaches recent conversation history. Classification failures never fail the
// build; the task simply falls back to the general intent.
package task

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hupe1980/meshchat/core"
	"github.com/hupe1980/meshchat/logging"
)

const (
	// DefaultMaxMessageLength is the maximum message length in runes.
	DefaultMaxMessageLength = 4000
	// DefaultClassifyTimeout bounds intent classification.
	DefaultClassifyTimeout = 2 * time.Second
	// DefaultTaskDeadline is the overall per-task deadline the classify
	// timeout must stay below.
	DefaultTaskDeadline = 15 * time.Second
	// DefaultHistoryLimit is how many recent messages are attached to a task.
	DefaultHistoryLimit = 10
)

// Request is the raw inbound chat message.
type Request struct {
	Message        string         `json:"message"`
	ConversationID string         `json:"conversationId,omitempty"`
	Context        map[string]any `json:"context,omitempty"`
}

// HistorySource supplies recent conversation messages, most recent first.
type HistorySource interface {
	GetRecentHistory(ctx context.Context, owner core.Identity, conversationID string, limit int) ([]core.ConversationMessage, error)
}

// Options configures a Builder.
type Options struct {
	MaxMessageLength int
	ClassifyTimeout  time.Duration
	TaskDeadline     time.Duration
	// History is optional; without it tasks carry no history.
	History      HistorySource
	HistoryLimit int
	Logger       logging.Logger
	Now          func() time.Time
}

// Builder builds tasks. It is safe for concurrent use.
type Builder struct {
	classifier core.Classifier
	opts       Options
}

// New creates a Builder. It fails when the classify timeout is not strictly
// shorter than the task deadline.
func New(classifier core.Classifier, optFns ...func(o *Options)) (*Builder, error) {
	opts := Options{
		MaxMessageLength: DefaultMaxMessageLength,
		ClassifyTimeout:  DefaultClassifyTimeout,
		TaskDeadline:     DefaultTaskDeadline,
		HistoryLimit:     DefaultHistoryLimit,
		Logger:           logging.NoOpLogger{},
		Now:              time.Now,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if classifier == nil {
		classifier = NewKeywordClassifier()
	}
	if opts.MaxMessageLength <= 0 {
		return nil, fmt.Errorf("max message length must be positive")
	}
	if opts.ClassifyTimeout <= 0 || opts.TaskDeadline <= 0 {
		return nil, fmt.Errorf("classify timeout and task deadline must be positive")
	}
	if opts.ClassifyTimeout >= opts.TaskDeadline {
		return nil, fmt.Errorf("classify timeout %s must be shorter than task deadline %s", opts.ClassifyTimeout, opts.TaskDeadline)
	}

	return &Builder{classifier: classifier, opts: opts}, nil
}

// Validate checks a raw message without building a task.
func (b *Builder) Validate(message string) error {
	if strings.TrimSpace(message) == "" {
		return &core.ValidationError{Field: "message", Reason: "must not be empty"}
	}
	if n := utf8.RuneCountInString(message); n > b.opts.MaxMessageLength {
		return &core.ValidationError{
			Field:  "message",
			Reason: fmt.Sprintf("exceeds %d characters (got %d)", b.opts.MaxMessageLength, n),
		}
	}
	return nil
}

// Build validates req and returns a ready task. Identity and validation
// failures return before any classification happens.
func (b *Builder) Build(ctx context.Context, owner core.Identity, req Request) (*core.Task, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	if err := b.Validate(req.Message); err != nil {
		return nil, err
	}

	conversationID := strings.TrimSpace(req.ConversationID)
	if conversationID == "" {
		conversationID = core.NewID()
	}

	message := strings.TrimSpace(req.Message)

	t := &core.Task{
		ID:             core.NewID(),
		ConversationID: conversationID,
		TenantID:       owner.TenantID,
		UserID:         owner.UserID,
		Message:        message,
		Context:        req.Context,
		CreatedAt:      b.opts.Now(),
	}

	t.Intents = b.classify(ctx, message)
	t.History = b.history(ctx, owner, conversationID)

	return t, nil
}

// classify runs the classifier under the classify timeout. A classifier that
// ignores its context is abandoned at the deadline.
func (b *Builder) classify(ctx context.Context, message string) []string {
	cctx, cancel := context.WithTimeout(ctx, b.opts.ClassifyTimeout)
	defer cancel()

	type outcome struct {
		tags []string
		err  error
	}

	ch := make(chan outcome, 1)

	go func() {
		tags, err := b.classifier.Classify(cctx, message)
		ch <- outcome{tags: tags, err: err}
	}()

	select {
	case out := <-ch:
		if out.err != nil {
			b.opts.Logger.Warn("intent classification failed, using general intent", "error", out.err)
			return []string{core.CapabilityGeneral}
		}
		if tags := NormalizeTags(out.tags); len(tags) > 0 {
			return tags
		}
		return []string{core.CapabilityGeneral}
	case <-cctx.Done():
		b.opts.Logger.Warn("intent classification timed out, using general intent", "timeout", b.opts.ClassifyTimeout)
		return []string{core.CapabilityGeneral}
	}
}

func (b *Builder) history(ctx context.Context, owner core.Identity, conversationID string) []core.ConversationMessage {
	if b.opts.History == nil || b.opts.HistoryLimit <= 0 {
		return nil
	}

	msgs, err := b.opts.History.GetRecentHistory(ctx, owner, conversationID, b.opts.HistoryLimit)
	if err != nil {
		b.opts.Logger.Debug("no history attached to task", "conversation_id", conversationID, "error", err)
		return nil
	}

	return msgs
}

// TaskDeadline returns the configured per-task deadline.
func (b *Builder) TaskDeadline() time.Duration { return b.opts.TaskDeadline }

// NormalizeTags lower-cases, trims and de-duplicates tags keeping first-seen order.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
