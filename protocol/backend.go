package protocol

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/martinemde/puding/conversation"
	"github.com/martinemde/puding/tools"
)

// Backend sends a conversation to a model and returns its reply.
// Implementations serialize the canonical history into their wire format
// without mutating it.
type Backend interface {
	Name() string
	Complete(ctx context.Context, history []conversation.Message, defs []tools.Definition) (*Reply, error)
}

// Reply is a deserialized model response.
type Reply struct {
	Text      string
	ToolCalls []conversation.ToolCall
}

// Message converts the reply into the assistant message stored in history.
func (r *Reply) Message() conversation.Message {
	return conversation.AssistantMessage(r.Text, r.ToolCalls)
}

// Option configures a Backend.
type Option func(*options)

type options struct {
	retry  RetryPolicy
	logger *slog.Logger
}

func newOptions(opts []Option) options {
	o := options{
		retry:  DefaultRetryPolicy(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithRetryPolicy overrides DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *options) { o.retry = p }
}

// WithLogger sets the logger used for request and retry diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func (o options) retryPolicy(provider string) RetryPolicy {
	p := o.retry
	onRetry := p.OnRetry
	p.OnRetry = func(err error, attempt int, delay time.Duration) {
		o.logger.Warn("retrying backend request", "provider", provider, "attempt", attempt, "delay", delay, "error", err)
		if onRetry != nil {
			onRetry(err, attempt, delay)
		}
	}
	return p
}

// NewCallID synthesizes a correlation id for tool calls that arrive
// without one.
func NewCallID() string {
	return "call_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}
