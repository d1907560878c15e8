package agentloop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/martinemde/puding/conversation"
	"github.com/martinemde/puding/protocol"
	"github.com/martinemde/puding/tools"
)

// ErrClosed is returned by a session after Close.
var ErrClosed = errors.New("session is closed")

// Session owns one conversation: its history, its execution log and the
// loop that drives the backend. A session runs one turn at a time.
type Session struct {
	id       string
	backend  protocol.Backend
	registry *tools.Registry
	store    *conversation.Store
	emitter  *EventEmitter
	config   Config
	logger   *slog.Logger

	mu     sync.Mutex
	log    []Execution
	closed bool
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSystemPrompt replaces the generated system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(s *Session) {
		s.store = conversation.NewStore(prompt)
	}
}

// NewSession creates a session over backend and registry. A nil cfg means
// DefaultConfig.
func NewSession(backend protocol.Backend, registry *tools.Registry, cfg *Config, opts ...Option) *Session {
	config := DefaultConfig()
	if cfg != nil {
		config = *cfg
	}
	if config.MaxIterations <= 0 {
		config.MaxIterations = DefaultConfig().MaxIterations
	}

	id := uuid.New().String()
	s := &Session{
		id:       id,
		backend:  backend,
		registry: registry,
		config:   config,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.emitter = NewEventEmitter(id, config.EventBuffer)
	s.logger = s.logger.With("session", id)
	if s.store == nil {
		s.store = conversation.NewStore(BuildSystemPrompt(s.root(), modelName(backend), config.UserInstructions))
	}
	return s
}

func (s *Session) root() string {
	if env := s.registry.Environment(); env != nil {
		return env.Sandbox().Root()
	}
	return ""
}

func modelName(b protocol.Backend) string {
	if m, ok := b.(interface{ Model() string }); ok {
		return m.Model()
	}
	return ""
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Config returns the session configuration.
func (s *Session) Config() Config { return s.config }

// History returns a copy of the conversation history.
func (s *Session) History() []conversation.Message {
	return s.store.Messages()
}

// ExecutionLog returns every tool execution since the session started or
// was last reset.
func (s *Session) ExecutionLog() []Execution {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Execution, len(s.log))
	copy(out, s.log)
	return out
}

// Events returns the event channel for the host application.
func (s *Session) Events() <-chan SessionEvent {
	return s.emitter.Events()
}

// Reset truncates the history to the system prompt and clears the
// execution log.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store.Reset()
	s.log = nil
	s.emitter.Emit(EventReset, nil)
}

// Close ends the session and closes the event channel.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.emitter.Emit(EventSessionEnd, nil)
	s.emitter.Close()
}

// Respond runs one user turn to completion: it alternates model calls and
// tool dispatch until the model stops requesting tools or the iteration
// bound is reached. Transport failures and cancellation end the turn in
// StateFailed with a *TurnError carrying the partial text; the returned
// Response is populated in both cases.
func (s *Session) Respond(ctx context.Context, userText string) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	resp := &Response{State: StateAwaitModel}
	var text []string

	fail := func(err error) (*Response, error) {
		resp.State = StateFailed
		resp.Text = strings.Join(text, "\n")
		s.logger.Error("turn failed", "iterations", resp.Iterations, "error", err)
		s.emitter.Emit(EventError, map[string]any{
			"error":        err.Error(),
			"partial_text": resp.Text,
		})
		return resp, &TurnError{Err: err, PartialText: resp.Text, Iterations: resp.Iterations}
	}

	if err := s.store.Append(conversation.UserMessage(userText)); err != nil {
		return fail(err)
	}
	s.emitter.Emit(EventUserInput, map[string]any{"content": userText})

	defs := s.registry.Definitions()
	for !resp.State.Terminal() {
		// Iteration boundaries are the only place a turn can be abandoned.
		if err := ctx.Err(); err != nil {
			return fail(err)
		}

		resp.State = StateAwaitModel
		reply, err := s.backend.Complete(ctx, s.store.Messages(), defs)
		if err != nil {
			return fail(fmt.Errorf("backend %s: %w", s.backend.Name(), err))
		}
		resp.Iterations++

		resp.State = StateHandleResponse
		msg := reply.Message()
		if msg.Content != "" || msg.HasToolCalls() {
			if err := s.store.Append(msg); err != nil {
				return fail(err)
			}
		}
		if reply.Text != "" {
			text = append(text, reply.Text)
			s.emitter.Emit(EventAssistantText, map[string]any{"text": reply.Text})
		}

		if len(reply.ToolCalls) == 0 {
			resp.State = StateDone
			break
		}

		execs := s.executeToolCalls(ctx, reply.ToolCalls, resp.Iterations)
		results := make([]conversation.Message, len(execs))
		for i, e := range execs {
			results[i] = conversation.ToolResultMessage(e.CallID, e.Name, s.renderResult(e.Result))
		}
		if err := s.store.Append(results...); err != nil {
			return fail(err)
		}
		resp.ExecutionLog = append(resp.ExecutionLog, execs...)
		s.log = append(s.log, execs...)

		s.checkLoop()
		s.checkContextUsage()

		if resp.Iterations >= s.config.MaxIterations {
			resp.LimitReached = true
			resp.State = StateDone
			s.logger.Warn("iteration limit reached", "iterations", resp.Iterations)
			s.emitter.Emit(EventIterationLimit, map[string]any{"iterations": resp.Iterations})
		}
	}

	resp.Text = strings.Join(text, "\n")
	return resp, nil
}

// checkLoop warns when the recent tool calls repeat a short pattern.
func (s *Session) checkLoop() {
	window := s.config.LoopDetectionWindow
	if window <= 0 || !DetectLoop(s.store.Messages(), window) {
		return
	}
	msg := fmt.Sprintf("Loop detected: the last %d tool calls follow a repeating pattern.", window)
	s.logger.Warn(msg)
	s.emitter.Emit(EventLoopDetection, map[string]any{"message": msg})
}

// checkContextUsage emits a warning if context usage exceeds 80%.
func (s *Session) checkContextUsage() {
	contextWindow := s.config.ContextWindow
	if contextWindow <= 0 {
		return
	}
	totalChars := 0
	for _, m := range s.store.Messages() {
		totalChars += len(m.Content)
		for _, c := range m.ToolCalls {
			totalChars += len(c.Arguments)
		}
	}

	approxTokens := totalChars / 4
	if approxTokens > contextWindow*8/10 {
		pct := approxTokens * 100 / contextWindow
		s.emitter.Emit(EventWarning, map[string]any{
			"message": fmt.Sprintf("Context usage at ~%d%% of context window", pct),
		})
	}
}
