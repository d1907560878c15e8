package conversation

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrSystemMessage is returned when a second system message is appended.
	ErrSystemMessage = errors.New("conversation: system message is fixed at the start of the history")
	// ErrInvalidMessage is returned for messages whose fields do not match their role.
	ErrInvalidMessage = errors.New("conversation: invalid message")
)

// Store is an ordered, append-only message history. The first message is
// always the single system message; Reset truncates back to it.
type Store struct {
	mu       sync.RWMutex
	messages []Message
}

// NewStore creates a Store seeded with the system prompt.
func NewStore(systemPrompt string) *Store {
	return &Store{messages: []Message{SystemMessage(systemPrompt)}}
}

// Append adds messages to the end of the history. Either all messages are
// appended or none are.
func (s *Store) Append(msgs ...Message) error {
	for i, m := range msgs {
		if err := validate(m); err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range msgs {
		s.messages = append(s.messages, m.clone())
	}
	return nil
}

// Messages returns a copy of the full history, system message first.
func (s *Store) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.clone()
	}
	return out
}

// Len returns the number of messages including the system message.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// System returns the system message.
func (s *Store) System() Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.messages[0]
}

// Reset truncates the history to the system message.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = s.messages[:1:1]
}

func validate(m Message) error {
	switch m.Role {
	case RoleSystem:
		return ErrSystemMessage
	case RoleUser:
		if len(m.ToolCalls) > 0 || m.ToolCallID != "" || m.ToolName != "" {
			return fmt.Errorf("%w: user message carries tool fields", ErrInvalidMessage)
		}
	case RoleAssistant:
		if m.ToolCallID != "" || m.ToolName != "" {
			return fmt.Errorf("%w: assistant message carries tool result fields", ErrInvalidMessage)
		}
		for _, c := range m.ToolCalls {
			if c.Name == "" {
				return fmt.Errorf("%w: tool call without a name", ErrInvalidMessage)
			}
		}
	case RoleTool:
		if len(m.ToolCalls) > 0 {
			return fmt.Errorf("%w: tool result carries tool calls", ErrInvalidMessage)
		}
		if m.ToolName == "" {
			return fmt.Errorf("%w: tool result without a tool name", ErrInvalidMessage)
		}
	default:
		return fmt.Errorf("%w: unknown role %q", ErrInvalidMessage, m.Role)
	}
	return nil
}
