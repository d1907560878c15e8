package agentloop

import (
	"sync"
	"time"
)

// EventKind names a session event.
type EventKind string

const (
	EventUserInput      EventKind = "user_input"
	EventAssistantText  EventKind = "assistant_text"
	EventToolCallStart  EventKind = "tool_call_start"
	EventToolCallEnd    EventKind = "tool_call_end"
	EventArgumentRepair EventKind = "argument_repair"
	EventIterationLimit EventKind = "iteration_limit"
	EventLoopDetection  EventKind = "loop_detection"
	EventWarning        EventKind = "warning"
	EventError          EventKind = "error"
	EventContextAdded   EventKind = "context_added"
	EventReset          EventKind = "reset"
	EventSessionEnd     EventKind = "session_end"
)

// SessionEvent is one observable step of a session. Seq increases by one
// per emitted event, so a gap tells a reader that events were dropped.
type SessionEvent struct {
	Seq       uint64         `json:"seq"`
	Kind      EventKind      `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"session_id"`
	Data      map[string]any `json:"data,omitempty"`
}

// EventEmitter fans session events out to a single buffered channel.
// Emit never blocks: when the reader falls behind, events are counted and
// discarded.
type EventEmitter struct {
	mu        sync.Mutex
	sessionID string
	ch        chan SessionEvent
	seq       uint64
	dropped   uint64
	closed    bool
}

// NewEventEmitter creates an emitter; a non-positive bufferSize means 256.
func NewEventEmitter(sessionID string, bufferSize int) *EventEmitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &EventEmitter{sessionID: sessionID, ch: make(chan SessionEvent, bufferSize)}
}

// Emit publishes an event unless the emitter is closed.
func (e *EventEmitter) Emit(kind EventKind, data map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.seq++
	select {
	case e.ch <- SessionEvent{Seq: e.seq, Kind: kind, Timestamp: time.Now(), SessionID: e.sessionID, Data: data}:
	default:
		e.dropped++
	}
}

// Events returns the channel events are delivered on. It is closed by Close.
func (e *EventEmitter) Events() <-chan SessionEvent { return e.ch }

// Dropped returns how many events were discarded because the buffer was
// full.
func (e *EventEmitter) Dropped() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}

// Close closes the channel. Later calls are no-ops.
func (e *EventEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	close(e.ch)
}
