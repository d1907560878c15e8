package agentloop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventEmitterDeliversInOrder(t *testing.T) {
	e := NewEventEmitter("s1", 4)
	e.Emit(EventUserInput, map[string]any{"content": "hi"})
	e.Emit(EventAssistantText, nil)

	first := <-e.Events()
	assert.Equal(t, EventUserInput, first.Kind)
	assert.Equal(t, "s1", first.SessionID)
	assert.Equal(t, "hi", first.Data["content"])
	assert.Equal(t, uint64(1), first.Seq)

	second := <-e.Events()
	assert.Equal(t, EventAssistantText, second.Kind)
	assert.Equal(t, uint64(2), second.Seq)
}

func TestEventEmitterDropsWhenFull(t *testing.T) {
	e := NewEventEmitter("s1", 1)
	e.Emit(EventWarning, nil)
	e.Emit(EventError, nil)
	e.Close()

	var kinds []EventKind
	for ev := range e.Events() {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []EventKind{EventWarning}, kinds)
	assert.Equal(t, uint64(1), e.Dropped())
}

func TestEventEmitterCloseIsIdempotent(t *testing.T) {
	e := NewEventEmitter("s1", 0)
	e.Close()
	require.NotPanics(t, e.Close)
	require.NotPanics(t, func() { e.Emit(EventReset, nil) })
}
