package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/puding/conversation"
	"github.com/martinemde/puding/protocol"
	"github.com/martinemde/puding/sandbox"
	"github.com/martinemde/puding/tools"
)

// scriptedBackend answers each Complete call with step(n, history), where n
// counts calls from zero.
type scriptedBackend struct {
	mu        sync.Mutex
	step      func(n int, history []conversation.Message) (*protocol.Reply, error)
	histories [][]conversation.Message
}

func (b *scriptedBackend) Name() string  { return "scripted" }
func (b *scriptedBackend) Model() string { return "scripted-1" }

func (b *scriptedBackend) Complete(_ context.Context, history []conversation.Message, _ []tools.Definition) (*protocol.Reply, error) {
	b.mu.Lock()
	n := len(b.histories)
	b.histories = append(b.histories, history)
	b.mu.Unlock()
	return b.step(n, history)
}

func (b *scriptedBackend) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.histories)
}

func textReply(text string) *protocol.Reply {
	return &protocol.Reply{Text: text}
}

func callReply(text string, calls ...conversation.ToolCall) *protocol.Reply {
	return &protocol.Reply{Text: text, ToolCalls: calls}
}

func newTestSession(t *testing.T, backend protocol.Backend, cfg *Config, extra ...tools.Descriptor) (*Session, string) {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	sb, err := sandbox.New(dir)
	require.NoError(t, err)
	reg := tools.NewRegistry(tools.NewEnvironment(sb), extra...)
	s := NewSession(backend, reg, cfg)
	t.Cleanup(s.Close)
	return s, dir
}

func drainEvents(s *Session) []EventKind {
	var kinds []EventKind
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return kinds
			}
			kinds = append(kinds, ev.Kind)
		default:
			return kinds
		}
	}
}

func TestRespondWithoutToolCalls(t *testing.T) {
	backend := &scriptedBackend{step: func(int, []conversation.Message) (*protocol.Reply, error) {
		return textReply("Hello there."), nil
	}}
	s, _ := newTestSession(t, backend, nil)

	resp, err := s.Respond(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "Hello there.", resp.Text)
	assert.Equal(t, 1, resp.Iterations)
	assert.Equal(t, StateDone, resp.State)
	assert.False(t, resp.LimitReached)
	assert.Empty(t, resp.ExecutionLog)

	history := s.History()
	require.Len(t, history, 3)
	assert.Equal(t, conversation.RoleSystem, history[0].Role)
	assert.Equal(t, conversation.RoleUser, history[1].Role)
	assert.Equal(t, "Hello there.", history[2].Content)
}

func TestRespondStopsAtIterationLimit(t *testing.T) {
	backend := &scriptedBackend{step: func(n int, _ []conversation.Message) (*protocol.Reply, error) {
		return callReply("", conversation.ToolCall{
			ID: fmt.Sprintf("call_%d", n), Name: tools.ListDirectory, Arguments: `{}`,
		}), nil
	}}
	s, _ := newTestSession(t, backend, nil)

	resp, err := s.Respond(context.Background(), "loop forever")
	require.NoError(t, err)
	assert.Equal(t, 10, backend.calls())
	assert.Equal(t, 10, resp.Iterations)
	assert.True(t, resp.LimitReached)
	assert.Equal(t, StateDone, resp.State)
	assert.Len(t, resp.ExecutionLog, 10)
	assert.Equal(t, 10, resp.ExecutionLog[9].Iteration)

	// system + user + 10 x (assistant + tool result)
	assert.Len(t, s.History(), 22)

	kinds := drainEvents(s)
	assert.Contains(t, kinds, EventIterationLimit)
	assert.Contains(t, kinds, EventLoopDetection)
}

func TestRespondHonoursConfiguredLimit(t *testing.T) {
	backend := &scriptedBackend{step: func(n int, _ []conversation.Message) (*protocol.Reply, error) {
		return callReply("", conversation.ToolCall{ID: fmt.Sprintf("c%d", n), Name: tools.ListDirectory, Arguments: `{}`}), nil
	}}
	cfg := DefaultConfig()
	cfg.MaxIterations = 3
	s, _ := newTestSession(t, backend, &cfg)

	resp, err := s.Respond(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Iterations)
	assert.Equal(t, 3, backend.calls())
}

func TestRespondTransportErrorKeepsPartialText(t *testing.T) {
	backend := &scriptedBackend{step: func(n int, _ []conversation.Message) (*protocol.Reply, error) {
		if n == 0 {
			return callReply("Working on it.", conversation.ToolCall{ID: "c1", Name: tools.ListDirectory, Arguments: `{}`}), nil
		}
		return nil, &protocol.TransportError{Provider: "scripted", StatusCode: 503, Message: "unavailable", Retryable: true}
	}}
	s, _ := newTestSession(t, backend, nil)

	resp, err := s.Respond(context.Background(), "do it")
	require.Error(t, err)

	var turnErr *TurnError
	require.ErrorAs(t, err, &turnErr)
	assert.Equal(t, "Working on it.", turnErr.PartialText)
	assert.Equal(t, 1, turnErr.Iterations)

	var transportErr *protocol.TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, 503, transportErr.StatusCode)

	require.NotNil(t, resp)
	assert.Equal(t, StateFailed, resp.State)
	assert.Equal(t, "Working on it.", resp.Text)
	assert.Len(t, resp.ExecutionLog, 1)
	assert.Contains(t, drainEvents(s), EventError)
}

func TestRespondCancelledContext(t *testing.T) {
	backend := &scriptedBackend{step: func(int, []conversation.Message) (*protocol.Reply, error) {
		return textReply("unreachable"), nil
	}}
	s, _ := newTestSession(t, backend, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resp, err := s.Respond(ctx, "hi")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateFailed, resp.State)
	assert.Zero(t, backend.calls())
}

func TestRespondUnknownToolContinues(t *testing.T) {
	backend := &scriptedBackend{step: func(n int, history []conversation.Message) (*protocol.Reply, error) {
		if n == 0 {
			return callReply("", conversation.ToolCall{ID: "c1", Name: "teleport", Arguments: `{}`}), nil
		}
		last := history[len(history)-1]
		if last.Role != conversation.RoleTool || last.ToolCallID != "c1" {
			return nil, errors.New("tool result missing from history")
		}
		return textReply("That tool does not exist."), nil
	}}
	s, _ := newTestSession(t, backend, nil)

	resp, err := s.Respond(context.Background(), "teleport me")
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Iterations)
	require.Len(t, resp.ExecutionLog, 1)
	assert.False(t, resp.ExecutionLog[0].Result.OK)
	assert.Equal(t, tools.KindUnknownTool, resp.ExecutionLog[0].Result.Kind)

	history := s.History()
	assert.Contains(t, history[3].Content, "Unknown tool: teleport")
	assert.Equal(t, "teleport", history[3].ToolName)
}

func TestRespondRepairsArguments(t *testing.T) {
	backend := &scriptedBackend{step: func(n int, _ []conversation.Message) (*protocol.Reply, error) {
		if n == 0 {
			return callReply("", conversation.ToolCall{
				ID: "c1", Name: tools.CreateFile, Arguments: `{file_path: 'notes.txt', 'content': 'hi',}`,
			}), nil
		}
		return textReply("Created."), nil
	}}
	s, dir := newTestSession(t, backend, nil)

	resp, err := s.Respond(context.Background(), "make notes")
	require.NoError(t, err)
	require.Len(t, resp.ExecutionLog, 1)
	exec := resp.ExecutionLog[0]
	assert.NoError(t, exec.RepairError)
	assert.Equal(t, "notes.txt", exec.Arguments["file_path"])
	assert.True(t, exec.Result.OK)

	data, err := os.ReadFile(filepath.Join(dir, "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))
}

func TestRespondUnrepairableArgumentsRunWithEmptyArguments(t *testing.T) {
	backend := &scriptedBackend{step: func(n int, _ []conversation.Message) (*protocol.Reply, error) {
		if n == 0 {
			return callReply("", conversation.ToolCall{ID: "c1", Name: tools.ReadFile, Arguments: `not json at all`}), nil
		}
		return textReply("ok"), nil
	}}
	s, _ := newTestSession(t, backend, nil)

	resp, err := s.Respond(context.Background(), "read")
	require.NoError(t, err)
	exec := resp.ExecutionLog[0]
	assert.Error(t, exec.RepairError)
	assert.Empty(t, exec.Arguments)
	assert.Equal(t, tools.KindValidation, exec.Result.Kind)
	assert.Contains(t, drainEvents(s), EventArgumentRepair)
}

func TestRespondSandboxViolationIsToolFailure(t *testing.T) {
	backend := &scriptedBackend{step: func(n int, _ []conversation.Message) (*protocol.Reply, error) {
		if n == 0 {
			return callReply("", conversation.ToolCall{ID: "c1", Name: tools.ReadFile, Arguments: `{"file_path":"../../etc/passwd"}`}), nil
		}
		return textReply("I cannot read that."), nil
	}}
	s, _ := newTestSession(t, backend, nil)

	resp, err := s.Respond(context.Background(), "read passwd")
	require.NoError(t, err)
	assert.Equal(t, StateDone, resp.State)
	assert.Equal(t, tools.KindSandboxViolation, resp.ExecutionLog[0].Result.Kind)
}

func waitTool() tools.Descriptor {
	return tools.Descriptor{
		Definition: tools.Definition{Name: "wait", Description: "Sleep then echo a tag"},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			ms, _ := args["ms"].(float64)
			select {
			case <-time.After(time.Duration(ms) * time.Millisecond):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return args["tag"], nil
		},
	}
}

func TestRespondParallelDispatchKeepsRequestOrder(t *testing.T) {
	backend := &scriptedBackend{step: func(n int, _ []conversation.Message) (*protocol.Reply, error) {
		if n == 0 {
			return callReply("",
				conversation.ToolCall{ID: "c1", Name: "wait", Arguments: `{"ms": 80, "tag": "first"}`},
				conversation.ToolCall{ID: "c2", Name: "wait", Arguments: `{"ms": 40, "tag": "second"}`},
				conversation.ToolCall{ID: "c3", Name: "wait", Arguments: `{"ms": 0, "tag": "third"}`},
			), nil
		}
		return textReply("done"), nil
	}}
	cfg := DefaultConfig()
	cfg.ParallelTools = true
	s, _ := newTestSession(t, backend, &cfg, waitTool())

	resp, err := s.Respond(context.Background(), "wait")
	require.NoError(t, err)
	require.Len(t, resp.ExecutionLog, 3)

	history := s.History()
	results := history[3:6]
	for i, want := range []string{"first", "second", "third"} {
		assert.Equal(t, conversation.RoleTool, results[i].Role)
		assert.Equal(t, fmt.Sprintf("c%d", i+1), results[i].ToolCallID)
		assert.Contains(t, results[i].Content, want)
		assert.Equal(t, fmt.Sprintf("c%d", i+1), resp.ExecutionLog[i].CallID)
	}
}

func TestHistoryIsAppendOnly(t *testing.T) {
	backend := &scriptedBackend{step: func(n int, _ []conversation.Message) (*protocol.Reply, error) {
		if n%2 == 0 {
			return callReply("", conversation.ToolCall{ID: fmt.Sprintf("c%d", n), Name: tools.ListDirectory, Arguments: `{}`}), nil
		}
		return textReply(fmt.Sprintf("reply %d", n)), nil
	}}
	s, _ := newTestSession(t, backend, nil)
	initial := len(s.History())

	_, err := s.Respond(context.Background(), "one")
	require.NoError(t, err)
	first := s.History()

	_, err = s.Respond(context.Background(), "two")
	require.NoError(t, err)
	second := s.History()

	assert.GreaterOrEqual(t, len(second), initial+2*2)
	assert.Equal(t, first, second[:len(first)])
}

func TestResetKeepsSystemPrompt(t *testing.T) {
	backend := &scriptedBackend{step: func(n int, _ []conversation.Message) (*protocol.Reply, error) {
		if n == 0 {
			return callReply("", conversation.ToolCall{ID: "c1", Name: tools.ListDirectory, Arguments: `{}`}), nil
		}
		return textReply("ok"), nil
	}}
	s, _ := newTestSession(t, backend, nil)
	system := s.History()[0]

	_, err := s.Respond(context.Background(), "hi")
	require.NoError(t, err)
	require.NotEmpty(t, s.ExecutionLog())

	s.Reset()
	history := s.History()
	require.Len(t, history, 1)
	assert.Equal(t, system, history[0])
	assert.Empty(t, s.ExecutionLog())
	assert.Contains(t, drainEvents(s), EventReset)
}

func TestSystemPromptIncludesEnvironmentAndInstructions(t *testing.T) {
	backend := &scriptedBackend{step: func(int, []conversation.Message) (*protocol.Reply, error) {
		return textReply("ok"), nil
	}}
	cfg := DefaultConfig()
	cfg.UserInstructions = "Always answer in French."
	s, dir := newTestSession(t, backend, &cfg)

	prompt := s.History()[0].Content
	assert.True(t, strings.HasPrefix(prompt, BasePrompt))
	assert.Contains(t, prompt, "Working directory: "+dir)
	assert.Contains(t, prompt, "Model: scripted-1")
	assert.True(t, strings.HasSuffix(prompt, "Always answer in French."))
}

func TestClosedSessionRejectsTurns(t *testing.T) {
	backend := &scriptedBackend{step: func(int, []conversation.Message) (*protocol.Reply, error) {
		return textReply("ok"), nil
	}}
	s, _ := newTestSession(t, backend, nil)
	s.Close()

	_, err := s.Respond(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrClosed)

	_, err = s.AddToContext(".")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRunCommandOutputIsTruncatedInHistory(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a POSIX shell")
	}
	backend := &scriptedBackend{step: func(n int, _ []conversation.Message) (*protocol.Reply, error) {
		if n == 0 {
			return callReply("", conversation.ToolCall{ID: "c1", Name: tools.RunCommand, Arguments: `{"command":"seq 1 50"}`}), nil
		}
		return textReply("ok"), nil
	}}
	cfg := DefaultConfig()
	cfg.ToolOutputLimits = map[string]int{tools.RunCommand: 10}
	s, _ := newTestSession(t, backend, &cfg)

	resp, err := s.Respond(context.Background(), "run")
	require.NoError(t, err)

	full, ok := resp.ExecutionLog[0].Result.Payload.(*tools.ExecResult)
	require.True(t, ok)
	assert.Contains(t, full.Stdout, "\n25\n")

	var stored struct {
		Result tools.ExecResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal([]byte(s.History()[3].Content), &stored))
	assert.Contains(t, stored.Result.Stdout, "WARNING: Tool output was truncated")
	assert.NotContains(t, stored.Result.Stdout, "\n25\n")
	assert.Equal(t, "seq 1 50", stored.Result.Command)
}
