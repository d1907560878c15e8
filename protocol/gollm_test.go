package protocol

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teilomillet/gollm"

	"github.com/martinemde/puding/conversation"
)

func TestFlattenHistory(t *testing.T) {
	system, body := flattenHistory(sampleHistory())
	assert.Equal(t, "be helpful", system)
	assert.Equal(t, "what is in a.txt?\n"+
		"[Assistant]: Let me look.\n"+
		`[Assistant tool calls]: [{"name":"read_file","arguments":{"file_path":"a.txt"}},{"name":"list_directory","arguments":{}}]`+"\n"+
		`[Tool Result read_file]: {"tool":"read_file","success":true,"result":{"content":"hi"}}`+"\n"+
		"[Tool Result list_directory]: plain text\n"+
		"[Assistant]: It says hi.", body)
}

func TestFlattenHistoryEmpty(t *testing.T) {
	system, body := flattenHistory([]conversation.Message{conversation.SystemMessage("sys")})
	assert.Equal(t, "sys", system)
	assert.Equal(t, "Hello", body)
}

func TestParseTextReply(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		want  string
		calls []conversation.ToolCall
	}{
		{
			name: "plain text",
			text: "Nothing to do.",
			want: "Nothing to do.",
		},
		{
			name: "text then calls",
			text: "I'll read it.\n[{\"name\":\"read_file\",\"arguments\":{\"file_path\":\"a.txt\"}}] trailing",
			want: "I'll read it.",
			calls: []conversation.ToolCall{
				{Name: "read_file", Arguments: `{"file_path":"a.txt"}`},
			},
		},
		{
			name: "string encoded arguments",
			text: `[{"name":"run_command","arguments":"{\"command\": \"ls\"}"}]`,
			calls: []conversation.ToolCall{
				{Name: "run_command", Arguments: `{"command": "ls"}`},
			},
		},
		{
			name: "missing arguments",
			text: `[{"name":"list_directory"}]`,
			calls: []conversation.ToolCall{
				{Name: "list_directory", Arguments: "{}"},
			},
		},
		{
			name: "broken json stays text",
			text: `[{"name":"read_file", oops`,
			want: `[{"name":"read_file", oops`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := parseTextReply(tt.text)
			assert.Equal(t, tt.want, reply.Text)
			require.Len(t, reply.ToolCalls, len(tt.calls))
			for i, c := range tt.calls {
				assert.Equal(t, c.Name, reply.ToolCalls[i].Name)
				assert.Equal(t, c.Arguments, reply.ToolCalls[i].Arguments)
				assert.NotEmpty(t, reply.ToolCalls[i].ID)
			}
		})
	}
}

func TestGollmComplete(t *testing.T) {
	var prompts int
	b := &Gollm{
		provider: "ollama",
		generate: func(_ context.Context, p *gollm.Prompt) (string, error) {
			prompts++
			require.NotNil(t, p)
			return `[{"name":"read_file","arguments":{"file_path":"a.txt"}}]`, nil
		},
		opts: newOptions(nil),
	}

	reply, err := b.Complete(context.Background(), sampleHistory(), sampleDefs())
	require.NoError(t, err)
	assert.Equal(t, 1, prompts)
	require.Len(t, reply.ToolCalls, 1)
	assert.Equal(t, "read_file", reply.ToolCalls[0].Name)
	assert.Equal(t, "ollama", b.Name())
}

func TestGollmCompleteClassifiesErrors(t *testing.T) {
	b := &Gollm{
		provider: "groq",
		generate: func(context.Context, *gollm.Prompt) (string, error) {
			return "", errors.New("invalid api key")
		},
		opts: newOptions([]Option{WithRetryPolicy(fastPolicy(2))}),
	}

	_, err := b.Complete(context.Background(), sampleHistory(), nil)
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "groq", te.Provider)
	assert.Equal(t, 401, te.StatusCode)
}

func TestGollmTools(t *testing.T) {
	out := gollmTools(sampleDefs())
	require.Len(t, out, 1)
	assert.Equal(t, "function", out[0].Type)
	assert.Equal(t, "read_file", out[0].Function.Name)
}
