package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/martinemde/puding/conversation"
	"github.com/martinemde/puding/tools"
)

// sampleHistory covers every role, including an assistant turn with two
// tool calls answered by two results.
func sampleHistory() []conversation.Message {
	return []conversation.Message{
		conversation.SystemMessage("be helpful"),
		conversation.UserMessage("what is in a.txt?"),
		conversation.AssistantMessage("Let me look.", []conversation.ToolCall{
			{ID: "call_1", Name: "read_file", Arguments: `{"file_path":"a.txt"}`},
			{ID: "call_2", Name: "list_directory", Arguments: `{}`},
		}),
		conversation.ToolResultMessage("call_1", "read_file", `{"tool":"read_file","success":true,"result":{"content":"hi"}}`),
		conversation.ToolResultMessage("call_2", "list_directory", "plain text"),
		conversation.AssistantMessage("It says hi.", nil),
	}
}

func sampleDefs() []tools.Definition {
	return []tools.Definition{{
		Name:        "read_file",
		Description: "Read the content of a single file",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"file_path": map[string]any{"type": "string", "description": "Path to the file to read"},
			},
			"required": []any{"file_path"},
		},
	}}
}

// wire marshals v and decodes it generically so tests can inspect the
// encoded request without depending on SDK field layouts.
func wire(t *testing.T, v any) any {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	var out any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}
