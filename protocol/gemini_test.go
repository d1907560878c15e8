package protocol

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/martinemde/puding/conversation"
)

func TestGeminiSerialize(t *testing.T) {
	b := NewGemini("gemini-2.0-flash-exp", nil)
	history := sampleHistory()
	before := append([]conversation.Message(nil), history...)

	contents := b.Serialize(history)
	assert.Equal(t, before, history)

	// system, user, model, function (two results merged), model
	require.Len(t, contents, 5)

	assert.EqualValues(t, "user", contents[0].Role)
	assert.Equal(t, "be helpful", contents[0].Parts[0].Text)
	assert.EqualValues(t, "user", contents[1].Role)

	model := contents[2]
	assert.EqualValues(t, "model", model.Role)
	require.Len(t, model.Parts, 3)
	assert.Equal(t, "Let me look.", model.Parts[0].Text)
	require.NotNil(t, model.Parts[1].FunctionCall)
	assert.Equal(t, "read_file", model.Parts[1].FunctionCall.Name)
	assert.Equal(t, map[string]any{"file_path": "a.txt"}, model.Parts[1].FunctionCall.Args)
	assert.Equal(t, map[string]any{}, model.Parts[2].FunctionCall.Args)

	results := contents[3]
	assert.EqualValues(t, RoleFunction, results.Role)
	require.Len(t, results.Parts, 2)
	first := results.Parts[0].FunctionResponse
	require.NotNil(t, first)
	assert.Equal(t, "read_file", first.Name)
	assert.Empty(t, first.ID)
	assert.Equal(t, true, first.Response["success"])
	assert.Equal(t, map[string]any{"output": "plain text"}, results.Parts[1].FunctionResponse.Response)

	assert.EqualValues(t, "model", contents[4].Role)
}

func TestGeminiSerializeRepairsStoredArguments(t *testing.T) {
	b := NewGemini("m", nil)
	contents := b.Serialize([]conversation.Message{
		conversation.AssistantMessage("", []conversation.ToolCall{{ID: "c", Name: "run_command", Arguments: "{'command': 'ls',}"}}),
	})
	require.Len(t, contents, 1)
	require.Len(t, contents[0].Parts, 1)
	assert.Equal(t, map[string]any{"command": "ls"}, contents[0].Parts[0].FunctionCall.Args)
}

func TestGeminiDeserialize(t *testing.T) {
	b := NewGemini("m", nil)
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{
				Role: genai.RoleModel,
				Parts: []*genai.Part{
					{Text: "thinking...", Thought: true},
					{Text: "I'll "},
					{Text: "check."},
					{FunctionCall: &genai.FunctionCall{Name: "read_file", Args: map[string]any{"file_path": "a.txt"}}},
					{FunctionCall: &genai.FunctionCall{ID: "fc-2", Name: "list_directory"}},
				},
			},
		}},
	}

	reply, err := b.Deserialize(resp)
	require.NoError(t, err)
	assert.Equal(t, "I'll check.", reply.Text)
	require.Len(t, reply.ToolCalls, 2)
	assert.Regexp(t, `^call_[0-9a-f]{8}$`, reply.ToolCalls[0].ID)
	assert.Equal(t, "read_file", reply.ToolCalls[0].Name)
	assert.JSONEq(t, `{"file_path":"a.txt"}`, reply.ToolCalls[0].Arguments)
	assert.Equal(t, conversation.ToolCall{ID: "fc-2", Name: "list_directory", Arguments: "{}"}, reply.ToolCalls[1])
}

func TestGeminiDeserializeBlocked(t *testing.T) {
	b := NewGemini("m", nil)
	_, err := b.Deserialize(&genai.GenerateContentResponse{
		PromptFeedback: &genai.GenerateContentResponsePromptFeedback{BlockReason: genai.BlockedReasonSafety},
	})
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Contains(t, te.Message, "prompt blocked")
	assert.False(t, te.Retryable)
}

func TestGeminiDeserializeEmpty(t *testing.T) {
	b := NewGemini("m", nil)
	reply, err := b.Deserialize(&genai.GenerateContentResponse{})
	require.NoError(t, err)
	assert.Empty(t, reply.Text)
	assert.Empty(t, reply.ToolCalls)
}

func TestGeminiComplete(t *testing.T) {
	var (
		gotModel    string
		gotContents []*genai.Content
		gotConfig   *genai.GenerateContentConfig
	)
	sender := ContentSenderFunc(func(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		gotModel, gotContents, gotConfig = model, contents, config
		return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
			Content: &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{{Text: "done"}}},
		}}}, nil
	})
	b := NewGemini("gemini-2.0-flash-exp", sender)

	reply, err := b.Complete(context.Background(), sampleHistory(), sampleDefs())
	require.NoError(t, err)
	assert.Equal(t, "done", reply.Text)
	assert.Equal(t, "gemini-2.0-flash-exp", gotModel)
	assert.Len(t, gotContents, 5)
	require.Len(t, gotConfig.Tools, 1)
	require.Len(t, gotConfig.Tools[0].FunctionDeclarations, 1)
	decl := gotConfig.Tools[0].FunctionDeclarations[0]
	assert.Equal(t, "read_file", decl.Name)
	assert.Equal(t, genai.TypeObject, decl.Parameters.Type)
	assert.Equal(t, []string{"file_path"}, decl.Parameters.Required)
	assert.Equal(t, genai.TypeString, decl.Parameters.Properties["file_path"].Type)
	assert.Equal(t, "Path to the file to read", decl.Parameters.Properties["file_path"].Description)
}

func TestGeminiSchemaArrays(t *testing.T) {
	s := GeminiSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"files": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":       "object",
					"properties": map[string]any{"path": map[string]any{"type": "string"}},
					"required":   []any{"path"},
				},
			},
		},
	})
	files := s.Properties["files"]
	require.NotNil(t, files)
	assert.Equal(t, genai.TypeArray, files.Type)
	require.NotNil(t, files.Items)
	assert.Equal(t, genai.TypeObject, files.Items.Type)
	assert.Equal(t, []string{"path"}, files.Items.Required)
}
