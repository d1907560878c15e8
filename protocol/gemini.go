package protocol

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"google.golang.org/genai"

	"github.com/martinemde/puding/conversation"
	"github.com/martinemde/puding/repair"
	"github.com/martinemde/puding/tools"
)

// RoleFunction is the pseudo-role tool results are submitted under. It
// carries the tool name only; this family has no call correlation.
const RoleFunction = "function"

// ContentSender delivers a generate-content request.
type ContentSender interface {
	Send(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// ContentSenderFunc adapts a function to ContentSender.
type ContentSenderFunc func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)

func (f ContentSenderFunc) Send(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return f(ctx, model, contents, config)
}

// NewGeminiSender sends through client.Models.GenerateContent.
func NewGeminiSender(client *genai.Client) ContentSender {
	return ContentSenderFunc(func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		return client.Models.GenerateContent(ctx, model, contents, config)
	})
}

// Gemini is the inline backend family: tool calls are parts of a model turn
// and results come back under RoleFunction.
type Gemini struct {
	model  string
	sender ContentSender
	opts   options
}

// NewGemini creates an inline backend.
func NewGemini(model string, sender ContentSender, opts ...Option) *Gemini {
	return &Gemini{model: model, sender: sender, opts: newOptions(opts)}
}

func (b *Gemini) Name() string { return "gemini" }

// Model returns the model requested on every call.
func (b *Gemini) Model() string { return b.model }

func (b *Gemini) Complete(ctx context.Context, history []conversation.Message, defs []tools.Definition) (*Reply, error) {
	if b.sender == nil {
		return nil, errNoSender
	}
	contents := b.Serialize(history)
	config := &genai.GenerateContentConfig{}
	if len(defs) > 0 {
		config.Tools = GeminiTools(defs)
	}

	b.opts.logger.Debug("sending generate content", "provider", b.Name(), "model", b.model, "contents", len(contents), "tools", len(defs))
	resp, err := Retry(ctx, b.opts.retryPolicy(b.Name()), func(ctx context.Context) (*genai.GenerateContentResponse, error) {
		resp, err := b.sender.Send(ctx, b.model, contents, config)
		return resp, ClassifyError(b.Name(), err)
	})
	if err != nil {
		return nil, err
	}
	return b.Deserialize(resp)
}

// Serialize converts the canonical history into contents. The system prompt
// becomes the first user turn, and consecutive tool results share one
// RoleFunction content.
func (b *Gemini) Serialize(history []conversation.Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case conversation.RoleSystem, conversation.RoleUser:
			out = append(out, genai.NewContentFromText(m.Content, genai.RoleUser))
		case conversation.RoleAssistant:
			var parts []*genai.Part
			if m.Content != "" {
				parts = append(parts, genai.NewPartFromText(m.Content))
			}
			for _, c := range m.ToolCalls {
				// Stored arguments may be malformed; this family needs an object.
				args, _ := repair.Arguments(c.Arguments)
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{Name: c.Name, Args: args}})
			}
			if len(parts) == 0 {
				parts = append(parts, genai.NewPartFromText(""))
			}
			out = append(out, &genai.Content{Role: genai.RoleModel, Parts: parts})
		case conversation.RoleTool:
			part := &genai.Part{FunctionResponse: &genai.FunctionResponse{
				Name:     m.ToolName,
				Response: functionResponse(m.Content),
			}}
			if n := len(out); n > 0 && out[n-1].Role == RoleFunction {
				out[n-1].Parts = append(out[n-1].Parts, part)
				continue
			}
			out = append(out, &genai.Content{Role: RoleFunction, Parts: []*genai.Part{part}})
		}
	}
	return out
}

// functionResponse decodes a tool result into the object this family
// expects, wrapping non-object content.
func functionResponse(content string) map[string]any {
	var obj map[string]any
	if err := json.Unmarshal([]byte(content), &obj); err == nil && obj != nil {
		return obj
	}
	return map[string]any{"output": content}
}

// Deserialize concatenates the text parts of the first candidate and
// collects its function calls, synthesizing call ids.
func (b *Gemini) Deserialize(resp *genai.GenerateContentResponse) (*Reply, error) {
	if resp == nil {
		return nil, &TransportError{Provider: b.Name(), Message: "empty response"}
	}
	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" {
		msg := "prompt blocked: " + string(fb.BlockReason)
		if fb.BlockReasonMessage != "" {
			msg += ": " + fb.BlockReasonMessage
		}
		return nil, &TransportError{Provider: b.Name(), Message: msg}
	}

	reply := &Reply{}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return reply, nil
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil {
			continue
		}
		if part.Text != "" && !part.Thought {
			text.WriteString(part.Text)
		}
		if fc := part.FunctionCall; fc != nil && strings.TrimSpace(fc.Name) != "" {
			args := fc.Args
			if args == nil {
				args = map[string]any{}
			}
			raw, err := json.Marshal(args)
			if err != nil {
				return nil, &TransportError{Provider: b.Name(), Message: "encode function call arguments: " + err.Error(), Cause: err}
			}
			id := fc.ID
			if id == "" {
				id = NewCallID()
			}
			reply.ToolCalls = append(reply.ToolCalls, conversation.ToolCall{ID: id, Name: fc.Name, Arguments: string(raw)})
		}
	}
	reply.Text = text.String()
	return reply, nil
}

// GeminiTools converts tool definitions into function declarations.
func GeminiTools(defs []tools.Definition) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(defs))
	for _, d := range defs {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  GeminiSchema(d.Parameters),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// GeminiSchema converts a JSON Schema object into a *genai.Schema, keeping
// the subset this family understands.
func GeminiSchema(m map[string]any) *genai.Schema {
	if m == nil {
		return nil
	}
	s := &genai.Schema{}
	if t, ok := m["type"].(string); ok {
		s.Type = genai.Type(strings.ToUpper(t))
	}
	if d, ok := m["description"].(string); ok {
		s.Description = d
	}
	if props, ok := m["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			if pm, ok := raw.(map[string]any); ok {
				s.Properties[name] = GeminiSchema(pm)
			}
		}
	}
	switch req := m["required"].(type) {
	case []any:
		for _, r := range req {
			if name, ok := r.(string); ok {
				s.Required = append(s.Required, name)
			}
		}
	case []string:
		s.Required = append(s.Required, req...)
	}
	sort.Strings(s.Required)
	if items, ok := m["items"].(map[string]any); ok {
		s.Items = GeminiSchema(items)
	}
	if enum, ok := m["enum"].([]any); ok {
		for _, e := range enum {
			if v, ok := e.(string); ok {
				s.Enum = append(s.Enum, v)
			}
		}
	}
	return s
}
