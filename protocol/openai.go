package protocol

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"

	"github.com/martinemde/puding/conversation"
	"github.com/martinemde/puding/tools"
)

// ChatSender delivers a chat completion request.
type ChatSender interface {
	Send(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
}

// ChatSenderFunc adapts a function to ChatSender.
type ChatSenderFunc func(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)

func (f ChatSenderFunc) Send(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	return f(ctx, params)
}

// NewOpenAISender sends through the Chat Completions endpoint of an
// OpenAI-compatible server.
func NewOpenAISender(client openai.Client) ChatSender {
	return ChatSenderFunc(func(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
		return client.Chat.Completions.New(ctx, params)
	})
}

// OpenAI is the turn-based backend family: tool calls and tool results are
// separate messages correlated by call id.
type OpenAI struct {
	provider string
	model    string
	sender   ChatSender
	opts     options
}

// NewOpenAI creates a turn-based backend. provider only labels logs and
// errors (openai, deepseek, qwen...).
func NewOpenAI(provider, model string, sender ChatSender, opts ...Option) *OpenAI {
	if provider == "" {
		provider = "openai"
	}
	return &OpenAI{
		provider: provider,
		model:    model,
		sender:   sender,
		opts:     newOptions(opts),
	}
}

func (b *OpenAI) Name() string { return b.provider }

// Model returns the model requested on every call.
func (b *OpenAI) Model() string { return b.model }

func (b *OpenAI) Complete(ctx context.Context, history []conversation.Message, defs []tools.Definition) (*Reply, error) {
	if b.sender == nil {
		return nil, errNoSender
	}
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(b.model),
		Messages: b.Serialize(history),
	}
	if len(defs) > 0 {
		params.Tools = OpenAITools(defs)
	}

	b.opts.logger.Debug("sending chat completion", "provider", b.provider, "model", b.model, "messages", len(params.Messages), "tools", len(params.Tools))
	resp, err := Retry(ctx, b.opts.retryPolicy(b.provider), func(ctx context.Context) (*openai.ChatCompletion, error) {
		resp, err := b.sender.Send(ctx, params)
		return resp, ClassifyError(b.provider, err)
	})
	if err != nil {
		return nil, err
	}
	return b.Deserialize(resp)
}

// Serialize converts the canonical history into chat completion messages.
func (b *OpenAI) Serialize(history []conversation.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case conversation.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case conversation.RoleUser:
			out = append(out, openai.UserMessage(m.Content))
		case conversation.RoleAssistant:
			if len(m.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(m.Content))
				continue
			}
			calls := make([]openai.ChatCompletionMessageToolCallParam, 0, len(m.ToolCalls))
			for _, c := range m.ToolCalls {
				calls = append(calls, openai.ChatCompletionMessageToolCallParam{
					ID: c.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      c.Name,
						Arguments: c.Arguments,
					},
				})
			}
			assistant := openai.ChatCompletionAssistantMessageParam{ToolCalls: calls}
			if m.Content != "" {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(m.Content)}
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case conversation.RoleTool:
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		}
	}
	return out
}

// Deserialize extracts the text and tool calls of the first choice. Calls
// without an id get one synthesized so their results can be correlated.
func (b *OpenAI) Deserialize(resp *openai.ChatCompletion) (*Reply, error) {
	if resp == nil {
		return nil, &TransportError{Provider: b.provider, Message: "empty response"}
	}
	if len(resp.Choices) == 0 {
		return nil, &TransportError{Provider: b.provider, Message: "response has no choices", Retryable: true}
	}
	msg := resp.Choices[0].Message
	reply := &Reply{Text: msg.Content}
	for _, tc := range msg.ToolCalls {
		name := strings.TrimSpace(tc.Function.Name)
		if name == "" {
			b.opts.logger.Warn("dropping tool call without a name", "provider", b.provider, "id", tc.ID)
			continue
		}
		id := tc.ID
		if id == "" {
			id = NewCallID()
		}
		reply.ToolCalls = append(reply.ToolCalls, conversation.ToolCall{
			ID:        id,
			Name:      name,
			Arguments: tc.Function.Arguments,
		})
	}
	return reply, nil
}

// OpenAITools converts tool definitions into chat completion tool params.
func OpenAITools(defs []tools.Definition) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(defs))
	for _, d := range defs {
		fn := shared.FunctionDefinitionParam{
			Name:        d.Name,
			Description: openai.String(d.Description),
		}
		if d.Parameters != nil {
			fn.Parameters = shared.FunctionParameters(d.Parameters)
		}
		out = append(out, openai.ChatCompletionToolParam{Function: fn})
	}
	return out
}

// errNoSender is returned by backends constructed without a transport.
var errNoSender = errors.New("protocol: no sender configured")
