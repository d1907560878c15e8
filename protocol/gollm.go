package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/teilomillet/gollm"

	"github.com/martinemde/puding/conversation"
	"github.com/martinemde/puding/tools"
)

// Gollm reaches any provider gollm supports (ollama, groq, mistral...)
// through its text interface. Tool calls are recovered from a JSON array
// embedded in the reply.
type Gollm struct {
	provider string
	model    string
	generate func(ctx context.Context, prompt *gollm.Prompt) (string, error)
	opts     options
}

// GollmConfig holds the settings passed to gollm.NewLLM.
type GollmConfig struct {
	Provider    string
	Model       string
	APIKey      string
	MaxTokens   int
	Temperature float64
	Extra       []gollm.ConfigOption
}

// NewGollm creates a text backend. An empty APIKey lets gollm read the
// provider's usual environment variable.
func NewGollm(cfg GollmConfig, opts ...Option) (*Gollm, error) {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	gollmOpts := []gollm.ConfigOption{
		gollm.SetProvider(cfg.Provider),
		gollm.SetModel(cfg.Model),
		gollm.SetMaxTokens(cfg.MaxTokens),
		gollm.SetTemperature(cfg.Temperature),
		gollm.SetMaxRetries(0), // retries happen in Complete
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if cfg.APIKey != "" {
		gollmOpts = append(gollmOpts, gollm.SetAPIKey(cfg.APIKey))
	}
	gollmOpts = append(gollmOpts, cfg.Extra...)

	llm, err := gollm.NewLLM(gollmOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gollm LLM for provider %s: %w", cfg.Provider, err)
	}
	return NewGollmFromLLM(cfg.Provider, cfg.Model, llm, opts...), nil
}

// NewGollmFromLLM wraps an existing gollm.LLM.
func NewGollmFromLLM(provider, model string, llm gollm.LLM, opts ...Option) *Gollm {
	return &Gollm{
		provider: provider,
		model:    model,
		generate: func(ctx context.Context, prompt *gollm.Prompt) (string, error) {
			return llm.Generate(ctx, prompt)
		},
		opts: newOptions(opts),
	}
}

func (b *Gollm) Name() string { return b.provider }

// Model returns the model name passed to gollm.
func (b *Gollm) Model() string { return b.model }

func (b *Gollm) Complete(ctx context.Context, history []conversation.Message, defs []tools.Definition) (*Reply, error) {
	if b.generate == nil {
		return nil, errNoSender
	}
	prompt := b.buildPrompt(history, defs)

	b.opts.logger.Debug("sending gollm prompt", "provider", b.provider, "model", b.model, "messages", len(history), "tools", len(defs))
	text, err := Retry(ctx, b.opts.retryPolicy(b.provider), func(ctx context.Context) (string, error) {
		text, err := b.generate(ctx, prompt)
		return text, ClassifyError(b.provider, err)
	})
	if err != nil {
		return nil, err
	}
	return parseTextReply(text), nil
}

func (b *Gollm) buildPrompt(history []conversation.Message, defs []tools.Definition) *gollm.Prompt {
	system, body := flattenHistory(history)

	var promptOpts []gollm.PromptOption
	if system != "" {
		promptOpts = append(promptOpts, gollm.WithSystemPrompt(system, gollm.CacheTypeEphemeral))
	}
	if len(defs) > 0 {
		promptOpts = append(promptOpts, gollm.WithTools(gollmTools(defs)))
	}
	return gollm.NewPrompt(body, promptOpts...)
}

// flattenHistory folds the history into a system prompt and a single
// transcript, since gollm prompts are not multi-turn.
func flattenHistory(history []conversation.Message) (system, body string) {
	var parts []string
	for _, m := range history {
		switch m.Role {
		case conversation.RoleSystem:
			system = strings.TrimSpace(m.Content)
		case conversation.RoleUser:
			parts = append(parts, m.Content)
		case conversation.RoleAssistant:
			if m.Content != "" {
				parts = append(parts, "[Assistant]: "+m.Content)
			}
			if len(m.ToolCalls) > 0 {
				calls := make([]textToolCall, 0, len(m.ToolCalls))
				for _, c := range m.ToolCalls {
					calls = append(calls, textToolCall{Name: c.Name, Arguments: json.RawMessage(argumentsOrEmpty(c.Arguments))})
				}
				if data, err := json.Marshal(calls); err == nil {
					parts = append(parts, "[Assistant tool calls]: "+string(data))
				}
			}
		case conversation.RoleTool:
			parts = append(parts, fmt.Sprintf("[Tool Result %s]: %s", m.ToolName, m.Content))
		}
	}
	body = strings.Join(parts, "\n")
	if body == "" {
		body = "Hello"
	}
	return system, body
}

func argumentsOrEmpty(raw string) string {
	if json.Valid([]byte(raw)) && strings.TrimSpace(raw) != "" {
		return raw
	}
	return "{}"
}

func gollmTools(defs []tools.Definition) []gollm.Tool {
	out := make([]gollm.Tool, 0, len(defs))
	for _, d := range defs {
		out = append(out, gollm.Tool{
			Type: "function",
			Function: gollm.Function{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			},
		})
	}
	return out
}

type textToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// parseTextReply splits reply text into prose and the tool call array that
// may follow it.
func parseTextReply(text string) *Reply {
	start := strings.Index(text, `[{"name"`)
	if start == -1 {
		return &Reply{Text: text}
	}

	var raw []textToolCall
	dec := json.NewDecoder(strings.NewReader(text[start:]))
	if err := dec.Decode(&raw); err != nil {
		return &Reply{Text: text}
	}

	reply := &Reply{Text: strings.TrimSpace(text[:start])}
	for _, rc := range raw {
		if strings.TrimSpace(rc.Name) == "" {
			continue
		}
		reply.ToolCalls = append(reply.ToolCalls, conversation.ToolCall{
			ID:        NewCallID(),
			Name:      rc.Name,
			Arguments: textArguments(rc.Arguments),
		})
	}
	return reply
}

// textArguments accepts arguments given either as an object or as a string
// holding the encoded object.
func textArguments(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}
