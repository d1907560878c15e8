package protocol

import "strings"

// Provider names accepted by the CLI. OpenAI-compatible services share
// Family A; gollm covers whatever the gollm library can reach.
const (
	ProviderOpenAI   = "openai"
	ProviderDeepSeek = "deepseek"
	ProviderQwen     = "qwen"
	ProviderGemini   = "gemini"
	ProviderGollm    = "gollm"
)

// ModelInfo describes a model the agent is known to work with.
type ModelInfo struct {
	ID            string   `json:"id"`
	Provider      string   `json:"provider"`
	ContextWindow int      `json:"context_window"`
	SupportsTools bool     `json:"supports_tools"`
	BaseURL       string   `json:"base_url,omitempty"` // OpenAI-compatible endpoint
	Aliases       []string `json:"aliases,omitempty"`
}

// Models is the built-in catalog. The first entry for a provider is its
// default.
var Models = []ModelInfo{
	{
		ID: "deepseek-coder", Provider: ProviderDeepSeek, ContextWindow: 128000, SupportsTools: true,
		BaseURL: "https://api.deepseek.com/v1", Aliases: []string{"deepseek"},
	},
	{
		ID: "deepseek-chat", Provider: ProviderDeepSeek, ContextWindow: 128000, SupportsTools: true,
		BaseURL: "https://api.deepseek.com/v1",
	},
	{
		ID: "qwen-plus", Provider: ProviderQwen, ContextWindow: 131072, SupportsTools: true,
		BaseURL: "https://dashscope-intl.aliyuncs.com/compatible-mode/v1", Aliases: []string{"qwen"},
	},
	{
		ID: "qwen2.5-coder-32b-instruct", Provider: ProviderQwen, ContextWindow: 131072, SupportsTools: true,
		BaseURL: "https://dashscope-intl.aliyuncs.com/compatible-mode/v1", Aliases: []string{"qwen-coder"},
	},
	{ID: "gpt-4o", Provider: ProviderOpenAI, ContextWindow: 128000, SupportsTools: true},
	{ID: "gpt-4o-mini", Provider: ProviderOpenAI, ContextWindow: 128000, SupportsTools: true},
	{
		ID: "gemini-2.0-flash-exp", Provider: ProviderGemini, ContextWindow: 1048576, SupportsTools: true,
		Aliases: []string{"gemini-flash"},
	},
	{ID: "gemini-1.5-pro", Provider: ProviderGemini, ContextWindow: 2097152, SupportsTools: true},
}

// LookupModel finds a catalog entry by id or alias, ignoring case.
func LookupModel(id string) (ModelInfo, bool) {
	for _, m := range Models {
		if strings.EqualFold(m.ID, id) {
			return m, true
		}
		for _, alias := range m.Aliases {
			if strings.EqualFold(alias, id) {
				return m, true
			}
		}
	}
	return ModelInfo{}, false
}

// DefaultModel returns the preferred model for a provider.
func DefaultModel(provider string) (ModelInfo, bool) {
	for _, m := range Models {
		if m.Provider == provider {
			return m, true
		}
	}
	return ModelInfo{}, false
}

// Family reports which wire family a provider speaks: "openai" for the
// chat-completions shape, "gemini" for the contents shape and "gollm" for
// the text transport.
func Family(provider string) string {
	switch strings.ToLower(provider) {
	case ProviderOpenAI, ProviderDeepSeek, ProviderQwen:
		return ProviderOpenAI
	case ProviderGemini:
		return ProviderGemini
	default:
		return ProviderGollm
	}
}
