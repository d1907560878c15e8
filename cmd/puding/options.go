package main

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Options are the command line flags, parsed by go-flags.
type Options struct {
	Root    string   `short:"r" long:"root" description:"directory the agent may read and write" default:"."`
	Config  string   `short:"f" long:"config" description:"session config YAML path"`
	Query   string   `short:"q" long:"query" description:"run a single query and exit"`
	Add     []string `short:"a" long:"add" description:"file or directory to add to the context before the first query"`
	Verbose bool     `short:"v" long:"verbose" description:"log tool calls and retries to stderr"`
}

// ProviderEnv holds backend settings read from the environment.
type ProviderEnv struct {
	Provider      string `env:"LLM_PROVIDER" envDefault:"deepseek"`
	OpenAIAPIKey  string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL"`
	OpenAIModel   string `env:"OPENAI_MODEL"`
	GeminiAPIKey  string `env:"GEMINI_API_KEY"`
	GeminiModel   string `env:"GEMINI_MODEL" envDefault:"gemini-2.0-flash-exp"`
	GollmProvider string `env:"GOLLM_PROVIDER" envDefault:"ollama"`
	GollmModel    string `env:"GOLLM_MODEL" envDefault:"llama3.1"`
	GollmAPIKey   string `env:"GOLLM_API_KEY"`
}

// loadProviderEnv reads ProviderEnv from environ, as returned by
// env.ToMap(os.Environ()).
func loadProviderEnv(environ map[string]string) (ProviderEnv, error) {
	var pe ProviderEnv
	if err := env.ParseWithOptions(&pe, env.Options{Environment: environ}); err != nil {
		return pe, fmt.Errorf("read provider environment: %w", err)
	}
	return pe, nil
}
