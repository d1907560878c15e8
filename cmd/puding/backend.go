package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"google.golang.org/genai"

	"github.com/martinemde/puding/protocol"
)

var errMissingKey = errors.New("missing API key")

// backendSpec is the resolved provider, model and endpoint for a session.
type backendSpec struct {
	Provider      string
	Model         string
	BaseURL       string
	ContextWindow int
}

// resolveBackend picks the model and endpoint for the configured provider,
// filling gaps from the model catalog.
func resolveBackend(pe ProviderEnv) backendSpec {
	provider := strings.ToLower(strings.TrimSpace(pe.Provider))
	spec := backendSpec{Provider: provider}

	switch protocol.Family(provider) {
	case protocol.ProviderOpenAI:
		spec.Model = pe.OpenAIModel
		spec.BaseURL = pe.OpenAIBaseURL
		if def, ok := protocol.DefaultModel(provider); ok {
			if spec.Model == "" {
				spec.Model = def.ID
			}
			if spec.BaseURL == "" {
				spec.BaseURL = def.BaseURL
			}
		}
	case protocol.ProviderGemini:
		spec.Model = pe.GeminiModel
	default:
		spec.Provider = pe.GollmProvider
		spec.Model = pe.GollmModel
	}

	if m, ok := protocol.LookupModel(spec.Model); ok {
		spec.ContextWindow = m.ContextWindow
	}
	return spec
}

func newBackend(ctx context.Context, pe ProviderEnv, spec backendSpec, logger *slog.Logger) (protocol.Backend, error) {
	opts := []protocol.Option{protocol.WithLogger(logger)}

	switch protocol.Family(pe.Provider) {
	case protocol.ProviderOpenAI:
		if pe.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("%w: set OPENAI_API_KEY for provider %s", errMissingKey, spec.Provider)
		}
		clientOpts := []option.RequestOption{
			option.WithAPIKey(pe.OpenAIAPIKey),
			option.WithMaxRetries(0),
		}
		if spec.BaseURL != "" {
			clientOpts = append(clientOpts, option.WithBaseURL(spec.BaseURL))
		}
		client := openai.NewClient(clientOpts...)
		return protocol.NewOpenAI(spec.Provider, spec.Model, protocol.NewOpenAISender(client), opts...), nil

	case protocol.ProviderGemini:
		if pe.GeminiAPIKey == "" {
			return nil, fmt.Errorf("%w: set GEMINI_API_KEY", errMissingKey)
		}
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  pe.GeminiAPIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("create gemini client: %w", err)
		}
		return protocol.NewGemini(spec.Model, protocol.NewGeminiSender(client), opts...), nil

	default:
		return protocol.NewGollm(protocol.GollmConfig{
			Provider: spec.Provider,
			Model:    spec.Model,
			APIKey:   pe.GollmAPIKey,
		}, opts...)
	}
}
