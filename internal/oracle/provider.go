package oracle

import (
	"context"
	"fmt"

	"github.com/dumpsleuth/dumpsleuth/internal/config"
	"github.com/dumpsleuth/dumpsleuth/internal/evidence"
)

// FromConfig builds the reasoning oracle selected by cfg.Provider.
func FromConfig(ctx context.Context, cfg *config.Config) (Oracle, error) {
	switch cfg.Provider {
	case "openai":
		return NewChatOracle(ChatConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
		})
	case "azure":
		if cfg.AzureAPIVer == "" {
			return nil, fmt.Errorf("azure provider requires AZURE_OPENAI_API_VERSION")
		}
		return NewChatOracle(ChatConfig{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			AzureAPIVer: cfg.AzureAPIVer,
		})
	case "ollama":
		base := cfg.BaseURL
		if base == "" {
			base = cfg.OllamaEndpoint + "/v1"
		}
		return NewChatOracle(ChatConfig{
			BaseURL: base,
			APIKey:  "ollama",
			Model:   cfg.Model,
		})
	case "bedrock":
		return NewBedrockOracle(ctx, BedrockConfig{
			ModelID:         cfg.BedrockID,
			Region:          cfg.AWSRegion,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		})
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

// EmbedderFromConfig builds the evidence embedder, or nil when
// embeddings are disabled. Retrieval falls back to keyword scoring
// without one.
func EmbedderFromConfig(ctx context.Context, cfg *config.Config) (evidence.Embedder, error) {
	if !cfg.UseEmbeddings {
		return nil, nil
	}
	switch cfg.EmbedProvider {
	case "gemini":
		return NewGeminiEmbedder(ctx, cfg.GeminiAPIKey, cfg.EmbedModel)
	case "ollama", "":
		return NewOllamaEmbedder(cfg.OllamaEndpoint, cfg.EmbedModel)
	default:
		return nil, fmt.Errorf("unknown embed provider %q", cfg.EmbedProvider)
	}
}
